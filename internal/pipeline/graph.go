package pipeline

import (
	"errors"
	"fmt"
	"sort"
)

// Router picks the next route key after a stage ran. The key is resolved
// through the routes map given to AddConditionalEdges.
type Router func(s State) (string, error)

// StageOption configures a stage when it is added to a Graph.
type StageOption func(*node)

// Consolidation marks a stage whose Replace outcomes overwrite the findings.
func Consolidation() StageOption {
	return func(n *node) { n.consolidation = true }
}

// When attaches a CEL guard. A stage whose guard is false is skipped.
// Empty expressions are ignored.
func When(expr string) StageOption {
	return func(n *node) { n.when = expr }
}

type node struct {
	stage         Stage
	consolidation bool
	when          string
	guard         *Guard
}

type edge struct {
	to     string
	router Router
	routes map[string]string
}

func (e edge) targets() []string {
	if e.router == nil {
		return []string{e.to}
	}
	out := make([]string, 0, len(e.routes))
	for _, to := range e.routes {
		out = append(out, to)
	}
	sort.Strings(out)
	return out
}

// Graph is the mutable description of a pipeline. Build it in one
// goroutine, then call Compile.
type Graph struct {
	nodes    map[string]*node
	order    []string
	edges    map[string]edge
	entry    string
	terminal string
	errs     []error
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*node),
		edges: make(map[string]edge),
	}
}

// AddStage registers a stage under its name.
func (g *Graph) AddStage(s Stage, opts ...StageOption) *Graph {
	if s == nil {
		g.errs = append(g.errs, errors.New("nil stage"))
		return g
	}
	name := s.Name()
	if name == "" {
		g.errs = append(g.errs, errors.New("stage with empty name"))
		return g
	}
	if _, ok := g.nodes[name]; ok {
		g.errs = append(g.errs, fmt.Errorf("duplicate stage %q", name))
		return g
	}
	n := &node{stage: s}
	for _, opt := range opts {
		opt(n)
	}
	g.nodes[name] = n
	g.order = append(g.order, name)
	return g
}

// HasStage reports whether name was added.
func (g *Graph) HasStage(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// SetEntry names the first stage.
func (g *Graph) SetEntry(name string) *Graph {
	g.entry = name
	return g
}

// SetTerminal names the stage that always runs last.
func (g *Graph) SetTerminal(name string) *Graph {
	g.terminal = name
	return g
}

// AddEdge adds an unconditional edge.
func (g *Graph) AddEdge(from, to string) *Graph {
	return g.addEdge(from, edge{to: to})
}

// AddConditionalEdges routes from a stage by calling router after it ran.
func (g *Graph) AddConditionalEdges(from string, router Router, routes map[string]string) *Graph {
	if router == nil {
		g.errs = append(g.errs, fmt.Errorf("nil router on %q", from))
		return g
	}
	if len(routes) == 0 {
		g.errs = append(g.errs, fmt.Errorf("no routes on %q", from))
		return g
	}
	cp := make(map[string]string, len(routes))
	for k, v := range routes {
		cp[k] = v
	}
	return g.addEdge(from, edge{router: router, routes: cp})
}

func (g *Graph) addEdge(from string, e edge) *Graph {
	if _, ok := g.edges[from]; ok {
		g.errs = append(g.errs, fmt.Errorf("stage %q already has an outgoing edge", from))
		return g
	}
	g.edges[from] = e
	return g
}

// Compile validates the graph and returns a runnable pipeline.
//
// Every edge endpoint must name a stage, entry and terminal must be set,
// the terminal must have no outgoing edge and no guard, and the graph must
// be acyclic. Stages with no outgoing edge continue to the terminal.
func (g *Graph) Compile(opts ...Option) (*Pipeline, error) {
	errs := append([]error(nil), g.errs...)

	if g.entry == "" {
		errs = append(errs, errors.New("entry stage not set"))
	} else if !g.HasStage(g.entry) {
		errs = append(errs, fmt.Errorf("entry stage %q not found", g.entry))
	}
	if g.terminal == "" {
		errs = append(errs, errors.New("terminal stage not set"))
	} else if !g.HasStage(g.terminal) {
		errs = append(errs, fmt.Errorf("terminal stage %q not found", g.terminal))
	}
	if _, ok := g.edges[g.terminal]; ok && g.terminal != "" {
		errs = append(errs, fmt.Errorf("terminal stage %q has an outgoing edge", g.terminal))
	}

	froms := make([]string, 0, len(g.edges))
	for from := range g.edges {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		if !g.HasStage(from) {
			errs = append(errs, fmt.Errorf("edge from unknown stage %q", from))
		}
		for _, to := range g.edges[from].targets() {
			if !g.HasStage(to) {
				errs = append(errs, fmt.Errorf("edge %q -> %q: unknown stage", from, to))
			}
		}
	}

	nodes := make(map[string]*node, len(g.nodes))
	for _, name := range g.order {
		n := *g.nodes[name]
		if n.when != "" {
			if name == g.terminal {
				errs = append(errs, fmt.Errorf("terminal stage %q cannot be guarded", name))
			} else {
				guard, err := CompileGuard(n.when)
				if err != nil {
					errs = append(errs, fmt.Errorf("stage %q: %w", name, err))
				}
				n.guard = guard
			}
		}
		nodes[name] = &n
	}

	if cycle := g.findCycle(); cycle != nil {
		errs = append(errs, fmt.Errorf("cycle detected: %v", cycle))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid pipeline graph: %w", errors.Join(errs...))
	}

	edges := make(map[string]edge, len(g.edges))
	for k, v := range g.edges {
		edges[k] = v
	}
	p := &Pipeline{
		nodes:    nodes,
		order:    append([]string(nil), g.order...),
		edges:    edges,
		entry:    g.entry,
		terminal: g.terminal,
	}
	p.applyOptions(opts)
	return p, nil
}

// findCycle returns the stage names forming a cycle, or nil.
func (g *Graph) findCycle() []string {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(g.nodes))
	var stack []string
	var cycle []string

	var visit func(name string) bool
	visit = func(name string) bool {
		switch state[name] {
		case inProgress:
			for i, s := range stack {
				if s == name {
					cycle = append(append([]string(nil), stack[i:]...), name)
					break
				}
			}
			return true
		case done:
			return false
		}
		state[name] = inProgress
		stack = append(stack, name)
		if e, ok := g.edges[name]; ok {
			for _, to := range e.targets() {
				if visit(to) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[name] = done
		return false
	}

	for _, name := range g.order {
		if visit(name) {
			return cycle
		}
	}
	return nil
}
