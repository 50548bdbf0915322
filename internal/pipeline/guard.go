package pipeline

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/dshills/gauntlet/internal/review"
)

// Guard variables available to `when` expressions.
const (
	GuardFileCount        = "file_count"
	GuardLanguages        = "languages"
	GuardFindingCount     = "finding_count"
	GuardToolFindingCount = "tool_finding_count"
	GuardErrorCount       = "error_count"
)

// Guard is a compiled boolean CEL expression evaluated before a stage runs.
type Guard struct {
	expr string
	prg  cel.Program
}

func guardEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable(GuardFileCount, cel.IntType),
		cel.Variable(GuardLanguages, cel.ListType(cel.StringType)),
		cel.Variable(GuardFindingCount, cel.IntType),
		cel.Variable(GuardToolFindingCount, cel.IntType),
		cel.Variable(GuardErrorCount, cel.IntType),
	)
}

// CompileGuard parses and type-checks expr. The expression must yield a bool.
func CompileGuard(expr string) (*Guard, error) {
	env, err := guardEnv()
	if err != nil {
		return nil, fmt.Errorf("guard environment: %w", err)
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compiling guard %q: %w", expr, iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("guard %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("building guard %q: %w", expr, err)
	}
	return &Guard{expr: expr, prg: prg}, nil
}

// String returns the source expression.
func (g *Guard) String() string { return g.expr }

// Eval evaluates the guard against s.
func (g *Guard) Eval(s State) (bool, error) {
	langs := review.Languages(s.Files)
	if langs == nil {
		langs = []string{}
	}
	out, _, err := g.prg.Eval(map[string]any{
		GuardFileCount:        int64(len(s.Files)),
		GuardLanguages:        langs,
		GuardFindingCount:     int64(len(s.Findings)),
		GuardToolFindingCount: int64(s.ToolResults.Count()),
		GuardErrorCount:       int64(len(s.Errors)),
	})
	if err != nil {
		return false, fmt.Errorf("evaluating guard %q: %w", g.expr, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("guard %q returned %T", g.expr, out.Value())
	}
	return b, nil
}
