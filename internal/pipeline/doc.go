// Package pipeline runs analysis stages over a stage graph.
//
// A [Graph] names an entry stage, a terminal stage and the edges between
// them; conditional edges pick their successor with a [Router]. The
// compiled [Pipeline] walks the graph one stage at a time, handing each
// stage a copy of the accumulated [State] and merging the [Outcome] it
// returns. Stage errors and panics are recorded in State.Errors and the
// walk continues, so [Pipeline.Run] always reaches the terminal stage and
// always returns a report.
package pipeline
