// Package condition compiles and evaluates boolean condition trees over a
// device snapshot.
//
// A tree is built from groups and leaves:
//
//	all ─┬─ threshold(temp gt 60, hysteresis 2)
//	     └─ not ── difference(|supply-return| lt 1, debounce 30s)
//
// Leaves compare one quantity (a parameter, the difference of two, an
// aggregate over several, or a schedule window) against a threshold. Groups
// short-circuit and carry no state.
//
// Compiled trees are immutable and can be shared. Hysteresis latches and
// debounce timers belong to the rule that evaluates a tree and are kept by
// the Evaluator in a table keyed by (rule id, leaf id). Leaf ids are the
// leaf's path from the root, e.g. "0.1.0".
package condition
