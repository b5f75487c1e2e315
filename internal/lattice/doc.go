// Package lattice provides the timestamp algebra used by traces.
//
// Trace times are partially ordered: two times may be incomparable. Every
// time type must also form a lattice, so any two times have a greatest lower
// bound (Meet) and a least upper bound (Join). Frontiers are represented as
// antichains, sets of mutually incomparable times.
//
// Time types additionally expose a total order (Compare) that extends the
// partial order. Traces use it to keep per-value time lists sorted; it carries
// no meaning beyond a deterministic layout.
//
// The zero value of every time type is its minimum element.
package lattice
