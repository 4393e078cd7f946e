// Package engine implements the lazy, memoized resolver at the heart of
// LazyGraph: a depth-first walk of a schema node tree in lock-step with a
// query path, deriving rule-bearing values on demand in dependency order.
//
// # Overview
//
// A query enters through the Context façade, which binds one input
// document to a shared, immutable graph. Evaluation is designed to:
//   - Touch only the slice of the document the query names; everything
//     else stays unevaluated.
//   - Derive each rule-bearing value at most once per query, caching by
//     container identity rather than content.
//   - Detect rule cycles and convert them into Missing values instead of
//     unbounded recursion.
//   - Keep the shared graph free of per-query state so it can serve many
//     goroutines at once.
//
// # Evaluation Model
//
// The resolver works over three kinds of state:
//   - Frames: mutable containers (maps and slices) from the deep-copied
//     input document. Coerced and derived values are interned back into
//     frames so repeated access is O(1).
//   - Stack pointers: upward-linked frame handles recording how each
//     frame was entered. Dependency paths resolve relative to ancestor
//     frames through them; pointers are pool-recycled and released on
//     every exit path.
//   - The evaluation record: per-query memo tables, the in-flight
//     derivation stack used for cycle detection, and the debug trace.
//
// resolve(node, path, stack) dispatches on the node kind. Object nodes
// fetch declared properties, fall back to pattern properties, and
// synthesize ad-hoc nodes for input keys the schema does not declare.
// Array nodes index, slice, or project over elements. An empty remaining
// path forces evaluation of every non-simple descendant and returns the
// coerced container itself.
//
// # Fetch and Derivation
//
// fetchAndResolve is the single path every value passes through. A
// present value is coerced to the node's type and interned. An absent
// value either takes the node's default or, for rule-bearing nodes, is
// derived: inputs resolve relative to the owning frame (walking up as
// bound at build time, materializing dynamic index segments first),
// gating conditions are checked, and the calc runs over the bound inputs.
// A calc failure is confined to its node: the error is recorded in the
// trace and the value becomes Missing. Only AbortError and
// ValidationError escape to the top of the query.
//
// # Cycle Detection
//
// Each in-flight derivation is keyed by (node, container, key). Re-entry
// past the recursion depth bound yields Missing with an
// "Infinite Recursion Detected" trace entry, so cyclic rule graphs
// terminate in time proportional to the bound times the cycle length.
//
// # Projection
//
// Identity-mode queries return the actual container or scalar at the
// leaf. Traversing a bracketed group switches to preserve-keys mode: a
// fresh insertion-ordered mapping keyed by the group options, merged
// left to right. GetJSON additionally strips Missing values and
// invisible fields and replaces cyclic references with a sentinel.
package engine
