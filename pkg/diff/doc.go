/*
Package diff computes the ordered list of change operations needed to
converge an agent's server-side state to the operator's desired
configuration.

Compute is a pure function over (desired, current): no I/O, no
failure mode, byte-identical output for identical inputs. Operations
restating the current value are never emitted, which is what makes a
repeated run against a converged server a guaranteed no-op.

Assignment handling is set-replacement: desired \ current is added,
current \ desired is removed, removals strictly before additions.
Operations within each group are ordered by entity key so the change
report is stable across runs.
*/
package diff
