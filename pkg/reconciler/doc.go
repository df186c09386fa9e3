/*
Package reconciler orchestrates the convergence of one bamboo agent's
server-side registration state to an operator-declared desired
configuration.

# State Machine

A run moves through:

	Start → IdentityResolved → StateFetched → Diffed
	      → NoOp                    (empty diff)
	      → Applying → Verified     (apply mode)

with failure possible at every step. Check mode always stops at
Diffed and reports whether operations would be needed.

Identity resolution and the busy wait are the two polling loops:

  - A pending agent not yet visible to the server, or an
    authenticated agent not yet listed, is retried at a fixed 1s
    interval bounded by timings.authenticationTimeout.
  - WaitForIdle re-queries the busy flag at
    timings.busyPollingInterval bounded by timings.busyTimeout
    (zero = unbounded).

Both loops use injected sleep/clock functions, so tests drive them
without wall-clock delay.

# Error Reporting

Failures keep their class: *TimeoutError for an exhausted poll,
*VerificationError when the re-fetched state does not match desired
despite successful API calls, and *PartialApplicationError when some
operations were applied before one failed. Partial application is
never rolled back (assignment removal is not safely reversible), but
the applied and remaining operations are both reported so the caller
can distinguish "nothing changed, retry freely" from "state drifted".

# Concurrency

A run is strictly sequential and holds no shared state. The server is
the only shared resource and this package assumes it is the sole
writer for the agent's fields during a run; callers must serialize
runs per agent.
*/
package reconciler
