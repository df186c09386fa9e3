/*
Package state fetches the server-side snapshot of a registered agent:
name, enabled flag, busy flag and the current assignment set.

When the desired configuration manages assignments, the fetcher also
resolves each desired {type, key} pair to the server's internal
entity ID through the assignable-entity search. A key the search
cannot resolve is a configuration error and aborts the run before any
change is computed; it is never silently skipped.

Snapshots are ephemeral: one Fetch per reconciliation pass, nothing
cached across runs.
*/
package state
