/*
Package types defines the domain types shared across the reconciler:
the operator-declared desired configuration, the server-side current
state snapshot, and the assignment vocabulary.

# Core Types

DesiredConfig:
  - Parsed from the operator's YAML document (LoadDesiredConfig)
  - Optional fields (Name, Enabled, Assignments) are pointers or carry
    a presence flag; unset fields are left unmanaged
  - Assignments is a complete desired set: set-replacement, not union

CurrentState:
  - Snapshot of name/enabled/busy plus the resolved assignment set
  - Ephemeral, recomputed on every reconciliation run

Timings:
  - HTTP timeout, authentication wait bound, busy-wait bound and
    polling interval; YAML durations via the Duration wrapper

# Usage

	cfg, err := types.LoadDesiredConfig("agent.yaml")
	if err != nil {
		log.Fatal(err.Error())
	}
	if cfg.Enabled != nil && *cfg.Enabled {
		// agent should end up enabled
	}

Secrets can be kept out of the file by setting BAMBOO_PASSWORD in the
environment; it overrides credentials.password when present.
*/
package types
