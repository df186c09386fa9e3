package diff

import (
	"fmt"
	"sort"
	"time"

	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/types"
)

// Kind identifies a change operation.
type Kind string

const (
	KindSetName          Kind = "set_name"
	KindSetEnabled       Kind = "set_enabled"
	KindAddAssignment    Kind = "add_assignment"
	KindRemoveAssignment Kind = "remove_assignment"
	KindWaitForIdle      Kind = "wait_for_idle"
	KindDeleteAgent      Kind = "delete_agent"
)

// Operation is one change needed to converge the server to the
// desired configuration. Only the fields relevant for the Kind are
// set.
type Operation struct {
	Kind Kind

	// SetName
	NameFrom string
	NameTo   string

	// SetEnabled
	Enabled bool

	// AddAssignment / RemoveAssignment
	Assignment types.AssignmentRecord

	// WaitForIdle; zero means wait without bound
	Timeout time.Duration
}

// Disruptive reports whether applying the operation can interfere
// with a build running on the agent.
func (op Operation) Disruptive() bool {
	switch op.Kind {
	case KindSetEnabled, KindAddAssignment, KindRemoveAssignment, KindDeleteAgent:
		return true
	}
	return false
}

// Describe renders the operation for the change report.
func (op Operation) Describe() string {
	switch op.Kind {
	case KindSetName:
		return fmt.Sprintf("set name: %q -> %q", op.NameFrom, op.NameTo)
	case KindSetEnabled:
		if op.Enabled {
			return "enable agent"
		}
		return "disable agent"
	case KindAddAssignment:
		return fmt.Sprintf("add assignment: %s", op.Assignment)
	case KindRemoveAssignment:
		return fmt.Sprintf("remove assignment: %s", op.Assignment)
	case KindWaitForIdle:
		if op.Timeout == 0 {
			return "wait for idle"
		}
		return fmt.Sprintf("wait for idle (timeout %s)", op.Timeout)
	case KindDeleteAgent:
		return "delete agent"
	}
	return string(op.Kind)
}

// Input bundles everything Compute needs: the desired configuration,
// the desired assignments resolved to entity IDs, and the fetched
// current state.
type Input struct {
	Desired  *types.DesiredConfig
	Resolved []types.AssignmentRecord
	Current  *types.CurrentState
}

// Compute derives the ordered operation list converging current to
// desired. It is pure and deterministic: identical inputs produce an
// identical sequence, and an operation is never emitted when the
// current value already matches.
//
// Order: SetName, SetEnabled, removals, additions, DeleteAgent.
// Removals precede additions so an exclusively-assigned agent never
// transiently holds both sets. When BlockWhileBusy is set, a
// WaitForIdle is inserted immediately before the first disruptive
// operation.
func Compute(in Input) []Operation {
	var ops []Operation

	if in.Desired.Name != nil && *in.Desired.Name != in.Current.Name {
		ops = append(ops, Operation{
			Kind:     KindSetName,
			NameFrom: in.Current.Name,
			NameTo:   *in.Desired.Name,
		})
	}

	if in.Desired.Enabled != nil && *in.Desired.Enabled != in.Current.Enabled {
		ops = append(ops, Operation{Kind: KindSetEnabled, Enabled: *in.Desired.Enabled})
	}

	if in.Desired.HasAssignments {
		ops = append(ops, assignmentOps(in.Resolved, in.Current.Assignments)...)
	}

	if in.Desired.Deleted {
		ops = append(ops, Operation{Kind: KindDeleteAgent})
	}

	if in.Desired.BlockWhileBusy {
		ops = insertWaitForIdle(ops, in.Desired.Timings.BusyTimeout.Duration())
	}

	return ops
}

// assignmentOps computes the set difference by {type, entityId},
// removals first, each group ordered by entity key.
func assignmentOps(desired, current []types.AssignmentRecord) []Operation {
	type member struct {
		atype types.AssignmentType
		id    int64
	}

	desiredSet := make(map[member]bool, len(desired))
	for _, d := range desired {
		desiredSet[member{d.Type, d.EntityID}] = true
	}
	currentSet := make(map[member]bool, len(current))
	for _, c := range current {
		currentSet[member{c.Type, c.EntityID}] = true
	}

	var toRemove, toAdd []types.AssignmentRecord
	for _, c := range current {
		if !desiredSet[member{c.Type, c.EntityID}] {
			toRemove = append(toRemove, c)
		}
	}
	for _, d := range desired {
		if !currentSet[member{d.Type, d.EntityID}] {
			toAdd = append(toAdd, d)
		}
	}

	sortRecords(toRemove)
	sortRecords(toAdd)

	ops := make([]Operation, 0, len(toRemove)+len(toAdd))
	for _, r := range toRemove {
		ops = append(ops, Operation{Kind: KindRemoveAssignment, Assignment: r})
	}
	for _, a := range toAdd {
		ops = append(ops, Operation{Kind: KindAddAssignment, Assignment: a})
	}
	return ops
}

// sortRecords orders by key, falling back to entity ID for records
// whose key could not be recovered.
func sortRecords(records []types.AssignmentRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].Key != records[j].Key {
			return records[i].Key < records[j].Key
		}
		if records[i].Type != records[j].Type {
			return records[i].Type < records[j].Type
		}
		return records[i].EntityID < records[j].EntityID
	})
}

// insertWaitForIdle places a WaitForIdle before the first disruptive
// operation. No disruptive operation, no wait.
func insertWaitForIdle(ops []Operation, timeout time.Duration) []Operation {
	for i, op := range ops {
		if op.Disruptive() {
			out := make([]Operation, 0, len(ops)+1)
			out = append(out, ops[:i]...)
			out = append(out, Operation{Kind: KindWaitForIdle, Timeout: timeout})
			out = append(out, ops[i:]...)
			return out
		}
	}
	return ops
}

// Describe renders the full change report, one line per operation.
func Describe(ops []Operation) []string {
	lines := make([]string, len(ops))
	for i, op := range ops {
		lines[i] = op.Describe()
	}
	return lines
}
