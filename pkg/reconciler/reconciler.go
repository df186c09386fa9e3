package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/client"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/diff"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/home"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/log"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/metrics"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/state"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/types"
)

// authPollInterval paces the wait for an authenticated agent to
// become visible in the server's agent list.
const authPollInterval = time.Second

// BambooAPI is everything the reconciler needs from the Bamboo
// client: identity resolution, state fetching, and the mutations.
type BambooAPI interface {
	home.AgentAPI
	state.API
	AddAssignment(ctx context.Context, agentID int64, atype types.AssignmentType, entityID int64) error
	RemoveAssignment(ctx context.Context, agentID int64, atype types.AssignmentType, entityID int64) error
	SetAgentName(ctx context.Context, agentID int64, name string) error
	EnableAgent(ctx context.Context, agentID int64) error
	DisableAgent(ctx context.Context, agentID int64) error
	RemoveAgent(ctx context.Context, agentID int64) error
}

// Result is the outcome of one reconciliation run.
type Result struct {
	// Changed is true when any operation was needed (check mode) or
	// applied (apply mode).
	Changed bool
	// Diff is the ordered human-readable change report.
	Diff []string
	// FinalState is the post-apply verification snapshot, the
	// pre-apply snapshot in check mode, or nil when the agent was
	// deleted.
	FinalState *types.CurrentState
	// Deleted is true when the agent was removed from the server.
	Deleted bool
}

// Reconciler converges one agent's server-side registration state to
// a desired configuration. One reconciliation run is single-threaded
// and owns all of its state; concurrent runs against the same agent
// are not coordinated and must be serialized by the caller.
type Reconciler struct {
	api    BambooAPI
	sleep  func(time.Duration)
	now    func() time.Time
	logger zerolog.Logger
}

// New creates a reconciler using wall-clock time.
func New(api BambooAPI) *Reconciler {
	return &Reconciler{
		api:    api,
		sleep:  time.Sleep,
		now:    time.Now,
		logger: log.WithComponent("reconciler"),
	}
}

// Reconcile resolves the agent identity, fetches current state,
// computes the diff and, unless checkMode is set, applies it and
// verifies the outcome.
//
// Check mode stops after the diff. The one intentional exception to
// its purity: a pending agent is still authenticated, because no
// state is observable for an unauthenticated agent.
func (r *Reconciler) Reconcile(ctx context.Context, desired *types.DesiredConfig, checkMode bool) (result *Result, err error) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileRunsTotal.WithLabelValues(outcome(result, err)).Inc()
	}()

	identity, err := r.resolveIdentity(ctx, desired)
	if err != nil {
		return nil, err
	}
	r.logger.Debug().Stringer("identity", identity).Msg("identity resolved")

	fetcher := state.NewFetcher(r.api)
	current, resolved, err := fetcher.Fetch(ctx, identity.AgentID, desired.Assignments)
	if err != nil {
		return nil, err
	}

	ops := diff.Compute(diff.Input{Desired: desired, Resolved: resolved, Current: current})
	report := diff.Describe(ops)

	if checkMode {
		return &Result{Changed: len(ops) > 0, Diff: report, FinalState: current}, nil
	}

	if len(ops) == 0 {
		r.logger.Info().Msg("already converged, nothing to do")
		return &Result{Changed: false, FinalState: current}, nil
	}

	if err := r.applyAll(ctx, identity.AgentID, desired.Timings, ops); err != nil {
		return nil, err
	}

	final, err := r.verify(ctx, fetcher, identity.AgentID, desired)
	if err != nil {
		return nil, err
	}

	return &Result{
		Changed:    true,
		Diff:       report,
		FinalState: final,
		Deleted:    desired.Deleted,
	}, nil
}

func outcome(result *Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case result != nil && result.Changed:
		return "changed"
	default:
		return "unchanged"
	}
}

// resolveIdentity wraps the resolver in a bounded poll: a pending
// agent that authenticated may take a while to show up in the agent
// list, and a freshly installed agent may not be in the pending list
// yet. Both surface as retryable NotYetVisible failures.
func (r *Reconciler) resolveIdentity(ctx context.Context, desired *types.DesiredConfig) (home.Identity, error) {
	resolver := home.NewResolver(desired.Home, r.api)

	var identity home.Identity
	err := r.poll(ctx, "agent not available after authentication",
		desired.Timings.AuthenticationTimeout.Duration(), authPollInterval,
		home.IsRetryable,
		func(ctx context.Context) error {
			resolvedIdentity, err := resolver.Resolve(ctx)
			if err != nil {
				return err
			}
			identity = resolvedIdentity
			return nil
		})
	if err != nil {
		return home.Identity{}, err
	}
	return identity, nil
}

// applyAll executes operations in order. The first failure aborts the
// sequence; applied operations are not rolled back but reported, so
// operators can tell drifted state from untouched state.
func (r *Reconciler) applyAll(ctx context.Context, agentID int64, timings types.Timings, ops []diff.Operation) error {
	var applied []diff.Operation
	for i, op := range ops {
		if err := r.apply(ctx, agentID, timings, op); err != nil {
			if len(applied) == 0 {
				return err
			}
			return &PartialApplicationError{
				Applied:   applied,
				Remaining: ops[i:],
				Err:       err,
			}
		}
		if op.Kind != diff.KindWaitForIdle {
			applied = append(applied, op)
			metrics.ChangesAppliedTotal.WithLabelValues(string(op.Kind)).Inc()
		}
		r.logger.Info().Str("operation", op.Describe()).Msg("applied")
	}
	return nil
}

var errAgentBusy = errors.New("agent busy")

func (r *Reconciler) apply(ctx context.Context, agentID int64, timings types.Timings, op diff.Operation) error {
	switch op.Kind {
	case diff.KindWaitForIdle:
		return r.waitForIdle(ctx, agentID, op.Timeout, timings.BusyPollingInterval.Duration())
	case diff.KindSetName:
		return r.api.SetAgentName(ctx, agentID, op.NameTo)
	case diff.KindSetEnabled:
		if op.Enabled {
			return r.api.EnableAgent(ctx, agentID)
		}
		return r.api.DisableAgent(ctx, agentID)
	case diff.KindAddAssignment:
		return r.api.AddAssignment(ctx, agentID, op.Assignment.Type, op.Assignment.EntityID)
	case diff.KindRemoveAssignment:
		return r.api.RemoveAssignment(ctx, agentID, op.Assignment.Type, op.Assignment.EntityID)
	case diff.KindDeleteAgent:
		return r.api.RemoveAgent(ctx, agentID)
	}
	return fmt.Errorf("unknown operation kind %q", op.Kind)
}

// waitForIdle polls the busy flag until it clears. There is no push
// notification from the server; polling is the only option.
func (r *Reconciler) waitForIdle(ctx context.Context, agentID int64, timeout, interval time.Duration) error {
	return r.poll(ctx, "agent busy", timeout, interval,
		func(err error) bool { return errors.Is(err, errAgentBusy) },
		func(ctx context.Context) error {
			metrics.BusyPollsTotal.Inc()
			info, err := r.api.GetAgent(ctx, agentID)
			if err != nil {
				return err
			}
			if info.Busy {
				return errAgentBusy
			}
			return nil
		})
}

// verify re-fetches the relevant fields after a successful apply and
// confirms they match the desired values. The server is eventually
// consistent in places; a mismatch here means the API accepted the
// calls but the state did not converge.
func (r *Reconciler) verify(ctx context.Context, fetcher *state.Fetcher, agentID int64, desired *types.DesiredConfig) (*types.CurrentState, error) {
	if desired.Deleted {
		_, err := r.api.GetAgent(ctx, agentID)
		if client.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return nil, &VerificationError{Mismatches: []string{
			fmt.Sprintf("agent %d still listed after deletion", agentID),
		}}
	}

	final, resolved, err := fetcher.Fetch(ctx, agentID, desired.Assignments)
	if err != nil {
		return nil, err
	}

	var mismatches []string
	if desired.Name != nil && final.Name != *desired.Name {
		mismatches = append(mismatches, fmt.Sprintf("name is %q, want %q", final.Name, *desired.Name))
	}
	if desired.Enabled != nil && final.Enabled != *desired.Enabled {
		mismatches = append(mismatches, fmt.Sprintf("enabled is %t, want %t", final.Enabled, *desired.Enabled))
	}
	if desired.HasAssignments {
		mismatches = append(mismatches, assignmentMismatches(resolved, final.Assignments)...)
	}
	if len(mismatches) > 0 {
		return nil, &VerificationError{Mismatches: mismatches}
	}
	return final, nil
}

// assignmentMismatches reports the symmetric difference between the
// desired (resolved) and observed assignment sets.
func assignmentMismatches(desired, observed []types.AssignmentRecord) []string {
	type member struct {
		atype types.AssignmentType
		id    int64
	}
	desiredSet := make(map[member]bool, len(desired))
	for _, d := range desired {
		desiredSet[member{d.Type, d.EntityID}] = true
	}
	observedSet := make(map[member]bool, len(observed))
	for _, o := range observed {
		observedSet[member{o.Type, o.EntityID}] = true
	}

	var out []string
	for _, d := range desired {
		if !observedSet[member{d.Type, d.EntityID}] {
			out = append(out, fmt.Sprintf("assignment %s missing", d))
		}
	}
	for _, o := range observed {
		if !desiredSet[member{o.Type, o.EntityID}] {
			out = append(out, fmt.Sprintf("assignment %s not removed", o))
		}
	}
	return out
}
