package reconciler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/client"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/home"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/types"
)

const testUUID = "930e44dd-2cc6-4998-9b79-a2ff9e0fd419"

// fakeBamboo is an in-memory stand-in for the Bamboo control plane.
// Mutating calls change its state the way the real server would and
// are recorded in order.
type fakeBamboo struct {
	pending     []client.PendingAgent
	agents      map[int64]*client.AgentInfo
	assignments map[int64][]client.AgentAssignment
	entities    map[types.AssignmentType][]client.SearchResult

	mutations []string
	failOn    map[string]error

	// onAuthenticate simulates the agent-side reaction to approval,
	// typically rewriting the home directory config file.
	onAuthenticate func(uuid string)
}

func newFakeBamboo() *fakeBamboo {
	return &fakeBamboo{
		agents:      map[int64]*client.AgentInfo{},
		assignments: map[int64][]client.AgentAssignment{},
		entities: map[types.AssignmentType][]client.SearchResult{
			types.AssignmentTypeProject: {
				{Key: "PR", EntityID: 7},
				{Key: "OTHER", EntityID: 8},
			},
			types.AssignmentTypePlan: {
				{Key: "PR-DEPLOY", EntityID: 12},
			},
		},
		failOn: map[string]error{},
	}
}

func (f *fakeBamboo) record(call string) error {
	f.mutations = append(f.mutations, call)
	return f.failOn[call]
}

func (f *fakeBamboo) PendingAgents(ctx context.Context) ([]client.PendingAgent, error) {
	return f.pending, nil
}

func (f *fakeBamboo) AuthenticateAgent(ctx context.Context, uuid string) error {
	if err := f.record("authenticate " + uuid); err != nil {
		return err
	}
	remaining := f.pending[:0]
	for _, p := range f.pending {
		if p.UUID != uuid {
			remaining = append(remaining, p)
		}
	}
	f.pending = remaining
	if f.onAuthenticate != nil {
		f.onAuthenticate(uuid)
	}
	return nil
}

func (f *fakeBamboo) ListAgents(ctx context.Context) ([]client.AgentInfo, error) {
	var agents []client.AgentInfo
	for _, a := range f.agents {
		agents = append(agents, *a)
	}
	return agents, nil
}

func (f *fakeBamboo) GetAgent(ctx context.Context, agentID int64) (*client.AgentInfo, error) {
	a, ok := f.agents[agentID]
	if !ok {
		return nil, &client.Error{Kind: client.KindNotFound, Message: fmt.Sprintf("agent %d not listed", agentID)}
	}
	info := *a
	return &info, nil
}

func (f *fakeBamboo) AgentAssignments(ctx context.Context, agentID int64) ([]client.AgentAssignment, error) {
	return f.assignments[agentID], nil
}

func (f *fakeBamboo) SearchAssignableEntities(ctx context.Context, atype types.AssignmentType) ([]client.SearchResult, error) {
	return f.entities[atype], nil
}

func (f *fakeBamboo) AddAssignment(ctx context.Context, agentID int64, atype types.AssignmentType, entityID int64) error {
	if err := f.record(fmt.Sprintf("add %s %d", atype, entityID)); err != nil {
		return err
	}
	f.assignments[agentID] = append(f.assignments[agentID], client.AgentAssignment{EntityID: entityID, Type: atype})
	return nil
}

func (f *fakeBamboo) RemoveAssignment(ctx context.Context, agentID int64, atype types.AssignmentType, entityID int64) error {
	if err := f.record(fmt.Sprintf("remove %s %d", atype, entityID)); err != nil {
		return err
	}
	remaining := f.assignments[agentID][:0]
	for _, a := range f.assignments[agentID] {
		if a.Type != atype || a.EntityID != entityID {
			remaining = append(remaining, a)
		}
	}
	f.assignments[agentID] = remaining
	return nil
}

func (f *fakeBamboo) SetAgentName(ctx context.Context, agentID int64, name string) error {
	if err := f.record("set name " + name); err != nil {
		return err
	}
	f.agents[agentID].Name = name
	return nil
}

func (f *fakeBamboo) EnableAgent(ctx context.Context, agentID int64) error {
	if err := f.record("enable"); err != nil {
		return err
	}
	f.agents[agentID].Enabled = true
	return nil
}

func (f *fakeBamboo) DisableAgent(ctx context.Context, agentID int64) error {
	if err := f.record("disable"); err != nil {
		return err
	}
	f.agents[agentID].Enabled = false
	return nil
}

func (f *fakeBamboo) RemoveAgent(ctx context.Context, agentID int64) error {
	if err := f.record("remove agent"); err != nil {
		return err
	}
	delete(f.agents, agentID)
	return nil
}

// fakeClock advances virtual time by the slept duration: polls run
// instantly while timeouts still fire.
type fakeClock struct {
	now    time.Time
	sleeps int
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps++
	c.now = c.now.Add(d)
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func newTestReconciler(api BambooAPI) (*Reconciler, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	r := New(api)
	r.sleep = clock.Sleep
	r.now = clock.Now
	return r, clock
}

func writeRegisteredHome(t *testing.T, agentID int64) string {
	t.Helper()
	dir := t.TempDir()
	config := fmt.Sprintf(
		"<?xml version=\"1.0\"?>\n<configuration>\n  <buildWorkingDirectory>%s/xml-data</buildWorkingDirectory>\n  <agentUuid>%s</agentUuid>\n  <id>%d</id>\n</configuration>\n",
		dir, testUUID, agentID,
	)
	require.NoError(t, os.WriteFile(filepath.Join(dir, home.ConfigFileName), []byte(config), 0o644))
	return dir
}

func writePendingHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	props := "#Tue Aug 25 10:15:00 UTC 2026\nagentUuid=" + testUUID + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, home.UUIDTempFileName), []byte(props), 0o644))
	return dir
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func desiredConfig(t *testing.T, dir string) *types.DesiredConfig {
	t.Helper()
	cfg := &types.DesiredConfig{
		Host: "https://bamboo.example.com",
		Home: dir,
		Credentials: types.Credentials{
			User:     "admin",
			Password: "secret",
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func registeredFake(agentID int64) *fakeBamboo {
	fake := newFakeBamboo()
	fake.agents[agentID] = &client.AgentInfo{ID: agentID, Name: "agent-1", Enabled: true, Active: true}
	return fake
}

func TestReconcileAlreadyConverged(t *testing.T) {
	fake := registeredFake(42)
	dir := writeRegisteredHome(t, 42)

	cfg := desiredConfig(t, dir)
	cfg.Name = strPtr("agent-1")
	cfg.Enabled = boolPtr(true)

	r, _ := newTestReconciler(fake)
	result, err := r.Reconcile(context.Background(), cfg, false)
	require.NoError(t, err)

	assert.False(t, result.Changed)
	assert.Empty(t, fake.mutations)
	require.NotNil(t, result.FinalState)
	assert.Equal(t, int64(42), result.FinalState.AgentID)
}

func TestReconcileConverges(t *testing.T) {
	fake := registeredFake(42)
	fake.assignments[42] = []client.AgentAssignment{
		{EntityID: 7, Type: types.AssignmentTypeProject},
	}
	dir := writeRegisteredHome(t, 42)

	cfg := desiredConfig(t, dir)
	cfg.Name = strPtr("builder-7")
	cfg.Enabled = boolPtr(false)
	cfg.Assignments = []types.Assignment{{Type: types.AssignmentTypeProject, Key: "OTHER"}}
	cfg.HasAssignments = true

	r, _ := newTestReconciler(fake)
	result, err := r.Reconcile(context.Background(), cfg, false)
	require.NoError(t, err)

	assert.True(t, result.Changed)
	assert.Equal(t, []string{
		"set name builder-7",
		"disable",
		"remove PROJECT 7",
		"add PROJECT 8",
	}, fake.mutations)

	require.NotNil(t, result.FinalState)
	assert.Equal(t, "builder-7", result.FinalState.Name)
	assert.False(t, result.FinalState.Enabled)
}

func TestReconcileIsIdempotent(t *testing.T) {
	fake := registeredFake(42)
	dir := writeRegisteredHome(t, 42)

	cfg := desiredConfig(t, dir)
	cfg.Name = strPtr("builder-7")
	cfg.Enabled = boolPtr(false)

	r, _ := newTestReconciler(fake)
	first, err := r.Reconcile(context.Background(), cfg, false)
	require.NoError(t, err)
	require.True(t, first.Changed)
	mutationsAfterFirst := len(fake.mutations)

	second, err := r.Reconcile(context.Background(), cfg, false)
	require.NoError(t, err)

	assert.False(t, second.Changed)
	assert.Len(t, fake.mutations, mutationsAfterFirst, "second run must not mutate")
}

func TestReconcileCheckMode(t *testing.T) {
	fake := registeredFake(42)
	dir := writeRegisteredHome(t, 42)

	cfg := desiredConfig(t, dir)
	cfg.Name = strPtr("builder-7")
	cfg.Enabled = boolPtr(false)

	r, _ := newTestReconciler(fake)
	result, err := r.Reconcile(context.Background(), cfg, true)
	require.NoError(t, err)

	assert.True(t, result.Changed)
	assert.Equal(t, []string{
		`set name: "agent-1" -> "builder-7"`,
		"disable agent",
	}, result.Diff)
	assert.Empty(t, fake.mutations)
	assert.Equal(t, "agent-1", fake.agents[42].Name)
}

func TestReconcileCheckModeStillAuthenticates(t *testing.T) {
	fake := newFakeBamboo()
	fake.pending = []client.PendingAgent{{UUID: testUUID, IP: "10.0.0.7"}}
	dir := writePendingHome(t)
	fake.onAuthenticate = func(uuid string) {
		fake.agents[42] = &client.AgentInfo{ID: 42, Name: "agent-1", Enabled: true, Active: true}
		config := fmt.Sprintf("<configuration>\n  <agentUuid>%s</agentUuid>\n  <id>42</id>\n</configuration>\n", uuid)
		_ = os.WriteFile(filepath.Join(dir, home.ConfigFileName), []byte(config), 0o644)
	}

	r, _ := newTestReconciler(fake)
	result, err := r.Reconcile(context.Background(), desiredConfig(t, dir), true)
	require.NoError(t, err)

	assert.False(t, result.Changed)
	assert.Equal(t, []string{"authenticate " + testUUID}, fake.mutations)
}

func TestReconcilePendingAgentIsAuthenticated(t *testing.T) {
	fake := newFakeBamboo()
	fake.pending = []client.PendingAgent{{UUID: testUUID, IP: "10.0.0.7"}}
	dir := writePendingHome(t)
	fake.onAuthenticate = func(uuid string) {
		fake.agents[42] = &client.AgentInfo{ID: 42, Name: "agent-1", Enabled: false, Active: true}
		config := fmt.Sprintf("<configuration>\n  <agentUuid>%s</agentUuid>\n  <id>42</id>\n</configuration>\n", uuid)
		_ = os.WriteFile(filepath.Join(dir, home.ConfigFileName), []byte(config), 0o644)
	}

	cfg := desiredConfig(t, dir)
	cfg.Enabled = boolPtr(true)

	r, _ := newTestReconciler(fake)
	result, err := r.Reconcile(context.Background(), cfg, false)
	require.NoError(t, err)

	assert.True(t, result.Changed)
	assert.Equal(t, []string{"authenticate " + testUUID, "enable"}, fake.mutations)
	assert.True(t, fake.agents[42].Enabled)
}

func TestReconcileAuthenticationTimesOut(t *testing.T) {
	// The config file names agent 42, but the server never lists it.
	fake := newFakeBamboo()
	dir := writeRegisteredHome(t, 42)

	cfg := desiredConfig(t, dir)
	cfg.Timings.AuthenticationTimeout = types.Duration(5 * time.Second)

	r, clock := newTestReconciler(fake)
	_, err := r.Reconcile(context.Background(), cfg, false)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 5*time.Second, timeoutErr.Timeout)
	assert.Greater(t, clock.sleeps, 0)

	var resErr *home.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, home.NotYetVisible, resErr.Reason)
}

func TestReconcileNotInstalled(t *testing.T) {
	fake := newFakeBamboo()
	r, clock := newTestReconciler(fake)

	_, err := r.Reconcile(context.Background(), desiredConfig(t, t.TempDir()), false)

	var resErr *home.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, home.NotInstalled, resErr.Reason)
	assert.Equal(t, 0, clock.sleeps, "a missing installation must fail without retries")
}

func TestReconcileWaitsForIdle(t *testing.T) {
	fake := registeredFake(42)
	fake.agents[42].Busy = true
	dir := writeRegisteredHome(t, 42)

	cfg := desiredConfig(t, dir)
	cfg.Enabled = boolPtr(false)
	cfg.BlockWhileBusy = true
	cfg.Timings.BusyPollingInterval = types.Duration(time.Second)

	r, clock := newTestReconciler(fake)

	// The build finishes after three polls.
	polls := 0
	r.sleep = func(d time.Duration) {
		clock.Sleep(d)
		polls++
		if polls == 3 {
			fake.agents[42].Busy = false
		}
	}

	result, err := r.Reconcile(context.Background(), cfg, false)
	require.NoError(t, err)

	assert.True(t, result.Changed)
	assert.Equal(t, []string{"disable"}, fake.mutations)
	assert.Equal(t, 3, polls)
}

func TestReconcileBusyTimeout(t *testing.T) {
	fake := registeredFake(42)
	fake.agents[42].Busy = true
	dir := writeRegisteredHome(t, 42)

	cfg := desiredConfig(t, dir)
	cfg.Enabled = boolPtr(false)
	cfg.BlockWhileBusy = true
	cfg.Timings.BusyTimeout = types.Duration(5 * time.Minute)
	cfg.Timings.BusyPollingInterval = types.Duration(time.Minute)

	r, _ := newTestReconciler(fake)
	_, err := r.Reconcile(context.Background(), cfg, false)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Empty(t, fake.mutations, "nothing may be applied while the agent stays busy")
	assert.True(t, fake.agents[42].Enabled)
}

func TestReconcilePartialApplication(t *testing.T) {
	fake := registeredFake(42)
	dir := writeRegisteredHome(t, 42)
	fake.failOn["disable"] = &client.Error{Kind: client.KindServerError, StatusCode: 500}

	cfg := desiredConfig(t, dir)
	cfg.Name = strPtr("builder-7")
	cfg.Enabled = boolPtr(false)

	r, _ := newTestReconciler(fake)
	_, err := r.Reconcile(context.Background(), cfg, false)

	var partialErr *PartialApplicationError
	require.ErrorAs(t, err, &partialErr)
	assert.Len(t, partialErr.Applied, 1)
	assert.Len(t, partialErr.Remaining, 1)
	assert.True(t, IsPartialApplication(err))

	// The rename went through before the failure.
	assert.Equal(t, "builder-7", fake.agents[42].Name)
}

func TestReconcileFirstOpFailureIsNotPartial(t *testing.T) {
	fake := registeredFake(42)
	dir := writeRegisteredHome(t, 42)
	fake.failOn["set name builder-7"] = &client.Error{Kind: client.KindServerError, StatusCode: 500}

	cfg := desiredConfig(t, dir)
	cfg.Name = strPtr("builder-7")
	cfg.Enabled = boolPtr(false)

	r, _ := newTestReconciler(fake)
	_, err := r.Reconcile(context.Background(), cfg, false)

	require.Error(t, err)
	assert.False(t, IsPartialApplication(err), "no mutation applied, plain failure expected")
	assert.True(t, client.IsKind(err, client.KindServerError))
}

func TestReconcileVerificationMismatch(t *testing.T) {
	fake := registeredFake(42)
	dir := writeRegisteredHome(t, 42)

	cfg := desiredConfig(t, dir)
	cfg.Name = strPtr("builder-7")

	// The server accepts the rename call but silently keeps the old
	// name.
	r, _ := newTestReconciler(&renameDropper{fakeBamboo: fake})
	_, err := r.Reconcile(context.Background(), cfg, false)

	var verifyErr *VerificationError
	require.ErrorAs(t, err, &verifyErr)
	require.Len(t, verifyErr.Mismatches, 1)
	assert.Contains(t, verifyErr.Mismatches[0], `want "builder-7"`)
}

// renameDropper accepts SetAgentName without applying it.
type renameDropper struct {
	*fakeBamboo
}

func (f *renameDropper) SetAgentName(ctx context.Context, agentID int64, name string) error {
	return f.record("set name " + name)
}

func TestReconcileDelete(t *testing.T) {
	fake := registeredFake(42)
	dir := writeRegisteredHome(t, 42)

	cfg := desiredConfig(t, dir)
	cfg.Deleted = true

	r, _ := newTestReconciler(fake)
	result, err := r.Reconcile(context.Background(), cfg, false)
	require.NoError(t, err)

	assert.True(t, result.Changed)
	assert.True(t, result.Deleted)
	assert.Nil(t, result.FinalState)
	assert.Equal(t, []string{"remove agent"}, fake.mutations)
	assert.NotContains(t, fake.agents, int64(42))
}

func TestReconcileDeleteCheckMode(t *testing.T) {
	fake := registeredFake(42)
	dir := writeRegisteredHome(t, 42)

	cfg := desiredConfig(t, dir)
	cfg.Deleted = true

	r, _ := newTestReconciler(fake)
	result, err := r.Reconcile(context.Background(), cfg, true)
	require.NoError(t, err)

	assert.True(t, result.Changed)
	assert.Equal(t, []string{"delete agent"}, result.Diff)
	assert.Contains(t, fake.agents, int64(42))
}

func TestReconcileUnresolvableAssignmentFailsBeforeApply(t *testing.T) {
	fake := registeredFake(42)
	dir := writeRegisteredHome(t, 42)

	cfg := desiredConfig(t, dir)
	cfg.Enabled = boolPtr(false)
	cfg.Assignments = []types.Assignment{{Type: types.AssignmentTypeProject, Key: "NOPE"}}
	cfg.HasAssignments = true

	r, _ := newTestReconciler(fake)
	_, err := r.Reconcile(context.Background(), cfg, false)

	assert.True(t, client.IsNotFound(err))
	assert.Empty(t, fake.mutations)
}

func TestReconcileContextCancelled(t *testing.T) {
	fake := newFakeBamboo()
	dir := writeRegisteredHome(t, 42)

	ctx, cancel := context.WithCancel(context.Background())
	r, _ := newTestReconciler(fake)
	r.sleep = func(time.Duration) { cancel() }

	_, err := r.Reconcile(ctx, desiredConfig(t, dir), false)
	assert.True(t, errors.Is(err, context.Canceled))
}
