package state

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/client"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/log"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/types"
)

// API is the slice of the Bamboo client the fetcher needs.
type API interface {
	GetAgent(ctx context.Context, agentID int64) (*client.AgentInfo, error)
	AgentAssignments(ctx context.Context, agentID int64) ([]client.AgentAssignment, error)
	SearchAssignableEntities(ctx context.Context, atype types.AssignmentType) ([]client.SearchResult, error)
}

// Fetcher builds the current-state snapshot for a registered agent.
type Fetcher struct {
	api    API
	logger zerolog.Logger
}

// NewFetcher creates a fetcher.
func NewFetcher(api API) *Fetcher {
	return &Fetcher{
		api:    api,
		logger: log.WithComponent("state"),
	}
}

// Fetch retrieves the agent's attributes and assignment set, and
// resolves the desired assignment keys to server entity IDs. The
// assignable-entity search is only issued when desired assignments
// exist; a desired key absent from the search results is a
// configuration error surfaced as a not-found failure.
func (f *Fetcher) Fetch(ctx context.Context, agentID int64, desired []types.Assignment) (*types.CurrentState, []types.AssignmentRecord, error) {
	info, err := f.api.GetAgent(ctx, agentID)
	if err != nil {
		return nil, nil, err
	}

	assignments, err := f.api.AgentAssignments(ctx, agentID)
	if err != nil {
		return nil, nil, err
	}

	current := &types.CurrentState{
		AgentID: info.ID,
		Name:    info.Name,
		Enabled: info.Enabled,
		Busy:    info.Busy,
		Active:  info.Active,
	}
	for _, a := range assignments {
		current.Assignments = append(current.Assignments, types.AssignmentRecord{
			Type:     a.Type,
			EntityID: a.EntityID,
		})
	}

	resolved, err := f.resolveDesired(ctx, desired, current)
	if err != nil {
		return nil, nil, err
	}

	f.logger.Debug().
		Int64("agent_id", agentID).
		Str("name", current.Name).
		Bool("enabled", current.Enabled).
		Bool("busy", current.Busy).
		Int("assignments", len(current.Assignments)).
		Msg("fetched current state")

	return current, resolved, nil
}

// resolveDesired maps each desired {type, key} pair to the server's
// entity ID and back-fills keys of current assignment records where
// the search results allow, so the diff report stays human readable.
func (f *Fetcher) resolveDesired(ctx context.Context, desired []types.Assignment, current *types.CurrentState) ([]types.AssignmentRecord, error) {
	if len(desired) == 0 {
		return nil, nil
	}

	searched := make(map[types.AssignmentType]map[string]int64)
	for _, d := range desired {
		if _, ok := searched[d.Type]; ok {
			continue
		}
		results, err := f.api.SearchAssignableEntities(ctx, d.Type)
		if err != nil {
			return nil, err
		}
		byKey := make(map[string]int64, len(results))
		for _, r := range results {
			byKey[r.Key] = r.EntityID
		}
		searched[d.Type] = byKey
	}

	resolved := make([]types.AssignmentRecord, 0, len(desired))
	for _, d := range desired {
		entityID, ok := searched[d.Type][d.Key]
		if !ok {
			return nil, &client.Error{
				Kind:    client.KindNotFound,
				Message: fmt.Sprintf("assignment %s not found", d),
			}
		}
		resolved = append(resolved, types.AssignmentRecord{
			Type:     d.Type,
			Key:      d.Key,
			EntityID: entityID,
		})
	}

	for i, rec := range current.Assignments {
		if rec.Key != "" {
			continue
		}
		for key, id := range searched[rec.Type] {
			if id == rec.EntityID {
				current.Assignments[i].Key = key
				break
			}
		}
	}

	return resolved, nil
}
