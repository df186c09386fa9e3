package home

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/client"
	"github.com/stefanhoelzl/bamboo-agent-reconciler/pkg/log"
)

// AgentAPI is the slice of the Bamboo client the resolver needs.
type AgentAPI interface {
	PendingAgents(ctx context.Context) ([]client.PendingAgent, error)
	AuthenticateAgent(ctx context.Context, uuid string) error
	ListAgents(ctx context.Context) ([]client.AgentInfo, error)
}

// Resolver turns the local installation markers into a registered
// agent identity, performing the authentication handshake when the
// agent is still pending.
type Resolver struct {
	dir    string
	api    AgentAPI
	logger zerolog.Logger
}

// NewResolver creates a resolver for the given agent home directory.
func NewResolver(dir string, api AgentAPI) *Resolver {
	return &Resolver{
		dir:    dir,
		api:    api,
		logger: log.WithComponent("resolver"),
	}
}

// Resolve performs one resolution pass and returns a registered
// identity or a *ResolutionError. A NotYetVisible error means the
// server has not caught up yet; callers retry Resolve with a bounded
// poll. Authenticating a pending agent mutates server state; this
// happens even when the surrounding run is a dry run, since no state
// is observable for an unauthenticated agent.
func (r *Resolver) Resolve(ctx context.Context) (Identity, error) {
	identity, err := ReadIdentity(r.dir)
	if err != nil {
		return Identity{}, err
	}

	if identity.UUID != "" {
		pending, err := r.api.PendingAgents(ctx)
		if err != nil {
			return Identity{}, err
		}
		if containsUUID(pending, identity.UUID) {
			r.logger.Info().Str("uuid", identity.UUID).Msg("authenticating pending agent")
			if err := r.api.AuthenticateAgent(ctx, identity.UUID); err != nil {
				return Identity{}, &ResolutionError{Reason: AuthFailed, Home: r.dir, Err: err}
			}
			// The agent rewrites its config file with the assigned ID
			// once it observes the approval; fall through and check
			// whether that already happened.
			identity, err = ReadIdentity(r.dir)
			if err != nil {
				return Identity{}, err
			}
		}
	}

	if !identity.Registered() {
		return Identity{}, &ResolutionError{Reason: NotYetVisible, Home: r.dir}
	}

	// The ID from the config file must also be visible in the agent
	// list before any state can be fetched for it.
	agents, err := r.api.ListAgents(ctx)
	if err != nil {
		return Identity{}, err
	}
	for _, agent := range agents {
		if agent.ID == identity.AgentID {
			return identity, nil
		}
	}
	return Identity{}, &ResolutionError{Reason: NotYetVisible, Home: r.dir}
}

func containsUUID(pending []client.PendingAgent, uuid string) bool {
	for _, p := range pending {
		if p.UUID == uuid {
			return true
		}
	}
	return false
}
