// Package agents is the Agent Registry (§4.1): idempotent upsert of worker
// identities to agent ids.
package agents

import (
	"context"

	"github.com/google/uuid"

	"github.com/nightslayer18/skeenode-contracts/internal/core/model"
	"github.com/nightslayer18/skeenode-contracts/internal/storage"
)

// Registry resolves worker identities to agent ids.
type Registry struct {
	store storage.Store
}

// New builds a Registry over the given store handle (typically the
// transaction-scoped handle passed into a Store.WithTx callback).
func New(store storage.Store) *Registry {
	return &Registry{store: store}
}

// Upsert looks up an agent by (hostname, system_name, system_version),
// inserting a fresh id on first sight. Concurrent-safe by virtue of the
// unique index the store enforces on those three columns.
func (r *Registry) Upsert(ctx context.Context, details model.AgentDetails) (uuid.UUID, error) {
	agent, err := r.store.UpsertAgent(ctx, details)
	if err != nil {
		return uuid.Nil, model.WrapError(model.KindInternal, "upsert agent", err)
	}
	return agent.AgentID, nil
}

// List returns all known agents, newest-registration order excluded (sorted
// oldest first by the store), for the supplemented agent-listing endpoints.
func (r *Registry) List(ctx context.Context) ([]model.Agent, error) {
	out, err := r.store.ListAgents(ctx)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "list agents", err)
	}
	return out, nil
}

// Get fetches a single agent by id.
func (r *Registry) Get(ctx context.Context, agentID uuid.UUID) (*model.Agent, error) {
	agent, err := r.store.GetAgent(ctx, agentID)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil, model.ErrNotFound
		}
		return nil, model.WrapError(model.KindInternal, "get agent", err)
	}
	return agent, nil
}
