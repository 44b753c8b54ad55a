// Package facade is the API Facade (§4.6): the single entry point transport
// layers call into. Every operation opens exactly one Store.WithTx so the
// graph mutation, claim, or completion it performs is atomic end to end
// (§9: "graph mutation transactionality").
package facade

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nightslayer18/skeenode-contracts/internal/core/agents"
	"github.com/nightslayer18/skeenode-contracts/internal/core/commitment"
	"github.com/nightslayer18/skeenode-contracts/internal/core/contract"
	"github.com/nightslayer18/skeenode-contracts/internal/core/graph"
	"github.com/nightslayer18/skeenode-contracts/internal/core/model"
	"github.com/nightslayer18/skeenode-contracts/internal/resilience"
	"github.com/nightslayer18/skeenode-contracts/internal/storage"
	"github.com/nightslayer18/skeenode-contracts/internal/storage/blobstore"
)

// Facade is the API Facade. It holds only the root store handle; every
// method builds its engines fresh from the transaction-scoped handle
// Store.WithTx hands back, so engines never leak across transactions.
type Facade struct {
	store storage.Store
	now   func() time.Time

	// breaker and maxAttempts guard RequestWork's transaction against
	// transient serialization conflicts (§5, §7). Both nil/zero by default,
	// which makes RequestWork a single direct attempt — tests and the
	// in-memory store never need retrying.
	breaker     *resilience.Breaker
	maxAttempts int

	// blobs and blobThreshold implement payload overflow: a request_body,
	// result_body, or error past blobThreshold bytes is offloaded to blobs
	// and transparently re-inflated on read (§9 DOMAIN STACK). Nil/zero by
	// default, which makes every payload travel inline, as before.
	blobs         blobstore.Store
	blobThreshold int
}

// New builds a Facade over the root store.
func New(store storage.Store, now func() time.Time) *Facade {
	if now == nil {
		now = time.Now
	}
	return &Facade{store: store, now: now}
}

// WithRetry installs a circuit breaker around RequestWork's transaction,
// bounded-retrying it up to maxAttempts times on transient store errors
// before surfacing model.KindInternal (§5, §7). Returns f for chaining.
func (f *Facade) WithRetry(breaker *resilience.Breaker, maxAttempts int) *Facade {
	f.breaker = breaker
	f.maxAttempts = maxAttempts
	return f
}

// PutJob submits a job (and its dependency tree) for execution.
func (f *Facade) PutJob(ctx context.Context, sub model.JobSubmission) (uuid.UUID, error) {
	if err := f.offloadSubmission(ctx, &sub); err != nil {
		return uuid.Nil, err
	}

	var jobID uuid.UUID
	err := f.store.WithTx(ctx, func(s storage.Store) error {
		g := graph.New(s, f.now)
		id, err := g.PutJob(ctx, sub)
		if err != nil {
			return err
		}
		jobID = id
		return nil
	})
	return jobID, err
}

// GetJob returns the read-only projection of a job, or nil if it doesn't exist.
func (f *Facade) GetJob(ctx context.Context, jobID uuid.UUID) (*model.JobView, error) {
	var view *model.JobView
	err := f.store.WithTx(ctx, func(s storage.Store) error {
		g := graph.New(s, f.now)
		v, err := g.JobView(ctx, jobID)
		if err != nil {
			return err
		}
		view = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := f.inflateJobView(ctx, view); err != nil {
		return nil, err
	}
	return view, nil
}

// ListJobs returns a page of jobs for the supplemented GET /api/jobs listing
// (§6 view surface), each rendered through the same JobView projection
// GetJob uses.
func (f *Facade) ListJobs(ctx context.Context, limit, offset int) ([]model.JobView, error) {
	var out []model.JobView
	err := f.store.WithTx(ctx, func(s storage.Store) error {
		jobs, err := s.ListJobs(ctx, limit, offset)
		if err != nil {
			return model.WrapError(model.KindInternal, "list jobs", err)
		}
		g := graph.New(s, f.now)
		out = make([]model.JobView, 0, len(jobs))
		for _, j := range jobs {
			v, err := g.JobView(ctx, j.JobID)
			if err != nil {
				return err
			}
			if v != nil {
				out = append(out, *v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range out {
		if err := f.inflateJobView(ctx, &out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// PauseJob cascades a cancellation through jobID's non-terminal contract and
// every descendant's (§4.3, §8 scenarios 5-6).
func (f *Facade) PauseJob(ctx context.Context, jobID uuid.UUID) error {
	return f.store.WithTx(ctx, func(s storage.Store) error {
		g := graph.New(s, f.now)
		return g.CascadePause(ctx, jobID)
	})
}

// RetryJob cascades fresh waiting contracts through jobID's subtree wherever
// the latest contract ended in error or cancelled (§4.3, §8 scenario 8).
func (f *Facade) RetryJob(ctx context.Context, jobID uuid.UUID) error {
	return f.store.WithTx(ctx, func(s storage.Store) error {
		g := graph.New(s, f.now)
		return g.CascadeRetry(ctx, jobID)
	})
}

// UpsertAgent resolves a worker's identity to an agent id (§4.1).
func (f *Facade) UpsertAgent(ctx context.Context, details model.AgentDetails) (uuid.UUID, error) {
	var agentID uuid.UUID
	err := f.store.WithTx(ctx, func(s storage.Store) error {
		reg := agents.New(s)
		id, err := reg.Upsert(ctx, details)
		if err != nil {
			return err
		}
		agentID = id
		return nil
	})
	return agentID, err
}

// RequestWork claims the oldest ready, due, waiting contract matching filter
// for agentID (§4.4, §8 scenarios 1-3). When WithRetry has installed a
// breaker, a transient store error retries the whole transaction up to
// maxAttempts times before surfacing model.KindInternal (§5, §7); a
// model.Error of any other kind (e.g. a real invariant violation) is never
// retried.
func (f *Facade) RequestWork(ctx context.Context, commitmentID, agentID uuid.UUID, filter model.ContractFilter) (*model.ContractView, error) {
	var view *model.ContractView
	attempt := func(ctx context.Context) error {
		return f.store.WithTx(ctx, func(s storage.Store) error {
			g := graph.New(s, f.now)
			eng := contract.New(s, g, f.now)
			v, err := eng.RequestWork(ctx, commitmentID, agentID, filter)
			if err != nil {
				return err
			}
			view = v
			return nil
		})
	}

	var err error
	if f.breaker == nil || f.maxAttempts < 2 {
		err = attempt(ctx)
	} else {
		err = f.breaker.RetryTransient(ctx, "request-work", f.maxAttempts, isTransient, attempt)
	}
	if err != nil {
		return nil, err
	}
	if err := f.inflateContractView(ctx, view); err != nil {
		return nil, err
	}
	return view, nil
}

// isTransient reports whether err represents a conflict worth retrying
// rather than an invariant violation or a user-facing error kind.
func isTransient(err error) bool {
	var coreErr *model.Error
	if !asModelError(err, &coreErr) {
		// Not one of the core's classified errors at all: a raw store/driver
		// error, which is exactly the transient-conflict case §7 describes.
		return true
	}
	return coreErr.Kind == model.KindInternal
}

func asModelError(err error, target **model.Error) bool {
	for err != nil {
		if me, ok := err.(*model.Error); ok {
			*target = me
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Heartbeat records liveness for a commitment and returns the agent's next
// instruction (§4.5).
func (f *Facade) Heartbeat(ctx context.Context, commitmentID uuid.UUID) (model.HeartbeatResult, error) {
	var result model.HeartbeatResult
	err := f.store.WithTx(ctx, func(s storage.Store) error {
		tr := commitment.New(s, f.now)
		r, err := tr.Heartbeat(ctx, commitmentID)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

// CompleteWork applies a worker's outcome to the contract its commitment holds
// (§4.4).
func (f *Facade) CompleteWork(ctx context.Context, commitmentID uuid.UUID, result model.CompletionResult) error {
	keyHint := "commitment-" + commitmentID.String()

	body, err := f.offload(ctx, keyHint+"-result", result.ResultBody)
	if err != nil {
		return err
	}
	result.ResultBody = body

	errMsg, err := f.offloadErrorMessage(ctx, keyHint, result.ErrorMessage)
	if err != nil {
		return err
	}
	result.ErrorMessage = errMsg

	for i := range result.NewDependencies {
		if result.NewDependencies[i].Job != nil {
			if err := f.offloadSubmission(ctx, result.NewDependencies[i].Job); err != nil {
				return err
			}
		}
	}

	return f.store.WithTx(ctx, func(s storage.Store) error {
		g := graph.New(s, f.now)
		eng := contract.New(s, g, f.now)
		return eng.CompleteWork(ctx, commitmentID, result)
	})
}

// ListContracts returns a page of contracts for the supplemented inspection
// endpoints (§6 view surface).
func (f *Facade) ListContracts(ctx context.Context, filter model.ContractFilter, limit, offset int) ([]model.Contract, error) {
	var out []model.Contract
	err := f.store.WithTx(ctx, func(s storage.Store) error {
		list, err := s.ListContracts(ctx, filter, limit, offset)
		if err != nil {
			return model.WrapError(model.KindInternal, "list contracts", err)
		}
		out = list
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i := range out {
		body, err := f.inflate(ctx, out[i].ResultBody)
		if err != nil {
			return nil, err
		}
		out[i].ResultBody = body
		msg, err := f.inflate(ctx, model.JSON(out[i].ErrorMessage))
		if err != nil {
			return nil, err
		}
		out[i].ErrorMessage = string(msg)
	}
	return out, nil
}

// ReapStaleCommitments marks every running contract whose commitment has
// gone heartbeat-silent past cutoff as `error` (§4.5, §9's optional reaper
// hook). Returns the number of contracts reclaimed.
func (f *Facade) ReapStaleCommitments(ctx context.Context, cutoff time.Time) (int, error) {
	var n int
	err := f.store.WithTx(ctx, func(s storage.Store) error {
		count, err := s.ReapStaleCommitments(ctx, cutoff, f.now().UTC())
		if err != nil {
			return model.WrapError(model.KindInternal, "reap stale commitments", err)
		}
		n = count
		return nil
	})
	return n, err
}

// GetAgent returns one agent's registry entry, or nil if unknown.
func (f *Facade) GetAgent(ctx context.Context, agentID uuid.UUID) (*model.Agent, error) {
	var out *model.Agent
	err := f.store.WithTx(ctx, func(s storage.Store) error {
		a, err := s.GetAgent(ctx, agentID)
		if err != nil {
			if err == storage.ErrNotFound {
				return nil
			}
			return model.WrapError(model.KindInternal, "get agent", err)
		}
		out = a
		return nil
	})
	return out, err
}

// ListAgents returns every known agent.
func (f *Facade) ListAgents(ctx context.Context) ([]model.Agent, error) {
	var out []model.Agent
	err := f.store.WithTx(ctx, func(s storage.Store) error {
		reg := agents.New(s)
		list, err := reg.List(ctx)
		if err != nil {
			return err
		}
		out = list
		return nil
	})
	return out, err
}
