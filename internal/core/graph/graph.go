// Package graph is the Job Graph Engine (§4.3): creates job trees, maintains
// the dependency DAG, and cascades pause/retry across subtrees.
//
// Readiness is always computed live (IsReady re-walks a job's dependencies
// and their latest contracts) rather than cached on the job row. That
// resolves the apparent tension in §4.4's add-dependencies effect — the
// existing contract is set back to `waiting` while the job is non-ready —
// against §8's invariant "P has a waiting contract iff every dependency has
// succeeded": the row can sit in `waiting` in storage without yet being
// claimable, because claimability is always re-derived, never stored.
package graph

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nightslayer18/skeenode-contracts/internal/core/model"
	"github.com/nightslayer18/skeenode-contracts/internal/storage"
	"github.com/nightslayer18/skeenode-contracts/pkg/hashing"
)

// dueLag is how far behind created_at a freshly created contract's due
// timestamp defaults to (§3: "due (defaults to created_at - 5s)").
const dueLag = 5 * time.Second

// Graph is the Job Graph Engine over one store handle.
type Graph struct {
	store storage.Store
	now   func() time.Time
}

// New builds a Graph engine. now is injectable for deterministic tests.
func New(store storage.Store, now func() time.Time) *Graph {
	if now == nil {
		now = time.Now
	}
	return &Graph{store: store, now: now}
}

// PutJob inserts sub and its declared dependency tree, creating an initial
// waiting contract for every leaf job in it. Re-submitting an identical
// job_id/request_body pair is a no-op; a differing request_body on an
// existing job_id is a conflict (§4.3, §8).
func (g *Graph) PutJob(ctx context.Context, sub model.JobSubmission) (uuid.UUID, error) {
	if sub.JobType == "" {
		return uuid.Nil, model.NewError(model.KindInvalidPayload, "job_type is required")
	}
	return g.insertJob(ctx, sub, nil)
}

func (g *Graph) insertJob(ctx context.Context, sub model.JobSubmission, parentJobID *uuid.UUID) (uuid.UUID, error) {
	jobID := sub.JobID
	if jobID == uuid.Nil {
		jobID = uuid.New()
	}

	hash := hashing.RequestHash([]byte(sub.RequestBody))

	existing, err := g.store.GetJobByID(ctx, jobID)
	switch {
	case err == nil:
		if existing.RequestHash != hash {
			return uuid.Nil, model.NewError(model.KindConflict, "job_id exists with a different request_body")
		}
		return jobID, nil
	case err == storage.ErrNotFound:
		// fall through to insert
	default:
		return uuid.Nil, model.WrapError(model.KindInternal, "lookup existing job", err)
	}

	fgid := jobID
	if sub.FungibilityGroupID != nil {
		fgid = *sub.FungibilityGroupID
	}

	job := &model.Job{
		JobID:              jobID,
		JobType:            sub.JobType,
		JobName:            sub.JobName,
		RequestBody:        sub.RequestBody,
		RequestHash:        hash,
		Tags:               sub.Tags,
		Notes:              sub.Notes,
		FungibilityGroupID: fgid,
		ParentJobID:        parentJobID,
		CreatedAt:          g.now().UTC(),
	}
	if err := g.store.CreateJob(ctx, job); err != nil {
		return uuid.Nil, model.WrapError(model.KindInternal, "create job", err)
	}

	childCount := 0
	for _, depSub := range sub.Dependencies {
		childID, err := g.attachDependency(ctx, jobID, depSub)
		if err != nil {
			return uuid.Nil, err
		}
		_ = childID
		childCount++
	}

	if childCount == 0 {
		if err := g.createWaitingContract(ctx, jobID, 1); err != nil {
			return uuid.Nil, err
		}
	}

	return jobID, nil
}

// AttachDependency adds one dependency edge (and, for an inline payload, the
// subtree under it) to an already-existing parent job. Used by the Contract
// Engine's add-dependencies completion effect (§4.4).
func (g *Graph) AttachDependency(ctx context.Context, parentJobID uuid.UUID, dep model.DependencySubmission) (uuid.UUID, error) {
	return g.attachDependency(ctx, parentJobID, dep)
}

// attachDependency resolves one dependency entry, recursively inserting an
// inline job payload or validating a reference to an existing one
// (with-dependency-on, §4.3: "the edge is added but the referenced job is
// not duplicated").
func (g *Graph) attachDependency(ctx context.Context, parentJobID uuid.UUID, dep model.DependencySubmission) (uuid.UUID, error) {
	var childID uuid.UUID

	if dep.ExistingJobID != nil {
		if _, err := g.store.GetJobByID(ctx, *dep.ExistingJobID); err != nil {
			if err == storage.ErrNotFound {
				return uuid.Nil, model.NewError(model.KindInvalidPayload, "dependency references an unknown job")
			}
			return uuid.Nil, model.WrapError(model.KindInternal, "lookup dependency reference", err)
		}
		childID = *dep.ExistingJobID
	} else if dep.Job != nil {
		id, err := g.insertJob(ctx, *dep.Job, &parentJobID)
		if err != nil {
			return uuid.Nil, err
		}
		childID = id
	} else {
		return uuid.Nil, model.NewError(model.KindInvalidPayload, "dependency must name an existing job or carry a job payload")
	}

	if err := g.store.CreateDependency(ctx, parentJobID, childID); err != nil {
		return uuid.Nil, model.WrapError(model.KindInternal, "create dependency edge", err)
	}
	return childID, nil
}

// createWaitingContract inserts a fresh waiting contract whose created_at is
// the current time and whose due defaults to created_at - dueLag (§3).
func (g *Graph) createWaitingContract(ctx context.Context, jobID uuid.UUID, contractNumber int) error {
	now := g.now().UTC()
	contract := &model.Contract{
		ContractID:     uuid.New(),
		JobID:          jobID,
		ContractNumber: contractNumber,
		CreatedAt:      now,
		Due:            now.Add(-dueLag),
		Outcome:        model.OutcomeWaiting,
	}
	if err := g.store.CreateContract(ctx, contract); err != nil {
		return model.WrapError(model.KindInternal, "create waiting contract", err)
	}
	return nil
}

// IsReady reports whether every dependency of jobID has a latest contract
// whose outcome is success (§3: "a job is ready when all its dependencies
// have outcome = success").
func (g *Graph) IsReady(ctx context.Context, jobID uuid.UUID) (bool, error) {
	deps, err := g.store.DependenciesOf(ctx, jobID)
	if err != nil {
		return false, model.WrapError(model.KindInternal, "list dependencies", err)
	}
	for _, childID := range deps {
		latest, err := g.store.LatestContractForJob(ctx, childID)
		if err == storage.ErrNotFound {
			return false, nil
		}
		if err != nil {
			return false, model.WrapError(model.KindInternal, "latest contract for dependency", err)
		}
		if latest.Outcome != model.OutcomeSuccess {
			return false, nil
		}
	}
	return true, nil
}

// OnDependencySuccess is invoked by the Contract Engine whenever a contract
// finishes with success; it releases every parent that is now ready (§4.3).
func (g *Graph) OnDependencySuccess(ctx context.Context, childJobID uuid.UUID) error {
	parents, err := g.store.DependentsOf(ctx, childJobID)
	if err != nil {
		return model.WrapError(model.KindInternal, "dependents of", err)
	}

	for _, parentID := range parents {
		ready, err := g.IsReady(ctx, parentID)
		if err != nil {
			return err
		}
		if !ready {
			continue
		}

		latest, err := g.store.LatestContractForJob(ctx, parentID)
		if err == storage.ErrNotFound {
			// First time this parent has ever been ready: its initial contract.
			if err := g.createWaitingContract(ctx, parentID, 1); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return model.WrapError(model.KindInternal, "latest contract for parent", err)
		}
		// A non-terminal contract already sitting at `waiting` is either the
		// add-dependencies placeholder becoming claimable, or a benign race;
		// either way there is nothing further to create (at most one
		// non-terminal contract per job, §3).
	}
	return nil
}

// CascadePause marks jobID's non-terminal contract cancelled, then applies
// the same to every descendant (§4.3). Already-terminal contracts are left
// untouched.
func (g *Graph) CascadePause(ctx context.Context, jobID uuid.UUID) error {
	if err := g.cancelIfNonTerminal(ctx, jobID); err != nil {
		return err
	}
	descendants, err := g.store.DescendantsOf(ctx, jobID)
	if err != nil {
		return model.WrapError(model.KindInternal, "descendants of", err)
	}
	for _, d := range descendants {
		if err := g.cancelIfNonTerminal(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (g *Graph) cancelIfNonTerminal(ctx context.Context, jobID uuid.UUID) error {
	latest, err := g.store.LatestContractForJob(ctx, jobID)
	if err == storage.ErrNotFound {
		return nil
	}
	if err != nil {
		return model.WrapError(model.KindInternal, "latest contract for cascade pause", err)
	}
	if !latest.Outcome.NonTerminal() {
		return nil
	}
	now := g.now().UTC()
	ok, err := g.store.UpdateContractOutcome(ctx, latest.ContractID, latest.Outcome, storage.ContractPatch{
		Outcome:    model.OutcomeCancelled,
		FinishedAt: &now,
	})
	if err != nil {
		return model.WrapError(model.KindInternal, "cancel contract", err)
	}
	_ = ok // a concurrent transition away from latest.Outcome just means we lost the race harmlessly
	return nil
}

// CascadeRetry creates a fresh waiting contract for every job in jobID's
// subtree whose latest contract is cancelled or error; successful
// descendants are left alone (§4.3).
func (g *Graph) CascadeRetry(ctx context.Context, jobID uuid.UUID) error {
	subtree := []uuid.UUID{jobID}
	descendants, err := g.store.DescendantsOf(ctx, jobID)
	if err != nil {
		return model.WrapError(model.KindInternal, "descendants of", err)
	}
	subtree = append(subtree, descendants...)

	for _, id := range subtree {
		latest, err := g.store.LatestContractForJob(ctx, id)
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return model.WrapError(model.KindInternal, "latest contract for cascade retry", err)
		}
		if latest.Outcome != model.OutcomeCancelled && latest.Outcome != model.OutcomeError {
			continue
		}
		if err := g.createWaitingContract(ctx, id, latest.ContractNumber+1); err != nil {
			return err
		}
	}
	return nil
}

// JobView assembles the read-only projection returned by get-job.
func (g *Graph) JobView(ctx context.Context, jobID uuid.UUID) (*model.JobView, error) {
	job, err := g.store.GetJobByID(ctx, jobID)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "get job", err)
	}

	deps, err := g.store.DependenciesOf(ctx, jobID)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "dependencies of", err)
	}

	view := &model.JobView{
		JobID:              job.JobID,
		JobType:            job.JobType,
		JobName:            job.JobName,
		RequestBody:        job.RequestBody,
		Tags:               job.Tags,
		Notes:              job.Notes,
		FungibilityGroupID: job.FungibilityGroupID,
		ParentJobID:        job.ParentJobID,
		CreatedAt:          job.CreatedAt,
		Dependencies:       deps,
	}

	latest, err := g.store.LatestContractForJob(ctx, jobID)
	if err == nil {
		view.Outcome = latest.Outcome
	} else if err != storage.ErrNotFound {
		return nil, model.WrapError(model.KindInternal, "latest contract for job view", err)
	}

	return view, nil
}
