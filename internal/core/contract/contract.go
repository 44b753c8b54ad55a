// Package contract is the Contract Engine (§4.4): claims waiting contracts
// for agents in FIFO order and applies the five completion-kind effects.
package contract

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nightslayer18/skeenode-contracts/internal/core/graph"
	"github.com/nightslayer18/skeenode-contracts/internal/core/model"
	"github.com/nightslayer18/skeenode-contracts/internal/storage"
)

// candidatePageSize bounds how many waiting contracts CandidateContracts
// pulls per claim attempt; the engine pages through FIFO order until one
// candidate is actually claimed or the pool is exhausted.
const candidatePageSize = 32

// Engine is the Contract Engine over one store handle and the Job Graph
// Engine that shares it.
type Engine struct {
	store storage.Store
	graph *graph.Graph
	now   func() time.Time
}

// New builds a contract Engine. g must share the same store handle that was
// passed to New, typically both constructed inside one Store.WithTx call.
func New(store storage.Store, g *graph.Graph, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{store: store, graph: g, now: now}
}

// RequestWork attempts to claim one ready, due, waiting contract matching
// filter, in FIFO order (oldest job.created_at first, job_id tiebreak), and
// binds it to agentID via a commitment keyed by the caller-supplied
// commitmentID (§4.4, §5, §8 scenarios 1-2). If commitmentID already names a
// commitment, that commitment's contract view is returned idempotently
// without a new claim attempt (§4.4: "if commitment_id already exists,
// return the prior commitment idempotently"). Returns nil, nil if no
// claimable contract currently exists.
func (e *Engine) RequestWork(ctx context.Context, commitmentID, agentID uuid.UUID, filter model.ContractFilter) (*model.ContractView, error) {
	if existing, err := e.store.GetCommitmentByID(ctx, commitmentID); err == nil {
		contract, err := e.store.GetContractByID(ctx, existing.ContractID)
		if err != nil {
			return nil, model.WrapError(model.KindInternal, "get contract for idempotent commitment", err)
		}
		return e.buildView(ctx, commitmentID, contract)
	} else if err != storage.ErrNotFound {
		return nil, model.WrapError(model.KindInternal, "lookup existing commitment", err)
	}

	now := e.now().UTC()

	offset := 0
	for {
		candidates, err := e.store.CandidateContracts(ctx, filter, now, candidatePageSize, offset)
		if err != nil {
			return nil, model.WrapError(model.KindInternal, "candidate contracts", err)
		}
		if len(candidates) == 0 {
			return nil, nil
		}
		offset += len(candidates)

		for _, candidate := range candidates {
			ready, err := e.graph.IsReady(ctx, candidate.JobID)
			if err != nil {
				return nil, err
			}
			if !ready {
				continue
			}

			claimed, err := e.store.ClaimContract(ctx, candidate.ContractID, now)
			if err != nil {
				return nil, model.WrapError(model.KindInternal, "claim contract", err)
			}
			if !claimed {
				// Lost the race (another agent claimed it first) or it moved
				// out of `waiting` underneath us; try the next candidate.
				continue
			}

			commitment := &model.Commitment{
				CommitmentID:  commitmentID,
				ContractID:    candidate.ContractID,
				AgentID:       agentID,
				ClaimedAt:     now,
				LastHeartbeat: now,
			}
			if err := e.store.CreateCommitment(ctx, commitment); err != nil {
				return nil, model.WrapError(model.KindInternal, "create commitment", err)
			}

			view, err := e.buildView(ctx, commitment.CommitmentID, &candidate)
			if err != nil {
				return nil, err
			}
			return view, nil
		}

		// Every candidate in this page was either not-yet-ready or lost to a
		// racing claim; if the page came back short of a full page there is
		// nothing more to try.
		if len(candidates) < candidatePageSize {
			return nil, nil
		}
	}
}

func (e *Engine) buildView(ctx context.Context, commitmentID uuid.UUID, contract *model.Contract) (*model.ContractView, error) {
	job, err := e.store.GetJobByID(ctx, contract.JobID)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "get job for contract view", err)
	}

	childIDs, err := e.store.DependenciesOf(ctx, contract.JobID)
	if err != nil {
		return nil, model.WrapError(model.KindInternal, "dependencies of for contract view", err)
	}

	deps := make([]model.DependencyResult, 0, len(childIDs))
	for _, childID := range childIDs {
		childJob, err := e.store.GetJobByID(ctx, childID)
		if err != nil {
			return nil, model.WrapError(model.KindInternal, "get dependency job for contract view", err)
		}
		childContract, err := e.store.LatestContractForJob(ctx, childID)
		if err != nil {
			return nil, model.WrapError(model.KindInternal, "latest contract for dependency view", err)
		}
		deps = append(deps, model.DependencyResult{
			JobType:     childJob.JobType,
			RequestBody: childJob.RequestBody,
			ResultBody:  childContract.ResultBody,
		})
	}

	return &model.ContractView{
		CommitmentID: commitmentID,
		JobID:        job.JobID,
		ContractID:   contract.ContractID,
		RequestBody:  job.RequestBody,
		JobType:      job.JobType,
		Tags:         job.Tags,
		Dependencies: deps,
	}, nil
}

// CompleteWork applies the effect for result.Kind to the contract that
// commitmentID holds (§4.4's outcome-kind effects table). It verifies the
// commitment still owns a `running` contract before acting, returning
// model.ErrStaleCommitment otherwise (§7: a completion racing a cancellation
// must not resurrect a contract the system has already moved past).
func (e *Engine) CompleteWork(ctx context.Context, commitmentID uuid.UUID, result model.CompletionResult) error {
	commitment, err := e.store.GetCommitmentByID(ctx, commitmentID)
	if err != nil {
		if err == storage.ErrNotFound {
			return model.ErrStaleCommitment
		}
		return model.WrapError(model.KindInternal, "get commitment", err)
	}

	contract, err := e.store.GetContractByID(ctx, commitment.ContractID)
	if err != nil {
		if err == storage.ErrNotFound {
			return model.ErrStaleCommitment
		}
		return model.WrapError(model.KindInternal, "get contract", err)
	}
	if contract.Outcome != model.OutcomeRunning {
		return model.ErrStaleCommitment
	}

	now := e.now().UTC()

	switch result.Kind {
	case model.CompletionSuccess:
		if err := e.finishContract(ctx, contract, model.OutcomeSuccess, now, result.ResultBody, ""); err != nil {
			return err
		}
		return e.graph.OnDependencySuccess(ctx, contract.JobID)

	case model.CompletionError:
		return e.finishContract(ctx, contract, model.OutcomeError, now, nil, result.ErrorMessage)

	case model.CompletionCancelled:
		return e.finishContract(ctx, contract, model.OutcomeCancelled, now, nil, result.ErrorMessage)

	case model.CompletionTryLater:
		if err := e.finishContract(ctx, contract, model.OutcomeTryLater, now, nil, result.TryLaterReason); err != nil {
			return err
		}
		due := result.TryLaterDue
		if due.IsZero() {
			due = now
		}
		return e.createSuccessorContract(ctx, contract, due)

	case model.CompletionAddDependencies:
		return e.addDependencies(ctx, contract, commitment.CommitmentID, result.NewDependencies)

	default:
		return model.NewError(model.KindInvalidPayload, "unknown completion kind")
	}
}

func (e *Engine) finishContract(ctx context.Context, contract *model.Contract, outcome model.Outcome, finishedAt time.Time, resultBody model.JSON, errMsg string) error {
	patch := storage.ContractPatch{
		Outcome:      outcome,
		FinishedAt:   &finishedAt,
		ResultBody:   resultBody,
		ErrorMessage: &errMsg,
	}
	ok, err := e.store.UpdateContractOutcome(ctx, contract.ContractID, model.OutcomeRunning, patch)
	if err != nil {
		return model.WrapError(model.KindInternal, "update contract outcome", err)
	}
	if !ok {
		return model.ErrStaleCommitment
	}
	return nil
}

func (e *Engine) createSuccessorContract(ctx context.Context, contract *model.Contract, due time.Time) error {
	successor := &model.Contract{
		ContractID:     uuid.New(),
		JobID:          contract.JobID,
		ContractNumber: contract.ContractNumber + 1,
		CreatedAt:      e.now().UTC(),
		Due:            due,
		Outcome:        model.OutcomeWaiting,
	}
	if err := e.store.CreateContract(ctx, successor); err != nil {
		return model.WrapError(model.KindInternal, "create try-later successor contract", err)
	}
	return nil
}

// addDependencies implements the add-dependencies effect: the current
// contract is put back to waiting (so the job is kept alive but is
// non-ready until the new children resolve) and the new dependency subtrees
// are inserted underneath the same job. The contract's current commitment is
// retired (deleted) in the same step: the worker that held it has handed the
// job off to its new dependencies, and the contract_id will be re-claimed
// under a fresh commitment once the job is ready again, which would collide
// with the uniqueIndex on commitments.contract_id if the old row survived.
func (e *Engine) addDependencies(ctx context.Context, contract *model.Contract, commitmentID uuid.UUID, newDeps []model.DependencySubmission) error {
	ok, err := e.store.UpdateContractOutcome(ctx, contract.ContractID, model.OutcomeRunning, storage.ContractPatch{
		Outcome: model.OutcomeWaiting,
	})
	if err != nil {
		return model.WrapError(model.KindInternal, "reset contract to waiting for add-dependencies", err)
	}
	if !ok {
		return model.ErrStaleCommitment
	}

	if err := e.store.DeleteCommitment(ctx, commitmentID); err != nil {
		return model.WrapError(model.KindInternal, "retire commitment for add-dependencies", err)
	}

	for _, dep := range newDeps {
		if _, err := e.graph.AttachDependency(ctx, contract.JobID, dep); err != nil {
			return err
		}
	}
	return nil
}
