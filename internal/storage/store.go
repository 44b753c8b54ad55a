// Package storage defines the transactional persistence boundary the core
// engines run against (§4.2). A Store is the only shared resource in the
// system; every invariant is enforced here via conditional updates and
// unique constraints, never in-process locks (§5).
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nightslayer18/skeenode-contracts/internal/core/model"
)

// Store abstracts transactional access to jobs, dependency edges, contracts,
// commitments and agents. Every API Facade operation runs inside exactly one
// call to WithTx.
type Store interface {
	// WithTx runs fn inside one transaction, passing a Store handle scoped to
	// it. A non-nil return rolls the transaction back.
	WithTx(ctx context.Context, fn func(s Store) error) error

	// --- Agent Registry backing ---

	UpsertAgent(ctx context.Context, details model.AgentDetails) (model.Agent, error)
	GetAgent(ctx context.Context, agentID uuid.UUID) (*model.Agent, error)
	ListAgents(ctx context.Context) ([]model.Agent, error)

	// --- Jobs & dependency edges ---

	CreateJob(ctx context.Context, job *model.Job) error
	GetJobByID(ctx context.Context, jobID uuid.UUID) (*model.Job, error)
	// ListJobs returns a page of jobs ordered by created_at descending (most
	// recently submitted first), for the supplemented GET /api/jobs listing.
	ListJobs(ctx context.Context, limit, offset int) ([]model.Job, error)
	CreateDependency(ctx context.Context, parentJobID, childJobID uuid.UUID) error
	// DependenciesOf returns the child job ids a parent declares.
	DependenciesOf(ctx context.Context, parentJobID uuid.UUID) ([]uuid.UUID, error)
	// DependentsOf returns the parent job ids that depend on childJobID.
	DependentsOf(ctx context.Context, childJobID uuid.UUID) ([]uuid.UUID, error)
	// DescendantsOf returns every job reachable by following DependentsOf
	// transitively (i.e. the whole subtree that depends, directly or
	// indirectly, on jobID).
	DescendantsOf(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error)

	// --- Contracts ---

	// CreateContract inserts contract. Implementations must reject it with
	// ErrConflict if the job already has a non-terminal contract (§3's
	// partial unique index, "at most one non-terminal contract per job").
	CreateContract(ctx context.Context, contract *model.Contract) error
	GetContractByID(ctx context.Context, contractID uuid.UUID) (*model.Contract, error)
	LatestContractForJob(ctx context.Context, jobID uuid.UUID) (*model.Contract, error)
	// ClaimContract atomically transitions one contract from waiting to
	// running iff it is still waiting and due. Reports whether the claim
	// succeeded.
	ClaimContract(ctx context.Context, contractID uuid.UUID, now time.Time) (bool, error)
	// CandidateContracts lists waiting, due contracts matching filter,
	// ordered by the owning job's created_at ascending then job_id
	// ascending (§5 FIFO ordering), starting at offset. Dependency readiness
	// is not filtered in SQL; callers re-check readiness per candidate before
	// claiming, and must advance offset by the page size on every call so a
	// page of not-yet-ready candidates doesn't repeat forever.
	CandidateContracts(ctx context.Context, filter model.ContractFilter, now time.Time, limit, offset int) ([]model.Contract, error)
	// UpdateContractOutcome conditionally transitions a contract that is
	// currently in `from` to the fields in patch. Reports whether the row
	// matched (false means the contract had already moved on, i.e. a
	// stale-commitment situation upstream).
	UpdateContractOutcome(ctx context.Context, contractID uuid.UUID, from model.Outcome, patch ContractPatch) (bool, error)
	ListContracts(ctx context.Context, filter model.ContractFilter, limit, offset int) ([]model.Contract, error)

	// --- Commitments ---

	// CreateCommitment inserts commitment. Implementations must reject it
	// with ErrConflict if contract_id already has a commitment (§3/§6's
	// uniqueIndex, "at most one commitment per contract").
	CreateCommitment(ctx context.Context, commitment *model.Commitment) error
	GetCommitmentByID(ctx context.Context, commitmentID uuid.UUID) (*model.Commitment, error)
	GetCommitmentByContract(ctx context.Context, contractID uuid.UUID) (*model.Commitment, error)
	// DeleteCommitment removes a commitment so its contract_id becomes free
	// for a later commitment to reference again (§4.4's add-dependencies
	// effect retires the original commitment before the job becomes
	// re-claimable). A no-op, not an error, if commitmentID is unknown.
	DeleteCommitment(ctx context.Context, commitmentID uuid.UUID) error
	// UpdateHeartbeat conditionally sets last_heartbeat iff ts is strictly
	// greater than the stored value (monotonic, §4.5/§8).
	UpdateHeartbeat(ctx context.Context, commitmentID uuid.UUID, ts time.Time) (bool, error)
	// ReapStaleCommitments transitions every commitment whose contract is
	// still `running` and whose last_heartbeat is older than olderThan to
	// `error` (never `cancelled`, which is reserved for operator-initiated
	// pause). Returns the number of contracts reclaimed. Optional hook for
	// the heartbeat reaper (§4.5, §9); off by default.
	ReapStaleCommitments(ctx context.Context, olderThan, now time.Time) (int, error)
}

// ContractPatch is the set of fields UpdateContractOutcome may set. Zero
// values mean "leave unchanged" except Outcome, which is always applied.
type ContractPatch struct {
	Outcome      model.Outcome
	ClaimedAt    *time.Time
	FinishedAt   *time.Time
	ResultBody   model.JSON
	ErrorMessage *string
}
