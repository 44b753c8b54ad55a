// Package memstore is an in-process storage.Store used by the core engine
// test suites. It implements the exact same conditional-update semantics as
// internal/storage/postgres (claim is a compare-and-swap on outcome; exactly
// one non-terminal contract per job, and at most one commitment per
// contract, are both enforced on insert with storage.ErrConflict) so facade
// tests exercise the real claim/heartbeat/complete logic without a live
// database.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nightslayer18/skeenode-contracts/internal/core/model"
	"github.com/nightslayer18/skeenode-contracts/internal/storage"
)

// Store is a mutex-guarded, map-backed storage.Store.
type Store struct {
	mu sync.Mutex

	agents      map[uuid.UUID]model.Agent
	jobs        map[uuid.UUID]model.Job
	deps        []model.Dependency
	contracts   map[uuid.UUID]model.Contract
	commitments map[uuid.UUID]model.Commitment
}

// New returns an empty store.
func New() *Store {
	return &Store{
		agents:      map[uuid.UUID]model.Agent{},
		jobs:        map[uuid.UUID]model.Job{},
		contracts:   map[uuid.UUID]model.Contract{},
		commitments: map[uuid.UUID]model.Commitment{},
	}
}

// WithTx runs fn against the same store under the store's single mutex,
// standing in for a real database transaction's isolation.
func (s *Store) WithTx(ctx context.Context, fn func(s storage.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s)
}

func (s *Store) UpsertAgent(ctx context.Context, details model.AgentDetails) (model.Agent, error) {
	for _, a := range s.agents {
		if a.Hostname == details.Hostname && a.SystemName == details.SystemName && a.SystemVersion == details.SystemVersion {
			return a, nil
		}
	}
	agent := model.Agent{
		AgentID:       uuid.New(),
		Hostname:      details.Hostname,
		SystemName:    details.SystemName,
		SystemVersion: details.SystemVersion,
		CreatedAt:     time.Now().UTC(),
	}
	s.agents[agent.AgentID] = agent
	return agent, nil
}

func (s *Store) GetAgent(ctx context.Context, agentID uuid.UUID) (*model.Agent, error) {
	a, ok := s.agents[agentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]model.Agent, error) {
	out := make([]model.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	s.jobs[job.JobID] = *job
	return nil
}

func (s *Store) GetJobByID(ctx context.Context, jobID uuid.UUID) (*model.Job, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &j, nil
}

func (s *Store) ListJobs(ctx context.Context, limit, offset int) ([]model.Job, error) {
	out := make([]model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateDependency(ctx context.Context, parentJobID, childJobID uuid.UUID) error {
	s.deps = append(s.deps, model.Dependency{ParentJobID: parentJobID, ChildJobID: childJobID, CreatedAt: time.Now().UTC()})
	return nil
}

func (s *Store) DependenciesOf(ctx context.Context, parentJobID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, d := range s.deps {
		if d.ParentJobID == parentJobID {
			out = append(out, d.ChildJobID)
		}
	}
	return out, nil
}

func (s *Store) DependentsOf(ctx context.Context, childJobID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, d := range s.deps {
		if d.ChildJobID == childJobID {
			out = append(out, d.ParentJobID)
		}
	}
	return out, nil
}

func (s *Store) DescendantsOf(ctx context.Context, jobID uuid.UUID) ([]uuid.UUID, error) {
	seen := map[uuid.UUID]struct{}{}
	queue := []uuid.UUID{jobID}
	var result []uuid.UUID
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		parents, _ := s.DependentsOf(ctx, current)
		for _, p := range parents {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			result = append(result, p)
			queue = append(queue, p)
		}
	}
	return result, nil
}

func (s *Store) CreateContract(ctx context.Context, contract *model.Contract) error {
	for _, c := range s.contracts {
		if c.JobID == contract.JobID && c.Outcome.NonTerminal() {
			return storage.ErrConflict
		}
	}
	s.contracts[contract.ContractID] = *contract
	return nil
}

func (s *Store) GetContractByID(ctx context.Context, contractID uuid.UUID) (*model.Contract, error) {
	c, ok := s.contracts[contractID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

func (s *Store) LatestContractForJob(ctx context.Context, jobID uuid.UUID) (*model.Contract, error) {
	var latest *model.Contract
	for _, c := range s.contracts {
		c := c
		if c.JobID != jobID {
			continue
		}
		if latest == nil || c.ContractNumber > latest.ContractNumber {
			latest = &c
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

func (s *Store) ClaimContract(ctx context.Context, contractID uuid.UUID, now time.Time) (bool, error) {
	c, ok := s.contracts[contractID]
	if !ok {
		return false, nil
	}
	if c.Outcome != model.OutcomeWaiting || c.Due.After(now) {
		return false, nil
	}
	c.Outcome = model.OutcomeRunning
	claimedAt := now
	c.ClaimedAt = &claimedAt
	s.contracts[contractID] = c
	return true, nil
}

func (s *Store) CandidateContracts(ctx context.Context, filter model.ContractFilter, now time.Time, limit, offset int) ([]model.Contract, error) {
	var out []model.Contract
	for _, c := range s.contracts {
		if c.Outcome != model.OutcomeWaiting || c.Due.After(now) {
			continue
		}
		job, ok := s.jobs[c.JobID]
		if !ok || job.JobType != filter.JobType {
			continue
		}
		if !job.Tags.Contains(filter.Tags) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		ji, jj := s.jobs[out[i].JobID], s.jobs[out[j].JobID]
		if !ji.CreatedAt.Equal(jj.CreatedAt) {
			return ji.CreatedAt.Before(jj.CreatedAt)
		}
		return ji.JobID.String() < jj.JobID.String()
	})
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateContractOutcome(ctx context.Context, contractID uuid.UUID, from model.Outcome, patch storage.ContractPatch) (bool, error) {
	c, ok := s.contracts[contractID]
	if !ok || c.Outcome != from {
		return false, nil
	}
	c.Outcome = patch.Outcome
	if patch.ClaimedAt != nil {
		c.ClaimedAt = patch.ClaimedAt
	}
	if patch.FinishedAt != nil {
		c.FinishedAt = patch.FinishedAt
	}
	if patch.ResultBody != nil {
		c.ResultBody = patch.ResultBody
	}
	if patch.ErrorMessage != nil {
		c.ErrorMessage = *patch.ErrorMessage
	}
	s.contracts[contractID] = c
	return true, nil
}

func (s *Store) ListContracts(ctx context.Context, filter model.ContractFilter, limit, offset int) ([]model.Contract, error) {
	var out []model.Contract
	for _, c := range s.contracts {
		if filter.JobType != "" {
			job, ok := s.jobs[c.JobID]
			if !ok || job.JobType != filter.JobType {
				continue
			}
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset < len(out) {
		out = out[offset:]
	} else {
		out = nil
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) CreateCommitment(ctx context.Context, commitment *model.Commitment) error {
	for _, c := range s.commitments {
		if c.ContractID == commitment.ContractID {
			return storage.ErrConflict
		}
	}
	s.commitments[commitment.CommitmentID] = *commitment
	return nil
}

func (s *Store) GetCommitmentByID(ctx context.Context, commitmentID uuid.UUID) (*model.Commitment, error) {
	c, ok := s.commitments[commitmentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetCommitmentByContract(ctx context.Context, contractID uuid.UUID) (*model.Commitment, error) {
	for _, c := range s.commitments {
		if c.ContractID == contractID {
			c := c
			return &c, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) DeleteCommitment(ctx context.Context, commitmentID uuid.UUID) error {
	delete(s.commitments, commitmentID)
	return nil
}

func (s *Store) UpdateHeartbeat(ctx context.Context, commitmentID uuid.UUID, ts time.Time) (bool, error) {
	c, ok := s.commitments[commitmentID]
	if !ok {
		return false, nil
	}
	if !ts.After(c.LastHeartbeat) {
		return false, nil
	}
	c.LastHeartbeat = ts
	s.commitments[commitmentID] = c
	return true, nil
}

func (s *Store) ReapStaleCommitments(ctx context.Context, olderThan, now time.Time) (int, error) {
	reclaimed := 0
	for id, commit := range s.commitments {
		if !commit.LastHeartbeat.Before(olderThan) {
			continue
		}
		c, ok := s.contracts[commit.ContractID]
		if !ok || c.Outcome != model.OutcomeRunning {
			continue
		}
		c.Outcome = model.OutcomeError
		finished := now
		c.FinishedAt = &finished
		c.ErrorMessage = "heartbeat timeout"
		s.contracts[c.ContractID] = c
		reclaimed++
		_ = id
	}
	return reclaimed, nil
}

var _ storage.Store = (*Store)(nil)
