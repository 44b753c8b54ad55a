package facade_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/nightslayer18/skeenode-contracts/internal/core/facade"
	"github.com/nightslayer18/skeenode-contracts/internal/core/model"
	"github.com/nightslayer18/skeenode-contracts/internal/storage/memstore"
)

// fakeClock gives tests control over "now" so due-time and FIFO-ordering
// assertions don't depend on wall-clock timing.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// FacadeSuite exercises the §8 testable properties end to end through the
// API Facade against an in-process store.
type FacadeSuite struct {
	suite.Suite
	clock *fakeClock
	f     *facade.Facade
}

func (s *FacadeSuite) SetupTest() {
	s.clock = newFakeClock()
	store := memstore.New()
	s.f = facade.New(store, s.clock.now)
}

func TestFacadeSuite(t *testing.T) {
	suite.Run(t, new(FacadeSuite))
}

func body(s string) model.JSON {
	return model.JSON(`{"v":"` + s + `"}`)
}

func (s *FacadeSuite) putLeaf(jobType, requestBody string) uuid.UUID {
	id, err := s.f.PutJob(context.Background(), model.JobSubmission{
		JobID:       uuid.New(),
		JobType:     jobType,
		RequestBody: body(requestBody),
	})
	s.Require().NoError(err)
	return id
}

// Scenario: FIFO claim order (§8 #1). Three leaf jobs of the same type
// submitted in order must be claimed in submission order.
func (s *FacadeSuite) TestFIFOClaimOrder() {
	ctx := context.Background()
	first := s.putLeaf("report", "a")
	s.clock.advance(time.Second)
	second := s.putLeaf("report", "b")
	s.clock.advance(time.Second)
	third := s.putLeaf("report", "c")

	agentID, err := s.f.UpsertAgent(ctx, model.AgentDetails{Hostname: "h1", SystemName: "linux", SystemVersion: "1"})
	s.Require().NoError(err)

	v1, err := s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "report"})
	s.Require().NoError(err)
	s.Require().NotNil(v1)
	s.Equal(first, v1.JobID)

	v2, err := s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "report"})
	s.Require().NoError(err)
	s.Require().NotNil(v2)
	s.Equal(second, v2.JobID)

	v3, err := s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "report"})
	s.Require().NoError(err)
	s.Require().NotNil(v3)
	s.Equal(third, v3.JobID)
}

// Scenario: single-claim (§8 #2). Two agents calling request-work! one after
// the other against one waiting contract must not both succeed.
func (s *FacadeSuite) TestSingleClaim() {
	ctx := context.Background()
	s.putLeaf("report", "only")

	agentA, err := s.f.UpsertAgent(ctx, model.AgentDetails{Hostname: "a", SystemName: "linux", SystemVersion: "1"})
	s.Require().NoError(err)
	agentB, err := s.f.UpsertAgent(ctx, model.AgentDetails{Hostname: "b", SystemName: "linux", SystemVersion: "1"})
	s.Require().NoError(err)

	vA, errA := s.f.RequestWork(ctx, uuid.New(), agentA, model.ContractFilter{JobType: "report"})
	vB, errB := s.f.RequestWork(ctx, uuid.New(), agentB, model.ContractFilter{JobType: "report"})

	s.Require().NoError(errA)
	s.Require().NoError(errB)

	claims := 0
	if vA != nil {
		claims++
	}
	if vB != nil {
		claims++
	}
	s.Equal(1, claims)
}

// A request-work! retried with the same commitment_id returns the prior
// commitment's contract view idempotently instead of attempting a second
// claim (§4.4).
func (s *FacadeSuite) TestRequestWorkIdempotentByCommitmentID() {
	ctx := context.Background()
	s.putLeaf("report", "only")

	agentID, err := s.f.UpsertAgent(ctx, model.AgentDetails{Hostname: "h1", SystemName: "linux", SystemVersion: "1"})
	s.Require().NoError(err)

	commitmentID := uuid.New()
	first, err := s.f.RequestWork(ctx, commitmentID, agentID, model.ContractFilter{JobType: "report"})
	s.Require().NoError(err)
	s.Require().NotNil(first)

	second, err := s.f.RequestWork(ctx, commitmentID, agentID, model.ContractFilter{JobType: "report"})
	s.Require().NoError(err)
	s.Require().NotNil(second)
	s.Equal(first.ContractID, second.ContractID)
	s.Equal(first.JobID, second.JobID)
	s.Equal(commitmentID, second.CommitmentID)
}

// Scenario: dependency release (§8 #3). A parent job with one dependency is
// unclaimable until the dependency succeeds, at which point it becomes
// claimable with the dependency's result visible in its view.
func (s *FacadeSuite) TestDependencyRelease() {
	ctx := context.Background()

	childID := uuid.New()
	parentID, err := s.f.PutJob(ctx, model.JobSubmission{
		JobID:   uuid.New(),
		JobType: "aggregate",
		Dependencies: []model.DependencySubmission{
			{Job: &model.JobSubmission{JobID: childID, JobType: "fetch", RequestBody: body("child")}},
		},
	})
	s.Require().NoError(err)

	agentID, err := s.f.UpsertAgent(ctx, model.AgentDetails{Hostname: "h1", SystemName: "linux", SystemVersion: "1"})
	s.Require().NoError(err)

	v, err := s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "aggregate"})
	s.Require().NoError(err)
	s.Nil(v, "parent must not be claimable before its dependency succeeds")

	childWork, err := s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "fetch"})
	s.Require().NoError(err)
	s.Require().NotNil(childWork)
	s.Equal(childID, childWork.JobID)

	err = s.f.CompleteWork(ctx, childWork.CommitmentID, model.CompletionResult{
		Kind:       model.CompletionSuccess,
		ResultBody: body("child-result"),
	})
	s.Require().NoError(err)

	parentWork, err := s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "aggregate"})
	s.Require().NoError(err)
	s.Require().NotNil(parentWork)
	s.Equal(parentID, parentWork.JobID)
	s.Require().Len(parentWork.Dependencies, 1)
	s.JSONEq(`{"v":"child-result"}`, string(parentWork.Dependencies[0].ResultBody))
}

// Scenario: dynamic add-dependencies (§8 #4). A running job can graft new
// dependencies mid-flight; it only becomes claimable again once those
// resolve.
func (s *FacadeSuite) TestDynamicAddDependencies() {
	ctx := context.Background()
	jobID := s.putLeaf("crawl", "root")

	agentID, err := s.f.UpsertAgent(ctx, model.AgentDetails{Hostname: "h1", SystemName: "linux", SystemVersion: "1"})
	s.Require().NoError(err)

	work, err := s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "crawl"})
	s.Require().NoError(err)
	s.Require().NotNil(work)

	childID := uuid.New()
	err = s.f.CompleteWork(ctx, work.CommitmentID, model.CompletionResult{
		Kind: model.CompletionAddDependencies,
		NewDependencies: []model.DependencySubmission{
			{Job: &model.JobSubmission{JobID: childID, JobType: "fetch-page", RequestBody: body("page-1")}},
		},
	})
	s.Require().NoError(err)

	again, err := s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "crawl"})
	s.Require().NoError(err)
	s.Nil(again, "job must stay non-ready until the grafted dependency succeeds")

	childWork, err := s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "fetch-page"})
	s.Require().NoError(err)
	s.Require().NotNil(childWork)
	s.Equal(childID, childWork.JobID)

	err = s.f.CompleteWork(ctx, childWork.CommitmentID, model.CompletionResult{Kind: model.CompletionSuccess, ResultBody: body("page-1-result")})
	s.Require().NoError(err)

	again, err = s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "crawl"})
	s.Require().NoError(err)
	s.Require().NotNil(again)
	s.Equal(jobID, again.JobID)
}

// Scenario: pause cascades (§8 #5). Pausing a parent cancels the parent's
// own non-terminal contract and every descendant's.
func (s *FacadeSuite) TestPauseCascades() {
	ctx := context.Background()

	childID := uuid.New()
	parentID, err := s.f.PutJob(ctx, model.JobSubmission{
		JobID:   uuid.New(),
		JobType: "aggregate",
		Dependencies: []model.DependencySubmission{
			{Job: &model.JobSubmission{JobID: childID, JobType: "fetch", RequestBody: body("child")}},
		},
	})
	s.Require().NoError(err)

	err = s.f.PauseJob(ctx, parentID)
	s.Require().NoError(err)

	childView, err := s.f.GetJob(ctx, childID)
	s.Require().NoError(err)
	s.Equal(model.OutcomeCancelled, childView.Outcome)
}

// Scenario: pause mid-run surfaces a cancel instruction on the next
// heartbeat rather than through any push channel (§8 #6).
func (s *FacadeSuite) TestPauseMidRunSignalsCancelViaHeartbeat() {
	ctx := context.Background()
	jobID := s.putLeaf("report", "mid-run")

	agentID, err := s.f.UpsertAgent(ctx, model.AgentDetails{Hostname: "h1", SystemName: "linux", SystemVersion: "1"})
	s.Require().NoError(err)

	work, err := s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "report"})
	s.Require().NoError(err)
	s.Require().NotNil(work)

	hb, err := s.f.Heartbeat(ctx, work.CommitmentID)
	s.Require().NoError(err)
	s.Equal(model.InstructionContinue, hb.Instruction)

	err = s.f.PauseJob(ctx, jobID)
	s.Require().NoError(err)

	hb, err = s.f.Heartbeat(ctx, work.CommitmentID)
	s.Require().NoError(err)
	s.Equal(model.InstructionCancel, hb.Instruction)
}

// Scenario: try-later reschedules the same job with a due timestamp rather
// than terminating it (§8 #7).
func (s *FacadeSuite) TestTryLaterReschedules() {
	ctx := context.Background()
	jobID := s.putLeaf("poll", "not-ready-yet")

	agentID, err := s.f.UpsertAgent(ctx, model.AgentDetails{Hostname: "h1", SystemName: "linux", SystemVersion: "1"})
	s.Require().NoError(err)

	work, err := s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "poll"})
	s.Require().NoError(err)
	s.Require().NotNil(work)

	due := s.clock.now().Add(time.Hour)
	err = s.f.CompleteWork(ctx, work.CommitmentID, model.CompletionResult{
		Kind:           model.CompletionTryLater,
		TryLaterDue:    due,
		TryLaterReason: "upstream not ready",
	})
	s.Require().NoError(err)

	tooSoon, err := s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "poll"})
	s.Require().NoError(err)
	s.Nil(tooSoon, "successor contract must not be claimable before its due timestamp")

	s.clock.advance(2 * time.Hour)
	ready, err := s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "poll"})
	s.Require().NoError(err)
	s.Require().NotNil(ready)
	s.Equal(jobID, ready.JobID)
}

// Scenario: retry creates a fresh contract for a job (and its non-success
// descendants) after an error (§8 #8).
func (s *FacadeSuite) TestRetryAfterError() {
	ctx := context.Background()
	jobID := s.putLeaf("report", "flaky")

	agentID, err := s.f.UpsertAgent(ctx, model.AgentDetails{Hostname: "h1", SystemName: "linux", SystemVersion: "1"})
	s.Require().NoError(err)

	work, err := s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "report"})
	s.Require().NoError(err)
	s.Require().NotNil(work)

	err = s.f.CompleteWork(ctx, work.CommitmentID, model.CompletionResult{Kind: model.CompletionError, ErrorMessage: "boom"})
	s.Require().NoError(err)

	view, err := s.f.GetJob(ctx, jobID)
	s.Require().NoError(err)
	s.Equal(model.OutcomeError, view.Outcome)

	err = s.f.RetryJob(ctx, jobID)
	s.Require().NoError(err)

	retried, err := s.f.RequestWork(ctx, uuid.New(), agentID, model.ContractFilter{JobType: "report"})
	s.Require().NoError(err)
	s.Require().NotNil(retried)
	s.Equal(jobID, retried.JobID)
}

// Idempotent re-submission of the same job_id/request_body is a no-op; a
// differing request_body is a conflict (§3, §4.3).
func (s *FacadeSuite) TestIdempotentResubmission() {
	ctx := context.Background()
	jobID := uuid.New()

	sub := model.JobSubmission{JobID: jobID, JobType: "report", RequestBody: body("same")}
	_, err := s.f.PutJob(ctx, sub)
	s.Require().NoError(err)

	_, err = s.f.PutJob(ctx, sub)
	s.Require().NoError(err)

	conflicting := model.JobSubmission{JobID: jobID, JobType: "report", RequestBody: body("different")}
	_, err = s.f.PutJob(ctx, conflicting)
	s.Require().Error(err)
	s.True(errors.Is(err, model.ErrConflict))
}
