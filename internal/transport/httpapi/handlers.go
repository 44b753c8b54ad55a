package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nightslayer18/skeenode-contracts/internal/core/model"
)

// --- Job submission DTOs (§6 job submission payload) ---

type jobSubmissionDTO struct {
	JobID              *uuid.UUID                `json:"job_id,omitempty"`
	JobType            string                    `json:"job_type"`
	RequestBody        json.RawMessage           `json:"request_body"`
	Tags               []string                  `json:"tags,omitempty"`
	Notes              string                    `json:"notes,omitempty"`
	JobName            string                    `json:"job_name,omitempty"`
	FungibilityGroupID *uuid.UUID                `json:"fungibility_group_id,omitempty"`
	Dependencies       []dependencySubmissionDTO `json:"dependencies,omitempty"`
}

type dependencySubmissionDTO struct {
	jobSubmissionDTO
}

func (d dependencySubmissionDTO) isReference() bool {
	return d.JobType == "" && d.JobID != nil
}

func (d jobSubmissionDTO) toModel(jobID uuid.UUID) (model.JobSubmission, error) {
	deps := make([]model.DependencySubmission, 0, len(d.Dependencies))
	for _, dep := range d.Dependencies {
		ds, err := dep.toDependencySubmission()
		if err != nil {
			return model.JobSubmission{}, err
		}
		deps = append(deps, ds)
	}

	return model.JobSubmission{
		JobID:              jobID,
		JobType:            d.JobType,
		RequestBody:        model.JSON(d.RequestBody),
		Tags:               model.Tags(d.Tags),
		Notes:              d.Notes,
		JobName:            d.JobName,
		FungibilityGroupID: d.FungibilityGroupID,
		Dependencies:       deps,
	}, nil
}

func (d dependencySubmissionDTO) toDependencySubmission() (model.DependencySubmission, error) {
	if d.isReference() {
		return model.DependencySubmission{ExistingJobID: d.JobID}, nil
	}
	if d.JobType == "" {
		return model.DependencySubmission{}, model.NewError(model.KindInvalidPayload, "dependency missing job_type")
	}
	jobID := uuid.New()
	if d.JobID != nil {
		jobID = *d.JobID
	}
	sub, err := d.jobSubmissionDTO.toModel(jobID)
	if err != nil {
		return model.DependencySubmission{}, err
	}
	return model.DependencySubmission{Job: &sub}, nil
}

type jobViewResponse struct {
	JobID              uuid.UUID       `json:"job_id"`
	JobType            string          `json:"job_type"`
	JobName            string          `json:"job_name,omitempty"`
	RequestBody        json.RawMessage `json:"request_body"`
	Tags               []string        `json:"tags,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	FungibilityGroupID uuid.UUID       `json:"fungibility_group_id"`
	ParentJobID        *uuid.UUID      `json:"parent_job_id,omitempty"`
	Dependencies       []uuid.UUID     `json:"dependencies,omitempty"`
	Outcome            string          `json:"outcome,omitempty"`
}

func jobViewToResponse(v *model.JobView) jobViewResponse {
	return jobViewResponse{
		JobID:              v.JobID,
		JobType:            v.JobType,
		JobName:            v.JobName,
		RequestBody:        json.RawMessage(v.RequestBody),
		Tags:               v.Tags,
		Notes:              v.Notes,
		FungibilityGroupID: v.FungibilityGroupID,
		ParentJobID:        v.ParentJobID,
		Dependencies:       v.Dependencies,
		Outcome:            string(v.Outcome),
	}
}

// putJob handles PUT /api/jobs/:id (§6).
func (s *Server) putJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	var dto jobSubmissionDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if s.validator != nil {
		if err := s.validator.ValidateJobType(dto.JobType); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.validator.ValidateJobName(dto.JobName); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := s.validator.ValidateNotes(dto.Notes); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	sub, err := dto.toModel(jobID)
	if err != nil {
		writeError(c, err)
		return
	}

	id, err := s.facade.PutJob(c.Request.Context(), sub)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": id})
}

// getJob handles GET /api/jobs/:id (§6).
func (s *Server) getJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	view, err := s.facade.GetJob(c.Request.Context(), jobID)
	if err != nil {
		writeError(c, err)
		return
	}
	if view == nil {
		c.JSON(http.StatusOK, gin.H{"job": nil})
		return
	}

	c.JSON(http.StatusOK, jobViewToResponse(view))
}

// listJobs handles GET /api/jobs, the supplemented paged listing.
func (s *Server) listJobs(c *gin.Context) {
	limit, offset := pagingParams(c)

	views, err := s.facade.ListJobs(c.Request.Context(), limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	out := make([]jobViewResponse, len(views))
	for i := range views {
		out[i] = jobViewToResponse(&views[i])
	}

	c.JSON(http.StatusOK, gin.H{"jobs": out, "count": len(out)})
}

// pauseJob handles POST /api/jobs/:id/pause (§4.3).
func (s *Server) pauseJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	if err := s.facade.PauseJob(c.Request.Context(), jobID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": "paused"})
}

// retryJob handles POST /api/jobs/:id/retry (§4.3, §8 scenario 8).
func (s *Server) retryJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	if err := s.facade.RetryJob(c.Request.Context(), jobID); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_id": jobID, "status": "retried"})
}

// --- Commitments ---

type requestWorkRequest struct {
	CommitmentID uuid.UUID `json:"commitment_id"`
	JobType      string    `json:"job_type"`
	Tags         []string  `json:"tags,omitempty"`
}

type dependencyResultResponse struct {
	JobType     string          `json:"job_type"`
	RequestBody json.RawMessage `json:"request_body"`
	ResultBody  json.RawMessage `json:"result_body"`
}

func contractViewToResponse(v *model.ContractView) gin.H {
	deps := make([]dependencyResultResponse, len(v.Dependencies))
	for i, d := range v.Dependencies {
		deps[i] = dependencyResultResponse{
			JobType:     d.JobType,
			RequestBody: json.RawMessage(d.RequestBody),
			ResultBody:  json.RawMessage(d.ResultBody),
		}
	}

	return gin.H{
		"commitment_id": v.CommitmentID,
		"contract": gin.H{
			"job_id":       v.JobID,
			"contract_id":  v.ContractID,
			"request_body": json.RawMessage(v.RequestBody),
			"job_type":     v.JobType,
			"tags":         []string(v.Tags),
			"dependencies": deps,
		},
	}
}

// requestWork handles PUT /api/commitments (§6, the claim endpoint).
func (s *Server) requestWork(c *gin.Context) {
	var req requestWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.JobType == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_type is required"})
		return
	}
	if req.CommitmentID == uuid.Nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commitment_id is required"})
		return
	}

	agentID, err := s.resolveAgent(c)
	if err != nil {
		writeError(c, err)
		return
	}

	view, err := s.facade.RequestWork(c.Request.Context(), req.CommitmentID, agentID, model.ContractFilter{
		JobType: req.JobType,
		Tags:    req.Tags,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if view == nil {
		c.JSON(http.StatusOK, gin.H{"contract": nil})
		return
	}

	c.JSON(http.StatusOK, contractViewToResponse(view))
}

// resolveAgent maps the calling worker's declared identity to its Agent
// Registry id, upserting on first use (§4.1). The API key authenticates
// that the caller is a legitimate agent; the (hostname, system_name,
// system_version) triple it presents is what the registry actually keys on.
func (s *Server) resolveAgent(c *gin.Context) (uuid.UUID, error) {
	hostname := c.GetHeader("X-Agent-Hostname")
	systemName := c.GetHeader("X-Agent-System")
	systemVersion := c.GetHeader("X-Agent-Version")

	return s.facade.UpsertAgent(c.Request.Context(), model.AgentDetails{
		Hostname:      hostname,
		SystemName:    systemName,
		SystemVersion: systemVersion,
	})
}

// heartbeat handles POST /api/commitments/:id/heartbeat (§4.5, §8 scenario 6).
func (s *Server) heartbeat(c *gin.Context) {
	commitmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid commitment id"})
		return
	}

	result, err := s.facade.Heartbeat(c.Request.Context(), commitmentID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type completeWorkRequest struct {
	Kind            model.CompletionKind      `json:"kind"`
	ResultBody      json.RawMessage           `json:"result_body,omitempty"`
	ErrorMessage    string                    `json:"error,omitempty"`
	TryLaterDue     *string                   `json:"try_later_due,omitempty"`
	TryLaterReason  string                    `json:"try_later_reason,omitempty"`
	NewDependencies []dependencySubmissionDTO `json:"new_dependencies,omitempty"`
}

// completeWork handles PUT /api/commitments/:id (§4.4, §6).
func (s *Server) completeWork(c *gin.Context) {
	commitmentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid commitment id"})
		return
	}

	var req completeWorkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result := model.CompletionResult{
		Kind:           req.Kind,
		ResultBody:     model.JSON(req.ResultBody),
		ErrorMessage:   req.ErrorMessage,
		TryLaterReason: req.TryLaterReason,
	}

	if req.TryLaterDue != nil {
		due, err := parseTime(*req.TryLaterDue)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid try_later_due: " + err.Error()})
			return
		}
		result.TryLaterDue = due
	}

	for _, dep := range req.NewDependencies {
		ds, err := dep.toDependencySubmission()
		if err != nil {
			writeError(c, err)
			return
		}
		result.NewDependencies = append(result.NewDependencies, ds)
	}

	if err := s.facade.CompleteWork(c.Request.Context(), commitmentID, result); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"commitment_id": commitmentID, "status": "recorded"})
}

// --- Agents ---

func (s *Server) listAgents(c *gin.Context) {
	agents, err := s.facade.ListAgents(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents, "count": len(agents)})
}

func (s *Server) getAgent(c *gin.Context) {
	agentID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid agent id"})
		return
	}

	agent, err := s.facade.GetAgent(c.Request.Context(), agentID)
	if err != nil {
		writeError(c, err)
		return
	}
	if agent == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	c.JSON(http.StatusOK, agent)
}

// --- Contracts ---

func (s *Server) listContracts(c *gin.Context) {
	limit, offset := pagingParams(c)
	filter := model.ContractFilter{JobType: c.Query("job_type")}

	contracts, err := s.facade.ListContracts(c.Request.Context(), filter, limit, offset)
	if err != nil {
		writeError(c, err)
		return
	}

	if outcome := c.Query("outcome"); outcome != "" {
		filtered := make([]model.Contract, 0, len(contracts))
		for _, ct := range contracts {
			if string(ct.Outcome) == outcome {
				filtered = append(filtered, ct)
			}
		}
		contracts = filtered
	}

	c.JSON(http.StatusOK, gin.H{"contracts": contracts, "count": len(contracts)})
}

// --- Shared helpers ---

func pagingParams(c *gin.Context) (limit, offset int) {
	limit = 50
	offset = 0
	if v := c.Query("limit"); v != "" {
		if n, err := parseNonNegativeInt(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := parseNonNegativeInt(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}

func parseNonNegativeInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// writeError maps a model.Error's Kind to the HTTP status §7 implies;
// anything else is a raw internal failure.
func writeError(c *gin.Context, err error) {
	var coreErr *model.Error
	if errors.As(err, &coreErr) {
		switch coreErr.Kind {
		case model.KindConflict:
			c.JSON(http.StatusConflict, gin.H{"error": coreErr.Error(), "kind": coreErr.Kind})
			return
		case model.KindStaleCommitment:
			c.JSON(http.StatusConflict, gin.H{"error": coreErr.Error(), "kind": coreErr.Kind})
			return
		case model.KindNotFound:
			c.JSON(http.StatusNotFound, gin.H{"error": coreErr.Error(), "kind": coreErr.Kind})
			return
		case model.KindInvalidPayload:
			c.JSON(http.StatusBadRequest, gin.H{"error": coreErr.Error(), "kind": coreErr.Kind})
			return
		}
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "kind": model.KindInternal})
}
