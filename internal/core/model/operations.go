package model

import (
	"time"

	"github.com/google/uuid"
)

// DependencySubmission is either an inline job payload or a reference to an
// already-existing job (the with-dependency-on case).
type DependencySubmission struct {
	ExistingJobID *uuid.UUID
	Job           *JobSubmission
}

// JobSubmission is the payload accepted by put-job! (§6's job submission
// payload, plus the recursive dependencies it may carry).
type JobSubmission struct {
	JobID              uuid.UUID
	JobType            string
	RequestBody        JSON
	Tags               Tags
	Notes              string
	JobName            string
	FungibilityGroupID *uuid.UUID
	Dependencies       []DependencySubmission
}

// DependencyResult is how a dependency is rendered inside a ContractView:
// the worker sees the dependency's declared shape and its completed result.
type DependencyResult struct {
	JobType     string `json:"job_type"`
	RequestBody JSON   `json:"request_body"`
	ResultBody  JSON   `json:"result_body"`
}

// ContractView is the full contract handed to a worker on a successful claim.
type ContractView struct {
	CommitmentID uuid.UUID          `json:"commitment_id"`
	JobID        uuid.UUID          `json:"job_id"`
	ContractID   uuid.UUID          `json:"contract_id"`
	RequestBody  JSON               `json:"request_body"`
	JobType      string             `json:"job_type"`
	Tags         Tags               `json:"tags,omitempty"`
	Dependencies []DependencyResult `json:"dependencies"`
}

// JobView is the read-only projection returned by get-job.
type JobView struct {
	JobID              uuid.UUID   `json:"job_id"`
	JobType            string      `json:"job_type"`
	JobName            string      `json:"job_name,omitempty"`
	RequestBody        JSON        `json:"request_body"`
	Tags               Tags        `json:"tags,omitempty"`
	Notes              string      `json:"notes,omitempty"`
	FungibilityGroupID uuid.UUID   `json:"fungibility_group_id"`
	ParentJobID        *uuid.UUID  `json:"parent_job_id,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	Dependencies       []uuid.UUID `json:"dependencies,omitempty"`
	// Outcome is the outcome of the job's latest contract, or "" if the job
	// has never had one (a non-leaf job still waiting on its dependencies).
	Outcome Outcome `json:"outcome,omitempty"`
}

// ContractFilter selects candidate contracts for request-work!.
type ContractFilter struct {
	JobType string
	// Tags, when non-empty, requires the job to carry every listed tag
	// (§9: planned extension, not exercised by the tested FIFO contract).
	Tags []string
}

// CompletionKind is the tag of the sum type complete-work! accepts (§4.4, §9).
type CompletionKind string

const (
	CompletionSuccess         CompletionKind = "success"
	CompletionError           CompletionKind = "error"
	CompletionCancelled       CompletionKind = "cancelled"
	CompletionTryLater        CompletionKind = "try-later"
	CompletionAddDependencies CompletionKind = "add-dependencies"
)

// CompletionResult is the tagged value passed to complete-work!. Exactly the
// fields relevant to Kind are read; the others are ignored.
type CompletionResult struct {
	Kind            CompletionKind
	ResultBody      JSON
	ErrorMessage    string
	TryLaterDue     time.Time
	TryLaterReason  string
	NewDependencies []DependencySubmission
}

// HeartbeatInstruction is the sole out-of-band channel a worker has for
// learning its contract was cancelled (§4.5, §9).
type HeartbeatInstruction string

const (
	InstructionContinue HeartbeatInstruction = "continue"
	InstructionCancel   HeartbeatInstruction = "cancel"
)

// HeartbeatResult is the return value of heartbeat!.
type HeartbeatResult struct {
	Instruction HeartbeatInstruction `json:"instruction"`
}
