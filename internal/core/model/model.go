// Package model defines the data shapes of the job-dispatch core: jobs,
// dependency edges, contracts, commitments and agents, plus the request/view
// types the engines and the transport layer pass between each other.
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Outcome is the state of a Contract.
type Outcome string

const (
	OutcomeWaiting   Outcome = "waiting"
	OutcomeRunning   Outcome = "running"
	OutcomeSuccess   Outcome = "success"
	OutcomeError     Outcome = "error"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeTryLater  Outcome = "try-later"
)

// Terminal reports whether the outcome never transitions further.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeSuccess, OutcomeError, OutcomeCancelled:
		return true
	}
	return false
}

// NonTerminal reports whether a contract in this outcome counts against the
// "at most one non-terminal contract per job" invariant. try-later is
// excluded: a try-later contract always has a fresh waiting sibling created
// in the same transaction, so treating it as non-terminal here would make
// the invariant un-satisfiable for the instant both rows exist.
func (o Outcome) NonTerminal() bool {
	return o == OutcomeWaiting || o == OutcomeRunning
}

// JSON is an opaque JSON tree stored as jsonb. Request and result bodies are
// never interpreted by the core; they pass through verbatim.
type JSON json.RawMessage

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
		return nil
	case string:
		*j = JSON(v)
		return nil
	default:
		return errors.New("model: incompatible type for JSON column")
	}
}

func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

func (j JSON) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

func (j *JSON) UnmarshalJSON(data []byte) error {
	*j = append((*j)[0:0], data...)
	return nil
}

// Tags is a small set of free-form labels, stored as a jsonb array.
type Tags []string

func (t *Tags) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return errors.New("model: incompatible type for Tags column")
		}
	}
	if len(bytes) == 0 {
		*t = nil
		return nil
	}
	return json.Unmarshal(bytes, t)
}

func (t Tags) Value() (driver.Value, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(t))
}

// Contains reports whether every element of want is present in t ("ALL of"
// containment matching, used for the planned multi-tag filter extension).
func (t Tags) Contains(want []string) bool {
	if len(want) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(t))
	for _, tag := range t {
		have[tag] = struct{}{}
	}
	for _, w := range want {
		if _, ok := have[w]; !ok {
			return false
		}
	}
	return true
}

// Job is the logical unit a client submitted. Immutable once created except
// for its relationship to contracts.
type Job struct {
	JobID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"job_id"`
	JobType            string     `gorm:"type:varchar(128);not null;index" json:"job_type"`
	JobName            string     `gorm:"type:varchar(256)" json:"job_name,omitempty"`
	RequestBody        JSON       `gorm:"type:jsonb" json:"request_body"`
	RequestHash        string     `gorm:"type:varchar(64);not null" json:"request_hash"`
	Tags               Tags       `gorm:"type:jsonb" json:"tags,omitempty"`
	Notes              string     `json:"notes,omitempty"`
	FungibilityGroupID uuid.UUID  `gorm:"type:uuid;index" json:"fungibility_group_id"`
	ParentJobID        *uuid.UUID `gorm:"type:uuid;index" json:"parent_job_id,omitempty"`
	CreatedAt          time.Time  `gorm:"index" json:"created_at"`
}

// Dependency is a directed edge: ParentJobID names the job that declared the
// dependency, ChildJobID the prerequisite job. The parent cannot be claimed
// until the child's latest contract succeeds.
type Dependency struct {
	ParentJobID uuid.UUID `gorm:"type:uuid;primaryKey" json:"parent_job_id"`
	ChildJobID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"child_job_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Contract is one attempt to execute a Job.
type Contract struct {
	ContractID     uuid.UUID  `gorm:"type:uuid;primaryKey" json:"contract_id"`
	JobID          uuid.UUID  `gorm:"type:uuid;not null;index:idx_contract_job_number,unique,priority:1" json:"job_id"`
	ContractNumber int        `gorm:"not null;index:idx_contract_job_number,unique,priority:2" json:"contract_number"`
	CreatedAt      time.Time  `json:"created_at"`
	Due            time.Time  `gorm:"index" json:"due"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Outcome        Outcome    `gorm:"type:varchar(16);not null;index" json:"outcome"`
	ResultBody     JSON       `gorm:"type:jsonb" json:"result_body,omitempty"`
	ErrorMessage   string     `json:"error,omitempty"`
}

// Commitment binds one agent to one contract.
type Commitment struct {
	CommitmentID  uuid.UUID `gorm:"type:uuid;primaryKey" json:"commitment_id"`
	ContractID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"contract_id"`
	AgentID       uuid.UUID `gorm:"type:uuid;not null;index" json:"agent_id"`
	ClaimedAt     time.Time `json:"claimed_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Agent is a worker identity, upsert-keyed by (hostname, system_name, system_version).
type Agent struct {
	AgentID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"agent_id"`
	Hostname      string    `gorm:"type:varchar(256);uniqueIndex:idx_agent_identity" json:"hostname"`
	SystemName    string    `gorm:"type:varchar(128);uniqueIndex:idx_agent_identity" json:"system_name"`
	SystemVersion string    `gorm:"type:varchar(64);uniqueIndex:idx_agent_identity" json:"system_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// AgentDetails identifies a worker for Agent Registry upsert.
type AgentDetails struct {
	Hostname      string
	SystemName    string
	SystemVersion string
}
