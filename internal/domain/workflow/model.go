package workflow

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rcm/rcm/internal/domain/claim"
)

// Workflow statuses.
const (
	StatusPending    = "PENDING"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusPaused     = "PAUSED"
	StatusCancelled  = "CANCELLED"
)

// Step record states.
const (
	StepStatePending   = "PENDING"
	StepStateRunning   = "RUNNING"
	StepStateCompleted = "COMPLETED"
	StepStateFailed    = "FAILED"
	StepStateSkipped   = "SKIPPED"
	StepStateRetrying  = "RETRYING"
)

// Failure kinds recorded on failed step attempts and failed workflows.
const (
	KindValidation         = "validation_error"
	KindRetryableTransport = "retryable_transport_error"
	KindTerminalTransport  = "terminal_transport_error"
	KindBlockingRule       = "blocking_rule_violation"
	KindInvariant          = "invariant_violation"
)

// Step names, in execution order.
const (
	StepRegistration = "registration"
	StepEligibility  = "eligibility"
	StepPreauth      = "pre_authorization"
	StepCoding       = "medical_coding"
	StepChargeAudit  = "charge_audit"
	StepClaimBuild   = "claim_build"
	StepScrubbing    = "scrubbing"
	StepSubmission   = "submission"
	StepStatusCheck  = "status_check"
)

// ContextKeyRequest holds the start payload inside the workflow context.
const ContextKeyRequest = "request"

// ContextKeyWorkflowID holds the owning instance's id so step handlers can
// tag artifacts they create without widening the Handler interface.
const ContextKeyWorkflowID = "workflow_id"

// ContextKeyResubmissionOf marks a workflow created by the denial sub-flow
// as a resubmission of an earlier workflow. At most one resubmission cycle
// runs per claim; a denial on a workflow already carrying this key goes to
// manual review.
const ContextKeyResubmissionOf = "resubmission_of"

// Context is the accumulated step-name to step-output mapping carried by a
// workflow instance. Later steps read the outputs of earlier ones from here.
type Context map[string]json.RawMessage

// Get decodes the value stored under key into out. The bool reports whether
// the key was present.
func (c Context) Get(key string, out interface{}) (bool, error) {
	raw, ok := c[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, err
	}
	return true, nil
}

// Set stores value under key, replacing any prior entry.
func (c Context) Set(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c[key] = raw
	return nil
}

// Clone returns a deep copy of the context.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// IsTerminal reports whether status is one of the terminal workflow states.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Instance maps to the workflow_instance table. Mutated exclusively by the
// orchestrator after each step attempt; never deleted, only marked terminal.
type Instance struct {
	ID               uuid.UUID `db:"id" json:"workflow_id"`
	EncounterID      string    `db:"encounter_id" json:"encounter_id"`
	Status           string    `db:"status" json:"status"`
	CurrentStepIndex int       `db:"current_step_index" json:"current_step_index"`
	Context          Context   `db:"context" json:"context"`
	Version          int       `db:"version" json:"version"`
	CancelRequested  bool      `db:"cancel_requested" json:"cancel_requested,omitempty"`

	// Failure detail, set when Status is FAILED.
	FailedStep    string `db:"failed_step" json:"failed_step,omitempty"`
	FailureKind   string `db:"failure_kind" json:"failure_kind,omitempty"`
	FailureReason string `db:"failure_reason" json:"failure_reason,omitempty"`

	// Blocking violations, set when Status is PAUSED so an operator can see
	// exactly what to correct.
	BlockingViolations []claim.RuleViolation `db:"-" json:"blocking_violations,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StepRecord maps to the workflow_step_record table. One row per attempted
// step per workflow; immutable once written. A retry appends a new record
// with an incremented attempt number, preserving the audit trail.
type StepRecord struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	WorkflowID    uuid.UUID       `db:"workflow_id" json:"workflow_id"`
	StepName      string          `db:"step_name" json:"step_name"`
	AttemptNumber int             `db:"attempt_number" json:"attempt_number"`
	State         string          `db:"state" json:"state"`
	InputSnapshot json.RawMessage `db:"input_snapshot" json:"input_snapshot,omitempty"`
	Output        json.RawMessage `db:"output" json:"output,omitempty"`
	Error         string          `db:"error" json:"error,omitempty"`
	FailureKind   string          `db:"failure_kind" json:"failure_kind,omitempty"`
	StartedAt     time.Time       `db:"started_at" json:"started_at"`
	FinishedAt    *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
}
