package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a workflow instance does not exist.
	ErrNotFound = errors.New("workflow not found")

	// ErrDuplicateWorkflow is returned when an active workflow already
	// exists for the encounter.
	ErrDuplicateWorkflow = errors.New("active workflow already exists for encounter")

	// ErrVersionConflict is returned when a version-checked write loses the
	// race against a concurrent writer. The caller reloads and retries or
	// gives up.
	ErrVersionConflict = errors.New("workflow version conflict")
)

// Store persists workflow instances and their append-only step records.
//
// SaveStepResult and UpdateStatus are optimistic-concurrency writes: they
// match on the instance's current Version, increment it on success, and
// return ErrVersionConflict when another writer got there first.
type Store interface {
	// Create inserts a new PENDING instance. Fails with
	// ErrDuplicateWorkflow when a non-terminal instance already exists for
	// the encounter.
	Create(ctx context.Context, encounterID string, initial Context) (*Instance, error)

	Load(ctx context.Context, id uuid.UUID) (*Instance, error)

	// List returns instances filtered by status ("" for all), newest first.
	List(ctx context.Context, status string, limit, offset int) ([]*Instance, int, error)

	// ListResumable returns instances a sweeper may re-drive: IN_PROGRESS
	// instances whose worker died, and FAILED instances whose failure kind
	// is a retryable transport error. Both are filtered to those not
	// updated within staleAfter.
	ListResumable(ctx context.Context, staleAfter time.Duration) ([]*Instance, error)

	// SaveStepResult atomically appends rec and persists the updated
	// instance in one version-checked write.
	SaveStepResult(ctx context.Context, inst *Instance, rec *StepRecord) error

	// UpdateStatus persists the instance's mutable fields in a
	// version-checked write without appending a step record.
	UpdateStatus(ctx context.Context, inst *Instance) error

	// ListSteps returns all step records for a workflow ordered by start
	// time then attempt number.
	ListSteps(ctx context.Context, workflowID uuid.UUID) ([]*StepRecord, error)
}
