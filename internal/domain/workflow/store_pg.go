package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcm/rcm/internal/domain/claim"
	"github.com/rcm/rcm/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type storePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) Store { return &storePG{pool: pool} }

func (s *storePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return s.pool
}

const instanceCols = `id, encounter_id, status, current_step_index, context, version,
	cancel_requested, failed_step, failure_kind, failure_reason, blocking_violations,
	created_at, updated_at`

func scanInstance(row pgx.Row) (*Instance, error) {
	var inst Instance
	var ctxRaw, violationsRaw []byte
	err := row.Scan(&inst.ID, &inst.EncounterID, &inst.Status, &inst.CurrentStepIndex,
		&ctxRaw, &inst.Version, &inst.CancelRequested,
		&inst.FailedStep, &inst.FailureKind, &inst.FailureReason, &violationsRaw,
		&inst.CreatedAt, &inst.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(ctxRaw) > 0 {
		if err := json.Unmarshal(ctxRaw, &inst.Context); err != nil {
			return nil, fmt.Errorf("decode workflow context: %w", err)
		}
	}
	if inst.Context == nil {
		inst.Context = Context{}
	}
	if len(violationsRaw) > 0 {
		if err := json.Unmarshal(violationsRaw, &inst.BlockingViolations); err != nil {
			return nil, fmt.Errorf("decode blocking violations: %w", err)
		}
	}
	return &inst, nil
}

func marshalViolations(v []claim.RuleViolation) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}

func (s *storePG) Create(ctx context.Context, encounterID string, initial Context) (*Instance, error) {
	conn := s.conn(ctx)

	var exists bool
	err := conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM workflow_instance
			WHERE encounter_id = $1 AND status NOT IN ($2, $3, $4)
		)`, encounterID, StatusCompleted, StatusFailed, StatusCancelled).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateWorkflow
	}

	inst := &Instance{
		ID:          uuid.New(),
		EncounterID: encounterID,
		Status:      StatusPending,
		Context:     initial.Clone(),
		Version:     1,
	}
	if err := inst.Context.Set(ContextKeyWorkflowID, inst.ID); err != nil {
		return nil, err
	}
	ctxRaw, err := json.Marshal(inst.Context)
	if err != nil {
		return nil, err
	}
	err = conn.QueryRow(ctx, `
		INSERT INTO workflow_instance (id, encounter_id, status, current_step_index, context, version)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		inst.ID, inst.EncounterID, inst.Status, inst.CurrentStepIndex, ctxRaw, inst.Version).
		Scan(&inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return inst, nil
}

func (s *storePG) Load(ctx context.Context, id uuid.UUID) (*Instance, error) {
	return scanInstance(s.conn(ctx).QueryRow(ctx,
		`SELECT `+instanceCols+` FROM workflow_instance WHERE id = $1`, id))
}

func (s *storePG) List(ctx context.Context, status string, limit, offset int) ([]*Instance, int, error) {
	conn := s.conn(ctx)

	where := ""
	args := []interface{}{}
	if status != "" {
		where = " WHERE status = $1"
		args = append(args, status)
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM workflow_instance`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT `+instanceCols+` FROM workflow_instance%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inst)
	}
	return out, total, rows.Err()
}

func (s *storePG) ListResumable(ctx context.Context, staleAfter time.Duration) ([]*Instance, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT `+instanceCols+` FROM workflow_instance
		WHERE (status = $1 OR (status = $2 AND failure_kind = $3)) AND updated_at < $4
		ORDER BY updated_at`, StatusInProgress, StatusFailed, KindRetryableTransport, time.Now().Add(-staleAfter))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *storePG) SaveStepResult(ctx context.Context, inst *Instance, rec *StepRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.WorkflowID = inst.ID
	_, err = tx.Exec(ctx, `
		INSERT INTO workflow_step_record (id, workflow_id, step_name, attempt_number, state,
			input_snapshot, output, error, failure_kind, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rec.ID, rec.WorkflowID, rec.StepName, rec.AttemptNumber, rec.State,
		rec.InputSnapshot, rec.Output, rec.Error, rec.FailureKind, rec.StartedAt, rec.FinishedAt)
	if err != nil {
		return err
	}

	if err := s.writeInstance(ctx, tx, inst); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *storePG) UpdateStatus(ctx context.Context, inst *Instance) error {
	return s.writeInstance(ctx, s.conn(ctx), inst)
}

// writeInstance persists every mutable instance field with a version check.
// The WHERE clause matching the caller's version is what makes concurrent
// writers lose cleanly instead of clobbering each other.
func (s *storePG) writeInstance(ctx context.Context, conn queryable, inst *Instance) error {
	ctxRaw, err := json.Marshal(inst.Context)
	if err != nil {
		return err
	}
	violationsRaw, err := marshalViolations(inst.BlockingViolations)
	if err != nil {
		return err
	}

	tag, err := conn.Exec(ctx, `
		UPDATE workflow_instance
		SET status=$2, current_step_index=$3, context=$4, version=version+1,
			cancel_requested=$5, failed_step=$6, failure_kind=$7, failure_reason=$8,
			blocking_violations=$9, updated_at=NOW()
		WHERE id = $1 AND version = $10`,
		inst.ID, inst.Status, inst.CurrentStepIndex, ctxRaw,
		inst.CancelRequested, inst.FailedStep, inst.FailureKind, inst.FailureReason,
		violationsRaw, inst.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.conn(ctx).QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM workflow_instance WHERE id = $1)`, inst.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	inst.Version++
	return nil
}

func (s *storePG) ListSteps(ctx context.Context, workflowID uuid.UUID) ([]*StepRecord, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, workflow_id, step_name, attempt_number, state, input_snapshot,
			output, error, failure_kind, started_at, finished_at
		FROM workflow_step_record
		WHERE workflow_id = $1
		ORDER BY started_at, attempt_number`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*StepRecord
	for rows.Next() {
		var rec StepRecord
		if err := rows.Scan(&rec.ID, &rec.WorkflowID, &rec.StepName, &rec.AttemptNumber, &rec.State,
			&rec.InputSnapshot, &rec.Output, &rec.Error, &rec.FailureKind, &rec.StartedAt, &rec.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
