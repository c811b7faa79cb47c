package claim

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcm/rcm/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const artifactCols = `id, workflow_id, patient_ref, provider_ref, insurer_ref,
	service_date, total, frozen, gateway_ref, created_at, updated_at`

func (r *repoPG) scanArtifact(row pgx.Row) (*Artifact, error) {
	var a Artifact
	err := row.Scan(&a.ID, &a.WorkflowID, &a.PatientRef, &a.ProviderRef, &a.InsurerRef,
		&a.ServiceDate, &a.Total, &a.Frozen, &a.GatewayRef, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Artifact) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	conn := r.conn(ctx)
	_, err := conn.Exec(ctx, `
		INSERT INTO claim_artifact (id, workflow_id, patient_ref, provider_ref, insurer_ref,
			service_date, total, frozen, gateway_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.WorkflowID, a.PatientRef, a.ProviderRef, a.InsurerRef,
		a.ServiceDate, a.Total, a.Frozen, a.GatewayRef)
	if err != nil {
		return err
	}
	if err := r.insertLines(ctx, conn, a); err != nil {
		return err
	}
	return nil
}

func (r *repoPG) insertLines(ctx context.Context, conn queryable, a *Artifact) error {
	for _, d := range a.Diagnoses {
		if _, err := conn.Exec(ctx, `
			INSERT INTO claim_diagnosis (claim_id, sequence, system, code, description)
			VALUES ($1,$2,$3,$4,$5)`,
			a.ID, d.Sequence, d.System, d.Code, d.Description); err != nil {
			return err
		}
	}
	for _, item := range a.Items {
		if _, err := conn.Exec(ctx, `
			INSERT INTO claim_item (claim_id, sequence, system, code, description, quantity, unit_price)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			a.ID, item.Sequence, item.System, item.Code, item.Description, item.Quantity, item.UnitPrice); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Artifact, error) {
	a, err := r.scanArtifact(r.conn(ctx).QueryRow(ctx, `SELECT `+artifactCols+` FROM claim_artifact WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *repoPG) GetByWorkflowID(ctx context.Context, workflowID uuid.UUID) (*Artifact, error) {
	a, err := r.scanArtifact(r.conn(ctx).QueryRow(ctx, `SELECT `+artifactCols+` FROM claim_artifact WHERE workflow_id = $1`, workflowID))
	if err != nil {
		return nil, err
	}
	if err := r.loadLines(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *repoPG) loadLines(ctx context.Context, a *Artifact) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT sequence, system, code, description FROM claim_diagnosis
		WHERE claim_id = $1 ORDER BY sequence`, a.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var d Diagnosis
		if err := rows.Scan(&d.Sequence, &d.System, &d.Code, &d.Description); err != nil {
			return err
		}
		a.Diagnoses = append(a.Diagnoses, d)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	itemRows, err := r.conn(ctx).Query(ctx, `
		SELECT sequence, system, code, description, quantity, unit_price FROM claim_item
		WHERE claim_id = $1 ORDER BY sequence`, a.ID)
	if err != nil {
		return err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var item ServiceItem
		if err := itemRows.Scan(&item.Sequence, &item.System, &item.Code, &item.Description, &item.Quantity, &item.UnitPrice); err != nil {
			return err
		}
		a.Items = append(a.Items, item)
	}
	return itemRows.Err()
}

func (r *repoPG) Update(ctx context.Context, a *Artifact) error {
	conn := r.conn(ctx)
	_, err := conn.Exec(ctx, `
		UPDATE claim_artifact SET patient_ref=$2, provider_ref=$3, insurer_ref=$4,
			service_date=$5, total=$6, frozen=$7, gateway_ref=$8, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.PatientRef, a.ProviderRef, a.InsurerRef,
		a.ServiceDate, a.Total, a.Frozen, a.GatewayRef)
	if err != nil {
		return err
	}

	// Line amendments replace the full set.
	if _, err := conn.Exec(ctx, `DELETE FROM claim_diagnosis WHERE claim_id = $1`, a.ID); err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, `DELETE FROM claim_item WHERE claim_id = $1`, a.ID); err != nil {
		return err
	}
	return r.insertLines(ctx, conn, a)
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Artifact, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claim_artifact`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+artifactCols+` FROM claim_artifact ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Artifact
	for rows.Next() {
		a, err := r.scanArtifact(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, a := range items {
		if err := r.loadLines(ctx, a); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}
