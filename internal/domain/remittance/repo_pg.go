package remittance

import (
	"context"
	"errors"
	"fmt"

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

const denialCols = `id, workflow_id, claim_id, remittance_ref, denial_code, denial_reason,
	category, recommended_action, confidence, status, appeal_body, outcome_note,
	created_at, updated_at`

func scanDenial(row pgx.Row) (*DenialCase, error) {
	var dc DenialCase
	err := row.Scan(&dc.ID, &dc.WorkflowID, &dc.ClaimID, &dc.RemittanceRef,
		&dc.DenialCode, &dc.DenialReason, &dc.Category, &dc.RecommendedAction,
		&dc.Confidence, &dc.Status, &dc.AppealBody, &dc.OutcomeNote,
		&dc.CreatedAt, &dc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDenialNotFound
	}
	return &dc, err
}

func (r *repoPG) CreateDenial(ctx context.Context, dc *DenialCase) error {
	if dc.ID == uuid.Nil {
		dc.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO denial_case (id, workflow_id, claim_id, remittance_ref, denial_code,
			denial_reason, category, recommended_action, confidence, status, appeal_body)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		dc.ID, dc.WorkflowID, dc.ClaimID, dc.RemittanceRef, dc.DenialCode,
		dc.DenialReason, dc.Category, dc.RecommendedAction, dc.Confidence, dc.Status, dc.AppealBody).
		Scan(&dc.CreatedAt, &dc.UpdatedAt)
}

func (r *repoPG) GetDenial(ctx context.Context, id uuid.UUID) (*DenialCase, error) {
	return scanDenial(r.conn(ctx).QueryRow(ctx, `SELECT `+denialCols+` FROM denial_case WHERE id = $1`, id))
}

func (r *repoPG) GetDenialByRemittance(ctx context.Context, ref string) (*DenialCase, error) {
	return scanDenial(r.conn(ctx).QueryRow(ctx, `SELECT `+denialCols+` FROM denial_case WHERE remittance_ref = $1`, ref))
}

func (r *repoPG) UpdateDenial(ctx context.Context, dc *DenialCase) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE denial_case SET status=$2, appeal_body=$3, outcome_note=$4, updated_at=NOW()
		WHERE id = $1`,
		dc.ID, dc.Status, dc.AppealBody, dc.OutcomeNote)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDenialNotFound
	}
	return nil
}

func (r *repoPG) ListDenials(ctx context.Context, category, status string, limit, offset int) ([]*DenialCase, int, error) {
	conn := r.conn(ctx)

	where := " WHERE 1=1"
	args := []interface{}{}
	if category != "" {
		args = append(args, category)
		where += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if status != "" {
		args = append(args, status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM denial_case`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT `+denialCols+` FROM denial_case%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args))
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*DenialCase
	for rows.Next() {
		dc, err := scanDenial(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, dc)
	}
	return out, total, rows.Err()
}

const paymentCols = `id, workflow_id, claim_id, remittance_ref, charged_amount, allowed_amount,
	paid_amount, contractual_adjustment, patient_responsibility, variance, variance_amount, posted_at`

func scanPayment(row pgx.Row) (*PaymentRecord, error) {
	var p PaymentRecord
	err := row.Scan(&p.ID, &p.WorkflowID, &p.ClaimID, &p.RemittanceRef,
		&p.ChargedAmount, &p.AllowedAmount, &p.PaidAmount,
		&p.ContractualAdjustment, &p.PatientResponsibility,
		&p.Variance, &p.VarianceAmount, &p.PostedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	return &p, err
}

func (r *repoPG) CreatePayment(ctx context.Context, p *PaymentRecord) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment_record (id, workflow_id, claim_id, remittance_ref, charged_amount,
			allowed_amount, paid_amount, contractual_adjustment, patient_responsibility,
			variance, variance_amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING posted_at`,
		p.ID, p.WorkflowID, p.ClaimID, p.RemittanceRef, p.ChargedAmount,
		p.AllowedAmount, p.PaidAmount, p.ContractualAdjustment, p.PatientResponsibility,
		p.Variance, p.VarianceAmount).
		Scan(&p.PostedAt)
}

func (r *repoPG) GetPayment(ctx context.Context, id uuid.UUID) (*PaymentRecord, error) {
	return scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+paymentCols+` FROM payment_record WHERE id = $1`, id))
}

func (r *repoPG) GetPaymentByRemittance(ctx context.Context, ref string) (*PaymentRecord, error) {
	return scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+paymentCols+` FROM payment_record WHERE remittance_ref = $1`, ref))
}

func (r *repoPG) ListPayments(ctx context.Context, limit, offset int) ([]*PaymentRecord, int, error) {
	conn := r.conn(ctx)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM payment_record`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+paymentCols+` FROM payment_record ORDER BY posted_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
