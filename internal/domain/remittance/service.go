package remittance

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/domain/claim"
	"github.com/rcm/rcm/internal/domain/workflow"
)

// Service owns the denial and payment sub-flows. It is the
// workflow.OutcomeDispatcher the orchestrator hands completed adjudications
// to.
type Service struct {
	repo    Repository
	claims  claim.Repository
	appeals *AppealBuilder

	varianceThreshold float64
	logger            zerolog.Logger
}

func NewService(repo Repository, claims claim.Repository, varianceThreshold float64, logger zerolog.Logger) *Service {
	return &Service{
		repo:              repo,
		claims:            claims,
		appeals:           NewAppealBuilder(),
		varianceThreshold: varianceThreshold,
		logger:            logger.With().Str("component", "remittance").Logger(),
	}
}

// ClaimDenied opens a denial case for the adjudication. Posting is
// idempotent per remittance reference: a redelivered denial changes nothing
// and triggers no second resubmission.
func (s *Service) ClaimDenied(ctx context.Context, inst *workflow.Instance, claimID string, out workflow.StatusOutput) (bool, error) {
	ref := out.RemittanceRef
	if ref == "" {
		ref = "wf:" + inst.ID.String()
	}
	if _, err := s.repo.GetDenialByRemittance(ctx, ref); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrDenialNotFound) {
		return false, err
	}

	cid, err := uuid.Parse(claimID)
	if err != nil {
		return false, fmt.Errorf("malformed claim id %q: %w", claimID, err)
	}

	verdict := Classify(out.DenialCode, out.DenialReason)
	dc := &DenialCase{
		WorkflowID:        inst.ID,
		ClaimID:           cid,
		RemittanceRef:     ref,
		DenialCode:        out.DenialCode,
		DenialReason:      out.DenialReason,
		Category:          verdict.Category,
		RecommendedAction: verdict.Action,
		Confidence:        verdict.Confidence,
		Status:            DenialOpen,
	}

	if verdict.Action == ActionAppeal {
		if a, err := s.claims.GetByID(ctx, cid); err == nil {
			letter := s.appeals.Build(dc, a)
			dc.AppealBody = &letter.Body
		}
	}

	if err := s.repo.CreateDenial(ctx, dc); err != nil {
		return false, err
	}
	s.logger.Info().
		Str("workflow_id", inst.ID.String()).
		Str("denial_code", dc.DenialCode).
		Str("category", dc.Category).
		Str("action", dc.RecommendedAction).
		Msg("denial case opened")

	return verdict.Action == ActionResubmit, nil
}

// ClaimPaid posts the payment. Idempotent per remittance reference.
func (s *Service) ClaimPaid(ctx context.Context, inst *workflow.Instance, claimID string, out workflow.StatusOutput) error {
	ref := out.RemittanceRef
	if ref == "" {
		ref = "wf:" + inst.ID.String()
	}
	if _, err := s.repo.GetPaymentByRemittance(ctx, ref); err == nil {
		return nil
	} else if !errors.Is(err, ErrPaymentNotFound) {
		return err
	}

	cid, err := uuid.Parse(claimID)
	if err != nil {
		return fmt.Errorf("malformed claim id %q: %w", claimID, err)
	}
	a, err := s.claims.GetByID(ctx, cid)
	if err != nil {
		return fmt.Errorf("load claim %s: %w", claimID, err)
	}

	p := NewPayment(inst.ID, cid, ref, a.Total, out.AllowedAmount, out.PaidAmount, s.varianceThreshold)
	if err := s.repo.CreatePayment(ctx, p); err != nil {
		return err
	}

	evt := s.logger.Info()
	if p.Variance {
		evt = s.logger.Warn().Float64("variance_amount", p.VarianceAmount)
	}
	evt.Str("workflow_id", inst.ID.String()).
		Str("remittance_ref", ref).
		Float64("paid", p.PaidAmount).
		Msg("payment posted")
	return nil
}

func (s *Service) GetDenial(ctx context.Context, id uuid.UUID) (*DenialCase, error) {
	return s.repo.GetDenial(ctx, id)
}

func (s *Service) ListDenials(ctx context.Context, category, status string, limit, offset int) ([]*DenialCase, int, error) {
	return s.repo.ListDenials(ctx, category, status, limit, offset)
}

var denialOutcomes = map[string]bool{
	DenialResubmitted: true,
	DenialAppealed:    true,
	DenialResolved:    true,
	DenialWrittenOff:  true,
}

// RecordOutcome moves an open denial case to an operator-chosen outcome.
func (s *Service) RecordOutcome(ctx context.Context, id uuid.UUID, outcome, note string) (*DenialCase, error) {
	if !denialOutcomes[outcome] {
		return nil, fmt.Errorf("unknown denial outcome %q", outcome)
	}
	dc, err := s.repo.GetDenial(ctx, id)
	if err != nil {
		return nil, err
	}
	if dc.Status != DenialOpen && dc.Status != DenialAppealed && dc.Status != DenialResubmitted {
		return nil, fmt.Errorf("denial case is already %s", dc.Status)
	}
	dc.Status = outcome
	if note != "" {
		dc.OutcomeNote = &note
	}
	if err := s.repo.UpdateDenial(ctx, dc); err != nil {
		return nil, err
	}
	return dc, nil
}

func (s *Service) GetPayment(ctx context.Context, id uuid.UUID) (*PaymentRecord, error) {
	return s.repo.GetPayment(ctx, id)
}

func (s *Service) ListPayments(ctx context.Context, limit, offset int) ([]*PaymentRecord, int, error) {
	return s.repo.ListPayments(ctx, limit, offset)
}

// PaymentReport is the reconciliation rollup over all posted payments.
type PaymentReport struct {
	Payments              int      `json:"payments"`
	TotalCharged          float64  `json:"total_charged"`
	TotalAllowed          float64  `json:"total_allowed"`
	TotalPaid             float64  `json:"total_paid"`
	ContractualAdjustment float64  `json:"contractual_adjustment"`
	PatientResponsibility float64  `json:"patient_responsibility"`
	VarianceCount         int      `json:"variance_count"`
	VarianceRefs          []string `json:"variance_refs,omitempty"`
}

// Report aggregates every posted payment into a reconciliation summary.
func (s *Service) Report(ctx context.Context) (*PaymentReport, error) {
	report := &PaymentReport{}
	for offset := 0; ; {
		page, total, err := s.repo.ListPayments(ctx, 500, offset)
		if err != nil {
			return nil, err
		}
		for _, p := range page {
			report.Payments++
			report.TotalCharged += p.ChargedAmount
			report.TotalAllowed += p.AllowedAmount
			report.TotalPaid += p.PaidAmount
			report.ContractualAdjustment += p.ContractualAdjustment
			report.PatientResponsibility += p.PatientResponsibility
			if p.Variance {
				report.VarianceCount++
				report.VarianceRefs = append(report.VarianceRefs, p.RemittanceRef)
			}
		}
		offset += len(page)
		if offset >= total || len(page) == 0 {
			break
		}
	}
	return report, nil
}
