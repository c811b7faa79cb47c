package remittance

import (
	"time"

	"github.com/google/uuid"
)

// Denial categories, a superset of the CARC groupings the classifier knows.
const (
	CategoryMissingInformation    = "missing-information"
	CategoryAuthorizationRequired = "authorization-required"
	CategoryCodingError           = "coding-error"
	CategoryMedicalNecessity      = "medical-necessity"
	CategoryTimelyFiling          = "timely-filing"
	CategoryNotCovered            = "not-covered"
	CategoryDuplicateClaim        = "duplicate-claim"
	CategoryEligibilityIssue      = "eligibility-issue"
	CategoryOther                 = "other"
)

// Recommended actions for a denial case.
const (
	ActionResubmit     = "resubmit"
	ActionAppeal       = "appeal"
	ActionManualReview = "manual_review"
)

// Denial case lifecycle states.
const (
	DenialOpen        = "open"
	DenialResubmitted = "resubmitted"
	DenialAppealed    = "appealed"
	DenialResolved    = "resolved"
	DenialWrittenOff  = "written_off"
)

// DenialCase is opened for every denied claim. The classifier fills the
// category and recommended action; operators drive it to a terminal state
// through the outcome endpoint.
type DenialCase struct {
	ID            uuid.UUID `db:"id" json:"id"`
	WorkflowID    uuid.UUID `db:"workflow_id" json:"workflow_id"`
	ClaimID       uuid.UUID `db:"claim_id" json:"claim_id"`
	RemittanceRef string    `db:"remittance_ref" json:"remittance_ref"`

	DenialCode   string `db:"denial_code" json:"denial_code"`
	DenialReason string `db:"denial_reason" json:"denial_reason"`

	Category          string  `db:"category" json:"category"`
	RecommendedAction string  `db:"recommended_action" json:"recommended_action"`
	Confidence        float64 `db:"confidence" json:"confidence"`

	Status      string  `db:"status" json:"status"`
	AppealBody  *string `db:"appeal_body" json:"appeal_body,omitempty"`
	OutcomeNote *string `db:"outcome_note" json:"outcome_note,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// PaymentRecord is the posted remittance for a paid claim. Amount math is
// fixed at posting time: contractual adjustment is charged minus allowed,
// patient responsibility is allowed minus paid.
type PaymentRecord struct {
	ID            uuid.UUID `db:"id" json:"id"`
	WorkflowID    uuid.UUID `db:"workflow_id" json:"workflow_id"`
	ClaimID       uuid.UUID `db:"claim_id" json:"claim_id"`
	RemittanceRef string    `db:"remittance_ref" json:"remittance_ref"`

	ChargedAmount         float64 `db:"charged_amount" json:"charged_amount"`
	AllowedAmount         float64 `db:"allowed_amount" json:"allowed_amount"`
	PaidAmount            float64 `db:"paid_amount" json:"paid_amount"`
	ContractualAdjustment float64 `db:"contractual_adjustment" json:"contractual_adjustment"`
	PatientResponsibility float64 `db:"patient_responsibility" json:"patient_responsibility"`

	Variance       bool    `db:"variance" json:"variance"`
	VarianceAmount float64 `db:"variance_amount" json:"variance_amount"`

	PostedAt time.Time `db:"posted_at" json:"posted_at"`
}

// NewPayment derives the adjustment fields from the raw amounts. A payment
// whose paid amount strays from the allowed amount by more than threshold is
// flagged for reconciliation.
func NewPayment(workflowID, claimID uuid.UUID, remittanceRef string, charged, allowed, paid, threshold float64) *PaymentRecord {
	variance := paid - allowed
	if variance < 0 {
		variance = -variance
	}
	return &PaymentRecord{
		ID:                    uuid.New(),
		WorkflowID:            workflowID,
		ClaimID:               claimID,
		RemittanceRef:         remittanceRef,
		ChargedAmount:         charged,
		AllowedAmount:         allowed,
		PaidAmount:            paid,
		ContractualAdjustment: charged - allowed,
		PatientResponsibility: allowed - paid,
		Variance:              variance > threshold,
		VarianceAmount:        paid - allowed,
	}
}
