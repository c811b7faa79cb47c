package remittance

import (
	"fmt"
	"strings"
	"time"

	"github.com/rcm/rcm/internal/domain/claim"
)

// AppealLetter is the drafted payer appeal for a denial case.
type AppealLetter struct {
	DenialCaseID string    `json:"denial_case_id"`
	ClaimRef     string    `json:"claim_ref"`
	InsurerRef   string    `json:"insurer_ref"`
	Subject      string    `json:"subject"`
	Body         string    `json:"body"`
	Deadline     time.Time `json:"deadline"`
}

// AppealBuilder drafts appeal letters. The window is counted from the day
// the denial case was opened.
type AppealBuilder struct {
	window time.Duration
}

func NewAppealBuilder() *AppealBuilder {
	return &AppealBuilder{window: 90 * 24 * time.Hour}
}

func (b *AppealBuilder) Build(dc *DenialCase, a *claim.Artifact) *AppealLetter {
	var sb strings.Builder
	fmt.Fprintf(&sb, "We are appealing the denial of claim %s (remittance %s), denied with code %s: %s.\n\n",
		a.ID, dc.RemittanceRef, dc.DenialCode, dc.DenialReason)
	fmt.Fprintf(&sb, "Date of service: %s. Billed amount: %.2f USD.\n", a.ServiceDate.Format("2006-01-02"), a.Total)
	fmt.Fprintf(&sb, "Diagnoses:\n")
	for _, d := range a.Diagnoses {
		fmt.Fprintf(&sb, "  %d. %s %s - %s\n", d.Sequence, strings.ToUpper(d.System), d.Code, d.Description)
	}
	fmt.Fprintf(&sb, "Services rendered:\n")
	for _, item := range a.Items {
		fmt.Fprintf(&sb, "  %d. %s %s x%d - %s\n", item.Sequence, strings.ToUpper(item.System), item.Code, item.Quantity, item.Description)
	}
	fmt.Fprintf(&sb, "\nThe services above were medically necessary and properly documented. We request reprocessing of this claim.")

	return &AppealLetter{
		DenialCaseID: dc.ID.String(),
		ClaimRef:     a.ID.String(),
		InsurerRef:   a.InsurerRef,
		Subject:      fmt.Sprintf("Appeal of denied claim %s (CARC %s)", a.ID, dc.DenialCode),
		Body:         sb.String(),
		Deadline:     dc.CreatedAt.Add(b.window),
	}
}
