package claim

import (
	"fmt"
	"strings"
	"time"
)

// Violation severities.
const (
	SeverityBlocking = "blocking"
	SeverityWarning  = "warning"
)

// RuleViolation is one scrubbing finding. Blocking violations stop the claim
// until a human corrects it; warnings pass through with the claim.
type RuleViolation struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// Blocking reports whether any violation in the list is blocking.
func Blocking(violations []RuleViolation) bool {
	for _, v := range violations {
		if v.Severity == SeverityBlocking {
			return true
		}
	}
	return false
}

// Scrubber runs the fixed pre-submission edit set against a claim artifact.
type Scrubber struct {
	// payerEdits maps an insurer reference prefix to additional edits.
	payerEdits map[string]func(*Artifact) []RuleViolation
}

func NewScrubber() *Scrubber {
	s := &Scrubber{payerEdits: make(map[string]func(*Artifact) []RuleViolation)}

	// Medicare timely-filing window is stricter than commercial payers.
	s.payerEdits["Organization/medicare"] = func(a *Artifact) []RuleViolation {
		var out []RuleViolation
		if time.Since(a.ServiceDate) > 365*24*time.Hour {
			out = append(out, RuleViolation{
				Rule:     "payer-timely-filing",
				Severity: SeverityBlocking,
				Message:  "service date is outside the payer's 12-month filing window",
			})
		}
		return out
	}
	return s
}

// RegisterPayerEdit installs an extra edit for claims whose insurer reference
// starts with the given prefix.
func (s *Scrubber) RegisterPayerEdit(insurerPrefix string, edit func(*Artifact) []RuleViolation) {
	s.payerEdits[insurerPrefix] = edit
}

// Scrub runs every edit and returns the violations found. An empty result is
// a clean claim.
func (s *Scrubber) Scrub(a *Artifact) []RuleViolation {
	var violations []RuleViolation

	// Demographics present
	if a.PatientRef == "" {
		violations = append(violations, RuleViolation{
			Rule: "demographics-present", Severity: SeverityBlocking,
			Message: "patient reference is missing",
		})
	}
	if a.ProviderRef == "" {
		violations = append(violations, RuleViolation{
			Rule: "demographics-present", Severity: SeverityBlocking,
			Message: "provider reference is missing",
		})
	}
	if a.InsurerRef == "" {
		violations = append(violations, RuleViolation{
			Rule: "demographics-present", Severity: SeverityBlocking,
			Message: "insurer reference is missing",
		})
	}

	// Dates logically ordered
	if a.ServiceDate.IsZero() {
		violations = append(violations, RuleViolation{
			Rule: "dates-ordered", Severity: SeverityBlocking,
			Message: "service date is missing",
		})
	} else if a.ServiceDate.After(time.Now()) {
		violations = append(violations, RuleViolation{
			Rule: "dates-ordered", Severity: SeverityBlocking,
			Message: "service date is in the future",
		})
	}

	// Codes present on every line
	if len(a.Diagnoses) == 0 {
		violations = append(violations, RuleViolation{
			Rule: "codes-valid", Severity: SeverityBlocking,
			Message: "claim has no diagnoses",
		})
	}
	for _, d := range a.Diagnoses {
		if d.Code == "" {
			violations = append(violations, RuleViolation{
				Rule: "codes-valid", Severity: SeverityBlocking,
				Message: fmt.Sprintf("diagnosis %d has no code", d.Sequence),
			})
		}
	}
	for _, item := range a.Items {
		if item.Code == "" {
			violations = append(violations, RuleViolation{
				Rule: "codes-valid", Severity: SeverityBlocking,
				Message: fmt.Sprintf("service item %d has no code", item.Sequence),
			})
		}
		if item.Description == "" {
			violations = append(violations, RuleViolation{
				Rule: "codes-described", Severity: SeverityWarning,
				Message: fmt.Sprintf("service item %d (%s) has no description", item.Sequence, item.Code),
			})
		}
	}

	// Charges non-negative
	for _, item := range a.Items {
		if item.UnitPrice < 0 {
			violations = append(violations, RuleViolation{
				Rule: "charges-non-negative", Severity: SeverityBlocking,
				Message: fmt.Sprintf("service item %d (%s) has a negative charge", item.Sequence, item.Code),
			})
		}
		if item.UnitPrice == 0 {
			violations = append(violations, RuleViolation{
				Rule: "charges-non-negative", Severity: SeverityWarning,
				Message: fmt.Sprintf("service item %d (%s) has a zero charge", item.Sequence, item.Code),
			})
		}
	}

	// Payer-specific edits
	for prefix, edit := range s.payerEdits {
		if strings.HasPrefix(a.InsurerRef, prefix) {
			violations = append(violations, edit(a)...)
		}
	}

	return violations
}
