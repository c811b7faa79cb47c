package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rcm/rcm/internal/domain/claim"
)

// Step result kinds.
const (
	ResultSuccess   = "success"
	ResultRetryable = "retryable_failure"
	ResultTerminal  = "terminal_failure"
	ResultBlocking  = "blocking_failure"
	ResultPending   = "pending"
)

// StepResult is the classified outcome of one step execution. Handlers never
// return raw errors for business failures; every failure is converted into
// one of the result kinds so the orchestrator applies policy uniformly.
type StepResult struct {
	Kind        string
	Output      json.RawMessage
	FailureKind string
	Reason      string
	Violations  []claim.RuleViolation
}

// Success wraps a step output. Marshal failures are invariant violations:
// outputs are plain structs under the handler's control.
func Success(output interface{}) StepResult {
	raw, err := json.Marshal(output)
	if err != nil {
		return InvariantFailure("marshal step output: " + err.Error())
	}
	return StepResult{Kind: ResultSuccess, Output: raw}
}

// RetryableFailure reports a transient failure worth retrying with backoff.
func RetryableFailure(reason string) StepResult {
	return StepResult{Kind: ResultRetryable, FailureKind: KindRetryableTransport, Reason: reason}
}

// ValidationFailure reports bad input; no retry helps.
func ValidationFailure(reason string) StepResult {
	return StepResult{Kind: ResultTerminal, FailureKind: KindValidation, Reason: reason}
}

// TerminalTransportFailure reports a definitive external rejection.
func TerminalTransportFailure(reason string) StepResult {
	return StepResult{Kind: ResultTerminal, FailureKind: KindTerminalTransport, Reason: reason}
}

// InvariantFailure reports an internal bug signal; always terminal and
// logged at highest severity.
func InvariantFailure(reason string) StepResult {
	return StepResult{Kind: ResultTerminal, FailureKind: KindInvariant, Reason: reason}
}

// BlockingFailure pauses the workflow for human correction instead of
// failing it.
func BlockingFailure(reason string, violations []claim.RuleViolation) StepResult {
	return StepResult{Kind: ResultBlocking, FailureKind: KindBlockingRule, Reason: reason, Violations: violations}
}

// Pending reports that the external side has not finished adjudicating; the
// orchestrator schedules a delayed re-poll instead of burning a retry.
func Pending(reason string) StepResult {
	return StepResult{Kind: ResultPending, FailureKind: KindRetryableTransport, Reason: reason}
}

// Handler is one stage of the claim pipeline. Execute is a pure
// transformation of the workflow context; all I/O goes through the
// collaborators injected at construction. Applicable lets a handler remove
// itself from the sequence (skipped, not failed) based on earlier outputs.
type Handler interface {
	Name() string
	Applicable(wctx Context) bool
	Execute(ctx context.Context, wctx Context) StepResult
}

// StartRequest is the payload a workflow starts from, stored in the context
// under ContextKeyRequest.
type StartRequest struct {
	EncounterID   string          `json:"encounter_id"`
	PatientRef    string          `json:"patient_ref"`
	ProviderRef   string          `json:"provider_ref"`
	CoverageRef   string          `json:"coverage_ref"`
	InsurerRef    string          `json:"insurer_ref"`
	ServiceDate   time.Time       `json:"service_date"`
	Diagnoses     []CodeEntry     `json:"diagnoses"`
	Procedures    []ProcedureLine `json:"procedures"`
	Justification string          `json:"justification,omitempty"`
}

// CodeEntry is a raw system/code pair supplied by the caller.
type CodeEntry struct {
	System string `json:"system"`
	Code   string `json:"code"`
}

// ProcedureLine is a raw billed procedure supplied by the caller.
type ProcedureLine struct {
	System   string `json:"system"`
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
}

// RegistrationOutput echoes the validated references for downstream steps.
type RegistrationOutput struct {
	PatientRef  string    `json:"patient_ref"`
	ProviderRef string    `json:"provider_ref"`
	CoverageRef string    `json:"coverage_ref"`
	InsurerRef  string    `json:"insurer_ref"`
	ServiceDate time.Time `json:"service_date"`
}

// EligibilityOutput is the gateway's coverage determination. Eligible=false
// is valid data, not a failure; the rest of the pipeline is skipped.
type EligibilityOutput struct {
	Eligible            bool    `json:"eligible"`
	Copay               float64 `json:"copay"`
	DeductibleRemaining float64 `json:"deductible_remaining"`
	RequiresPreauth     bool    `json:"requires_preauth"`
	Reason              string  `json:"reason,omitempty"`
}

// PreauthOutput holds the payer authorization obtained for the encounter.
type PreauthOutput struct {
	AuthorizationNumber string `json:"authorization_number"`
}

// CodedItem is a validated, priced code produced by the coding step.
type CodedItem struct {
	System          string  `json:"system"`
	Code            string  `json:"code"`
	Description     string  `json:"description"`
	Quantity        int     `json:"quantity,omitempty"`
	TypicalPrice    float64 `json:"typical_price,omitempty"`
	RequiresPreauth bool    `json:"requires_preauth,omitempty"`
}

// CodingOutput carries the validated diagnosis and procedure codes.
type CodingOutput struct {
	Diagnoses  []CodedItem `json:"diagnoses"`
	Procedures []CodedItem `json:"procedures"`
}

// ChargeAuditOutput is the expected-charge computation over the coded items.
type ChargeAuditOutput struct {
	ExpectedTotal float64            `json:"expected_total"`
	LineCharges   map[string]float64 `json:"line_charges"`
}

// ClaimBuildOutput points at the persisted claim artifact.
type ClaimBuildOutput struct {
	ClaimID string  `json:"claim_id"`
	Total   float64 `json:"total"`
}

// ScrubbingOutput reports the edit findings on a clean or warned claim.
type ScrubbingOutput struct {
	Clean    bool                  `json:"clean"`
	Warnings []claim.RuleViolation `json:"warnings,omitempty"`
}

// SubmissionOutput holds the gateway's acceptance receipt.
type SubmissionOutput struct {
	GatewayRef string `json:"gateway_reference"`
}

// StatusOutput is the terminal adjudication outcome.
type StatusOutput struct {
	Outcome       string  `json:"outcome"`
	DenialCode    string  `json:"denial_code,omitempty"`
	DenialReason  string  `json:"denial_reason,omitempty"`
	PaidAmount    float64 `json:"paid_amount,omitempty"`
	AllowedAmount float64 `json:"allowed_amount,omitempty"`
	RemittanceRef string  `json:"remittance_ref,omitempty"`
	Detail        string  `json:"detail,omitempty"`
}

// eligibleForBilling reports whether the eligibility step found coverage.
// Steps after eligibility hang their Applicable checks on this.
func eligibleForBilling(wctx Context) bool {
	var out EligibilityOutput
	ok, err := wctx.Get(StepEligibility, &out)
	if !ok || err != nil {
		return false
	}
	return out.Eligible
}
