package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rcm/rcm/internal/domain/claim"
	"github.com/rcm/rcm/internal/platform/codes"
	"github.com/rcm/rcm/internal/platform/gateway"
)

// NewHandlers returns the claim pipeline in execution order.
func NewHandlers(gw gateway.Client, lookup codes.Lookup, claims claim.Repository, scrubber *claim.Scrubber) []Handler {
	return []Handler{
		&registrationHandler{},
		&eligibilityHandler{gw: gw},
		&preauthHandler{gw: gw},
		&codingHandler{lookup: lookup},
		&chargeAuditHandler{},
		&claimBuildHandler{claims: claims},
		&scrubbingHandler{claims: claims, scrubber: scrubber},
		&submissionHandler{gw: gw, claims: claims},
		&statusCheckHandler{gw: gw},
	}
}

func getRequest(wctx Context) (StartRequest, StepResult, bool) {
	var req StartRequest
	ok, err := wctx.Get(ContextKeyRequest, &req)
	if !ok || err != nil {
		return req, InvariantFailure("workflow context missing start request"), false
	}
	return req, StepResult{}, true
}

// classifyTransport maps a gateway error onto the retry policy. Retryable
// errors keep their cause; terminal rejections carry the gateway's own
// messages verbatim so operators see exactly what the payer said.
func classifyTransport(err error) StepResult {
	if gateway.IsRetryable(err) {
		return RetryableFailure(err.Error())
	}
	if reasons := gateway.RejectionReasons(err); len(reasons) > 0 {
		return TerminalTransportFailure(strings.Join(reasons, "; "))
	}
	return TerminalTransportFailure(err.Error())
}

type registrationHandler struct{}

func (h *registrationHandler) Name() string            { return StepRegistration }
func (h *registrationHandler) Applicable(Context) bool { return true }

func (h *registrationHandler) Execute(_ context.Context, wctx Context) StepResult {
	req, fail, ok := getRequest(wctx)
	if !ok {
		return fail
	}
	if req.PatientRef == "" {
		return ValidationFailure("patient reference is required")
	}
	if req.ProviderRef == "" {
		return ValidationFailure("provider reference is required")
	}
	if req.CoverageRef == "" {
		return ValidationFailure("coverage reference is required")
	}
	if req.InsurerRef == "" {
		return ValidationFailure("insurer reference is required")
	}
	if req.ServiceDate.IsZero() {
		return ValidationFailure("service date is required")
	}
	if len(req.Diagnoses) == 0 {
		return ValidationFailure("at least one diagnosis is required")
	}
	if len(req.Procedures) == 0 {
		return ValidationFailure("at least one procedure is required")
	}
	return Success(RegistrationOutput{
		PatientRef:  req.PatientRef,
		ProviderRef: req.ProviderRef,
		CoverageRef: req.CoverageRef,
		InsurerRef:  req.InsurerRef,
		ServiceDate: req.ServiceDate,
	})
}

type eligibilityHandler struct{ gw gateway.Client }

func (h *eligibilityHandler) Name() string            { return StepEligibility }
func (h *eligibilityHandler) Applicable(Context) bool { return true }

func (h *eligibilityHandler) Execute(ctx context.Context, wctx Context) StepResult {
	req, fail, ok := getRequest(wctx)
	if !ok {
		return fail
	}
	resp, err := h.gw.CheckEligibility(ctx, gateway.EligibilityRequest{
		PatientRef:  req.PatientRef,
		CoverageRef: req.CoverageRef,
		ServiceDate: req.ServiceDate,
	})
	if err != nil {
		return classifyTransport(err)
	}
	// An ineligible determination is a completed check, not a failure. The
	// downstream steps skip themselves when coverage is absent.
	return Success(EligibilityOutput{
		Eligible:            resp.Eligible,
		Copay:               resp.Copay,
		DeductibleRemaining: resp.DeductibleRemaining,
		RequiresPreauth:     resp.RequiresPreauth,
		Reason:              resp.Reason,
	})
}

type preauthHandler struct{ gw gateway.Client }

func (h *preauthHandler) Name() string { return StepPreauth }

func (h *preauthHandler) Applicable(wctx Context) bool {
	if !eligibleForBilling(wctx) {
		return false
	}
	var out EligibilityOutput
	if ok, err := wctx.Get(StepEligibility, &out); !ok || err != nil {
		return false
	}
	return out.RequiresPreauth
}

func (h *preauthHandler) Execute(ctx context.Context, wctx Context) StepResult {
	req, fail, ok := getRequest(wctx)
	if !ok {
		return fail
	}
	if req.Justification == "" {
		return ValidationFailure("pre-authorization requires a clinical justification")
	}
	procCodes := make([]string, 0, len(req.Procedures))
	for _, p := range req.Procedures {
		procCodes = append(procCodes, p.Code)
	}
	resp, err := h.gw.SubmitPreauth(ctx, gateway.PreauthRequest{
		PatientRef:    req.PatientRef,
		CoverageRef:   req.CoverageRef,
		Justification: req.Justification,
		Codes:         procCodes,
	})
	if err != nil {
		return classifyTransport(err)
	}
	if resp.AuthorizationNumber == "" {
		return TerminalTransportFailure("gateway returned an empty authorization number")
	}
	return Success(PreauthOutput{AuthorizationNumber: resp.AuthorizationNumber})
}

type codingHandler struct{ lookup codes.Lookup }

func (h *codingHandler) Name() string                 { return StepCoding }
func (h *codingHandler) Applicable(wctx Context) bool { return eligibleForBilling(wctx) }

func (h *codingHandler) Execute(ctx context.Context, wctx Context) StepResult {
	req, fail, ok := getRequest(wctx)
	if !ok {
		return fail
	}

	out := CodingOutput{}
	for _, d := range req.Diagnoses {
		info, err := h.lookup.Validate(ctx, d.System, d.Code)
		if err != nil {
			return RetryableFailure(fmt.Sprintf("code lookup %s/%s: %v", d.System, d.Code, err))
		}
		if !info.Valid {
			return ValidationFailure(fmt.Sprintf("unknown diagnosis code %s/%s", d.System, d.Code))
		}
		out.Diagnoses = append(out.Diagnoses, CodedItem{
			System:      info.System,
			Code:        info.Code,
			Description: info.Description,
		})
	}
	for _, p := range req.Procedures {
		info, err := h.lookup.Validate(ctx, p.System, p.Code)
		if err != nil {
			return RetryableFailure(fmt.Sprintf("code lookup %s/%s: %v", p.System, p.Code, err))
		}
		if !info.Valid {
			return ValidationFailure(fmt.Sprintf("unknown procedure code %s/%s", p.System, p.Code))
		}
		qty := p.Quantity
		if qty <= 0 {
			qty = 1
		}
		out.Procedures = append(out.Procedures, CodedItem{
			System:          info.System,
			Code:            info.Code,
			Description:     info.Description,
			Quantity:        qty,
			TypicalPrice:    info.TypicalPrice,
			RequiresPreauth: info.RequiresPreauth,
		})
	}
	return Success(out)
}

type chargeAuditHandler struct{}

func (h *chargeAuditHandler) Name() string                 { return StepChargeAudit }
func (h *chargeAuditHandler) Applicable(wctx Context) bool { return eligibleForBilling(wctx) }

func (h *chargeAuditHandler) Execute(_ context.Context, wctx Context) StepResult {
	var coding CodingOutput
	ok, err := wctx.Get(StepCoding, &coding)
	if !ok || err != nil {
		return InvariantFailure("charge audit requires a completed coding step")
	}
	if len(coding.Procedures) == 0 {
		return InvariantFailure("coding step produced no billable procedures")
	}

	out := ChargeAuditOutput{LineCharges: make(map[string]float64, len(coding.Procedures))}
	for _, p := range coding.Procedures {
		if p.Quantity <= 0 {
			return InvariantFailure(fmt.Sprintf("procedure %s has non-positive quantity %d", p.Code, p.Quantity))
		}
		if p.TypicalPrice < 0 {
			return InvariantFailure(fmt.Sprintf("procedure %s has negative price", p.Code))
		}
		charge := p.TypicalPrice * float64(p.Quantity)
		out.LineCharges[p.Code] += charge
		out.ExpectedTotal += charge
	}
	return Success(out)
}

type claimBuildHandler struct{ claims claim.Repository }

func (h *claimBuildHandler) Name() string                 { return StepClaimBuild }
func (h *claimBuildHandler) Applicable(wctx Context) bool { return eligibleForBilling(wctx) }

func (h *claimBuildHandler) Execute(ctx context.Context, wctx Context) StepResult {
	req, fail, ok := getRequest(wctx)
	if !ok {
		return fail
	}
	var coding CodingOutput
	if ok, err := wctx.Get(StepCoding, &coding); !ok || err != nil {
		return InvariantFailure("claim build requires a completed coding step")
	}

	var workflowID uuid.UUID
	if ok, err := wctx.Get(ContextKeyWorkflowID, &workflowID); !ok || err != nil {
		return InvariantFailure("workflow context missing workflow id")
	}

	in := claim.BuildInput{
		WorkflowID:  workflowID,
		PatientRef:  req.PatientRef,
		ProviderRef: req.ProviderRef,
		InsurerRef:  req.InsurerRef,
		ServiceDate: req.ServiceDate,
	}
	for _, d := range coding.Diagnoses {
		in.Diagnoses = append(in.Diagnoses, claim.Diagnosis{
			System: d.System, Code: d.Code, Description: d.Description,
		})
	}
	for _, p := range coding.Procedures {
		in.Items = append(in.Items, claim.ServiceItem{
			System: p.System, Code: p.Code, Description: p.Description,
			Quantity: p.Quantity, UnitPrice: p.TypicalPrice,
		})
	}
	a, err := claim.Build(in)
	if err != nil {
		return ValidationFailure("build claim: " + err.Error())
	}
	if err := h.claims.Create(ctx, a); err != nil {
		return RetryableFailure("persist claim: " + err.Error())
	}
	return Success(ClaimBuildOutput{ClaimID: a.ID.String(), Total: a.Total})
}

type scrubbingHandler struct {
	claims   claim.Repository
	scrubber *claim.Scrubber
}

func (h *scrubbingHandler) Name() string                 { return StepScrubbing }
func (h *scrubbingHandler) Applicable(wctx Context) bool { return eligibleForBilling(wctx) }

func (h *scrubbingHandler) Execute(ctx context.Context, wctx Context) StepResult {
	a, fail, ok := h.loadClaim(ctx, wctx)
	if !ok {
		return fail
	}
	violations := h.scrubber.Scrub(a)
	if claim.Blocking(violations) {
		return BlockingFailure("claim failed payer edits", violations)
	}
	var warnings []claim.RuleViolation
	for _, v := range violations {
		if v.Severity == claim.SeverityWarning {
			warnings = append(warnings, v)
		}
	}
	return Success(ScrubbingOutput{Clean: len(warnings) == 0, Warnings: warnings})
}

func (h *scrubbingHandler) loadClaim(ctx context.Context, wctx Context) (*claim.Artifact, StepResult, bool) {
	var built ClaimBuildOutput
	if ok, err := wctx.Get(StepClaimBuild, &built); !ok || err != nil {
		return nil, InvariantFailure("scrubbing requires a built claim"), false
	}
	a, err := claimByID(ctx, h.claims, built.ClaimID)
	if err != nil {
		return nil, RetryableFailure("load claim: " + err.Error()), false
	}
	return a, StepResult{}, true
}

type submissionHandler struct {
	gw     gateway.Client
	claims claim.Repository
}

func (h *submissionHandler) Name() string                 { return StepSubmission }
func (h *submissionHandler) Applicable(wctx Context) bool { return eligibleForBilling(wctx) }

func (h *submissionHandler) Execute(ctx context.Context, wctx Context) StepResult {
	var built ClaimBuildOutput
	if ok, err := wctx.Get(StepClaimBuild, &built); !ok || err != nil {
		return InvariantFailure("submission requires a built claim")
	}
	a, err := claimByID(ctx, h.claims, built.ClaimID)
	if err != nil {
		return RetryableFailure("load claim: " + err.Error())
	}
	if a.Frozen && a.GatewayRef != nil {
		// Already submitted on a prior attempt; reuse the receipt instead of
		// double-billing the payer.
		return Success(SubmissionOutput{GatewayRef: *a.GatewayRef})
	}

	receipt, err := h.gw.SubmitClaim(ctx, gateway.ClaimSubmission{
		ClaimRef: a.ID.String(),
		Payload:  a.ToFHIR(),
	})
	if err != nil {
		return classifyTransport(err)
	}

	a.Freeze(receipt.GatewayRef)
	if err := h.claims.Update(ctx, a); err != nil {
		return RetryableFailure("freeze claim: " + err.Error())
	}
	return Success(SubmissionOutput{GatewayRef: receipt.GatewayRef})
}

type statusCheckHandler struct{ gw gateway.Client }

func (h *statusCheckHandler) Name() string                 { return StepStatusCheck }
func (h *statusCheckHandler) Applicable(wctx Context) bool { return eligibleForBilling(wctx) }

func (h *statusCheckHandler) Execute(ctx context.Context, wctx Context) StepResult {
	var sub SubmissionOutput
	if ok, err := wctx.Get(StepSubmission, &sub); !ok || err != nil {
		return InvariantFailure("status check requires a submission receipt")
	}
	resp, err := h.gw.CheckStatus(ctx, sub.GatewayRef)
	if err != nil {
		return classifyTransport(err)
	}
	switch resp.Outcome {
	case gateway.OutcomePending:
		return Pending("claim still in adjudication")
	case gateway.OutcomeDenied, gateway.OutcomePaid:
		return Success(StatusOutput{
			Outcome:       resp.Outcome,
			DenialCode:    resp.DenialCode,
			DenialReason:  resp.DenialReason,
			PaidAmount:    resp.PaidAmount,
			AllowedAmount: resp.AllowedAmount,
			RemittanceRef: resp.RemittanceRef,
			Detail:        resp.Detail,
		})
	default:
		return TerminalTransportFailure("gateway reported unknown outcome " + resp.Outcome)
	}
}

func claimByID(ctx context.Context, repo claim.Repository, id string) (*claim.Artifact, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("malformed claim id %q: %w", id, err)
	}
	return repo.GetByID(ctx, parsed)
}
