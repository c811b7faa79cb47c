package remittance

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rcm/rcm/internal/domain/claim"
	"github.com/rcm/rcm/internal/domain/workflow"
)

func TestClassify_CARCTable(t *testing.T) {
	cases := []struct {
		code     string
		category string
		action   string
	}{
		{"16", CategoryMissingInformation, ActionResubmit},
		{"18", CategoryDuplicateClaim, ActionManualReview},
		{"29", CategoryTimelyFiling, ActionAppeal},
		{"50", CategoryMedicalNecessity, ActionAppeal},
		{"96", CategoryNotCovered, ActionAppeal},
		{"109", CategoryEligibilityIssue, ActionManualReview},
		{"181", CategoryCodingError, ActionResubmit},
		{"197", CategoryAuthorizationRequired, ActionAppeal},
	}
	for _, tc := range cases {
		got := Classify(tc.code, "")
		if got.Category != tc.category || got.Action != tc.action {
			t.Errorf("Classify(%q) = %s/%s, want %s/%s", tc.code, got.Category, got.Action, tc.category, tc.action)
		}
		if got.Confidence < 0.8 {
			t.Errorf("table hit for %q should be high confidence, got %v", tc.code, got.Confidence)
		}
	}
}

func TestClassify_ReasonText(t *testing.T) {
	got := Classify("A99", "Claim denied: missing documentation for service line 2")
	if got.Category != CategoryMissingInformation || got.Action != ActionResubmit {
		t.Errorf("expected missing-information/resubmit, got %s/%s", got.Category, got.Action)
	}

	got = Classify("", "Service not medically necessary per plan policy")
	if got.Category != CategoryMedicalNecessity || got.Action != ActionAppeal {
		t.Errorf("expected medical-necessity/appeal, got %s/%s", got.Category, got.Action)
	}
}

func TestClassify_UnknownFallsToManualReview(t *testing.T) {
	got := Classify("Z777", "inscrutable payer remark")
	if got.Category != CategoryOther || got.Action != ActionManualReview {
		t.Errorf("expected other/manual_review, got %s/%s", got.Category, got.Action)
	}
	if got.Confidence >= 0.5 {
		t.Errorf("fallback must be low confidence, got %v", got.Confidence)
	}
}

func TestNewPayment_AdjustmentMath(t *testing.T) {
	p := NewPayment(uuid.New(), uuid.New(), "ERA-1", 1000, 800, 800, 50)
	if p.ContractualAdjustment != 200 {
		t.Errorf("contractual adjustment = %v, want 200", p.ContractualAdjustment)
	}
	if p.PatientResponsibility != 0 {
		t.Errorf("patient responsibility = %v, want 0", p.PatientResponsibility)
	}
	if p.Variance {
		t.Error("paid == allowed must not flag variance")
	}
}

func TestNewPayment_SplitsAdjustmentAndResponsibility(t *testing.T) {
	p := NewPayment(uuid.New(), uuid.New(), "ERA-3", 1200, 1000, 800, 250)
	if p.ContractualAdjustment != 200 {
		t.Errorf("contractual adjustment = %v, want 200", p.ContractualAdjustment)
	}
	if p.PatientResponsibility != 200 {
		t.Errorf("patient responsibility = %v, want 200", p.PatientResponsibility)
	}
	if p.Variance {
		t.Error("short-pay within threshold must not flag variance")
	}
}

func TestNewPayment_VarianceFlagged(t *testing.T) {
	p := NewPayment(uuid.New(), uuid.New(), "ERA-2", 1000, 800, 600, 50)
	if !p.Variance {
		t.Fatal("200 short-pay over a 50 threshold must flag variance")
	}
	if p.VarianceAmount != -200 {
		t.Errorf("variance amount = %v, want -200", p.VarianceAmount)
	}
	if p.PatientResponsibility != 200 {
		t.Errorf("patient responsibility = %v, want 200", p.PatientResponsibility)
	}
}

func testArtifact(t *testing.T, claims claim.Repository) *claim.Artifact {
	t.Helper()
	a, err := claim.Build(claim.BuildInput{
		WorkflowID:  uuid.New(),
		PatientRef:  "Patient/p1",
		ProviderRef: "Practitioner/dr1",
		InsurerRef:  "Organization/acme-health",
		ServiceDate: time.Now().Add(-72 * time.Hour),
		Diagnoses:   []claim.Diagnosis{{System: "icd-10", Code: "I10", Description: "Hypertension"}},
		Items: []claim.ServiceItem{
			{System: "cpt", Code: "99213", Description: "Office visit", Quantity: 1, UnitPrice: 125},
		},
	})
	if err != nil {
		t.Fatalf("build claim: %v", err)
	}
	if err := claims.Create(context.Background(), a); err != nil {
		t.Fatalf("persist claim: %v", err)
	}
	return a
}

func newTestService(t *testing.T) (*Service, *MemRepo, *claim.MemRepo) {
	t.Helper()
	repo := NewMemRepo()
	claims := claim.NewMemRepo()
	return NewService(repo, claims, 50, zerolog.Nop()), repo, claims
}

func TestClaimDenied_OpensCaseAndRecommendsResubmit(t *testing.T) {
	svc, _, claims := newTestService(t)
	a := testArtifact(t, claims)
	inst := &workflow.Instance{ID: a.WorkflowID}
	out := workflow.StatusOutput{
		Outcome: "denied", DenialCode: "16",
		DenialReason: "missing documentation", RemittanceRef: "ERA-D1",
	}

	resubmit, err := svc.ClaimDenied(context.Background(), inst, a.ID.String(), out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !resubmit {
		t.Error("CARC 16 should recommend resubmission")
	}

	denials, total, err := svc.ListDenials(context.Background(), "", "", 10, 0)
	if err != nil || total != 1 {
		t.Fatalf("expected one denial case, got %d (%v)", total, err)
	}
	dc := denials[0]
	if dc.Category != CategoryMissingInformation || dc.Status != DenialOpen {
		t.Errorf("unexpected case: %+v", dc)
	}
	if dc.DenialReason != "missing documentation" {
		t.Errorf("reason must be preserved verbatim, got %q", dc.DenialReason)
	}

	// Redelivered remittance: no new case, no second resubmission.
	resubmit, err = svc.ClaimDenied(context.Background(), inst, a.ID.String(), out)
	if err != nil || resubmit {
		t.Errorf("redelivery must be a no-op, got resubmit=%v err=%v", resubmit, err)
	}
	if _, total, _ = svc.ListDenials(context.Background(), "", "", 10, 0); total != 1 {
		t.Errorf("redelivery created a duplicate case, total=%d", total)
	}
}

func TestClaimDenied_AppealDrafted(t *testing.T) {
	svc, _, claims := newTestService(t)
	a := testArtifact(t, claims)
	inst := &workflow.Instance{ID: a.WorkflowID}

	resubmit, err := svc.ClaimDenied(context.Background(), inst, a.ID.String(), workflow.StatusOutput{
		Outcome: "denied", DenialCode: "50",
		DenialReason: "not medically necessary", RemittanceRef: "ERA-D2",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resubmit {
		t.Error("appeal-category denials must not trigger resubmission")
	}

	denials, _, _ := svc.ListDenials(context.Background(), CategoryMedicalNecessity, "", 10, 0)
	if len(denials) != 1 {
		t.Fatalf("expected one medical-necessity case, got %d", len(denials))
	}
	if denials[0].AppealBody == nil || !strings.Contains(*denials[0].AppealBody, "99213") {
		t.Error("appeal letter should be drafted and reference the billed services")
	}
}

func TestClaimPaid_PostsOnceAndFlagsVariance(t *testing.T) {
	svc, repo, claims := newTestService(t)
	a := testArtifact(t, claims)
	inst := &workflow.Instance{ID: a.WorkflowID}
	out := workflow.StatusOutput{
		Outcome: "paid", AllowedAmount: 100, PaidAmount: 20, RemittanceRef: "ERA-P1",
	}

	if err := svc.ClaimPaid(context.Background(), inst, a.ID.String(), out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.ClaimPaid(context.Background(), inst, a.ID.String(), out); err != nil {
		t.Fatalf("redelivery errored: %v", err)
	}

	payments, total, err := repo.ListPayments(context.Background(), 10, 0)
	if err != nil || total != 1 {
		t.Fatalf("expected exactly one posted payment, got %d (%v)", total, err)
	}
	p := payments[0]
	if p.ChargedAmount != 125 {
		t.Errorf("charged amount must come from the claim, got %v", p.ChargedAmount)
	}
	if p.ContractualAdjustment != 25 {
		t.Errorf("contractual adjustment = %v, want 25", p.ContractualAdjustment)
	}
	if !p.Variance {
		t.Error("80 short-pay over a 50 threshold must flag variance")
	}
}

func TestRecordOutcome(t *testing.T) {
	svc, _, claims := newTestService(t)
	a := testArtifact(t, claims)
	inst := &workflow.Instance{ID: a.WorkflowID}
	if _, err := svc.ClaimDenied(context.Background(), inst, a.ID.String(), workflow.StatusOutput{
		DenialCode: "18", RemittanceRef: "ERA-D3",
	}); err != nil {
		t.Fatal(err)
	}
	denials, _, _ := svc.ListDenials(context.Background(), "", "", 10, 0)
	id := denials[0].ID

	if _, err := svc.RecordOutcome(context.Background(), id, "escalated", ""); err == nil {
		t.Error("unknown outcome must be rejected")
	}

	dc, err := svc.RecordOutcome(context.Background(), id, DenialResolved, "paid after phone review")
	if err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	if dc.Status != DenialResolved || dc.OutcomeNote == nil {
		t.Errorf("unexpected case after outcome: %+v", dc)
	}

	if _, err := svc.RecordOutcome(context.Background(), id, DenialWrittenOff, ""); err == nil {
		t.Error("resolved case must not accept another outcome")
	}
}

func TestReport_Aggregates(t *testing.T) {
	svc, repo, _ := newTestService(t)
	_ = repo.CreatePayment(context.Background(), NewPayment(uuid.New(), uuid.New(), "ERA-R1", 1000, 800, 800, 50))
	_ = repo.CreatePayment(context.Background(), NewPayment(uuid.New(), uuid.New(), "ERA-R2", 500, 400, 250, 50))

	report, err := svc.Report(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.Payments != 2 {
		t.Errorf("payments = %d, want 2", report.Payments)
	}
	if report.TotalCharged != 1500 || report.TotalAllowed != 1200 || report.TotalPaid != 1050 {
		t.Errorf("totals wrong: %+v", report)
	}
	if report.ContractualAdjustment != 300 {
		t.Errorf("contractual adjustment = %v, want 300", report.ContractualAdjustment)
	}
	if report.VarianceCount != 1 || len(report.VarianceRefs) != 1 || report.VarianceRefs[0] != "ERA-R2" {
		t.Errorf("variance rollup wrong: %+v", report)
	}
}

func TestAppealBuilder(t *testing.T) {
	claims := claim.NewMemRepo()
	a := testArtifact(t, claims)
	dc := &DenialCase{
		ID: uuid.New(), RemittanceRef: "ERA-A1",
		DenialCode: "50", DenialReason: "not medically necessary",
		CreatedAt: time.Now(),
	}

	letter := NewAppealBuilder().Build(dc, a)
	if !strings.Contains(letter.Body, "CARC") && !strings.Contains(letter.Body, "50") {
		t.Error("letter must cite the denial code")
	}
	if !strings.Contains(letter.Body, "I10") {
		t.Error("letter must list the diagnoses")
	}
	wantDeadline := dc.CreatedAt.Add(90 * 24 * time.Hour)
	if !letter.Deadline.Equal(wantDeadline) {
		t.Errorf("deadline = %v, want %v", letter.Deadline, wantDeadline)
	}
	if letter.InsurerRef != a.InsurerRef {
		t.Errorf("letter addressed to %s, want %s", letter.InsurerRef, a.InsurerRef)
	}
}
