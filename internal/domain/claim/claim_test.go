package claim

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testInput() BuildInput {
	return BuildInput{
		WorkflowID:  uuid.New(),
		PatientRef:  "Patient/p1",
		ProviderRef: "Practitioner/dr1",
		InsurerRef:  "Organization/acme-health",
		ServiceDate: time.Now().Add(-48 * time.Hour),
		Diagnoses: []Diagnosis{
			{System: "icd-10", Code: "E11.9", Description: "Type 2 diabetes"},
		},
		Items: []ServiceItem{
			{System: "cpt", Code: "99214", Description: "Office visit", Quantity: 1, UnitPrice: 185},
			{System: "cpt", Code: "80053", Description: "Metabolic panel", Quantity: 2, UnitPrice: 48},
		},
	}
}

func TestBuild_ComputesTotal(t *testing.T) {
	a, err := Build(testInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Total != 281 {
		t.Errorf("expected total 281, got %v", a.Total)
	}
	if a.Items[0].Sequence != 1 || a.Items[1].Sequence != 2 {
		t.Error("expected item sequences assigned in order")
	}
	if a.Frozen {
		t.Error("new claim must not be frozen")
	}
}

func TestBuild_MissingReferences(t *testing.T) {
	in := testInput()
	in.InsurerRef = ""
	if _, err := Build(in); err == nil {
		t.Fatal("expected error for missing insurer reference")
	}

	in = testInput()
	in.Diagnoses = nil
	if _, err := Build(in); err == nil {
		t.Fatal("expected error for empty diagnosis list")
	}
}

func TestArtifact_TotalIntegrityRoundTrip(t *testing.T) {
	a, err := Build(testInput())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Serialize, reload, revalidate.
	raw, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var reloaded Artifact
	if err := json.Unmarshal(raw, &reloaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := reloaded.Validate(); err != nil {
		t.Errorf("reloaded claim fails validation: %v", err)
	}
	if reloaded.Total != a.Total {
		t.Errorf("total changed across round trip: %v != %v", reloaded.Total, a.Total)
	}
}

func TestArtifact_AmendRecomputesTotal(t *testing.T) {
	a, _ := Build(testInput())

	err := a.Amend(func(a *Artifact) {
		a.Items[0].UnitPrice = 200
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Total != 296 {
		t.Errorf("expected total 296 after amendment, got %v", a.Total)
	}
}

func TestArtifact_AmendRejectedWhenFrozen(t *testing.T) {
	a, _ := Build(testInput())
	a.Freeze("GW-123")

	err := a.Amend(func(a *Artifact) {
		a.Items[0].UnitPrice = 1
	})
	if err == nil {
		t.Fatal("expected error amending a frozen claim")
	}
	if a.Items[0].UnitPrice == 1 {
		t.Error("frozen claim was mutated")
	}
}

func TestScrubber_CleanClaim(t *testing.T) {
	a, _ := Build(testInput())
	s := NewScrubber()

	violations := s.Scrub(a)
	if Blocking(violations) {
		t.Errorf("expected clean claim, got %+v", violations)
	}
}

func TestScrubber_BlockingViolations(t *testing.T) {
	a, _ := Build(testInput())
	a.PatientRef = ""
	a.ServiceDate = time.Now().Add(24 * time.Hour)

	s := NewScrubber()
	violations := s.Scrub(a)
	if !Blocking(violations) {
		t.Fatal("expected blocking violations")
	}

	rules := make(map[string]bool)
	for _, v := range violations {
		rules[v.Rule] = true
	}
	if !rules["demographics-present"] {
		t.Error("expected demographics-present violation")
	}
	if !rules["dates-ordered"] {
		t.Error("expected dates-ordered violation for future service date")
	}
}

func TestScrubber_ZeroChargeIsWarning(t *testing.T) {
	in := testInput()
	in.Items = []ServiceItem{{System: "cpt", Code: "99213", Description: "Visit", Quantity: 1, UnitPrice: 0}}
	a, err := Build(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := NewScrubber()
	violations := s.Scrub(a)
	if Blocking(violations) {
		t.Errorf("zero charge should warn, not block: %+v", violations)
	}
	if len(violations) == 0 {
		t.Error("expected a warning for zero charge")
	}
}

func TestScrubber_PayerEdit(t *testing.T) {
	in := testInput()
	in.InsurerRef = "Organization/medicare"
	in.ServiceDate = time.Now().Add(-400 * 24 * time.Hour)
	a, err := Build(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := NewScrubber()
	violations := s.Scrub(a)
	found := false
	for _, v := range violations {
		if v.Rule == "payer-timely-filing" && v.Severity == SeverityBlocking {
			found = true
		}
	}
	if !found {
		t.Errorf("expected payer-timely-filing violation, got %+v", violations)
	}
}

func TestMemRepo_RoundTrip(t *testing.T) {
	repo := NewMemRepo()
	a, _ := Build(testInput())

	if err := repo.Create(context.Background(), a); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetByWorkflowID(context.Background(), a.WorkflowID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Total != a.Total {
		t.Errorf("expected total %v, got %v", a.Total, got.Total)
	}
	if len(got.Items) != 2 || len(got.Diagnoses) != 1 {
		t.Errorf("lines lost in round trip: %d items, %d diagnoses", len(got.Items), len(got.Diagnoses))
	}
	if err := got.Validate(); err != nil {
		t.Errorf("stored claim fails validation: %v", err)
	}

	// Mutating the returned copy must not affect the store.
	got.Total = 0
	again, _ := repo.GetByID(context.Background(), a.ID)
	if again.Total != a.Total {
		t.Error("repo returned shared state")
	}
}

func TestMemRepo_NotFound(t *testing.T) {
	repo := NewMemRepo()
	if _, err := repo.GetByID(context.Background(), uuid.New()); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestArtifact_ToFHIR(t *testing.T) {
	a, _ := Build(testInput())
	a.Freeze("GW-9")

	resource := a.ToFHIR()
	if resource["resourceType"] != "Claim" {
		t.Errorf("expected resourceType Claim, got %v", resource["resourceType"])
	}
	items, ok := resource["item"].([]map[string]interface{})
	if !ok || len(items) != 2 {
		t.Fatalf("expected 2 rendered items, got %v", resource["item"])
	}
	if _, ok := resource["identifier"]; !ok {
		t.Error("expected gateway identifier after freeze")
	}
}
