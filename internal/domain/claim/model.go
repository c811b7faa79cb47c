package claim

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rcm/rcm/internal/platform/fhir"
)

// Diagnosis is one coded diagnosis on a claim, ordered by Sequence.
type Diagnosis struct {
	Sequence    int    `db:"sequence" json:"sequence"`
	System      string `db:"system" json:"system"`
	Code        string `db:"code" json:"code"`
	Description string `db:"description" json:"description,omitempty"`
}

// ServiceItem is one billed service line, ordered by Sequence.
type ServiceItem struct {
	Sequence    int     `db:"sequence" json:"sequence"`
	System      string  `db:"system" json:"system"`
	Code        string  `db:"code" json:"code"`
	Description string  `db:"description" json:"description,omitempty"`
	Quantity    int     `db:"quantity" json:"quantity"`
	UnitPrice   float64 `db:"unit_price" json:"unit_price"`
}

// Subtotal returns quantity times unit price for this line.
func (i ServiceItem) Subtotal() float64 {
	return float64(i.Quantity) * i.UnitPrice
}

// Artifact maps to the claim_artifact table. Built once per workflow by the
// claim build step, amendable until frozen, read-only after submission.
type Artifact struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	WorkflowID  uuid.UUID     `db:"workflow_id" json:"workflow_id"`
	PatientRef  string        `db:"patient_ref" json:"patient_ref"`
	ProviderRef string        `db:"provider_ref" json:"provider_ref"`
	InsurerRef  string        `db:"insurer_ref" json:"insurer_ref"`
	ServiceDate time.Time     `db:"service_date" json:"service_date"`
	Diagnoses   []Diagnosis   `db:"-" json:"diagnoses"`
	Items       []ServiceItem `db:"-" json:"items"`
	Total       float64       `db:"total" json:"total"`
	Frozen      bool          `db:"frozen" json:"frozen"`
	GatewayRef  *string       `db:"gateway_ref" json:"gateway_ref,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// ComputeTotal recalculates Total from the service items.
func (a *Artifact) ComputeTotal() {
	total := 0.0
	for _, item := range a.Items {
		total += item.Subtotal()
	}
	a.Total = total
}

// Validate checks the structural invariants: at least one diagnosis, at least
// one service item, every item coded with positive quantity, and the total
// matching the sum of line subtotals.
func (a *Artifact) Validate() error {
	if a.PatientRef == "" {
		return fmt.Errorf("patient reference is required")
	}
	if a.ProviderRef == "" {
		return fmt.Errorf("provider reference is required")
	}
	if a.InsurerRef == "" {
		return fmt.Errorf("insurer reference is required")
	}
	if len(a.Diagnoses) == 0 {
		return fmt.Errorf("claim must carry at least one diagnosis")
	}
	if len(a.Items) == 0 {
		return fmt.Errorf("claim must carry at least one service item")
	}
	sum := 0.0
	for _, item := range a.Items {
		if item.Code == "" {
			return fmt.Errorf("service item %d has no code", item.Sequence)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("service item %d (%s) has non-positive quantity %d", item.Sequence, item.Code, item.Quantity)
		}
		if item.UnitPrice < 0 {
			return fmt.Errorf("service item %d (%s) has negative unit price", item.Sequence, item.Code)
		}
		sum += item.Subtotal()
	}
	if math.Abs(sum-a.Total) > 0.005 {
		return fmt.Errorf("claim total %.2f does not match item sum %.2f", a.Total, sum)
	}
	return nil
}

// Amend applies fn to the artifact, recomputes the total and revalidates.
// Amendments are rejected once the claim is frozen.
func (a *Artifact) Amend(fn func(*Artifact)) error {
	if a.Frozen {
		return fmt.Errorf("claim %s is frozen and cannot be amended", a.ID)
	}
	fn(a)
	a.ComputeTotal()
	return a.Validate()
}

// Freeze marks the artifact read-only. Done at submission time.
func (a *Artifact) Freeze(gatewayRef string) {
	a.Frozen = true
	a.GatewayRef = &gatewayRef
}

// ToFHIR renders the artifact as a FHIR Claim resource.
func (a *Artifact) ToFHIR() map[string]interface{} {
	diagnoses := make([]map[string]interface{}, 0, len(a.Diagnoses))
	for _, d := range a.Diagnoses {
		diagnoses = append(diagnoses, map[string]interface{}{
			"sequence": d.Sequence,
			"diagnosisCodeableConcept": fhir.CodeableConcept{
				Coding: []fhir.Coding{{
					System:  "http://hl7.org/fhir/sid/icd-10-cm",
					Code:    d.Code,
					Display: d.Description,
				}},
			},
		})
	}

	items := make([]map[string]interface{}, 0, len(a.Items))
	for _, item := range a.Items {
		items = append(items, map[string]interface{}{
			"sequence": item.Sequence,
			"productOrService": fhir.CodeableConcept{
				Coding: []fhir.Coding{{
					System:  "http://www.ama-assn.org/go/cpt",
					Code:    item.Code,
					Display: item.Description,
				}},
			},
			"quantity":  fhir.Quantity{Value: float64(item.Quantity)},
			"unitPrice": fhir.Money{Value: item.UnitPrice, Currency: "USD"},
			"net":       fhir.Money{Value: item.Subtotal(), Currency: "USD"},
		})
	}

	result := map[string]interface{}{
		"resourceType": "Claim",
		"id":           a.ID.String(),
		"status":       "active",
		"use":          "claim",
		"created":      a.CreatedAt.Format(time.RFC3339),
		"patient":      fhir.Reference{Reference: a.PatientRef},
		"provider":     fhir.Reference{Reference: a.ProviderRef},
		"insurer":      fhir.Reference{Reference: a.InsurerRef},
		"billablePeriod": fhir.Period{
			Start: &a.ServiceDate,
		},
		"diagnosis": diagnoses,
		"item":      items,
		"total":     fhir.Money{Value: a.Total, Currency: "USD"},
	}
	if a.GatewayRef != nil {
		result["identifier"] = []fhir.Identifier{{
			System: "urn:gateway:claim-reference",
			Value:  *a.GatewayRef,
		}}
	}
	return result
}
