package claim

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BuildInput carries everything the claim build step has gathered from the
// earlier workflow steps.
type BuildInput struct {
	WorkflowID  uuid.UUID
	PatientRef  string
	ProviderRef string
	InsurerRef  string
	ServiceDate time.Time
	Diagnoses   []Diagnosis
	Items       []ServiceItem
}

// Build assembles a claim artifact from the accumulated workflow context.
// Missing references or empty code lists are validation failures; retrying
// with the same input cannot help.
func Build(in BuildInput) (*Artifact, error) {
	if in.WorkflowID == uuid.Nil {
		return nil, fmt.Errorf("workflow id is required")
	}

	a := &Artifact{
		ID:          uuid.New(),
		WorkflowID:  in.WorkflowID,
		PatientRef:  in.PatientRef,
		ProviderRef: in.ProviderRef,
		InsurerRef:  in.InsurerRef,
		ServiceDate: in.ServiceDate,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	for i, d := range in.Diagnoses {
		d.Sequence = i + 1
		a.Diagnoses = append(a.Diagnoses, d)
	}
	for i, item := range in.Items {
		item.Sequence = i + 1
		if item.Quantity == 0 {
			item.Quantity = 1
		}
		a.Items = append(a.Items, item)
	}

	a.ComputeTotal()
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}
