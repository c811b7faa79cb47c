package workflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rcm/rcm/internal/domain/claim"
)

// Service is the application-facing API over the orchestrator and store.
type Service struct {
	store  Store
	orch   *Orchestrator
	claims claim.Repository
}

func NewService(store Store, orch *Orchestrator, claims claim.Repository) *Service {
	return &Service{store: store, orch: orch, claims: claims}
}

var validStatuses = map[string]bool{
	StatusPending: true, StatusInProgress: true, StatusCompleted: true,
	StatusFailed: true, StatusPaused: true, StatusCancelled: true,
}

func (s *Service) Start(ctx context.Context, req StartRequest) (*Instance, error) {
	if req.EncounterID == "" {
		return nil, fmt.Errorf("encounter_id is required")
	}
	if req.PatientRef == "" {
		return nil, fmt.Errorf("patient_ref is required")
	}
	if req.CoverageRef == "" {
		return nil, fmt.Errorf("coverage_ref is required")
	}
	return s.orch.Start(ctx, req)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Instance, error) {
	return s.store.Load(ctx, id)
}

func (s *Service) List(ctx context.Context, status string, limit, offset int) ([]*Instance, int, error) {
	if status != "" && !validStatuses[status] {
		return nil, 0, fmt.Errorf("unknown status %q", status)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.List(ctx, status, limit, offset)
}

// Resume re-drives a paused or interrupted workflow. For a workflow paused
// on blocking scrub violations, a corrected start request also amends the
// stored claim artifact so the re-run scrubs the corrected lines; the claim
// must still be unfrozen at that point because submission never ran.
func (s *Service) Resume(ctx context.Context, id uuid.UUID, corrections Context) (*Instance, error) {
	inst, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status == StatusPaused {
		if err := s.amendClaim(ctx, inst, corrections); err != nil {
			return nil, err
		}
	}
	return s.orch.Resume(ctx, id, corrections)
}

func (s *Service) amendClaim(ctx context.Context, inst *Instance, corrections Context) error {
	var req StartRequest
	if ok, err := corrections.Get(ContextKeyRequest, &req); !ok || err != nil {
		return nil
	}
	a, err := s.claims.GetByWorkflowID(ctx, inst.ID)
	if errors.Is(err, claim.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	err = a.Amend(func(a *claim.Artifact) {
		a.PatientRef = req.PatientRef
		a.ProviderRef = req.ProviderRef
		a.InsurerRef = req.InsurerRef
		a.ServiceDate = req.ServiceDate
	})
	if err != nil {
		return fmt.Errorf("amend claim: %w", err)
	}
	return s.claims.Update(ctx, a)
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*Instance, error) {
	return s.orch.Cancel(ctx, id)
}

func (s *Service) Steps(ctx context.Context, id uuid.UUID) ([]*StepRecord, error) {
	if _, err := s.store.Load(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListSteps(ctx, id)
}
