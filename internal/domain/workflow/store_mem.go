package workflow

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is a thread-safe in-memory Store used in development mode and by
// the orchestrator tests. It enforces the same version-conflict semantics as
// the Postgres store so tests exercise real concurrency behavior.
type MemStore struct {
	mu        sync.RWMutex
	instances map[uuid.UUID]*Instance
	steps     map[uuid.UUID][]*StepRecord
}

func NewMemStore() *MemStore {
	return &MemStore{
		instances: make(map[uuid.UUID]*Instance),
		steps:     make(map[uuid.UUID][]*StepRecord),
	}
}

func copyInstance(inst *Instance) *Instance {
	raw, _ := json.Marshal(inst)
	var out Instance
	_ = json.Unmarshal(raw, &out)
	// CancelRequested has omitempty; copy it explicitly.
	out.CancelRequested = inst.CancelRequested
	return &out
}

func copyRecord(rec *StepRecord) *StepRecord {
	cp := *rec
	if rec.FinishedAt != nil {
		t := *rec.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}

func (s *MemStore) Create(_ context.Context, encounterID string, initial Context) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, inst := range s.instances {
		if inst.EncounterID == encounterID && !IsTerminal(inst.Status) {
			return nil, ErrDuplicateWorkflow
		}
	}

	now := time.Now()
	inst := &Instance{
		ID:          uuid.New(),
		EncounterID: encounterID,
		Status:      StatusPending,
		Context:     initial.Clone(),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := inst.Context.Set(ContextKeyWorkflowID, inst.ID); err != nil {
		return nil, err
	}
	s.instances[inst.ID] = copyInstance(inst)
	return inst, nil
}

func (s *MemStore) Load(_ context.Context, id uuid.UUID) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyInstance(inst), nil
}

func (s *MemStore) List(_ context.Context, status string, limit, offset int) ([]*Instance, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		if status != "" && inst.Status != status {
			continue
		}
		all = append(all, inst)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]*Instance, 0, end-offset)
	for _, inst := range all[offset:end] {
		out = append(out, copyInstance(inst))
	}
	return out, total, nil
}

func (s *MemStore) ListResumable(_ context.Context, staleAfter time.Duration) ([]*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().Add(-staleAfter)
	var out []*Instance
	for _, inst := range s.instances {
		stalled := inst.Status == StatusInProgress
		retryable := inst.Status == StatusFailed && inst.FailureKind == KindRetryableTransport
		if (stalled || retryable) && inst.UpdatedAt.Before(cutoff) {
			out = append(out, copyInstance(inst))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemStore) SaveStepResult(_ context.Context, inst *Instance, rec *StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.instances[inst.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != inst.Version {
		return ErrVersionConflict
	}

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.WorkflowID = inst.ID
	s.steps[inst.ID] = append(s.steps[inst.ID], copyRecord(rec))

	inst.Version++
	inst.UpdatedAt = time.Now()
	s.instances[inst.ID] = copyInstance(inst)
	return nil
}

func (s *MemStore) UpdateStatus(_ context.Context, inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.instances[inst.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != inst.Version {
		return ErrVersionConflict
	}

	inst.Version++
	inst.UpdatedAt = time.Now()
	s.instances[inst.ID] = copyInstance(inst)
	return nil
}

func (s *MemStore) ListSteps(_ context.Context, workflowID uuid.UUID) ([]*StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.steps[workflowID]
	out := make([]*StepRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, copyRecord(rec))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].AttemptNumber < out[j].AttemptNumber
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}
