package claim

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepo is a thread-safe in-memory Repository used in development mode and
// by the orchestrator tests. Artifacts are deep-copied on the way in and out
// so callers cannot mutate stored state.
type MemRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]*Artifact
}

func NewMemRepo() *MemRepo {
	return &MemRepo{items: make(map[uuid.UUID]*Artifact)}
}

func copyArtifact(a *Artifact) *Artifact {
	raw, _ := json.Marshal(a)
	var out Artifact
	_ = json.Unmarshal(raw, &out)
	return &out
}

func (r *MemRepo) Create(_ context.Context, a *Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	a.UpdatedAt = time.Now()
	r.items[a.ID] = copyArtifact(a)
	return nil
}

func (r *MemRepo) GetByID(_ context.Context, id uuid.UUID) (*Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyArtifact(a), nil
}

func (r *MemRepo) GetByWorkflowID(_ context.Context, workflowID uuid.UUID) (*Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.items {
		if a.WorkflowID == workflowID {
			return copyArtifact(a), nil
		}
	}
	return nil, ErrNotFound
}

func (r *MemRepo) Update(_ context.Context, a *Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[a.ID]; !ok {
		return ErrNotFound
	}
	a.UpdatedAt = time.Now()
	r.items[a.ID] = copyArtifact(a)
	return nil
}

func (r *MemRepo) List(_ context.Context, limit, offset int) ([]*Artifact, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Artifact, 0, len(r.items))
	for _, a := range r.items {
		all = append(all, a)
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
	out := make([]*Artifact, 0, end-offset)
	for _, a := range all[offset:end] {
		out = append(out, copyArtifact(a))
	}
	return out, total, nil
}
