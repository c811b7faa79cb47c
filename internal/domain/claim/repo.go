package claim

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no claim artifact matches the query.
var ErrNotFound = errors.New("claim not found")

type Repository interface {
	Create(ctx context.Context, a *Artifact) error
	GetByID(ctx context.Context, id uuid.UUID) (*Artifact, error)
	GetByWorkflowID(ctx context.Context, workflowID uuid.UUID) (*Artifact, error)
	Update(ctx context.Context, a *Artifact) error
	List(ctx context.Context, limit, offset int) ([]*Artifact, int, error)
}
