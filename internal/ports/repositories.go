package ports

import (
	"context"

	"redflag/internal/domain"
)

// MutateFunc applies one command to the current persisted flag. It may edit f
// in place and returns the single action to append. Returning an error leaves
// both the flag and its action log untouched.
type MutateFunc func(f *domain.RedFlag) (*domain.Action, error)

// FlagRepository stores red flags. Mutate is the only write path after
// creation and must be atomic per flag id.
type FlagRepository interface {
	Create(ctx context.Context, f *domain.RedFlag) error
	Get(ctx context.Context, id string) (*domain.RedFlag, error)
	List(ctx context.Context, q domain.FlagQuery) (flags []*domain.RedFlag, total int, err error)
	Count(ctx context.Context, f domain.FlagFilter) (int, error)
	// Each streams matching flags ordered by first detection, newest first.
	Each(ctx context.Context, f domain.FlagFilter, fn func(*domain.RedFlag) error) error
	Mutate(ctx context.Context, id string, fn MutateFunc) (*domain.RedFlag, *domain.Action, error)
}

// EvidenceRepository holds immutable evidence; there is no update or delete.
type EvidenceRepository interface {
	AddEvidence(ctx context.Context, e *domain.Evidence) error
	ListEvidence(ctx context.Context, flagID string) ([]domain.Evidence, error)
	// EvidenceFor loads evidence for many flags in one read, keyed by flag id.
	// Unknown ids are absent from the result.
	EvidenceFor(ctx context.Context, flagIDs []string) (map[string][]domain.Evidence, error)
}

// ActionRepository reads the audit trail. Appends happen inside Mutate.
type ActionRepository interface {
	ListActions(ctx context.Context, flagID string) ([]domain.Action, error)
}
