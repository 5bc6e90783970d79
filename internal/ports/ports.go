package ports

import (
	"context"
	"encoding/json"
	"time"

	"redflag/internal/domain"
)

// NewFlag is what the detection collaborator submits.
type NewFlag struct {
	EntityRef   string            `json:"entity_ref"`
	Category    domain.Category   `json:"category"`
	Severity    domain.Severity   `json:"severity"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Confidence  *float64          `json:"confidence,omitempty"`
	Explainer   *domain.Explainer `json:"explainer,omitempty"`
	DetectedAt  *time.Time        `json:"detected_at,omitempty"`
}

// NewEvidence carries an undecoded citation; it is checked against Type.
type NewEvidence struct {
	FlagID      string              `json:"-"`
	Type        domain.EvidenceType `json:"evidence_type"`
	Citation    json.RawMessage     `json:"citation"`
	Description string              `json:"description,omitempty"`
	Confidence  *float64            `json:"confidence,omitempty"`
}

// Flags is the command and read surface of the flag aggregate.
type Flags interface {
	CreateFlag(ctx context.Context, in NewFlag) (*domain.RedFlag, error)
	GetFlag(ctx context.Context, id string) (*domain.RedFlag, error)
	ListFlags(ctx context.Context, q domain.FlagQuery) ([]*domain.RedFlag, int, error)
	AllowedTransitions(ctx context.Context, id string) ([]domain.Status, error)

	ChangeStatus(ctx context.Context, flagID string, to domain.Status, reason, actorID string) (*domain.RedFlag, error)
	Assign(ctx context.Context, flagID, assigneeID, actorID string) (*domain.RedFlag, error)
	AddNote(ctx context.Context, flagID, text string, isInternal bool, actorID string) (*domain.RedFlag, error)
	Snooze(ctx context.Context, flagID string, durationDays int, reason, actorID string) (*domain.RedFlag, error)
	RecordRemediation(ctx context.Context, flagID, plan string, eta *time.Time, stakeholders []string, actorID string) (*domain.RedFlag, error)
	Override(ctx context.Context, flagID, field, from, to, reason, actorID string) (*domain.RedFlag, error)

	AddEvidence(ctx context.Context, in NewEvidence) (*domain.Evidence, error)
	ListEvidence(ctx context.Context, flagID string) ([]domain.Evidence, error)
	ListActions(ctx context.Context, flagID string) ([]domain.Action, error)
}

// Bulk applies one operation across many flags.
type Bulk interface {
	Apply(ctx context.Context, op BulkOperation, flagIDs []string, params BulkParams, actorID string) (*BulkResult, error)
}

// Exporter runs the tiered export pipeline.
type Exporter interface {
	Export(ctx context.Context, req ExportRequest) (*ExportResult, error)
	GetJob(ctx context.Context, jobID string) (*domain.ExportJob, error)
	Download(ctx context.Context, jobID string) (*ExportFile, error)
}
