package ports

import (
	"context"
	"time"

	"redflag/internal/domain"
)

// ExportJobRepository supports queueing, claiming and finishing export jobs.
type ExportJobRepository interface {
	Enqueue(ctx context.Context, job *domain.ExportJob) error
	ClaimNext(ctx context.Context) (job *domain.ExportJob, found bool, err error)
	MarkCompleted(ctx context.Context, jobID string, artifact domain.ExportArtifact) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
	GetExportJob(ctx context.Context, jobID string) (*domain.ExportJob, error)
	// RequeueStale returns running jobs started more than olderThan ago to
	// the queue and reports how many it moved.
	RequeueStale(ctx context.Context, olderThan time.Duration) (int, error)
}
