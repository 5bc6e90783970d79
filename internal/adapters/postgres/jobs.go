package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"redflag/internal/domain"
	"redflag/internal/ports"
)

var _ ports.ExportJobRepository = (*DB)(nil)

const jobColumns = `id, status, format, filter, options, requested_by, estimated_rows, row_count,
	blob_key, filename, error, attempts, queued_at, started_at, finished_at`

func scanJob(row rowScanner) (*domain.ExportJob, error) {
	var (
		j               domain.ExportJob
		filter, options []byte
	)
	err := row.Scan(&j.ID, &j.Status, &j.Format, &filter, &options, &j.RequestedBy, &j.EstimatedRows, &j.Rows,
		&j.BlobKey, &j.Filename, &j.Error, &j.Attempts, &j.QueuedAt, &j.StartedAt, &j.FinishedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(filter, &j.Filter); err != nil {
		return nil, fmt.Errorf("decode filter of job %s: %w", j.ID, err)
	}
	if err := json.Unmarshal(options, &j.Options); err != nil {
		return nil, fmt.Errorf("decode options of job %s: %w", j.ID, err)
	}
	return &j, nil
}

func (db *DB) Enqueue(ctx context.Context, job *domain.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.QueuedAt.IsZero() {
		job.QueuedAt = time.Now().UTC()
	}
	job.Status = domain.JobQueued
	filter, err := json.Marshal(job.Filter)
	if err != nil {
		return err
	}
	options, err := json.Marshal(job.Options)
	if err != nil {
		return err
	}
	_, err = db.Pool.Exec(ctx, `
		INSERT INTO export_jobs (id, status, format, filter, options, requested_by, estimated_rows, queued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, job.ID, job.Status, job.Format, filter, options, job.RequestedBy, job.EstimatedRows, job.QueuedAt)
	return err
}

// ClaimNext selects the oldest queued job using SKIP LOCKED and marks it running.
func (db *DB) ClaimNext(ctx context.Context) (job *domain.ExportJob, found bool, err error) {
	err = db.inTx(ctx, func(tx pgx.Tx) error {
		j, err := scanJob(tx.QueryRow(ctx, `
			UPDATE export_jobs SET status = 'running', started_at = now(), attempts = attempts + 1
			WHERE id = (
				SELECT id FROM export_jobs
				WHERE status = 'queued'
				ORDER BY queued_at
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING `+jobColumns))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		job, found = j, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return job, found, nil
}

func (db *DB) MarkCompleted(ctx context.Context, jobID string, a domain.ExportArtifact) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.finish(ctx, jobID, `
		UPDATE export_jobs SET status = 'completed', blob_key = $2, filename = $3, row_count = $4, finished_at = now()
		WHERE id = $1
	`, jobID, a.BlobKey, a.Filename, a.Rows)
}

func (db *DB) MarkFailed(ctx context.Context, jobID string, reason string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.finish(ctx, jobID, `
		UPDATE export_jobs SET status = 'failed', error = $2, finished_at = now()
		WHERE id = $1
	`, jobID, reason)
}

func (db *DB) finish(ctx context.Context, jobID, sql string, args ...any) error {
	tag, err := db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.Errorf(domain.KindNotFound, "export job %s not found", jobID)
	}
	return nil
}

func (db *DB) GetExportJob(ctx context.Context, jobID string) (*domain.ExportJob, error) {
	j, err := scanJob(db.Pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM export_jobs WHERE id = $1`, jobID))
	if err != nil {
		return nil, notFound("export job", jobID, err)
	}
	return j, nil
}

func (db *DB) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE export_jobs SET status = 'queued', started_at = NULL
		WHERE status = 'running' AND started_at < $1
	`, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
