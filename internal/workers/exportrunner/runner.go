package exportrunner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"redflag/internal/domain"
	"redflag/internal/ports"
)

// JobProcessor performs the export work for a claimed job.
type JobProcessor interface {
	Process(ctx context.Context, job *domain.ExportJob) (domain.ExportArtifact, error)
}

// Generator renders export output without a row ceiling.
type Generator interface {
	Generate(ctx context.Context, filter domain.FlagFilter, format domain.ExportFormat, opts domain.ExportOptions, maxRows int) (*ports.ExportFile, error)
}

// SinkProcessor generates the file and stores it in the blob sink under
// exports/<job id>.
type SinkProcessor struct {
	Generator Generator
	Sink      ports.BlobSink
}

func (p SinkProcessor) Process(ctx context.Context, job *domain.ExportJob) (domain.ExportArtifact, error) {
	file, err := p.Generator.Generate(ctx, job.Filter, job.Format, job.Options, 0)
	if err != nil {
		return domain.ExportArtifact{}, fmt.Errorf("generate: %w", err)
	}
	key := "exports/" + job.ID
	err = p.Sink.Put(ctx, ports.Blob{
		Key:         key,
		ContentType: file.ContentType,
		Filename:    file.Filename,
		Data:        file.Data,
	})
	if err != nil {
		return domain.ExportArtifact{}, fmt.Errorf("store: %w", err)
	}
	return domain.ExportArtifact{BlobKey: key, Filename: file.Filename, Rows: file.Rows}, nil
}

// Runner claims queued export jobs and hands them to a pool of workers.
type Runner struct {
	Jobs         ports.ExportJobRepository
	Processor    JobProcessor
	Notifier     ports.Notifier
	Log          logrus.FieldLogger
	Concurrency  int
	PollInterval time.Duration
	// StaleAfter is how long a job may stay running before it is queued
	// again. Zero disables the sweep.
	StaleAfter time.Duration
}

// Run blocks until ctx is cancelled and every worker has returned.
func (r *Runner) Run(ctx context.Context) {
	if r.Concurrency < 1 {
		return
	}
	if r.PollInterval <= 0 {
		r.PollInterval = 500 * time.Millisecond
	}
	if r.Notifier == nil {
		r.Notifier = ports.NopNotifier
	}
	jobsCh := make(chan *domain.ExportJob, r.Concurrency)

	go func() {
		defer close(jobsCh)
		ticker := time.NewTicker(r.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.drain(ctx, jobsCh)
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < r.Concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for job := range jobsCh {
				r.handle(ctx, idx, job)
			}
		}(i)
	}
	wg.Wait()
}

func (r *Runner) drain(ctx context.Context, jobsCh chan<- *domain.ExportJob) {
	if r.StaleAfter > 0 {
		n, err := r.Jobs.RequeueStale(ctx, r.StaleAfter)
		if err != nil && ctx.Err() == nil {
			r.Log.WithError(err).Error("stale export sweep failed")
		}
		if n > 0 {
			r.Log.WithField("jobs", n).Warn("requeued stale export jobs")
		}
	}
	for {
		job, found, err := r.Jobs.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.Log.WithError(err).Error("export job claim failed")
			}
			return
		}
		if !found {
			return
		}
		select {
		case jobsCh <- job:
		case <-ctx.Done():
			// claimed but never started; RequeueStale picks it up later
			return
		}
	}
}

func (r *Runner) handle(ctx context.Context, idx int, job *domain.ExportJob) {
	log := r.Log.WithFields(logrus.Fields{"worker": idx, "job_id": job.ID, "format": job.Format})
	if err := ProcessOne(ctx, r.Jobs, r.Processor, r.Notifier, job); err != nil {
		log.WithError(err).Warn("export job failed")
		return
	}
	log.Info("export job completed")
}

// ProcessOne runs a claimed job to completion, records the outcome and
// publishes export.completed or export.failed.
func ProcessOne(ctx context.Context, jobs ports.ExportJobRepository, processor JobProcessor, notifier ports.Notifier, job *domain.ExportJob) error {
	artifact, err := processor.Process(ctx, job)
	if err != nil {
		if markErr := jobs.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			return fmt.Errorf("%w (mark failed: %v)", err, markErr)
		}
		_ = notifier.Publish(ctx, ports.Event{
			Kind: ports.EventExportFailed, JobID: job.ID, ActorID: job.RequestedBy,
			Status: string(domain.JobFailed), At: time.Now().UTC(),
		})
		return err
	}
	if err := jobs.MarkCompleted(ctx, job.ID, artifact); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	_ = notifier.Publish(ctx, ports.Event{
		Kind: ports.EventExportCompleted, JobID: job.ID, ActorID: job.RequestedBy,
		Status: string(domain.JobCompleted), At: time.Now().UTC(),
	})
	return nil
}
