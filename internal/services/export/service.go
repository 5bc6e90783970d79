package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"redflag/internal/domain"
	"redflag/internal/ports"
)

var _ ports.Exporter = (*Service)(nil)

// Config sets the three export tiers: up to SyncRowLimit rows inline, up to
// RejectRowLimit as a background job, anything larger refused.
type Config struct {
	SyncRowLimit   int
	RejectRowLimit int
	SyncTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{SyncRowLimit: 1000, RejectRowLimit: 100000, SyncTimeout: 10 * time.Second}
}

// TooLargeError is returned when even a background export would be too big.
// Suggested is a narrower filter the caller can retry with.
type TooLargeError struct {
	Estimated int
	Limit     int
	Suggested domain.FlagFilter
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("export of %d flags exceeds the limit of %d; narrow the filters", e.Estimated, e.Limit)
}

func (e *TooLargeError) Unwrap() error {
	return domain.Errorf(domain.KindTooLarge, "%s", e.Error())
}

// evidenceBatch is how many flags share one evidence lookup.
const evidenceBatch = 500

// errCeiling means synchronous generation hit its row or time ceiling.
var errCeiling = errors.New("sync export ceiling reached")

type Service struct {
	flags    ports.FlagRepository
	evidence ports.EvidenceRepository
	jobs     ports.ExportJobRepository
	sink     ports.BlobSink
	cfg      Config
	log      logrus.FieldLogger
	now      func() time.Time
}

func New(flags ports.FlagRepository, evidence ports.EvidenceRepository, jobs ports.ExportJobRepository, sink ports.BlobSink, cfg Config, log logrus.FieldLogger) *Service {
	def := DefaultConfig()
	if cfg.SyncRowLimit <= 0 {
		cfg.SyncRowLimit = def.SyncRowLimit
	}
	if cfg.RejectRowLimit <= 0 {
		cfg.RejectRowLimit = def.RejectRowLimit
	}
	if cfg.RejectRowLimit < cfg.SyncRowLimit {
		cfg.RejectRowLimit = cfg.SyncRowLimit
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = def.SyncTimeout
	}
	return &Service{flags: flags, evidence: evidence, jobs: jobs, sink: sink, cfg: cfg, log: log, now: time.Now}
}

// SetClock replaces time.Now.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Export estimates the result size and either generates the file inline,
// queues a job, or refuses with *TooLargeError.
func (s *Service) Export(ctx context.Context, req ports.ExportRequest) (*ports.ExportResult, error) {
	if !req.Format.Valid() {
		return nil, domain.Errorf(domain.KindInvalidInput, "format must be csv or json, got %q", req.Format)
	}
	if req.Options.IncludeEvidence && req.Format != domain.FormatJSON {
		return nil, domain.Errorf(domain.KindInvalidInput, "evidence can only be included in json exports")
	}
	if err := req.Filter.Validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if req.Filter.ActiveAt.IsZero() {
		req.Filter.ActiveAt = now
	}

	estimated, err := s.flags.Count(ctx, req.Filter)
	if err != nil {
		return nil, fmt.Errorf("estimate export size: %w", err)
	}
	log := s.log.WithFields(logrus.Fields{"format": req.Format, "estimated_rows": estimated})

	if estimated > s.cfg.RejectRowLimit {
		log.Info("export rejected")
		return nil, &TooLargeError{Estimated: estimated, Limit: s.cfg.RejectRowLimit, Suggested: suggestNarrower(req.Filter, now)}
	}
	if estimated > s.cfg.SyncRowLimit {
		return s.enqueue(ctx, req, estimated, now)
	}

	syncCtx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()
	file, err := s.Generate(syncCtx, req.Filter, req.Format, req.Options, s.cfg.SyncRowLimit)
	if errors.Is(err, errCeiling) || (errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil) {
		log.Info("sync export ceiling reached, deferring")
		return s.enqueue(ctx, req, estimated, now)
	}
	if err != nil {
		return nil, err
	}
	log.WithField("rows", file.Rows).Debug("sync export generated")
	return &ports.ExportResult{File: file}, nil
}

func (s *Service) enqueue(ctx context.Context, req ports.ExportRequest, estimated int, now time.Time) (*ports.ExportResult, error) {
	job := &domain.ExportJob{
		ID:            uuid.NewString(),
		Status:        domain.JobQueued,
		Format:        req.Format,
		Filter:        req.Filter,
		Options:       req.Options,
		RequestedBy:   req.RequestedBy,
		EstimatedRows: estimated,
		QueuedAt:      now,
	}
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("enqueue export: %w", err)
	}
	s.log.WithFields(logrus.Fields{"job_id": job.ID, "estimated_rows": estimated}).Info("export queued")
	return &ports.ExportResult{Job: job}, nil
}

// Generate renders every flag matching filter. A positive maxRows makes the
// call fail with errCeiling once the row count passes it.
func (s *Service) Generate(ctx context.Context, filter domain.FlagFilter, format domain.ExportFormat, opts domain.ExportOptions, maxRows int) (*ports.ExportFile, error) {
	now := s.now().UTC()
	if filter.ActiveAt.IsZero() {
		filter.ActiveAt = now
	}
	enc := newEncoder(format, opts, now)
	if err := enc.begin(); err != nil {
		return nil, err
	}
	withEvidence := opts.IncludeEvidence && format == domain.FormatJSON
	var pending []*domain.RedFlag
	rows := 0
	err := s.flags.Each(ctx, filter, func(f *domain.RedFlag) error {
		rows++
		if maxRows > 0 && rows > maxRows {
			return errCeiling
		}
		if withEvidence {
			pending = append(pending, f)
			return nil
		}
		return enc.row(f, nil)
	})
	if err != nil {
		return nil, err
	}
	// Evidence is read after the flag scan has released its connection.
	for start := 0; start < len(pending); start += evidenceBatch {
		batch := pending[start:min(start+evidenceBatch, len(pending))]
		ids := make([]string, len(batch))
		for i, f := range batch {
			ids[i] = f.ID
		}
		byFlag, err := s.evidence.EvidenceFor(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("load evidence: %w", err)
		}
		for _, f := range batch {
			if err := enc.row(f, byFlag[f.ID]); err != nil {
				return nil, err
			}
		}
	}
	if err := enc.end(); err != nil {
		return nil, err
	}
	return &ports.ExportFile{
		Filename:    Filename(format, now),
		ContentType: format.ContentType(),
		Data:        enc.bytes(),
		Rows:        rows,
	}, nil
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*domain.ExportJob, error) {
	return s.jobs.GetExportJob(ctx, jobID)
}

// Download returns the stored output of a completed job.
func (s *Service) Download(ctx context.Context, jobID string) (*ports.ExportFile, error) {
	job, err := s.jobs.GetExportJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobCompleted {
		return nil, domain.Errorf(domain.KindConflict, "export %s is %s", jobID, job.Status)
	}
	blob, err := s.sink.Get(ctx, job.BlobKey)
	if err != nil {
		return nil, err
	}
	return &ports.ExportFile{
		Filename:    job.Filename,
		ContentType: blob.ContentType,
		Data:        blob.Data,
		Rows:        job.Rows,
	}, nil
}

func Filename(format domain.ExportFormat, at time.Time) string {
	return fmt.Sprintf("red-flags-%s.%s", at.UTC().Format("20060102-150405"), format)
}

// suggestNarrower keeps the caller's criteria and tightens severity and date
// range, the two filters that cut volume the most.
func suggestNarrower(f domain.FlagFilter, now time.Time) domain.FlagFilter {
	out := f
	if len(out.Severities) == 0 || len(out.Severities) > 2 {
		out.Severities = []domain.Severity{domain.SeverityCritical, domain.SeverityHigh}
	}
	from := now.AddDate(0, 0, -30)
	if out.DetectedFrom == nil || out.DetectedFrom.Before(from) {
		out.DetectedFrom = &from
	}
	if out.DetectedTo != nil && out.DetectedTo.Before(from) {
		out.DetectedTo = nil
	}
	return out
}
