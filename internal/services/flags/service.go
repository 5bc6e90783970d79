package flags

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"redflag/internal/domain"
	"redflag/internal/ports"
)

var _ ports.Flags = (*Service)(nil)

// Service is the flag aggregate's only mutation surface. Each command reads
// the current row under the repository's per-flag lock, validates against it,
// writes the projection and appends exactly one action.
type Service struct {
	flags    ports.FlagRepository
	evidence ports.EvidenceRepository
	actions  ports.ActionRepository
	notifier ports.Notifier
	log      logrus.FieldLogger
	now      func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithNotifier(n ports.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func New(flags ports.FlagRepository, evidence ports.EvidenceRepository, actions ports.ActionRepository, log logrus.FieldLogger, opts ...Option) *Service {
	s := &Service{
		flags:    flags,
		evidence: evidence,
		actions:  actions,
		notifier: ports.NopNotifier,
		log:      log,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) clock() time.Time { return s.now().UTC() }

// CreateFlag records a newly detected flag with status open.
func (s *Service) CreateFlag(ctx context.Context, in ports.NewFlag) (*domain.RedFlag, error) {
	now := s.clock()
	detected := now
	if in.DetectedAt != nil && !in.DetectedAt.IsZero() {
		detected = in.DetectedAt.UTC()
	}
	f := &domain.RedFlag{
		ID:              uuid.NewString(),
		EntityRef:       NormalizeEntityRef(in.EntityRef),
		Category:        in.Category,
		Severity:        in.Severity,
		Status:          domain.StatusOpen,
		Confidence:      in.Confidence,
		Title:           strings.TrimSpace(in.Title),
		Description:     in.Description,
		Explainer:       in.Explainer,
		FirstDetectedAt: detected,
	}
	f.Touch(now)
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := s.flags.Create(ctx, f); err != nil {
		return nil, err
	}
	s.publish(ctx, ports.Event{Kind: ports.EventFlagCreated, FlagID: f.ID, Status: string(f.Status), At: now})
	return f, nil
}

func (s *Service) GetFlag(ctx context.Context, id string) (*domain.RedFlag, error) {
	return s.flags.Get(ctx, id)
}

// ListFlags evaluates snooze windows at the current instant unless the caller
// pinned ActiveAt.
func (s *Service) ListFlags(ctx context.Context, q domain.FlagQuery) ([]*domain.RedFlag, int, error) {
	if err := q.Filter.Validate(); err != nil {
		return nil, 0, err
	}
	if q.Filter.ActiveAt.IsZero() {
		q.Filter.ActiveAt = s.clock()
	}
	q.Filter.EntityRef = NormalizeEntityRef(q.Filter.EntityRef)
	return s.flags.List(ctx, q.Normalize())
}

func (s *Service) AllowedTransitions(ctx context.Context, id string) ([]domain.Status, error) {
	f, err := s.flags.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.AllowedTransitions(f.Status), nil
}

func (s *Service) ChangeStatus(ctx context.Context, flagID string, to domain.Status, reason, actorID string) (*domain.RedFlag, error) {
	if !to.Valid() {
		return nil, domain.Errorf(domain.KindInvalidInput, "unknown status %q", to)
	}
	return s.mutate(ctx, flagID, actorID, func(f *domain.RedFlag, _ time.Time) (domain.ActionData, error) {
		from := f.Status
		if err := domain.ValidateTransition(from, to, reason); err != nil {
			return nil, err
		}
		f.Status = to
		return domain.StatusChangeData{From: from, To: to, Reason: strings.TrimSpace(reason)}, nil
	})
}

func (s *Service) Assign(ctx context.Context, flagID, assigneeID, actorID string) (*domain.RedFlag, error) {
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "assignee is required")
	}
	return s.mutate(ctx, flagID, actorID, func(f *domain.RedFlag, _ time.Time) (domain.ActionData, error) {
		prev := f.OwnerID
		owner := assigneeID
		f.OwnerID = &owner
		return domain.AssignData{AssigneeID: assigneeID, PreviousOwnerID: prev}, nil
	})
}

// AddNote appends a note. Only last_updated_at moves on the flag itself.
func (s *Service) AddNote(ctx context.Context, flagID, text string, isInternal bool, actorID string) (*domain.RedFlag, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "note text is required")
	}
	return s.mutate(ctx, flagID, actorID, func(f *domain.RedFlag, _ time.Time) (domain.ActionData, error) {
		return domain.NoteData{Text: text, IsInternal: isInternal}, nil
	})
}

// MaxSnoozeDays caps a single snooze at ten years.
const MaxSnoozeDays = 3650

// Snooze hides the flag from active views for durationDays whole days.
// A snoozed flag stays fully mutable.
func (s *Service) Snooze(ctx context.Context, flagID string, durationDays int, reason, actorID string) (*domain.RedFlag, error) {
	if durationDays < 1 || durationDays > MaxSnoozeDays {
		return nil, domain.Errorf(domain.KindInvalidDuration, "snooze duration must be between 1 and %d days, got %d", MaxSnoozeDays, durationDays)
	}
	return s.mutate(ctx, flagID, actorID, func(f *domain.RedFlag, now time.Time) (domain.ActionData, error) {
		until := now.AddDate(0, 0, durationDays)
		f.SnoozedUntil = &until
		return domain.SnoozeData{DurationDays: durationDays, Until: until, Reason: strings.TrimSpace(reason)}, nil
	})
}

// RecordRemediation logs a plan without touching status, so planning can
// start before the flag formally moves to mitigating.
func (s *Service) RecordRemediation(ctx context.Context, flagID, plan string, eta *time.Time, stakeholders []string, actorID string) (*domain.RedFlag, error) {
	plan = strings.TrimSpace(plan)
	if plan == "" {
		return nil, domain.Errorf(domain.KindEmptyPlan, "remediation plan text is required")
	}
	people := make([]string, 0, len(stakeholders))
	for _, p := range stakeholders {
		if p = strings.TrimSpace(p); p != "" {
			people = append(people, p)
		}
	}
	return s.mutate(ctx, flagID, actorID, func(f *domain.RedFlag, _ time.Time) (domain.ActionData, error) {
		return domain.RemediationData{Plan: plan, ETA: eta, Stakeholders: people}, nil
	})
}

// Fields accepted by Override. status is not among them.
const (
	FieldSeverity    = "severity"
	FieldCategory    = "category"
	FieldConfidence  = "confidence"
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldEntityRef   = "entity_ref"
)

// Override corrects a denormalised field outside the detection pipeline.
// from must match the current value; a stale from is a Conflict.
func (s *Service) Override(ctx context.Context, flagID, field, from, to, reason, actorID string) (*domain.RedFlag, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.Errorf(domain.KindReasonRequired, "reason required to override %s", field)
	}
	return s.mutate(ctx, flagID, actorID, func(f *domain.RedFlag, _ time.Time) (domain.ActionData, error) {
		current, err := overrideField(f, field, to)
		if err != nil {
			return nil, err
		}
		if normalizeOverride(field, from) != current {
			return nil, domain.Errorf(domain.KindConflict, "%s is currently %q, not %q", field, current, from)
		}
		next := normalizeOverride(field, to)
		if current == next {
			return nil, domain.Errorf(domain.KindInvalidOverride, "%s is already %q", field, current)
		}
		return domain.OverrideData{Field: field, From: current, To: next, Reason: reason}, nil
	})
}

// overrideField validates to, applies it to f and returns the previous value
// in its canonical string form.
func overrideField(f *domain.RedFlag, field, to string) (string, error) {
	switch field {
	case FieldSeverity:
		v := domain.Severity(to)
		if !v.Valid() {
			return "", domain.Errorf(domain.KindInvalidOverride, "unknown severity %q", to)
		}
		prev := string(f.Severity)
		f.Severity = v
		return prev, nil
	case FieldCategory:
		v := domain.Category(to)
		if !v.Valid() {
			return "", domain.Errorf(domain.KindInvalidOverride, "unknown category %q", to)
		}
		prev := string(f.Category)
		f.Category = v
		return prev, nil
	case FieldConfidence:
		prev := formatConfidence(f.Confidence)
		if strings.TrimSpace(to) == "" {
			f.Confidence = nil
			return prev, nil
		}
		c, err := strconv.ParseFloat(strings.TrimSpace(to), 64)
		if err == nil {
			err = domain.ValidateConfidence(&c)
		}
		if err != nil {
			return "", domain.Errorf(domain.KindInvalidOverride, "confidence must be a number in [0,1], got %q", to)
		}
		f.Confidence = &c
		return prev, nil
	case FieldTitle:
		if strings.TrimSpace(to) == "" {
			return "", domain.Errorf(domain.KindInvalidOverride, "title cannot be blank")
		}
		prev := f.Title
		f.Title = to
		return prev, nil
	case FieldDescription:
		prev := f.Description
		f.Description = to
		return prev, nil
	case FieldEntityRef:
		v := NormalizeEntityRef(to)
		if v == "" {
			return "", domain.Errorf(domain.KindInvalidOverride, "entity reference cannot be blank")
		}
		prev := f.EntityRef
		f.EntityRef = v
		return prev, nil
	case "status":
		return "", domain.Errorf(domain.KindInvalidOverride, "status can only change through a status transition")
	}
	return "", domain.Errorf(domain.KindInvalidOverride, "field %q cannot be overridden", field)
}

func normalizeOverride(field, v string) string {
	switch field {
	case FieldConfidence:
		v = strings.TrimSpace(v)
		if v == "" {
			return ""
		}
		c, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return v
		}
		return formatConfidence(&c)
	case FieldEntityRef:
		return NormalizeEntityRef(v)
	}
	return v
}

func formatConfidence(c *float64) string {
	if c == nil {
		return ""
	}
	return strconv.FormatFloat(*c, 'f', -1, 64)
}

// mutate runs apply inside the repository's per-flag read-modify-write and
// appends the resulting action.
func (s *Service) mutate(ctx context.Context, flagID, actorID string, apply func(f *domain.RedFlag, now time.Time) (domain.ActionData, error)) (*domain.RedFlag, error) {
	if strings.TrimSpace(actorID) == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "actor id is required")
	}
	now := s.clock()
	f, action, err := s.flags.Mutate(ctx, flagID, func(f *domain.RedFlag) (*domain.Action, error) {
		data, err := apply(f, now)
		if err != nil {
			return nil, err
		}
		f.Touch(now)
		return domain.NewAction(f.ID, actorID, data, now), nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"flag_id": flagID,
		"action":  action.Type,
		"actor":   actorID,
	}).Debug("flag updated")
	s.publish(ctx, ports.Event{
		Kind:       ports.EventFlagUpdated,
		FlagID:     f.ID,
		ActionType: action.Type,
		ActorID:    actorID,
		Status:     string(f.Status),
		At:         now,
	})
	return f, nil
}

func (s *Service) publish(ctx context.Context, ev ports.Event) {
	if err := s.notifier.Publish(ctx, ev); err != nil {
		s.log.WithError(err).WithField("flag_id", ev.FlagID).Warn("notify failed")
	}
}

// AddEvidence decodes the citation against its declared type and stores it.
// Evidence is never edited; corrections are new items.
func (s *Service) AddEvidence(ctx context.Context, in ports.NewEvidence) (*domain.Evidence, error) {
	if !in.Type.Valid() {
		return nil, domain.Errorf(domain.KindInvalidCitationShape, "unknown evidence type %q", in.Type)
	}
	c, err := domain.DecodeCitation(in.Type, in.Citation)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	ev, err := domain.NewEvidence(uuid.NewString(), in.FlagID, in.Type, c, in.Description, in.Confidence, now)
	if err != nil {
		return nil, err
	}
	if err := s.evidence.AddEvidence(ctx, ev); err != nil {
		return nil, err
	}
	s.publish(ctx, ports.Event{Kind: ports.EventEvidenceAdded, FlagID: in.FlagID, At: now})
	return ev, nil
}

func (s *Service) ListEvidence(ctx context.Context, flagID string) ([]domain.Evidence, error) {
	return s.evidence.ListEvidence(ctx, flagID)
}

func (s *Service) ListActions(ctx context.Context, flagID string) ([]domain.Action, error) {
	return s.actions.ListActions(ctx, flagID)
}
