package flags

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redflag/internal/adapters/memory"
	"redflag/internal/domain"
	"redflag/internal/ports"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *fakeClock) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.New()
	return New(store, store, store, logger, WithClock(clock.Now)), clock
}

func createFlag(t *testing.T, svc *Service) *domain.RedFlag {
	t.Helper()
	conf := 0.8
	f, err := svc.CreateFlag(context.Background(), ports.NewFlag{
		EntityRef:  "https://www.acme.co.uk/about",
		Category:   domain.CategoryFinancial,
		Severity:   domain.SeverityHigh,
		Title:      "Late filing of annual accounts",
		Confidence: &conf,
	})
	require.NoError(t, err)
	return f
}

// driveTo walks a fresh flag to the requested status through legal moves.
func driveTo(t *testing.T, svc *Service, id string, target domain.Status) {
	t.Helper()
	ctx := context.Background()
	var path []domain.Status
	switch target {
	case domain.StatusOpen:
	case domain.StatusReviewing:
		path = []domain.Status{domain.StatusReviewing}
	case domain.StatusMitigating:
		path = []domain.Status{domain.StatusMitigating}
	case domain.StatusResolved:
		path = []domain.Status{domain.StatusMitigating, domain.StatusResolved}
	case domain.StatusFalsePositive:
		path = []domain.Status{domain.StatusFalsePositive}
	}
	for _, s := range path {
		_, err := svc.ChangeStatus(ctx, id, s, "setup", "analyst-1")
		require.NoError(t, err)
	}
}

func TestCreateFlagNormalizesEntityAndStartsOpen(t *testing.T) {
	svc, clock := newTestService(t)
	f := createFlag(t, svc)

	assert.Equal(t, "acme.co.uk", f.EntityRef)
	assert.Equal(t, domain.StatusOpen, f.Status)
	assert.Equal(t, clock.Now(), f.FirstDetectedAt)
	assert.Equal(t, f.FirstDetectedAt, f.LastUpdatedAt)
}

func TestCreateFlagRejectsConfidenceOutOfRange(t *testing.T) {
	svc, _ := newTestService(t)
	bad := 1.5
	_, err := svc.CreateFlag(context.Background(), ports.NewFlag{
		EntityRef: "acme", Category: domain.CategoryLegal, Severity: domain.SeverityLow,
		Title: "x", Confidence: &bad,
	})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestChangeStatusRejectsEveryPairOutsideTable(t *testing.T) {
	ctx := context.Background()
	for _, from := range domain.Statuses {
		allowed := map[domain.Status]bool{}
		for _, s := range domain.AllowedTransitions(from) {
			allowed[s] = true
		}
		for _, to := range domain.Statuses {
			if allowed[to] {
				continue
			}
			svc, clock := newTestService(t)
			f := createFlag(t, svc)
			driveTo(t, svc, f.ID, from)
			before, err := svc.GetFlag(ctx, f.ID)
			require.NoError(t, err)

			clock.Advance(time.Hour)
			_, err = svc.ChangeStatus(ctx, f.ID, to, "because", "analyst-1")
			require.ErrorIs(t, err, domain.ErrInvalidTransition, "%s -> %s", from, to)

			after, err := svc.GetFlag(ctx, f.ID)
			require.NoError(t, err)
			assert.Equal(t, before.Status, after.Status)
			assert.Equal(t, before.LastUpdatedAt, after.LastUpdatedAt)
		}
	}
}

func TestFalsePositiveRequiresReason(t *testing.T) {
	ctx := context.Background()
	for _, from := range []domain.Status{domain.StatusOpen, domain.StatusReviewing, domain.StatusMitigating} {
		svc, _ := newTestService(t)
		f := createFlag(t, svc)
		driveTo(t, svc, f.ID, from)

		_, err := svc.ChangeStatus(ctx, f.ID, domain.StatusFalsePositive, "  ", "analyst-1")
		require.ErrorIs(t, err, domain.ErrReasonRequired)
		assert.Equal(t, domain.KindReasonRequired, domain.KindOf(err))

		got, err := svc.ChangeStatus(ctx, f.ID, domain.StatusFalsePositive, "duplicate of an earlier filing", "analyst-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFalsePositive, got.Status)
	}
}

func TestReopenFromTerminalStatesOnlyGoesToOpen(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	f := createFlag(t, svc)
	driveTo(t, svc, f.ID, domain.StatusResolved)

	_, err := svc.ChangeStatus(ctx, f.ID, domain.StatusMitigating, "", "analyst-1")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := svc.ChangeStatus(ctx, f.ID, domain.StatusOpen, "", "analyst-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, got.Status)
}

func TestActionLogIsAppendOnlyAndOrdered(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)
	f := createFlag(t, svc)

	steps := []func() error{
		func() error {
			_, err := svc.Assign(ctx, f.ID, "owner-1", "lead")
			return err
		},
		func() error {
			_, err := svc.AddNote(ctx, f.ID, "called the CFO", true, "owner-1")
			return err
		},
		func() error {
			_, err := svc.ChangeStatus(ctx, f.ID, domain.StatusReviewing, "", "owner-1")
			return err
		},
		func() error {
			_, err := svc.Snooze(ctx, f.ID, 3, "waiting on filing", "owner-1")
			return err
		},
		func() error {
			_, err := svc.RecordRemediation(ctx, f.ID, "request audited accounts", nil, []string{"cfo", " "}, "owner-1")
			return err
		},
		func() error {
			_, err := svc.Override(ctx, f.ID, FieldSeverity, "high", "critical", "regulator notice", "lead")
			return err
		},
	}

	var snapshots [][]domain.Action
	for i, step := range steps {
		clock.Advance(time.Minute)
		require.NoError(t, step(), "step %d", i)
		acts, err := svc.ListActions(ctx, f.ID)
		require.NoError(t, err)
		require.Len(t, acts, i+1)
		snapshots = append(snapshots, acts)
	}

	final := snapshots[len(snapshots)-1]
	for i, snap := range snapshots {
		assert.Equal(t, snap, final[:i+1], "entries written before step %d changed", i)
	}
	for i := 1; i < len(final); i++ {
		assert.False(t, final[i].CreatedAt.Before(final[i-1].CreatedAt))
	}

	wantTypes := []domain.ActionType{
		domain.ActionAssign, domain.ActionNote, domain.ActionStatusChange,
		domain.ActionSnooze, domain.ActionRemediation, domain.ActionOverride,
	}
	for i, a := range final {
		assert.Equal(t, wantTypes[i], a.Type)
		assert.Equal(t, wantTypes[i], a.Data.ActionType())
	}

	rem := final[4].Data.(domain.RemediationData)
	assert.Equal(t, []string{"cfo"}, rem.Stakeholders)

	got, err := svc.GetFlag(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityCritical, got.Severity)
	assert.Equal(t, domain.StatusReviewing, got.Status)
	assert.Equal(t, clock.Now(), got.LastUpdatedAt)
}

func TestFailedCommandAppendsNothing(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	f := createFlag(t, svc)

	_, err := svc.ChangeStatus(ctx, f.ID, domain.StatusResolved, "", "analyst-1")
	require.Error(t, err)
	_, err = svc.Snooze(ctx, f.ID, 0, "", "analyst-1")
	require.ErrorIs(t, err, domain.ErrInvalidDuration)
	_, err = svc.RecordRemediation(ctx, f.ID, "   ", nil, nil, "analyst-1")
	require.ErrorIs(t, err, domain.ErrEmptyPlan)

	acts, err := svc.ListActions(ctx, f.ID)
	require.NoError(t, err)
	assert.Empty(t, acts)
}

func TestAssignRecordsPreviousOwner(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	f := createFlag(t, svc)

	_, err := svc.Assign(ctx, f.ID, "alice", "lead")
	require.NoError(t, err)
	got, err := svc.Assign(ctx, f.ID, "bob", "lead")
	require.NoError(t, err)
	require.NotNil(t, got.OwnerID)
	assert.Equal(t, "bob", *got.OwnerID)

	acts, err := svc.ListActions(ctx, f.ID)
	require.NoError(t, err)
	first := acts[0].Data.(domain.AssignData)
	second := acts[1].Data.(domain.AssignData)
	assert.Nil(t, first.PreviousOwnerID)
	require.NotNil(t, second.PreviousOwnerID)
	assert.Equal(t, "alice", *second.PreviousOwnerID)
}

func TestSnoozeIsEvaluatedOnRead(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)
	f := createFlag(t, svc)

	snoozed, err := svc.Snooze(ctx, f.ID, 1, "", "analyst-1")
	require.NoError(t, err)
	require.NotNil(t, snoozed.SnoozedUntil)

	clock.Advance(24*time.Hour - time.Second)
	got, err := svc.GetFlag(ctx, f.ID)
	require.NoError(t, err)
	assert.True(t, got.IsSnoozed(clock.Now()))
	active, total, err := svc.ListFlags(ctx, domain.FlagQuery{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, active)

	clock.Advance(time.Second)
	got, err = svc.GetFlag(ctx, f.ID)
	require.NoError(t, err)
	assert.False(t, got.IsSnoozed(clock.Now()))
	active, total, err = svc.ListFlags(ctx, domain.FlagQuery{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, active, 1)
	assert.Equal(t, f.ID, active[0].ID)
}

func TestSnoozeDurationBounds(t *testing.T) {
	ctx := context.Background()
	svc, clock := newTestService(t)
	f := createFlag(t, svc)

	for _, days := range []int{-1, 0, MaxSnoozeDays + 1, 200000} {
		_, err := svc.Snooze(ctx, f.ID, days, "", "analyst-1")
		require.ErrorIs(t, err, domain.ErrInvalidDuration, "days=%d", days)
	}

	got, err := svc.Snooze(ctx, f.ID, MaxSnoozeDays, "", "analyst-1")
	require.NoError(t, err)
	require.NotNil(t, got.SnoozedUntil)
	assert.Equal(t, clock.Now().UTC().AddDate(0, 0, MaxSnoozeDays), *got.SnoozedUntil)
	assert.True(t, got.IsSnoozed(clock.Now()))

	acts, err := svc.ListActions(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, *got.SnoozedUntil, acts[0].Data.(domain.SnoozeData).Until)
}

func TestSnoozedFlagRemainsMutable(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	f := createFlag(t, svc)
	_, err := svc.Snooze(ctx, f.ID, 7, "", "analyst-1")
	require.NoError(t, err)
	_, err = svc.ChangeStatus(ctx, f.ID, domain.StatusReviewing, "", "analyst-1")
	require.NoError(t, err)
}

func TestOverride(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	f := createFlag(t, svc)

	_, err := svc.Override(ctx, f.ID, FieldSeverity, "high", "low", "", "lead")
	require.ErrorIs(t, err, domain.ErrReasonRequired)

	_, err = svc.Override(ctx, f.ID, FieldSeverity, "medium", "low", "analyst error", "lead")
	require.ErrorIs(t, err, domain.ErrConflict)

	_, err = svc.Override(ctx, f.ID, "status", "open", "resolved", "shortcut", "lead")
	require.ErrorIs(t, err, domain.ErrInvalidOverride)

	for _, bad := range []string{"2", "-0.1", "NaN", "nan", "Inf", "-Inf", "high"} {
		_, err = svc.Override(ctx, f.ID, FieldConfidence, "0.8", bad, "recalibrated", "lead")
		require.ErrorIs(t, err, domain.ErrInvalidOverride, bad)
	}
	unchanged, err := svc.GetFlag(ctx, f.ID)
	require.NoError(t, err)
	require.NoError(t, unchanged.Validate())
	assert.InDelta(t, 0.8, *unchanged.Confidence, 1e-9)

	got, err := svc.Override(ctx, f.ID, FieldConfidence, "0.80", "0.35", "recalibrated", "lead")
	require.NoError(t, err)
	require.NotNil(t, got.Confidence)
	assert.InDelta(t, 0.35, *got.Confidence, 1e-9)

	acts, err := svc.ListActions(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, domain.OverrideData{Field: FieldConfidence, From: "0.8", To: "0.35", Reason: "recalibrated"}, acts[0].Data)
}

func TestMutationsRequireActor(t *testing.T) {
	svc, _ := newTestService(t)
	f := createFlag(t, svc)
	_, err := svc.AddNote(context.Background(), f.ID, "hello", false, "")
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestUnknownFlagIsNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.ChangeStatus(context.Background(), "missing", domain.StatusReviewing, "", "analyst-1")
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = svc.ListActions(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentTransitionsFromSameStatusSucceedOnce(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	f := createFlag(t, svc)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ChangeStatus(ctx, f.ID, domain.StatusReviewing, "", "analyst-1")
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	acts, err := svc.ListActions(ctx, f.ID)
	require.NoError(t, err)
	assert.Len(t, acts, 1)
}

func TestAddEvidenceChecksCitationShape(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)
	f := createFlag(t, svc)

	_, err := svc.AddEvidence(ctx, ports.NewEvidence{
		FlagID:   f.ID,
		Type:     domain.EvidenceKPI,
		Citation: json.RawMessage(`{"documentId":"x"}`),
	})
	require.ErrorIs(t, err, domain.ErrInvalidCitationShape)

	first, err := svc.AddEvidence(ctx, ports.NewEvidence{
		FlagID:      f.ID,
		Type:        domain.EvidenceKPI,
		Citation:    json.RawMessage(`{"metricName":"days_sales_outstanding","value":93,"unit":"days"}`),
		Description: "DSO above peer median",
	})
	require.NoError(t, err)
	second, err := svc.AddEvidence(ctx, ports.NewEvidence{
		FlagID:   f.ID,
		Type:     domain.EvidenceDocument,
		Citation: json.RawMessage(`{"documentId":"doc-7","pageNumber":12}`),
	})
	require.NoError(t, err)

	items, err := svc.ListEvidence(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)
	assert.Equal(t, second.ID, items[1].ID)
	assert.IsType(t, domain.KPICitation{}, items[0].Citation)

	acts, err := svc.ListActions(ctx, f.ID)
	require.NoError(t, err)
	assert.Empty(t, acts)
}

func TestAddEvidenceUnknownFlag(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.AddEvidence(context.Background(), ports.NewEvidence{
		FlagID:   "missing",
		Type:     domain.EvidenceSignal,
		Citation: json.RawMessage(`{"signalId":"s-1"}`),
	})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestNotifierReceivesCommittedMutations(t *testing.T) {
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := memory.New()

	var (
		mu     sync.Mutex
		events []ports.Event
	)
	n := ports.NotifierFunc(func(_ context.Context, ev ports.Event) error {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
		return nil
	})
	svc := New(store, store, store, logger, WithNotifier(n))
	f := createFlag(t, svc)
	_, err := svc.ChangeStatus(ctx, f.ID, domain.StatusReviewing, "", "analyst-1")
	require.NoError(t, err)
	_, err = svc.ChangeStatus(ctx, f.ID, domain.StatusResolved, "", "analyst-1")
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 2)
	assert.Equal(t, ports.EventFlagCreated, events[0].Kind)
	assert.Equal(t, ports.EventFlagUpdated, events[1].Kind)
	assert.Equal(t, domain.ActionStatusChange, events[1].ActionType)
}
