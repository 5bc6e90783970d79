package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redflag/internal/domain"
	"redflag/internal/ports"
)

func newFlag(id string, detected time.Time) *domain.RedFlag {
	return &domain.RedFlag{
		ID: id, EntityRef: "acme.com", Category: domain.CategoryOperational, Severity: domain.SeverityMedium,
		Status: domain.StatusOpen, Title: "Key supplier insolvent", FirstDetectedAt: detected, LastUpdatedAt: detected,
	}
}

func TestStoreHandsOutCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, newFlag("f1", time.Now())))
	require.ErrorIs(t, s.Create(ctx, newFlag("f1", time.Now())), domain.ErrConflict)

	got, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	got.Status = domain.StatusResolved

	again, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, again.Status)
}

func TestMutateFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, newFlag("f1", time.Now())))

	_, _, err := s.Mutate(ctx, "f1", func(f *domain.RedFlag) (*domain.Action, error) {
		f.Status = domain.StatusResolved
		return nil, errors.New("nope")
	})
	require.Error(t, err)

	f, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, f.Status)
	acts, err := s.ListActions(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, acts)

	_, _, err = s.Mutate(ctx, "ghost", func(*domain.RedFlag) (*domain.Action, error) { return nil, nil })
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMutateSerialisesPerFlag(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, newFlag("f1", time.Now())))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := s.Mutate(ctx, "f1", func(f *domain.RedFlag) (*domain.Action, error) {
				f.Title += "."
				return domain.NewAction(f.ID, "bot", domain.NoteData{Text: fmt.Sprint(i)}, time.Now()), nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	f, err := s.Get(ctx, "f1")
	require.NoError(t, err)
	assert.Len(t, f.Title, len("Key supplier insolvent")+50)
	acts, err := s.ListActions(ctx, "f1")
	require.NoError(t, err)
	assert.Len(t, acts, 50)
}

func TestListPagesAndCounts(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Create(ctx, newFlag(fmt.Sprintf("f%d", i), base.Add(time.Duration(i)*time.Hour))))
	}

	page, total, err := s.List(ctx, domain.FlagQuery{Page: 2, Limit: 2}.Normalize())
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "f2", page[0].ID)
	assert.Equal(t, "f1", page[1].ID)

	n, err := s.Count(ctx, domain.FlagFilter{Statuses: []domain.Status{domain.StatusResolved}})
	require.NoError(t, err)
	assert.Zero(t, n)

	var seen []string
	require.NoError(t, s.Each(ctx, domain.FlagFilter{}, func(f *domain.RedFlag) error {
		seen = append(seen, f.ID)
		return nil
	}))
	assert.Equal(t, []string{"f4", "f3", "f2", "f1", "f0"}, seen)
}

func TestListHugePageIsEmpty(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Create(ctx, newFlag("f0", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))))

	page, total, err := s.List(ctx, domain.FlagQuery{Page: math.MaxInt64/50 + 2, Limit: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Empty(t, page)
}

func TestListTiesFollowSortDirection(t *testing.T) {
	ctx := context.Background()
	s := New()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"b", "c", "a"} {
		require.NoError(t, s.Create(ctx, newFlag(id, at)))
	}

	desc, _, err := s.List(ctx, domain.FlagQuery{Sort: domain.SortDetectedAt, Descending: true})
	require.NoError(t, err)
	asc, _, err := s.List(ctx, domain.FlagQuery{Sort: domain.SortDetectedAt})
	require.NoError(t, err)

	ids := func(fs []*domain.RedFlag) []string {
		out := make([]string, len(fs))
		for i, f := range fs {
			out[i] = f.ID
		}
		return out
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids(desc))
	assert.Equal(t, []string{"a", "b", "c"}, ids(asc))
}

func TestEvidenceRequiresFlag(t *testing.T) {
	ctx := context.Background()
	s := New()
	ev, err := domain.NewEvidence("", "ghost", domain.EvidenceSignal, domain.SignalCitation{SignalID: "s"}, "", nil, time.Now())
	require.NoError(t, err)
	require.ErrorIs(t, s.AddEvidence(ctx, ev), domain.ErrNotFound)
	_, err = s.ListEvidence(ctx, "ghost")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEvidenceForGroupsByFlag(t *testing.T) {
	ctx := context.Background()
	s := New()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Create(ctx, newFlag("f1", at)))
	require.NoError(t, s.Create(ctx, newFlag("f2", at)))
	for i, flagID := range []string{"f1", "f2", "f1"} {
		ev, err := domain.NewEvidence(fmt.Sprintf("ev-%d", i), flagID, domain.EvidenceSignal,
			domain.SignalCitation{SignalID: fmt.Sprintf("s%d", i)}, "", nil, at)
		require.NoError(t, err)
		require.NoError(t, s.AddEvidence(ctx, ev))
	}

	got, err := s.EvidenceFor(ctx, []string{"f1", "f2", "ghost"})
	require.NoError(t, err)
	require.Len(t, got["f1"], 2)
	assert.Equal(t, "ev-0", got["f1"][0].ID)
	assert.Equal(t, "ev-2", got["f1"][1].ID)
	require.Len(t, got["f2"], 1)
	assert.NotContains(t, got, "ghost")
}

func TestJobQueueOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, id := range []string{"j1", "j2"} {
		require.NoError(t, s.Enqueue(ctx, &domain.ExportJob{ID: id, Format: domain.FormatCSV}))
	}
	first, found, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "j1", first.ID)
	assert.Equal(t, domain.JobRunning, first.Status)

	second, _, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "j2", second.ID)

	_, found, err = s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.ErrorIs(t, s.MarkFailed(ctx, "nope", "x"), domain.ErrNotFound)
}

func TestBlobsCopyData(t *testing.T) {
	ctx := context.Background()
	b := NewBlobs()
	data := []byte("abc")
	require.NoError(t, b.Put(ctx, ports.Blob{Key: "k", Data: data}))
	data[0] = 'z'
	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got.Data))
	_, err = b.Get(ctx, "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
}
