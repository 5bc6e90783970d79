package domain

import (
	"math"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilterMatches(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	owner := "ana"
	f := &RedFlag{
		ID: "f1", EntityRef: "acme.com", Category: CategoryCyber, Severity: SeverityCritical,
		Status: StatusReviewing, Title: "Leaked credentials", Description: "Found on paste site",
		OwnerID: &owner, FirstDetectedAt: now.Add(-48 * time.Hour),
	}
	from := now.Add(-72 * time.Hour)

	assert.True(t, FlagFilter{ActiveAt: now}.Matches(f))
	assert.True(t, FlagFilter{Categories: []Category{CategoryCyber, CategoryLegal}, ActiveAt: now}.Matches(f))
	assert.False(t, FlagFilter{Severities: []Severity{SeverityLow}, ActiveAt: now}.Matches(f))
	assert.True(t, FlagFilter{Search: "PASTE", ActiveAt: now}.Matches(f))
	assert.True(t, FlagFilter{EntityRef: "ACME.com", OwnerID: "ana", DetectedFrom: &from, ActiveAt: now}.Matches(f))
	assert.False(t, FlagFilter{OwnerID: "bo", ActiveAt: now}.Matches(f))

	f.SnoozedUntil = &later
	assert.False(t, FlagFilter{ActiveAt: now}.Matches(f))
	assert.True(t, FlagFilter{ActiveAt: now, IncludeSnoozed: true}.Matches(f))
	assert.True(t, FlagFilter{ActiveAt: later}.Matches(f), "snooze lapses exactly at its end")
}

func TestFilterValidate(t *testing.T) {
	a := time.Now()
	b := a.Add(-time.Hour)
	assert.ErrorIs(t, FlagFilter{Statuses: []Status{"closed"}}.Validate(), ErrInvalidInput)
	assert.ErrorIs(t, FlagFilter{DetectedFrom: &a, DetectedTo: &b}.Validate(), ErrInvalidInput)
	assert.NoError(t, FlagFilter{}.Validate())
}

func TestQueryNormalizeAndOrder(t *testing.T) {
	q := FlagQuery{Limit: 10000, Page: -1}.Normalize()
	assert.Equal(t, SortDetectedAt, q.Sort)
	assert.True(t, q.Descending)
	assert.Equal(t, MaxPageSize, q.Limit)
	assert.Equal(t, 0, q.Offset())

	hi, lo := 0.9, 0.1
	flags := []*RedFlag{
		{ID: "b", Severity: SeverityLow, Confidence: &lo},
		{ID: "a", Severity: SeverityCritical},
		{ID: "c", Severity: SeverityCritical, Confidence: &hi},
	}
	bySev := FlagQuery{Sort: SortSeverity, Descending: true}
	sort.Slice(flags, func(i, j int) bool { return bySev.Less(flags[i], flags[j]) })
	assert.Equal(t, []string{"c", "a", "b"}, ids(flags))

	bySevAsc := FlagQuery{Sort: SortSeverity}
	sort.Slice(flags, func(i, j int) bool { return bySevAsc.Less(flags[i], flags[j]) })
	assert.Equal(t, []string{"b", "a", "c"}, ids(flags))

	byConf := FlagQuery{Sort: SortConfidence, Descending: true}
	sort.Slice(flags, func(i, j int) bool { return byConf.Less(flags[i], flags[j]) })
	assert.Equal(t, []string{"c", "b", "a"}, ids(flags))
}

func TestQueryNormalizeBoundsOffset(t *testing.T) {
	for _, page := range []int{math.MaxInt64/50 + 2, math.MaxInt, math.MaxInt32} {
		q := FlagQuery{Page: page, Limit: 50}.Normalize()
		assert.GreaterOrEqual(t, q.Offset(), 0, "page=%d", page)
		assert.LessOrEqual(t, q.Offset(), math.MaxInt32, "page=%d", page)
	}

	q := FlagQuery{Page: 3, Limit: 20}.Normalize()
	assert.Equal(t, 3, q.Page)
	assert.Equal(t, 40, q.Offset())
}

func ids(fs []*RedFlag) []string {
	out := make([]string, len(fs))
	for i, f := range fs {
		out[i] = f.ID
	}
	return out
}
