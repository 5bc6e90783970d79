package domain

import (
	"math"
	"strings"
	"time"
)

// FlagFilter selects flags. All set criteria are combined with AND; the zero
// value matches every flag that is not snoozed at ActiveAt.
type FlagFilter struct {
	Categories     []Category `json:"category,omitempty"`
	Severities     []Severity `json:"severity,omitempty"`
	Statuses       []Status   `json:"status,omitempty"`
	Search         string     `json:"search,omitempty"`
	EntityRef      string     `json:"entity_ref,omitempty"`
	OwnerID        string     `json:"owner_id,omitempty"`
	DetectedFrom   *time.Time `json:"from,omitempty"`
	DetectedTo     *time.Time `json:"to,omitempty"`
	IncludeSnoozed bool       `json:"include_snoozed,omitempty"`

	// ActiveAt is the instant snooze windows are evaluated against.
	ActiveAt time.Time `json:"-"`
}

func (f FlagFilter) Validate() error {
	for _, c := range f.Categories {
		if !c.Valid() {
			return Errorf(KindInvalidInput, "unknown category %q", c)
		}
	}
	for _, s := range f.Severities {
		if !s.Valid() {
			return Errorf(KindInvalidInput, "unknown severity %q", s)
		}
	}
	for _, s := range f.Statuses {
		if !s.Valid() {
			return Errorf(KindInvalidInput, "unknown status %q", s)
		}
	}
	if f.DetectedFrom != nil && f.DetectedTo != nil && f.DetectedTo.Before(*f.DetectedFrom) {
		return Errorf(KindInvalidInput, "date range ends before it starts")
	}
	return nil
}

// Matches evaluates the filter in memory. The postgres adapter translates the
// same criteria to SQL.
func (f FlagFilter) Matches(fl *RedFlag) bool {
	if len(f.Categories) > 0 && !contains(f.Categories, fl.Category) {
		return false
	}
	if len(f.Severities) > 0 && !contains(f.Severities, fl.Severity) {
		return false
	}
	if len(f.Statuses) > 0 && !contains(f.Statuses, fl.Status) {
		return false
	}
	if f.EntityRef != "" && !strings.EqualFold(f.EntityRef, fl.EntityRef) {
		return false
	}
	if f.OwnerID != "" && (fl.OwnerID == nil || *fl.OwnerID != f.OwnerID) {
		return false
	}
	if f.DetectedFrom != nil && fl.FirstDetectedAt.Before(*f.DetectedFrom) {
		return false
	}
	if f.DetectedTo != nil && fl.FirstDetectedAt.After(*f.DetectedTo) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		hay := strings.ToLower(fl.Title + "\n" + fl.Description + "\n" + fl.EntityRef)
		if !strings.Contains(hay, q) {
			return false
		}
	}
	if !f.IncludeSnoozed && fl.IsSnoozed(f.ActiveAt) {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

type SortField string

const (
	SortDetectedAt SortField = "detected_at"
	SortUpdatedAt  SortField = "updated_at"
	SortSeverity   SortField = "severity"
	SortConfidence SortField = "confidence"
)

func (s SortField) Valid() bool {
	switch s {
	case SortDetectedAt, SortUpdatedAt, SortSeverity, SortConfidence:
		return true
	}
	return false
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 500

	// maxOffset bounds Page*Limit so Offset fits a 32-bit int.
	maxOffset = math.MaxInt32
)

// FlagQuery is a filtered, sorted page request.
type FlagQuery struct {
	Filter     FlagFilter
	Sort       SortField
	Descending bool
	Page       int
	Limit      int
}

// Normalize fills defaults and clamps paging.
func (q FlagQuery) Normalize() FlagQuery {
	if !q.Sort.Valid() {
		q.Sort = SortDetectedAt
		q.Descending = true
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	if q.Page > maxOffset/q.Limit {
		q.Page = maxOffset / q.Limit
	}
	return q
}

func (q FlagQuery) Offset() int { return (q.Page - 1) * q.Limit }

// Less orders a before b according to the query's sort. Ties fall back to id
// in the same direction so paging is stable.
func (q FlagQuery) Less(a, b *RedFlag) bool {
	var cmp int
	switch q.Sort {
	case SortUpdatedAt:
		cmp = a.LastUpdatedAt.Compare(b.LastUpdatedAt)
	case SortSeverity:
		cmp = a.Severity.Rank() - b.Severity.Rank()
	case SortConfidence:
		cmp = compareConfidence(a.Confidence, b.Confidence)
	default:
		cmp = a.FirstDetectedAt.Compare(b.FirstDetectedAt)
	}
	if cmp == 0 {
		cmp = strings.Compare(a.ID, b.ID)
	}
	if q.Descending {
		return cmp > 0
	}
	return cmp < 0
}

// absent confidence sorts below any value.
func compareConfidence(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	}
	return 0
}
