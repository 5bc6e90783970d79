package domain

import (
	"math"
	"time"
)

// Core domain models. HTTP request/response shapes live in the http adapter;
// these types are what the services and repositories exchange.

type Category string

const (
	CategoryFinancial   Category = "financial"
	CategoryLegal       Category = "legal"
	CategoryOperational Category = "operational"
	CategoryCyber       Category = "cyber"
	CategoryESG         Category = "esg"
)

var Categories = []Category{CategoryFinancial, CategoryLegal, CategoryOperational, CategoryCyber, CategoryESG}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Severities is ordered most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

func (s Severity) Valid() bool { return s.Rank() > 0 }

// Rank orders severities: critical=4 ... low=1, unknown=0.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

type Status string

const (
	StatusOpen          Status = "open"
	StatusReviewing     Status = "reviewing"
	StatusMitigating    Status = "mitigating"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
)

var Statuses = []Status{StatusOpen, StatusReviewing, StatusMitigating, StatusResolved, StatusFalsePositive}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Explainer is the structured rationale attached by the detection pipeline.
type Explainer struct {
	Why                  string   `json:"why"`
	KeyEvidence          []string `json:"key_evidence,omitempty"`
	SuggestedRemediation string   `json:"suggested_remediation,omitempty"`
	Timeframe            string   `json:"timeframe,omitempty"`
}

// RedFlag is the aggregate root. Its field values are a projection of the
// action log; Status is written only through ValidateTransition.
type RedFlag struct {
	ID              string     `json:"id"`
	EntityRef       string     `json:"entity_ref"`
	Category        Category   `json:"category"`
	Severity        Severity   `json:"severity"`
	Status          Status     `json:"status"`
	Confidence      *float64   `json:"confidence,omitempty"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	OwnerID         *string    `json:"owner_id,omitempty"`
	SnoozedUntil    *time.Time `json:"snoozed_until,omitempty"`
	FirstDetectedAt time.Time  `json:"first_detected_at"`
	LastUpdatedAt   time.Time  `json:"last_updated_at"`
	Explainer       *Explainer `json:"explainer,omitempty"`
}

// IsSnoozed reports whether the flag is hidden from active views at now.
// Nothing is persisted; the answer changes as soon as now passes SnoozedUntil.
func (f *RedFlag) IsSnoozed(now time.Time) bool {
	return f.SnoozedUntil != nil && now.Before(*f.SnoozedUntil)
}

// Touch moves LastUpdatedAt forward without ever going behind FirstDetectedAt.
func (f *RedFlag) Touch(now time.Time) {
	if now.Before(f.FirstDetectedAt) {
		now = f.FirstDetectedAt
	}
	f.LastUpdatedAt = now
}

func (f *RedFlag) Validate() error {
	if f.EntityRef == "" {
		return Errorf(KindInvalidInput, "entity reference is required")
	}
	if f.Title == "" {
		return Errorf(KindInvalidInput, "title is required")
	}
	if !f.Category.Valid() {
		return Errorf(KindInvalidInput, "unknown category %q", f.Category)
	}
	if !f.Severity.Valid() {
		return Errorf(KindInvalidInput, "unknown severity %q", f.Severity)
	}
	if !f.Status.Valid() {
		return Errorf(KindInvalidInput, "unknown status %q", f.Status)
	}
	if err := ValidateConfidence(f.Confidence); err != nil {
		return err
	}
	if f.LastUpdatedAt.Before(f.FirstDetectedAt) {
		return Errorf(KindInvalidInput, "last_updated_at precedes first_detected_at")
	}
	return nil
}

// Clone returns a deep copy so repositories can hand out flags without sharing pointers.
func (f *RedFlag) Clone() *RedFlag {
	out := *f
	if f.Confidence != nil {
		c := *f.Confidence
		out.Confidence = &c
	}
	if f.OwnerID != nil {
		o := *f.OwnerID
		out.OwnerID = &o
	}
	if f.SnoozedUntil != nil {
		t := *f.SnoozedUntil
		out.SnoozedUntil = &t
	}
	if f.Explainer != nil {
		e := *f.Explainer
		e.KeyEvidence = append([]string(nil), f.Explainer.KeyEvidence...)
		out.Explainer = &e
	}
	return &out
}

func ValidateConfidence(c *float64) error {
	if c == nil {
		return nil
	}
	if math.IsNaN(*c) || math.IsInf(*c, 0) || *c < 0 || *c > 1 {
		return Errorf(KindInvalidInput, "confidence %v outside [0,1]", *c)
	}
	return nil
}
