package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"

	"redflag/internal/domain"
)

// encoder writes one export file row by row.
type encoder interface {
	begin() error
	row(f *domain.RedFlag, evidence []domain.Evidence) error
	end() error
	bytes() []byte
}

func newEncoder(format domain.ExportFormat, opts domain.ExportOptions, now time.Time) encoder {
	if format == domain.FormatJSON {
		return &jsonEncoder{opts: opts, now: now}
	}
	return &csvEncoder{opts: opts, now: now}
}

var csvHeader = []string{
	"id", "entity_ref", "category", "severity", "status", "confidence",
	"title", "description", "owner_id", "snoozed", "snoozed_until",
	"first_detected_at", "last_updated_at",
}

var csvExplainerHeader = []string{"explainer_why", "explainer_key_evidence", "explainer_remediation", "explainer_timeframe"}

// csvEncoder never emits evidence: citation shapes differ per type and do not
// flatten into columns.
type csvEncoder struct {
	opts domain.ExportOptions
	now  time.Time
	buf  bytes.Buffer
	w    *csv.Writer
}

func (e *csvEncoder) begin() error {
	e.w = csv.NewWriter(&e.buf)
	header := csvHeader
	if e.opts.IncludeExplainer {
		header = append(append([]string{}, csvHeader...), csvExplainerHeader...)
	}
	return e.w.Write(header)
}

func (e *csvEncoder) row(f *domain.RedFlag, _ []domain.Evidence) error {
	rec := []string{
		f.ID,
		f.EntityRef,
		string(f.Category),
		string(f.Severity),
		string(f.Status),
		optFloat(f.Confidence),
		f.Title,
		f.Description,
		optString(f.OwnerID),
		strconv.FormatBool(f.IsSnoozed(e.now)),
		optTime(f.SnoozedUntil),
		f.FirstDetectedAt.UTC().Format(time.RFC3339),
		f.LastUpdatedAt.UTC().Format(time.RFC3339),
	}
	if e.opts.IncludeExplainer {
		var why, keys, rem, tf string
		if x := f.Explainer; x != nil {
			why, rem, tf = x.Why, x.SuggestedRemediation, x.Timeframe
			for i, k := range x.KeyEvidence {
				if i > 0 {
					keys += "; "
				}
				keys += k
			}
		}
		rec = append(rec, why, keys, rem, tf)
	}
	return e.w.Write(rec)
}

func (e *csvEncoder) end() error {
	e.w.Flush()
	return e.w.Error()
}

func (e *csvEncoder) bytes() []byte { return e.buf.Bytes() }

type jsonRow struct {
	ID              string                                    `json:"id"`
	EntityRef       string                                    `json:"entity_ref"`
	Category        domain.Category                           `json:"category"`
	Severity        domain.Severity                           `json:"severity"`
	Status          domain.Status                             `json:"status"`
	Confidence      *float64                                  `json:"confidence,omitempty"`
	Title           string                                    `json:"title"`
	Description     string                                    `json:"description"`
	OwnerID         *string                                   `json:"owner_id,omitempty"`
	Snoozed         bool                                      `json:"snoozed"`
	SnoozedUntil    *time.Time                                `json:"snoozed_until,omitempty"`
	FirstDetectedAt time.Time                                 `json:"first_detected_at"`
	LastUpdatedAt   time.Time                                 `json:"last_updated_at"`
	Explainer       *domain.Explainer                         `json:"explainer,omitempty"`
	Evidence        map[domain.EvidenceType][]domain.Evidence `json:"evidence,omitempty"`
}

// jsonEncoder streams a JSON array, one element per flag.
type jsonEncoder struct {
	opts domain.ExportOptions
	now  time.Time
	buf  bytes.Buffer
	n    int
}

func (e *jsonEncoder) begin() error {
	e.buf.WriteByte('[')
	return nil
}

func (e *jsonEncoder) row(f *domain.RedFlag, evidence []domain.Evidence) error {
	r := jsonRow{
		ID:              f.ID,
		EntityRef:       f.EntityRef,
		Category:        f.Category,
		Severity:        f.Severity,
		Status:          f.Status,
		Confidence:      f.Confidence,
		Title:           f.Title,
		Description:     f.Description,
		OwnerID:         f.OwnerID,
		Snoozed:         f.IsSnoozed(e.now),
		SnoozedUntil:    f.SnoozedUntil,
		FirstDetectedAt: f.FirstDetectedAt,
		LastUpdatedAt:   f.LastUpdatedAt,
	}
	if e.opts.IncludeExplainer {
		r.Explainer = f.Explainer
	}
	if e.opts.IncludeEvidence {
		r.Evidence = domain.GroupEvidence(evidence)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if e.n > 0 {
		e.buf.WriteByte(',')
	}
	e.buf.Write(data)
	e.n++
	return nil
}

func (e *jsonEncoder) end() error {
	e.buf.WriteByte(']')
	return nil
}

func (e *jsonEncoder) bytes() []byte { return e.buf.Bytes() }

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func optString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func optTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}
