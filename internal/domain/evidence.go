package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"
)

type EvidenceType string

const (
	EvidenceDocument EvidenceType = "document"
	EvidenceAlert    EvidenceType = "alert"
	EvidenceKPI      EvidenceType = "kpi"
	EvidenceSignal   EvidenceType = "signal"
	EvidenceNews     EvidenceType = "news"
)

var EvidenceTypes = []EvidenceType{EvidenceDocument, EvidenceAlert, EvidenceKPI, EvidenceSignal, EvidenceNews}

func (t EvidenceType) Valid() bool {
	for _, v := range EvidenceTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Citation is the type-specific payload of an evidence item. Each evidence
// type has exactly one variant.
type Citation interface {
	EvidenceType() EvidenceType
	validate() error
}

type DocumentCitation struct {
	DocumentID string `json:"documentId"`
	PageNumber *int   `json:"pageNumber,omitempty"`
	ChunkIndex *int   `json:"chunkIndex,omitempty"`
}

type AlertCitation struct {
	AlertID  string `json:"alertId"`
	Severity string `json:"severity,omitempty"`
}

type KPICitation struct {
	MetricName string   `json:"metricName"`
	Value      *float64 `json:"value"`
	Unit       string   `json:"unit,omitempty"`
}

type SignalCitation struct {
	SignalID   string `json:"signalId"`
	SignalType string `json:"signalType,omitempty"`
}

type NewsCitation struct {
	Source string `json:"source,omitempty"`
	URL    string `json:"url"`
}

func (DocumentCitation) EvidenceType() EvidenceType { return EvidenceDocument }
func (AlertCitation) EvidenceType() EvidenceType    { return EvidenceAlert }
func (KPICitation) EvidenceType() EvidenceType      { return EvidenceKPI }
func (SignalCitation) EvidenceType() EvidenceType   { return EvidenceSignal }
func (NewsCitation) EvidenceType() EvidenceType     { return EvidenceNews }

func (c DocumentCitation) validate() error {
	if strings.TrimSpace(c.DocumentID) == "" {
		return shapeErr(EvidenceDocument, "documentId is required")
	}
	if c.PageNumber != nil && *c.PageNumber < 1 {
		return shapeErr(EvidenceDocument, "pageNumber must be positive")
	}
	if c.ChunkIndex != nil && *c.ChunkIndex < 0 {
		return shapeErr(EvidenceDocument, "chunkIndex must not be negative")
	}
	return nil
}

func (c AlertCitation) validate() error {
	if strings.TrimSpace(c.AlertID) == "" {
		return shapeErr(EvidenceAlert, "alertId is required")
	}
	return nil
}

func (c KPICitation) validate() error {
	if strings.TrimSpace(c.MetricName) == "" {
		return shapeErr(EvidenceKPI, "metricName is required")
	}
	if c.Value == nil {
		return shapeErr(EvidenceKPI, "value is required")
	}
	return nil
}

func (c SignalCitation) validate() error {
	if strings.TrimSpace(c.SignalID) == "" {
		return shapeErr(EvidenceSignal, "signalId is required")
	}
	return nil
}

func (c NewsCitation) validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return shapeErr(EvidenceNews, "url must be absolute")
	}
	return nil
}

func shapeErr(t EvidenceType, msg string) *Error {
	return Errorf(KindInvalidCitationShape, "%s citation: %s", t, msg)
}

// DecodeCitation decodes raw strictly into the variant for t. Fields that
// belong to another variant are rejected rather than ignored.
func DecodeCitation(t EvidenceType, raw json.RawMessage) (Citation, error) {
	var c Citation
	switch t {
	case EvidenceDocument:
		var v DocumentCitation
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, shapeErr(t, err.Error())
		}
		c = v
	case EvidenceAlert:
		var v AlertCitation
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, shapeErr(t, err.Error())
		}
		c = v
	case EvidenceKPI:
		var v KPICitation
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, shapeErr(t, err.Error())
		}
		c = v
	case EvidenceSignal:
		var v SignalCitation
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, shapeErr(t, err.Error())
		}
		c = v
	case EvidenceNews:
		var v NewsCitation
		if err := strictUnmarshal(raw, &v); err != nil {
			return nil, shapeErr(t, err.Error())
		}
		c = v
	default:
		return nil, Errorf(KindInvalidCitationShape, "unknown evidence type %q", t)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func strictUnmarshal(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("citation is empty")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// Evidence is immutable once stored.
type Evidence struct {
	ID          string
	FlagID      string
	Type        EvidenceType
	Citation    Citation
	Description string
	Confidence  *float64
	CollectedAt time.Time
}

// NewEvidence checks that the citation variant matches the declared type.
func NewEvidence(id, flagID string, t EvidenceType, c Citation, description string, confidence *float64, at time.Time) (*Evidence, error) {
	if c == nil {
		return nil, Errorf(KindInvalidCitationShape, "citation is required")
	}
	if c.EvidenceType() != t {
		return nil, Errorf(KindInvalidCitationShape, "%s citation supplied for %s evidence", c.EvidenceType(), t)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if err := ValidateConfidence(confidence); err != nil {
		return nil, err
	}
	return &Evidence{
		ID:          id,
		FlagID:      flagID,
		Type:        t,
		Citation:    c,
		Description: description,
		Confidence:  confidence,
		CollectedAt: at,
	}, nil
}

type evidenceJSON struct {
	ID          string          `json:"id"`
	FlagID      string          `json:"flag_id"`
	Type        EvidenceType    `json:"evidence_type"`
	Citation    json.RawMessage `json:"citation"`
	Description string          `json:"description,omitempty"`
	Confidence  *float64        `json:"confidence,omitempty"`
	CollectedAt time.Time       `json:"collected_at"`
}

func (e Evidence) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Citation)
	if err != nil {
		return nil, err
	}
	return json.Marshal(evidenceJSON{
		ID:          e.ID,
		FlagID:      e.FlagID,
		Type:        e.Type,
		Citation:    raw,
		Description: e.Description,
		Confidence:  e.Confidence,
		CollectedAt: e.CollectedAt,
	})
}

func (e *Evidence) UnmarshalJSON(data []byte) error {
	var j evidenceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	c, err := DecodeCitation(j.Type, j.Citation)
	if err != nil {
		return err
	}
	*e = Evidence{
		ID:          j.ID,
		FlagID:      j.FlagID,
		Type:        j.Type,
		Citation:    c,
		Description: j.Description,
		Confidence:  j.Confidence,
		CollectedAt: j.CollectedAt,
	}
	return nil
}

// GroupEvidence buckets items by type for presentation, keeping insertion
// order inside each bucket.
func GroupEvidence(items []Evidence) map[EvidenceType][]Evidence {
	out := make(map[EvidenceType][]Evidence)
	for _, e := range items {
		out[e.Type] = append(out[e.Type], e)
	}
	return out
}
