package domain

import "time"

type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

func (f ExportFormat) Valid() bool { return f == FormatCSV || f == FormatJSON }

func (f ExportFormat) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv"
}

type ExportOptions struct {
	IncludeExplainer  bool `json:"include_explainer,omitempty"`
	IncludeEvidence   bool `json:"include_evidence,omitempty"`
	IncludeErrorStack bool `json:"include_error_stack,omitempty"`
}

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// ExportJob tracks one deferred export from submission to completion.
type ExportJob struct {
	ID            string        `json:"id"`
	Status        JobStatus     `json:"status"`
	Format        ExportFormat  `json:"format"`
	Filter        FlagFilter    `json:"filter"`
	Options       ExportOptions `json:"options"`
	RequestedBy   string        `json:"requested_by,omitempty"`
	EstimatedRows int           `json:"estimated_rows"`
	Rows          int           `json:"rows"`
	BlobKey       string        `json:"-"`
	Filename      string        `json:"filename,omitempty"`
	Error         string        `json:"error,omitempty"`
	Attempts      int           `json:"attempts"`
	QueuedAt      time.Time     `json:"queued_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
}

// ExportArtifact describes generated output stored in the blob sink.
type ExportArtifact struct {
	BlobKey  string
	Filename string
	Rows     int
}
