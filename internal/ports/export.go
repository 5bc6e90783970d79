package ports

import "redflag/internal/domain"

type ExportRequest struct {
	Filter      domain.FlagFilter    `json:"filters"`
	Format      domain.ExportFormat  `json:"format"`
	Options     domain.ExportOptions `json:"options"`
	RequestedBy string               `json:"-"`
}

type ExportFile struct {
	Filename    string
	ContentType string
	Data        []byte
	Rows        int
}

// ExportResult holds exactly one of File (synchronous) or Job (deferred).
type ExportResult struct {
	File *ExportFile
	Job  *domain.ExportJob
}
