package ports

import "redflag/internal/domain"

type BulkOperation string

const (
	BulkAcknowledge     BulkOperation = "acknowledge"
	BulkStartMitigation BulkOperation = "start_mitigation"
	BulkResolve         BulkOperation = "resolve"
	BulkFalsePositive   BulkOperation = "false_positive"
	BulkReopen          BulkOperation = "reopen"
	BulkAddNote         BulkOperation = "add_note"
	BulkAssign          BulkOperation = "assign"
)

// BulkParams are applied uniformly to every item.
type BulkParams struct {
	Notes      string `json:"notes,omitempty"`
	Reason     string `json:"reason,omitempty"`
	AssigneeID string `json:"assignee_id,omitempty"`
	IsInternal bool   `json:"is_internal,omitempty"`
}

type BulkFailure struct {
	FlagID  string      `json:"flag_id"`
	Kind    domain.Kind `json:"error_kind"`
	Message string      `json:"message"`
}

// BulkResult accounts for every distinct input id exactly once:
// Total == Success + Failed.
type BulkResult struct {
	Total     int           `json:"total"`
	Success   int           `json:"success"`
	Failed    int           `json:"failed"`
	Succeeded []string      `json:"succeeded"`
	Failures  []BulkFailure `json:"failures"`
}
