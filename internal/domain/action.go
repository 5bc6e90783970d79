package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type ActionType string

const (
	ActionAssign       ActionType = "assign"
	ActionNote         ActionType = "note"
	ActionStatusChange ActionType = "status_change"
	ActionSnooze       ActionType = "snooze"
	ActionRemediation  ActionType = "remediation"
	ActionOverride     ActionType = "override"
)

// ActionData is the payload of one audit entry; one variant per ActionType.
type ActionData interface {
	ActionType() ActionType
}

type AssignData struct {
	AssigneeID      string  `json:"assignee_id"`
	PreviousOwnerID *string `json:"previous_owner_id,omitempty"`
}

type NoteData struct {
	Text       string `json:"text"`
	IsInternal bool   `json:"is_internal"`
}

type StatusChangeData struct {
	From   Status `json:"from"`
	To     Status `json:"to"`
	Reason string `json:"reason,omitempty"`
}

type SnoozeData struct {
	DurationDays int       `json:"duration_days"`
	Until        time.Time `json:"until"`
	Reason       string    `json:"reason,omitempty"`
}

type RemediationData struct {
	Plan         string     `json:"plan"`
	ETA          *time.Time `json:"eta,omitempty"`
	Stakeholders []string   `json:"stakeholders"`
}

type OverrideData struct {
	Field  string `json:"field"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

func (AssignData) ActionType() ActionType       { return ActionAssign }
func (NoteData) ActionType() ActionType         { return ActionNote }
func (StatusChangeData) ActionType() ActionType { return ActionStatusChange }
func (SnoozeData) ActionType() ActionType       { return ActionSnooze }
func (RemediationData) ActionType() ActionType  { return ActionRemediation }
func (OverrideData) ActionType() ActionType     { return ActionOverride }

// Action is one append-only audit entry. Seq is assigned by the store and
// breaks ties between entries created in the same instant.
type Action struct {
	ID        string
	Seq       int64
	FlagID    string
	ActorID   string
	Type      ActionType
	Data      ActionData
	CreatedAt time.Time
}

func NewAction(flagID, actorID string, data ActionData, at time.Time) *Action {
	return &Action{
		FlagID:    flagID,
		ActorID:   actorID,
		Type:      data.ActionType(),
		Data:      data,
		CreatedAt: at,
	}
}

// DecodeActionData rebuilds the payload variant for t from stored JSON.
func DecodeActionData(t ActionType, raw json.RawMessage) (ActionData, error) {
	var (
		d   ActionData
		err error
	)
	switch t {
	case ActionAssign:
		var v AssignData
		err = json.Unmarshal(raw, &v)
		d = v
	case ActionNote:
		var v NoteData
		err = json.Unmarshal(raw, &v)
		d = v
	case ActionStatusChange:
		var v StatusChangeData
		err = json.Unmarshal(raw, &v)
		d = v
	case ActionSnooze:
		var v SnoozeData
		err = json.Unmarshal(raw, &v)
		d = v
	case ActionRemediation:
		var v RemediationData
		err = json.Unmarshal(raw, &v)
		d = v
	case ActionOverride:
		var v OverrideData
		err = json.Unmarshal(raw, &v)
		d = v
	default:
		return nil, fmt.Errorf("unknown action type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s action: %w", t, err)
	}
	return d, nil
}

type actionJSON struct {
	ID        string          `json:"id"`
	FlagID    string          `json:"flag_id"`
	ActorID   string          `json:"actor_id"`
	Type      ActionType      `json:"action_type"`
	Data      json.RawMessage `json:"action_data"`
	CreatedAt time.Time       `json:"created_at"`
}

func (a Action) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(a.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(actionJSON{
		ID:        a.ID,
		FlagID:    a.FlagID,
		ActorID:   a.ActorID,
		Type:      a.Type,
		Data:      raw,
		CreatedAt: a.CreatedAt,
	})
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var j actionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	d, err := DecodeActionData(j.Type, j.Data)
	if err != nil {
		return err
	}
	*a = Action{ID: j.ID, FlagID: j.FlagID, ActorID: j.ActorID, Type: j.Type, Data: d, CreatedAt: j.CreatedAt}
	return nil
}
