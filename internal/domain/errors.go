package domain

import (
	"errors"
	"fmt"
)

// Kind classifies validation and lookup failures so callers can branch
// without matching on message text.
type Kind string

const (
	KindInvalidTransition    Kind = "invalid_transition"
	KindReasonRequired       Kind = "reason_required"
	KindInvalidCitationShape Kind = "invalid_citation_shape"
	KindInvalidDuration      Kind = "invalid_duration"
	KindEmptyPlan            Kind = "empty_plan"
	KindTooLarge             Kind = "too_large"
	KindNotFound             Kind = "not_found"
	KindInvalidOverride      Kind = "invalid_override"
	KindConflict             Kind = "conflict"
	KindInvalidInput         Kind = "invalid_input"
	KindEmptySelection       Kind = "empty_selection"
	KindUnknownOperation     Kind = "unknown_operation"

	// KindInternal is reported for anything that is not a *Error.
	KindInternal Kind = "internal"
)

type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

var (
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrReasonRequired       = &Error{Kind: KindReasonRequired}
	ErrInvalidCitationShape = &Error{Kind: KindInvalidCitationShape}
	ErrInvalidDuration      = &Error{Kind: KindInvalidDuration}
	ErrEmptyPlan            = &Error{Kind: KindEmptyPlan}
	ErrTooLarge             = &Error{Kind: KindTooLarge}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrInvalidOverride      = &Error{Kind: KindInvalidOverride}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrInvalidInput         = &Error{Kind: KindInvalidInput}
	ErrEmptySelection       = &Error{Kind: KindEmptySelection}
	ErrUnknownOperation     = &Error{Kind: KindUnknownOperation}
)

// KindOf returns the kind carried by err, or KindInternal.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// MessageOf returns the user-facing message for err.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return err.Error()
}
