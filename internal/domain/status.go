package domain

import "strings"

// transitions is the complete workflow. Anything not listed, including a move
// to the same status, is rejected.
var transitions = map[Status][]Status{
	StatusOpen:          {StatusReviewing, StatusMitigating, StatusFalsePositive},
	StatusReviewing:     {StatusOpen, StatusMitigating, StatusFalsePositive},
	StatusMitigating:    {StatusReviewing, StatusResolved, StatusFalsePositive},
	StatusResolved:      {StatusOpen},
	StatusFalsePositive: {StatusOpen},
}

// AllowedTransitions returns the statuses reachable from from, in table order.
func AllowedTransitions(from Status) []Status {
	return append([]Status(nil), transitions[from]...)
}

// ValidateTransition decides whether from -> to is admissible. It performs no
// writes; callers must check it against the status read under their write lock.
func ValidateTransition(from, to Status, reason string) error {
	allowed := false
	for _, s := range transitions[from] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return Errorf(KindInvalidTransition, "cannot move a flag from %s to %s", from, to)
	}
	if to == StatusFalsePositive && strings.TrimSpace(reason) == "" {
		return Errorf(KindReasonRequired, "reason required to mark as false positive")
	}
	return nil
}
