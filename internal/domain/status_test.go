package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransitionTable(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusOpen, StatusReviewing}:           true,
		{StatusOpen, StatusMitigating}:          true,
		{StatusOpen, StatusFalsePositive}:       true,
		{StatusReviewing, StatusOpen}:           true,
		{StatusReviewing, StatusMitigating}:     true,
		{StatusReviewing, StatusFalsePositive}:  true,
		{StatusMitigating, StatusReviewing}:     true,
		{StatusMitigating, StatusResolved}:      true,
		{StatusMitigating, StatusFalsePositive}: true,
		{StatusResolved, StatusOpen}:            true,
		{StatusFalsePositive, StatusOpen}:       true,
	}
	for _, from := range Statuses {
		for _, to := range Statuses {
			err := ValidateTransition(from, to, "because")
			if allowed[[2]Status{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", from, to)
			}
		}
	}
}

func TestFalsePositiveNeedsReason(t *testing.T) {
	err := ValidateTransition(StatusOpen, StatusFalsePositive, "   ")
	require.ErrorIs(t, err, ErrReasonRequired)
	assert.Equal(t, "reason required to mark as false positive", MessageOf(err))

	// an illegal move reports the transition, not the missing reason
	err = ValidateTransition(StatusResolved, StatusFalsePositive, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestAllowedTransitionsReturnsCopy(t *testing.T) {
	got := AllowedTransitions(StatusOpen)
	got[0] = StatusResolved
	assert.Equal(t, StatusReviewing, AllowedTransitions(StatusOpen)[0])
	assert.Empty(t, AllowedTransitions("closed"))
}
