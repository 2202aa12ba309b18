package billing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/invoicing-engine/billing"
)

// =============================================================================
// TRANSITION TABLE TESTS
// =============================================================================

func TestValidateTransition_FullMatrix(t *testing.T) {
	// Every (last, next) pair, including the empty-history case. The table
	// mirrors the lifecycle: start opens, suspend pauses, resume reopens,
	// end closes and allows a fresh start.

	start := billing.OpStart
	suspend := billing.OpSuspend
	resume := billing.OpResume
	end := billing.OpEnd

	tests := []struct {
		name string
		last *billing.OperationType
		next billing.OperationType
		ok   bool
	}{
		{"start on empty history", nil, start, true},
		{"suspend on empty history", nil, suspend, false},
		{"resume on empty history", nil, resume, false},
		{"end on empty history", nil, end, false},

		{"start after start", &start, start, false},
		{"suspend after start", &start, suspend, true},
		{"resume after start", &start, resume, false},
		{"end after start", &start, end, true},

		{"start after suspend", &suspend, start, false},
		{"suspend after suspend", &suspend, suspend, false},
		{"resume after suspend", &suspend, resume, true},
		{"end after suspend", &suspend, end, false},

		{"start after resume", &resume, start, false},
		{"suspend after resume", &resume, suspend, true},
		{"resume after resume", &resume, resume, false},
		{"end after resume", &resume, end, true},

		{"start after end", &end, start, true},
		{"suspend after end", &end, suspend, false},
		{"resume after end", &end, resume, false},
		{"end after end", &end, end, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := billing.ValidateTransition(tt.last, tt.next)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.ErrorIs(t, err, billing.ErrInvalidTransition)
			}
		})
	}
}

func TestValidateTransition_ErrorMessages(t *testing.T) {
	// Rejections name the rule that was broken, in operator-readable form.

	start := billing.OpStart
	suspend := billing.OpSuspend

	err := billing.ValidateTransition(&start, billing.OpStart)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot start service because the last operation is not an end service")

	err = billing.ValidateTransition(&suspend, billing.OpSuspend)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a start or resume service")

	err = billing.ValidateTransition(nil, billing.OpEnd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a start or resume service")
}

func TestValidateAppend_DateMustAdvance(t *testing.T) {
	// GIVEN: A start on March 10
	// WHEN: Appending a suspend on March 10 (same day) or March 9 (earlier)
	// THEN: Both are rejected before the transition table is consulted

	last := &billing.Operation{
		Type: billing.OpStart,
		Date: billing.NewDate(2025, time.March, 10),
	}

	err := billing.ValidateAppend(last, billing.OpSuspend, billing.NewDate(2025, time.March, 10))
	assert.ErrorIs(t, err, billing.ErrNonMonotonicDate)

	err = billing.ValidateAppend(last, billing.OpSuspend, billing.NewDate(2025, time.March, 9))
	assert.ErrorIs(t, err, billing.ErrNonMonotonicDate)

	err = billing.ValidateAppend(last, billing.OpSuspend, billing.NewDate(2025, time.March, 11))
	assert.NoError(t, err)
}

func TestValidateAppend_DateCheckedBeforeTransition(t *testing.T) {
	// A same-day append that is ALSO an illegal transition reports the date
	// problem, not the transition problem.

	last := &billing.Operation{
		Type: billing.OpStart,
		Date: billing.NewDate(2025, time.March, 10),
	}

	err := billing.ValidateAppend(last, billing.OpStart, billing.NewDate(2025, time.March, 10))
	assert.ErrorIs(t, err, billing.ErrNonMonotonicDate)
}

func TestValidateAppend_EmptyHistory(t *testing.T) {
	err := billing.ValidateAppend(nil, billing.OpStart, billing.NewDate(2025, time.March, 10))
	assert.NoError(t, err)

	err = billing.ValidateAppend(nil, billing.OpResume, billing.NewDate(2025, time.March, 10))
	assert.ErrorIs(t, err, billing.ErrInvalidTransition)
}
