package apperrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorError(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		expected string
	}{
		{
			name: "With Code",
			appError: &AppError{
				Code:    "TEST_CODE",
				Message: "This is a test error",
			},
			expected: "[TEST_CODE] This is a test error",
		},
		{
			name: "Without Code",
			appError: &AppError{
				Message: "This is a test error without code",
			},
			expected: "This is a test error without code",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.appError.Error()
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestNotFoundHierarchy(t *testing.T) {
	err := fmt.Errorf("%w: id 7", ErrAccountNotFound)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrCustomerNotFound)
}

func TestValidationErrorMatchesKind(t *testing.T) {
	err := NewValidationError(ErrInvalidAmount, "amount", "must be positive")

	assert.ErrorIs(t, err, ErrInvalidAmount)
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.Equal(t, "amount", ve.Field)
	assert.Equal(t, "validation failed for field 'amount': must be positive", err.Error())
}

func TestCheckFailedError(t *testing.T) {
	cause := errors.New("provider unavailable")
	err := fmt.Errorf("open account: %w", NewCheckFailed("risk_rating", "", cause))

	assert.ErrorIs(t, err, ErrCheckFailed)
	assert.ErrorIs(t, err, cause)
	var cf *CheckFailedError
	assert.True(t, errors.As(err, &cf))
	assert.Equal(t, "risk_rating", cf.Source)
	assert.Contains(t, err.Error(), `check "risk_rating" failed: provider unavailable`)
}

func TestTimeoutError(t *testing.T) {
	err := &TimeoutError{
		Deadline:  500 * time.Millisecond,
		Completed: map[string]any{"profile": 1, "customer": 2},
		Pending:   []string{"risk_rating"},
	}

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "deadline of 500ms exceeded: completed=[customer,profile] pending=[risk_rating]", err.Error())
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("save: %w", ErrConcurrentModification)))
	assert.False(t, IsRetryable(ErrInsufficientFunds))
	assert.False(t, IsRetryable(WrapDatabaseError(errors.New("boom"), "failed")))
}
