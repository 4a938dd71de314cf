package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arbor-coach/arbor/pkg/models"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorCode
	}{
		{"sentinel", ErrJobNotFound, models.ErrCodeJobNotFound},
		{"wrapped sentinel", fmt.Errorf("submit: %w", ErrSessionBusy), models.ErrCodeSessionBusy},
		{"deeply wrapped", fmt.Errorf("outer: %w", fmt.Errorf("inner: %w", ErrSessionIdle)), models.ErrCodeSessionIdleTimeout},
		{"validation error", NewFieldError("message", "required"), models.ErrCodeJobValidation},
		{"uncoded error", errors.New("connection reset"), models.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := fmt.Errorf("begin turn: %w", ErrSessionNotActive)
	assert.ErrorIs(t, err, ErrSessionNotActive)
	assert.NotErrorIs(t, err, ErrSessionBusy)
}

func TestFieldErrorMessage(t *testing.T) {
	err := NewFieldError("topic_id", "unknown topic")
	assert.True(t, IsFieldError(err))
	assert.Equal(t, "invalid topic_id: unknown topic", err.Error())
	assert.False(t, IsFieldError(errors.New("other")))
}
