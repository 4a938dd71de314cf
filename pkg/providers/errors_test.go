package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arbor-coach/arbor/pkg/models"
)

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o operation failed" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorCode
	}{
		{"deadline exceeded", context.DeadlineExceeded, models.ErrCodeLLMTimeout},
		{"wrapped deadline", fmt.Errorf("anthropic messages.new: %w", context.DeadlineExceeded), models.ErrCodeLLMTimeout},
		{"net timeout", fmt.Errorf("openai chat completion: %w", timeoutNetError{}), models.ErrCodeLLMTimeout},
		{"gateway timeout text", errors.New("openai chat completion: 504 gateway timeout"), models.ErrCodeLLMTimeout},
		{"rate limit", errors.New("anthropic messages.new: 429 rate_limit_error"), models.ErrCodeLLMError},
		{"auth failure", errors.New("invalid x-api-key"), models.ErrCodeLLMError},
		{"connection refused", errors.New("dial tcp: connection refused"), models.ErrCodeLLMError},
		{"cancellation", context.Canceled, models.ErrCodeLLMError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
