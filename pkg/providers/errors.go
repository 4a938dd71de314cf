package providers

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/arbor-coach/arbor/pkg/models"
)

// Classify maps a provider failure to its wire error code: deadline and
// transport timeouts become LLM_TIMEOUT, everything else from the vendor
// becomes LLM_ERROR. The worker never retries either; the code carries the
// client-facing retry hint.
func Classify(err error) models.ErrorCode {
	if isTimeout(err) {
		return models.ErrCodeLLMTimeout
	}
	return models.ErrCodeLLMError
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// Vendor SDKs sometimes surface gateway timeouts as plain message text.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded")
}
