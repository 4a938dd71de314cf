// Package notify posts operator notifications to Slack when jobs die for
// reasons a client cannot fix.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// postTimeout caps a single chat.postMessage round trip.
const postTimeout = 10 * time.Second

// Options configures the notifier. Token and Channel are required; an
// empty DashboardURL drops the deep links from the message.
type Options struct {
	Token        string
	Channel      string
	DashboardURL string
}

// JobFailedInput carries what a failure notice renders.
type JobFailedInput struct {
	JobID     string
	SessionID string
	TopicID   string
	ErrorCode string
	Error     string
}

// notifiableCodes is the operator-actionable subset of the error taxonomy.
// Client mistakes (validation, ownership, turn limits) stay out of the ops
// channel.
var notifiableCodes = map[string]bool{
	"LLM_TIMEOUT":             true,
	"LLM_ERROR":               true,
	"CONFIGURATION_NOT_FOUND": true,
	"INTERNAL_ERROR":          true,
}

// Service delivers failure notices to the ops channel. A nil *Service is
// a valid no-op notifier, so call sites never branch on whether Slack is
// configured.
type Service struct {
	client *Client
	dash   string
	log    *slog.Logger
}

// NewService builds the notifier, or nil when Token or Channel is unset.
func NewService(opts Options) *Service {
	if opts.Token == "" || opts.Channel == "" {
		return nil
	}
	return NewWithClient(NewClient(opts.Token, opts.Channel), opts.DashboardURL)
}

// NewWithClient wires a pre-built client, which tests use to point the
// notifier at a stub API server.
func NewWithClient(client *Client, dashboardURL string) *Service {
	return &Service{
		client: client,
		dash:   dashboardURL,
		log:    slog.Default().With("component", "notify"),
	}
}

// JobFailed fires a notice for operator-actionable failures and drops the
// rest. Delivery runs on its own goroutine: a slow Slack API must not
// stall the worker's terminal path.
func (s *Service) JobFailed(input JobFailedInput) {
	if s == nil || !notifiableCodes[input.ErrorCode] {
		return
	}
	go s.NotifyJobFailed(context.Background(), input)
}

// NotifyJobFailed posts the notice synchronously. Repeat failures for the
// same session thread under the first one. Errors are logged and
// swallowed; notification delivery never fails a job.
func (s *Service) NotifyJobFailed(ctx context.Context, input JobFailedInput) {
	if s == nil {
		return
	}

	var threadTS string
	if input.SessionID != "" {
		ts, err := s.client.FindSessionThread(ctx, input.SessionID)
		if err != nil {
			s.log.Warn("Failed to find ops thread for session",
				"session_id", input.SessionID,
				"error", err)
		}
		threadTS = ts
	}

	blocks := BuildJobFailedMessage(input, s.dash)
	if err := s.client.PostMessage(ctx, failureFallback(input), blocks, threadTS, postTimeout); err != nil {
		s.log.Error("Failed to send ops failure notification",
			"job_id", input.JobID,
			"error_code", input.ErrorCode,
			"error", err)
	}
}
