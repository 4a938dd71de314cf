package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/arbor-coach/arbor/pkg/models"
)

// FakeProvider is a deterministic in-process provider for tests and local
// development. Responses are scripted per call index; unscripted calls get
// a canned reply that echoes the user message.
type FakeProvider struct {
	mu    sync.Mutex
	calls int
	last  *Invocation

	// ReplyFunc scripts Generate output. The call index starts at 1 and
	// counts Generate and GenerateStructured calls together.
	ReplyFunc func(call int, user string) (string, error)
	// StructuredFunc scripts GenerateStructured output.
	StructuredFunc func(call int, schema json.RawMessage) (json.RawMessage, error)
	// Delay simulates provider latency before each response and respects
	// context cancellation, so deadline paths are testable.
	Delay time.Duration
}

// Invocation captures the arguments of one fake call, for assertions on
// prompt plumbing. Schema is set only for GenerateStructured.
type Invocation struct {
	System   string
	History  []models.ChatMessage
	User     string
	Sampling models.SamplingParams
	Schema   json.RawMessage
}

// NewFakeProvider returns an unscripted fake.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{}
}

// Calls reports how many generations have been requested so far.
func (p *FakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// LastInvocation returns the arguments of the most recent call, or nil.
func (p *FakeProvider) LastInvocation() *Invocation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Generate implements Provider.
func (p *FakeProvider) Generate(ctx context.Context, system string, history []models.ChatMessage, user string, sampling models.SamplingParams) (*Result, error) {
	call, reply, _, delay := p.next(&Invocation{System: system, History: history, User: user, Sampling: sampling})
	if err := sleepCtx(ctx, delay); err != nil {
		return nil, err
	}
	text := fmt.Sprintf("fake reply %d: %s", call, user)
	if reply != nil {
		var err error
		text, err = reply(call, user)
		if err != nil {
			return nil, err
		}
	}
	return &Result{
		Text:         text,
		InputTokens:  len(user),
		OutputTokens: len(text),
		StopReason:   "end_turn",
	}, nil
}

// GenerateStructured implements Provider.
func (p *FakeProvider) GenerateStructured(ctx context.Context, schema json.RawMessage, system string, history []models.ChatMessage, user string, sampling models.SamplingParams) (json.RawMessage, error) {
	call, _, structured, delay := p.next(&Invocation{System: system, History: history, User: user, Sampling: sampling, Schema: schema})
	if err := sleepCtx(ctx, delay); err != nil {
		return nil, err
	}
	if structured != nil {
		return structured(call, schema)
	}
	return json.RawMessage(`{}`), nil
}

func (p *FakeProvider) next(inv *Invocation) (int, func(int, string) (string, error), func(int, json.RawMessage) (json.RawMessage, error), time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = inv
	return p.calls, p.ReplyFunc, p.StructuredFunc, p.Delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
