package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// MockProvider is a scriptable provider for tests and dry runs. Responses are
// chosen by Respond when set, otherwise Text is returned. The first FailFirst
// calls fail with Err.
type MockProvider struct {
	Text      string
	Respond   func(req Request) (string, error)
	FailFirst int
	Err       error
	Latency   time.Duration
	ModelName string

	calls    atomic.Int64
	mu       sync.Mutex
	requests []Request
}

// NewMockProvider returns a mock that always answers text.
func NewMockProvider(text string) *MockProvider {
	return &MockProvider{Text: text}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

// Complete records the request and returns the scripted answer.
func (m *MockProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	n := m.calls.Add(1)
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if int(n) <= m.FailFirst {
		err := m.Err
		if err == nil {
			err = errors.New("mock failure")
		}
		return nil, err
	}

	text := m.Text
	if m.Respond != nil {
		var err error
		if text, err = m.Respond(req); err != nil {
			return nil, err
		}
	}
	if text == "" {
		return nil, ErrEmptyResponse
	}
	return &Response{
		Text:  StripFences(text),
		Model: m.Model(),
		Usage: Usage{InputTokens: len(req.Prompt) / 4, OutputTokens: len(text) / 4},
	}, nil
}

// Calls returns how many times Complete ran.
func (m *MockProvider) Calls() int {
	return int(m.calls.Load())
}

// Requests returns a copy of every request received.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}
