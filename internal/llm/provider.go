// Package llm abstracts the language model used for deep extraction. A
// Provider takes one prompt and returns text plus token usage; callers own
// retries, caching and timeouts.
package llm

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"google.golang.org/genai"
)

const (
	// DefaultModel is the default Gemini model.
	DefaultModel = "gemini-flash-lite-latest"
	// DefaultMaxTurns limits command providers to a single exchange.
	DefaultMaxTurns = 1
)

var (
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("empty response from LLM")
	// ErrMalformedResponse is returned when the transport envelope could not be decoded.
	ErrMalformedResponse = errors.New("malformed LLM response")
)

// Request is one prompt.
type Request struct {
	Prompt      string
	MaxTurns    int           // Command providers only
	Schema      *genai.Schema // Optional: structured output
	MaxTokens   int32
	Temperature float32
	Operation   string // Analytics label, e.g. "extraction"
}

// Usage is the token accounting of one call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Response is the model's answer.
type Response struct {
	Text  string `json:"result"`
	Usage Usage  `json:"usage"`
	Model string `json:"model"`
}

// Provider is an LLM backend.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// Model names the model whose output Complete returns. It is part of
	// every prompt fingerprint.
	Model() string
	Name() string
}

var fence = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?```$")

// StripFences removes a markdown code fence wrapped around a JSON answer.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	if m := fence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}
