package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"newsintel/internal/config"
)

// CommandProvider runs a local LLM command-line tool. The prompt is written to
// stdin; stdout is either plain text or a JSON envelope
// {"result": ..., "usage": {"input_tokens": n, "output_tokens": n}}.
type CommandProvider struct {
	path     string
	args     []string
	model    string
	maxTurns int
}

// NewCommandProvider creates a command provider from configuration.
func NewCommandProvider(cfg config.CommandConfig) (*CommandProvider, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("command provider requires ai.command.path")
	}
	path, err := exec.LookPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("command %q not found: %w", cfg.Path, err)
	}
	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	model := cfg.Model
	if model == "" {
		model = cfg.Path
	}
	return &CommandProvider{path: path, args: cfg.Args, model: model, maxTurns: maxTurns}, nil
}

func (c *CommandProvider) Name() string  { return "command" }
func (c *CommandProvider) Model() string { return c.model }

// Complete runs the command once. The context bounds its runtime.
func (c *CommandProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = c.maxTurns
	}
	args := append(append([]string(nil), c.args...), "--max-turns", strconv.Itoa(maxTurns))

	cmd := exec.CommandContext(ctx, c.path, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("command cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("command failed: %w: %s", err, truncate(strings.TrimSpace(stderr.String()), 500))
	}

	resp, err := ParseEnvelope(stdout.Bytes())
	if err != nil {
		return nil, err
	}
	resp.Model = c.model
	return resp, nil
}

// ParseEnvelope decodes command output. Output that is not a JSON object, or
// a JSON object without a result field, is returned as plain text.
func ParseEnvelope(out []byte) (*Response, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, ErrEmptyResponse
	}
	if trimmed[0] != '{' {
		return &Response{Text: StripFences(string(trimmed))}, nil
	}

	var env struct {
		Result *string `json:"result"`
		Usage  Usage   `json:"usage"`
		// Some tools report failures inside the envelope.
		IsError bool `json:"is_error"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if env.IsError {
		return nil, fmt.Errorf("command reported an error: %s", truncate(string(trimmed), 200))
	}
	if env.Result == nil {
		return &Response{Text: string(trimmed)}, nil
	}
	text := StripFences(*env.Result)
	if text == "" {
		return nil, ErrEmptyResponse
	}
	return &Response{Text: text, Usage: env.Usage}, nil
}

// truncate cuts s to n runes, dropping bytes that are not valid UTF-8.
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
