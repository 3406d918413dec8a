// Package poemlet defines the poem configuration and the request/response types
// for poemlet IPC. Messages are JSON-encoded and sent over a Unix domain socket,
// one per line.
package poemlet

import "strings"

// Defaults applied when a request leaves a field unset.
const (
	DefaultForm         = "free"
	DefaultLines        = 4
	DefaultMaxNewTokens = 80

	// MaxLines and MaxNewTokensLimit bound a single request. Keep them in
	// sync with the validate tags on PoemConfig.
	MaxLines          = 64
	MaxNewTokensLimit = 4096
)

// PoemConfig describes a single poem to write. It is built once per request
// and not modified afterwards.
type PoemConfig struct {
	// Theme is the topic of the poem. It is passed through unvalidated.
	Theme string `json:"theme"`
	// Form is a free-form style hint such as "haiku" or "sonnet".
	Form string `json:"form"`
	// Lines is the exact number of lines the poem must have.
	Lines int `json:"lines" validate:"min=1,max=64"`
	// MaxNewTokens bounds the number of tokens the model may generate.
	MaxNewTokens int `json:"max_new_tokens" validate:"min=1,max=4096"`
}

// NewPoemConfig returns a PoemConfig for theme with default form, line count
// and token budget.
func NewPoemConfig(theme string) PoemConfig {
	return PoemConfig{
		Theme:        theme,
		Form:         DefaultForm,
		Lines:        DefaultLines,
		MaxNewTokens: DefaultMaxNewTokens,
	}
}

// NormalizeForm trims and lower-cases a form hint, mapping empty to "free".
func NormalizeForm(form string) string {
	form = strings.ToLower(strings.TrimSpace(form))
	if form == "" {
		return DefaultForm
	}
	return form
}

// Request is sent from a client to the daemon.
type Request struct {
	// RequestID is a per-session incrementing identifier assigned by the client.
	// The daemon echoes it back in the response for ordering.
	RequestID int `json:"request_id"`
	// SessionID identifies the client session. A newer request from the same
	// session cancels the one still in flight.
	SessionID string `json:"session_id,omitempty"`
	Theme     string `json:"theme"`
	Form      string `json:"form,omitempty"`
	// Lines and MaxNewTokens fall back to the defaults when zero.
	Lines        int `json:"lines,omitempty"`
	MaxNewTokens int `json:"max_new_tokens,omitempty"`
}

// PoemConfig converts the request into a PoemConfig, filling unset fields
// with defaults.
func (r *Request) PoemConfig() PoemConfig {
	pc := NewPoemConfig(r.Theme)
	if r.Form != "" {
		pc.Form = r.Form
	}
	if r.Lines != 0 {
		pc.Lines = r.Lines
	}
	if r.MaxNewTokens != 0 {
		pc.MaxNewTokens = r.MaxNewTokens
	}
	return pc
}

// Response is sent from the daemon back to the client.
type Response struct {
	// RequestID is echoed from the request for ordering on the client side.
	RequestID int `json:"request_id"`
	// Poem is the newline-joined poem text.
	Poem string `json:"poem"`
	// Lines holds the poem split into its lines.
	Lines []string `json:"lines"`
	// Source is "model" when the model output was accepted and "fallback"
	// when the deterministic generator replaced it.
	Source string `json:"source,omitempty"`
	// Cached is true when the poem was served from the daemon's cache.
	Cached bool `json:"cached,omitempty"`
	// Error is set when the daemon cannot fulfill the request.
	Error *Error `json:"error,omitempty"`
}

// Error describes a daemon-side error returned to the client.
type Error struct {
	// Code is a machine-readable error identifier (e.g. "model_unavailable", "rate_limited").
	Code string `json:"code" toml:"code"`
	// Message is a human-readable error description.
	Message string `json:"message" toml:"message"`
}

// ConfigRequest is sent from a client for configuration operations.
type ConfigRequest struct {
	// Action is the config operation: "get", "reload", "defaults", "default_prompt" or "validate".
	Action string `json:"action"`
}

// ConfigResponse is sent from the daemon in response to a ConfigRequest.
type ConfigResponse struct {
	// Config is the current configuration (for "get", "reload", and "defaults" actions).
	Config *Config `json:"config,omitempty"`
	// Prompt is the default prompt template (for "default_prompt" action).
	Prompt string `json:"prompt,omitempty"`
	// Warnings contains configuration warnings (for "validate" action).
	Warnings []string `json:"warnings,omitempty"`
	// Error is set when the operation fails.
	Error *Error `json:"error,omitempty"`
}
