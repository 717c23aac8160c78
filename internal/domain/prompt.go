package domain

import "net/http"

// PromptRequest is the body of an Ollama /api/generate call.
type PromptRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// GenerateResponse is a single-shot /api/generate reply. Only the fields the gateway reads are mapped.
type GenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// StreamFragment is one newline-delimited JSON object of an incremental /api/generate reply.
type StreamFragment struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// RelayEvent is the unit sent to the browser. Exactly one of the fields is set.
type RelayEvent struct {
	Response *string `json:"response,omitempty"`
	Error    *string `json:"error,omitempty"`
}

// ResponseEvent builds a text event. An empty chunk is still encoded as "response":"".
func ResponseEvent(text string) RelayEvent {
	return RelayEvent{Response: &text}
}

// ErrorEvent builds a terminal error event.
func ErrorEvent(msg string) RelayEvent {
	return RelayEvent{Error: &msg}
}

// IsError reports whether the event is terminal.
func (e RelayEvent) IsError() bool { return e.Error != nil }

// Text returns the response chunk, or "" for error events.
func (e RelayEvent) Text() string {
	if e.Response == nil {
		return ""
	}
	return *e.Response
}

// RawResponse is an uninterpreted upstream answer, used by the diagnostics route.
type RawResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
