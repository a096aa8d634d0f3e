package openrouter

import (
	"errors"
	"fmt"
)

// Message is a chat message in the OpenRouter API format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the JSON body for POST /chat/completions.
type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// chatResponse is the JSON returned by POST /chat/completions.
type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// FailureKind classifies a terminal API failure.
type FailureKind string

const (
	// FailureRateLimit means the provider refused the call for quota reasons
	// and the retry budget inside the client could not outlast it.
	FailureRateLimit FailureKind = "rate_limit"
	// FailureTransient means a network or server hiccup survived all retries.
	FailureTransient FailureKind = "transient"
	// FailureProtocol means the provider answered but the response did not
	// carry the expected completion content.
	FailureProtocol FailureKind = "protocol"
)

// Failure is the terminal error returned by Client.Generate. It is the only
// error type that crosses from the API layer into the worker pool, where the
// kind drives scaling and metrics.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("openrouter %s failure: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsRateLimit reports whether err is, or wraps, a rate-limit failure.
func IsRateLimit(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == FailureRateLimit
}
