package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dexterai/traingen/internal/retry"
)

const (
	defaultBaseURL = "https://openrouter.ai/api/v1"
	defaultTimeout = 120 * time.Second

	// defaultRetryAfter caps the wait for a 429 that carries no usable
	// Retry-After header.
	defaultRetryAfter = 5 * time.Second

	// minDispatchWait keeps the pre-dispatch wait loop from spinning when
	// the tracker reports exhausted quota without a deadline.
	minDispatchWait = 250 * time.Millisecond

	// maxRateLimitReplays bounds how many consecutive 429s a single attempt
	// absorbs before the call fails with a rate-limit failure. Replays below
	// the cap do not consume the retry budget.
	maxRateLimitReplays = 5
)

// GenerateOptions tune a single completion request.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// Client calls the OpenRouter chat completions API with per-model rate-limit
// tracking and retries. All rate-limit state lives on the client's Tracker;
// there are no package-level registries.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	tracker    *Tracker
	policy     retry.Policy
	referer    string
	title      string
	logger     *slog.Logger
}

// NewClient creates a Client with the given API key and the default retry
// policy (3 attempts, 1s base delay, transient-only).
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		tracker: NewTracker(),
		policy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			IsRetryable: isTransient,
		},
		referer: "https://github.com/dexterai/traingen",
		title:   "traingen",
		logger:  slog.Default(),
	}
}

// NewClientWithBaseURL creates a client pointing at a custom base URL
// (for testing).
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	c := NewClient(apiKey)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

// Tracker returns the client's rate-limit tracker.
func (c *Client) Tracker() *Tracker { return c.tracker }

// transientError marks a failure as worth retrying with backoff.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Generate sends a chat completion request for model and returns the
// assistant's text. Rate limiting is handled internally: the call waits out
// tracker deadlines before dispatch, and a 429 response replays the same
// attempt after the server-provided wait (capped at 5s when absent) without
// consuming the retry budget. Terminal errors are always a *Failure.
func (c *Client) Generate(ctx context.Context, model string, messages []Message, opts GenerateOptions) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", &Failure{Kind: FailureProtocol, Err: fmt.Errorf("marshaling request: %w", err)}
	}

	var text string
	err = c.policy.Do(ctx, func() error {
		var attemptErr error
		text, attemptErr = c.attempt(ctx, model, body)
		return attemptErr
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		var f *Failure
		if errors.As(err, &f) {
			return "", f
		}
		if isTransient(err) {
			return "", &Failure{Kind: FailureTransient, Err: err}
		}
		return "", &Failure{Kind: FailureProtocol, Err: err}
	}
	return text, nil
}

// attempt performs one logical attempt: wait for quota, dispatch, and replay
// in place on 429. Replays do not consume the retry budget; only a sustained
// run of 429s past the replay cap surfaces as a rate-limit failure.
func (c *Client) attempt(ctx context.Context, model string, body []byte) (string, error) {
	for replays := 0; ; replays++ {
		if err := c.waitForQuota(ctx, model); err != nil {
			return "", err
		}

		text, limited, retryIn, err := c.dispatch(ctx, model, body)
		if err != nil {
			return "", err
		}
		if limited {
			c.tracker.RecordRetryAfter(model, retryIn)
			if replays >= maxRateLimitReplays {
				return "", &Failure{Kind: FailureRateLimit, Err: fmt.Errorf("still rate limited after %d replays", replays)}
			}
			c.logger.Warn("rate limited, replaying request",
				"model", model, "wait", retryIn)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryIn):
			}
			continue
		}
		return text, nil
	}
}

// waitForQuota blocks until the tracker allows a dispatch for model.
func (c *Client) waitForQuota(ctx context.Context, model string) error {
	for !c.tracker.CanDispatch(model) {
		wait := c.tracker.WaitTime(model)
		if wait < minDispatchWait {
			wait = minDispatchWait
		}
		c.logger.Debug("holding dispatch for rate limit", "model", model, "wait", wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// dispatch performs a single HTTP round trip. A 429 is reported through the
// limited flag instead of an error so the caller can replay without touching
// the retry budget.
func (c *Client) dispatch(ctx context.Context, model string, body []byte) (text string, limited bool, retryIn time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("HTTP-Referer", c.referer)
	req.Header.Set("X-Title", c.title)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, 0, &transientError{err: fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	c.tracker.Record(model, resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return "", true, retryAfterWait(resp.Header), nil
	}

	if resp.StatusCode >= 500 {
		respBody, _ := io.ReadAll(resp.Body)
		return "", false, 0, &transientError{err: fmt.Errorf("server error %d: %s", resp.StatusCode, string(respBody))}
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", false, 0, &Failure{Kind: FailureProtocol, Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))}
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", false, 0, &Failure{Kind: FailureProtocol, Err: fmt.Errorf("decoding response: %w", err)}
	}

	if len(result.Choices) == 0 {
		return "", false, 0, &Failure{Kind: FailureProtocol, Err: fmt.Errorf("response has no choices")}
	}
	content := result.Choices[0].Message.Content
	if content == "" {
		return "", false, 0, &Failure{Kind: FailureProtocol, Err: fmt.Errorf("response message has no content")}
	}

	return strings.TrimSpace(content), false, 0, nil
}

// retryAfterWait parses the Retry-After header of a 429, capped by the
// default when absent or malformed.
func retryAfterWait(headers http.Header) time.Duration {
	if v := headers.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultRetryAfter
}
