package openrouter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testMessages() []Message {
	return []Message{
		{Role: "system", Content: "You are a test."},
		{Role: "user", Content: "hi"},
	}
}

func completionJSON(content string) string {
	return fmt.Sprintf(`{"choices":[{"message":{"role":"assistant","content":"%s"}}]}`, content)
}

func TestGenerate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionJSON("hello"))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	text, err := c.Generate(context.Background(), "test/model", testMessages(), GenerateOptions{Temperature: 0.7})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "hello" {
		t.Errorf("text = %q, want %q", text, "hello")
	}
}

func TestGenerate_EmptyChoicesIsProtocolFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	_, err := c.Generate(context.Background(), "test/model", testMessages(), GenerateOptions{})

	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want *Failure", err)
	}
	if f.Kind != FailureProtocol {
		t.Errorf("Kind = %v, want %v", f.Kind, FailureProtocol)
	}
}

func TestGenerate_MissingContentIsProtocolFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant"}}]}`)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	_, err := c.Generate(context.Background(), "test/model", testMessages(), GenerateOptions{})

	var f *Failure
	if !errors.As(err, &f) || f.Kind != FailureProtocol {
		t.Fatalf("err = %v, want protocol *Failure", err)
	}
}

func TestGenerate_RateLimitWaitsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	var firstCall, secondCall time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			firstCall = time.Now()
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			secondCall = time.Now()
			fmt.Fprint(w, completionJSON("after limit"))
		}
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	text, err := c.Generate(context.Background(), "test/model", testMessages(), GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "after limit" {
		t.Errorf("text = %q", text)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
	if waited := secondCall.Sub(firstCall); waited < 2*time.Second {
		t.Errorf("waited %v before redispatch, want >= 2s", waited)
	}
}

func TestGenerate_SustainedRateLimitFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "0")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	_, err := c.Generate(context.Background(), "test/model", testMessages(), GenerateOptions{})

	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want *Failure", err)
	}
	if f.Kind != FailureRateLimit {
		t.Errorf("Kind = %v, want %v", f.Kind, FailureRateLimit)
	}
	if !IsRateLimit(err) {
		t.Error("IsRateLimit = false, want true")
	}
}

func TestGenerate_TransientRetriedThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, completionJSON("recovered"))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	c.policy.BaseDelay = 10 * time.Millisecond

	text, err := c.Generate(context.Background(), "test/model", testMessages(), GenerateOptions{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "recovered" {
		t.Errorf("text = %q", text)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestGenerate_TransientBudgetExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	c.policy.BaseDelay = 5 * time.Millisecond

	_, err := c.Generate(context.Background(), "test/model", testMessages(), GenerateOptions{})

	var f *Failure
	if !errors.As(err, &f) {
		t.Fatalf("err = %v, want *Failure", err)
	}
	if f.Kind != FailureTransient {
		t.Errorf("Kind = %v, want %v", f.Kind, FailureTransient)
	}
}

func TestGenerate_TrackerStateSharedAcrossCalls(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("X-Ratelimit-Remaining", "42")
		fmt.Fprint(w, completionJSON("ok"))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("test-key", srv.URL)
	if _, err := c.Generate(context.Background(), "test/model", testMessages(), GenerateOptions{}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !c.Tracker().CanDispatch("test/model") {
		t.Error("CanDispatch = false with remaining quota, want true")
	}
}
