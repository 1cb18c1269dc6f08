package litellm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/MedOrch/internal/adapter/litellm"
	"github.com/Strob0t/MedOrch/internal/port/llm"
	"github.com/Strob0t/MedOrch/internal/resilience"
)

func newChatServer(t *testing.T, content string, check func(litellm.ChatCompletionRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req litellm.ChatCompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if check != nil {
			check(req)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": req.Model,
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 3},
		})
	}))
}

func TestChatCompletion(t *testing.T) {
	srv := newChatServer(t, "SELECTED_AGENT: General", func(req litellm.ChatCompletionRequest) {
		if req.Model != "router-model" {
			t.Errorf("model = %q", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
	})
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "test-key")
	resp, err := client.ChatCompletion(context.Background(), litellm.ChatCompletionRequest{
		Model:    "router-model",
		Messages: []litellm.ChatMessage{{Role: "user", Content: "route this"}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion failed: %v", err)
	}
	if resp.Content != "SELECTED_AGENT: General" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.CompletionTokens != 3 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestCompleteSendsSystemPrompt(t *testing.T) {
	srv := newChatServer(t, "ok", func(req litellm.ChatCompletionRequest) {
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Content != "question" {
			t.Errorf("unexpected messages %+v", req.Messages)
		}
		if req.MaxTokens != 256 {
			t.Errorf("max tokens = %d", req.MaxTokens)
		}
	})
	defer srv.Close()

	var completer llm.Completer = litellm.NewClient(srv.URL, "")
	out, err := completer.Complete(context.Background(), llm.Request{
		Model: "m", System: "you are a doctor", Prompt: "question", MaxTokens: 256,
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if out != "ok" {
		t.Errorf("out = %q", out)
	}
}

func TestChatCompletionNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := litellm.NewClient(srv.URL, "").ChatCompletion(context.Background(), litellm.ChatCompletionRequest{Model: "m"})
	if !errors.Is(err, litellm.ErrEmptyCompletion) {
		t.Fatalf("expected ErrEmptyCompletion, got %v", err)
	}
}

func TestChatCompletionAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream down`))
	}))
	defer srv.Close()

	_, err := litellm.NewClient(srv.URL, "").Complete(context.Background(), llm.Request{Model: "m", Prompt: "p"})
	if err == nil {
		t.Fatal("expected error for 502")
	}
}

func TestTimeoutIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "")
	client.SetTimeout(20 * time.Millisecond)
	if _, err := client.Complete(context.Background(), llm.Request{Model: "m", Prompt: "p"}); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestBreakerOpensOnRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "")
	client.SetBreaker(resilience.NewBreaker("litellm", 2, time.Minute))

	for range 3 {
		_, _ = client.Complete(context.Background(), llm.Request{Model: "m", Prompt: "p"})
	}
	_, err := client.Complete(context.Background(), llm.Request{Model: "m", Prompt: "p"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("backend called %d times, want 2", n)
	}
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("unexpected auth: %q", r.Header.Get("Authorization"))
		}
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	healthy, err := litellm.NewClient(srv.URL, "test-key").Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if !healthy {
		t.Fatal("expected healthy")
	}
}

func TestHealthUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	healthy, _ := litellm.NewClient(srv.URL, "").Health(context.Background())
	if healthy {
		t.Fatal("expected unhealthy")
	}
}

func TestHealthBypassesOpenBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	defer srv.Close()

	b := resilience.NewBreaker("litellm", 1, time.Hour)
	_ = b.Execute(func() error { return errors.New("earlier outage") })
	if b.State() != resilience.StateOpen {
		t.Fatalf("breaker state = %s, want open", b.State())
	}

	client := litellm.NewClient(srv.URL, "")
	client.SetBreaker(b)

	healthy, err := client.Health(context.Background())
	if err != nil || !healthy {
		t.Fatalf("Health = %v, %v; want healthy despite open breaker", healthy, err)
	}
}
