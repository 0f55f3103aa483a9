package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/hivemind/internal/config"
	"github.com/nextlevelbuilder/hivemind/internal/fault"
)

func testServices(baseURL string) config.ServicesConfig {
	return config.ServicesConfig{
		Default: "main",
		Endpoints: map[string]config.ServiceConfig{
			"main": {
				BaseURL:        baseURL,
				Model:          "test-model",
				ContextWindow:  8000,
				MaxAttempts:    3,
				AttemptTimeout: 5,
			},
		},
	}
}

func completionJSON(content string) string {
	resp := map[string]any{
		"choices": []any{map[string]any{
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	}
	raw, _ := json.Marshal(resp)
	return string(raw)
}

func TestChatSuccess(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(completionJSON("hello back")))
	}))
	defer srv.Close()

	c := NewClient(testServices(srv.URL), 2, nil, nil)
	resp, err := c.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
		Tools:    []ToolDefinition{{Name: "noop", Description: "d", Parameters: map[string]any{"type": "object"}}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "hello back" || resp.FinishReason != "stop" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if gotBody["tool_choice"] != "auto" {
		t.Errorf("tool_choice = %v", gotBody["tool_choice"])
	}
}

func TestChatParsesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{
			"choices": []any{map[string]any{
				"message": map[string]any{
					"role": "assistant",
					"tool_calls": []any{map[string]any{
						"id":   "call_1",
						"type": "function",
						"function": map[string]any{
							"name":      "send_message",
							"arguments": `{"to":"root","payload":{"text":"hi"}}`,
						},
					}},
				},
				"finish_reason": "tool_calls",
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	c := NewClient(testServices(srv.URL), 2, nil, nil)
	resp, err := c.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.Name != "send_message" || tc.ID != "call_1" {
		t.Errorf("tc = %+v", tc)
	}
	if tc.Arguments["to"] != "root" {
		t.Errorf("arguments = %v", tc.Arguments)
	}
}

func TestChatRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(completionJSON("ok")))
	}))
	defer srv.Close()

	cfg := testServices(srv.URL)
	c := NewClient(cfg, 2, nil, nil)
	resp, err := c.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "ok" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestRetryDoRetriesAttemptTimeout(t *testing.T) {
	var attempts atomic.Int32
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, AttemptTimeout: 20 * time.Millisecond}

	got, err := RetryDo(context.Background(), cfg, func(ctx context.Context) (string, error) {
		if attempts.Add(1) < 3 {
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "ok", nil
	}, nil)
	if err != nil {
		t.Fatalf("RetryDo: %v", err)
	}
	if got != "ok" || attempts.Load() != 3 {
		t.Errorf("got = %q after %d attempts, want ok after 3", got, attempts.Load())
	}
}

func TestRetryDoCallerDeadlineNotRetried(t *testing.T) {
	var attempts atomic.Int32
	cfg := RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, AttemptTimeout: time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := RetryDo(ctx, cfg, func(ctx context.Context) (string, error) {
		attempts.Add(1)
		<-ctx.Done()
		return "", ctx.Err()
	}, nil)
	if err != context.DeadlineExceeded {
		t.Errorf("err = %v, want caller deadline", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1 (caller deadline must not retry)", attempts.Load())
	}
}

func TestChatRetriesAttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			io.Copy(io.Discard, r.Body) // unread body blocks close-detection
			<-r.Context().Done()        // outlive the per-attempt timeout
			return
		}
		w.Write([]byte(completionJSON("ok")))
	}))
	defer srv.Close()

	cfg := testServices(srv.URL)
	svc := cfg.Endpoints["main"]
	svc.MaxAttempts = 2
	svc.AttemptTimeout = 1
	cfg.Endpoints["main"] = svc

	c := NewClient(cfg, 2, nil, nil)
	resp, err := c.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "ok" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (timed-out attempt retried)", calls.Load())
	}
}

func TestChatDoesNotRetry4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(testServices(srv.URL), 2, nil, nil)
	_, err := c.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	if !fault.Is(err, fault.APIError) {
		t.Errorf("err = %v, want api_error", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on 400)", calls.Load())
	}
}

func TestChatAbort(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body) // unread body blocks close-detection
		close(started)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(testServices(srv.URL), 2, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Chat(ctx, ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
		errCh <- err
	}()
	<-started
	cancel()

	select {
	case err := <-errCh:
		if !fault.Is(err, fault.LLMCallAborted) {
			t.Errorf("err = %v, want llm_call_aborted", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("abort did not surface promptly")
	}
}

func TestConcurrencyCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		w.Write([]byte(completionJSON("ok")))
	}))
	defer srv.Close()

	c := NewClient(testServices(srv.URL), 2, nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
		}()
	}
	wg.Wait()
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, cap is 2", peak.Load())
	}
}

func TestEstimateTokens(t *testing.T) {
	msgs := []Message{
		{Role: "user", Content: "aaaabbbb"},              // 2 tokens + overhead
		{Role: "assistant", Content: "cccc"},             // 1 token + overhead
	}
	got := EstimateTokens(msgs)
	if got != 2+4+1+4 {
		t.Errorf("EstimateTokens = %d", got)
	}
}
