package summarize

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// messagesRequest is the part of a Messages API request the tests inspect
type messagesRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func TestAnthropicBackendComplete(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "secret" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing auth headers: %v", r.Header)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-5-haiku-latest",` +
			`"content":[{"type":"text","text":"{\"summary\":\"from claude\"}"}],` +
			`"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()

	cfg := testAIConfig()
	cfg.Provider = "anthropic"
	cfg.APIKey = "secret"
	cfg.BaseURL = srv.URL
	b := NewAnthropicBackend(cfg)

	out, err := b.Complete(context.Background(), Prompt{System: "sys", User: "user", MaxTokens: 100})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"summary":"from claude"}` {
		t.Errorf("Complete = %q", out)
	}
	if len(got.System) != 1 || got.System[0].Text != "sys" || got.MaxTokens != 100 {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 1 || got.Messages[0].Role != "user" ||
		len(got.Messages[0].Content) != 1 || got.Messages[0].Content[0].Text != "user" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if strings.HasPrefix(b.Model(), "gpt-") || got.Model != b.Model() {
		t.Errorf("Model = %q, request model %q", b.Model(), got.Model)
	}
}

func TestAnthropicBackendHTTPError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`))
	}))
	defer srv.Close()

	cfg := testAIConfig()
	cfg.BaseURL = srv.URL
	_, err := NewAnthropicBackend(cfg).Complete(context.Background(), Prompt{User: "x"})
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("err = %v, want status 503", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d requests, want 1 (retries belong to the summarizer)", n)
	}
}

func TestOpenAIBackendComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "gpt-4o-mini" {
			t.Errorf("model = %v", req["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"{\"summary\":\"from gpt\"}"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	cfg := testAIConfig()
	cfg.BaseURL = srv.URL + "/v1"
	b := NewOpenAIBackend(cfg)

	out, err := b.Complete(context.Background(), Prompt{System: "sys", User: "user"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"summary":"from gpt"}` {
		t.Errorf("Complete = %q", out)
	}
}

func TestSummarizerAgainstUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := testAIConfig()
	cfg.Provider = "anthropic"
	cfg.BaseURL = url
	backend, err := NewBackend(cfg)
	if err != nil {
		t.Fatal(err)
	}
	s := New(cfg, backend)
	s.retryDelay = 0

	a := s.AnalyzeLog(context.Background(), "fatal: cannot connect", LogContext{})
	if a.Model != "fallback" || a.Confidence > 0.1 {
		t.Errorf("analysis = %+v, want fallback", a)
	}
}
