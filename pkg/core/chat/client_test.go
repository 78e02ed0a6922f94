package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/voxdeck-ai/voxdeck/pkg/core"
)

func TestCompleteFinalText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		var req CompletionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.MaxTokens != DefaultMaxTokens {
			t.Errorf("expected default max tokens, got %d", req.MaxTokens)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := New("test-key", WithBaseURL(srv.URL))
	got, err := c.Complete(context.Background(), &CompletionRequest{Model: "gpt-4o-mini", Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got.Text != "hello" || len(got.ToolCalls) != 0 {
		t.Errorf("unexpected completion: %+v", got)
	}
}

func TestCompleteToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"list_projects","arguments":"{}"}}]},"finish_reason":"tool_calls"}]}`))
	}))
	defer srv.Close()

	c := New("k", WithBaseURL(srv.URL))
	got, err := c.Complete(context.Background(), &CompletionRequest{Model: "m", Messages: []Message{{Role: "user", Content: "projects?"}}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(got.ToolCalls) != 1 || got.ToolCalls[0].Function.Name != "list_projects" {
		t.Errorf("unexpected tool calls: %+v", got.ToolCalls)
	}
}

func TestCompleteMissingKey(t *testing.T) {
	c := New("")
	_, err := c.Complete(context.Background(), &CompletionRequest{Model: "m"})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCompleteRejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"auth"}}`))
	}))
	defer srv.Close()

	c := New("bad", WithBaseURL(srv.URL))
	_, err := c.Complete(context.Background(), &CompletionRequest{Model: "m"})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestCompleteRejectedCredentialsNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`<html>401 Unauthorized</html>`))
	}))
	defer srv.Close()

	c := New("bad", WithBaseURL(srv.URL))
	_, err := c.Complete(context.Background(), &CompletionRequest{Model: "m"})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrConfiguration {
		t.Fatalf("expected configuration error for non-JSON 401 body, got %v", err)
	}
}

func TestCompleteServerErrorNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`upstream unavailable`))
	}))
	defer srv.Close()

	c := New("k", WithBaseURL(srv.URL))
	_, err := c.Complete(context.Background(), &CompletionRequest{Model: "m"})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrAPI {
		t.Fatalf("expected api error, got %v", err)
	}
	if !strings.Contains(coreErr.Message, "502") {
		t.Errorf("message should carry the status code, got %q", coreErr.Message)
	}
}

func TestFactoryRebuildsOnKeyChange(t *testing.T) {
	f := NewFactory("key-a")
	first := f.Get()
	if f.Get() != first {
		t.Error("same key must return same client")
	}

	f.SetKey("key-a") // no-op
	if f.Get() != first {
		t.Error("setting the same key must not rebuild")
	}

	f.SetKey("key-b")
	second := f.Get()
	if second == first {
		t.Error("changed key must rebuild the client")
	}
	if f.Get() != second {
		t.Error("rebuild happens once per version bump")
	}
}
