package llamacpp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	c, err := NewClient("http://localhost:8080/", 0)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("Expected trailing slash trimmed, got %s", c.baseURL)
	}
	if c.timeout != DefaultTimeout {
		t.Errorf("Expected default timeout, got %v", c.timeout)
	}

	if _, err := NewClient("localhost:8080", time.Second); err == nil {
		t.Error("Expected error for URL without scheme")
	}
}

func TestLocateSubject(t *testing.T) {
	var got ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "cmpl-1",
			"choices": []map[string]any{{
				"index":   0,
				"message": map[string]any{"role": "assistant", "content": "```json\n{\"primary\":{\"label\":\"vinyl\",\"confidence\":0.8,\"cx\":0.6,\"cy\":0.3}}\n```"},
			}},
		})
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	result, err := c.LocateSubject(context.Background(), "llava", "find it", "aGVsbG8=")
	if err != nil {
		t.Fatalf("LocateSubject failed: %v", err)
	}
	if result.Primary.Label != "vinyl" || result.Primary.Cx != 0.6 || result.Primary.Cy != 0.3 {
		t.Errorf("Unexpected result %+v", result.Primary)
	}
	if got.Model != "llava" || len(got.Messages) != 1 {
		t.Fatalf("Unexpected request %+v", got)
	}
	parts, ok := got.Messages[0].Content.([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("Expected text and image parts, got %#v", got.Messages[0].Content)
	}
	image := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	if image != "data:image/jpeg;base64,aGVsbG8=" {
		t.Errorf("Unexpected image URL %s", image)
	}
}

func TestLocateSubjectErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusInternalServerError, "model not loaded", "status 500"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no choices"},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"role":"assistant","content":""}}]}`, "empty response"},
		{"bad json", http.StatusOK, `not json`, "parse response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, _ := NewClient(srv.URL, time.Second)
			_, err := c.LocateSubject(context.Background(), "m", "p", "")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMessageTextParts(t *testing.T) {
	content := []any{
		map[string]any{"type": "image_url"},
		map[string]any{"type": "text", "text": "{}"},
	}
	if got := messageText(content); got != "{}" {
		t.Errorf("messageText = %q, want {}", got)
	}
	if got := messageText(42); got != "" {
		t.Errorf("messageText(42) = %q, want empty", got)
	}
}

func TestPing(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, time.Second)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	healthy.Store(false)
	if err := c.Ping(context.Background()); err == nil {
		t.Error("Expected error for unhealthy server")
	}
}
