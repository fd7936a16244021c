package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const responsesBody = `{
	"id":"resp_1","object":"response","created_at":1,"model":"gpt-4.1-mini","status":"completed",
	"output":[{"type":"message","id":"msg_1","role":"assistant","status":"completed",
		"content":[{"type":"output_text","text":"{\"subject_code\":\"CALCULUS\"}","annotations":[]}]}]
}`

func TestOpenAIComplete(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/responses" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(responsesBody))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
	if !client.Configured() || client.Model() != "gpt-4.1-mini" {
		t.Fatalf("client = %+v", client)
	}
	text, err := client.Complete(context.Background(), "classify", "문항 1")
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if text != `{"subject_code":"CALCULUS"}` {
		t.Errorf("text = %q", text)
	}
	if payload["input"] != "문항 1" || payload["instructions"] != "classify" || payload["model"] != "gpt-4.1-mini" {
		t.Errorf("payload = %v", payload)
	}
}

func TestOpenAICompleteRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit","type":"rate_limit_error","param":"","code":"rate_limit"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key", BaseURL: server.URL})
	_, err := client.Complete(context.Background(), "", "문항")
	rle, ok := IsRateLimitError(err)
	if !ok {
		t.Fatalf("expected RateLimitError, got %T: %v", err, err)
	}
	if rle.StatusCode != http.StatusTooManyRequests || rle.RetryAfter != 3*time.Second {
		t.Errorf("rle = %+v", rle)
	}
}

func TestOpenAICompleteServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	_, err := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: server.URL}).Complete(context.Background(), "", "문항")
	if StatusCode(err) != http.StatusBadRequest {
		t.Errorf("err = %v", err)
	}
}
