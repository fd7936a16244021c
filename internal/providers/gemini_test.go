package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGeminiGenerateContent(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models/gemini-2.5-flash:generateContent" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Errorf("api key header = %q", r.Header.Get("x-goog-api-key"))
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"  "},{"text":" {\"page_type\":\"problem\"} "}]}}]}`))
	}))
	defer server.Close()

	budget := 99999
	client := NewGeminiClient(GeminiConfig{APIKey: "test-key", BaseURL: server.URL + "/"})
	text, err := client.GenerateContent(context.Background(), GeminiRequest{
		Model:           "gemini-2.5-flash",
		Prompt:          "scan",
		Image:           []byte("png"),
		Temperature:     0.1,
		MaxOutputTokens: 100,
		ThinkingBudget:  &budget,
		ResponseSchema:  json.RawMessage(`{"type":"object"}`),
	})
	if err != nil {
		t.Fatalf("GenerateContent() error = %v", err)
	}
	if text != `{"page_type":"problem"}` {
		t.Errorf("text = %q", text)
	}

	contents := payload["contents"].([]any)[0].(map[string]any)
	parts := contents["parts"].([]any)
	inline := parts[1].(map[string]any)["inlineData"].(map[string]any)
	if inline["mimeType"] != "image/png" || inline["data"] != base64.StdEncoding.EncodeToString([]byte("png")) {
		t.Errorf("inline data = %v", inline)
	}
	gc := payload["generationConfig"].(map[string]any)
	if gc["maxOutputTokens"].(float64) != 256 || gc["candidateCount"].(float64) != 1 {
		t.Errorf("generation config = %v", gc)
	}
	if gc["thinkingConfig"].(map[string]any)["thinkingBudget"].(float64) != 24576 {
		t.Errorf("thinking budget not clamped: %v", gc["thinkingConfig"])
	}
}

func TestBuildGeminiPayloadSkipsThinkingForOtherModels(t *testing.T) {
	budget := 0
	p := buildGeminiPayload(GeminiRequest{Model: "gemini-2.5-pro", ThinkingBudget: &budget, MaxOutputTokens: 99999})
	if p.GenerationConfig.ThinkingConfig != nil {
		t.Error("thinking config sent for a pro model")
	}
	if p.GenerationConfig.MaxOutputTokens != 8192 {
		t.Errorf("maxOutputTokens = %d", p.GenerationConfig.MaxOutputTokens)
	}
	if len(p.Contents[0].Parts) != 1 {
		t.Error("image part added without an image")
	}
}

func TestGeminiGenerateContentErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429}}`))
	}))
	defer server.Close()

	client := NewGeminiClient(GeminiConfig{APIKey: "k", BaseURL: server.URL, RequestsPerMinute: 600})
	_, err := client.GenerateContent(context.Background(), GeminiRequest{Model: "m", Prompt: "p"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %T %v", err, err)
	}
	if httpErr.StatusCode != 429 || httpErr.RetryAfter != 2*time.Second || !httpErr.Transient() {
		t.Errorf("httpErr = %+v", httpErr)
	}
	if client.Limiter().Status().Last429Time.IsZero() {
		t.Error("429 not recorded on the limiter")
	}

	if _, err := client.GenerateContent(context.Background(), GeminiRequest{Prompt: "p"}); err == nil {
		t.Error("expected error without a model")
	}
}
