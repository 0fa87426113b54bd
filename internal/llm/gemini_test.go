package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *GeminiClient) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	config := DefaultGeminiConfig("test-key")
	config.BaseURL = server.URL
	config.Timeout = 5 * time.Second
	return server, NewGeminiClientWithConfig(config)
}

func completionResponse(text string) string {
	resp := map[string]interface{}{
		"candidates": []map[string]interface{}{
			{
				"content": map[string]interface{}{
					"parts": []map[string]string{{"text": text}},
				},
				"finishReason": "STOP",
			},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestCompleteWithSystem(t *testing.T) {
	var gotReq geminiRequest
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Write([]byte(completionResponse("hello from gemini")))
	})

	got, err := client.CompleteWithSystem(context.Background(), "you are a test", "say hello")
	if err != nil {
		t.Fatalf("CompleteWithSystem failed: %v", err)
	}
	if got != "hello from gemini" {
		t.Errorf("Expected completion text, got %q", got)
	}

	if gotReq.SystemInstruction == nil || gotReq.SystemInstruction.Parts[0].Text != "you are a test" {
		t.Error("System instruction not forwarded")
	}
	if len(gotReq.Contents) != 1 || gotReq.Contents[0].Parts[0].Text != "say hello" {
		t.Error("User prompt not forwarded")
	}
}

func TestCompleteRetriesOnRateLimit(t *testing.T) {
	var calls int32
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(completionResponse("ok")))
	})

	got, err := client.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete should succeed after retry: %v", err)
	}
	if got != "ok" {
		t.Errorf("Expected ok, got %q", got)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("Expected 2 calls, got %d", calls)
	}
}

func TestCompleteFailsFastOnBadRequest(t *testing.T) {
	var calls int32
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad prompt"}}`))
	})

	if _, err := client.Complete(context.Background(), "prompt"); err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Non-retryable status should not retry, got %d calls", calls)
	}
}

func TestCompleteEmptyCandidates(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	})

	_, err := client.Complete(context.Background(), "prompt")
	if err != ErrNoCompletion {
		t.Errorf("Expected ErrNoCompletion, got %v", err)
	}
}

func TestCompleteRequiresAPIKey(t *testing.T) {
	client := NewGeminiClient("")
	if _, err := client.Complete(context.Background(), "prompt"); err == nil {
		t.Fatal("Expected error without API key")
	}
}

func TestJSONMimeTypeForJSONPrompts(t *testing.T) {
	var gotReq geminiRequest
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(completionResponse(`{"ok": true}`)))
	})

	_, err := client.CompleteWithSystem(context.Background(), "Respond with JSON only.", "evaluate this")
	if err != nil {
		t.Fatalf("CompleteWithSystem failed: %v", err)
	}
	if gotReq.GenerationConfig.ResponseMimeType != "application/json" {
		t.Errorf("Expected application/json mime type, got %q", gotReq.GenerationConfig.ResponseMimeType)
	}
}
