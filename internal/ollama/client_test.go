package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerateDecodesEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %s", ct)
		}
		promptEval := 1200
		total := int64(987654321)
		_ = json.NewEncoder(w).Encode(GenerateResponse{
			Model:           "mixtral:latest",
			Response:        "hello",
			Done:            true,
			DoneReason:      "stop",
			PromptEvalCount: &promptEval,
			TotalDuration:   &total,
		})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: 5 * time.Second})
	resp, raw, err := client.Generate(context.Background(), GenerateRequest{
		Model:  "mixtral:latest",
		Prompt: "say hello",
	})
	if err != nil {
		t.Fatalf("Generate error: %v", err)
	}
	if resp.Response != "hello" || resp.DoneReason != "stop" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if resp.PromptEvalCount == nil || *resp.PromptEvalCount != 1200 {
		t.Fatalf("optional prompt_eval_count lost: %v", resp.PromptEvalCount)
	}
	if resp.EvalCount != nil {
		t.Fatalf("absent eval_count must decode to nil, got %v", resp.EvalCount)
	}
	if raw.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", raw.StatusCode)
	}
	if raw.Duration <= 0 {
		t.Fatal("expected a positive full-body duration")
	}
}

func TestGenerateSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": "model 'nope' not found"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: 5 * time.Second})
	_, raw, err := client.Generate(context.Background(), GenerateRequest{Model: "nope", Prompt: "x"})
	if err == nil {
		t.Fatal("expected error for 404")
	}
	apiErr, ok := IsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "model 'nope' not found" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if raw == nil || raw.StatusCode != http.StatusNotFound {
		t.Fatal("raw response must survive error paths")
	}
}

func TestGenerateForcesNonStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req GenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("client must force stream=false")
		}
		_ = json.NewEncoder(w).Encode(GenerateResponse{Response: "ok", Done: true})
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Timeout: 5 * time.Second})
	if _, _, err := client.Generate(context.Background(), GenerateRequest{Model: "m", Prompt: "x", Stream: true}); err != nil {
		t.Fatalf("Generate error: %v", err)
	}
}
