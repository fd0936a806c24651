package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestGemini(url string) Provider {
	return NewGemini(Config{
		Provider: "gemini",
		Model:    "gemini-test",
		BaseURL:  url,
		APIKey:   "test-key",
	})
}

func TestGeminiGenerateContent(t *testing.T) {
	var gotBody geminiGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "models/gemini-test:generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("key") != "test-key" {
			t.Errorf("missing api key in query: %s", r.URL.RawQuery)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": `{"board_`}, {"text": `type":"voting"}`}},
				},
				"finishReason": "STOP",
			}},
			"modelVersion": "gemini-test-001",
			"usageMetadata": map[string]any{
				"promptTokenCount":     12,
				"candidatesTokenCount": 7,
				"totalTokenCount":      19,
			},
		})
	}))
	defer srv.Close()

	temp := 0.0
	resp, err := newTestGemini(srv.URL).GenerateContent(context.Background(), ContentRequest{
		Prompt:      "analyze",
		Image:       []byte{0xFF, 0xD8},
		MIMEType:    "image/jpeg",
		Temperature: &temp,
		Schema:      map[string]any{"type": "OBJECT"},
	})
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}

	if resp.Text != `{"board_type":"voting"}` {
		t.Errorf("text = %q, want concatenated parts", resp.Text)
	}
	if resp.Model != "gemini-test-001" {
		t.Errorf("model = %q", resp.Model)
	}
	if resp.TotalTokens != 19 {
		t.Errorf("total tokens = %d, want 19", resp.TotalTokens)
	}

	// Image part first, prompt second.
	parts := gotBody.Contents[0].Parts
	if len(parts) != 2 || parts[0].InlineData == nil || parts[1].Text != "analyze" {
		t.Fatalf("unexpected parts layout: %+v", parts)
	}
	if parts[0].InlineData.MIMEType != "image/jpeg" {
		t.Errorf("mime = %q", parts[0].InlineData.MIMEType)
	}
	gc := gotBody.GenerationConfig
	if gc == nil || gc.ResponseMIMEType != "application/json" {
		t.Fatalf("schema request must force JSON output, got %+v", gc)
	}
	if gc.ResponseSchema == nil {
		t.Error("responseSchema missing from generation config")
	}
	if gc.Temperature == nil || *gc.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", gc.Temperature)
	}
}

func TestGeminiRateLimitError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    429,
				"message": "Resource has been exhausted",
				"status":  "RESOURCE_EXHAUSTED",
			},
		})
	}))
	defer srv.Close()

	_, err := newTestGemini(srv.URL).GenerateContent(context.Background(), ContentRequest{Prompt: "x"})
	if err == nil {
		t.Fatal("expected error")
	}

	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("error %T is not *APIError", err)
	}
	if ae.StatusCode != 429 || ae.Status != "RESOURCE_EXHAUSTED" {
		t.Errorf("got %+v", ae)
	}
	if !RateLimited(err) {
		t.Error("429 response not classified as rate limited")
	}
}

func TestGeminiOpaqueErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream timeout"))
	}))
	defer srv.Close()

	_, err := newTestGemini(srv.URL).GenerateContent(context.Background(), ContentRequest{Prompt: "x"})
	var ae *APIError
	if !errors.As(err, &ae) {
		t.Fatalf("error %T is not *APIError", err)
	}
	if ae.StatusCode != 502 || ae.Message != "upstream timeout" {
		t.Errorf("got %+v", ae)
	}
}

func TestGeminiListModelsPagination(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("pageToken") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]any{{
					"name":                       "models/gemini-1.5-pro",
					"supportedGenerationMethods": []string{"generateContent"},
				}},
				"nextPageToken": "page2",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{{
				"name":                       "models/gemini-embedding-001",
				"supportedGenerationMethods": []string{"embedContent"},
			}},
		})
	}))
	defer srv.Close()

	infos, err := newTestGemini(srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(infos) != 2 {
		t.Fatalf("models = %d, want 2", len(infos))
	}
	if infos[0].Name != "models/gemini-1.5-pro" {
		t.Errorf("first model = %q", infos[0].Name)
	}
}

func TestGeminiEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":batchEmbedContents") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req geminiEmbedBatchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if len(req.Requests) != 2 {
			t.Errorf("requests = %d, want 2", len(req.Requests))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": []map[string]any{
				{"values": []float32{0.1, 0.2}},
				{"values": []float32{0.3, 0.4}},
			},
		})
	}))
	defer srv.Close()

	vecs, err := newTestGemini(srv.URL).Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 2 {
		t.Fatalf("unexpected shape: %v", vecs)
	}
	if vecs[1][0] != 0.3 {
		t.Errorf("vecs[1][0] = %v, want 0.3", vecs[1][0])
	}
}

func TestGeminiEmbedCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"embeddings": []map[string]any{{"values": []float32{0.1}}},
		})
	}))
	defer srv.Close()

	_, err := newTestGemini(srv.URL).Embed(context.Background(), []string{"a", "b"})
	if err == nil {
		t.Fatal("expected mismatch error")
	}
}
