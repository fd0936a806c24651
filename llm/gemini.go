package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

// geminiProvider implements Provider against Google's native Gemini API.
// The native endpoint is used (rather than the OpenAI-compatible shim)
// because structured output via responseSchema and the capability-annotated
// model listing are only exposed there.
//
// API key: set via config or GEMINI_API_KEY env var.
type geminiProvider struct {
	cfg    Config
	client *http.Client
}

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// NewGemini creates a provider for Google Gemini.
func NewGemini(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = geminiDefaultBaseURL
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	return &geminiProvider{
		cfg: cfg,
		// Generous timeout: counting dense dot clusters on a large photo can
		// take the pro models well over a minute.
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

// --- wire types (native generativelanguage API) ---

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature      *float64       `json:"temperature,omitempty"`
	MaxOutputTokens  int            `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type geminiGenerateRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content      *geminiContent `json:"content"`
		FinishReason string         `json:"finishReason"`
	} `json:"candidates"`
	ModelVersion  string `json:"modelVersion"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type geminiModelsResponse struct {
	Models []struct {
		Name                       string   `json:"name"` // "models/gemini-1.5-pro"
		DisplayName                string   `json:"displayName"`
		SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
	} `json:"models"`
	NextPageToken string `json:"nextPageToken"`
}

type geminiEmbedBatchRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiEmbedRequest struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type geminiEmbedBatchResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

// --- Provider implementation ---

func (p *geminiProvider) GenerateContent(ctx context.Context, req ContentRequest) (*ContentResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}

	// Image part goes first so the instruction reads as a caption of it.
	var parts []geminiPart
	if len(req.Image) > 0 {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MIMEType: req.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(req.Image),
		}})
	}
	parts = append(parts, geminiPart{Text: req.Prompt})

	gc := &geminiGenerationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
	}
	if req.JSONOutput || req.Schema != nil {
		gc.ResponseMIMEType = "application/json"
	}
	if req.Schema != nil {
		gc.ResponseSchema = req.Schema
	}

	body := geminiGenerateRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: gc,
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.cfg.BaseURL, model, url.QueryEscape(p.cfg.APIKey))
	raw, err := p.doPost(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}

	var resp geminiGenerateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding generate response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}
	cand := resp.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		return nil, fmt.Errorf("no content in candidate (finish reason %s)", cand.FinishReason)
	}

	var text string
	for _, part := range cand.Content.Parts {
		text += part.Text
	}

	out := &ContentResponse{
		Text:         text,
		Model:        resp.ModelVersion,
		FinishReason: cand.FinishReason,
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = resp.UsageMetadata.PromptTokenCount
		out.CompletionTokens = resp.UsageMetadata.CandidatesTokenCount
		out.TotalTokens = resp.UsageMetadata.TotalTokenCount
	}
	return out, nil
}

func (p *geminiProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqs := make([]geminiEmbedRequest, len(texts))
	for i, t := range texts {
		reqs[i] = geminiEmbedRequest{
			Model:   "models/" + p.cfg.Model,
			Content: geminiContent{Parts: []geminiPart{{Text: t}}},
		}
	}

	endpoint := fmt.Sprintf("%s/models/%s:batchEmbedContents?key=%s",
		p.cfg.BaseURL, p.cfg.Model, url.QueryEscape(p.cfg.APIKey))
	raw, err := p.doPost(ctx, endpoint, geminiEmbedBatchRequest{Requests: reqs})
	if err != nil {
		return nil, err
	}

	var resp geminiEmbedBatchResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}

func (p *geminiProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var infos []ModelInfo
	pageToken := ""
	for {
		endpoint := fmt.Sprintf("%s/models?key=%s&pageSize=200", p.cfg.BaseURL, url.QueryEscape(p.cfg.APIKey))
		if pageToken != "" {
			endpoint += "&pageToken=" + url.QueryEscape(pageToken)
		}
		raw, err := p.doGet(ctx, endpoint)
		if err != nil {
			return nil, err
		}

		var resp geminiModelsResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decoding models response: %w", err)
		}
		for _, m := range resp.Models {
			infos = append(infos, ModelInfo{
				Name:              m.Name,
				DisplayName:       m.DisplayName,
				GenerationMethods: m.SupportedGenerationMethods,
			})
		}

		if resp.NextPageToken == "" {
			return infos, nil
		}
		pageToken = resp.NextPageToken
	}
}

// --- HTTP plumbing ---

func (p *geminiProvider) doPost(ctx context.Context, endpoint string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return p.do(req)
}

func (p *geminiProvider) doGet(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return p.do(req)
}

func (p *geminiProvider) do(req *http.Request) ([]byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
				Status  string `json:"status"`
			} `json:"error"`
		}
		if err := json.Unmarshal(raw, &apiErr); err != nil || apiErr.Error.Message == "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: string(raw)}
		}
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Status:     apiErr.Error.Status,
			Message:    apiErr.Error.Message,
		}
	}
	return raw, nil
}
