package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider is the interface for multimodal model interactions.
type Provider interface {
	// GenerateContent sends a single-turn generation request, optionally
	// carrying an inline image and an output-schema constraint.
	GenerateContent(ctx context.Context, req ContentRequest) (*ContentResponse, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// ListModels returns the models the configured credential may use,
	// together with their advertised capabilities.
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// ContentRequest is a single generation request.
type ContentRequest struct {
	// Model overrides the provider's configured model when non-empty.
	Model string

	// Prompt is the instruction text.
	Prompt string

	// Image is optional inline image data; MIMEType must be set with it.
	Image    []byte
	MIMEType string

	// Temperature, when non-nil, is passed through verbatim. A pointer so
	// that an explicit 0 (deterministic-leaning decoding) is distinguishable
	// from "use the provider default".
	Temperature *float64

	// JSONOutput requests a JSON-mode response.
	JSONOutput bool

	// Schema, when non-nil, constrains the response shape. Only honored by
	// providers with structured-output support; others fall back to JSON mode.
	Schema map[string]any

	MaxTokens int
}

// ContentResponse is the response from a generation request.
type ContentResponse struct {
	Text             string `json:"text"`
	Model            string `json:"model"`
	FinishReason     string `json:"finish_reason"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// ModelInfo describes one model advertised by the provider.
type ModelInfo struct {
	Name              string   `json:"name"`
	DisplayName       string   `json:"display_name,omitempty"`
	GenerationMethods []string `json:"generation_methods,omitempty"`
}

// Config configures a provider.
type Config struct {
	Provider string `json:"provider"` // gemini, custom
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
}

// NewProvider creates a provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "gemini":
		return NewGemini(cfg), nil
	case "custom":
		return NewOpenAICompat(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// APIError is a provider-side HTTP failure with its decoded status. Keeping
// the status code structured here is what lets callers classify rate limits
// without scraping error strings everywhere.
type APIError struct {
	StatusCode int
	Status     string // provider status label, e.g. "RESOURCE_EXHAUSTED"
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("provider error %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("provider error %d: %s", e.StatusCode, e.Message)
}

// RateLimited reports whether err signals an HTTP 429 from the provider.
// Prefers the structured status code; falls back to a substring match for
// opaque error text from intermediaries.
func RateLimited(err error) bool {
	if err == nil {
		return false
	}
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode == 429
	}
	return strings.Contains(err.Error(), "429")
}

// AuthFailed reports whether err signals a rejected credential.
func AuthFailed(err error) bool {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.StatusCode == 401 || ae.StatusCode == 403
	}
	return false
}
