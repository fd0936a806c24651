package llm

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		provider string
		wantType string
	}{
		{"gemini", "*llm.geminiProvider"},
		{"custom", "*llm.openAICompatProvider"},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			cfg := Config{
				Provider: tt.provider,
				Model:    "test-model",
				APIKey:   "test-key",
			}
			p, err := NewProvider(cfg)
			if err != nil {
				t.Fatalf("NewProvider(%q) returned error: %v", tt.provider, err)
			}
			gotType := fmt.Sprintf("%T", p)
			if gotType != tt.wantType {
				t.Errorf("NewProvider(%q) type = %s, want %s", tt.provider, gotType, tt.wantType)
			}
		})
	}
}

func TestNewProviderUnknown(t *testing.T) {
	cfg := Config{
		Provider: "doesnotexist",
		Model:    "test-model",
	}
	_, err := NewProvider(cfg)
	if err == nil {
		t.Fatal("expected error for unknown provider, got nil")
	}
	want := "unknown llm provider: doesnotexist"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestNewProviderEmpty(t *testing.T) {
	cfg := Config{
		Provider: "",
		Model:    "test-model",
	}
	_, err := NewProvider(cfg)
	if err == nil {
		t.Fatal("expected error for empty provider, got nil")
	}
	want := "llm provider not specified"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestRateLimited(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"api error 429", &APIError{StatusCode: 429, Status: "RESOURCE_EXHAUSTED"}, true},
		{"wrapped api error 429", fmt.Errorf("extraction: %w", &APIError{StatusCode: 429}), true},
		{"api error 500", &APIError{StatusCode: 500}, false},
		{"opaque text with 429", errors.New("upstream said 429 too many requests"), true},
		{"opaque unrelated", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RateLimited(tt.err); got != tt.want {
				t.Errorf("RateLimited(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// An APIError carrying a non-429 status must never classify as rate limited,
// even when its message happens to contain the digits 429.
func TestRateLimitedStructuredWins(t *testing.T) {
	err := &APIError{StatusCode: 400, Message: "field must be < 429 bytes"}
	if RateLimited(err) {
		t.Error("structured 400 classified as rate limited via message text")
	}
}

func TestAuthFailed(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"401", &APIError{StatusCode: 401}, true},
		{"403", &APIError{StatusCode: 403}, true},
		{"429", &APIError{StatusCode: 429}, false},
		{"plain error", errors.New("unauthorized"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AuthFailed(tt.err); got != tt.want {
				t.Errorf("AuthFailed(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestAPIErrorMessage(t *testing.T) {
	withStatus := &APIError{StatusCode: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota exceeded"}
	want := "provider error 429 (RESOURCE_EXHAUSTED): quota exceeded"
	if withStatus.Error() != want {
		t.Errorf("Error() = %q, want %q", withStatus.Error(), want)
	}

	bare := &APIError{StatusCode: 500, Message: "boom"}
	want = "provider error 500: boom"
	if bare.Error() != want {
		t.Errorf("Error() = %q, want %q", bare.Error(), want)
	}
}
