package llm

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// stubProvider returns canned model listings.
type stubProvider struct {
	models []ModelInfo
	err    error
}

func (s *stubProvider) GenerateContent(ctx context.Context, req ContentRequest) (*ContentResponse, error) {
	return nil, errors.New("not implemented")
}

func (s *stubProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func (s *stubProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return s.models, s.err
}

func gen(name string) ModelInfo {
	return ModelInfo{Name: name, GenerationMethods: []string{"generateContent"}}
}

func TestListUsableModelsRanking(t *testing.T) {
	p := &stubProvider{models: []ModelInfo{
		gen("models/gemini-2.0-flash"),
		gen("models/text-bison"),
		gen("models/gemini-1.5-flash"),
		gen("models/gemini-3-pro-preview"),
		gen("models/gemini-1.5-pro"),
		gen("models/gemini-2.0-pro"),
	}}

	got, err := ListUsableModels(context.Background(), p)
	if err != nil {
		t.Fatalf("ListUsableModels: %v", err)
	}

	want := []string{
		"gemini-3-pro-preview",
		"gemini-1.5-pro",
		"gemini-2.0-flash",
		"gemini-2.0-pro",
		"gemini-1.5-flash",
		"text-bison",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestListUsableModelsFiltersCapability(t *testing.T) {
	p := &stubProvider{models: []ModelInfo{
		{Name: "models/gemini-embedding-001", GenerationMethods: []string{"embedContent"}},
		gen("models/gemini-1.5-pro"),
		{Name: "models/aqa", GenerationMethods: nil},
	}}

	got, err := ListUsableModels(context.Background(), p)
	if err != nil {
		t.Fatalf("ListUsableModels: %v", err)
	}
	want := []string{"gemini-1.5-pro"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("models = %v, want %v", got, want)
	}
}

// A valid credential that grants nothing usable yields an empty slice and a
// nil error; the caller decides what to do with that.
func TestListUsableModelsEmptyIsNotError(t *testing.T) {
	p := &stubProvider{models: []ModelInfo{
		{Name: "models/gemini-embedding-001", GenerationMethods: []string{"embedContent"}},
	}}

	got, err := ListUsableModels(context.Background(), p)
	if err != nil {
		t.Fatalf("ListUsableModels: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("models = %v, want empty", got)
	}
}

func TestListUsableModelsPropagatesError(t *testing.T) {
	p := &stubProvider{err: &APIError{StatusCode: 401, Message: "bad key"}}
	_, err := ListUsableModels(context.Background(), p)
	if err == nil {
		t.Fatal("expected error")
	}
	if !AuthFailed(err) {
		t.Errorf("error %v not classified as auth failure", err)
	}
}

func TestModelRank(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"gemini-3-pro-preview", 0},
		{"gemini-3.0-flash", 0},
		{"models/gemini-3-pro", 0},
		{"gemini-30-fake", 4}, // "gemini-3" must be a whole version segment
		{"gemini-1.5-pro-002", 1},
		{"gemini-2.0-flash", 2}, // 2.0 outranks the flash tier
		{"gemini-1.5-flash", 3},
		{"text-bison", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := modelRank(tt.name); got != tt.want {
				t.Errorf("modelRank(%q) = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestListUsableModelsStableWithinRank(t *testing.T) {
	p := &stubProvider{models: []ModelInfo{
		gen("models/zzz-first"),
		gen("models/aaa-second"),
	}}

	got, err := ListUsableModels(context.Background(), p)
	if err != nil {
		t.Fatalf("ListUsableModels: %v", err)
	}
	want := []string{"zzz-first", "aaa-second"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("order = %v, want provider order %v", got, want)
	}
}
