//go:build cgo

package boardscan

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newHistoryScanner(t *testing.T) Scanner {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Vision.Provider = "custom"
	cfg.Vision.BaseURL = "http://localhost:11434"
	cfg.Vision.Model = "llava:13b"
	cfg.DBPath = filepath.Join(t.TempDir(), "history.db")
	cfg.EmbeddingDim = 4

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetBatchMissingIsNotFound(t *testing.T) {
	s := newHistoryScanner(t)
	_, err := s.GetBatch(context.Background(), "nope")
	if !errors.Is(err, ErrBatchNotFound) {
		t.Fatalf("error = %v, want ErrBatchNotFound", err)
	}
}

func TestDeleteBatchMissingIsNotFound(t *testing.T) {
	s := newHistoryScanner(t)
	err := s.DeleteBatch(context.Background(), "nope")
	if !errors.Is(err, ErrBatchNotFound) {
		t.Fatalf("error = %v, want ErrBatchNotFound", err)
	}
}

// Infrastructure failures must not masquerade as a missing batch, otherwise
// callers report 404 for what is really a storage outage.
func TestBatchStoreFailureIsNotNotFound(t *testing.T) {
	s := newHistoryScanner(t)
	if err := s.Store().Close(); err != nil {
		t.Fatalf("closing store: %v", err)
	}

	ctx := context.Background()
	if _, err := s.GetBatch(ctx, "nope"); err == nil || errors.Is(err, ErrBatchNotFound) {
		t.Errorf("GetBatch on closed store = %v, want a non-not-found error", err)
	}
	if err := s.DeleteBatch(ctx, "nope"); err == nil || errors.Is(err, ErrBatchNotFound) {
		t.Errorf("DeleteBatch on closed store = %v, want a non-not-found error", err)
	}
}
