// Package boardscan extracts structured voting data and sticky-note text
// from workshop board photos using a multimodal model. The engine runs a
// two-call pipeline per image (structure detection, then schema-constrained
// extraction), batches images sequentially with rate-limit cooldowns, and
// optionally persists results to a local SQLite history with semantic note
// search.
package boardscan

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgrant/boardscan/batch"
	"github.com/felixgrant/boardscan/extract"
	"github.com/felixgrant/boardscan/llm"
	"github.com/felixgrant/boardscan/store"
)

// Scanner is the public interface to the boardscan engine.
type Scanner interface {
	// ScanImage runs the extraction pipeline on a single board photo.
	ScanImage(ctx context.Context, img batch.Image, opts ...ScanOption) (*extract.Result, error)

	// ScanBatch processes images strictly in order, isolating per-image
	// failures, and returns the aggregate. When history is enabled the
	// aggregate is persisted and its notes embedded for search.
	ScanBatch(ctx context.Context, images []batch.Image, opts ...ScanOption) (*batch.Aggregate, error)

	// Models lists content-generation-capable model names for the configured
	// credential, best first. Returns ErrAuth when the listing call fails and
	// ErrNoModels when the credential grants nothing usable.
	Models(ctx context.Context) ([]string, error)

	// SearchNotes finds persisted sticky notes semantically close to query.
	SearchNotes(ctx context.Context, query string, k int) ([]store.NoteMatch, error)

	// ListBatches returns summaries of persisted batches, newest first.
	ListBatches(ctx context.Context) ([]store.BatchInfo, error)

	// GetBatch loads one persisted batch with all its records.
	GetBatch(ctx context.Context, id string) (*store.Batch, error)

	// DeleteBatch removes a persisted batch and its records.
	DeleteBatch(ctx context.Context, id string) error

	// Store exposes the history store, or nil when history is disabled.
	Store() *store.Store

	// Close releases the history store if one is open.
	Close() error
}

// ScanOption adjusts a single ScanImage or ScanBatch call.
type ScanOption func(*scanOptions)

type scanOptions struct {
	model    string
	progress batch.Progress
	cooldown time.Duration
}

// WithModel overrides the configured vision model for this call.
func WithModel(model string) ScanOption {
	return func(o *scanOptions) { o.model = model }
}

// WithProgress attaches a progress sink to a batch run.
func WithProgress(p batch.Progress) ScanOption {
	return func(o *scanOptions) { o.progress = p }
}

// WithCooldown overrides the rate-limit pause for a batch run.
func WithCooldown(d time.Duration) ScanOption {
	return func(o *scanOptions) { o.cooldown = d }
}

type engine struct {
	cfg      Config
	vision   llm.Provider
	embedder llm.Provider
	pipeline *extract.Pipeline
	store    *store.Store
}

// New builds a Scanner from configuration. The vision credential is checked
// up front so a missing key fails here rather than on the first scan.
func New(cfg Config) (Scanner, error) {
	if cfg.Vision.Provider == "" {
		cfg.Vision.Provider = "gemini"
	}
	if cfg.Vision.Provider == "gemini" && cfg.Vision.APIKey == "" && envAPIKey() == "" {
		return nil, fmt.Errorf("%w: vision api key missing", ErrInvalidConfig)
	}
	if cfg.CooldownSeconds <= 0 {
		cfg.CooldownSeconds = int(batch.DefaultCooldown / time.Second)
	}

	vision, err := llm.NewProvider(llm.Config{
		Provider: cfg.Vision.Provider,
		Model:    cfg.Vision.Model,
		BaseURL:  cfg.Vision.BaseURL,
		APIKey:   cfg.Vision.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	e := &engine{
		cfg:      cfg,
		vision:   vision,
		pipeline: extract.New(vision),
	}

	if cfg.historyEnabled() {
		embedCfg := cfg.Embedding
		if embedCfg.Provider == "" {
			embedCfg = cfg.Vision
			embedCfg.Model = DefaultConfig().Embedding.Model
		}
		embedder, err := llm.NewProvider(llm.Config{
			Provider: embedCfg.Provider,
			Model:    embedCfg.Model,
			BaseURL:  embedCfg.BaseURL,
			APIKey:   embedCfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		e.embedder = embedder

		dim := cfg.EmbeddingDim
		if dim <= 0 {
			dim = DefaultConfig().EmbeddingDim
		}
		st, err := store.New(cfg.resolveDBPath(), dim)
		if err != nil {
			return nil, fmt.Errorf("opening history store: %w", err)
		}
		e.store = st
	}

	return e, nil
}

func (e *engine) ScanImage(ctx context.Context, img batch.Image, opts ...ScanOption) (*extract.Result, error) {
	o := e.applyOptions(opts)
	result, err := e.pipeline.Run(ctx, img.Data, img.MIMEType, o.model)
	if err != nil {
		return nil, err
	}
	for i := range result.Votes {
		result.Votes[i].SourceFile = img.Name
	}
	for i := range result.Notes {
		result.Notes[i].SourceFile = img.Name
	}
	return result, nil
}

func (e *engine) ScanBatch(ctx context.Context, images []batch.Image, opts ...ScanOption) (*batch.Aggregate, error) {
	o := e.applyOptions(opts)

	runnerOpts := []batch.Option{batch.WithCooldown(o.cooldown)}
	if o.progress != nil {
		runnerOpts = append(runnerOpts, batch.WithProgress(o.progress))
	}
	runner := batch.NewRunner(e.pipeline, runnerOpts...)

	agg, err := runner.Run(ctx, images, o.model)
	if err != nil {
		return agg, err
	}

	if e.store != nil {
		if perr := e.persist(ctx, agg); perr != nil {
			// Extraction succeeded; history is best-effort on top of it.
			slog.Warn("boardscan: failed to persist batch",
				"batch_id", agg.ID.String(), "error", perr)
		}
	}
	return agg, nil
}

// persist saves the aggregate and embeds its note texts so they become
// searchable. Embedding failures leave the notes stored but unindexed.
func (e *engine) persist(ctx context.Context, agg *batch.Aggregate) error {
	failures, err := json.Marshal(agg.Failures)
	if err != nil {
		return fmt.Errorf("encoding failures: %w", err)
	}

	noteIDs, err := e.store.SaveBatch(ctx, store.Batch{
		ID:       agg.ID.String(),
		Model:    agg.Model,
		Images:   agg.Images,
		Votes:    agg.Votes,
		Notes:    agg.Notes,
		Failures: failures,
	})
	if err != nil {
		return err
	}

	if len(agg.Notes) == 0 {
		return nil
	}
	texts := make([]string, len(agg.Notes))
	for i, n := range agg.Notes {
		texts[i] = n.Text
	}
	embeddings, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		slog.Warn("boardscan: note embedding failed, notes stored without vectors",
			"batch_id", agg.ID.String(), "error", err)
		return nil
	}
	for i, emb := range embeddings {
		if i >= len(noteIDs) {
			break
		}
		if err := e.store.InsertNoteEmbedding(ctx, noteIDs[i], emb); err != nil {
			return fmt.Errorf("indexing note %d: %w", noteIDs[i], err)
		}
	}
	return nil
}

func (e *engine) Models(ctx context.Context) ([]string, error) {
	names, err := llm.ListUsableModels(ctx, e.vision)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if len(names) == 0 {
		return nil, ErrNoModels
	}
	return names, nil
}

func (e *engine) SearchNotes(ctx context.Context, query string, k int) ([]store.NoteMatch, error) {
	if e.store == nil {
		return nil, ErrStoreDisabled
	}
	if k <= 0 {
		k = 10
	}
	embeddings, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		// Degrade to keyword search when the embedding call is unavailable.
		slog.Warn("boardscan: query embedding failed, using text search", "error", err)
		return e.store.SearchNotesText(ctx, query, k)
	}
	return e.store.SearchNotes(ctx, embeddings[0], k)
}

func (e *engine) ListBatches(ctx context.Context) ([]store.BatchInfo, error) {
	if e.store == nil {
		return nil, ErrStoreDisabled
	}
	return e.store.ListBatches(ctx)
}

func (e *engine) GetBatch(ctx context.Context, id string) (*store.Batch, error) {
	if e.store == nil {
		return nil, ErrStoreDisabled
	}
	b, err := e.store.GetBatch(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading batch %s: %w", id, err)
	}
	return b, nil
}

func (e *engine) DeleteBatch(ctx context.Context, id string) error {
	if e.store == nil {
		return ErrStoreDisabled
	}
	err := e.store.DeleteBatch(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("deleting batch %s: %w", id, err)
	}
	return nil
}

func (e *engine) Store() *store.Store {
	return e.store
}

func (e *engine) Close() error {
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

func (e *engine) applyOptions(opts []ScanOption) scanOptions {
	o := scanOptions{
		model:    e.cfg.Vision.Model,
		cooldown: time.Duration(e.cfg.CooldownSeconds) * time.Second,
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.cooldown <= 0 {
		o.cooldown = batch.DefaultCooldown
	}
	return o
}

func envAPIKey() string {
	return strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
}

// ImageMIMEType maps a filename to its image MIME type. Only JPEG and PNG
// board photos are accepted.
func ImageMIMEType(filename string) (string, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg", true
	case ".png":
		return "image/png", true
	default:
		return "", false
	}
}
