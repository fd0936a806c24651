package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/felixgrant/boardscan/extract"
)

func init() {
	sqlite_vec.Auto()
}

// Batch is one persisted batch invocation including its records.
type Batch struct {
	ID        string               `json:"id"`
	Model     string               `json:"model"`
	Images    int                  `json:"images"`
	Votes     []extract.VoteRecord `json:"voting_data"`
	Notes     []extract.NoteRecord `json:"sticky_notes"`
	Failures  json.RawMessage      `json:"failures,omitempty"`
	CreatedAt string               `json:"created_at,omitempty"`
}

// BatchInfo is the listing view of a batch: identity plus record counts.
type BatchInfo struct {
	ID        string `json:"id"`
	Model     string `json:"model"`
	Images    int    `json:"images"`
	Votes     int    `json:"votes"`
	Notes     int    `json:"notes"`
	CreatedAt string `json:"created_at"`
}

// NoteMatch is one search hit over persisted notes.
type NoteMatch struct {
	NoteID          int64   `json:"note_id"`
	BatchID         string  `json:"batch_id"`
	Text            string  `json:"text"`
	CategoryContext string  `json:"category_context,omitempty"`
	SourceFile      string  `json:"source_file"`
	Score           float64 `json:"score"`
}

// Store wraps the SQLite database for all boardscan persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
	ftsEnabled   bool
}

// New opens (or creates) a SQLite database at the given path and initialises
// the schema including the sqlite-vec and FTS5 virtual tables. When the
// binary was built without the sqlite_fts5 tag the FTS index is skipped and
// text search is unavailable.
func New(dbPath string, embeddingDim int) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	ftsEnabled := true
	if _, err := db.Exec(ftsSchemaSQL); err != nil {
		ftsEnabled = false
		slog.Warn("full-text index unavailable, rebuild with -tags sqlite_fts5 to enable text search", "error", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim, ftsEnabled: ftsEnabled}

	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// FTSEnabled reports whether the FTS5 index is available in this build.
func (s *Store) FTSEnabled() bool {
	return s.ftsEnabled
}

// --- Batch operations ---

// SaveBatch persists a batch row with all of its vote and note records in a
// single transaction. It returns the rowids of the inserted notes, in input
// order, so the caller can attach embeddings afterwards.
func (s *Store) SaveBatch(ctx context.Context, b Batch) ([]int64, error) {
	var noteIDs []int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		failures := b.Failures
		if failures == nil {
			failures = json.RawMessage("[]")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO batches (id, model, images, failures) VALUES (?, ?, ?, ?)
		`, b.ID, b.Model, b.Images, string(failures)); err != nil {
			return fmt.Errorf("inserting batch: %w", err)
		}

		for _, v := range b.Votes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO votes (batch_id, row_label, column_label, dot_count, color_breakdown, source_file)
				VALUES (?, ?, ?, ?, ?, ?)
			`, b.ID, v.RowLabel, v.ColumnLabel, v.DotCount, v.ColorBreakdown, v.SourceFile); err != nil {
				return fmt.Errorf("inserting vote: %w", err)
			}
		}

		noteIDs = make([]int64, 0, len(b.Notes))
		for _, n := range b.Notes {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO notes (batch_id, text, category_context, confidence, source_file)
				VALUES (?, ?, ?, ?, ?)
			`, b.ID, n.Text, n.CategoryContext, n.Confidence, n.SourceFile)
			if err != nil {
				return fmt.Errorf("inserting note: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			noteIDs = append(noteIDs, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return noteIDs, nil
}

// ListBatches returns all batches newest-first with their record counts.
func (s *Store) ListBatches(ctx context.Context) ([]BatchInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.model, b.images,
			(SELECT COUNT(*) FROM votes v WHERE v.batch_id = b.id),
			(SELECT COUNT(*) FROM notes n WHERE n.batch_id = b.id),
			b.created_at
		FROM batches b ORDER BY b.created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []BatchInfo
	for rows.Next() {
		var bi BatchInfo
		if err := rows.Scan(&bi.ID, &bi.Model, &bi.Images, &bi.Votes, &bi.Notes, &bi.CreatedAt); err != nil {
			return nil, err
		}
		infos = append(infos, bi)
	}
	return infos, rows.Err()
}

// GetBatch retrieves a batch and all of its records. Returns sql.ErrNoRows
// when the batch does not exist.
func (s *Store) GetBatch(ctx context.Context, id string) (*Batch, error) {
	b := &Batch{ID: id}
	var failures sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT model, images, failures, created_at FROM batches WHERE id = ?
	`, id).Scan(&b.Model, &b.Images, &failures, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	if failures.Valid {
		b.Failures = json.RawMessage(failures.String)
	}

	b.Votes = []extract.VoteRecord{}
	voteRows, err := s.db.QueryContext(ctx, `
		SELECT row_label, column_label, dot_count, COALESCE(color_breakdown, ''), source_file
		FROM votes WHERE batch_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer voteRows.Close()
	for voteRows.Next() {
		var v extract.VoteRecord
		if err := voteRows.Scan(&v.RowLabel, &v.ColumnLabel, &v.DotCount, &v.ColorBreakdown, &v.SourceFile); err != nil {
			return nil, err
		}
		b.Votes = append(b.Votes, v)
	}
	if err := voteRows.Err(); err != nil {
		return nil, err
	}

	b.Notes = []extract.NoteRecord{}
	noteRows, err := s.db.QueryContext(ctx, `
		SELECT text, COALESCE(category_context, ''), COALESCE(confidence, 0), source_file
		FROM notes WHERE batch_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, err
	}
	defer noteRows.Close()
	for noteRows.Next() {
		var n extract.NoteRecord
		if err := noteRows.Scan(&n.Text, &n.CategoryContext, &n.Confidence, &n.SourceFile); err != nil {
			return nil, err
		}
		b.Notes = append(b.Notes, n)
	}
	return b, noteRows.Err()
}

// DeleteBatch removes a batch, its records, and their embeddings.
func (s *Store) DeleteBatch(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM vec_notes WHERE note_id IN (
				SELECT id FROM notes WHERE batch_id = ?
			)
		`, id); err != nil {
			return fmt.Errorf("deleting note embeddings: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM batches WHERE id = ?", id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// --- Note search ---

// InsertNoteEmbedding attaches an embedding vector to a persisted note.
func (s *Store) InsertNoteEmbedding(ctx context.Context, noteID int64, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_notes (note_id, embedding) VALUES (?, ?)",
		noteID, serializeFloat32(embedding))
	return err
}

// SearchNotes performs a KNN search over note embeddings, returning the
// top-k nearest notes across all batches.
func (s *Store) SearchNotes(ctx context.Context, queryEmbedding []float32, k int) ([]NoteMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.note_id, v.distance,
			n.batch_id, n.text, COALESCE(n.category_context, ''), n.source_file
		FROM vec_notes v
		JOIN notes n ON n.id = v.note_id
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []NoteMatch
	for rows.Next() {
		var m NoteMatch
		var distance float64
		if err := rows.Scan(&m.NoteID, &distance, &m.BatchID, &m.Text, &m.CategoryContext, &m.SourceFile); err != nil {
			return nil, err
		}
		// Convert distance to similarity score (1 - distance for cosine)
		m.Score = 1.0 - distance
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// SearchNotesText performs a full-text search over note text using FTS5
// BM25 ranking. It fails when the store was opened without FTS5 support.
func (s *Store) SearchNotesText(ctx context.Context, query string, limit int) ([]NoteMatch, error) {
	if !s.ftsEnabled {
		return nil, fmt.Errorf("text search requires a binary built with -tags sqlite_fts5")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.rowid, f.rank,
			n.batch_id, n.text, COALESCE(n.category_context, ''), n.source_file
		FROM notes_fts f
		JOIN notes n ON n.id = f.rowid
		WHERE notes_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []NoteMatch
	for rows.Next() {
		var m NoteMatch
		var rank float64
		if err := rows.Scan(&m.NoteID, &rank, &m.BatchID, &m.Text, &m.CategoryContext, &m.SourceFile); err != nil {
			return nil, err
		}
		// FTS5 rank is negative (lower = better), convert to positive score
		m.Score = -rank
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
