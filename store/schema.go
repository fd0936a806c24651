package store

import "fmt"

// schemaSQL returns the DDL for the core tables. embeddingDim controls the
// vec0 virtual table dimension. The FTS5 index lives in ftsSchemaSQL so a
// binary built without the sqlite_fts5 tag can still open the store.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- One row per completed batch invocation
CREATE TABLE IF NOT EXISTS batches (
    id TEXT PRIMARY KEY,
    model TEXT NOT NULL,
    images INTEGER NOT NULL,
    failures JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Flat vote records, one per matrix cell per source image
CREATE TABLE IF NOT EXISTS votes (
    id INTEGER PRIMARY KEY,
    batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
    row_label TEXT NOT NULL,
    column_label TEXT NOT NULL,
    dot_count INTEGER NOT NULL,
    color_breakdown TEXT,
    source_file TEXT NOT NULL
);

-- Transcribed sticky notes
CREATE TABLE IF NOT EXISTS notes (
    id INTEGER PRIMARY KEY,
    batch_id TEXT NOT NULL REFERENCES batches(id) ON DELETE CASCADE,
    text TEXT NOT NULL,
    category_context TEXT,
    confidence INTEGER,
    source_file TEXT NOT NULL
);

-- Note embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_notes USING vec0(
    note_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

CREATE INDEX IF NOT EXISTS idx_votes_batch ON votes(batch_id);
CREATE INDEX IF NOT EXISTS idx_notes_batch ON notes(batch_id);
`, embeddingDim)
}

// ftsSchemaSQL is the full-text index over note text. It needs go-sqlite3
// compiled with the sqlite_fts5 build tag, so it is applied separately and
// the store downgrades to vector-only search when the exec fails.
const ftsSchemaSQL = `
CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
    text,
    category_context,
    content='notes',
    content_rowid='id',
    tokenize='porter unicode61'
);

-- FTS triggers to keep index in sync
CREATE TRIGGER IF NOT EXISTS notes_ai AFTER INSERT ON notes BEGIN
    INSERT INTO notes_fts(rowid, text, category_context) VALUES (new.id, new.text, new.category_context);
END;
CREATE TRIGGER IF NOT EXISTS notes_ad AFTER DELETE ON notes BEGIN
    INSERT INTO notes_fts(notes_fts, rowid, text, category_context) VALUES ('delete', old.id, old.text, old.category_context);
END;
CREATE TRIGGER IF NOT EXISTS notes_au AFTER UPDATE ON notes BEGIN
    INSERT INTO notes_fts(notes_fts, rowid, text, category_context) VALUES ('delete', old.id, old.text, old.category_context);
    INSERT INTO notes_fts(rowid, text, category_context) VALUES (new.id, new.text, new.category_context);
END;
`
