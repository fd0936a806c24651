package boardscan

import (
	"os"
	"path/filepath"
)

// Config holds all configuration for the boardscan engine.
type Config struct {
	// Vision configures the multimodal provider that performs structure
	// detection and extraction. APIKey is required.
	Vision LLMConfig `json:"vision" yaml:"vision"`

	// Embedding optionally configures the provider used to embed extracted
	// note text for semantic search. Defaults to the Vision provider when
	// left empty.
	Embedding LLMConfig `json:"embedding" yaml:"embedding"`

	// DBPath is the full path to the SQLite history database. If empty and
	// DBName is also empty, batch history is disabled entirely and scans
	// leave no state behind.
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the history database (used when DBPath is
	// empty). The file will be <DBName>.db inside the storage directory.
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath is not
	// explicitly set. Options: "home" uses ~/.boardscan/, "local" uses the
	// current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// CooldownSeconds is how long a batch pauses after a rate-limit signal
	// before retrying the throttled image. Defaults to 60.
	CooldownSeconds int `json:"cooldown_seconds" yaml:"cooldown_seconds"`

	// EmbeddingDim must match the embedding model's output dimension.
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// LLMConfig configures a single provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // gemini, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// DefaultConfig returns a Config with sensible defaults. The Gemini API key
// still has to be supplied by the caller or the GEMINI_API_KEY environment
// variable before New will accept it.
func DefaultConfig() Config {
	return Config{
		Vision: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-1.5-pro",
		},
		Embedding: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-embedding-001",
		},
		CooldownSeconds: 60,
		EmbeddingDim:    768,
	}
}

// historyEnabled reports whether a batch history store should be opened.
func (c *Config) historyEnabled() bool {
	return c.DBPath != "" || c.DBName != ""
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "boardscan"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".boardscan")
		return filepath.Join(dir, name+".db")
	}
}
