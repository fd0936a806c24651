// Command boardscan extracts voting data and sticky-note text from a
// directory of workshop board photos.
//
// Usage:
//
//	go run -tags "cgo sqlite_fts5" ./cmd/boardscan \
//	  --dir ./photos \
//	  --model gemini-1.5-pro \
//	  --out ./results
//
// The sqlite_fts5 tag compiles FTS5 into go-sqlite3 for text search over the
// history database. Without it history still works but text search is off.
//
// List the models available to the configured credential:
//
//	boardscan --list-models
//
// Run against a local OpenAI-compatible server:
//
//	boardscan --dir ./photos \
//	  --provider custom --base-url http://localhost:11434 \
//	  --model llava:13b
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/felixgrant/boardscan"
	"github.com/felixgrant/boardscan/batch"
	"github.com/felixgrant/boardscan/export"
)

func main() {
	var (
		dir        = flag.String("dir", "", "Directory of board photos (.jpg, .jpeg, .png)")
		outDir     = flag.String("out", ".", "Directory to write result files into")
		provider   = flag.String("provider", "gemini", "Vision provider: gemini, custom")
		model      = flag.String("model", "", "Vision model name (default: configured default)")
		baseURL    = flag.String("base-url", "", "Provider base URL override")
		apiKey     = flag.String("api-key", "", "Provider API key (default: $GEMINI_API_KEY)")
		dbPath     = flag.String("db", "", "SQLite history database path (empty disables history)")
		cooldown   = flag.Int("cooldown", 60, "Seconds to pause after a rate-limit signal")
		listModels = flag.Bool("list-models", false, "List usable models for the credential and exit")
		verbose    = flag.Bool("verbose", false, "Enable debug logging")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := boardscan.DefaultConfig()
	cfg.Vision.Provider = *provider
	cfg.Vision.BaseURL = *baseURL
	cfg.Vision.APIKey = *apiKey
	cfg.CooldownSeconds = *cooldown
	cfg.DBPath = *dbPath
	if *model != "" {
		cfg.Vision.Model = *model
	}
	if cfg.Vision.APIKey == "" {
		cfg.Vision.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	scanner, err := boardscan.New(cfg)
	if err != nil {
		log.Fatalf("creating scanner: %v", err)
	}
	defer scanner.Close()

	ctx := context.Background()

	if *listModels {
		models, err := scanner.Models(ctx)
		if err != nil {
			log.Fatalf("listing models: %v", err)
		}
		for _, m := range models {
			fmt.Println(m)
		}
		return
	}

	if *dir == "" {
		log.Fatal("--dir is required (or use --list-models)")
	}

	images, err := loadImages(*dir)
	if err != nil {
		log.Fatalf("reading photos: %v", err)
	}
	if len(images) == 0 {
		log.Fatalf("no .jpg, .jpeg, or .png files in %s", *dir)
	}
	fmt.Fprintf(os.Stderr, "Processing %d photos from %s\n", len(images), *dir)

	start := time.Now()
	agg, err := scanner.ScanBatch(ctx, images,
		boardscan.WithModel(cfg.Vision.Model),
		boardscan.WithProgress(progressPrinter()),
	)
	if err != nil {
		log.Fatalf("batch failed: %v", err)
	}
	fmt.Fprintf(os.Stderr, "\nDone in %s: %d votes, %d notes, %d failures\n",
		time.Since(start).Round(time.Second), len(agg.Votes), len(agg.Notes), len(agg.Failures))
	for _, f := range agg.Failures {
		fmt.Fprintf(os.Stderr, "  FAILED %s (%s): %s\n", f.SourceFile, f.Stage, f.Message)
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("creating output directory: %v", err)
	}
	if err := writeArtifacts(*outDir, agg); err != nil {
		log.Fatalf("writing results: %v", err)
	}
}

// loadImages reads every supported photo in dir, sorted by filename so runs
// are deterministic.
func loadImages(dir string) ([]batch.Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var images []batch.Image
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		mimeType, ok := boardscan.ImageMIMEType(entry.Name())
		if !ok {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		images = append(images, batch.Image{Name: entry.Name(), Data: data, MIMEType: mimeType})
	}

	sort.Slice(images, func(i, j int) bool { return images[i].Name < images[j].Name })
	return images, nil
}

// progressPrinter renders batch progress as a single rewriting stderr line.
// A negative fraction keeps the last percentage, which is how cooldown
// countdowns are reported.
func progressPrinter() batch.ProgressFunc {
	last := 0.0
	return func(fraction float64, stage string) {
		if fraction >= 0 {
			last = fraction
		}
		fmt.Fprintf(os.Stderr, "\r\033[K[%3.0f%%] %s", last*100, stage)
	}
}

// writeArtifacts renders the three result files: the voting matrix, the
// master notes CSV aggregated across every photo, and the Excel workbook.
// The voting matrix is written as a pivoted grid when the records allow it,
// and as the flat record list otherwise.
func writeArtifacts(outDir string, agg *batch.Aggregate) error {
	votesPath := filepath.Join(outDir, export.VotesCSVName)
	grid, err := export.PivotVotes(agg.Votes)
	var votesData []byte
	if err != nil {
		fmt.Fprintf(os.Stderr, "grid unavailable (%v), writing flat vote list\n", err)
		votesData, err = export.VotesCSV(agg.Votes)
	} else {
		votesData, err = export.GridCSV(grid)
	}
	if err != nil {
		return fmt.Errorf("rendering votes: %w", err)
	}
	if err := os.WriteFile(votesPath, votesData, 0644); err != nil {
		return err
	}

	notesData, err := export.NotesCSV(agg.Notes)
	if err != nil {
		return fmt.Errorf("rendering notes: %w", err)
	}
	notesPath := filepath.Join(outDir, export.MasterNotesName)
	if err := os.WriteFile(notesPath, notesData, 0644); err != nil {
		return err
	}

	wbData, err := export.Workbook(agg.Votes, agg.Notes)
	if err != nil {
		return fmt.Errorf("rendering workbook: %w", err)
	}
	wbPath := filepath.Join(outDir, export.WorkbookName)
	if err := os.WriteFile(wbPath, wbData, 0644); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Wrote:\n  %s\n  %s\n  %s\n", votesPath, notesPath, wbPath)
	return nil
}
