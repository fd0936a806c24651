package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"time"

	"github.com/felixgrant/boardscan"
	"github.com/felixgrant/boardscan/batch"
	"github.com/felixgrant/boardscan/export"
)

// maxUploadBytes bounds a whole multipart request. Board photos run a few MB
// each; this leaves room for a sizeable batch.
const maxUploadBytes = 200 << 20

type handler struct {
	scanner boardscan.Scanner
}

func newHandler(s boardscan.Scanner) *handler {
	return &handler{scanner: s}
}

// POST /scan
// Accepts a single board photo as multipart field "image".
func (h *handler) handleScan(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart upload with 'image' field")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image field is required")
		return
	}
	defer file.Close()

	img, err := readImage(file, header)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.scanner.ScanImage(ctx, *img, scanOptions(r)...)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, boardscan.ErrStructure) || errors.Is(err, boardscan.ErrExtraction) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, "extraction failed")
		slog.Error("scan error", "file", img.Name, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /batch
// Accepts one or more board photos as repeated multipart field "images".
// Images are processed strictly in upload order.
func (h *handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Hour)
	defer cancel()

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart upload with 'images' fields")
		return
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File["images"]) == 0 {
		writeError(w, http.StatusBadRequest, "at least one 'images' file is required")
		return
	}

	var images []batch.Image
	for _, header := range r.MultipartForm.File["images"] {
		file, err := header.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
		img, err := readImage(file, header)
		file.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		images = append(images, *img)
	}

	agg, err := h.scanner.ScanBatch(ctx, images, scanOptions(r)...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "batch failed")
		slog.Error("batch error", "images", len(images), "error", err)
		return
	}

	writeJSON(w, http.StatusOK, agg)
}

// GET /models
func (h *handler) handleModels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	models, err := h.scanner.Models(ctx)
	if err != nil {
		switch {
		case errors.Is(err, boardscan.ErrAuth):
			writeError(w, http.StatusUnauthorized, "provider rejected credential")
		case errors.Is(err, boardscan.ErrNoModels):
			writeError(w, http.StatusForbidden, "credential grants no usable models")
		default:
			writeError(w, http.StatusBadGateway, "model listing failed")
		}
		slog.Error("models error", "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

// GET /batches
func (h *handler) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := h.scanner.ListBatches(r.Context())
	if err != nil {
		writeStoreError(w, err, "failed to list batches")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"batches": batches})
}

// GET /batches/{id}
func (h *handler) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.scanner.GetBatch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "failed to load batch")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GET /batches/{id}/export?format=votes|notes|xlsx
//
// votes renders the pivoted voting matrix; when the records do not pivot
// cleanly the flat list is returned instead, flagged by a notice header.
func (h *handler) handleExportBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.scanner.GetBatch(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err, "failed to load batch")
		return
	}

	var (
		data     []byte
		filename string
		mimeType = "text/csv"
	)

	switch format := r.URL.Query().Get("format"); format {
	case "votes", "":
		filename = export.VotesCSVName
		grid, perr := export.PivotVotes(b.Votes)
		if perr != nil {
			w.Header().Set("X-Boardscan-Notice", "grid_unavailable")
			data, err = export.VotesCSV(b.Votes)
		} else {
			data, err = export.GridCSV(grid)
		}
	case "notes":
		filename = export.NotesCSVName
		data, err = export.NotesCSV(b.Notes)
	case "xlsx":
		filename = export.WorkbookName
		mimeType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		data, err = export.Workbook(b.Votes, b.Notes)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown export format %q", format))
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, "export failed")
		slog.Error("export error", "batch_id", b.ID, "error", err)
		return
	}

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// DELETE /batches/{id}
func (h *handler) handleDeleteBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.scanner.DeleteBatch(r.Context(), r.PathValue("id")); err != nil {
		writeStoreError(w, err, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// POST /search
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	var req struct {
		Query string `json:"query"`
		K     int    `json:"k,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.K < 0 || req.K > 100 {
		req.K = 0 // use default
	}

	matches, err := h.scanner.SearchNotes(ctx, req.Query, req.K)
	if err != nil {
		writeStoreError(w, err, "search failed")
		slog.Error("search error", "query", req.Query, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"matches": matches})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// readImage drains one uploaded file into a batch image, rejecting anything
// that is not a JPEG or PNG by extension.
func readImage(file multipart.File, header *multipart.FileHeader) (*batch.Image, error) {
	name := filepath.Base(header.Filename)
	mimeType, ok := boardscan.ImageMIMEType(name)
	if !ok {
		return nil, fmt.Errorf("unsupported file type: %s (expected .jpg, .jpeg, or .png)", name)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s", name)
	}
	return &batch.Image{Name: name, Data: data, MIMEType: mimeType}, nil
}

// scanOptions maps request form values onto scan options.
func scanOptions(r *http.Request) []boardscan.ScanOption {
	var opts []boardscan.ScanOption
	if model := r.FormValue("model"); model != "" {
		opts = append(opts, boardscan.WithModel(model))
	}
	return opts
}

func writeStoreError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, boardscan.ErrStoreDisabled):
		writeError(w, http.StatusNotImplemented, "batch history is not configured")
	case errors.Is(err, boardscan.ErrBatchNotFound):
		writeError(w, http.StatusNotFound, "batch not found")
	default:
		writeError(w, http.StatusInternalServerError, msg)
		slog.Error(msg, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
