package boardscan

import (
	"errors"

	"github.com/felixgrant/boardscan/export"
	"github.com/felixgrant/boardscan/extract"
)

var (
	// ErrAuth is returned when the provider rejects the credential or the
	// model-listing call fails.
	ErrAuth = errors.New("boardscan: authentication failed")

	// ErrNoModels is returned when the credential is valid but grants no
	// content-generation-capable models.
	ErrNoModels = errors.New("boardscan: no usable models for this credential")

	// ErrStructure is returned when the stage-1 structure-detection call or
	// its JSON decode fails. The extraction call is never attempted after it.
	ErrStructure = extract.ErrStructure

	// ErrExtraction is returned when the final extraction call, decode, or
	// schema validation fails.
	ErrExtraction = extract.ErrExtraction

	// ErrPivotShape is returned when vote records cannot be pivoted into a
	// grid (duplicate or inconsistent keys). Always recoverable by rendering
	// the flat record list instead.
	ErrPivotShape = export.ErrPivotShape

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("boardscan: invalid configuration")

	// ErrStoreDisabled is returned when a history operation is requested but
	// no database path is configured.
	ErrStoreDisabled = errors.New("boardscan: batch history store not configured")

	// ErrBatchNotFound is returned when a batch ID does not exist in the
	// history store.
	ErrBatchNotFound = errors.New("boardscan: batch not found")
)
