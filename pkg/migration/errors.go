package migration

import (
	"errors"
	"fmt"

	"github.com/Sternrassler/crm-migrate/pkg/client"
)

// ErrUnknownEntity is returned by RunNamed for entity names without a descriptor.
var ErrUnknownEntity = errors.New("unknown entity")

// Stage names the pipeline step that failed.
type Stage string

const (
	StageFetch Stage = "fetch"
	StageWrite Stage = "write"
	// StagePace is the inter-batch delay; it only fails when ctx is cancelled.
	StagePace Stage = "pace"
)

// Error is the fatal error that aborted a run.
type Error struct {
	Entity string
	Stage  Stage
	// Batch is the 1-based batch number, 0 for StageFetch.
	Batch         int
	FirstPosition int
	LastPosition  int
	Err           error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Batch > 0 {
		return fmt.Sprintf("migrate %s: %s batch %d (positions %d-%d): %v",
			e.Entity, e.Stage, e.Batch, e.FirstPosition, e.LastPosition, e.Err)
	}
	return fmt.Sprintf("migrate %s: %s: %v", e.Entity, e.Stage, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status of the underlying API error, or 0.
func (e *Error) StatusCode() int {
	var httpErr *client.HTTPError
	if errors.As(e.Err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
