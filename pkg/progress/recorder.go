// Package progress publishes migration run progress for operators.
//
// Progress is observability only: nothing reads it back to resume a run.
// Recorder errors are reported to the caller, who is expected to log them
// and carry on.
package progress

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Start describes a run whose source fetch has completed.
type Start struct {
	RunID   string
	Entity  string
	Fetched int
	Batches int
}

// Batch describes one written batch.
type Batch struct {
	RunID  string
	Entity string
	// Index is the 0-based batch number.
	Index         int
	Count         int
	FirstPosition int
	LastPosition  int
	// Written is the cumulative number of records written so far in the run.
	Written  int
	Duration time.Duration
}

// Summary describes a finished run.
type Summary struct {
	RunID    string
	Entity   string
	Status   Status
	Fetched  int
	Batches  int
	Written  int
	Duration time.Duration
	Err      error
}

// Recorder receives run progress events.
type Recorder interface {
	Started(ctx context.Context, s Start) error
	BatchCompleted(ctx context.Context, b Batch) error
	Finished(ctx context.Context, s Summary) error
}

// LogRecorder writes progress events to a zerolog logger.
type LogRecorder struct {
	logger zerolog.Logger
}

// NewLogRecorder creates a recorder that logs through logger.
func NewLogRecorder(logger zerolog.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// Started implements Recorder.
func (r *LogRecorder) Started(_ context.Context, s Start) error {
	r.logger.Info().
		Str("run_id", s.RunID).
		Str("entity", s.Entity).
		Int("records", s.Fetched).
		Int("batches", s.Batches).
		Msg("Migration started")
	return nil
}

// BatchCompleted implements Recorder.
func (r *LogRecorder) BatchCompleted(_ context.Context, b Batch) error {
	r.logger.Info().
		Str("run_id", b.RunID).
		Str("entity", b.Entity).
		Int("batch", b.Index+1).
		Int("records", b.Count).
		Int("first_position", b.FirstPosition).
		Int("last_position", b.LastPosition).
		Int("written", b.Written).
		Dur("duration", b.Duration).
		Msg("Batch written")
	return nil
}

// Finished implements Recorder.
func (r *LogRecorder) Finished(_ context.Context, s Summary) error {
	event := r.logger.Info()
	msg := "Migration completed"
	if s.Status == StatusFailed {
		event = r.logger.Error().Err(s.Err)
		msg = "Migration failed"
	}

	event.
		Str("run_id", s.RunID).
		Str("entity", s.Entity).
		Int("fetched", s.Fetched).
		Int("batches", s.Batches).
		Int("written", s.Written).
		Dur("duration", s.Duration).
		Msg(msg)
	return nil
}

// Multi fans events out to several recorders. Every recorder is called even
// when an earlier one fails; the errors are joined.
type Multi []Recorder

// Started implements Recorder.
func (m Multi) Started(ctx context.Context, s Start) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.Started(ctx, s))
	}
	return errors.Join(errs...)
}

// BatchCompleted implements Recorder.
func (m Multi) BatchCompleted(ctx context.Context, b Batch) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.BatchCompleted(ctx, b))
	}
	return errors.Join(errs...)
}

// Finished implements Recorder.
func (m Multi) Finished(ctx context.Context, s Summary) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.Finished(ctx, s))
	}
	return errors.Join(errs...)
}
