package migration

import (
	"context"
	"time"

	"github.com/Sternrassler/crm-migrate/pkg/client"
	"github.com/Sternrassler/crm-migrate/pkg/crm"
	"github.com/Sternrassler/crm-migrate/pkg/destination"
	"github.com/Sternrassler/crm-migrate/pkg/metrics"
	"github.com/Sternrassler/crm-migrate/pkg/progress"
	"github.com/rs/zerolog"
)

// Defaults for batching.
const (
	DefaultBatchSize  = 50
	DefaultBatchDelay = 1 * time.Second
)

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Scheduler writes a record set in sequential fixed-size batches with a fixed
// pause after every batch.
type Scheduler struct {
	batchSize int
	delay     time.Duration
	sleep     SleepFunc
	recorder  progress.Recorder
	logger    zerolog.Logger
}

// batchTotals is what a scheduler run accomplished before returning.
type batchTotals struct {
	batches int
	written int
}

// Partition splits records into contiguous batches of size; the last batch
// may be shorter. The batches share the backing array of records.
func Partition[T any](records []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	batches := make([][]T, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		batches = append(batches, records[start:end:end])
	}
	return batches
}

// BatchCount returns the number of batches Partition produces.
func BatchCount(records, size int) int {
	if size < 1 {
		size = 1
	}
	return (records + size - 1) / size
}

// runBatches maps and writes records batch by batch. Position of the i-th
// record (0-based) is always i+1. The first failing write aborts the run;
// earlier batches stay written.
func runBatches[S, D any](
	ctx context.Context,
	s *Scheduler,
	runID string,
	entity crm.Entity[S, D],
	api client.Requester,
	records []S,
) (batchTotals, error) {
	var totals batchTotals
	logger := s.logger.With().Str("run_id", runID).Str("entity", entity.Name).Logger()

	for k, batch := range Partition(records, s.batchSize) {
		start := k * s.batchSize
		first, last := start+1, start+len(batch)

		mapped := make([]D, len(batch))
		for offset, rec := range batch {
			mapped[offset] = entity.Map(rec, start+offset+1)
		}

		batchStart := time.Now()
		err := destination.WriteBatch(ctx, api, entity.DestinationPath, mapped)
		elapsed := time.Since(batchStart)
		metrics.BatchDuration.WithLabelValues(entity.Name).Observe(elapsed.Seconds())

		if err != nil {
			metrics.BatchesTotal.WithLabelValues(entity.Name, "failed").Inc()
			migErr := &Error{
				Entity:        entity.Name,
				Stage:         StageWrite,
				Batch:         k + 1,
				FirstPosition: first,
				LastPosition:  last,
				Err:           err,
			}
			logger.Error().
				Err(err).
				Int("batch", k+1).
				Int("records", len(batch)).
				Int("first_position", first).
				Int("last_position", last).
				Int("status_code", migErr.StatusCode()).
				Int("written", totals.written).
				Msg("Batch write failed, aborting run")
			return totals, migErr
		}

		totals.batches++
		totals.written += len(batch)
		metrics.BatchesTotal.WithLabelValues(entity.Name, "ok").Inc()
		metrics.RecordsWritten.WithLabelValues(entity.Name).Add(float64(len(batch)))

		if err := s.recorder.BatchCompleted(ctx, progress.Batch{
			RunID:         runID,
			Entity:        entity.Name,
			Index:         k,
			Count:         len(batch),
			FirstPosition: first,
			LastPosition:  last,
			Written:       totals.written,
			Duration:      elapsed,
		}); err != nil {
			logger.Warn().Err(err).Int("batch", k+1).Msg("Failed to record batch progress")
		}

		if err := s.sleep(ctx, s.delay); err != nil {
			return totals, &Error{
				Entity:        entity.Name,
				Stage:         StagePace,
				Batch:         k + 1,
				FirstPosition: first,
				LastPosition:  last,
				Err:           err,
			}
		}
	}

	return totals, nil
}

// sleepContext is the default SleepFunc.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
