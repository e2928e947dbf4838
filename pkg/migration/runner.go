// Package migration moves the records of one entity from the source CRM to
// the destination CRM: fetch everything, map, then write in sequential
// fixed-size batches.
//
// A run never writes concurrently and never retries on its own. The first
// fetch or write error aborts the run and is returned as *Error; batches
// written before the failure are not rolled back.
//
// Example usage:
//
//	runner, err := migration.New(cfg, migration.Options{})
//	if err != nil {
//		return err
//	}
//	result, err := migration.Run(ctx, runner, crm.Contacts())
package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/crm-migrate/pkg/client"
	"github.com/Sternrassler/crm-migrate/pkg/crm"
	"github.com/Sternrassler/crm-migrate/pkg/logging"
	"github.com/Sternrassler/crm-migrate/pkg/metrics"
	"github.com/Sternrassler/crm-migrate/pkg/progress"
	"github.com/Sternrassler/crm-migrate/pkg/source"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds everything needed to build a Runner with real API clients.
type Config struct {
	Source      client.Config
	Destination client.Config
	// Retry is layered over both clients; MaxAttempts <= 1 disables it.
	Retry      client.RetryConfig
	BatchSize  int
	BatchDelay time.Duration
}

// Options tunes a Runner. Zero values select defaults.
type Options struct {
	BatchSize  int
	BatchDelay time.Duration
	// Recorder receives progress events; defaults to a LogRecorder.
	Recorder progress.Recorder
	Logger   *zerolog.Logger
	// Sleep implements the inter-batch delay; defaults to a context-aware timer.
	Sleep SleepFunc
	// RunID generates run identifiers; defaults to random UUIDs.
	RunID func() string
}

// Runner executes migration runs. It holds no state between runs.
type Runner struct {
	source      client.Requester
	destination client.Requester
	scheduler   *Scheduler
	recorder    progress.Recorder
	logger      zerolog.Logger
	newRunID    func() string
}

// Result summarizes a run. On failure it reports what was done before the
// failing step.
type Result struct {
	RunID    string
	Entity   string
	Fetched  int
	Batches  int
	Written  int
	Duration time.Duration
}

// New builds the source and destination clients from cfg, each with its own
// rate budget, and returns a Runner using them.
func New(cfg Config, opts Options) (*Runner, error) {
	src, err := client.New(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("create source client: %w", err)
	}

	dst, err := client.New(cfg.Destination)
	if err != nil {
		return nil, fmt.Errorf("create destination client: %w", err)
	}

	if opts.BatchSize == 0 {
		opts.BatchSize = cfg.BatchSize
	}
	if opts.BatchDelay == 0 {
		opts.BatchDelay = cfg.BatchDelay
	}

	return NewWithClients(
		client.WithRetry(src, cfg.Retry),
		client.WithRetry(dst, cfg.Retry),
		opts,
	)
}

// NewWithClients returns a Runner using the given requesters.
func NewWithClients(src, dst client.Requester, opts Options) (*Runner, error) {
	if src == nil || dst == nil {
		return nil, fmt.Errorf("source and destination clients are required")
	}
	if opts.BatchSize < 0 {
		return nil, fmt.Errorf("batch size must be positive (got %d)", opts.BatchSize)
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchDelay < 0 {
		return nil, fmt.Errorf("batch delay must not be negative (got %s)", opts.BatchDelay)
	}
	if opts.BatchDelay == 0 {
		opts.BatchDelay = DefaultBatchDelay
	}

	logger := logging.NewLogger("migration")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.Recorder == nil {
		opts.Recorder = progress.NewLogRecorder(logger)
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.RunID == nil {
		opts.RunID = uuid.NewString
	}

	return &Runner{
		source:      src,
		destination: dst,
		scheduler: &Scheduler{
			batchSize: opts.BatchSize,
			delay:     opts.BatchDelay,
			sleep:     opts.Sleep,
			recorder:  opts.Recorder,
			logger:    logger,
		},
		recorder: opts.Recorder,
		logger:   logger,
		newRunID: opts.RunID,
	}, nil
}

// BatchSize returns the configured batch size.
func (r *Runner) BatchSize() int {
	return r.scheduler.batchSize
}

// Run migrates every record of entity. It returns a *Error for the first
// fatal failure.
func Run[S, D any](ctx context.Context, r *Runner, entity crm.Entity[S, D]) (Result, error) {
	start := time.Now()
	result := Result{
		RunID:  r.newRunID(),
		Entity: entity.Name,
	}
	logger := r.logger.With().Str("run_id", result.RunID).Str("entity", entity.Name).Logger()

	logger.Info().
		Str("source", entity.SourcePath).
		Str("destination", entity.DestinationPath).
		Int("batch_size", r.scheduler.batchSize).
		Msg("Fetching source records")

	records, err := source.FetchAll[S](ctx, r.source, entity.SourcePath, entity.RecordsField)
	if err != nil {
		migErr := &Error{Entity: entity.Name, Stage: StageFetch, Err: err}
		logger.Error().
			Err(err).
			Int("status_code", migErr.StatusCode()).
			Msg("Source fetch failed")
		result.Duration = time.Since(start)
		r.finish(ctx, logger, result, migErr)
		return result, migErr
	}

	result.Fetched = len(records)
	metrics.RecordsFetched.WithLabelValues(entity.Name).Add(float64(len(records)))

	if err := r.recorder.Started(ctx, progress.Start{
		RunID:   result.RunID,
		Entity:  entity.Name,
		Fetched: len(records),
		Batches: BatchCount(len(records), r.scheduler.batchSize),
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run start")
	}

	totals, err := runBatches(ctx, r.scheduler, result.RunID, entity, r.destination, records)
	result.Batches = totals.batches
	result.Written = totals.written
	result.Duration = time.Since(start)

	r.finish(ctx, logger, result, err)
	if err != nil {
		return result, err
	}
	return result, nil
}

// RunNamed runs the predefined entity called name.
func RunNamed(ctx context.Context, r *Runner, name string) (Result, error) {
	switch name {
	case crm.EntityContacts:
		return Run(ctx, r, crm.Contacts())
	case crm.EntityTasks:
		return Run(ctx, r, crm.Tasks(time.Now))
	default:
		return Result{Entity: name}, fmt.Errorf("%w: %q", ErrUnknownEntity, name)
	}
}

func (r *Runner) finish(ctx context.Context, logger zerolog.Logger, result Result, runErr error) {
	summary := progress.Summary{
		RunID:    result.RunID,
		Entity:   result.Entity,
		Status:   progress.StatusSucceeded,
		Fetched:  result.Fetched,
		Batches:  result.Batches,
		Written:  result.Written,
		Duration: result.Duration,
	}
	if runErr != nil {
		summary.Status = progress.StatusFailed
		summary.Err = runErr
	}

	if err := r.recorder.Finished(ctx, summary); err != nil {
		logger.Warn().Err(err).Msg("Failed to record run result")
	}
}
