// Command crm-migrate copies contacts and tasks from the source CRM to the
// destination CRM.
//
// Configuration is read from an optional YAML file (-config or CONFIG_FILE)
// and environment variables. Entities run one after another in the order
// given; the first failed run stops the process.
//
// Exit codes: 0 on success, 1 when a run fails, 2 on invalid configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Sternrassler/crm-migrate/internal/config"
	"github.com/Sternrassler/crm-migrate/pkg/logging"
	"github.com/Sternrassler/crm-migrate/pkg/metrics"
	"github.com/Sternrassler/crm-migrate/pkg/migration"
	"github.com/Sternrassler/crm-migrate/pkg/progress"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitConfig  = 2
	pingTimeout = 3 * time.Second
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("crm-migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("CONFIG_FILE"), "path to a YAML configuration file")
	entities := fs.String("entities", "", "comma-separated entities to migrate, in order (default: ENTITIES or contacts,tasks)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	cfg, err := config.Load(*configPath, config.WithEntities(*entities))
	if err != nil {
		logger := logging.Setup(logging.Config{Level: logging.LevelInfo, Output: stderr})
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			for _, f := range cfgErr.Fields {
				logger.Error().Str("field", f.Field).Msg(f.Message)
			}
		}
		logger.Error().Err(err).Msg("Invalid configuration")
		return exitConfig
	}

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
		Output: stderr,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Warn().Err(err).Str("addr", cfg.MetricsAddr).Msg("Metrics server stopped")
			}
		}()
	}

	recorders := progress.Multi{progress.NewLogRecorder(logging.NewLogger("progress"))}
	if cfg.RedisURL != "" {
		redisClient, err := connectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, progress is only logged")
		} else {
			defer redisClient.Close()
			recorders = append(recorders, progress.NewRedisRecorder(redisClient, progress.DefaultTTL))
			logger.Info().Msg("Recording progress in Redis")
		}
	}

	runner, err := migration.New(cfg.Migration(), migration.Options{Recorder: recorders})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create migration runner")
		return exitConfig
	}

	invocation := uuid.NewString()
	code := migrate(ctx, logger, runner, cfg.Entities)

	if cfg.PushgatewayURL != "" {
		if err := metrics.Push(cfg.PushgatewayURL, invocation); err != nil {
			logger.Warn().Err(err).Msg("Failed to push metrics")
		}
	}
	return code
}

func migrate(ctx context.Context, logger zerolog.Logger, runner *migration.Runner, entities []string) int {
	for _, name := range entities {
		result, err := migration.RunNamed(ctx, runner, name)
		if err != nil {
			event := logger.Error().
				Err(err).
				Str("entity", name).
				Int("written", result.Written)
			var migErr *migration.Error
			if errors.As(err, &migErr) {
				event = event.Str("stage", string(migErr.Stage)).Int("status_code", migErr.StatusCode())
			}
			event.Msg("Migration failed")
			return exitFailed
		}

		logger.Info().
			Str("run_id", result.RunID).
			Str("entity", result.Entity).
			Int("fetched", result.Fetched).
			Int("written", result.Written).
			Int("batches", result.Batches).
			Dur("duration", result.Duration).
			Msg("Migration completed")
	}
	return exitOK
}

// connectRedis accepts a redis:// URL or a plain host:port address.
func connectRedis(ctx context.Context, target string) (*redis.Client, error) {
	opts := &redis.Options{Addr: target}
	if strings.Contains(target, "://") {
		parsed, err := redis.ParseURL(target)
		if err != nil {
			return nil, err
		}
		opts = parsed
	}

	redisClient := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		redisClient.Close()
		return nil, err
	}
	return redisClient, nil
}
