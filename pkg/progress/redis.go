package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key layout.
const (
	// KeyPrefix namespaces every key written by the recorder.
	KeyPrefix = "crm-migrate"

	// DefaultTTL bounds how long a run's progress stays visible.
	DefaultTTL = 7 * 24 * time.Hour
)

// Hash fields of a run key.
const (
	FieldEntity           = "entity"
	FieldStatus           = "status"
	FieldFetched          = "fetched"
	FieldBatchesTotal     = "batches_total"
	FieldBatchesCompleted = "batches_completed"
	FieldRecordsWritten   = "records_written"
	FieldLastPosition     = "last_position"
	FieldError            = "error"
	FieldUpdatedAt        = "updated_at"
)

// RunKey returns the hash key holding a run's progress.
func RunKey(runID string) string {
	return fmt.Sprintf("%s:run:%s", KeyPrefix, runID)
}

// LatestKey returns the key pointing at the most recent run of an entity.
func LatestKey(entity string) string {
	return fmt.Sprintf("%s:latest:%s", KeyPrefix, entity)
}

// RedisRecorder stores run progress in a Redis hash so operators can see
// how far a failed run got.
type RedisRecorder struct {
	redis *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

// NewRedisRecorder creates a recorder backed by redisClient. A non-positive
// ttl uses DefaultTTL.
func NewRedisRecorder(redisClient *redis.Client, ttl time.Duration) *RedisRecorder {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisRecorder{
		redis: redisClient,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Started implements Recorder.
func (r *RedisRecorder) Started(ctx context.Context, s Start) error {
	return r.write(ctx, s.RunID, map[string]any{
		FieldEntity:           s.Entity,
		FieldStatus:           string(StatusRunning),
		FieldFetched:          s.Fetched,
		FieldBatchesTotal:     s.Batches,
		FieldBatchesCompleted: 0,
		FieldRecordsWritten:   0,
		FieldLastPosition:     0,
	}, s.Entity)
}

// BatchCompleted implements Recorder.
func (r *RedisRecorder) BatchCompleted(ctx context.Context, b Batch) error {
	return r.write(ctx, b.RunID, map[string]any{
		FieldBatchesCompleted: b.Index + 1,
		FieldRecordsWritten:   b.Written,
		FieldLastPosition:     b.LastPosition,
	}, "")
}

// Finished implements Recorder.
func (r *RedisRecorder) Finished(ctx context.Context, s Summary) error {
	fields := map[string]any{
		FieldStatus:         string(s.Status),
		FieldRecordsWritten: s.Written,
	}
	if s.Err != nil {
		fields[FieldError] = s.Err.Error()
	}
	return r.write(ctx, s.RunID, fields, "")
}

// Get returns the stored progress hash for a run.
func (r *RedisRecorder) Get(ctx context.Context, runID string) (map[string]string, error) {
	values, err := r.redis.HGetAll(ctx, RunKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	return values, nil
}

// Latest returns the most recent run ID recorded for entity.
func (r *RedisRecorder) Latest(ctx context.Context, entity string) (string, error) {
	runID, err := r.redis.Get(ctx, LatestKey(entity)).Result()
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return runID, nil
}

func (r *RedisRecorder) write(ctx context.Context, runID string, fields map[string]any, latestEntity string) error {
	key := RunKey(runID)
	fields[FieldUpdatedAt] = r.now().UTC().Format(time.RFC3339)

	pipe := r.redis.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, r.ttl)
	if latestEntity != "" {
		pipe.Set(ctx, LatestKey(latestEntity), runID, r.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store progress in redis: %w", err)
	}
	return nil
}
