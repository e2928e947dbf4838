package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis creates a test Redis client.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}

	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedisRecorder_NilPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewRedisRecorder(nil) should panic")
		}
	}()
	NewRedisRecorder(nil, time.Hour)
}

func TestRedisRecorder_Lifecycle(t *testing.T) {
	client := setupTestRedis(t)
	r := NewRedisRecorder(client, time.Hour)
	ctx := context.Background()

	if err := r.Started(ctx, Start{RunID: "run-42", Entity: "contacts", Fetched: 120, Batches: 3}); err != nil {
		t.Fatalf("Started() error = %v", err)
	}
	if err := r.BatchCompleted(ctx, Batch{RunID: "run-42", Entity: "contacts", Index: 1, Count: 50, LastPosition: 100, Written: 100}); err != nil {
		t.Fatalf("BatchCompleted() error = %v", err)
	}
	if err := r.Finished(ctx, Summary{RunID: "run-42", Entity: "contacts", Status: StatusFailed, Written: 100, Err: errors.New("boom")}); err != nil {
		t.Fatalf("Finished() error = %v", err)
	}

	values, err := r.Get(ctx, "run-42")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	expected := map[string]string{
		FieldEntity:           "contacts",
		FieldStatus:           "failed",
		FieldFetched:          "120",
		FieldBatchesTotal:     "3",
		FieldBatchesCompleted: "2",
		FieldRecordsWritten:   "100",
		FieldLastPosition:     "100",
		FieldError:            "boom",
	}
	for field, want := range expected {
		if got := values[field]; got != want {
			t.Errorf("%s = %q, want %q", field, got, want)
		}
	}
	if values[FieldUpdatedAt] == "" {
		t.Error("updated_at should be set")
	}

	latest, err := r.Latest(ctx, "contacts")
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest != "run-42" {
		t.Errorf("Latest() = %q, want run-42", latest)
	}

	ttl, err := client.TTL(ctx, RunKey("run-42")).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v, want (0, 1h]", ttl)
	}
}
