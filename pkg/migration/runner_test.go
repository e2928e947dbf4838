package migration

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/crm-migrate/internal/testutil"
	"github.com/Sternrassler/crm-migrate/pkg/client"
	"github.com/Sternrassler/crm-migrate/pkg/crm"
	"github.com/Sternrassler/crm-migrate/pkg/progress"
)

// memoryRecorder keeps progress events for assertions.
type memoryRecorder struct {
	mu       sync.Mutex
	starts   []progress.Start
	batches  []progress.Batch
	finishes []progress.Summary
	err      error
}

func (m *memoryRecorder) Started(_ context.Context, s progress.Start) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts = append(m.starts, s)
	return m.err
}

func (m *memoryRecorder) BatchCompleted(_ context.Context, b progress.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, b)
	return m.err
}

func (m *memoryRecorder) Finished(_ context.Context, s progress.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishes = append(m.finishes, s)
	return m.err
}

func newTestRunner(t *testing.T, src, dst client.Requester, batchSize int, sleeper *sleepRecorder, rec progress.Recorder) *Runner {
	t.Helper()
	r, err := NewWithClients(src, dst, Options{
		BatchSize: batchSize,
		Sleep:     sleeper.sleep,
		Recorder:  rec,
		Logger:    quietLogger(),
		RunID:     func() string { return "run-test" },
	})
	if err != nil {
		t.Fatalf("NewWithClients() error = %v", err)
	}
	return r
}

func TestRun_EmptySource(t *testing.T) {
	dst := &fakeDestination{}
	sleeper := &sleepRecorder{}
	rec := &memoryRecorder{}
	r := newTestRunner(t, &fakeSource{n: 0}, dst, 50, sleeper, rec)

	result, err := Run(context.Background(), r, testEntity())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if dst.calls() != 0 {
		t.Errorf("writer calls = %d, want 0", dst.calls())
	}
	if result.Batches != 0 || result.Written != 0 || result.Fetched != 0 {
		t.Errorf("result = %+v, want zero batches and records", result)
	}
	if len(sleeper.durations) != 0 {
		t.Errorf("delays = %v, want none", sleeper.durations)
	}
	if len(rec.finishes) != 1 || rec.finishes[0].Status != progress.StatusSucceeded {
		t.Errorf("finish events = %+v, want one succeeded", rec.finishes)
	}
}

func TestRun_120RecordsBatchSize50(t *testing.T) {
	dst := &fakeDestination{}
	sleeper := &sleepRecorder{}
	rec := &memoryRecorder{}
	r := newTestRunner(t, &fakeSource{n: 120}, dst, 50, sleeper, rec)

	result, err := Run(context.Background(), r, testEntity())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if dst.calls() != 3 {
		t.Fatalf("writer calls = %d, want 3", dst.calls())
	}
	sizes := []int{len(dst.batches[0]), len(dst.batches[1]), len(dst.batches[2])}
	if sizes[0] != 50 || sizes[1] != 50 || sizes[2] != 20 {
		t.Errorf("batch sizes = %v, want [50 50 20]", sizes)
	}
	for _, p := range dst.paths {
		if p != "POST /batch/widgets" {
			t.Errorf("write went to %q, want POST /batch/widgets", p)
		}
	}

	seen := make(map[int]int)
	for _, batch := range dst.batches {
		for _, rec := range batch {
			seen[rec.Position]++
		}
	}
	for pos := 1; pos <= 120; pos++ {
		if seen[pos] != 1 {
			t.Errorf("position %d assigned %d times, want 1", pos, seen[pos])
		}
	}
	if len(seen) != 120 {
		t.Errorf("distinct positions = %d, want 120", len(seen))
	}

	if len(sleeper.durations) != 3 {
		t.Errorf("inter-batch delays = %d, want 3", len(sleeper.durations))
	}
	for _, d := range sleeper.durations {
		if d != DefaultBatchDelay {
			t.Errorf("delay = %v, want %v", d, DefaultBatchDelay)
		}
	}

	if result.RunID != "run-test" || result.Fetched != 120 || result.Batches != 3 || result.Written != 120 {
		t.Errorf("result = %+v", result)
	}

	if len(rec.starts) != 1 || rec.starts[0].Batches != 3 || rec.starts[0].Fetched != 120 {
		t.Errorf("start events = %+v", rec.starts)
	}
	if len(rec.batches) != 3 {
		t.Fatalf("batch events = %d, want 3", len(rec.batches))
	}
	last := rec.batches[2]
	if last.Index != 2 || last.Count != 20 || last.FirstPosition != 101 || last.LastPosition != 120 || last.Written != 120 {
		t.Errorf("last batch event = %+v", last)
	}
}

func TestRun_WriteFailureAbortsRun(t *testing.T) {
	writeErr := &client.HTTPError{StatusCode: 500, Class: client.ErrorClassServer, Message: "internal error"}
	dst := &fakeDestination{failOn: 2, err: writeErr}
	sleeper := &sleepRecorder{}
	rec := &memoryRecorder{}
	r := newTestRunner(t, &fakeSource{n: 120}, dst, 50, sleeper, rec)

	result, err := Run(context.Background(), r, testEntity())

	var migErr *Error
	if !errors.As(err, &migErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if migErr.Stage != StageWrite || migErr.Batch != 2 {
		t.Errorf("stage/batch = %s/%d, want write/2", migErr.Stage, migErr.Batch)
	}
	if migErr.FirstPosition != 51 || migErr.LastPosition != 100 {
		t.Errorf("positions = %d-%d, want 51-100", migErr.FirstPosition, migErr.LastPosition)
	}
	if migErr.StatusCode() != 500 {
		t.Errorf("StatusCode() = %d, want 500", migErr.StatusCode())
	}

	var httpErr *client.HTTPError
	if !errors.As(err, &httpErr) {
		t.Error("errors.As should reach the underlying HTTPError")
	}

	if dst.calls() != 2 {
		t.Errorf("writer calls = %d, want 2", dst.calls())
	}
	if result.Written != 50 || result.Batches != 1 {
		t.Errorf("result = %+v, want 1 batch / 50 written before failure", result)
	}
	if len(sleeper.durations) != 1 {
		t.Errorf("delays = %d, want 1 (none after the failed batch)", len(sleeper.durations))
	}
	if len(rec.finishes) != 1 || rec.finishes[0].Status != progress.StatusFailed || rec.finishes[0].Err == nil {
		t.Errorf("finish events = %+v, want one failed", rec.finishes)
	}
}

func TestRun_FetchFailure(t *testing.T) {
	fetchErr := &client.HTTPError{StatusCode: 401, Class: client.ErrorClassClient, Message: "invalid token"}
	src := &fakeSource{err: fetchErr}
	dst := &fakeDestination{}
	sleeper := &sleepRecorder{}
	rec := &memoryRecorder{}
	r := newTestRunner(t, src, dst, 50, sleeper, rec)

	result, err := Run(context.Background(), r, testEntity())

	var migErr *Error
	if !errors.As(err, &migErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if migErr.Stage != StageFetch || migErr.Batch != 0 {
		t.Errorf("stage/batch = %s/%d, want fetch/0", migErr.Stage, migErr.Batch)
	}
	if migErr.StatusCode() != 401 {
		t.Errorf("StatusCode() = %d, want 401", migErr.StatusCode())
	}
	if dst.calls() != 0 {
		t.Errorf("writer calls = %d, want 0", dst.calls())
	}
	if src.calls != 1 {
		t.Errorf("source calls = %d, want 1", src.calls)
	}
	if len(rec.starts) != 0 {
		t.Errorf("start events = %d, want 0", len(rec.starts))
	}
	if len(rec.finishes) != 1 || rec.finishes[0].Status != progress.StatusFailed {
		t.Errorf("finish events = %+v", rec.finishes)
	}
	if result.Fetched != 0 || result.Written != 0 {
		t.Errorf("result = %+v", result)
	}
}

func TestRun_RecorderErrorsDoNotAbort(t *testing.T) {
	dst := &fakeDestination{}
	rec := &memoryRecorder{err: errors.New("redis down")}
	r := newTestRunner(t, &fakeSource{n: 3}, dst, 2, &sleepRecorder{}, rec)

	result, err := Run(context.Background(), r, testEntity())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Written != 3 || dst.calls() != 2 {
		t.Errorf("written = %d, calls = %d, want 3 and 2", result.Written, dst.calls())
	}
}

func TestRunNamed_Unknown(t *testing.T) {
	r := newTestRunner(t, &fakeSource{}, &fakeDestination{}, 10, &sleepRecorder{}, &memoryRecorder{})

	_, err := RunNamed(context.Background(), r, "deals")
	if !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("error = %v, want ErrUnknownEntity", err)
	}
}

func TestNewWithClients_Validation(t *testing.T) {
	if _, err := NewWithClients(nil, &fakeDestination{}, Options{}); err == nil {
		t.Error("Expected error for nil source")
	}
	if _, err := NewWithClients(&fakeSource{}, &fakeDestination{}, Options{BatchSize: -1}); err == nil {
		t.Error("Expected error for negative batch size")
	}

	r, err := NewWithClients(&fakeSource{}, &fakeDestination{}, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("NewWithClients() error = %v", err)
	}
	if r.BatchSize() != DefaultBatchSize {
		t.Errorf("BatchSize() = %d, want %d", r.BatchSize(), DefaultBatchSize)
	}
}

func TestError_Message(t *testing.T) {
	inner := errors.New("boom")

	fetch := &Error{Entity: "contacts", Stage: StageFetch, Err: inner}
	if got := fetch.Error(); got != "migrate contacts: fetch: boom" {
		t.Errorf("Error() = %q", got)
	}

	write := &Error{Entity: "tasks", Stage: StageWrite, Batch: 3, FirstPosition: 101, LastPosition: 150, Err: inner}
	if got := write.Error(); got != "migrate tasks: write batch 3 (positions 101-150): boom" {
		t.Errorf("Error() = %q", got)
	}
	if fetch.StatusCode() != 0 {
		t.Errorf("StatusCode() = %d, want 0 without HTTPError", fetch.StatusCode())
	}
}

// TestRunNamed_HTTP drives the full pipeline against mock source and
// destination servers with real rate-limited clients.
func TestRunNamed_HTTP(t *testing.T) {
	srcAPI := testutil.NewMockCRM()
	defer srcAPI.Close()
	dstAPI := testutil.NewMockCRM()
	defer dstAPI.Close()

	tasks := []crm.SourceTask{
		{ID: "1", Subject: "Call", Status: "Open", DueDate: "2024-05-01"},
		{ID: "2", Subject: "Email", Status: "Completed", DueDate: "2024-05-02T09:30:00Z"},
		{ID: "3", Subject: "Meet", Status: "In Progress", DueDate: "2024-05-03"},
	}
	if err := srcAPI.SetRecords("/crm/v2/Tasks", tasks); err != nil {
		t.Fatalf("SetRecords() error = %v", err)
	}
	dstAPI.SetResponse(http.MethodPost, "/batch/tasks", testutil.NewCreatedResponse())

	srcCfg := client.DefaultConfig("source", srcAPI.URL(), "src-key")
	srcCfg.AuthScheme = "Zoho-oauthtoken"
	srcCfg.RateLimit = 50
	dstCfg := client.DefaultConfig("destination", dstAPI.URL(), "dst-key")
	dstCfg.RateLimit = 50

	r, err := New(Config{
		Source:      srcCfg,
		Destination: dstCfg,
		BatchSize:   2,
		BatchDelay:  time.Millisecond,
	}, Options{Logger: quietLogger(), Recorder: &memoryRecorder{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	result, err := RunNamed(context.Background(), r, crm.EntityTasks)
	if err != nil {
		t.Fatalf("RunNamed() error = %v", err)
	}
	if result.Written != 3 || result.Batches != 2 {
		t.Errorf("result = %+v", result)
	}

	if got := srcAPI.Requests()[0].Header.Get("Authorization"); got != "Zoho-oauthtoken src-key" {
		t.Errorf("source Authorization = %q", got)
	}

	writes := dstAPI.RequestsTo(http.MethodPost, "/batch/tasks")
	if len(writes) != 2 {
		t.Fatalf("destination writes = %d, want 2", len(writes))
	}

	var second []crm.Task
	if err := json.Unmarshal(writes[1].Body, &second); err != nil {
		t.Fatalf("unmarshal second batch: %v", err)
	}
	want := crm.Task{Title: "Meet", Status: crm.TaskStatusInProgress, DueAt: "2024-05-03T00:00:00.000Z", Position: 3}
	if len(second) != 1 || second[0] != want {
		t.Errorf("second batch = %+v, want [%+v]", second, want)
	}
}

func TestNew_InvalidClientConfig(t *testing.T) {
	_, err := New(Config{
		Source:      client.DefaultConfig("source", "", "key"),
		Destination: client.DefaultConfig("destination", "http://localhost", "key"),
	}, Options{})
	if err == nil {
		t.Error("Expected error for missing source base url")
	}
}
