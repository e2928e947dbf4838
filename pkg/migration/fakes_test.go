package migration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Sternrassler/crm-migrate/pkg/client"
	"github.com/Sternrassler/crm-migrate/pkg/crm"
	"github.com/rs/zerolog"
)

type srcRecord struct {
	ID string `json:"id"`
}

type dstRecord struct {
	SourceID string `json:"sourceId"`
	Position int    `json:"position"`
}

func testEntity() crm.Entity[srcRecord, dstRecord] {
	return crm.Entity[srcRecord, dstRecord]{
		Name:            "widgets",
		SourcePath:      "/crm/v2/Widgets",
		DestinationPath: "/batch/widgets",
		RecordsField:    "data",
		Map: func(src srcRecord, position int) dstRecord {
			return dstRecord{SourceID: src.ID, Position: position}
		},
	}
}

// fakeSource serves n records with IDs "r1".."rn", or fails with err.
type fakeSource struct {
	n     int
	err   error
	calls int
}

func (f *fakeSource) Do(ctx context.Context, method, path string, body any) (*client.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	records := make([]srcRecord, f.n)
	for i := range records {
		records[i] = srcRecord{ID: fmt.Sprintf("r%d", i+1)}
	}
	data, err := json.Marshal(map[string]any{"data": records})
	if err != nil {
		return nil, err
	}
	return &client.Response{StatusCode: http.StatusOK, Body: data}, nil
}

// fakeDestination records every batch it receives and fails on call failOn (1-based).
type fakeDestination struct {
	mu      sync.Mutex
	batches [][]dstRecord
	paths   []string
	failOn  int
	err     error
}

func (f *fakeDestination) Do(ctx context.Context, method, path string, body any) (*client.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch, _ := body.([]dstRecord)
	f.batches = append(f.batches, batch)
	f.paths = append(f.paths, method+" "+path)

	if f.failOn > 0 && len(f.batches) == f.failOn {
		return nil, f.err
	}
	return &client.Response{StatusCode: http.StatusCreated}, nil
}

func (f *fakeDestination) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// sleepRecorder captures inter-batch delays instead of sleeping.
type sleepRecorder struct {
	durations []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.durations = append(s.durations, d)
	return ctx.Err()
}

func quietLogger() *zerolog.Logger {
	l := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return &l
}
