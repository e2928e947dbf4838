// Package source reads the full record set of one entity from the source CRM.
//
// A fetch is a single GET: the source's pagination (if any) is not followed,
// so only the records returned in the first response are migrated.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Sternrassler/crm-migrate/pkg/client"
	"github.com/rs/zerolog/log"
)

// ErrRecordsNotArray is returned when the records field is missing or is not a JSON array.
var ErrRecordsNotArray = errors.New("records field is not an array")

// FetchAll performs one authenticated GET against path and decodes the array
// held in the top-level field of the response object. An empty response body
// (204 No Content) and an empty array both yield zero records.
func FetchAll[S any](ctx context.Context, api client.Requester, path, field string) ([]S, error) {
	start := time.Now()

	resp, err := api.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}

	records, err := decodeRecords[S](resp.Body, field)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	log.Info().
		Str("component", "source-reader").
		Str("endpoint", path).
		Int("records", len(records)).
		Dur("duration", time.Since(start)).
		Msg("Fetched source records")

	return records, nil
}

func decodeRecords[S any](body []byte, field string) ([]S, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return []S{}, nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parse response object: %w", err)
	}

	raw, ok := envelope[field]
	raw = bytes.TrimSpace(raw)
	if !ok || len(raw) == 0 || raw[0] != '[' {
		return nil, fmt.Errorf("%w: %q", ErrRecordsNotArray, field)
	}

	records := []S{}
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("parse %q records: %w", field, err)
	}
	return records, nil
}
