// Package destination writes mapped records to the destination CRM.
package destination

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Sternrassler/crm-migrate/pkg/client"
)

// WriteBatch submits records in one bulk-create POST to path. The batch is
// treated as atomic: any error means the whole batch failed. No retry is
// attempted here.
func WriteBatch[D any](ctx context.Context, api client.Requester, path string, records []D) error {
	if _, err := api.Do(ctx, http.MethodPost, path, records); err != nil {
		return fmt.Errorf("write %d records to %s: %w", len(records), path, err)
	}
	return nil
}
