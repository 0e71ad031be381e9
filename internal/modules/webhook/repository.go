package webhook

import (
	"context"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// EventStore records which vendor event ids have been processed.
type EventStore interface {
	// MarkProcessed inserts the event id and reports whether this delivery
	// was the first one. Concurrent duplicate deliveries race on the same
	// row; exactly one caller sees first=true.
	MarkProcessed(ctx context.Context, provider pos.Provider, eventID, businessID string) (first bool, err error)
}
