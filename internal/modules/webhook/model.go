package webhook

import (
	"time"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// ProcessedEvent marks one vendor event id as handled. Vendors redeliver on
// non-2xx responses; the (provider, event_id) row makes redelivery a no-op.
type ProcessedEvent struct {
	Provider   pos.Provider `json:"provider"`
	EventID    string       `json:"event_id"`
	BusinessID string       `json:"business_id"`
	ReceivedAt time.Time    `json:"received_at"`
}

// IngestResult tells the HTTP layer what happened to a delivery.
type IngestResult struct {
	Accepted  bool       `json:"accepted"`
	Duplicate bool       `json:"duplicate"`
	Event     *pos.Event `json:"event,omitempty"`
}

// CreateSubscriptionRequest registers a vendor webhook for a business.
type CreateSubscriptionRequest struct {
	TargetURL  string   `json:"target_url" validate:"required,url"`
	EventTypes []string `json:"event_types" validate:"required,min=1"`
}
