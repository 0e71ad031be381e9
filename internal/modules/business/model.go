package business

import (
	"time"

	"github.com/google/uuid"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// Business is a merchant account on the platform. It owns the POS
// connection; credentials live in the connect store keyed by this id.
type Business struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Country           string    `json:"country,omitempty"`
	DefaultLocationID string    `json:"default_location_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// LocationSnapshot is the last synced view of a vendor location for one
// business. Read-mostly; overwritten wholesale on sync.
type LocationSnapshot struct {
	BusinessID uuid.UUID    `json:"business_id"`
	Provider   pos.Provider `json:"provider"`
	LocationID string       `json:"location_id"`
	Name       string       `json:"name"`
	Address    string       `json:"address,omitempty"`
	Timezone   string       `json:"timezone,omitempty"`
	Currency   string       `json:"currency,omitempty"`
	Active     bool         `json:"active"`
	SyncedAt   time.Time    `json:"synced_at"`
}

// RegisterRequest creates a business record.
type RegisterRequest struct {
	Name    string `json:"name" validate:"required,min=2"`
	Country string `json:"country,omitempty" validate:"omitempty,iso3166_1_alpha2"`
}
