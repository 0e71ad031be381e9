package feedback

import (
	"time"

	"github.com/google/uuid"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// ClaimStatus represents the state of a purchase claim.
type ClaimStatus string

const (
	// ClaimMatched means exactly one vendor transaction matched; the claim
	// may proceed to feedback.
	ClaimMatched ClaimStatus = "MATCHED"
	// ClaimPendingReview means the match was ambiguous (several
	// equal-amount transactions in the window) and needs arbitration before
	// any reward.
	ClaimPendingReview ClaimStatus = "PENDING_REVIEW"
)

// Claim ties one customer-reported purchase to one vendor transaction. The
// (provider, external_tx_id) pair is unique in the store, which is what
// enforces "one feedback per transaction" even across concurrent claims.
type Claim struct {
	ID           uuid.UUID    `json:"id"`
	BusinessID   uuid.UUID    `json:"business_id"`
	Provider     pos.Provider `json:"provider"`
	ExternalTxID string       `json:"external_tx_id"`
	LocationID   string       `json:"location_id"`
	Amount       int64        `json:"amount"`
	Currency     string       `json:"currency"`
	Status       ClaimStatus  `json:"status"`
	Candidates   int          `json:"candidates"`
	PurchasedAt  time.Time    `json:"purchased_at"`
	MatchedAt    time.Time    `json:"matched_at"`
	CreatedAt    time.Time    `json:"created_at"`
}

// ClaimRequest is a customer-reported purchase. Amount is minor currency
// units; Timestamp is the customer's approximate purchase time.
type ClaimRequest struct {
	BusinessID       string    `json:"business_id" validate:"required,uuid4"`
	LocationID       string    `json:"location_id,omitempty"`
	Amount           int64     `json:"amount" validate:"required,gt=0"`
	Timestamp        time.Time `json:"timestamp" validate:"required"`
	ToleranceMinutes int       `json:"tolerance_minutes,omitempty" validate:"gte=0,lte=60"`
}
