package pos

import (
	"time"
)

// Provider identifies a supported POS vendor.
type Provider string

const (
	ProviderSquare  Provider = "SQUARE"
	ProviderShopify Provider = "SHOPIFY"
	ProviderZettle  Provider = "ZETTLE"
)

// TxStatus represents the canonical state of a vendor transaction.
type TxStatus string

const (
	TxPending   TxStatus = "PENDING"
	TxCompleted TxStatus = "COMPLETED"
	TxRefunded  TxStatus = "REFUNDED"
	TxCancelled TxStatus = "CANCELLED"
)

// PaymentMethod represents how a transaction was paid, as far as the
// vendor's gateway identifiers let us tell.
type PaymentMethod string

const (
	PaymentCard     PaymentMethod = "CARD"
	PaymentCash     PaymentMethod = "CASH"
	PaymentGiftCard PaymentMethod = "GIFT_CARD"
	PaymentOther    PaymentMethod = "OTHER"
)

// Transaction is the vendor-neutral representation of a purchase.
// Amount is in minor currency units (öre, cents). The (Provider, ExternalID)
// pair is unique; ID is derived from it.
type Transaction struct {
	ID            string                 `json:"id"`
	Provider      Provider               `json:"provider"`
	ExternalID    string                 `json:"external_id"`
	LocationID    string                 `json:"location_id"`
	Amount        int64                  `json:"amount"`
	Currency      string                 `json:"currency"`
	Status        TxStatus               `json:"status"`
	PaymentMethod PaymentMethod          `json:"payment_method"`
	CustomerID    string                 `json:"customer_id,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// TransactionID builds the canonical id for a vendor transaction.
func TransactionID(provider Provider, externalID string) string {
	return string(provider) + ":" + externalID
}

// Location is a vendor store/location snapshot. Read-mostly; refreshed on sync.
type Location struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Address  string `json:"address,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Currency string `json:"currency,omitempty"`
	Active   bool   `json:"active"`
}

// WebhookSubscription is the canonical shape of a vendor webhook registration.
type WebhookSubscription struct {
	ID         string                 `json:"id"`
	Provider   Provider               `json:"provider"`
	TargetURL  string                 `json:"target_url"`
	EventTypes []string               `json:"event_types"`
	Active     bool                   `json:"active"`
	CreatedAt  time.Time              `json:"created_at,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Credentials holds everything an adapter needs to talk to one vendor
// account. Only the fields relevant to the provider are populated. Owned by
// the business configuration; mutated only by the OAuth exchange flow.
type Credentials struct {
	Provider      Provider   `json:"provider"`
	AccessToken   string     `json:"access_token"`
	RefreshToken  string     `json:"refresh_token,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ShopDomain    string     `json:"shop_domain,omitempty"` // Shopify
	MerchantID    string     `json:"merchant_id,omitempty"` // Square
	WebhookSecret string     `json:"webhook_secret,omitempty"`
}

// EventType classifies a webhook event after normalization.
type EventType string

const (
	EventTransactionCreated EventType = "TRANSACTION_CREATED"
	EventTransactionUpdated EventType = "TRANSACTION_UPDATED"
	EventRefundCreated      EventType = "REFUND_CREATED"
	EventLocationUpdated    EventType = "LOCATION_UPDATED"
	EventUnknown            EventType = "UNKNOWN"
)

// Event is a verified, normalized vendor webhook event.
type Event struct {
	ID          string                 `json:"id"`
	Provider    Provider               `json:"provider"`
	Type        EventType              `json:"type"`
	ExternalID  string                 `json:"external_id,omitempty"` // subject transaction/location id
	Transaction *Transaction           `json:"transaction,omitempty"`
	OccurredAt  time.Time              `json:"occurred_at"`
	Raw         map[string]interface{} `json:"raw,omitempty"`
}

// TransactionQuery bounds a vendor transaction history search.
type TransactionQuery struct {
	LocationID string
	Begin      time.Time
	End        time.Time
	Limit      int
}

// MatchResult is the outcome of a tolerance-window lookup. Ambiguous is set
// when more than one transaction matched the claimed amount inside the
// window; the returned transaction is then the closest in time and must not
// be auto-approved.
type MatchResult struct {
	Transaction *Transaction `json:"transaction"`
	Ambiguous   bool         `json:"ambiguous"`
	Candidates  int          `json:"candidates"`
}

// ConnectionStatus is what TestConnection reports. It never carries a Go
// error; recoverable failures land in Error so interactive setup flows can
// render them.
type ConnectionStatus struct {
	Connected  bool         `json:"connected"`
	MerchantID string       `json:"merchant_id,omitempty"`
	Locations  int          `json:"locations,omitempty"`
	Error      *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail is the structured error shape surfaced to callers and UIs.
type ErrorDetail struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// OAuthStart is the result of GenerateAuthURL.
type OAuthStart struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

// ── capabilities ──────────────────────────────────────────────────────────────

// Capability names an optional adapter operation group.
type Capability string

const (
	CapTransactions Capability = "transactions"
	CapWebhooks     Capability = "webhooks"
	CapLocations    Capability = "locations"
	CapOAuth        Capability = "oauth"
	CapRefresh      Capability = "refresh"
	CapRefunds      Capability = "refunds"
)

// CapabilitySet is the set of operations a vendor integration supports.
// Callers check capabilities before invoking an operation instead of
// relying on error handling.
type CapabilitySet map[Capability]bool

// Has reports whether the capability is present.
func (c CapabilitySet) Has(cap Capability) bool { return c[cap] }

// NewCapabilitySet builds a set from the listed capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = true
	}
	return s
}
