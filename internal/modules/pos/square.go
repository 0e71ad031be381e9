package pos

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	squareBaseURL    = "https://connect.squareup.com"
	squareAPIVersion = "2024-01-18"
)

var squareDefaultScopes = []string{"PAYMENTS_READ", "MERCHANT_PROFILE_READ", "ORDERS_READ"}

// squareAdapter integrates the Square Payments API.
type squareAdapter struct {
	baseAdapter
	appID     string
	appSecret string
	baseURL   string
	client    *restClient
}

// NewSquareFactory returns a factory producing Square adapters bound to one
// application's OAuth client.
func NewSquareFactory(appID, appSecret string) Factory {
	return func() Adapter {
		return &squareAdapter{
			baseAdapter: baseAdapter{provider: ProviderSquare},
			appID:       appID,
			appSecret:   appSecret,
			baseURL:     squareBaseURL,
		}
	}
}

func (a *squareAdapter) Capabilities() CapabilitySet {
	return NewCapabilitySet(CapTransactions, CapWebhooks, CapLocations, CapOAuth, CapRefresh, CapRefunds)
}

func (a *squareAdapter) Initialize(ctx context.Context, creds Credentials) error {
	if creds.AccessToken == "" {
		return ErrConnectionValidation(ProviderSquare, fmt.Errorf("missing access token"))
	}
	a.client = a.newClient(creds.AccessToken)
	a.setInitialized(creds)
	return nil
}

func (a *squareAdapter) newClient(token string) *restClient {
	return newRESTClient(ProviderSquare, a.baseURL, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Square-Version", squareAPIVersion)
	})
}

func (a *squareAdapter) TestConnection(ctx context.Context, creds Credentials) ConnectionStatus {
	if creds.AccessToken == "" {
		return ConnectionStatus{Error: &ErrorDetail{Code: CodeConnectionValidationFailed, Message: "missing access token"}}
	}
	client := a.newClient(creds.AccessToken)
	var resp struct {
		Locations []squareLocation `json:"locations"`
	}
	if err := client.do(ctx, http.MethodGet, "/v2/locations", nil, nil, &resp); err != nil {
		return ConnectionStatus{Error: AsDetail(ErrConnectionValidation(ProviderSquare, err))}
	}
	a.markValidated()
	return ConnectionStatus{Connected: true, MerchantID: creds.MerchantID, Locations: len(resp.Locations)}
}

// ── OAuth ─────────────────────────────────────────────────────────────────────

func (a *squareAdapter) GenerateAuthURL(redirectURI, state string, scopes []string) (string, error) {
	q := url.Values{}
	q.Set("client_id", a.appID)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(unionScopes(squareDefaultScopes, scopes), " "))
	q.Set("state", state)
	q.Set("redirect_uri", redirectURI)
	return a.baseURL + "/oauth2/authorize?" + q.Encode(), nil
}

func (a *squareAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*Credentials, error) {
	client := newRESTClient(ProviderSquare, a.baseURL, nil)
	body := map[string]string{
		"client_id":     a.appID,
		"client_secret": a.appSecret,
		"code":          code,
		"grant_type":    "authorization_code",
		"redirect_uri":  redirectURI,
	}
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    string `json:"expires_at"`
		MerchantID   string `json:"merchant_id"`
	}
	if err := client.do(ctx, http.MethodPost, "/oauth2/token", nil, body, &resp); err != nil {
		return nil, ErrTokenExchange(ProviderSquare, err)
	}
	creds := &Credentials{
		Provider:     ProviderSquare,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		MerchantID:   resp.MerchantID,
	}
	if t, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
		creds.ExpiresAt = &t
	}
	return creds, nil
}

func (a *squareAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Credentials, error) {
	client := newRESTClient(ProviderSquare, a.baseURL, nil)
	body := map[string]string{
		"client_id":     a.appID,
		"client_secret": a.appSecret,
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	}
	var resp struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresAt    string `json:"expires_at"`
		MerchantID   string `json:"merchant_id"`
	}
	if err := client.do(ctx, http.MethodPost, "/oauth2/token", nil, body, &resp); err != nil {
		return nil, ErrTokenExchange(ProviderSquare, err)
	}
	creds := &Credentials{
		Provider:     ProviderSquare,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		MerchantID:   resp.MerchantID,
	}
	if t, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
		creds.ExpiresAt = &t
	}
	return creds, nil
}

// ── locations & transactions ──────────────────────────────────────────────────

type squareLocation struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Timezone string `json:"timezone"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Address  struct {
		AddressLine1 string `json:"address_line_1"`
		Locality     string `json:"locality"`
	} `json:"address"`
}

func (a *squareAdapter) ListLocations(ctx context.Context) ([]*Location, error) {
	if err := a.requireInitialized(); err != nil {
		return nil, err
	}
	var resp struct {
		Locations []squareLocation `json:"locations"`
	}
	if err := a.client.do(ctx, http.MethodGet, "/v2/locations", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]*Location, 0, len(resp.Locations))
	for _, l := range resp.Locations {
		addr := l.Address.AddressLine1
		if l.Address.Locality != "" {
			addr = strings.TrimPrefix(addr+", "+l.Address.Locality, ", ")
		}
		out = append(out, &Location{
			ID:       l.ID,
			Name:     l.Name,
			Address:  addr,
			Timezone: l.Timezone,
			Currency: l.Currency,
			Active:   l.Status == "ACTIVE",
		})
	}
	return out, nil
}

func (a *squareAdapter) GetTransaction(ctx context.Context, externalID string) (*Transaction, error) {
	if err := a.requireInitialized(); err != nil {
		return nil, err
	}
	var resp struct {
		Payment squarePayment `json:"payment"`
	}
	if err := a.client.do(ctx, http.MethodGet, "/v2/payments/"+url.PathEscape(externalID), nil, nil, &resp); err != nil {
		return nil, err
	}
	return normalizeSquarePayment(resp.Payment), nil
}

func (a *squareAdapter) SearchTransactions(ctx context.Context, q TransactionQuery) ([]*Transaction, error) {
	if err := a.requireInitialized(); err != nil {
		return nil, err
	}
	var out []*Transaction
	cursor := ""
	for {
		params := url.Values{}
		params.Set("location_id", q.LocationID)
		params.Set("begin_time", q.Begin.UTC().Format(time.RFC3339))
		params.Set("end_time", q.End.UTC().Format(time.RFC3339))
		params.Set("sort_order", "ASC")
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var resp struct {
			Payments []squarePayment `json:"payments"`
			Cursor   string          `json:"cursor"`
		}
		if err := a.client.do(ctx, http.MethodGet, "/v2/payments", params, nil, &resp); err != nil {
			return nil, err
		}
		for _, p := range resp.Payments {
			out = append(out, normalizeSquarePayment(p))
		}
		if resp.Cursor == "" || (q.Limit > 0 && len(out) >= q.Limit) {
			break
		}
		cursor = resp.Cursor
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// ── normalization ─────────────────────────────────────────────────────────────

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squarePayment struct {
	ID            string       `json:"id"`
	LocationID    string       `json:"location_id"`
	OrderID       string       `json:"order_id"`
	CustomerID    string       `json:"customer_id"`
	Status        string       `json:"status"`
	SourceType    string       `json:"source_type"`
	AmountMoney   squareMoney  `json:"amount_money"`
	RefundedMoney *squareMoney `json:"refunded_money"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	RefundIDs     []string     `json:"refund_ids"`
}

// normalizeSquarePayment maps a Square payment onto the canonical
// transaction. Pure; no I/O beyond the unknown-status warning log.
func normalizeSquarePayment(p squarePayment) *Transaction {
	status := squareStatus(p.Status)
	// Square keeps status COMPLETED after a refund; the refunded money tells.
	if status == TxCompleted && p.RefundedMoney != nil && p.RefundedMoney.Amount > 0 {
		status = TxRefunded
	}

	amount := p.AmountMoney.Amount
	if amount < 0 {
		amount = 0
	}

	meta := map[string]interface{}{
		"in_store": p.LocationID != "",
	}
	if p.OrderID != "" {
		meta["order_id"] = p.OrderID
	}
	if len(p.RefundIDs) > 0 {
		meta["refund_ids"] = p.RefundIDs
	}

	return &Transaction{
		ID:            TransactionID(ProviderSquare, p.ID),
		Provider:      ProviderSquare,
		ExternalID:    p.ID,
		LocationID:    p.LocationID,
		Amount:        amount,
		Currency:      p.AmountMoney.Currency,
		Status:        status,
		PaymentMethod: squarePaymentMethod(p.SourceType),
		CustomerID:    p.CustomerID,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		Metadata:      meta,
	}
}

func squareStatus(s string) TxStatus {
	switch s {
	case "COMPLETED":
		return TxCompleted
	case "APPROVED", "PENDING":
		return TxPending
	case "CANCELED", "FAILED":
		return TxCancelled
	default:
		logrus.WithFields(logrus.Fields{"provider": ProviderSquare, "status": s}).
			Warn("unrecognized vendor transaction status")
		return TxPending
	}
}

func squarePaymentMethod(sourceType string) PaymentMethod {
	switch sourceType {
	case "CARD", "BANK_ACCOUNT", "WALLET", "BUY_NOW_PAY_LATER":
		return PaymentCard
	case "CASH":
		return PaymentCash
	case "SQUARE_GIFT_CARD", "GIFT_CARD":
		return PaymentGiftCard
	default:
		return PaymentOther
	}
}

// ── webhooks ──────────────────────────────────────────────────────────────────

// ValidateWebhook checks the x-square-hmacsha256-signature header: base64
// HMAC-SHA256 over the notification URL concatenated with the raw body.
// The payload is only parsed after the signature verifies.
func (a *squareAdapter) ValidateWebhook(payload []byte, signature, signedURL string, creds Credentials) (*Event, error) {
	if creds.WebhookSecret == "" {
		return nil, ErrConnectionValidation(ProviderSquare, fmt.Errorf("missing webhook secret"))
	}
	mac := hmac.New(sha256.New, []byte(creds.WebhookSecret))
	mac.Write([]byte(signedURL))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrInvalidSignature(ProviderSquare)
	}

	var env struct {
		EventID   string    `json:"event_id"`
		Type      string    `json:"type"`
		CreatedAt time.Time `json:"created_at"`
		Data      struct {
			ID     string `json:"id"`
			Object struct {
				Payment *squarePayment `json:"payment"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, ErrInvalidSignature(ProviderSquare)
	}

	ev := &Event{
		ID:         env.EventID,
		Provider:   ProviderSquare,
		Type:       squareEventType(env.Type),
		ExternalID: env.Data.ID,
		OccurredAt: env.CreatedAt,
	}
	if env.Data.Object.Payment != nil {
		ev.Transaction = normalizeSquarePayment(*env.Data.Object.Payment)
		ev.ExternalID = ev.Transaction.ExternalID
	}
	return ev, nil
}

func squareEventType(t string) EventType {
	switch t {
	case "payment.created":
		return EventTransactionCreated
	case "payment.updated":
		return EventTransactionUpdated
	case "refund.created", "refund.updated":
		return EventRefundCreated
	case "location.updated":
		return EventLocationUpdated
	default:
		return EventUnknown
	}
}

type squareSubscription struct {
	ID              string   `json:"id,omitempty"`
	Name            string   `json:"name,omitempty"`
	Enabled         bool     `json:"enabled"`
	EventTypes      []string `json:"event_types"`
	NotificationURL string   `json:"notification_url"`
	APIVersion      string   `json:"api_version,omitempty"`
	SignatureKey    string   `json:"signature_key,omitempty"`
	CreatedAt       string   `json:"created_at,omitempty"`
	UpdatedAt       string   `json:"updated_at,omitempty"`
}

func (a *squareAdapter) CreateWebhook(ctx context.Context, sub WebhookSubscription) (*WebhookSubscription, error) {
	if err := a.requireInitialized(); err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"subscription": squareSubscription{
			Name:            "tapfeed",
			Enabled:         true,
			EventTypes:      sub.EventTypes,
			NotificationURL: sub.TargetURL,
			APIVersion:      squareAPIVersion,
		},
	}
	var resp struct {
		Subscription squareSubscription `json:"subscription"`
	}
	if err := a.client.do(ctx, http.MethodPost, "/v2/webhooks/subscriptions", nil, body, &resp); err != nil {
		return nil, err
	}
	return squareSubToCanonical(resp.Subscription), nil
}

func (a *squareAdapter) ListWebhooks(ctx context.Context) ([]*WebhookSubscription, error) {
	if err := a.requireInitialized(); err != nil {
		return nil, err
	}
	var resp struct {
		Subscriptions []squareSubscription `json:"subscriptions"`
	}
	if err := a.client.do(ctx, http.MethodGet, "/v2/webhooks/subscriptions", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]*WebhookSubscription, 0, len(resp.Subscriptions))
	for _, s := range resp.Subscriptions {
		out = append(out, squareSubToCanonical(s))
	}
	return out, nil
}

func (a *squareAdapter) UpdateWebhook(ctx context.Context, sub WebhookSubscription) (*WebhookSubscription, error) {
	if err := a.requireInitialized(); err != nil {
		return nil, err
	}
	body := map[string]interface{}{
		"subscription": squareSubscription{
			Enabled:         sub.Active,
			EventTypes:      sub.EventTypes,
			NotificationURL: sub.TargetURL,
		},
	}
	var resp struct {
		Subscription squareSubscription `json:"subscription"`
	}
	if err := a.client.do(ctx, http.MethodPut, "/v2/webhooks/subscriptions/"+url.PathEscape(sub.ID), nil, body, &resp); err != nil {
		return nil, err
	}
	return squareSubToCanonical(resp.Subscription), nil
}

func (a *squareAdapter) DeleteWebhook(ctx context.Context, id string) error {
	if err := a.requireInitialized(); err != nil {
		return err
	}
	return a.client.do(ctx, http.MethodDelete, "/v2/webhooks/subscriptions/"+url.PathEscape(id), nil, nil, nil)
}

func squareSubToCanonical(s squareSubscription) *WebhookSubscription {
	sub := &WebhookSubscription{
		ID:         s.ID,
		Provider:   ProviderSquare,
		TargetURL:  s.NotificationURL,
		EventTypes: s.EventTypes,
		Active:     s.Enabled,
		Metadata:   map[string]interface{}{"api_version": s.APIVersion},
	}
	if s.SignatureKey != "" {
		sub.Metadata["signature_key"] = s.SignatureKey
	}
	if t, err := time.Parse(time.RFC3339, s.CreatedAt); err == nil {
		sub.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, s.UpdatedAt); err == nil {
		sub.UpdatedAt = t
	}
	return sub
}

// unionScopes merges vendor defaults with caller-supplied scopes, deduped,
// preserving default order first.
func unionScopes(defaults, extra []string) []string {
	seen := make(map[string]bool, len(defaults)+len(extra))
	out := make([]string, 0, len(defaults)+len(extra))
	for _, s := range append(append([]string{}, defaults...), extra...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
