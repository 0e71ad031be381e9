package pos

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const shopifyAPIVersion = "2024-01"

var shopifyDefaultScopes = []string{"read_orders", "read_locations"}

// shopifyAdapter integrates the Shopify Admin REST API. Shopify issues
// permanent access tokens, so CapRefresh is absent and RefreshToken returns
// NotSupported.
type shopifyAdapter struct {
	baseAdapter
	apiKey    string
	apiSecret string
	// baseURLOverride replaces the https://{shop}.myshopify.com origin in
	// tests; empty in production.
	baseURLOverride string
	client          *restClient
}

// NewShopifyFactory returns a factory producing Shopify adapters bound to
// one app's API key/secret pair.
func NewShopifyFactory(apiKey, apiSecret string) Factory {
	return func() Adapter {
		return &shopifyAdapter{
			baseAdapter: baseAdapter{provider: ProviderShopify},
			apiKey:      apiKey,
			apiSecret:   apiSecret,
		}
	}
}

func (a *shopifyAdapter) Capabilities() CapabilitySet {
	return NewCapabilitySet(CapTransactions, CapWebhooks, CapLocations, CapOAuth, CapRefunds)
}

func (a *shopifyAdapter) shopOrigin(shopDomain string) string {
	if a.baseURLOverride != "" {
		return a.baseURLOverride
	}
	return "https://" + shopDomain
}

func (a *shopifyAdapter) Initialize(ctx context.Context, creds Credentials) error {
	if creds.AccessToken == "" || creds.ShopDomain == "" {
		return ErrConnectionValidation(ProviderShopify, fmt.Errorf("missing access token or shop domain"))
	}
	a.client = a.newClient(creds)
	a.setInitialized(creds)
	return nil
}

func (a *shopifyAdapter) newClient(creds Credentials) *restClient {
	base := a.shopOrigin(creds.ShopDomain) + "/admin/api/" + shopifyAPIVersion
	return newRESTClient(ProviderShopify, base, func(req *http.Request) {
		req.Header.Set("X-Shopify-Access-Token", creds.AccessToken)
	})
}

func (a *shopifyAdapter) TestConnection(ctx context.Context, creds Credentials) ConnectionStatus {
	if creds.AccessToken == "" || creds.ShopDomain == "" {
		return ConnectionStatus{Error: &ErrorDetail{Code: CodeConnectionValidationFailed, Message: "missing access token or shop domain"}}
	}
	client := a.newClient(creds)
	var resp struct {
		Shop struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		} `json:"shop"`
	}
	if err := client.do(ctx, http.MethodGet, "/shop.json", nil, nil, &resp); err != nil {
		return ConnectionStatus{Error: AsDetail(ErrConnectionValidation(ProviderShopify, err))}
	}
	a.markValidated()
	return ConnectionStatus{Connected: true, MerchantID: strconv.FormatInt(resp.Shop.ID, 10)}
}

// ── OAuth ─────────────────────────────────────────────────────────────────────

// SetShopDomain seeds the merchant-scoped OAuth origin before any token
// exists.
func (a *shopifyAdapter) SetShopDomain(domain string) {
	a.creds.ShopDomain = domain
}

func (a *shopifyAdapter) GenerateAuthURL(redirectURI, state string, scopes []string) (string, error) {
	if a.creds.ShopDomain == "" {
		return "", fmt.Errorf("shopify auth url requires a shop domain")
	}
	q := url.Values{}
	q.Set("client_id", a.apiKey)
	q.Set("scope", strings.Join(unionScopes(shopifyDefaultScopes, scopes), ","))
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	return a.shopOrigin(a.creds.ShopDomain) + "/admin/oauth/authorize?" + q.Encode(), nil
}

func (a *shopifyAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*Credentials, error) {
	if a.creds.ShopDomain == "" {
		return nil, ErrTokenExchange(ProviderShopify, fmt.Errorf("missing shop domain"))
	}
	client := newRESTClient(ProviderShopify, a.shopOrigin(a.creds.ShopDomain), nil)
	body := map[string]string{
		"client_id":     a.apiKey,
		"client_secret": a.apiSecret,
		"code":          code,
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		Scope       string `json:"scope"`
	}
	if err := client.do(ctx, http.MethodPost, "/admin/oauth/access_token", nil, body, &resp); err != nil {
		return nil, ErrTokenExchange(ProviderShopify, err)
	}
	// Permanent token, no expiry, no refresh token.
	return &Credentials{
		Provider:      ProviderShopify,
		AccessToken:   resp.AccessToken,
		ShopDomain:    a.creds.ShopDomain,
		WebhookSecret: a.apiSecret,
	}, nil
}

func (a *shopifyAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Credentials, error) {
	return nil, ErrNotSupported(ProviderShopify, "token refresh (tokens are permanent)")
}

// ── locations & transactions ──────────────────────────────────────────────────

func (a *shopifyAdapter) ListLocations(ctx context.Context) ([]*Location, error) {
	if err := a.requireInitialized(); err != nil {
		return nil, err
	}
	var resp struct {
		Locations []struct {
			ID       int64  `json:"id"`
			Name     string `json:"name"`
			Address1 string `json:"address1"`
			City     string `json:"city"`
			Active   bool   `json:"active"`
		} `json:"locations"`
	}
	if err := a.client.do(ctx, http.MethodGet, "/locations.json", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]*Location, 0, len(resp.Locations))
	for _, l := range resp.Locations {
		addr := l.Address1
		if l.City != "" {
			addr = strings.TrimPrefix(addr+", "+l.City, ", ")
		}
		out = append(out, &Location{
			ID:      strconv.FormatInt(l.ID, 10),
			Name:    l.Name,
			Address: addr,
			Active:  l.Active,
		})
	}
	return out, nil
}

func (a *shopifyAdapter) GetTransaction(ctx context.Context, externalID string) (*Transaction, error) {
	if err := a.requireInitialized(); err != nil {
		return nil, err
	}
	var resp struct {
		Order shopifyOrder `json:"order"`
	}
	if err := a.client.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(externalID)+".json", nil, nil, &resp); err != nil {
		return nil, err
	}
	return normalizeShopifyOrder(resp.Order), nil
}

func (a *shopifyAdapter) SearchTransactions(ctx context.Context, q TransactionQuery) ([]*Transaction, error) {
	if err := a.requireInitialized(); err != nil {
		return nil, err
	}
	params := url.Values{}
	params.Set("status", "any")
	params.Set("created_at_min", q.Begin.UTC().Format(time.RFC3339))
	params.Set("created_at_max", q.End.UTC().Format(time.RFC3339))
	if q.Limit > 0 && q.Limit <= 250 {
		params.Set("limit", strconv.Itoa(q.Limit))
	} else {
		params.Set("limit", "250")
	}
	var resp struct {
		Orders []shopifyOrder `json:"orders"`
	}
	if err := a.client.do(ctx, http.MethodGet, "/orders.json", params, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]*Transaction, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		tx := normalizeShopifyOrder(o)
		// Shopify can't filter orders by location server-side; do it here.
		if q.LocationID != "" && tx.LocationID != "" && tx.LocationID != q.LocationID {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// ── normalization ─────────────────────────────────────────────────────────────

type shopifyOrder struct {
	ID                int64     `json:"id"`
	LocationID        *int64    `json:"location_id"`
	TotalPrice        string    `json:"total_price"`
	Currency          string    `json:"currency"`
	FinancialStatus   string    `json:"financial_status"`
	Gateway           string    `json:"gateway"`
	SourceName        string    `json:"source_name"`
	CancelledAt       *string   `json:"cancelled_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	Customer          *struct {
		ID int64 `json:"id"`
	} `json:"customer"`
	Tags string `json:"tags"`
}

// normalizeShopifyOrder maps a Shopify order onto the canonical transaction.
// Shopify reports money as decimal strings; amounts convert to minor units.
func normalizeShopifyOrder(o shopifyOrder) *Transaction {
	externalID := strconv.FormatInt(o.ID, 10)

	status := shopifyStatus(o.FinancialStatus)
	if o.CancelledAt != nil && *o.CancelledAt != "" {
		status = TxCancelled
	}

	locationID := ""
	if o.LocationID != nil {
		locationID = strconv.FormatInt(*o.LocationID, 10)
	}

	meta := map[string]interface{}{
		// A location id or the "pos" source marks an in-store sale.
		"in_store": locationID != "" || o.SourceName == "pos",
		"source":   o.SourceName,
	}
	if o.Tags != "" {
		meta["tags"] = o.Tags
	}

	tx := &Transaction{
		ID:            TransactionID(ProviderShopify, externalID),
		Provider:      ProviderShopify,
		ExternalID:    externalID,
		LocationID:    locationID,
		Amount:        parseMinorUnits(o.TotalPrice),
		Currency:      o.Currency,
		Status:        status,
		PaymentMethod: shopifyPaymentMethod(o.Gateway),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		Metadata:      meta,
	}
	if o.Customer != nil {
		tx.CustomerID = strconv.FormatInt(o.Customer.ID, 10)
	}
	return tx
}

func shopifyStatus(s string) TxStatus {
	switch s {
	case "paid", "partially_refunded":
		return TxCompleted
	case "refunded":
		return TxRefunded
	case "voided":
		return TxCancelled
	case "pending", "authorized", "partially_paid":
		return TxPending
	default:
		logrus.WithFields(logrus.Fields{"provider": ProviderShopify, "status": s}).
			Warn("unrecognized vendor transaction status")
		return TxPending
	}
}

func shopifyPaymentMethod(gateway string) PaymentMethod {
	g := strings.ToLower(gateway)
	switch {
	case g == "cash":
		return PaymentCash
	case g == "gift_card":
		return PaymentGiftCard
	case strings.Contains(g, "shopify_payments"), strings.Contains(g, "card"),
		strings.Contains(g, "stripe"), strings.Contains(g, "klarna"):
		return PaymentCard
	default:
		return PaymentOther
	}
}

// parseMinorUnits converts a decimal money string ("85.00") to minor units
// (8500). Malformed input yields 0; the normalizer never rejects.
func parseMinorUnits(s string) int64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0
	}
	return int64(math.Round(f * 100))
}

// ── webhooks ──────────────────────────────────────────────────────────────────

// ValidateWebhook checks the X-Shopify-Hmac-Sha256 header: base64
// HMAC-SHA256 over the raw body with the app shared secret.
func (a *shopifyAdapter) ValidateWebhook(payload []byte, signature, signedURL string, creds Credentials) (*Event, error) {
	secret := creds.WebhookSecret
	if secret == "" {
		secret = a.apiSecret
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrInvalidSignature(ProviderShopify)
	}

	var order shopifyOrder
	if err := json.Unmarshal(payload, &order); err != nil {
		return nil, ErrInvalidSignature(ProviderShopify)
	}
	tx := normalizeShopifyOrder(order)

	// Topic rides in a header the caller folds into the signature envelope;
	// absent that, infer from the payload state.
	evType := EventTransactionCreated
	if tx.Status == TxRefunded {
		evType = EventRefundCreated
	} else if !order.UpdatedAt.Equal(order.CreatedAt) {
		evType = EventTransactionUpdated
	}

	return &Event{
		// One Shopify delivery per order id per topic; the pair dedupes.
		ID:          fmt.Sprintf("shopify:%s:%s", tx.ExternalID, order.UpdatedAt.UTC().Format(time.RFC3339)),
		Provider:    ProviderShopify,
		Type:        evType,
		ExternalID:  tx.ExternalID,
		Transaction: tx,
		OccurredAt:  order.UpdatedAt,
	}, nil
}

type shopifyWebhook struct {
	ID      int64  `json:"id,omitempty"`
	Topic   string `json:"topic"`
	Address string `json:"address"`
	Format  string `json:"format,omitempty"`
	Created string `json:"created_at,omitempty"`
	Updated string `json:"updated_at,omitempty"`
}

// CreateWebhook registers one subscription per topic; Shopify's API only
// supports a single topic per webhook, so multi-topic canonical
// subscriptions fan out into several vendor registrations and the first id
// is reported.
func (a *shopifyAdapter) CreateWebhook(ctx context.Context, sub WebhookSubscription) (*WebhookSubscription, error) {
	if err := a.requireInitialized(); err != nil {
		return nil, err
	}
	if len(sub.EventTypes) == 0 {
		return nil, fmt.Errorf("at least one event type is required")
	}
	var first *WebhookSubscription
	for _, topic := range sub.EventTypes {
		body := map[string]interface{}{
			"webhook": shopifyWebhook{Topic: topic, Address: sub.TargetURL, Format: "json"},
		}
		var resp struct {
			Webhook shopifyWebhook `json:"webhook"`
		}
		if err := a.client.do(ctx, http.MethodPost, "/webhooks.json", nil, body, &resp); err != nil {
			return nil, err
		}
		if first == nil {
			first = shopifyWebhookToCanonical(resp.Webhook)
			first.EventTypes = sub.EventTypes
		}
	}
	return first, nil
}

func (a *shopifyAdapter) ListWebhooks(ctx context.Context) ([]*WebhookSubscription, error) {
	if err := a.requireInitialized(); err != nil {
		return nil, err
	}
	var resp struct {
		Webhooks []shopifyWebhook `json:"webhooks"`
	}
	if err := a.client.do(ctx, http.MethodGet, "/webhooks.json", nil, nil, &resp); err != nil {
		return nil, err
	}
	out := make([]*WebhookSubscription, 0, len(resp.Webhooks))
	for _, w := range resp.Webhooks {
		out = append(out, shopifyWebhookToCanonical(w))
	}
	return out, nil
}

func (a *shopifyAdapter) UpdateWebhook(ctx context.Context, sub WebhookSubscription) (*WebhookSubscription, error) {
	if err := a.requireInitialized(); err != nil {
		return nil, err
	}
	if len(sub.EventTypes) != 1 {
		return nil, fmt.Errorf("shopify webhooks carry exactly one topic")
	}
	body := map[string]interface{}{
		"webhook": shopifyWebhook{Topic: sub.EventTypes[0], Address: sub.TargetURL},
	}
	var resp struct {
		Webhook shopifyWebhook `json:"webhook"`
	}
	if err := a.client.do(ctx, http.MethodPut, "/webhooks/"+url.PathEscape(sub.ID)+".json", nil, body, &resp); err != nil {
		return nil, err
	}
	return shopifyWebhookToCanonical(resp.Webhook), nil
}

func (a *shopifyAdapter) DeleteWebhook(ctx context.Context, id string) error {
	if err := a.requireInitialized(); err != nil {
		return err
	}
	return a.client.do(ctx, http.MethodDelete, "/webhooks/"+url.PathEscape(id)+".json", nil, nil, nil)
}

func shopifyWebhookToCanonical(w shopifyWebhook) *WebhookSubscription {
	sub := &WebhookSubscription{
		ID:         strconv.FormatInt(w.ID, 10),
		Provider:   ProviderShopify,
		TargetURL:  w.Address,
		EventTypes: []string{w.Topic},
		Active:     true,
		Metadata:   map[string]interface{}{"format": w.Format},
	}
	if t, err := time.Parse(time.RFC3339, w.Created); err == nil {
		sub.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, w.Updated); err == nil {
		sub.UpdatedAt = t
	}
	return sub
}
