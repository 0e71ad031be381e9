package pos

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func newTestSquareAdapter(t *testing.T, baseURL string) *squareAdapter {
	t.Helper()
	a := &squareAdapter{
		baseAdapter: baseAdapter{provider: ProviderSquare},
		appID:       "app-id",
		appSecret:   "app-secret",
		baseURL:     baseURL,
	}
	if err := a.Initialize(context.Background(), Credentials{Provider: ProviderSquare, AccessToken: "tok"}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return a
}

func TestNormalizeSquarePayment(t *testing.T) {
	created := time.Date(2024, 3, 12, 14, 2, 0, 0, time.UTC)
	p := squarePayment{
		ID:          "pay-1",
		LocationID:  "loc-1",
		OrderID:     "ord-1",
		Status:      "COMPLETED",
		SourceType:  "CARD",
		AmountMoney: squareMoney{Amount: 8500, Currency: "SEK"},
		CreatedAt:   created,
		UpdatedAt:   created,
	}

	tx := normalizeSquarePayment(p)
	if tx.ID != "SQUARE:pay-1" {
		t.Errorf("ID = %s", tx.ID)
	}
	if tx.Amount != 8500 || tx.Currency != "SEK" {
		t.Errorf("amount = %d %s", tx.Amount, tx.Currency)
	}
	if tx.Status != TxCompleted {
		t.Errorf("status = %s", tx.Status)
	}
	if tx.PaymentMethod != PaymentCard {
		t.Errorf("method = %s", tx.PaymentMethod)
	}
	if inStore, _ := tx.Metadata["in_store"].(bool); !inStore {
		t.Error("location-bound payment should be in_store")
	}
	if tx.Metadata["order_id"] != "ord-1" {
		t.Errorf("order_id = %v", tx.Metadata["order_id"])
	}
}

func TestNormalizeSquarePaymentRefund(t *testing.T) {
	p := squarePayment{
		ID:            "pay-1",
		Status:        "COMPLETED",
		AmountMoney:   squareMoney{Amount: 8500, Currency: "SEK"},
		RefundedMoney: &squareMoney{Amount: 8500, Currency: "SEK"},
		RefundIDs:     []string{"ref-1"},
	}
	tx := normalizeSquarePayment(p)
	if tx.Status != TxRefunded {
		t.Errorf("status = %s, want REFUNDED (refunded_money present)", tx.Status)
	}
}

func TestSquareStatusMapping(t *testing.T) {
	cases := []struct {
		in   string
		want TxStatus
	}{
		{"COMPLETED", TxCompleted},
		{"APPROVED", TxPending},
		{"PENDING", TxPending},
		{"CANCELED", TxCancelled},
		{"FAILED", TxCancelled},
		{"SOMETHING_NEW", TxPending},
	}
	for _, tc := range cases {
		if got := squareStatus(tc.in); got != tc.want {
			t.Errorf("squareStatus(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestSquareSearchTransactionsPaginates(t *testing.T) {
	var pages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/payments" {
			http.NotFound(w, r)
			return
		}
		pages++
		if r.URL.Query().Get("cursor") == "" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"payments": []squarePayment{{ID: "pay-1", LocationID: "loc-1", Status: "COMPLETED", AmountMoney: squareMoney{Amount: 100, Currency: "SEK"}}},
				"cursor":   "next",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"payments": []squarePayment{{ID: "pay-2", LocationID: "loc-1", Status: "COMPLETED", AmountMoney: squareMoney{Amount: 200, Currency: "SEK"}}},
		})
	}))
	defer srv.Close()

	a := newTestSquareAdapter(t, srv.URL)
	txs, err := a.SearchTransactions(context.Background(), TransactionQuery{
		LocationID: "loc-1",
		Begin:      time.Now().Add(-time.Hour),
		End:        time.Now(),
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if pages != 2 {
		t.Errorf("pages fetched = %d, want 2", pages)
	}
	if len(txs) != 2 || txs[0].ExternalID != "pay-1" || txs[1].ExternalID != "pay-2" {
		t.Errorf("unexpected result set: %+v", txs)
	}
}

func TestSquareRequiresInitialize(t *testing.T) {
	a := &squareAdapter{baseAdapter: baseAdapter{provider: ProviderSquare}}
	_, err := a.ListLocations(context.Background())
	if !HasCode(err, CodeNotInitialized) {
		t.Errorf("err = %v, want NOT_INITIALIZED", err)
	}
}

func TestSquareGenerateAuthURL(t *testing.T) {
	a := &squareAdapter{baseAdapter: baseAdapter{provider: ProviderSquare}, appID: "app-id", baseURL: squareBaseURL}
	raw, err := a.GenerateAuthURL("https://app.example/cb", "state-123", []string{"CUSTOMERS_READ"})
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "state-123" {
		t.Errorf("state = %q", q.Get("state"))
	}
	if q.Get("client_id") != "app-id" {
		t.Errorf("client_id = %q", q.Get("client_id"))
	}
	scopes := strings.Fields(q.Get("scope"))
	if len(scopes) != 4 || scopes[3] != "CUSTOMERS_READ" {
		t.Errorf("scope = %v, want defaults + CUSTOMERS_READ", scopes)
	}
}

func signSquare(secret, signedURL string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedURL))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSquareValidateWebhook(t *testing.T) {
	const (
		secret    = "wh-secret"
		signedURL = "https://app.example/webhooks/square/biz-1"
	)
	payload := []byte(`{
		"event_id": "evt-1",
		"type": "payment.updated",
		"created_at": "2024-03-12T14:02:00Z",
		"data": {"id": "pay-1", "object": {"payment": {
			"id": "pay-1", "location_id": "loc-1", "status": "COMPLETED",
			"amount_money": {"amount": 8500, "currency": "SEK"}
		}}}
	}`)
	creds := Credentials{Provider: ProviderSquare, WebhookSecret: secret}
	a := &squareAdapter{baseAdapter: baseAdapter{provider: ProviderSquare}}

	ev, err := a.ValidateWebhook(payload, signSquare(secret, signedURL, payload), signedURL, creds)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ev.ID != "evt-1" || ev.Type != EventTransactionUpdated {
		t.Errorf("event = %+v", ev)
	}
	if ev.Transaction == nil || ev.Transaction.Amount != 8500 {
		t.Errorf("transaction not normalized: %+v", ev.Transaction)
	}
}

func TestSquareValidateWebhookRejectsTamperedPayload(t *testing.T) {
	const (
		secret    = "wh-secret"
		signedURL = "https://app.example/webhooks/square/biz-1"
	)
	payload := []byte(`{"event_id":"evt-1","type":"payment.created"}`)
	sig := signSquare(secret, signedURL, payload)
	tampered := []byte(`{"event_id":"evt-1","type":"refund.created"}`)

	a := &squareAdapter{baseAdapter: baseAdapter{provider: ProviderSquare}}
	_, err := a.ValidateWebhook(tampered, sig, signedURL, Credentials{WebhookSecret: secret})
	if !HasCode(err, CodeInvalidSignature) {
		t.Errorf("err = %v, want INVALID_SIGNATURE", err)
	}
}

func TestSquareValidateWebhookRejectsSignatureFromOtherPayload(t *testing.T) {
	const (
		secret    = "wh-secret"
		signedURL = "https://app.example/webhooks/square/biz-1"
	)
	// A genuine signature, just not over this payload.
	other := signSquare(secret, signedURL, []byte(`{"event_id":"evt-other"}`))
	payload := []byte(`{"event_id":"evt-1","type":"payment.created"}`)

	a := &squareAdapter{baseAdapter: baseAdapter{provider: ProviderSquare}}
	_, err := a.ValidateWebhook(payload, other, signedURL, Credentials{WebhookSecret: secret})
	if !HasCode(err, CodeInvalidSignature) {
		t.Errorf("err = %v, want INVALID_SIGNATURE", err)
	}
}

func TestSquareValidateWebhookURLBound(t *testing.T) {
	const secret = "wh-secret"
	payload := []byte(`{"event_id":"evt-1","type":"payment.created"}`)
	sig := signSquare(secret, "https://app.example/webhooks/square/biz-1", payload)

	a := &squareAdapter{baseAdapter: baseAdapter{provider: ProviderSquare}}
	_, err := a.ValidateWebhook(payload, sig, "https://evil.example/webhooks/square/biz-1", Credentials{WebhookSecret: secret})
	if !HasCode(err, CodeInvalidSignature) {
		t.Errorf("err = %v, want INVALID_SIGNATURE when URL differs", err)
	}
}

func TestUnionScopes(t *testing.T) {
	got := unionScopes([]string{"A", "B"}, []string{"B", "C", ""})
	want := []string{"A", "B", "C"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
			break
		}
	}
}
