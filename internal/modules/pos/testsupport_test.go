package pos

import (
	"context"
	"time"
)

// stubAdapter is an in-memory Adapter for matcher and facade tests.
type stubAdapter struct {
	baseAdapter
	txs         []*Transaction
	locations   []*Location
	searchCalls int
	searchErr   error
	caps        CapabilitySet
}

func newStubAdapter(txs ...*Transaction) *stubAdapter {
	a := &stubAdapter{baseAdapter: baseAdapter{provider: ProviderSquare}, txs: txs}
	a.state = stateInitialized
	return a
}

func (a *stubAdapter) Capabilities() CapabilitySet {
	if a.caps != nil {
		return a.caps
	}
	return NewCapabilitySet(CapTransactions, CapWebhooks, CapLocations, CapOAuth)
}

func (a *stubAdapter) Initialize(ctx context.Context, creds Credentials) error {
	a.setInitialized(creds)
	return nil
}

func (a *stubAdapter) TestConnection(ctx context.Context, creds Credentials) ConnectionStatus {
	return ConnectionStatus{Connected: true}
}

func (a *stubAdapter) GenerateAuthURL(redirectURI, state string, scopes []string) (string, error) {
	return "https://vendor.example/authorize?state=" + state, nil
}

func (a *stubAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*Credentials, error) {
	return &Credentials{Provider: a.provider, AccessToken: "token-for-" + code}, nil
}

func (a *stubAdapter) RefreshToken(ctx context.Context, refreshToken string) (*Credentials, error) {
	return nil, ErrNotSupported(a.provider, "token refresh")
}

func (a *stubAdapter) ListLocations(ctx context.Context) ([]*Location, error) {
	return a.locations, nil
}

func (a *stubAdapter) GetTransaction(ctx context.Context, externalID string) (*Transaction, error) {
	for _, tx := range a.txs {
		if tx.ExternalID == externalID {
			return tx, nil
		}
	}
	return nil, &Error{Code: CodeNotFound, Message: "not found"}
}

func (a *stubAdapter) SearchTransactions(ctx context.Context, q TransactionQuery) ([]*Transaction, error) {
	a.searchCalls++
	if a.searchErr != nil {
		return nil, a.searchErr
	}
	var out []*Transaction
	for _, tx := range a.txs {
		if q.LocationID != "" && tx.LocationID != q.LocationID {
			continue
		}
		if tx.CreatedAt.Before(q.Begin) || tx.CreatedAt.After(q.End) {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

func (a *stubAdapter) ValidateWebhook(payload []byte, signature, signedURL string, creds Credentials) (*Event, error) {
	return nil, ErrInvalidSignature(a.provider)
}

func (a *stubAdapter) CreateWebhook(ctx context.Context, sub WebhookSubscription) (*WebhookSubscription, error) {
	out := sub
	out.ID = "wh-1"
	return &out, nil
}

func (a *stubAdapter) ListWebhooks(ctx context.Context) ([]*WebhookSubscription, error) {
	return nil, nil
}

func (a *stubAdapter) UpdateWebhook(ctx context.Context, sub WebhookSubscription) (*WebhookSubscription, error) {
	out := sub
	return &out, nil
}

func (a *stubAdapter) DeleteWebhook(ctx context.Context, id string) error { return nil }

func mkTx(externalID, locationID string, amount int64, createdAt time.Time) *Transaction {
	return &Transaction{
		ID:            TransactionID(ProviderSquare, externalID),
		Provider:      ProviderSquare,
		ExternalID:    externalID,
		LocationID:    locationID,
		Amount:        amount,
		Currency:      "SEK",
		Status:        TxCompleted,
		PaymentMethod: PaymentCard,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
	}
}
