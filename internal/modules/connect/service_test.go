package connect

import (
	"context"
	"fmt"
	"testing"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// memRepo is an in-memory Repository for service tests.
type memRepo struct {
	creds map[string]pos.Credentials
}

func newMemRepo() *memRepo { return &memRepo{creds: make(map[string]pos.Credentials)} }

func (m *memRepo) Save(ctx context.Context, businessID string, creds pos.Credentials) error {
	m.creds[businessID] = creds
	return nil
}

func (m *memRepo) Get(ctx context.Context, businessID string) (*pos.Credentials, error) {
	c, ok := m.creds[businessID]
	if !ok {
		return nil, fmt.Errorf("no POS connection for business %s", businessID)
	}
	return &c, nil
}

func (m *memRepo) Delete(ctx context.Context, businessID string) error {
	delete(m.creds, businessID)
	return nil
}

// fakeOAuthAdapter exercises the connect flow without touching a vendor.
type fakeOAuthAdapter struct {
	provider    pos.Provider
	caps        pos.CapabilitySet
	shopDomain  string
	exchangeErr error
	connected   bool
	bareStatus  bool
	refreshed   *pos.Credentials
}

func (f *fakeOAuthAdapter) Provider() pos.Provider             { return f.provider }
func (f *fakeOAuthAdapter) Capabilities() pos.CapabilitySet    { return f.caps }
func (f *fakeOAuthAdapter) SetShopDomain(domain string)        { f.shopDomain = domain }
func (f *fakeOAuthAdapter) Initialize(ctx context.Context, creds pos.Credentials) error { return nil }

func (f *fakeOAuthAdapter) TestConnection(ctx context.Context, creds pos.Credentials) pos.ConnectionStatus {
	if !f.connected {
		if f.bareStatus {
			return pos.ConnectionStatus{}
		}
		return pos.ConnectionStatus{Error: &pos.ErrorDetail{Code: pos.CodeConnectionValidationFailed, Message: "vendor says no"}}
	}
	return pos.ConnectionStatus{Connected: true, MerchantID: "merchant-1"}
}

func (f *fakeOAuthAdapter) GenerateAuthURL(redirectURI, state string, scopes []string) (string, error) {
	return "https://vendor.example/authorize?state=" + state, nil
}

func (f *fakeOAuthAdapter) ExchangeCode(ctx context.Context, code, redirectURI string) (*pos.Credentials, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &pos.Credentials{Provider: f.provider, AccessToken: "token-for-" + code, ShopDomain: f.shopDomain}, nil
}

func (f *fakeOAuthAdapter) RefreshToken(ctx context.Context, refreshToken string) (*pos.Credentials, error) {
	if f.refreshed == nil {
		return nil, pos.ErrNotSupported(f.provider, "token refresh")
	}
	return f.refreshed, nil
}

func (f *fakeOAuthAdapter) ListLocations(ctx context.Context) ([]*pos.Location, error) { return nil, nil }

func (f *fakeOAuthAdapter) GetTransaction(ctx context.Context, externalID string) (*pos.Transaction, error) {
	return nil, &pos.Error{Code: pos.CodeNotFound, Message: "not found"}
}

func (f *fakeOAuthAdapter) SearchTransactions(ctx context.Context, q pos.TransactionQuery) ([]*pos.Transaction, error) {
	return nil, nil
}

func (f *fakeOAuthAdapter) ValidateWebhook(payload []byte, signature, signedURL string, creds pos.Credentials) (*pos.Event, error) {
	return nil, pos.ErrInvalidSignature(f.provider)
}

func (f *fakeOAuthAdapter) CreateWebhook(ctx context.Context, sub pos.WebhookSubscription) (*pos.WebhookSubscription, error) {
	return &sub, nil
}

func (f *fakeOAuthAdapter) ListWebhooks(ctx context.Context) ([]*pos.WebhookSubscription, error) {
	return nil, nil
}

func (f *fakeOAuthAdapter) UpdateWebhook(ctx context.Context, sub pos.WebhookSubscription) (*pos.WebhookSubscription, error) {
	return &sub, nil
}

func (f *fakeOAuthAdapter) DeleteWebhook(ctx context.Context, id string) error { return nil }

func newConnectFixture(adapter *fakeOAuthAdapter) (Service, *memRepo, *StateIssuer) {
	registry := pos.NewRegistry()
	registry.Register(adapter.provider, func() pos.Adapter { return adapter })
	repo := newMemRepo()
	states := NewStateIssuer([]byte("state-secret"))
	return NewService(registry, repo, states), repo, states
}

func TestGenerateAuthURLEmbedsState(t *testing.T) {
	adapter := &fakeOAuthAdapter{
		provider: pos.ProviderSquare,
		caps:     pos.NewCapabilitySet(pos.CapOAuth),
	}
	svc, _, states := newConnectFixture(adapter)

	start, err := svc.GenerateAuthURL(context.Background(), pos.ProviderSquare, ConnectRequest{
		BusinessID:  "biz-1",
		RedirectURI: "https://app.example/cb",
	})
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	if start.State == "" {
		t.Fatal("no state issued")
	}
	claims, err := states.Verify(start.State)
	if err != nil {
		t.Fatalf("issued state must verify: %v", err)
	}
	if claims.BusinessID != "biz-1" {
		t.Errorf("state bound to %s", claims.BusinessID)
	}
}

func TestGenerateAuthURLRequiresShopDomainForShopScoped(t *testing.T) {
	adapter := &fakeOAuthAdapter{
		provider: pos.ProviderShopify,
		caps:     pos.NewCapabilitySet(pos.CapOAuth),
	}
	svc, _, _ := newConnectFixture(adapter)

	_, err := svc.GenerateAuthURL(context.Background(), pos.ProviderShopify, ConnectRequest{
		BusinessID:  "biz-1",
		RedirectURI: "https://app.example/cb",
	})
	if err == nil {
		t.Fatal("shop-scoped provider without shop_domain must fail")
	}

	_, err = svc.GenerateAuthURL(context.Background(), pos.ProviderShopify, ConnectRequest{
		BusinessID:  "biz-1",
		RedirectURI: "https://app.example/cb",
		ShopDomain:  "shop.myshopify.com",
	})
	if err != nil {
		t.Fatalf("auth url: %v", err)
	}
	if adapter.shopDomain != "shop.myshopify.com" {
		t.Errorf("shop domain not seeded: %q", adapter.shopDomain)
	}
}

func TestHandleCallbackPersistsCredentials(t *testing.T) {
	adapter := &fakeOAuthAdapter{
		provider:  pos.ProviderSquare,
		caps:      pos.NewCapabilitySet(pos.CapOAuth),
		connected: true,
	}
	svc, repo, states := newConnectFixture(adapter)

	state, err := states.Issue("biz-1", pos.ProviderSquare, "https://app.example/cb", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	res, err := svc.HandleCallback(context.Background(), "code-1", state)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if res.BusinessID != "biz-1" || !res.Status.Connected {
		t.Errorf("result = %+v", res)
	}
	saved, err := repo.Get(context.Background(), "biz-1")
	if err != nil {
		t.Fatalf("credentials not saved: %v", err)
	}
	if saved.AccessToken != "token-for-code-1" {
		t.Errorf("token = %s", saved.AccessToken)
	}
}

func TestHandleCallbackRejectsForgedState(t *testing.T) {
	adapter := &fakeOAuthAdapter{
		provider:  pos.ProviderSquare,
		caps:      pos.NewCapabilitySet(pos.CapOAuth),
		connected: true,
	}
	svc, repo, _ := newConnectFixture(adapter)

	forged, err := NewStateIssuer([]byte("attacker-secret")).
		Issue("biz-1", pos.ProviderSquare, "https://app.example/cb", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err = svc.HandleCallback(context.Background(), "code-1", forged)
	if !pos.HasCode(err, pos.CodeInvalidState) {
		t.Errorf("err = %v, want INVALID_STATE", err)
	}
	if len(repo.creds) != 0 {
		t.Error("nothing may persist after a rejected state")
	}
}

func TestHandleCallbackDoesNotPersistUnvalidatedCredentials(t *testing.T) {
	adapter := &fakeOAuthAdapter{
		provider:  pos.ProviderSquare,
		caps:      pos.NewCapabilitySet(pos.CapOAuth),
		connected: false,
	}
	svc, repo, states := newConnectFixture(adapter)
	repo.creds["biz-1"] = pos.Credentials{Provider: pos.ProviderSquare, AccessToken: "working-token"}

	state, _ := states.Issue("biz-1", pos.ProviderSquare, "https://app.example/cb", "")
	_, err := svc.HandleCallback(context.Background(), "code-1", state)
	if !pos.HasCode(err, pos.CodeConnectionValidationFailed) {
		t.Errorf("err = %v, want CONNECTION_VALIDATION_FAILED", err)
	}
	if repo.creds["biz-1"].AccessToken != "working-token" {
		t.Error("failed validation must not overwrite a working connection")
	}
}

func TestHandleCallbackValidationFailureWithoutDetail(t *testing.T) {
	// Adapters are not required to populate Status.Error on failure.
	adapter := &fakeOAuthAdapter{
		provider:   pos.ProviderSquare,
		caps:       pos.NewCapabilitySet(pos.CapOAuth),
		connected:  false,
		bareStatus: true,
	}
	svc, repo, states := newConnectFixture(adapter)

	state, _ := states.Issue("biz-1", pos.ProviderSquare, "https://app.example/cb", "")
	_, err := svc.HandleCallback(context.Background(), "code-1", state)
	if !pos.HasCode(err, pos.CodeConnectionValidationFailed) {
		t.Errorf("err = %v, want CONNECTION_VALIDATION_FAILED", err)
	}
	if len(repo.creds) != 0 {
		t.Error("nothing may persist after failed validation")
	}
}

func TestRefreshRequiresCapability(t *testing.T) {
	adapter := &fakeOAuthAdapter{
		provider: pos.ProviderShopify,
		caps:     pos.NewCapabilitySet(pos.CapOAuth), // no CapRefresh
	}
	svc, repo, _ := newConnectFixture(adapter)
	repo.creds["biz-1"] = pos.Credentials{Provider: pos.ProviderShopify, AccessToken: "tok"}

	err := svc.Refresh(context.Background(), "biz-1")
	if !pos.HasCode(err, pos.CodeNotSupported) {
		t.Errorf("err = %v, want NOT_SUPPORTED", err)
	}
}

func TestRefreshCarriesOverOmittedFields(t *testing.T) {
	adapter := &fakeOAuthAdapter{
		provider: pos.ProviderSquare,
		caps:     pos.NewCapabilitySet(pos.CapOAuth, pos.CapRefresh),
		refreshed: &pos.Credentials{
			Provider:     pos.ProviderSquare,
			AccessToken:  "fresh-token",
			RefreshToken: "fresh-refresh",
		},
	}
	svc, repo, _ := newConnectFixture(adapter)
	repo.creds["biz-1"] = pos.Credentials{
		Provider:      pos.ProviderSquare,
		AccessToken:   "stale-token",
		RefreshToken:  "rt-1",
		WebhookSecret: "wh-secret",
		MerchantID:    "merchant-1",
	}

	if err := svc.Refresh(context.Background(), "biz-1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	saved := repo.creds["biz-1"]
	if saved.AccessToken != "fresh-token" {
		t.Errorf("token = %s", saved.AccessToken)
	}
	if saved.WebhookSecret != "wh-secret" || saved.MerchantID != "merchant-1" {
		t.Errorf("omitted fields lost: %+v", saved)
	}
}

func TestDisconnectRemovesCredentials(t *testing.T) {
	adapter := &fakeOAuthAdapter{provider: pos.ProviderSquare, caps: pos.NewCapabilitySet(pos.CapOAuth)}
	svc, repo, _ := newConnectFixture(adapter)
	repo.creds["biz-1"] = pos.Credentials{Provider: pos.ProviderSquare, AccessToken: "tok"}

	if err := svc.Disconnect(context.Background(), "biz-1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if _, err := repo.Get(context.Background(), "biz-1"); err == nil {
		t.Error("credentials still present after disconnect")
	}
}
