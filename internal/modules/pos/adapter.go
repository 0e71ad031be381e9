package pos

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Adapter is the provider-agnostic contract every vendor integration must
// implement. To add a new vendor (e.g. Lightspeed, Toast), implement this
// interface and register a factory.
//
// Lifecycle: a fresh instance is Uninitialized. Initialize binds credentials
// and moves it to Initialized; TestConnection may be called in any state and
// never returns an error for recoverable failures. Any other operation on an
// Uninitialized adapter fails with CodeNotInitialized.
type Adapter interface {
	Provider() Provider
	Capabilities() CapabilitySet

	Initialize(ctx context.Context, creds Credentials) error
	TestConnection(ctx context.Context, creds Credentials) ConnectionStatus

	// OAuth dialect. GenerateAuthURL receives the opaque state produced by
	// the connect module; ExchangeCode returns credentials ready to persist.
	GenerateAuthURL(redirectURI, state string, scopes []string) (string, error)
	ExchangeCode(ctx context.Context, code, redirectURI string) (*Credentials, error)
	RefreshToken(ctx context.Context, refreshToken string) (*Credentials, error)

	ListLocations(ctx context.Context) ([]*Location, error)
	GetTransaction(ctx context.Context, externalID string) (*Transaction, error)
	SearchTransactions(ctx context.Context, q TransactionQuery) ([]*Transaction, error)

	// ValidateWebhook verifies the signature over the raw payload before any
	// parsing, then returns the normalized event. signedURL is the exact
	// notification URL the subscription was registered with (Square signs
	// over it; other vendors ignore it).
	ValidateWebhook(payload []byte, signature, signedURL string, creds Credentials) (*Event, error)

	CreateWebhook(ctx context.Context, sub WebhookSubscription) (*WebhookSubscription, error)
	ListWebhooks(ctx context.Context) ([]*WebhookSubscription, error)
	UpdateWebhook(ctx context.Context, sub WebhookSubscription) (*WebhookSubscription, error)
	DeleteWebhook(ctx context.Context, id string) error
}

// ShopScoped is implemented by adapters whose OAuth endpoints live on a
// per-merchant domain (Shopify). The connect flow seeds the domain before
// calling GenerateAuthURL or ExchangeCode.
type ShopScoped interface {
	SetShopDomain(domain string)
}

// Factory builds a fresh, uninitialized adapter instance.
type Factory func() Adapter

// Registry maps providers to adapter factories. Adapters are per-call
// instances, never shared across businesses, so credentials don't leak
// between tenants.
type Registry struct {
	mu        sync.RWMutex
	factories map[Provider]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Provider]Factory)}
}

// Register installs a factory for a provider, replacing any previous one.
func (r *Registry) Register(p Provider, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[p] = f
}

// New returns a fresh adapter for the provider.
func (r *Registry) New(p Provider) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[p]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown POS provider: %s", p)
	}
	return f(), nil
}

// Providers lists registered providers in stable order.
func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.factories))
	for p := range r.factories {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ── adapter state ─────────────────────────────────────────────────────────────

type adapterState int

const (
	stateUninitialized adapterState = iota
	stateInitialized
	stateValidated
)

// baseAdapter carries the state machine shared by all vendor adapters.
// Embedding it keeps the per-vendor structs focused on wire details.
type baseAdapter struct {
	provider Provider
	state    adapterState
	creds    Credentials
}

func (b *baseAdapter) Provider() Provider { return b.provider }

func (b *baseAdapter) setInitialized(creds Credentials) {
	b.creds = creds
	b.state = stateInitialized
}

func (b *baseAdapter) markValidated() {
	if b.state == stateInitialized {
		b.state = stateValidated
	}
}

// requireInitialized gates every operation other than Initialize and
// TestConnection.
func (b *baseAdapter) requireInitialized() error {
	if b.state == stateUninitialized {
		return ErrNotInitialized(b.provider)
	}
	return nil
}
