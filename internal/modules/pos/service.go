package pos

import (
	"context"
	"fmt"
	"time"
)

// CredentialSource yields the stored credentials for a business. Implemented
// by the connect module's repository; the adapter layer never persists
// credentials itself.
type CredentialSource interface {
	Get(ctx context.Context, businessID string) (*Credentials, error)
}

// MatchRequest is a customer-claimed purchase to reconcile.
type MatchRequest struct {
	LocationID       string    `json:"location_id" validate:"required"`
	Amount           int64     `json:"amount" validate:"required,gte=0"`
	Timestamp        time.Time `json:"timestamp" validate:"required"`
	ToleranceMinutes int       `json:"tolerance_minutes" validate:"gte=0,lte=60"`
}

// Service is the facade the rest of the platform calls. Every method
// resolves the business's credentials, builds a fresh adapter, and
// dispatches; nothing vendor-specific leaks past this boundary.
type Service interface {
	AdapterFor(ctx context.Context, businessID string) (Adapter, error)
	TestConnection(ctx context.Context, businessID string) (ConnectionStatus, error)
	TestCredentials(ctx context.Context, creds Credentials) ConnectionStatus
	FindMatchingTransaction(ctx context.Context, businessID string, req MatchRequest) (*MatchResult, error)
	GetTransaction(ctx context.Context, businessID, externalID string) (*Transaction, error)
	ListLocations(ctx context.Context, businessID string) ([]*Location, error)
	Providers() []Provider
	InvalidateLocation(locationID string)
}

type service struct {
	registry *Registry
	matcher  *Matcher
	creds    CredentialSource
}

// NewService wires the facade over a registry and a credential source.
func NewService(registry *Registry, matcher *Matcher, creds CredentialSource) Service {
	return &service{registry: registry, matcher: matcher, creds: creds}
}

func (s *service) AdapterFor(ctx context.Context, businessID string) (Adapter, error) {
	creds, err := s.creds.Get(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("load credentials for business %s: %w", businessID, err)
	}
	adapter, err := s.registry.New(creds.Provider)
	if err != nil {
		return nil, err
	}
	if err := adapter.Initialize(ctx, *creds); err != nil {
		return nil, err
	}
	return adapter, nil
}

func (s *service) TestConnection(ctx context.Context, businessID string) (ConnectionStatus, error) {
	creds, err := s.creds.Get(ctx, businessID)
	if err != nil {
		return ConnectionStatus{}, fmt.Errorf("load credentials for business %s: %w", businessID, err)
	}
	return s.TestCredentials(ctx, *creds), nil
}

// TestCredentials probes a credential set that may not be persisted yet
// (interactive setup). Recoverable failures come back in the status, never
// as an error.
func (s *service) TestCredentials(ctx context.Context, creds Credentials) ConnectionStatus {
	adapter, err := s.registry.New(creds.Provider)
	if err != nil {
		return ConnectionStatus{Error: &ErrorDetail{Code: CodeConnectionValidationFailed, Message: err.Error()}}
	}
	return adapter.TestConnection(ctx, creds)
}

func (s *service) FindMatchingTransaction(ctx context.Context, businessID string, req MatchRequest) (*MatchResult, error) {
	adapter, err := s.AdapterFor(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if !adapter.Capabilities().Has(CapTransactions) {
		return nil, ErrNotSupported(adapter.Provider(), "transaction search")
	}
	tolerance := time.Duration(req.ToleranceMinutes) * time.Minute
	result, err := s.matcher.FindMatchingTransaction(ctx, adapter, req.LocationID, req.Amount, req.Timestamp, tolerance)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *service) GetTransaction(ctx context.Context, businessID, externalID string) (*Transaction, error) {
	adapter, err := s.AdapterFor(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if !adapter.Capabilities().Has(CapTransactions) {
		return nil, ErrNotSupported(adapter.Provider(), "transaction lookup")
	}
	return adapter.GetTransaction(ctx, externalID)
}

func (s *service) ListLocations(ctx context.Context, businessID string) ([]*Location, error) {
	adapter, err := s.AdapterFor(ctx, businessID)
	if err != nil {
		return nil, err
	}
	if !adapter.Capabilities().Has(CapLocations) {
		return nil, ErrNotSupported(adapter.Provider(), "location listing")
	}
	return adapter.ListLocations(ctx)
}

func (s *service) Providers() []Provider { return s.registry.Providers() }

func (s *service) InvalidateLocation(locationID string) {
	s.matcher.InvalidateLocation(locationID)
}
