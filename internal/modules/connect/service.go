package connect

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// ConnectRequest starts an OAuth authorization for a business.
type ConnectRequest struct {
	BusinessID  string   `json:"business_id" validate:"required,uuid4"`
	RedirectURI string   `json:"redirect_uri" validate:"required,url"`
	ShopDomain  string   `json:"shop_domain,omitempty"` // Shopify only
	Scopes      []string `json:"scopes,omitempty"`
}

// Service drives the per-vendor OAuth dialects and owns credential
// persistence handoff. Tokens themselves never transit back to callers.
type Service interface {
	GenerateAuthURL(ctx context.Context, provider pos.Provider, req ConnectRequest) (*pos.OAuthStart, error)
	HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error)
	Refresh(ctx context.Context, businessID string) error
	Disconnect(ctx context.Context, businessID string) error
}

// CallbackResult is what the caller's redirect handler renders.
type CallbackResult struct {
	BusinessID string               `json:"business_id"`
	Provider   pos.Provider         `json:"provider"`
	Status     pos.ConnectionStatus `json:"status"`
}

type service struct {
	registry *pos.Registry
	repo     Repository
	states   *StateIssuer
}

func NewService(registry *pos.Registry, repo Repository, states *StateIssuer) Service {
	return &service{registry: registry, repo: repo, states: states}
}

func (s *service) GenerateAuthURL(ctx context.Context, provider pos.Provider, req ConnectRequest) (*pos.OAuthStart, error) {
	adapter, err := s.registry.New(provider)
	if err != nil {
		return nil, err
	}
	if !adapter.Capabilities().Has(pos.CapOAuth) {
		return nil, pos.ErrNotSupported(provider, "oauth")
	}
	if shopScoped, ok := adapter.(pos.ShopScoped); ok {
		if req.ShopDomain == "" {
			return nil, fmt.Errorf("%s requires shop_domain", provider)
		}
		shopScoped.SetShopDomain(req.ShopDomain)
	}

	state, err := s.states.Issue(req.BusinessID, provider, req.RedirectURI, req.ShopDomain)
	if err != nil {
		return nil, fmt.Errorf("issue oauth state: %w", err)
	}
	authURL, err := adapter.GenerateAuthURL(req.RedirectURI, state, req.Scopes)
	if err != nil {
		return nil, err
	}
	return &pos.OAuthStart{URL: authURL, State: state}, nil
}

func (s *service) HandleCallback(ctx context.Context, code, state string) (*CallbackResult, error) {
	claims, err := s.states.Verify(state)
	if err != nil {
		logrus.WithError(err).Warn("oauth state rejected")
		return nil, err
	}

	provider := pos.Provider(claims.Provider)
	adapter, err := s.registry.New(provider)
	if err != nil {
		return nil, err
	}
	if shopScoped, ok := adapter.(pos.ShopScoped); ok {
		shopScoped.SetShopDomain(claims.ShopDomain)
	}

	creds, err := adapter.ExchangeCode(ctx, code, claims.RedirectURI)
	if err != nil {
		return nil, err
	}

	// Validate before persisting so a bad exchange never overwrites a
	// working connection.
	status := adapter.TestConnection(ctx, *creds)
	if !status.Connected {
		reason := "vendor rejected the credentials"
		if status.Error != nil {
			reason = status.Error.Message
		}
		return &CallbackResult{BusinessID: claims.BusinessID, Provider: provider, Status: status},
			pos.ErrConnectionValidation(provider, fmt.Errorf("%s", reason))
	}

	if err := s.repo.Save(ctx, claims.BusinessID, *creds); err != nil {
		return nil, fmt.Errorf("persist credentials: %w", err)
	}
	logrus.WithFields(logrus.Fields{
		"business_id": claims.BusinessID,
		"provider":    provider,
	}).Info("POS account connected")
	return &CallbackResult{BusinessID: claims.BusinessID, Provider: provider, Status: status}, nil
}

func (s *service) Refresh(ctx context.Context, businessID string) error {
	creds, err := s.repo.Get(ctx, businessID)
	if err != nil {
		return err
	}
	adapter, err := s.registry.New(creds.Provider)
	if err != nil {
		return err
	}
	if !adapter.Capabilities().Has(pos.CapRefresh) {
		return pos.ErrNotSupported(creds.Provider, "token refresh")
	}
	if creds.RefreshToken == "" {
		return pos.ErrTokenExchange(creds.Provider, fmt.Errorf("no refresh token on file"))
	}
	fresh, err := adapter.RefreshToken(ctx, creds.RefreshToken)
	if err != nil {
		return err
	}
	// Vendors omit unchanged fields on refresh; carry them over.
	if fresh.WebhookSecret == "" {
		fresh.WebhookSecret = creds.WebhookSecret
	}
	if fresh.MerchantID == "" {
		fresh.MerchantID = creds.MerchantID
	}
	return s.repo.Save(ctx, businessID, *fresh)
}

func (s *service) Disconnect(ctx context.Context, businessID string) error {
	if err := s.repo.Delete(ctx, businessID); err != nil {
		return err
	}
	logrus.WithField("business_id", businessID).Info("POS account disconnected")
	return nil
}
