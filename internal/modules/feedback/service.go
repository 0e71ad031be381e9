package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// ErrNoMatch is returned when no vendor transaction sits inside the
// tolerance window with the claimed amount.
var ErrNoMatch = errors.New("no matching transaction found")

// Service defines the claim flow.
type Service interface {
	ClaimPurchase(ctx context.Context, req ClaimRequest) (*Claim, error)
	GetClaim(ctx context.Context, id string) (*Claim, error)
	ListBusinessClaims(ctx context.Context, businessID string) ([]*Claim, error)
}

// LocationDefaulter resolves a business's default location when the claim
// omits one. Implemented by the business service.
type LocationDefaulter interface {
	Get(ctx context.Context, id string) (defaultLocationID string, err error)
}

type service struct {
	repo       Repository
	posService pos.Service
	locations  LocationDefaulter
}

func NewService(repo Repository, posService pos.Service, locations LocationDefaulter) Service {
	return &service{repo: repo, posService: posService, locations: locations}
}

// ClaimPurchase re-verifies the claimed purchase against the vendor before
// inserting. The matcher's cache may absorb repeat lookups, but the unique
// constraint on (provider, external_tx_id) is the final arbiter: two
// concurrent claims for the same transaction resolve to one winner.
func (s *service) ClaimPurchase(ctx context.Context, req ClaimRequest) (*Claim, error) {
	businessID, err := uuid.Parse(req.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("invalid business_id: %w", err)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("amount must be greater than zero")
	}

	locationID := req.LocationID
	if locationID == "" && s.locations != nil {
		locationID, err = s.locations.Get(ctx, req.BusinessID)
		if err != nil || locationID == "" {
			return nil, fmt.Errorf("location_id is required (no default location configured)")
		}
	}

	result, err := s.posService.FindMatchingTransaction(ctx, req.BusinessID, pos.MatchRequest{
		LocationID:       locationID,
		Amount:           req.Amount,
		Timestamp:        req.Timestamp,
		ToleranceMinutes: req.ToleranceMinutes,
	})
	if err != nil {
		return nil, err
	}
	if result.Transaction == nil {
		return nil, ErrNoMatch
	}

	tx := result.Transaction
	status := ClaimMatched
	if result.Ambiguous {
		status = ClaimPendingReview
	}

	claim := &Claim{
		ID:           uuid.New(),
		BusinessID:   businessID,
		Provider:     tx.Provider,
		ExternalTxID: tx.ExternalID,
		LocationID:   tx.LocationID,
		Amount:       tx.Amount,
		Currency:     tx.Currency,
		Status:       status,
		Candidates:   result.Candidates,
		PurchasedAt:  req.Timestamp,
		MatchedAt:    time.Now(),
	}
	if err := s.repo.Create(ctx, claim); err != nil {
		if errors.Is(err, ErrAlreadyClaimed) {
			logrus.WithFields(logrus.Fields{
				"provider":       tx.Provider,
				"external_tx_id": tx.ExternalID,
			}).Warn("duplicate claim attempt")
		}
		return nil, err
	}
	return claim, nil
}

func (s *service) GetClaim(ctx context.Context, id string) (*Claim, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) ListBusinessClaims(ctx context.Context, businessID string) ([]*Claim, error) {
	return s.repo.ListByBusiness(ctx, businessID)
}
