package business

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// Service defines business onboarding and location sync logic.
type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*Business, error)
	Get(ctx context.Context, id string) (*Business, error)
	List(ctx context.Context) ([]*Business, error)
	SetDefaultLocation(ctx context.Context, id, locationID string) error
	SyncLocations(ctx context.Context, id string) ([]*LocationSnapshot, error)
	Locations(ctx context.Context, id string) ([]*LocationSnapshot, error)
}

type service struct {
	repo       Repository
	posService pos.Service
}

func NewService(repo Repository, posService pos.Service) Service {
	return &service{repo: repo, posService: posService}
}

func (s *service) Register(ctx context.Context, req RegisterRequest) (*Business, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	b := &Business{
		ID:      uuid.New(),
		Name:    req.Name,
		Country: req.Country,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *service) Get(ctx context.Context, id string) (*Business, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) List(ctx context.Context) ([]*Business, error) {
	return s.repo.List(ctx)
}

func (s *service) SetDefaultLocation(ctx context.Context, id, locationID string) error {
	return s.repo.SetDefaultLocation(ctx, id, locationID)
}

// SyncLocations refreshes the snapshot from the vendor. The fetched set
// replaces the stored one wholesale.
func (s *service) SyncLocations(ctx context.Context, id string) ([]*LocationSnapshot, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("business not found: %w", err)
	}
	locations, err := s.posService.ListLocations(ctx, id)
	if err != nil {
		return nil, err
	}
	adapter, err := s.posService.AdapterFor(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	snapshots := make([]*LocationSnapshot, 0, len(locations))
	for _, l := range locations {
		snapshots = append(snapshots, &LocationSnapshot{
			BusinessID: b.ID,
			Provider:   adapter.Provider(),
			LocationID: l.ID,
			Name:       l.Name,
			Address:    l.Address,
			Timezone:   l.Timezone,
			Currency:   l.Currency,
			Active:     l.Active,
			SyncedAt:   now,
		})
	}
	if err := s.repo.ReplaceLocations(ctx, id, snapshots); err != nil {
		return nil, err
	}
	// A single-location vendor account becomes the default automatically.
	if b.DefaultLocationID == "" && len(snapshots) == 1 {
		if err := s.repo.SetDefaultLocation(ctx, id, snapshots[0].LocationID); err != nil {
			return nil, err
		}
	}
	return snapshots, nil
}

func (s *service) Locations(ctx context.Context, id string) ([]*LocationSnapshot, error) {
	return s.repo.ListLocations(ctx, id)
}
