package business

import "context"

// Repository defines data access for businesses and location snapshots.
type Repository interface {
	Create(ctx context.Context, b *Business) error
	GetByID(ctx context.Context, id string) (*Business, error)
	List(ctx context.Context) ([]*Business, error)
	SetDefaultLocation(ctx context.Context, id, locationID string) error

	ReplaceLocations(ctx context.Context, businessID string, locations []*LocationSnapshot) error
	ListLocations(ctx context.Context, businessID string) ([]*LocationSnapshot, error)
}
