package feedback

import (
	"context"
	"errors"
)

// ErrAlreadyClaimed is returned when the vendor transaction already has a
// claim, from this or any concurrent request.
var ErrAlreadyClaimed = errors.New("transaction already claimed")

// Repository defines data access for claims.
type Repository interface {
	// Create inserts the claim; ErrAlreadyClaimed when the unique
	// (provider, external_tx_id) constraint fires.
	Create(ctx context.Context, c *Claim) error
	GetByID(ctx context.Context, id string) (*Claim, error)
	ListByBusiness(ctx context.Context, businessID string) ([]*Claim, error)
}
