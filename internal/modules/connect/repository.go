package connect

import (
	"context"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// Repository persists POS credentials per business. Get satisfies
// pos.CredentialSource so the adapter facade reads through the same store.
type Repository interface {
	Save(ctx context.Context, businessID string, creds pos.Credentials) error
	Get(ctx context.Context, businessID string) (*pos.Credentials, error)
	Delete(ctx context.Context, businessID string) error
}
