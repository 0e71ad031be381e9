package webhook

import (
	"context"
	"database/sql"
	"time"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// eventRetention bounds how long processed event ids are kept. Vendors stop
// retrying within days; anything older can only be a replay.
const eventRetention = 7 * 24 * time.Hour

type postgresEventStore struct {
	db      *sql.DB
	nowFunc func() time.Time
}

func NewPostgresEventStore(db *sql.DB) EventStore {
	return &postgresEventStore{db: db, nowFunc: time.Now}
}

// MarkProcessed relies on the (provider, event_id) primary key: the first
// insert wins, duplicates hit the conflict and affect zero rows.
func (s *postgresEventStore) MarkProcessed(ctx context.Context, provider pos.Provider, eventID, businessID string) (bool, error) {
	now := s.nowFunc()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO processed_webhook_events (provider, event_id, business_id, received_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (provider, event_id) DO NOTHING`,
		provider, eventID, businessID, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	// Inline retention sweep; cheap against the received_at index.
	_, _ = s.db.ExecContext(ctx,
		`DELETE FROM processed_webhook_events WHERE received_at < $1`, now.Add(-eventRetention))
	return n == 1, nil
}
