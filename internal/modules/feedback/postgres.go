package feedback

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

func (r *postgresRepo) Create(ctx context.Context, c *Claim) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO feedback_claims
		  (id, business_id, provider, external_tx_id, location_id, amount,
		   currency, status, candidates, purchased_at, matched_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		c.ID, c.BusinessID, c.Provider, c.ExternalTxID, c.LocationID, c.Amount,
		c.Currency, c.Status, c.Candidates, c.PurchasedAt, c.MatchedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrAlreadyClaimed
	}
	return err
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*Claim, error) {
	return r.scan(r.db.QueryRowContext(ctx, `
		SELECT id,business_id,provider,external_tx_id,location_id,amount,
		       currency,status,candidates,purchased_at,matched_at,created_at
		FROM feedback_claims WHERE id=$1`, id))
}

func (r *postgresRepo) ListByBusiness(ctx context.Context, businessID string) ([]*Claim, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id,business_id,provider,external_tx_id,location_id,amount,
		       currency,status,candidates,purchased_at,matched_at,created_at
		FROM feedback_claims WHERE business_id=$1 ORDER BY created_at DESC`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Claim
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ── scanner ───────────────────────────────────────────────────────────────────

type rowScanner interface{ Scan(dest ...interface{}) error }

func (r *postgresRepo) scan(row rowScanner) (*Claim, error) {
	c := &Claim{}
	var locationID sql.NullString
	err := row.Scan(&c.ID, &c.BusinessID, &c.Provider, &c.ExternalTxID, &locationID,
		&c.Amount, &c.Currency, &c.Status, &c.Candidates,
		&c.PurchasedAt, &c.MatchedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.LocationID = locationID.String
	return c, nil
}
