package business

import (
	"context"
	"database/sql"
	"time"
)

type postgresRepo struct{ db *sql.DB }

func NewPostgresRepository(db *sql.DB) Repository { return &postgresRepo{db: db} }

func (r *postgresRepo) Create(ctx context.Context, b *Business) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO businesses (id, name, country, default_location_id)
		VALUES ($1,$2,$3,$4)`,
		b.ID, b.Name, b.Country, b.DefaultLocationID)
	return err
}

func (r *postgresRepo) GetByID(ctx context.Context, id string) (*Business, error) {
	return r.scan(r.db.QueryRowContext(ctx, `
		SELECT id,name,country,default_location_id,created_at,updated_at
		FROM businesses WHERE id=$1`, id))
}

func (r *postgresRepo) List(ctx context.Context) ([]*Business, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id,name,country,default_location_id,created_at,updated_at
		FROM businesses ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Business
	for rows.Next() {
		b, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *postgresRepo) SetDefaultLocation(ctx context.Context, id, locationID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE businesses SET default_location_id=$1, updated_at=$2 WHERE id=$3`,
		locationID, time.Now(), id)
	return err
}

// ReplaceLocations swaps the whole snapshot set in one transaction so a
// partial vendor response never leaves a mixed view.
func (r *postgresRepo) ReplaceLocations(ctx context.Context, businessID string, locations []*LocationSnapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pos_locations WHERE business_id=$1`, businessID); err != nil {
		return err
	}
	for _, l := range locations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pos_locations
			  (business_id, provider, location_id, name, address, timezone, currency, active, synced_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			l.BusinessID, l.Provider, l.LocationID, l.Name, l.Address,
			l.Timezone, l.Currency, l.Active, l.SyncedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *postgresRepo) ListLocations(ctx context.Context, businessID string) ([]*LocationSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT business_id,provider,location_id,name,address,timezone,currency,active,synced_at
		FROM pos_locations WHERE business_id=$1 ORDER BY name`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*LocationSnapshot
	for rows.Next() {
		l := &LocationSnapshot{}
		var address, timezone, currency sql.NullString
		if err := rows.Scan(&l.BusinessID, &l.Provider, &l.LocationID, &l.Name,
			&address, &timezone, &currency, &l.Active, &l.SyncedAt); err != nil {
			return nil, err
		}
		l.Address = address.String
		l.Timezone = timezone.String
		l.Currency = currency.String
		out = append(out, l)
	}
	return out, rows.Err()
}

// ── scanner ───────────────────────────────────────────────────────────────────

type rowScanner interface{ Scan(dest ...interface{}) error }

func (r *postgresRepo) scan(row rowScanner) (*Business, error) {
	b := &Business{}
	var country, defaultLocation sql.NullString
	err := row.Scan(&b.ID, &b.Name, &country, &defaultLocation, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	b.Country = country.String
	b.DefaultLocationID = defaultLocation.String
	return b, nil
}
