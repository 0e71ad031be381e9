package connect

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// postgresRepo stores credentials as a secretbox-encrypted JSON blob so
// access tokens never sit in the database in the clear. The 32-byte key
// comes from configuration.
type postgresRepo struct {
	db  *sql.DB
	key [32]byte
}

func NewPostgresRepository(db *sql.DB, encryptionKey [32]byte) Repository {
	return &postgresRepo{db: db, key: encryptionKey}
}

func (r *postgresRepo) Save(ctx context.Context, businessID string, creds pos.Credentials) error {
	sealed, err := r.seal(creds)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO pos_credentials (business_id, provider, payload, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (business_id)
		DO UPDATE SET provider=$2, payload=$3, updated_at=$4`,
		businessID, creds.Provider, sealed, time.Now())
	return err
}

func (r *postgresRepo) Get(ctx context.Context, businessID string) (*pos.Credentials, error) {
	var sealed []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM pos_credentials WHERE business_id=$1`, businessID).Scan(&sealed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no POS connection for business %s", businessID)
	}
	if err != nil {
		return nil, err
	}
	return r.open(sealed)
}

func (r *postgresRepo) Delete(ctx context.Context, businessID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pos_credentials WHERE business_id=$1`, businessID)
	return err
}

// ── sealing ───────────────────────────────────────────────────────────────────

func (r *postgresRepo) seal(creds pos.Credentials) ([]byte, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plain, &nonce, &r.key), nil
}

func (r *postgresRepo) open(sealed []byte) (*pos.Credentials, error) {
	if len(sealed) < 24 {
		return nil, fmt.Errorf("credential blob too short")
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plain, ok := secretbox.Open(nil, sealed[24:], &nonce, &r.key)
	if !ok {
		return nil, fmt.Errorf("credential blob failed to decrypt")
	}
	creds := &pos.Credentials{}
	if err := json.Unmarshal(plain, creds); err != nil {
		return nil, err
	}
	return creds, nil
}
