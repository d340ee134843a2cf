package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"caseflow/internal/domain"
)

// HashAPIKey returns a stable SHA-256 hex digest for the provided key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAPIKeyTx stores a hashed staff API key. KeyHash must already contain the hashed value.
func (r Repo) InsertAPIKeyTx(ctx context.Context, tx *sqlx.Tx, key domain.APIKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.StaffID == "" {
		return errors.New("staff_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO api_keys(id, staff_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.StaffID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

// GetAPIKeyByHash returns an API key by its hashed value.
func (r Repo) GetAPIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	var key domain.APIKey
	err := get(ctx, r.DB, &key, `SELECT id, staff_id, COALESCE(name,'') AS name, key_hash, created_at FROM api_keys WHERE key_hash=? LIMIT 1`, hash)
	return key, err
}

// ListAPIKeys returns API keys, optionally filtered by staff ID.
func (r Repo) ListAPIKeys(ctx context.Context, staffID string) ([]domain.APIKey, error) {
	query := `SELECT id, staff_id, COALESCE(name,'') AS name, key_hash, created_at FROM api_keys`
	var args []any
	if staffID != "" {
		query += ` WHERE staff_id=?`
		args = append(args, staffID)
	}
	query += ` ORDER BY created_at DESC`
	var keys []domain.APIKey
	err := r.DB.SelectContext(ctx, &keys, query, args...)
	return keys, err
}

// DeleteAPIKey deletes an API key by ID.
func (r Repo) DeleteAPIKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	ok, err := affected(r.DB.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
