// Package store persists API credentials in the relational store selected by
// the connector.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/faucetdb/kevd/internal/connector"
	"github.com/faucetdb/kevd/internal/model"
)

var (
	// ErrNotFound is returned when a requested credential does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAmbiguousPrefix is returned when a key prefix matches more than one
	// active credential.
	ErrAmbiguousPrefix = errors.New("key prefix matches more than one active key")
)

const credentialColumns = `id, key_hash, key_prefix, app_name, is_active, created_at, last_used_at`

// Store manages the api_keys table.
type Store struct {
	conn connector.Connector
	db   *sqlx.DB
}

// New creates a Store on an already connected connector.
func New(conn connector.Connector) *Store {
	return &Store{conn: conn, db: conn.DB()}
}

// Migrate creates the credential table and its indexes if they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.conn.Migrations() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.conn.DriverName(), err)
		}
	}
	return nil
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// ---------------------------------------------------------------------------
// Credential management
// ---------------------------------------------------------------------------

// CreateCredential inserts a new credential record. KeyHash must already be
// set (use HashKey). ID and CreatedAt are populated after insert. A duplicate
// key hash is rejected by the unique constraint.
func (s *Store) CreateCredential(ctx context.Context, c *model.Credential) error {
	c.CreatedAt = time.Now().UTC()

	q := s.db.Rebind(`INSERT INTO api_keys
		(key_hash, key_prefix, app_name, is_active, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, c.KeyHash, c.KeyPrefix, c.AppName, c.IsActive, c.CreatedAt); err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}

	// Read back by hash: not every driver supports LastInsertId.
	stored, err := s.GetByHash(ctx, c.KeyHash)
	if err != nil {
		return fmt.Errorf("read back api key: %w", err)
	}
	c.ID = stored.ID
	return nil
}

// GetByHash looks up a credential by its SHA-256 key hash.
func (s *Store) GetByHash(ctx context.Context, hash string) (*model.Credential, error) {
	var c model.Credential
	q := s.db.Rebind("SELECT " + credentialColumns + " FROM api_keys WHERE key_hash = ?")
	if err := s.db.GetContext(ctx, &c, q, hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &c, nil
}

// FindActive returns the active credential matching both the key hash and
// the application name exactly.
func (s *Store) FindActive(ctx context.Context, hash, appName string) (*model.Credential, error) {
	var c model.Credential
	q := s.db.Rebind("SELECT " + credentialColumns +
		" FROM api_keys WHERE key_hash = ? AND app_name = ? AND is_active = ?")
	if err := s.db.GetContext(ctx, &c, q, hash, appName, true); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find active api key: %w", err)
	}
	return &c, nil
}

// List returns all credentials, newest first.
func (s *Store) List(ctx context.Context) ([]model.Credential, error) {
	var creds []model.Credential
	q := "SELECT " + credentialColumns + " FROM api_keys ORDER BY created_at DESC, id DESC"
	if err := s.db.SelectContext(ctx, &creds, q); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return creds, nil
}

// TouchLastUsed advances last_used_at for a credential to at. The stored
// value never moves backwards, so a concurrent caller with an older at is a
// no-op. Zero affected rows is not an error: MySQL reports changed rows, not
// matched ones.
func (s *Store) TouchLastUsed(ctx context.Context, id int64, at time.Time) error {
	at = at.UTC()
	q := s.db.Rebind(`UPDATE api_keys SET last_used_at = ?
		WHERE id = ? AND (last_used_at IS NULL OR last_used_at < ?)`)
	if _, err := s.db.ExecContext(ctx, q, at, id, at); err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

// DeactivateByPrefix marks the single active credential with the given key
// prefix as inactive. Deactivated keys are never reactivated.
func (s *Store) DeactivateByPrefix(ctx context.Context, prefix string) error {
	var ids []int64
	q := s.db.Rebind("SELECT id FROM api_keys WHERE key_prefix = ? AND is_active = ?")
	if err := s.db.SelectContext(ctx, &ids, q, prefix, true); err != nil {
		return fmt.Errorf("find api key by prefix: %w", err)
	}
	switch len(ids) {
	case 0:
		return ErrNotFound
	case 1:
	default:
		return fmt.Errorf("%w: %q", ErrAmbiguousPrefix, prefix)
	}

	q = s.db.Rebind("UPDATE api_keys SET is_active = ? WHERE id = ?")
	if _, err := s.db.ExecContext(ctx, q, false, ids[0]); err != nil {
		return fmt.Errorf("deactivate api key: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

// HashKey returns the hex-encoded SHA-256 hash of a raw API key string.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
