// Package service holds the credential issuing and checking logic shared by
// the HTTP server, the MCP server and the CLI.
package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/faucetdb/kevd/internal/model"
	"github.com/faucetdb/kevd/internal/store"
)

var (
	// ErrInvalidCredentials is returned for every authentication miss: unknown
	// key, wrong application name or inactive key.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrMissingAppName is returned when a key is requested without an
	// application name.
	ErrMissingAppName = errors.New("app_name is required")
)

const (
	keyBytes = 32
	// PrefixLength is the number of leading key characters kept to identify
	// a key without revealing it.
	PrefixLength = 12
)

// AuthService issues and validates API keys.
type AuthService struct {
	store *store.Store
	now   func() time.Time
}

// NewAuthService creates an AuthService backed by s.
func NewAuthService(s *store.Store) *AuthService {
	return &AuthService{store: s, now: time.Now}
}

// IssueKey creates a new active key for appName and returns the raw key.
// The raw key is 64 lowercase hex characters and is not recoverable later.
// appName is stored exactly as given, since Authenticate matches it exactly.
func (s *AuthService) IssueKey(ctx context.Context, appName string) (string, *model.Credential, error) {
	if strings.TrimSpace(appName) == "" {
		return "", nil, ErrMissingAppName
	}

	raw, err := generateKey()
	if err != nil {
		return "", nil, err
	}

	cred := &model.Credential{
		KeyHash:   store.HashKey(raw),
		KeyPrefix: raw[:PrefixLength],
		AppName:   appName,
		IsActive:  true,
	}
	if err := s.store.CreateCredential(ctx, cred); err != nil {
		return "", nil, fmt.Errorf("issue key: %w", err)
	}
	return raw, cred, nil
}

// Authenticate checks rawKey and appName against the active credentials. On
// success last_used_at is updated before the credential is returned.
func (s *AuthService) Authenticate(ctx context.Context, rawKey, appName string) (*model.Credential, error) {
	if rawKey == "" || appName == "" {
		return nil, ErrInvalidCredentials
	}

	cred, err := s.store.FindActive(ctx, store.HashKey(rawKey), appName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	now := s.now().UTC()
	if err := s.store.TouchLastUsed(ctx, cred.ID, now); err != nil {
		return nil, fmt.Errorf("record key use: %w", err)
	}
	cred.LastUsedAt = &now
	return cred, nil
}

// List returns every issued credential without raw keys.
func (s *AuthService) List(ctx context.Context) ([]model.Credential, error) {
	return s.store.List(ctx)
}

// Deactivate disables the key identified by prefix.
func (s *AuthService) Deactivate(ctx context.Context, prefix string) error {
	if len(prefix) < 4 {
		return fmt.Errorf("key prefix %q is too short", prefix)
	}
	return s.store.DeactivateByPrefix(ctx, prefix)
}

func generateKey() (string, error) {
	b := make([]byte, keyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return hex.EncodeToString(b), nil
}
