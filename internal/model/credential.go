package model

import "time"

// Credential is an API key issued to an application. The raw key is never
// stored; only its SHA-256 hash and a short prefix for identification are
// persisted.
type Credential struct {
	ID         int64      `json:"id" db:"id"`
	KeyHash    string     `json:"-" db:"key_hash"`
	KeyPrefix  string     `json:"key_prefix" db:"key_prefix"`
	AppName    string     `json:"app_name" db:"app_name"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}
