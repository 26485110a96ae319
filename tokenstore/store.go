// Package tokenstore persists the session tokens an identity client holds
// for one view tree.
package tokenstore

import (
	"context"
	"time"
)

// Token is the persisted part of a session
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store keeps one token per key. Load returns nil, nil when nothing is stored.
type Store interface {
	Load(ctx context.Context, key string) (*Token, error)
	Save(ctx context.Context, key string, token Token) error
	Delete(ctx context.Context, key string) error
}
