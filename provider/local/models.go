package local

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type identityRecord struct {
	bun.BaseModel `bun:"table:identities,alias:idn"`
	ID            uuid.UUID      `bun:"id,pk,type:uuid"`
	Email         string         `bun:"email,notnull,unique"`
	PasswordHash  string         `bun:"password_hash,notnull"`
	Metadata      map[string]any `bun:"metadata"`
	CreatedAt     time.Time      `bun:"created_at,notnull"`
}

type sessionRecord struct {
	bun.BaseModel `bun:"table:identity_sessions,alias:ses"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid"`
	IdentityID    uuid.UUID  `bun:"identity_id,notnull,type:uuid"`
	RefreshToken  string     `bun:"refresh_token,notnull,unique"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull"`
	RevokedAt     *time.Time `bun:"revoked_at"`
	CreatedAt     time.Time  `bun:"created_at,notnull"`
}

func (s *sessionRecord) active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
