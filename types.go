package auth

import (
	"context"
	"time"
)

// AuthEvent names the kind of change an identity client reports.
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// UserIdentity is the account record held by the identity provider.
type UserIdentity struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Session is an authenticated session issued by the identity provider.
// Tokens are opaque to this package and never rendered.
type Session struct {
	AccessToken  string       `json:"-"`
	RefreshToken string       `json:"-"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         UserIdentity `json:"user"`
}

// AuthResponse is what password sign in and sign up hand back.
// Either field may be nil depending on provider policy.
type AuthResponse struct {
	Session *Session
	User    *UserIdentity
}

// SignUpRequest carries the credentials and the metadata stored on the
// new identity.
type SignUpRequest struct {
	Email    string
	Password string
	Metadata map[string]any
}

// AuthChangeHandler receives identity change notifications. A nil
// session means the user is signed out.
type AuthChangeHandler func(event AuthEvent, session *Session)

// Subscription is returned by OnAuthStateChange
type Subscription interface {
	Unsubscribe()
}

// IdentityClient is the remote identity service as seen by one
// view tree. Implementations deliver notifications asynchronously and in
// the order they happened.
type IdentityClient interface {
	GetSession(ctx context.Context) (*Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*AuthResponse, error)
	SignUp(ctx context.Context, req SignUpRequest) (*AuthResponse, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(handler AuthChangeHandler) Subscription
	Close() error
}

// ClientFactory creates the identity client bound to a view id.
type ClientFactory interface {
	NewClient(ctx context.Context, viewID string) (IdentityClient, error)
}

// ClientFactoryFunc adapts a function to ClientFactory
type ClientFactoryFunc func(ctx context.Context, viewID string) (IdentityClient, error)

// NewClient calls f
func (f ClientFactoryFunc) NewClient(ctx context.Context, viewID string) (IdentityClient, error) {
	return f(ctx, viewID)
}

// ProfileStore persists patient profiles.
// FindByUserIdentity returns ErrProfileNotFound when no row matches and
// Insert returns ErrProfileConflict on duplicate identities.
type ProfileStore interface {
	FindByUserIdentity(ctx context.Context, identityID string) (*PatientProfile, error)
	Insert(ctx context.Context, profile *PatientProfile) error
}

// Config holds the portal options the HTTP layer needs
type Config interface {
	GetCookieName() string
	GetCookieSecure() bool
	GetCookieTTL() time.Duration
	GetHydrateWait() time.Duration
	GetPhoneRegion() string
}
