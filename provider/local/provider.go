// Package local is an embedded identity provider backed by bun. It issues
// HS256 access tokens and rotating refresh tokens so the portal can run
// without an external identity service.
package local

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-patient-auth"
	"github.com/goliatone/go-patient-auth/repository"
	"github.com/goliatone/go-patient-auth/tokenstore"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"golang.org/x/crypto/bcrypt"
)

// Provider owns the identity and session tables
type Provider struct {
	db                *bun.DB
	signingKey        []byte
	issuer            string
	accessTTL         time.Duration
	refreshTTL        time.Duration
	minPasswordLength int
	bcryptCost        int
	deterministicIDs  bool
	now               func() time.Time
	logger            auth.Logger

	mu        sync.Mutex
	watchers  map[string]map[uint64]func()
	nextWatch uint64
}

// Option configures the Provider
type Option func(*Provider)

func WithIssuer(issuer string) Option {
	return func(p *Provider) { p.issuer = issuer }
}

func WithAccessTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.accessTTL = ttl
		}
	}
}

func WithRefreshTTL(ttl time.Duration) Option {
	return func(p *Provider) {
		if ttl > 0 {
			p.refreshTTL = ttl
		}
	}
}

func WithMinPasswordLength(n int) Option {
	return func(p *Provider) { p.minPasswordLength = n }
}

func WithBcryptCost(cost int) Option {
	return func(p *Provider) { p.bcryptCost = cost }
}

// WithDeterministicIDs derives identity ids from the email address
func WithDeterministicIDs(enabled bool) Option {
	return func(p *Provider) { p.deterministicIDs = enabled }
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

func WithLogger(logger auth.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewProvider returns a provider signing tokens with signingKey
func NewProvider(db *bun.DB, signingKey string, opts ...Option) (*Provider, error) {
	if signingKey == "" {
		return nil, errors.New("signing key is required", errors.CategoryBadInput)
	}

	p := &Provider{
		db:                db,
		signingKey:        []byte(signingKey),
		issuer:            "patient-portal",
		accessTTL:         time.Hour,
		refreshTTL:        30 * 24 * time.Hour,
		minPasswordLength: 6,
		bcryptCost:        bcrypt.DefaultCost,
		now:               time.Now,
		logger:            auth.ResolveLogger("auth.local", nil, nil),
		watchers:          make(map[string]map[uint64]func()),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// EnsureSchema creates the identity tables when missing
func (p *Provider) EnsureSchema(ctx context.Context) error {
	models := []any{
		(*identityRecord)(nil),
		(*sessionRecord)(nil),
	}
	for _, model := range models {
		if _, err := p.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to create identity tables")
		}
	}
	return nil
}

// SignUp creates an identity and opens a session for it
func (p *Provider) SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.AuthResponse, error) {
	email := normalizeEmail(req.Email)

	if err := is.Email.Validate(email); err != nil || email == "" {
		return nil, auth.NewAuthRejected(err, "Unable to validate email address: invalid format")
	}

	if len(req.Password) < p.minPasswordLength {
		return nil, auth.NewAuthRejected(nil,
			fmt.Sprintf("Password should be at least %d characters.", p.minPasswordLength))
	}

	exists, err := p.db.NewSelect().
		Model((*identityRecord)(nil)).
		Where("?TableAlias.email = ?", email).
		Exists(ctx)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errUserExists()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), p.bcryptCost)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to hash password")
	}

	id, err := p.newIdentityID(email)
	if err != nil {
		return nil, err
	}

	record := &identityRecord{
		ID:           id,
		Email:        email,
		PasswordHash: string(hash),
		Metadata:     req.Metadata,
		CreatedAt:    p.now().UTC(),
	}

	if err := p.insertIdentity(ctx, record); err != nil {
		return nil, err
	}

	session, err := p.openSession(ctx, record)
	if err != nil {
		return nil, err
	}

	p.logger.Info("identity created", "identity_id", record.ID)

	user := session.User
	return &auth.AuthResponse{Session: session, User: &user}, nil
}

// insertIdentity stores record. A concurrent sign up that won the race for
// the same email is reported as an existing user.
func (p *Provider) insertIdentity(ctx context.Context, record *identityRecord) error {
	if _, err := p.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if repository.IsUniqueViolation(err) {
			return errUserExists()
		}
		return err
	}
	return nil
}

// SignIn checks the password and opens a session
func (p *Provider) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	record, err := p.identityByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errInvalidCredentials()
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return nil, errInvalidCredentials()
		}
		return nil, err
	}

	return p.openSession(ctx, record)
}

// Refresh exchanges a refresh token for a new session. The refresh token
// rotates, the old one stops working.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*auth.Session, error) {
	if refreshToken == "" {
		return nil, errInvalidRefreshToken()
	}

	now := p.now()
	ses := &sessionRecord{}
	err := p.db.NewSelect().
		Model(ses).
		Where("?TableAlias.refresh_token = ?", refreshToken).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errInvalidRefreshToken()
		}
		return nil, err
	}

	if !ses.active(now) {
		return nil, errInvalidRefreshToken()
	}

	identity, err := p.identityByID(ctx, ses.IdentityID)
	if err != nil {
		return nil, err
	}

	next, err := randomToken()
	if err != nil {
		return nil, err
	}

	res, err := p.db.NewUpdate().
		Model((*sessionRecord)(nil)).
		Set("refresh_token = ?", next).
		Set("expires_at = ?", now.Add(p.refreshTTL).UTC()).
		Where("id = ?", ses.ID).
		Where("refresh_token = ?", refreshToken).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// lost a race with another refresh or a revocation
		return nil, errInvalidRefreshToken()
	}

	access, expiresAt, err := p.signAccessToken(identity, ses.ID)
	if err != nil {
		return nil, err
	}

	return &auth.Session{
		AccessToken:  access,
		RefreshToken: next,
		ExpiresAt:    expiresAt,
		User:         toUserIdentity(identity),
	}, nil
}

// SessionFromAccessToken validates the token and the session behind it.
// The returned session carries no refresh token.
func (p *Provider) SessionFromAccessToken(ctx context.Context, accessToken string) (*auth.Session, error) {
	claims, err := p.parseAccessToken(accessToken, true)
	if err != nil {
		return nil, err
	}

	sid, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	ses := &sessionRecord{}
	if err := p.db.NewSelect().Model(ses).Where("?TableAlias.id = ?", sid).Limit(1).Scan(ctx); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionRevoked
		}
		return nil, err
	}

	if !ses.active(p.now()) {
		return nil, ErrSessionRevoked
	}

	identity, err := p.identityByID(ctx, ses.IdentityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionRevoked
		}
		return nil, err
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return &auth.Session{
		AccessToken: accessToken,
		ExpiresAt:   expiresAt,
		User:        toUserIdentity(identity),
	}, nil
}

// SignOut revokes the session behind accessToken. Expired tokens are
// accepted, an already revoked session is not an error.
func (p *Provider) SignOut(ctx context.Context, accessToken string) error {
	claims, err := p.parseAccessToken(accessToken, false)
	if err != nil {
		return err
	}

	_, err = p.db.NewUpdate().
		Model((*sessionRecord)(nil)).
		Set("revoked_at = ?", p.now().UTC()).
		Where("id = ?", claims.SessionID).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}

	p.fire([]string{claims.SessionID})
	return nil
}

// RevokeUserSessions signs a user out everywhere. Clients watching the
// revoked sessions report SIGNED_OUT.
func (p *Provider) RevokeUserSessions(ctx context.Context, userID string) error {
	id, err := uuid.Parse(userID)
	if err != nil {
		return errors.Wrap(err, errors.CategoryBadInput, "invalid user id")
	}

	var ids []string
	if err := p.db.NewSelect().
		Model((*sessionRecord)(nil)).
		Column("id").
		Where("identity_id = ?", id.String()).
		Where("revoked_at IS NULL").
		Scan(ctx, &ids); err != nil {
		return err
	}

	if len(ids) == 0 {
		return nil
	}

	if _, err := p.db.NewUpdate().
		Model((*sessionRecord)(nil)).
		Set("revoked_at = ?", p.now().UTC()).
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx); err != nil {
		return err
	}

	p.fire(ids)

	p.logger.Info("user sessions revoked", "user_id", userID, "count", len(ids))
	return nil
}

// ClientFactory returns a factory of per view clients sharing tokens
func (p *Provider) ClientFactory(tokens tokenstore.Store, opts ...ClientOption) auth.ClientFactory {
	return auth.ClientFactoryFunc(func(_ context.Context, viewID string) (auth.IdentityClient, error) {
		return p.NewClient(viewID, tokens, opts...), nil
	})
}

func (p *Provider) openSession(ctx context.Context, identity *identityRecord) (*auth.Session, error) {
	refresh, err := randomToken()
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	ses := &sessionRecord{
		ID:           uuid.New(),
		IdentityID:   identity.ID,
		RefreshToken: refresh,
		ExpiresAt:    now.Add(p.refreshTTL),
		CreatedAt:    now,
	}

	if _, err := p.db.NewInsert().Model(ses).Exec(ctx); err != nil {
		return nil, err
	}

	access, expiresAt, err := p.signAccessToken(identity, ses.ID)
	if err != nil {
		return nil, err
	}

	return &auth.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiresAt,
		User:         toUserIdentity(identity),
	}, nil
}

func (p *Provider) identityByEmail(ctx context.Context, email string) (*identityRecord, error) {
	record := &identityRecord{}
	err := p.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", email).
		Limit(1).
		Scan(ctx)
	return record, err
}

func (p *Provider) identityByID(ctx context.Context, id uuid.UUID) (*identityRecord, error) {
	record := &identityRecord{}
	err := p.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	return record, err
}

func (p *Provider) newIdentityID(email string) (uuid.UUID, error) {
	if !p.deterministicIDs {
		return uuid.New(), nil
	}
	id, err := hashid.NewUUID(email)
	if err != nil {
		return uuid.Nil, errors.Wrap(err, errors.CategoryInternal, "failed to derive identity id")
	}
	return id, nil
}

// watchSession calls fn once when the session is revoked
func (p *Provider) watchSession(sid string, fn func()) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextWatch
	p.nextWatch++
	if p.watchers[sid] == nil {
		p.watchers[sid] = make(map[uint64]func())
	}
	p.watchers[sid][id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if w, ok := p.watchers[sid]; ok {
			delete(w, id)
			if len(w) == 0 {
				delete(p.watchers, sid)
			}
		}
	}
}

func (p *Provider) fire(sids []string) {
	var callbacks []func()

	p.mu.Lock()
	for _, sid := range sids {
		for _, fn := range p.watchers[sid] {
			callbacks = append(callbacks, fn)
		}
		delete(p.watchers, sid)
	}
	p.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}

func toUserIdentity(record *identityRecord) auth.UserIdentity {
	metadata := make(map[string]any, len(record.Metadata))
	for k, v := range record.Metadata {
		metadata[k] = v
	}
	return auth.UserIdentity{
		ID:       record.ID.String(),
		Email:    record.Email,
		Metadata: metadata,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
