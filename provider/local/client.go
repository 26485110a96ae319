package local

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-patient-auth"
	"github.com/goliatone/go-patient-auth/tokenstore"
)

// Client is the identity client of one view. Its tokens live in a
// tokenstore keyed by the view id, so a new client for the same view
// picks the session back up.
type Client struct {
	provider       *Provider
	tokens         tokenstore.Store
	key            string
	notifier       *auth.ChangeNotifier
	refreshMargin  time.Duration
	retryInterval  time.Duration
	requestTimeout time.Duration
	logger         auth.Logger

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64
	unwatch func()
	closed  bool
}

var _ auth.IdentityClient = (*Client)(nil)

type ClientOption func(*Client)

// WithRefreshMargin sets how long before expiry the access token is renewed
func WithRefreshMargin(d time.Duration) ClientOption {
	return func(c *Client) {
		if d >= 0 {
			c.refreshMargin = d
		}
	}
}

// WithRetryInterval sets the delay before retrying a failed background refresh
func WithRetryInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.retryInterval = d
		}
	}
}

func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

func WithClientLogger(logger auth.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient returns the client for viewID
func (p *Provider) NewClient(viewID string, tokens tokenstore.Store, opts ...ClientOption) *Client {
	c := &Client{
		provider:       p,
		tokens:         tokens,
		key:            viewID,
		notifier:       auth.NewChangeNotifier(),
		refreshMargin:  30 * time.Second,
		retryInterval:  10 * time.Second,
		requestTimeout: 10 * time.Second,
		logger:         p.logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetSession restores the stored session, refreshing it when the access
// token expired. A session the provider no longer honors is forgotten.
func (c *Client) GetSession(ctx context.Context) (*auth.Session, error) {
	tok, err := c.tokens.Load(ctx, c.key)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}

	session, err := c.provider.SessionFromAccessToken(ctx, tok.AccessToken)
	switch {
	case err == nil:
		session.RefreshToken = tok.RefreshToken
	case errors.Is(err, ErrTokenExpired):
		session, err = c.provider.Refresh(ctx, tok.RefreshToken)
		if err != nil {
			if auth.IsAuthRejected(err) {
				return nil, c.forget(ctx)
			}
			return nil, err
		}
		if err := c.save(ctx, session); err != nil {
			return nil, err
		}
	case sessionGone(err):
		return nil, c.forget(ctx)
	default:
		return nil, err
	}

	c.track(session)
	return session, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.AuthResponse, error) {
	session, err := c.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}

	if err := c.adopt(ctx, session); err != nil {
		return nil, err
	}

	user := session.User
	return &auth.AuthResponse{Session: session, User: &user}, nil
}

func (c *Client) SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.AuthResponse, error) {
	res, err := c.provider.SignUp(ctx, req)
	if err != nil {
		return nil, err
	}

	if res.Session != nil {
		if err := c.adopt(ctx, res.Session); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// SignOut revokes the session remotely and always drops it locally. The
// remote error, if any, is returned after the local state is gone.
func (c *Client) SignOut(ctx context.Context) error {
	c.untrack()

	tok, loadErr := c.tokens.Load(ctx, c.key)

	var remoteErr error
	if tok != nil {
		if err := c.provider.SignOut(ctx, tok.AccessToken); err != nil && !sessionGone(err) {
			remoteErr = err
		}
	}

	deleteErr := c.tokens.Delete(ctx, c.key)
	c.notifier.Publish(auth.EventSignedOut, nil)

	switch {
	case remoteErr != nil:
		return remoteErr
	case loadErr != nil:
		return loadErr
	default:
		return deleteErr
	}
}

func (c *Client) OnAuthStateChange(handler auth.AuthChangeHandler) auth.Subscription {
	return c.notifier.Subscribe(handler)
}

// Close stops background refresh. Stored tokens are kept.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopLocked()
	c.mu.Unlock()

	c.notifier.Close()
	return nil
}

func (c *Client) adopt(ctx context.Context, session *auth.Session) error {
	if err := c.save(ctx, session); err != nil {
		return err
	}
	c.track(session)
	c.notifier.Publish(auth.EventSignedIn, session)
	return nil
}

func (c *Client) save(ctx context.Context, session *auth.Session) error {
	return c.tokens.Save(ctx, c.key, tokenstore.Token{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		ExpiresAt:    session.ExpiresAt,
	})
}

func (c *Client) forget(ctx context.Context) error {
	c.untrack()
	return c.tokens.Delete(ctx, c.key)
}

// track schedules the next refresh and listens for remote revocation
func (c *Client) track(session *auth.Session) {
	sid := sessionIDFromToken(c.provider, session.AccessToken)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.stopLocked()

	if sid != "" {
		c.unwatch = c.provider.watchSession(sid, c.onRevoked)
	}

	delay := session.ExpiresAt.Sub(c.provider.now()) - c.refreshMargin
	if delay <= 0 {
		delay = time.Second
	}
	c.scheduleLocked(delay)
}

func (c *Client) untrack() {
	c.mu.Lock()
	c.stopLocked()
	c.mu.Unlock()
}

func (c *Client) scheduleLocked(delay time.Duration) {
	gen := c.gen
	c.timer = time.AfterFunc(delay, func() {
		c.refresh(gen)
	})
}

func (c *Client) stopLocked() {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.unwatch != nil {
		c.unwatch()
		c.unwatch = nil
	}
}

func (c *Client) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.gen == gen
}

func (c *Client) refresh(gen uint64) {
	if !c.current(gen) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()

	tok, err := c.tokens.Load(ctx, c.key)
	if err != nil || tok == nil {
		if err != nil {
			c.logger.Warn("token load failed", "view", c.key, "error", err)
		}
		return
	}

	session, err := c.provider.Refresh(ctx, tok.RefreshToken)
	if err != nil {
		if auth.IsAuthRejected(err) {
			c.logger.Info("refresh token rejected, signing out", "view", c.key)
			if err := c.forget(ctx); err != nil {
				c.logger.Warn("token delete failed", "view", c.key, "error", err)
			}
			c.notifier.Publish(auth.EventSignedOut, nil)
			return
		}

		c.logger.Warn("token refresh failed", "view", c.key, "error", err)
		c.mu.Lock()
		if !c.closed && c.gen == gen {
			c.scheduleLocked(c.retryInterval)
		}
		c.mu.Unlock()
		return
	}

	if !c.current(gen) {
		return
	}

	if err := c.save(ctx, session); err != nil {
		c.logger.Warn("token save failed", "view", c.key, "error", err)
	}
	c.track(session)
	c.notifier.Publish(auth.EventTokenRefreshed, session)
}

func (c *Client) onRevoked() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	// the provider already dropped this watcher
	c.unwatch = nil
	c.stopLocked()
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
	defer cancel()

	if err := c.tokens.Delete(ctx, c.key); err != nil {
		c.logger.Warn("token delete failed", "view", c.key, "error", err)
	}
	c.notifier.Publish(auth.EventSignedOut, nil)
}
