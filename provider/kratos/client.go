// Package kratos talks to an Ory Kratos public API through native (API)
// flows. Session tokens are kept in a tokenstore keyed by view id, and a
// poller turns server side changes into identity events.
package kratos

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-patient-auth"
	"github.com/goliatone/go-patient-auth/tokenstore"
	kratosclient "github.com/ory/kratos-client-go"
)

const passwordMethod = "password"

// NewAPIClient returns a generated client pointed at the public API
func NewAPIClient(publicURL string, httpClient *http.Client) *kratosclient.APIClient {
	cfg := kratosclient.NewConfiguration()
	cfg.Servers = kratosclient.ServerConfigurations{{URL: publicURL}}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	cfg.HTTPClient = httpClient
	cfg.AddDefaultHeader("Accept", "application/json")
	return kratosclient.NewAPIClient(cfg)
}

// Service builds per view clients sharing one API client
type Service struct {
	api          *kratosclient.APIClient
	pollInterval time.Duration
	logger       auth.Logger
}

type Option func(*Service)

// WithPollInterval sets how often a signed in client checks its session.
// Zero disables polling.
func WithPollInterval(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.pollInterval = d
		}
	}
}

func WithLogger(logger auth.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(api *kratosclient.APIClient, opts ...Option) *Service {
	s := &Service{
		api:          api,
		pollInterval: time.Minute,
		logger:       auth.ResolveLogger("auth.kratos", nil, nil),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ClientFactory returns a factory of per view clients
func (s *Service) ClientFactory(tokens tokenstore.Store) auth.ClientFactory {
	return auth.ClientFactoryFunc(func(_ context.Context, viewID string) (auth.IdentityClient, error) {
		return s.NewClient(viewID, tokens), nil
	})
}

// Client is the identity client of one view
type Client struct {
	api          *kratosclient.APIClient
	tokens       tokenstore.Store
	key          string
	notifier     *auth.ChangeNotifier
	pollInterval time.Duration
	logger       auth.Logger

	mu       sync.Mutex
	stopPoll context.CancelFunc
	closed   bool
}

var _ auth.IdentityClient = (*Client)(nil)

func (s *Service) NewClient(viewID string, tokens tokenstore.Store) *Client {
	return &Client{
		api:          s.api,
		tokens:       tokens,
		key:          viewID,
		notifier:     auth.NewChangeNotifier(),
		pollInterval: s.pollInterval,
		logger:       s.logger,
	}
}

// GetSession asks the server about the stored token. Tokens the server
// no longer accepts are dropped.
func (c *Client) GetSession(ctx context.Context) (*auth.Session, error) {
	tok, err := c.tokens.Load(ctx, c.key)
	if err != nil {
		return nil, err
	}
	if tok == nil {
		return nil, nil
	}

	session, gone, err := c.whoami(ctx, tok.AccessToken)
	if err != nil {
		return nil, err
	}
	if gone {
		c.stopPolling()
		return nil, c.tokens.Delete(ctx, c.key)
	}

	c.startPolling(session)
	return session, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.AuthResponse, error) {
	flow, resp, err := c.api.FrontendAPI.CreateNativeLoginFlow(ctx).Execute()
	if err != nil {
		return nil, translateError(err, resp, "login flow")
	}

	body := kratosclient.UpdateLoginFlowWithPasswordMethod{
		Identifier: email,
		Method:     passwordMethod,
		Password:   password,
	}

	result, resp, err := c.api.FrontendAPI.
		UpdateLoginFlow(ctx).
		Flow(flow.GetId()).
		UpdateLoginFlowBody(kratosclient.UpdateLoginFlowWithPasswordMethodAsUpdateLoginFlowBody(&body)).
		Execute()
	if err != nil {
		return nil, translateError(err, resp, "login")
	}

	remote := result.GetSession()
	session := toSession(&remote, result.GetSessionToken())
	if session.AccessToken == "" {
		return &auth.AuthResponse{User: &session.User}, nil
	}

	if err := c.adopt(ctx, session); err != nil {
		return nil, err
	}

	user := session.User
	return &auth.AuthResponse{Session: session, User: &user}, nil
}

// SignUp runs a registration flow. Metadata goes into the identity
// traits next to the email.
func (c *Client) SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.AuthResponse, error) {
	flow, resp, err := c.api.FrontendAPI.CreateNativeRegistrationFlow(ctx).Execute()
	if err != nil {
		return nil, translateError(err, resp, "registration flow")
	}

	traits := map[string]any{"email": req.Email}
	for k, v := range req.Metadata {
		traits[k] = v
	}

	body := kratosclient.UpdateRegistrationFlowWithPasswordMethod{
		Method:   passwordMethod,
		Password: req.Password,
		Traits:   traits,
	}

	result, resp, err := c.api.FrontendAPI.
		UpdateRegistrationFlow(ctx).
		Flow(flow.GetId()).
		UpdateRegistrationFlowBody(kratosclient.UpdateRegistrationFlowWithPasswordMethodAsUpdateRegistrationFlowBody(&body)).
		Execute()
	if err != nil {
		return nil, translateError(err, resp, "registration")
	}

	identity := result.GetIdentity()
	user := toUserIdentity(&identity)
	out := &auth.AuthResponse{User: &user}

	// without session hooks the server only creates the identity
	if result.HasSession() && result.GetSessionToken() != "" {
		remote := result.GetSession()
		session := toSession(&remote, result.GetSessionToken())
		if session.User.ID == "" {
			session.User = user
		}
		if err := c.adopt(ctx, session); err != nil {
			return nil, err
		}
		out.Session = session
	}

	return out, nil
}

// SignOut drops the local token even when the server call fails
func (c *Client) SignOut(ctx context.Context) error {
	c.stopPolling()

	tok, loadErr := c.tokens.Load(ctx, c.key)

	var remoteErr error
	if tok != nil && tok.AccessToken != "" {
		resp, err := c.api.FrontendAPI.
			PerformNativeLogout(ctx).
			PerformNativeLogoutBody(*kratosclient.NewPerformNativeLogoutBody(tok.AccessToken)).
			Execute()
		if err != nil && !isUnauthenticated(resp) {
			remoteErr = translateError(err, resp, "logout")
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

// Close stops polling. The stored token is kept.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.stopPoll != nil {
		c.stopPoll()
		c.stopPoll = nil
	}
	c.mu.Unlock()

	c.notifier.Close()
	return nil
}

func (c *Client) adopt(ctx context.Context, session *auth.Session) error {
	if err := c.tokens.Save(ctx, c.key, tokenstore.Token{
		AccessToken: session.AccessToken,
		ExpiresAt:   session.ExpiresAt,
	}); err != nil {
		return err
	}
	c.startPolling(session)
	c.notifier.Publish(auth.EventSignedIn, session)
	return nil
}

func (c *Client) whoami(ctx context.Context, token string) (*auth.Session, bool, error) {
	remote, resp, err := c.api.FrontendAPI.ToSession(ctx).XSessionToken(token).Execute()
	if err != nil {
		if isUnauthenticated(resp) {
			return nil, true, nil
		}
		return nil, false, errors.Wrap(err, errors.CategoryOperation, "identity service session check failed")
	}

	if !remote.GetActive() {
		return nil, true, nil
	}

	return toSession(remote, token), false, nil
}

func (c *Client) startPolling(session *auth.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.pollInterval <= 0 {
		return
	}
	if c.stopPoll != nil {
		c.stopPoll()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.stopPoll = cancel
	go c.poll(ctx, session.AccessToken, session.ExpiresAt)
}

func (c *Client) stopPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopPoll != nil {
		c.stopPoll()
		c.stopPoll = nil
	}
}

// poll reports extended sessions as TOKEN_REFRESHED and dead ones as
// SIGNED_OUT. Transport errors are logged and retried on the next tick.
func (c *Client) poll(ctx context.Context, token string, expiresAt time.Time) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		session, gone, err := c.whoami(ctx, token)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.logger.Warn("session poll failed", "view", c.key, "error", err)
			continue
		}

		if gone {
			c.logger.Info("session ended remotely", "view", c.key)
			if err := c.tokens.Delete(ctx, c.key); err != nil {
				c.logger.Warn("token delete failed", "view", c.key, "error", err)
			}
			c.notifier.Publish(auth.EventSignedOut, nil)
			return
		}

		if !session.ExpiresAt.Equal(expiresAt) {
			expiresAt = session.ExpiresAt
			if err := c.tokens.Save(ctx, c.key, tokenstore.Token{
				AccessToken: token,
				ExpiresAt:   expiresAt,
			}); err != nil {
				c.logger.Warn("token save failed", "view", c.key, "error", err)
			}
			c.notifier.Publish(auth.EventTokenRefreshed, session)
		}
	}
}

func toSession(remote *kratosclient.Session, token string) *auth.Session {
	identity := remote.GetIdentity()
	return &auth.Session{
		AccessToken: token,
		ExpiresAt:   remote.GetExpiresAt(),
		User:        toUserIdentity(&identity),
	}
}

// toUserIdentity flattens traits and public metadata into the identity
// metadata. Public metadata wins on conflicts since users cannot edit it.
func toUserIdentity(identity *kratosclient.Identity) auth.UserIdentity {
	user := auth.UserIdentity{
		ID:       identity.GetId(),
		Metadata: map[string]any{},
	}

	if traits, ok := identity.GetTraits().(map[string]any); ok {
		for k, v := range traits {
			if k == "email" {
				if email, ok := v.(string); ok {
					user.Email = email
				}
				continue
			}
			user.Metadata[k] = v
		}
	}

	if public, ok := identity.GetMetadataPublic().(map[string]any); ok {
		for k, v := range public {
			user.Metadata[k] = v
		}
	}

	return user
}
