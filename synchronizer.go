package auth

import (
	"context"
	"sync"

	"github.com/goliatone/go-errors"
)

// Synchronizer keeps the identity session and the patient profile of one
// view tree in step with the identity provider.
//
// Every change goes through a single reducer guarded by a mutex. Changes
// apply in arrival order, so when an action and a provider notification
// race the last one to arrive wins. The one exception is a profile lookup
// result that was overtaken by a newer session or user, which is dropped.
type Synchronizer struct {
	client   IdentityClient
	profiles ProfileStore
	logger   Logger

	mu       sync.Mutex
	state    State
	watchers map[uint64]chan State
	nextID   uint64
	closed   bool

	started   bool
	sub       Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// SynchronizerOption configures a Synchronizer
type SynchronizerOption func(*Synchronizer) *Synchronizer

// WithSynchronizerLogger sets the logger
func WithSynchronizerLogger(logger Logger) SynchronizerOption {
	return func(s *Synchronizer) *Synchronizer {
		if logger != nil {
			s.logger = logger
		}
		return s
	}
}

// NewSynchronizer returns a synchronizer in the loading state
func NewSynchronizer(client IdentityClient, profiles ProfileStore, opts ...SynchronizerOption) *Synchronizer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		client:   client,
		profiles: profiles,
		logger:   ResolveLogger("auth.sync", nil, nil),
		state:    State{Loading: true},
		watchers: make(map[uint64]chan State),
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, opt := range opts {
		s = opt(s)
	}

	return s
}

// Start subscribes to provider notifications and hydrates from the current
// session. It returns once hydration settles. Loading is cleared whatever
// the outcome, hydration failures are logged and leave the state empty.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	sub := s.client.OnAuthStateChange(s.onAuthStateChange)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	s.hydrate(ctx)
	return nil
}

func (s *Synchronizer) hydrate(ctx context.Context) {
	defer s.dispatch(loadingChanged{loading: false})

	session, err := s.client.GetSession(ctx)
	if err != nil {
		s.logger.Warn("session hydration failed", "error", err)
		return
	}

	if session == nil {
		s.logger.Debug("no session to hydrate")
		return
	}

	next := s.dispatch(sessionSet{session: session})
	s.resolveProfile(ctx, session.User, next.generation)
}

// SignIn authenticates with email and password. On failure the state is
// left as it was apart from the loading flag.
func (s *Synchronizer) SignIn(ctx context.Context, email, password string) error {
	s.dispatch(loadingChanged{loading: true})
	defer s.dispatch(loadingChanged{loading: false})

	res, err := s.client.SignInWithPassword(ctx, email, password)
	if err != nil {
		return err
	}

	if res == nil || res.Session == nil || res.Session.User.ID == "" {
		return ErrEmptySessionAfterAuth
	}

	next := s.dispatch(sessionSet{session: res.Session})
	s.resolveProfile(ctx, res.Session.User, next.generation)

	s.logger.Info("patient signed in", "user_id", res.Session.User.ID)

	return nil
}

// SignUpPatient creates an identity with the patient role and inserts its
// profile. A failed insert leaves the identity in place and is reported as
// a profile insert error.
func (s *Synchronizer) SignUpPatient(ctx context.Context, input SignUpPatientInput) error {
	s.dispatch(loadingChanged{loading: true})
	defer s.dispatch(loadingChanged{loading: false})

	res, err := s.client.SignUp(ctx, SignUpRequest{
		Email:    input.Email,
		Password: input.Password,
		Metadata: input.metadata(),
	})
	if err != nil {
		return err
	}

	if res == nil || res.User == nil || res.User.ID == "" {
		return ErrIdentityMissingAfterSignUp
	}

	user := *res.User

	if err := s.profiles.Insert(ctx, input.profile(user.ID)); err != nil {
		s.logger.Error("patient profile insert failed, identity left without profile",
			"identity_id", user.ID,
			"error", err,
		)
		return newProfileInsertFailed(err, user.ID)
	}

	if res.Session != nil {
		s.dispatch(sessionSet{session: res.Session})
	}
	next := s.dispatch(userSet{user: user})
	s.resolveProfile(ctx, user, next.generation)

	s.logger.Info("patient signed up", "user_id", user.ID)

	return nil
}

// SignOut ends the remote session and then clears the local state. Local
// state is cleared even if the remote call fails, that failure is returned.
func (s *Synchronizer) SignOut(ctx context.Context) error {
	err := s.client.SignOut(ctx)

	s.dispatch(sessionCleared{})

	if err != nil {
		s.logger.Warn("remote sign out failed, local state cleared", "error", err)
		return newRemoteSignOutFailed(err)
	}

	return nil
}

// State returns the current snapshot
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Watch returns a channel with the latest state. Slow readers skip
// intermediate snapshots. The channel is closed by cancel or Close.
func (s *Synchronizer) Watch() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan State, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.watchers[id] = ch
	ch <- s.state

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if w, ok := s.watchers[id]; ok {
				delete(s.watchers, id)
				close(w)
			}
		})
	}
}

// WaitSettled blocks until the state is not loading or ctx is done.
// It always returns the latest state it saw.
func (s *Synchronizer) WaitSettled(ctx context.Context) State {
	ch, cancel := s.Watch()
	defer cancel()

	current := s.State()
	for current.Loading {
		select {
		case <-ctx.Done():
			return s.State()
		case next, ok := <-ch:
			if !ok {
				return s.State()
			}
			current = next
		}
	}
	return current
}

// Close unsubscribes from the provider and releases the client.
func (s *Synchronizer) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		s.closed = true
		sub := s.sub
		s.sub = nil
		for id, w := range s.watchers {
			delete(s.watchers, id)
			close(w)
		}
		s.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
		}
		err = s.client.Close()
	})
	return err
}

func (s *Synchronizer) onAuthStateChange(event AuthEvent, session *Session) {
	s.logger.Debug("auth state change", "event", event, "has_session", session != nil)

	if session == nil {
		s.dispatch(sessionCleared{})
		return
	}

	next := s.dispatch(sessionSet{session: session})
	s.resolveProfile(s.ctx, session.User, next.generation)
}

// resolveProfile derives the role and, for patients, loads the profile.
// A failed lookup is a warning, never an error for the caller.
func (s *Synchronizer) resolveProfile(ctx context.Context, user UserIdentity, generation uint64) {
	role := RoleFromMetadata(user.Metadata)
	if !role.IsPatient() {
		s.dispatch(profileResolved{userID: user.ID, generation: generation, role: role})
		return
	}

	profile, err := s.profiles.FindByUserIdentity(ctx, user.ID)
	if err != nil {
		warning := newProfileLookupFailed(err)
		if errors.IsNotFound(err) || HasTextCode(err, TextCodeProfileNotFound) {
			s.logger.Warn("patient profile not found", "user_id", user.ID)
		} else {
			s.logger.Warn("patient profile lookup failed", "user_id", user.ID, "error", err)
		}
		s.dispatch(profileResolved{userID: user.ID, generation: generation, role: role, warning: warning.Message})
		return
	}

	s.dispatch(profileResolved{userID: user.ID, generation: generation, role: role, profile: profile})
}

// dispatch applies c and returns the resulting state
func (s *Synchronizer) dispatch(c change) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := reduce(s.state, c)
	if !ok {
		s.logger.Debug("stale change dropped", "version", s.state.Version)
		return s.state
	}
	s.state = next

	for _, w := range s.watchers {
		select {
		case <-w:
		default:
		}
		w <- next
	}
	return next
}
