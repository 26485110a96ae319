package auth_test

import (
	"context"
	"sync"
	"time"

	auth "github.com/goliatone/go-patient-auth"
	"github.com/stretchr/testify/mock"
)

// MockIdentityClient implements auth.IdentityClient. Subscriptions are
// captured so tests can push notifications with Emit.
type MockIdentityClient struct {
	mock.Mock

	mu       sync.Mutex
	handlers []auth.AuthChangeHandler
	unsubbed int
	closed   bool
}

func (m *MockIdentityClient) GetSession(ctx context.Context) (*auth.Session, error) {
	args := m.Called(ctx)
	return sessionArg(args, 0), args.Error(1)
}

func (m *MockIdentityClient) SignInWithPassword(ctx context.Context, email, password string) (*auth.AuthResponse, error) {
	args := m.Called(ctx, email, password)
	return responseArg(args, 0), args.Error(1)
}

func (m *MockIdentityClient) SignUp(ctx context.Context, req auth.SignUpRequest) (*auth.AuthResponse, error) {
	args := m.Called(ctx, req)
	return responseArg(args, 0), args.Error(1)
}

func (m *MockIdentityClient) SignOut(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdentityClient) OnAuthStateChange(handler auth.AuthChangeHandler) auth.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
	return subscriptionFunc(func() {
		m.mu.Lock()
		m.unsubbed++
		m.mu.Unlock()
	})
}

func (m *MockIdentityClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Emit calls every captured handler on the caller's goroutine
func (m *MockIdentityClient) Emit(event auth.AuthEvent, session *auth.Session) {
	m.mu.Lock()
	handlers := append([]auth.AuthChangeHandler(nil), m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(event, session)
	}
}

func (m *MockIdentityClient) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handlers) - m.unsubbed
}

func (m *MockIdentityClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type subscriptionFunc func()

func (f subscriptionFunc) Unsubscribe() { f() }

// MockProfileStore implements auth.ProfileStore
type MockProfileStore struct {
	mock.Mock
}

func (m *MockProfileStore) FindByUserIdentity(ctx context.Context, identityID string) (*auth.PatientProfile, error) {
	args := m.Called(ctx, identityID)
	var profile *auth.PatientProfile
	if v := args.Get(0); v != nil {
		profile = v.(*auth.PatientProfile)
	}
	return profile, args.Error(1)
}

func (m *MockProfileStore) Insert(ctx context.Context, profile *auth.PatientProfile) error {
	args := m.Called(ctx, profile)
	return args.Error(0)
}

func sessionArg(args mock.Arguments, i int) *auth.Session {
	if v := args.Get(i); v != nil {
		return v.(*auth.Session)
	}
	return nil
}

func responseArg(args mock.Arguments, i int) *auth.AuthResponse {
	if v := args.Get(i); v != nil {
		return v.(*auth.AuthResponse)
	}
	return nil
}

func patientSession(id, email string) *auth.Session {
	return &auth.Session{
		AccessToken:  "access-" + id,
		RefreshToken: "refresh-" + id,
		ExpiresAt:    time.Now().Add(time.Hour),
		User: auth.UserIdentity{
			ID:    id,
			Email: email,
			Metadata: map[string]any{
				"role": "patient",
			},
		},
	}
}

func roleSession(id, email string, role auth.Role) *auth.Session {
	s := patientSession(id, email)
	s.User.Metadata = map[string]any{"role": string(role)}
	return s
}
