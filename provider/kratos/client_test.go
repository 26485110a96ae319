package kratos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	auth "github.com/goliatone/go-patient-auth"
	"github.com/goliatone/go-patient-auth/tokenstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const identityID = "9f6f4c7e-3b1a-4f57-a1c5-0d7a3c9c2b11"

// fakeKratos implements the handful of public endpoints the client calls
type fakeKratos struct {
	mu        sync.Mutex
	password  string
	sessions  map[string]time.Time
	logouts   int
	noSession bool
	failLogin bool
}

func newFakeKratos() *fakeKratos {
	return &fakeKratos{
		password: "segredo123",
		sessions: map[string]time.Time{},
	}
}

func (f *fakeKratos) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/self-service/login/api", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, flowPayload("login-flow", "login"))
	})

	mux.HandleFunc("/self-service/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Identifier string `json:"identifier"`
			Password   string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		defer f.mu.Unlock()

		if f.failLogin {
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error": map[string]any{"code": 500, "message": "boom"},
			})
			return
		}

		if body.Password != f.password {
			flow := flowPayload("login-flow", "login")
			flow["ui"].(map[string]any)["messages"] = []map[string]any{{
				"id":   4000006,
				"text": "The provided credentials are invalid, check for spelling mistakes in your password or username, email address, or phone number.",
				"type": "error",
			}}
			writeJSON(w, http.StatusBadRequest, flow)
			return
		}

		token := "token-" + body.Identifier
		f.sessions[token] = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
		writeJSON(w, http.StatusOK, map[string]any{
			"session":       sessionPayload(body.Identifier, f.sessions[token]),
			"session_token": token,
		})
	})

	mux.HandleFunc("/self-service/registration/api", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, flowPayload("registration-flow", "registration"))
	})

	mux.HandleFunc("/self-service/registration", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Password string         `json:"password"`
			Traits   map[string]any `json:"traits"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		email, _ := body.Traits["email"].(string)
		if len(body.Password) < 6 {
			flow := flowPayload("registration-flow", "registration")
			flow["ui"].(map[string]any)["nodes"] = []map[string]any{{
				"type":  "input",
				"group": "password",
				"attributes": map[string]any{
					"name": "password", "type": "password", "node_type": "input", "disabled": false,
				},
				"messages": []map[string]any{{
					"id": 4000032, "text": "The password must be at least 6 characters long.", "type": "error",
				}},
				"meta": map[string]any{},
			}}
			writeJSON(w, http.StatusBadRequest, flow)
			return
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		out := map[string]any{"identity": identityPayload(email, body.Traits)}
		if !f.noSession {
			token := "token-" + email
			f.sessions[token] = time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
			out["session"] = sessionPayload(email, f.sessions[token])
			out["session_token"] = token
		}
		writeJSON(w, http.StatusOK, out)
	})

	mux.HandleFunc("/sessions/whoami", func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("X-Session-Token")

		f.mu.Lock()
		expiresAt, ok := f.sessions[token]
		f.mu.Unlock()

		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{
					"code":    401,
					"status":  "Unauthorized",
					"message": "No valid session credentials found in the request.",
				},
			})
			return
		}
		writeJSON(w, http.StatusOK, sessionPayload(token[len("token-"):], expiresAt))
	})

	mux.HandleFunc("/self-service/logout/api", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SessionToken string `json:"session_token"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		f.mu.Lock()
		delete(f.sessions, body.SessionToken)
		f.logouts++
		f.mu.Unlock()

		w.WriteHeader(http.StatusNoContent)
	})

	return mux
}

func (f *fakeKratos) extend(token string, until time.Time) {
	f.mu.Lock()
	f.sessions[token] = until
	f.mu.Unlock()
}

func (f *fakeKratos) revoke(token string) {
	f.mu.Lock()
	delete(f.sessions, token)
	f.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func flowPayload(id, kind string) map[string]any {
	return map[string]any{
		"id":          id,
		"type":        "api",
		"state":       "choose_method",
		"expires_at":  "2030-01-01T00:00:00Z",
		"issued_at":   "2024-01-01T00:00:00Z",
		"request_url": "http://kratos/self-service/" + kind + "/api",
		"ui": map[string]any{
			"action": "http://kratos/self-service/" + kind + "?flow=" + id,
			"method": "POST",
			"nodes":  []any{},
		},
	}
}

func identityPayload(email string, traits map[string]any) map[string]any {
	all := map[string]any{"email": email}
	for k, v := range traits {
		all[k] = v
	}
	return map[string]any{
		"id":              identityID,
		"schema_id":       "patient",
		"schema_url":      "http://kratos/schemas/patient",
		"state":           "active",
		"traits":          all,
		"metadata_public": map[string]any{"role": "patient"},
	}
}

func sessionPayload(email string, expiresAt time.Time) map[string]any {
	return map[string]any{
		"id":         "session-" + email,
		"active":     true,
		"expires_at": expiresAt.Format(time.RFC3339),
		"identity":   identityPayload(email, map[string]any{"name": "Ana Silva"}),
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []auth.AuthEvent
}

func (l *eventLog) record(event auth.AuthEvent, _ *auth.Session) {
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

func (l *eventLog) has(event auth.AuthEvent) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

func setupClient(t *testing.T, opts ...Option) (*Client, *fakeKratos, *tokenstore.Memory, *eventLog) {
	t.Helper()

	fake := newFakeKratos()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	opts = append([]Option{WithLogger(auth.NopLogger()), WithPollInterval(0)}, opts...)
	service := NewService(NewAPIClient(srv.URL, srv.Client()), opts...)

	tokens := tokenstore.NewMemory()
	client := service.NewClient("view-1", tokens)
	t.Cleanup(func() { _ = client.Close() })

	events := &eventLog{}
	client.OnAuthStateChange(events.record)

	return client, fake, tokens, events
}

func TestClientSignInStoresToken(t *testing.T) {
	client, _, tokens, events := setupClient(t)
	ctx := context.Background()

	res, err := client.SignInWithPassword(ctx, "ana@example.com", "segredo123")
	require.NoError(t, err)
	require.NotNil(t, res.Session)

	assert.Equal(t, "token-ana@example.com", res.Session.AccessToken)
	assert.Equal(t, identityID, res.User.ID)
	assert.Equal(t, "ana@example.com", res.User.Email)
	assert.Equal(t, "patient", res.User.Metadata["role"])
	assert.Equal(t, "Ana Silva", res.User.Metadata["name"])

	stored, err := tokens.Load(ctx, "view-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "token-ana@example.com", stored.AccessToken)

	assert.Eventually(t, func() bool { return events.has(auth.EventSignedIn) }, time.Second, 10*time.Millisecond)
}

func TestClientSignInRejectedCarriesServerMessage(t *testing.T) {
	client, _, _, _ := setupClient(t)

	_, err := client.SignInWithPassword(context.Background(), "ana@example.com", "errada")
	require.Error(t, err)
	assert.True(t, auth.IsAuthRejected(err))
	assert.Contains(t, auth.UserMessage(err), "The provided credentials are invalid")
}

func TestClientSignInServerFailure(t *testing.T) {
	client, fake, _, _ := setupClient(t)
	fake.mu.Lock()
	fake.failLogin = true
	fake.mu.Unlock()

	_, err := client.SignInWithPassword(context.Background(), "ana@example.com", "segredo123")
	require.Error(t, err)
	assert.False(t, auth.IsAuthRejected(err))
}

func TestClientSignUp(t *testing.T) {
	client, _, tokens, _ := setupClient(t)
	ctx := context.Background()

	res, err := client.SignUp(ctx, auth.SignUpRequest{
		Email:    "bia@example.com",
		Password: "segredo123",
		Metadata: map[string]any{"name": "Bia Souza", "role": "patient"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.User)
	require.NotNil(t, res.Session)
	assert.Equal(t, identityID, res.User.ID)
	assert.Equal(t, "Bia Souza", res.User.Metadata["name"])

	stored, err := tokens.Load(ctx, "view-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestClientSignUpWithoutSession(t *testing.T) {
	client, fake, tokens, _ := setupClient(t)
	fake.mu.Lock()
	fake.noSession = true
	fake.mu.Unlock()

	res, err := client.SignUp(context.Background(), auth.SignUpRequest{
		Email:    "bia@example.com",
		Password: "segredo123",
	})
	require.NoError(t, err)
	require.NotNil(t, res.User)
	assert.Nil(t, res.Session)

	stored, err := tokens.Load(context.Background(), "view-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestClientSignUpFieldError(t *testing.T) {
	client, _, _, _ := setupClient(t)

	_, err := client.SignUp(context.Background(), auth.SignUpRequest{Email: "bia@example.com", Password: "123"})
	require.Error(t, err)
	assert.True(t, auth.IsAuthRejected(err))
	assert.Equal(t, "The password must be at least 6 characters long.", auth.UserMessage(err))
}

func TestClientGetSession(t *testing.T) {
	client, fake, tokens, _ := setupClient(t)
	ctx := context.Background()

	session, err := client.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)

	_, err = client.SignInWithPassword(ctx, "ana@example.com", "segredo123")
	require.NoError(t, err)

	session, err = client.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, "ana@example.com", session.User.Email)

	fake.revoke("token-ana@example.com")

	session, err = client.GetSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, session)

	stored, err := tokens.Load(ctx, "view-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestClientSignOut(t *testing.T) {
	client, fake, tokens, events := setupClient(t)
	ctx := context.Background()

	_, err := client.SignInWithPassword(ctx, "ana@example.com", "segredo123")
	require.NoError(t, err)

	require.NoError(t, client.SignOut(ctx))

	fake.mu.Lock()
	assert.Equal(t, 1, fake.logouts)
	assert.Empty(t, fake.sessions)
	fake.mu.Unlock()

	stored, err := tokens.Load(ctx, "view-1")
	require.NoError(t, err)
	assert.Nil(t, stored)

	assert.Eventually(t, func() bool { return events.has(auth.EventSignedOut) }, time.Second, 10*time.Millisecond)
}

func TestClientPollReportsRefreshAndSignOut(t *testing.T) {
	client, fake, _, events := setupClient(t, WithPollInterval(20*time.Millisecond))
	ctx := context.Background()

	_, err := client.SignInWithPassword(ctx, "ana@example.com", "segredo123")
	require.NoError(t, err)

	fake.extend("token-ana@example.com", time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Eventually(t, func() bool { return events.has(auth.EventTokenRefreshed) }, 2*time.Second, 10*time.Millisecond)

	fake.revoke("token-ana@example.com")
	assert.Eventually(t, func() bool { return events.has(auth.EventSignedOut) }, 2*time.Second, 10*time.Millisecond)
}

func TestServiceClientFactory(t *testing.T) {
	service := NewService(NewAPIClient("http://127.0.0.1:1", nil))
	factory := service.ClientFactory(tokenstore.NewMemory())

	c, err := factory.NewClient(context.Background(), "view")
	require.NoError(t, err)
	require.NoError(t, c.Close())
}
