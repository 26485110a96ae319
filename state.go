package auth

import "time"

// State is a snapshot of what a view tree knows about the signed in user.
// Snapshots are values, callers can keep them around safely.
type State struct {
	Session        *Session
	User           *UserIdentity
	Profile        *PatientProfile
	Role           Role
	Loading        bool
	ProfileWarning string
	// Version increases by one on every applied change
	Version uint64
	// generation increases whenever the current user may have changed.
	// Profile lookups started under an older generation are dropped.
	generation uint64
}

// Authenticated reports whether a session is present
func (s State) Authenticated() bool {
	return s.Session != nil
}

// DisplayName is the greeting name, the full profile name or "Paciente"
func (s State) DisplayName() string {
	if name := s.Profile.FullName(); name != "" {
		return name
	}
	return "Paciente"
}

// ExpiresAt returns the session expiry or the zero time
func (s State) ExpiresAt() time.Time {
	if s.Session == nil {
		return time.Time{}
	}
	return s.Session.ExpiresAt
}

// change is a single state transition. Changes are applied one at a time
// in arrival order.
type change interface {
	apply(State) (State, bool)
}

func reduce(s State, c change) (State, bool) {
	next, ok := c.apply(s)
	if !ok {
		return s, false
	}
	next.Version = s.Version + 1
	return next, true
}

type loadingChanged struct {
	loading bool
}

func (c loadingChanged) apply(s State) (State, bool) {
	s.Loading = c.loading
	return s, true
}

// sessionSet stores the session and the identity it carries
type sessionSet struct {
	session *Session
}

func (c sessionSet) apply(s State) (State, bool) {
	session := *c.session
	user := session.User
	s.Session = &session
	s.User = &user
	s.generation++
	return s, true
}

// sessionCleared drops everything tied to the user
type sessionCleared struct{}

func (sessionCleared) apply(s State) (State, bool) {
	s.Session = nil
	s.User = nil
	s.Profile = nil
	s.Role = ""
	s.ProfileWarning = ""
	s.generation++
	return s, true
}

type userSet struct {
	user UserIdentity
}

func (c userSet) apply(s State) (State, bool) {
	user := c.user
	s.User = &user
	s.generation++
	return s, true
}

// profileResolved carries the outcome of a profile lookup for userID that
// started at generation. It is discarded when userID is no longer the
// current user or a newer lookup has been started since.
type profileResolved struct {
	userID     string
	generation uint64
	role       Role
	profile    *PatientProfile
	warning    string
}

func (c profileResolved) apply(s State) (State, bool) {
	if s.User == nil || s.User.ID != c.userID {
		return s, false
	}
	if c.generation < s.generation {
		return s, false
	}
	s.Role = c.role
	s.Profile = c.profile
	s.ProfileWarning = c.warning
	return s, true
}
