package auth_test

import (
	"testing"

	auth "github.com/goliatone/go-patient-auth"
	"github.com/stretchr/testify/assert"
)

func TestRouteGuard_Decide(t *testing.T) {
	guard := auth.DefaultRouteGuard()

	tests := []struct {
		name   string
		path   string
		status auth.RouteStatus
		want   auth.RouteDecision
	}{
		{"loading root", "/", auth.StatusLoading, auth.RouteDecision{Action: auth.ActionLoading}},
		{"loading login", "/login", auth.StatusLoading, auth.RouteDecision{Action: auth.ActionLoading}},
		{"loading dashboard", "/patient", auth.StatusLoading, auth.RouteDecision{Action: auth.ActionLoading}},
		{"loading unknown", "/nowhere", auth.StatusLoading, auth.RouteDecision{Action: auth.ActionLoading}},

		{"anonymous root", "/", auth.StatusUnauthenticated, auth.RouteDecision{Action: auth.ActionRedirect, Target: "/login"}},
		{"anonymous login", "/login", auth.StatusUnauthenticated, auth.RouteDecision{Action: auth.ActionRender}},
		{"anonymous dashboard", "/patient", auth.StatusUnauthenticated, auth.RouteDecision{Action: auth.ActionRedirect, Target: "/login"}},
		{"anonymous unknown", "/nowhere", auth.StatusUnauthenticated, auth.RouteDecision{Action: auth.ActionRedirect, Target: "/login"}},

		{"signed in root", "/", auth.StatusAuthenticated, auth.RouteDecision{Action: auth.ActionRedirect, Target: "/patient"}},
		{"signed in login", "/login", auth.StatusAuthenticated, auth.RouteDecision{Action: auth.ActionRedirect, Target: "/patient"}},
		{"signed in dashboard", "/patient", auth.StatusAuthenticated, auth.RouteDecision{Action: auth.ActionRender}},
		{"signed in unknown", "/nowhere", auth.StatusAuthenticated, auth.RouteDecision{Action: auth.ActionRedirect, Target: "/patient"}},

		{"trailing slash", "/login/", auth.StatusUnauthenticated, auth.RouteDecision{Action: auth.ActionRender}},
		{"query string", "/patient?tab=1", auth.StatusAuthenticated, auth.RouteDecision{Action: auth.ActionRender}},
		{"empty path", "", auth.StatusUnauthenticated, auth.RouteDecision{Action: auth.ActionRedirect, Target: "/login"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, guard.Decide(tt.path, tt.status))
			// same input, same output
			assert.Equal(t, guard.Decide(tt.path, tt.status), guard.Decide(tt.path, tt.status))
		})
	}
}

func TestRouteStatusOf(t *testing.T) {
	assert.Equal(t, auth.StatusLoading, auth.RouteStatusOf(auth.State{Loading: true, Session: patientSession("u", "e")}))
	assert.Equal(t, auth.StatusAuthenticated, auth.RouteStatusOf(auth.State{Session: patientSession("u", "e")}))
	assert.Equal(t, auth.StatusUnauthenticated, auth.RouteStatusOf(auth.State{}))
	assert.Equal(t, "authenticated", auth.StatusAuthenticated.String())
}
