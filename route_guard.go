package auth

import "strings"

// RouteStatus is what the guard needs to know about the view tree
type RouteStatus int

const (
	StatusLoading RouteStatus = iota
	StatusUnauthenticated
	StatusAuthenticated
)

func (s RouteStatus) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusUnauthenticated:
		return "unauthenticated"
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// RouteStatusOf maps a state snapshot onto a guard status
func RouteStatusOf(s State) RouteStatus {
	if s.Loading {
		return StatusLoading
	}
	if s.Authenticated() {
		return StatusAuthenticated
	}
	return StatusUnauthenticated
}

// RouteAction is the guard verdict
type RouteAction int

const (
	// ActionLoading renders the loading placeholder
	ActionLoading RouteAction = iota
	// ActionRender renders the requested screen
	ActionRender
	// ActionRedirect sends the browser to Target
	ActionRedirect
)

// RouteDecision is the outcome of RouteGuard.Decide
type RouteDecision struct {
	Action RouteAction
	Target string
}

// RouteGuard maps a path and a status onto a decision.
//
//	loading          every path renders the placeholder
//	unauthenticated  login renders, anything else redirects to login
//	authenticated    dashboard renders, anything else redirects to dashboard
type RouteGuard struct {
	Login     string
	Dashboard string
}

// DefaultRouteGuard guards /login and /patient
func DefaultRouteGuard() RouteGuard {
	return RouteGuard{
		Login:     "/login",
		Dashboard: "/patient",
	}
}

// Decide is pure, same input same output
func (g RouteGuard) Decide(path string, status RouteStatus) RouteDecision {
	path = normalizePath(path)

	switch status {
	case StatusLoading:
		return RouteDecision{Action: ActionLoading}
	case StatusAuthenticated:
		if path == g.Dashboard {
			return RouteDecision{Action: ActionRender}
		}
		return RouteDecision{Action: ActionRedirect, Target: g.Dashboard}
	default:
		if path == g.Login {
			return RouteDecision{Action: ActionRender}
		}
		return RouteDecision{Action: ActionRedirect, Target: g.Login}
	}
}

func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}
