// Package auth is the authentication shell of the patient portal.
//
// Identity (credentials, session issuance, refresh) is delegated to a remote
// identity service reached through IdentityClient. This package keeps the
// signed in user and the matching patient profile in step with it and
// decides which screen a browser may see.
//
// Synchronizer:
//   - One Synchronizer per view tree (one browser, identified by a view
//     cookie). It hydrates from the stored session on Start, listens to the
//     client's change notifications and exposes SignIn, SignUpPatient and
//     SignOut.
//   - All changes pass through one reducer under a mutex, applied in arrival
//     order. State snapshots carry a Version so callers can tell them apart.
//   - Profile lookups never fail an action. A missing profile is logged and
//     recorded as ProfileWarning.
//
// Registry:
//   - Registry creates synchronizers on demand through a ClientFactory and
//     closes them after an idle TTL or on shutdown.
//
// Routing:
//   - RouteGuard is a pure function of path and status. While loading every
//     path shows a placeholder, signed out browsers only see /login and signed
//     in browsers only see /patient.
//   - AuthController mounts the fiber handlers and renders the embedded django
//     templates returned by NewViewEngine.
package auth
