package local

import (
	"github.com/goliatone/go-errors"
	auth "github.com/goliatone/go-patient-auth"
)

const (
	TextCodeTokenExpired   = "LOCAL_TOKEN_EXPIRED"
	TextCodeTokenInvalid   = "LOCAL_TOKEN_INVALID"
	TextCodeSessionRevoked = "LOCAL_SESSION_REVOKED"
)

var ErrTokenExpired = errors.New("access token expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

var ErrTokenInvalid = errors.New("access token invalid", errors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(errors.CodeUnauthorized)

var ErrSessionRevoked = errors.New("session revoked or expired", errors.CategoryAuth).
	WithTextCode(TextCodeSessionRevoked).
	WithCode(errors.CodeUnauthorized)

func errInvalidCredentials() error {
	return auth.NewAuthRejected(nil, "Invalid login credentials")
}

func errUserExists() error {
	return auth.NewAuthRejected(nil, "User already registered")
}

func errInvalidRefreshToken() error {
	return auth.NewAuthRejected(nil, "Invalid Refresh Token")
}

// sessionGone reports errors that mean the stored token is useless
func sessionGone(err error) bool {
	return auth.HasTextCode(err, TextCodeTokenInvalid) || auth.HasTextCode(err, TextCodeSessionRevoked)
}
