package auth

import (
	"github.com/goliatone/go-errors"
)

const (
	TextCodeAuthRejected               = "AUTH_REJECTED"
	TextCodeEmptySessionAfterAuth      = "EMPTY_SESSION_AFTER_AUTH"
	TextCodeIdentityMissingAfterSignUp = "IDENTITY_MISSING_AFTER_SIGNUP"
	TextCodeProfileLookupFailed        = "PROFILE_LOOKUP_FAILED"
	TextCodeProfileInsertFailed        = "PROFILE_INSERT_FAILED"
	TextCodeProfileNotFound            = "PROFILE_NOT_FOUND"
	TextCodeProfileConflict            = "PROFILE_CONFLICT"
	TextCodeRemoteSignOutFailed        = "REMOTE_SIGNOUT_FAILED"
	TextCodeAlreadyStarted             = "SYNCHRONIZER_ALREADY_STARTED"
	TextCodeRegistryClosed             = "REGISTRY_CLOSED"
)

// ErrEmptySessionAfterAuth is returned when the provider reports a successful
// sign in but hands back no usable session.
var ErrEmptySessionAfterAuth = errors.New("invalid session after sign in", errors.CategoryAuth).
	WithTextCode(TextCodeEmptySessionAfterAuth).
	WithCode(errors.CodeInternal)

// ErrIdentityMissingAfterSignUp is returned when sign up succeeds without
// returning the created identity.
var ErrIdentityMissingAfterSignUp = errors.New("user identity not returned by provider", errors.CategoryAuth).
	WithTextCode(TextCodeIdentityMissingAfterSignUp).
	WithCode(errors.CodeInternal)

// ErrProfileNotFound is returned by profile stores when no row matches.
var ErrProfileNotFound = errors.New("patient profile not found", errors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(errors.CodeNotFound)

// ErrProfileConflict is returned by profile stores on duplicate rows.
var ErrProfileConflict = errors.New("patient profile already exists", errors.CategoryConflict).
	WithTextCode(TextCodeProfileConflict).
	WithCode(errors.CodeConflict)

// ErrAlreadyStarted is returned when Start is called twice on a synchronizer.
var ErrAlreadyStarted = errors.New("synchronizer already started", errors.CategoryOperation).
	WithTextCode(TextCodeAlreadyStarted)

// ErrRegistryClosed is returned when acquiring from a disposed registry.
var ErrRegistryClosed = errors.New("synchronizer registry closed", errors.CategoryOperation).
	WithTextCode(TextCodeRegistryClosed)

// NewAuthRejected builds the error identity clients return for bad
// credentials or sign up policy violations. The message is shown verbatim.
func NewAuthRejected(source error, message string) *errors.Error {
	if source == nil {
		return errors.New(message, errors.CategoryAuth).
			WithTextCode(TextCodeAuthRejected).
			WithCode(errors.CodeUnauthorized)
	}
	return errors.Wrap(source, errors.CategoryAuth, message).
		WithTextCode(TextCodeAuthRejected).
		WithCode(errors.CodeUnauthorized)
}

func newProfileLookupFailed(source error) *errors.Error {
	return errors.Wrap(source, errors.CategoryNotFound, "patient profile lookup failed").
		WithTextCode(TextCodeProfileLookupFailed)
}

func newProfileInsertFailed(source error, identityID string) *errors.Error {
	return errors.Wrap(source, errors.CategoryConflict, "could not create patient profile").
		WithTextCode(TextCodeProfileInsertFailed).
		WithCode(errors.CodeInternal).
		WithMetadata(map[string]any{
			"identity_id": identityID,
		})
}

func newRemoteSignOutFailed(source error) *errors.Error {
	return errors.Wrap(source, errors.CategoryOperation, "remote sign out failed").
		WithTextCode(TextCodeRemoteSignOutFailed)
}

// HasTextCode reports whether err carries the given text code.
func HasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// IsAuthRejected will check for bad credentials or policy violations
func IsAuthRejected(err error) bool {
	return HasTextCode(err, TextCodeAuthRejected)
}

// UserMessage returns the single human readable message shown on the
// credential screen for a failed action.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return "Não foi possível concluir a operação. Tente novamente."
	}

	switch richErr.TextCode {
	case TextCodeAuthRejected, TextCodeEmptySessionAfterAuth, TextCodeIdentityMissingAfterSignUp:
		return richErr.Message
	case TextCodeProfileInsertFailed:
		return "Conta criada, mas não foi possível salvar o cadastro do paciente."
	}

	switch richErr.Category {
	case errors.CategoryValidation, errors.CategoryBadInput, errors.CategoryRateLimit:
		return richErr.Message
	}

	return "Não foi possível concluir a operação. Tente novamente."
}
