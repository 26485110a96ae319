package auth_test

import (
	"errors"
	"fmt"
	"testing"

	auth "github.com/goliatone/go-patient-auth"
	"github.com/stretchr/testify/assert"
)

func TestIsAuthRejected(t *testing.T) {
	rejected := auth.NewAuthRejected(errors.New("400 bad request"), "Invalid login credentials")

	assert.True(t, auth.IsAuthRejected(rejected))
	assert.True(t, auth.IsAuthRejected(fmt.Errorf("sign in: %w", rejected)))
	assert.False(t, auth.IsAuthRejected(errors.New("plain")))
	assert.False(t, auth.IsAuthRejected(nil))
	assert.False(t, auth.IsAuthRejected(auth.ErrEmptySessionAfterAuth))
}

func TestHasTextCode(t *testing.T) {
	assert.True(t, auth.HasTextCode(auth.ErrProfileNotFound, auth.TextCodeProfileNotFound))
	assert.True(t, auth.HasTextCode(auth.ErrProfileConflict, auth.TextCodeProfileConflict))
	assert.False(t, auth.HasTextCode(auth.ErrProfileConflict, auth.TextCodeProfileNotFound))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "", auth.UserMessage(nil))
	assert.Equal(t, "Invalid login credentials",
		auth.UserMessage(auth.NewAuthRejected(nil, "Invalid login credentials")))
	assert.Equal(t, "invalid session after sign in", auth.UserMessage(auth.ErrEmptySessionAfterAuth))
	assert.Equal(t, "Não foi possível concluir a operação. Tente novamente.",
		auth.UserMessage(errors.New("dial tcp: connection refused")))
}
