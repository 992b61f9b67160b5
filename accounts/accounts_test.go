package accounts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	s := NewStore()

	u, err := s.Register("Alice@Example.com", "", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email, "email stored lowercased")
	assert.Equal(t, "alice", u.Username, "username defaults to local part")
	assert.NotEmpty(t, u.ID)
	assert.NotEqual(t, "correct horse battery", u.PasswordHash, "never stored in the clear")

	got, err := s.Authenticate("alice@example.com", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.Authenticate("alice@example.com", "wrong password")
	assert.ErrorIs(t, err, ErrBadCredentials)

	_, err = s.Authenticate("nobody@example.com", "correct horse battery")
	assert.ErrorIs(t, err, ErrBadCredentials, "unknown email indistinguishable from bad password")
}

func TestRegisterValidation(t *testing.T) {
	s := NewStore()

	_, err := s.Register("not-an-email", "x", "long enough pw")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.Register("bob@example.com", "bob", "short")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.Register("bob@example.com", "bob", "long enough pw")
	require.NoError(t, err)

	_, err = s.Register("BOB@example.com", "bob2", "long enough pw")
	assert.ErrorIs(t, err, ErrEmailTaken, "uniqueness is case-insensitive")
}

func TestGet(t *testing.T) {
	s := NewStore()
	u, err := s.Register("carol@example.com", "carol", "long enough pw")
	require.NoError(t, err)

	got, err := s.Get(u.ID)
	require.NoError(t, err)
	assert.Equal(t, "carol", got.Username)

	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1, s.Count())
}
