package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

func TestBuildSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s, token, err := buildSession(options{
		token:  "tok",
		pepper: "pepper",
		userID: "u1",
		name:   "Jane Doe",
		email:  "jane@example.com",
		ttl:    time.Hour,
	}, now)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)
	assert.Equal(t, auth.HashToken([]byte("pepper"), "tok"), s.TokenHash)
	assert.Equal(t, auth.Identity{UserID: "u1", Name: "Jane Doe", Email: "jane@example.com"}, s.Identity)
	assert.Equal(t, now.Add(time.Hour), s.ExpiresAt)
	assert.NotEmpty(t, s.ID)
}

func TestBuildSession_Generated(t *testing.T) {
	s, token, err := buildSession(options{fake: true}, time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NotEmpty(t, s.Identity.UserID)
	assert.NotEmpty(t, s.Identity.Name)
	assert.Contains(t, s.Identity.Email, "@")
	assert.True(t, s.ExpiresAt.IsZero())
	assert.NotContains(t, s.TokenHash, token)
}

func TestBuildSession_RequiresEmail(t *testing.T) {
	_, _, err := buildSession(options{name: "Jane"}, time.Now())
	require.Error(t, err)
}
