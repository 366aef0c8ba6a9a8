package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testJWTConfig = JWTConfig{
	Issuer: "holst-test",
	Secret: []byte("test-secret-key"),
}

func TestJWT_Authorize(t *testing.T) {
	ctx := context.Background()
	j := NewJWT(testJWTConfig)

	token, err := SignToken(testJWTConfig, "user-1", "Alice", nil, time.Hour)
	require.NoError(t, err)

	identity, err := j.Authorize(ctx, token, "any-document")
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.UserID)
	assert.Equal(t, "Alice", identity.Name)
}

func TestJWT_DocumentRestriction(t *testing.T) {
	ctx := context.Background()
	j := NewJWT(testJWTConfig)

	token, err := SignToken(testJWTConfig, "user-1", "", []string{"doc-a", "doc-b"}, time.Hour)
	require.NoError(t, err)

	_, err = j.Authorize(ctx, token, "doc-a")
	assert.NoError(t, err)

	_, err = j.Authorize(ctx, token, "doc-c")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestJWT_InvalidTokens(t *testing.T) {
	ctx := context.Background()
	j := NewJWT(testJWTConfig)

	expired, err := SignToken(testJWTConfig, "user-1", "", nil, -time.Hour)
	require.NoError(t, err)

	wrongSecret, err := SignToken(JWTConfig{
		Issuer: testJWTConfig.Issuer,
		Secret: []byte("other-secret"),
	}, "user-1", "", nil, time.Hour)
	require.NoError(t, err)

	wrongIssuer, err := SignToken(JWTConfig{
		Issuer: "someone-else",
		Secret: testJWTConfig.Secret,
	}, "user-1", "", nil, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not.a.jwt"},
		{name: "expired token", token: expired},
		{name: "wrong secret", token: wrongSecret},
		{name: "wrong issuer", token: wrongIssuer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := j.Authorize(ctx, tt.token, "doc")
			assert.ErrorIs(t, err, ErrTokenInvalid)
		})
	}
}

func TestStatic_Authorize(t *testing.T) {
	ctx := context.Background()
	s := NewStatic(map[string]StaticToken{
		"token-all": {Identity: Identity{UserID: "u1", Name: "Alice"}},
		"token-doc": {Identity: Identity{UserID: "u2"}, Documents: []string{"doc-a"}},
	})

	identity, err := s.Authorize(ctx, "token-all", "anything")
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)

	_, err = s.Authorize(ctx, "token-doc", "doc-a")
	assert.NoError(t, err)

	_, err = s.Authorize(ctx, "token-doc", "doc-b")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = s.Authorize(ctx, "unknown", "doc-a")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
