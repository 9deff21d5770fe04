package oidc

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectToken(t *testing.T) {
	exp := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	tok := signedToken(t, jwt.MapClaims{"sub": "owner:team:project", "iss": "https://oidc.vercel.com", "exp": exp.Unix()})

	info, err := InspectToken(tok)
	require.NoError(t, err)
	assert.True(t, info.JWT)
	assert.Equal(t, "HS256", info.Algorithm)
	assert.Equal(t, "owner:team:project", info.Subject)
	assert.Equal(t, "https://oidc.vercel.com", info.Issuer)
	assert.True(t, exp.Equal(info.ExpiresAt))
	assert.Equal(t, []string{"exp", "iss", "sub"}, info.Claims)
	assert.Empty(t, info.Warnings)

	assert.False(t, info.Expired(exp.Add(-time.Second)))
	assert.True(t, info.Expired(exp))
}

func TestInspectTokenWarnings(t *testing.T) {
	info, err := InspectToken("Bearer " + signedToken(t, jwt.MapClaims{"sub": "x"}))
	require.NoError(t, err)
	assert.True(t, info.JWT)
	assert.True(t, info.ExpiresAt.IsZero())
	assert.False(t, info.Expired(time.Now()))
	assert.Len(t, info.Warnings, 2)

	info, err = InspectToken("vck_opaque")
	require.NoError(t, err)
	assert.False(t, info.JWT)
	assert.Len(t, info.Warnings, 1)

	_, err = InspectToken("")
	assert.Error(t, err)
}
