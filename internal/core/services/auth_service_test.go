package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthService_RoundTrip(t *testing.T) {
	auth := NewAuthService("test-secret", time.Minute)

	token, err := auth.GenerateToken("u1", "Alice")
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.EqualValues(t, "u1", claims.ParticipantID)
	assert.Equal(t, "Alice", claims.DisplayName)
}

func TestAuthService_RejectsExpiredToken(t *testing.T) {
	auth := NewAuthService("test-secret", -time.Minute)

	token, err := auth.GenerateToken("u1", "")
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestAuthService_RejectsForeignSecret(t *testing.T) {
	other := NewAuthService("other-secret", time.Minute)
	token, err := other.GenerateToken("u1", "")
	require.NoError(t, err)

	auth := NewAuthService("test-secret", time.Minute)
	_, err = auth.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthService_RejectsGarbage(t *testing.T) {
	auth := NewAuthService("test-secret", time.Minute)
	_, err := auth.ValidateToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}
