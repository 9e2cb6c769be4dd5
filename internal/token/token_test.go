package token

import (
	"testing"

	"guildchat-backend/internal/apperrors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	Setup("test-secret")
	m.Run()
}

func TestCreateAndVerifyPair(t *testing.T) {
	pair, err := CreatePair(175928847299117063)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	userID, err := VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(175928847299117063), userID)

	userID, err = VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, int64(175928847299117063), userID)
}

func TestRefreshTokenIsNotAnAccessToken(t *testing.T) {
	pair, err := CreatePair(100)
	require.NoError(t, err)

	// only type=access passes on the gateway path
	_, err = VerifyAccess(pair.RefreshToken)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)

	_, err = VerifyRefresh(pair.AccessToken)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, err := VerifyAccess("not.a.jwt")
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	pair, err := CreatePair(100)
	require.NoError(t, err)

	Setup("different-secret")
	defer Setup("test-secret")

	_, err = VerifyAccess(pair.AccessToken)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
}
