package presence

import (
	"testing"

	"guildchat-backend/internal/keyValue"
	"guildchat-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	keyValue.Setup(zap.NewNop().Sugar(), nil, true)
	Setup(zap.NewNop().Sugar())
	m.Run()
}

func TestUnknownUserIsOffline(t *testing.T) {
	status, err := GetStatus(999)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, status)
}

func TestFirstSessionComesUpOnline(t *testing.T) {
	require.NoError(t, AddSession(100, "S1"))
	defer RemoveSession(100, "S1")

	status, err := GetStatus(100)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOnline, status)
}

func TestStatusSurvivesSecondSession(t *testing.T) {
	require.NoError(t, AddSession(101, "S1"))
	require.NoError(t, SetStatus(101, models.StatusDnd))
	require.NoError(t, AddSession(101, "S2"))

	status, err := GetStatus(101)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDnd, status)

	// dropping one of two sessions keeps the user present
	lastGone, err := RemoveSession(101, "S1")
	require.NoError(t, err)
	assert.False(t, lastGone)

	lastGone, err = RemoveSession(101, "S2")
	require.NoError(t, err)
	assert.True(t, lastGone)

	status, err = GetStatus(101)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOffline, status)
}

func TestIsValidStatus(t *testing.T) {
	assert.True(t, IsValidStatus(models.StatusOnline))
	assert.True(t, IsValidStatus(models.StatusIdle))
	assert.True(t, IsValidStatus(models.StatusDnd))
	assert.True(t, IsValidStatus(models.StatusOffline))
	assert.False(t, IsValidStatus("busy"))
	assert.False(t, IsValidStatus(""))
}
