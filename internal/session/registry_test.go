package session

import (
	"fmt"
	"testing"
	"time"

	"guildchat-backend/internal/keyValue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	keyValue.Setup(zap.NewNop().Sugar(), nil, true)
	Setup(zap.NewNop().Sugar(), 0)
	m.Run()
}

func payload(i int) []byte {
	return fmt.Appendf(nil, `{"content":"event %d"}`, i)
}

func TestCreateRegistersHandle(t *testing.T) {
	handle, err := Create(100, []int64{200, 201})
	require.NoError(t, err)
	defer Delete(handle.SessionID)

	assert.NotEmpty(t, handle.SessionID)
	assert.Equal(t, int64(100), handle.UserID)

	registered, exists := GetHandle(handle.SessionID)
	require.True(t, exists)
	assert.Same(t, handle, registered)
}

func TestSessionIDsAreUnique(t *testing.T) {
	first, err := Create(100, nil)
	require.NoError(t, err)
	defer Delete(first.SessionID)

	second, err := Create(100, nil)
	require.NoError(t, err)
	defer Delete(second.SessionID)

	assert.NotEqual(t, first.SessionID, second.SessionID)
}

func TestAppendEventSequenceIsGapless(t *testing.T) {
	handle, err := Create(100, nil)
	require.NoError(t, err)
	defer Delete(handle.SessionID)

	for i := 1; i <= 10; i++ {
		seq, err := AppendEvent(handle.SessionID, "MESSAGE_CREATE", payload(i))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}

	// the writer queue received them in order with the same sequences
	for i := 1; i <= 10; i++ {
		event := <-handle.Events
		assert.Equal(t, uint64(i), event.Sequence)
		assert.Equal(t, "MESSAGE_CREATE", event.Event)
	}
}

func TestQueueOverflow(t *testing.T) {
	handle, err := Create(100, nil)
	require.NoError(t, err)
	defer Delete(handle.SessionID)

	for i := range QueueCapacity {
		_, err := AppendEvent(handle.SessionID, "MESSAGE_CREATE", payload(i))
		require.NoError(t, err)
	}

	_, err = AppendEvent(handle.SessionID, "MESSAGE_CREATE", payload(QueueCapacity))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestResumeReplaysMissedEventsInOrder(t *testing.T) {
	handle, err := Create(100, []int64{200})
	require.NoError(t, err)
	sessionID := handle.SessionID
	defer Delete(sessionID)

	for i := 1; i <= 42; i++ {
		_, err := AppendEvent(sessionID, "MESSAGE_CREATE", payload(i))
		require.NoError(t, err)
	}

	require.NoError(t, MarkDisconnected(sessionID))
	_, exists := GetHandle(sessionID)
	assert.False(t, exists)

	// two more events land while the session is parked
	seq, err := AppendEvent(sessionID, "MESSAGE_CREATE", payload(43))
	require.NoError(t, err)
	assert.Equal(t, uint64(43), seq)
	seq, err = AppendEvent(sessionID, "MESSAGE_CREATE", payload(44))
	require.NoError(t, err)
	assert.Equal(t, uint64(44), seq)

	resumed, replay, err := Resume(sessionID, 100, 42)
	require.NoError(t, err)
	require.Len(t, replay, 2)
	assert.Equal(t, uint64(43), replay[0].Sequence)
	assert.Equal(t, uint64(44), replay[1].Sequence)

	// the next event continues the sequence
	seq, err = AppendEvent(sessionID, "RESUMED", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(45), seq)
	assert.Same(t, resumed, mustGetHandle(t, sessionID))
}

func mustGetHandle(t *testing.T, sessionID string) *Handle {
	t.Helper()
	handle, exists := GetHandle(sessionID)
	require.True(t, exists)
	return handle
}

func TestResumeWithCurrentSequenceReplaysNothing(t *testing.T) {
	handle, err := Create(100, nil)
	require.NoError(t, err)
	sessionID := handle.SessionID
	defer Delete(sessionID)

	for i := 1; i <= 5; i++ {
		_, err := AppendEvent(sessionID, "MESSAGE_CREATE", payload(i))
		require.NoError(t, err)
	}
	require.NoError(t, MarkDisconnected(sessionID))

	_, replay, err := Resume(sessionID, 100, 5)
	require.NoError(t, err)
	assert.Empty(t, replay)
}

func TestResumeUnknownSession(t *testing.T) {
	_, _, err := Resume("does-not-exist", 100, 0)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestResumeWrongUser(t *testing.T) {
	handle, err := Create(100, nil)
	require.NoError(t, err)
	defer Delete(handle.SessionID)

	require.NoError(t, MarkDisconnected(handle.SessionID))

	_, _, err = Resume(handle.SessionID, 999, 0)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestResumeWhileConnectedElsewhere(t *testing.T) {
	handle, err := Create(100, nil)
	require.NoError(t, err)
	defer Delete(handle.SessionID)

	_, _, err = Resume(handle.SessionID, 100, 0)
	assert.ErrorIs(t, err, ErrSessionElsewhere)
}

func TestResumeWithFutureSequenceFails(t *testing.T) {
	handle, err := Create(100, nil)
	require.NoError(t, err)
	defer Delete(handle.SessionID)

	require.NoError(t, MarkDisconnected(handle.SessionID))

	_, _, err = Resume(handle.SessionID, 100, 10)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestResumeAfterWindowExpires(t *testing.T) {
	Setup(zap.NewNop().Sugar(), 50*time.Millisecond)
	defer Setup(zap.NewNop().Sugar(), ResumeWindow)

	handle, err := Create(100, nil)
	require.NoError(t, err)
	sessionID := handle.SessionID

	require.NoError(t, MarkDisconnected(sessionID))

	time.Sleep(80 * time.Millisecond)

	_, _, err = Resume(sessionID, 100, 0)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestAppendDoesNotExtendTheWindow(t *testing.T) {
	Setup(zap.NewNop().Sugar(), 100*time.Millisecond)
	defer Setup(zap.NewNop().Sugar(), ResumeWindow)

	handle, err := Create(100, nil)
	require.NoError(t, err)
	sessionID := handle.SessionID

	require.NoError(t, MarkDisconnected(sessionID))

	// an append inside the window must not push the deadline out
	time.Sleep(60 * time.Millisecond)
	_, err = AppendEvent(sessionID, "MESSAGE_CREATE", payload(1))
	require.NoError(t, err)

	// past the original deadline, even though the append was recent
	time.Sleep(70 * time.Millisecond)

	_, _, err = Resume(sessionID, 100, 0)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestBufferWrapFailsResume(t *testing.T) {
	handle, err := Create(100, nil)
	require.NoError(t, err)
	sessionID := handle.SessionID
	defer Delete(sessionID)

	// park first so events only buffer instead of queueing
	require.NoError(t, MarkDisconnected(sessionID))

	for i := range MaxBufferedEvents + 5 {
		_, err := AppendEvent(sessionID, "MESSAGE_CREATE", payload(i))
		require.NoError(t, err)
	}

	// the first 5 events fell off the buffer, resuming from 0 is a gap
	_, _, err = Resume(sessionID, 100, 0)
	assert.ErrorIs(t, err, ErrUnknownSession)

	// resuming from within the retained window still works
	_, replay, err := Resume(sessionID, 100, uint64(5))
	require.NoError(t, err)
	assert.Len(t, replay, MaxBufferedEvents)
	assert.Equal(t, uint64(6), replay[0].Sequence)
	assert.Equal(t, uint64(MaxBufferedEvents+5), replay[len(replay)-1].Sequence)
}

func TestDeleteRemovesEverything(t *testing.T) {
	handle, err := Create(100, nil)
	require.NoError(t, err)
	sessionID := handle.SessionID

	_, err = AppendEvent(sessionID, "MESSAGE_CREATE", payload(1))
	require.NoError(t, err)

	require.NoError(t, Delete(sessionID))

	_, exists := GetHandle(sessionID)
	assert.False(t, exists)

	_, err = AppendEvent(sessionID, "MESSAGE_CREATE", payload(2))
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestInvalidateAllForUser(t *testing.T) {
	first, err := Create(500, nil)
	require.NoError(t, err)
	second, err := Create(500, nil)
	require.NoError(t, err)
	other, err := Create(501, nil)
	require.NoError(t, err)
	defer Delete(other.SessionID)

	require.NoError(t, InvalidateAllForUser(500))

	_, exists := GetHandle(first.SessionID)
	assert.False(t, exists)
	_, exists = GetHandle(second.SessionID)
	assert.False(t, exists)

	// the other user's session is untouched
	_, exists = GetHandle(other.SessionID)
	assert.True(t, exists)
}

func TestUpdateGuilds(t *testing.T) {
	handle, err := Create(100, []int64{200})
	require.NoError(t, err)
	defer Delete(handle.SessionID)

	require.NoError(t, UpdateGuilds(handle.SessionID, []int64{200, 201}))

	record, exists, err := readRecord(handle.SessionID)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, []int64{200, 201}, record.Guilds)
}
