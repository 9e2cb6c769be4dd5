package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatchFrameWireFormat(t *testing.T) {
	frame := dispatchFrame(EventMessageCreate, 42, json.RawMessage(`{"content":"hi"}`))

	encoded, err := json.Marshal(frame)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(encoded, &decoded))

	assert.Equal(t, `0`, string(decoded["op"]))
	assert.Equal(t, `"MESSAGE_CREATE"`, string(decoded["t"]))
	assert.Equal(t, `42`, string(decoded["s"]))
	assert.Equal(t, `{"content":"hi"}`, string(decoded["d"]))
}

func TestDispatchFrameKeepsSequenceZero(t *testing.T) {
	// s must survive even at zero, it's a pointer for that reason
	frame := dispatchFrame(EventReady, 0, json.RawMessage(`{}`))

	encoded, err := json.Marshal(frame)
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"s":0`)
}

func TestHelloFrame(t *testing.T) {
	frame := helloFrame(45000)

	encoded, err := json.Marshal(frame)
	require.NoError(t, err)

	assert.Contains(t, string(encoded), `"op":10`)
	assert.Contains(t, string(encoded), `"heartbeat_interval":45000`)
	assert.NotContains(t, string(encoded), `"t"`)
	assert.NotContains(t, string(encoded), `"s"`)
}

func TestHeartbeatAckFrame(t *testing.T) {
	encoded, err := json.Marshal(heartbeatAckFrame())
	require.NoError(t, err)
	assert.Equal(t, `{"op":11}`, string(encoded))
}

func TestReconnectFrame(t *testing.T) {
	encoded, err := json.Marshal(reconnectFrame())
	require.NoError(t, err)
	assert.Equal(t, `{"op":5}`, string(encoded))
}

func TestInvalidSessionFrame(t *testing.T) {
	encoded, err := json.Marshal(invalidSessionFrame(true))
	require.NoError(t, err)
	assert.Equal(t, `{"op":7,"d":true}`, string(encoded))

	encoded, err = json.Marshal(invalidSessionFrame(false))
	require.NoError(t, err)
	assert.Equal(t, `{"op":7,"d":false}`, string(encoded))
}

func TestParseIdentifyFrame(t *testing.T) {
	var frame Frame
	require.NoError(t, json.Unmarshal([]byte(`{"op":2,"d":{"token":"abc","properties":{"os":"linux"}}}`), &frame))

	assert.Equal(t, OpIdentify, frame.Op)

	var identify IdentifyPayload
	require.NoError(t, json.Unmarshal(frame.D, &identify))
	assert.Equal(t, "abc", identify.Token)
}

func TestParseResumeFrame(t *testing.T) {
	var frame Frame
	require.NoError(t, json.Unmarshal([]byte(`{"op":4,"d":{"token":"abc","session_id":"S1","seq":42}}`), &frame))

	assert.Equal(t, OpResume, frame.Op)

	var resume ResumePayload
	require.NoError(t, json.Unmarshal(frame.D, &resume))
	assert.Equal(t, "S1", resume.SessionID)
	assert.Equal(t, uint64(42), resume.Seq)
}

func TestParseHeartbeatFrameWithNullData(t *testing.T) {
	var frame Frame
	require.NoError(t, json.Unmarshal([]byte(`{"op":1,"d":null}`), &frame))

	assert.Equal(t, OpHeartbeat, frame.Op)
}

func TestCloseCodeDescriptions(t *testing.T) {
	assert.Equal(t, "Not authenticated", closeCodeDescription(CloseNotAuthenticated))
	assert.Equal(t, "Authentication failed", closeCodeDescription(CloseAuthenticationFailed))
	assert.Equal(t, "Session timeout", closeCodeDescription(CloseSessionTimeout))
	assert.Equal(t, "Unknown error", closeCodeDescription(1234))
}
