package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	Setup(zap.NewNop().Sugar(), nil, true)
	m.Run()
}

func receiveEnvelope(t *testing.T, sub *Subscription) Envelope {
	t.Helper()
	select {
	case envelope := <-sub.Messages():
		return envelope
	case <-time.After(time.Second):
		t.Fatal("No envelope arrived within a second")
		return Envelope{}
	}
}

func assertNoEnvelope(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case envelope := <-sub.Messages():
		t.Fatalf("Unexpected envelope %s arrived", envelope.Event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "guild:200", GuildChannel(200))
	assert.Equal(t, "channel:400", ChannelChannel(400))
	assert.Equal(t, "user:100", UserChannel(100))
	assert.Equal(t, "broadcast", Broadcast)
}

func TestPublishSubscribe(t *testing.T) {
	sub := NewSubscription(context.Background())
	defer sub.Close()

	require.NoError(t, sub.Subscribe(context.Background(), GuildChannel(200)))

	err := Publish(GuildChannel(200), "MESSAGE_CREATE", map[string]string{"content": "hi"}, nil)
	require.NoError(t, err)

	envelope := receiveEnvelope(t, sub)
	assert.Equal(t, "MESSAGE_CREATE", envelope.Event)

	var data map[string]string
	require.NoError(t, json.Unmarshal(envelope.Data, &data))
	assert.Equal(t, "hi", data["content"])
}

func TestSubscriberOnlySeesItsChannels(t *testing.T) {
	sub := NewSubscription(context.Background())
	defer sub.Close()

	require.NoError(t, sub.Subscribe(context.Background(), GuildChannel(201)))

	err := Publish(GuildChannel(202), "MESSAGE_CREATE", struct{}{}, nil)
	require.NoError(t, err)

	assertNoEnvelope(t, sub)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	sub := NewSubscription(context.Background())
	defer sub.Close()

	require.NoError(t, sub.Subscribe(context.Background(), ChannelChannel(400)))
	require.NoError(t, sub.Unsubscribe(context.Background(), ChannelChannel(400)))

	err := Publish(ChannelChannel(400), "TYPING_START", struct{}{}, nil)
	require.NoError(t, err)

	assertNoEnvelope(t, sub)
}

func TestEnvelopeTargetAndExclusions(t *testing.T) {
	sub := NewSubscription(context.Background())
	defer sub.Close()

	require.NoError(t, sub.Subscribe(context.Background(), GuildChannel(200)))

	target := &Target{
		GuildID:      "200",
		ExcludeUsers: []string{"100"},
	}
	err := Publish(GuildChannel(200), "PRESENCE_UPDATE", struct{}{}, target)
	require.NoError(t, err)

	envelope := receiveEnvelope(t, sub)
	require.NotNil(t, envelope.Target)
	assert.Equal(t, "200", envelope.Target.GuildID)
	assert.True(t, envelope.Excludes(100))
	assert.False(t, envelope.Excludes(101))
}

func TestFanOutToMultipleSubscribers(t *testing.T) {
	first := NewSubscription(context.Background())
	defer first.Close()
	second := NewSubscription(context.Background())
	defer second.Close()

	require.NoError(t, first.Subscribe(context.Background(), ChannelChannel(401)))
	require.NoError(t, second.Subscribe(context.Background(), ChannelChannel(401)))

	err := Publish(ChannelChannel(401), "MESSAGE_CREATE", struct{}{}, nil)
	require.NoError(t, err)

	assert.Equal(t, "MESSAGE_CREATE", receiveEnvelope(t, first).Event)
	assert.Equal(t, "MESSAGE_CREATE", receiveEnvelope(t, second).Event)
}

func TestClosedSubscriptionReceivesNothing(t *testing.T) {
	sub := NewSubscription(context.Background())
	require.NoError(t, sub.Subscribe(context.Background(), GuildChannel(203)))
	require.NoError(t, sub.Close())

	// publish after close must not panic or deliver
	err := Publish(GuildChannel(203), "MESSAGE_CREATE", struct{}{}, nil)
	require.NoError(t, err)

	_, open := <-sub.Messages()
	assert.False(t, open)
}
