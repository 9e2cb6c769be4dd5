package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"guildchat-backend/internal/apperrors"
	"guildchat-backend/internal/snowflake"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// The four channel families. These names are the whole contract
// between the REST side and the gateway fleet.
const Broadcast = "broadcast"

func GuildChannel(guildID int64) string {
	return fmt.Sprintf("guild:%s", snowflake.Format(guildID))
}

func ChannelChannel(channelID int64) string {
	return fmt.Sprintf("channel:%s", snowflake.Format(channelID))
}

func UserChannel(userID int64) string {
	return fmt.Sprintf("user:%s", snowflake.Format(userID))
}

// Target narrows who should receive an envelope.
type Target struct {
	GuildID      string   `json:"guild_id,omitempty"`
	ChannelID    string   `json:"channel_id,omitempty"`
	ExcludeUsers []string `json:"exclude_users,omitempty"`
}

// Envelope is the serialized pub/sub payload. Data stays opaque, the
// bus routes envelopes and never looks inside them.
type Envelope struct {
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	Target *Target         `json:"target,omitempty"`
}

// Excludes reports whether the envelope asked to skip this user.
func (envelope *Envelope) Excludes(userID int64) bool {
	if envelope.Target == nil {
		return false
	}
	id := snowflake.Format(userID)
	for i := range envelope.Target.ExcludeUsers {
		if envelope.Target.ExcludeUsers[i] == id {
			return true
		}
	}
	return false
}

var sugar *zap.SugaredLogger
var redisClient *redis.Client
var redisCtx = context.Background()
var selfContained = true

var localMutex sync.RWMutex
var localSubs = make(map[string]map[*Subscription]struct{})

func Setup(_sugar *zap.SugaredLogger, _redisClient *redis.Client, _selfContained bool) {
	sugar = _sugar
	redisClient = _redisClient
	selfContained = _selfContained
}

// Publish is fire-and-forget: the write that triggered it has already
// committed, so a failure is surfaced to the caller and logged, never
// retried here.
func Publish(channel string, event string, data any, target *Target) error {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return err
	}

	envelope := Envelope{
		Event:  event,
		Data:   dataBytes,
		Target: target,
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	sugar.Debugf("Publishing %s to channel [%s]", event, channel)

	if selfContained {
		publishLocal(channel, envelope)
		return nil
	}

	err = redisClient.Publish(redisCtx, channel, payload).Err()
	if err != nil {
		sugar.Errorf("Publishing %s to channel [%s] failed: %v", event, channel, err)
		return fmt.Errorf("%w: %v", apperrors.ErrBusUnavailable, err)
	}

	return nil
}

func publishLocal(channel string, envelope Envelope) {
	localMutex.RLock()
	defer localMutex.RUnlock()

	for sub := range localSubs[channel] {
		select {
		case sub.msgCh <- envelope:
		default:
			// a subscriber that can't keep up loses messages rather
			// than blocking the publisher
			sugar.Warnf("Dropping %s on channel [%s], subscriber queue is full", envelope.Event, channel)
		}
	}
}

// Subscription is one consumer's set of channels plus the stream of
// envelopes arriving on them. Redis-backed subscriptions resubscribe
// with backoff after transport loss (handled inside go-redis), so the
// stream may repeat envelopes across a reconnect; consumers own
// idempotence.
type Subscription struct {
	pubsub   *redis.PubSub
	msgCh    chan Envelope
	done     chan struct{}
	mutex    sync.Mutex
	channels map[string]struct{}
}

func NewSubscription(ctx context.Context) *Subscription {
	sub := &Subscription{
		msgCh:    make(chan Envelope, 64),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}

	if selfContained {
		return sub
	}

	sub.pubsub = redisClient.Subscribe(ctx)

	go func() {
		defer close(sub.msgCh)
		for {
			select {
			case <-sub.done:
				return
			case msg, ok := <-sub.pubsub.Channel():
				if !ok {
					return
				}
				var envelope Envelope
				err := json.Unmarshal([]byte(msg.Payload), &envelope)
				if err != nil {
					sugar.Errorf("Dropping undecodable envelope on channel [%s]: %v", msg.Channel, err)
					continue
				}
				select {
				case sub.msgCh <- envelope:
				case <-sub.done:
					return
				}
			}
		}
	}()

	return sub
}

// Messages yields the envelope stream. The channel closes when the
// subscription does, or when the transport is lost for good.
func (sub *Subscription) Messages() <-chan Envelope {
	return sub.msgCh
}

func (sub *Subscription) Subscribe(ctx context.Context, channels ...string) error {
	sub.mutex.Lock()
	defer sub.mutex.Unlock()

	for i := range channels {
		sub.channels[channels[i]] = struct{}{}
	}

	if selfContained {
		localMutex.Lock()
		defer localMutex.Unlock()

		for i := range channels {
			subs := localSubs[channels[i]]
			if subs == nil {
				subs = make(map[*Subscription]struct{})
				localSubs[channels[i]] = subs
			}
			subs[sub] = struct{}{}
		}
		return nil
	}

	err := sub.pubsub.Subscribe(ctx, channels...)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrBusUnavailable, err)
	}
	return nil
}

func (sub *Subscription) Unsubscribe(ctx context.Context, channels ...string) error {
	sub.mutex.Lock()
	defer sub.mutex.Unlock()

	for i := range channels {
		delete(sub.channels, channels[i])
	}

	if selfContained {
		localMutex.Lock()
		defer localMutex.Unlock()

		for i := range channels {
			delete(localSubs[channels[i]], sub)
			if len(localSubs[channels[i]]) == 0 {
				delete(localSubs, channels[i])
			}
		}
		return nil
	}

	err := sub.pubsub.Unsubscribe(ctx, channels...)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrBusUnavailable, err)
	}
	return nil
}

// Channels returns the current subscription set.
func (sub *Subscription) Channels() []string {
	sub.mutex.Lock()
	defer sub.mutex.Unlock()

	channels := make([]string, 0, len(sub.channels))
	for channel := range sub.channels {
		channels = append(channels, channel)
	}
	return channels
}

func (sub *Subscription) Close() error {
	sub.mutex.Lock()
	channels := make([]string, 0, len(sub.channels))
	for channel := range sub.channels {
		channels = append(channels, channel)
	}
	sub.channels = make(map[string]struct{})
	sub.mutex.Unlock()

	if selfContained {
		localMutex.Lock()
		for i := range channels {
			delete(localSubs[channels[i]], sub)
			if len(localSubs[channels[i]]) == 0 {
				delete(localSubs, channels[i])
			}
		}
		localMutex.Unlock()

		select {
		case <-sub.done:
		default:
			close(sub.done)
			close(sub.msgCh)
		}
		return nil
	}

	select {
	case <-sub.done:
	default:
		close(sub.done)
	}
	return sub.pubsub.Close()
}
