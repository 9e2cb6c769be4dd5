package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"guildchat-backend/internal/bus"
	"guildchat-backend/internal/session"
	"guildchat-backend/internal/snowflake"
	"guildchat-backend/internal/store"
)

// sessionPump owns one session's bus subscription and routes eligible
// envelopes into the session buffer. It is keyed to the session, not
// the connection: when the connection drops and the session is parked
// Disconnected, the pump keeps appending so a later Resume has the
// missed events to replay. It dies only when the session does, when
// another instance takes the session over, or when the resume window
// lapses with nobody attached.
type sessionPump struct {
	sessionID string
	userID    int64

	ctx    context.Context
	cancel context.CancelFunc

	sub *bus.Subscription

	// stateMutex guards the subscription sets, the attached client
	// and the detach timer
	stateMutex  sync.Mutex
	guilds      map[int64]struct{}
	dmChannels  map[int64]struct{}
	client      *Client
	detachTimer *time.Timer

	startOnce sync.Once
	stopOnce  sync.Once
}

var pumps = make(map[string]*sessionPump)
var pumpsMutex sync.Mutex

// newSessionPump subscribes the session's channel set and registers
// the pump. The run loop starts on the first attach.
func newSessionPump(sessionID string, userID int64, guildIDs []int64) (*sessionPump, error) {
	pumpCtx, cancel := context.WithCancel(context.Background())

	pump := &sessionPump{
		sessionID:  sessionID,
		userID:     userID,
		ctx:        pumpCtx,
		cancel:     cancel,
		guilds:     make(map[int64]struct{}),
		dmChannels: make(map[int64]struct{}),
	}
	pump.sub = bus.NewSubscription(pumpCtx)

	channels := []string{bus.UserChannel(userID), bus.Broadcast}
	for i := range guildIDs {
		channels = append(channels, bus.GuildChannel(guildIDs[i]))
		pump.guilds[guildIDs[i]] = struct{}{}
	}

	// Channels of the guilds the session starts with; guild channels
	// created or guilds joined later are not subscribed here.
	for i := range guildIDs {
		guildChannels, err := store.GuildChannels(pumpCtx, guildIDs[i])
		if err != nil {
			pump.stop()
			return nil, err
		}
		for j := range guildChannels {
			channels = append(channels, bus.ChannelChannel(guildChannels[j].ID))
		}
	}

	dmChannels, err := store.DmChannelsForUser(pumpCtx, userID)
	if err != nil {
		pump.stop()
		return nil, err
	}
	for i := range dmChannels {
		channels = append(channels, bus.ChannelChannel(dmChannels[i]))
		pump.dmChannels[dmChannels[i]] = struct{}{}
	}

	err = pump.sub.Subscribe(pumpCtx, channels...)
	if err != nil {
		pump.stop()
		return nil, err
	}

	pumpsMutex.Lock()
	pumps[sessionID] = pump
	pumpsMutex.Unlock()

	return pump, nil
}

func getPump(sessionID string) (*sessionPump, bool) {
	pumpsMutex.Lock()
	defer pumpsMutex.Unlock()

	pump, exists := pumps[sessionID]
	return pump, exists
}

// attach binds a live connection to the pump and starts the run loop
// if it isn't running yet.
func (pump *sessionPump) attach(client *Client) {
	pump.stateMutex.Lock()
	pump.client = client
	if pump.detachTimer != nil {
		pump.detachTimer.Stop()
		pump.detachTimer = nil
	}
	pump.stateMutex.Unlock()

	pump.startOnce.Do(func() {
		go pump.run()
	})
}

// detach parks the pump: it keeps buffering with no connection, and
// gives up shortly after the resume window when nobody reattaches.
func (pump *sessionPump) detach() {
	pump.stateMutex.Lock()
	defer pump.stateMutex.Unlock()

	pump.client = nil

	if pump.detachTimer != nil {
		pump.detachTimer.Stop()
	}
	pump.detachTimer = time.AfterFunc(resumeWindow+5*time.Second, func() {
		if pump.currentClient() == nil {
			sugar.Debugf("Session [%s] was never resumed, stopping its pump", pump.sessionID)
			pump.stop()
		}
	})
}

func (pump *sessionPump) currentClient() *Client {
	pump.stateMutex.Lock()
	defer pump.stateMutex.Unlock()

	return pump.client
}

// stop tears the pump down and forgets it. Safe to call twice.
func (pump *sessionPump) stop() {
	pump.stopOnce.Do(func() {
		pump.stateMutex.Lock()
		if pump.detachTimer != nil {
			pump.detachTimer.Stop()
			pump.detachTimer = nil
		}
		pump.stateMutex.Unlock()

		pump.cancel()
		pump.sub.Close()

		pumpsMutex.Lock()
		if pumps[pump.sessionID] == pump {
			delete(pumps, pump.sessionID)
		}
		pumpsMutex.Unlock()
	})
}

func stopPump(sessionID string) {
	if pump, exists := getPump(sessionID); exists {
		pump.stop()
	}
}

func stopAllPumps() {
	pumpsMutex.Lock()
	all := make([]*sessionPump, 0, len(pumps))
	for _, pump := range pumps {
		all = append(all, pump)
	}
	pumpsMutex.Unlock()

	for i := range all {
		all[i].stop()
	}
}

// run is the pump's only goroutine: envelopes in, buffered events out.
func (pump *sessionPump) run() {
	for {
		select {
		case <-pump.ctx.Done():
			return
		case envelope, ok := <-pump.sub.Messages():
			if !ok {
				// the bus is gone and go-redis gave up resubscribing;
				// tell the client, if any, to reconnect elsewhere
				if pump.ctx.Err() == nil {
					sugar.Warnf("Bus subscription of session [%s] was lost, requesting reconnect", pump.sessionID)
					if client := pump.currentClient(); client != nil {
						client.writeFrame(reconnectFrame())
						client.closeWith(CloseUnknownError, false)
					}
					pump.stop()
				}
				return
			}

			if envelope.Event == eventReconnectRequest {
				// fleet-wide reconnect request on the broadcast channel
				if client := pump.currentClient(); client != nil {
					client.writeFrame(reconnectFrame())
					client.closeWith(CloseUnknownError, false)
				}
				continue
			}

			if pump.currentClient() == nil && pump.takenOver() {
				return
			}

			pump.maintainSubscriptions(&envelope)

			visibleToUser, err := visible(pump.ctx, pump.userID, &envelope)
			if err != nil {
				sugar.Error(err)
				continue
			}
			if !visibleToUser {
				continue
			}

			_, err = session.AppendEvent(pump.sessionID, envelope.Event, envelope.Data)
			if err != nil {
				if errors.Is(err, session.ErrQueueFull) {
					if client := pump.currentClient(); client != nil {
						client.closeWith(CloseRateLimited, false)
					}
					continue
				}
				if errors.Is(err, session.ErrUnknownSession) {
					// deleted or lapsed, nothing left to buffer for
					pump.stop()
					return
				}
				sugar.Error(err)
			}
		}
	}
}

// takenOver reports whether a detached pump's session was resumed by
// another gateway instance (record Connected, no local handle) or is
// gone entirely. Either way that instance owns the buffer now and
// this pump stops.
func (pump *sessionPump) takenOver() bool {
	state, exists, err := session.State(pump.sessionID)
	if err != nil {
		sugar.Error(err)
		return false
	}
	if !exists {
		pump.stop()
		return true
	}
	if state == session.StateConnected {
		if _, local := session.GetHandle(pump.sessionID); !local {
			sugar.Debugf("Session [%s] was resumed on another instance, stopping its pump", pump.sessionID)
			pump.stop()
			return true
		}
	}
	return false
}

// maintainSubscriptions reacts to membership changes that affect this
// session's own subscription set.
func (pump *sessionPump) maintainSubscriptions(envelope *bus.Envelope) {
	switch envelope.Event {
	case EventGuildMemberAdd, EventGuildMemberRemove, EventGuildDelete:
	case EventChannelCreate:
	default:
		return
	}

	var probe struct {
		UserID  string `json:"userID"`
		GuildID string `json:"guildID"`
	}
	if err := json.Unmarshal(envelope.Data, &probe); err != nil {
		return
	}

	self := snowflake.Format(pump.userID)

	switch envelope.Event {
	case EventGuildMemberAdd:
		if probe.UserID != self || probe.GuildID == "" {
			return
		}
		guildID, err := snowflake.ParseString(probe.GuildID)
		if err != nil {
			return
		}
		pump.stateMutex.Lock()
		_, subscribed := pump.guilds[guildID]
		if !subscribed {
			pump.guilds[guildID] = struct{}{}
		}
		pump.stateMutex.Unlock()
		if subscribed {
			return
		}
		err = pump.sub.Subscribe(pump.ctx, bus.GuildChannel(guildID))
		if err != nil {
			sugar.Error(err)
			return
		}
		pump.syncSessionGuilds()

	case EventGuildMemberRemove:
		if probe.UserID != self || probe.GuildID == "" {
			return
		}
		guildID, err := snowflake.ParseString(probe.GuildID)
		if err != nil {
			return
		}
		pump.unsubscribeGuild(guildID)

	case EventGuildDelete:
		var deleted struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(envelope.Data, &deleted); err != nil {
			return
		}
		guildID, err := snowflake.ParseString(deleted.ID)
		if err != nil {
			return
		}
		pump.unsubscribeGuild(guildID)

	case EventChannelCreate:
		// a DM channel opened with this user as a recipient arrives on
		// the user channel with no guild target
		if envelope.Target == nil || envelope.Target.GuildID != "" || envelope.Target.ChannelID == "" {
			return
		}
		channelID, err := snowflake.ParseString(envelope.Target.ChannelID)
		if err != nil {
			return
		}
		pump.stateMutex.Lock()
		_, subscribed := pump.dmChannels[channelID]
		if !subscribed {
			pump.dmChannels[channelID] = struct{}{}
		}
		pump.stateMutex.Unlock()
		if subscribed {
			return
		}
		err = pump.sub.Subscribe(pump.ctx, bus.ChannelChannel(channelID))
		if err != nil {
			sugar.Error(err)
		}
	}
}

func (pump *sessionPump) unsubscribeGuild(guildID int64) {
	pump.stateMutex.Lock()
	_, subscribed := pump.guilds[guildID]
	delete(pump.guilds, guildID)
	pump.stateMutex.Unlock()

	if !subscribed {
		return
	}
	err := pump.sub.Unsubscribe(pump.ctx, bus.GuildChannel(guildID))
	if err != nil {
		sugar.Error(err)
	}
	pump.syncSessionGuilds()
}

func (pump *sessionPump) syncSessionGuilds() {
	err := session.UpdateGuilds(pump.sessionID, pump.guildList())
	if err != nil && !errors.Is(err, session.ErrUnknownSession) {
		sugar.Error(err)
	}
}

// guildList snapshots the current guild subscription set.
func (pump *sessionPump) guildList() []int64 {
	pump.stateMutex.Lock()
	defer pump.stateMutex.Unlock()

	guildIDs := make([]int64, 0, len(pump.guilds))
	for guildID := range pump.guilds {
		guildIDs = append(guildIDs, guildID)
	}
	return guildIDs
}
