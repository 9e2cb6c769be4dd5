package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"guildchat-backend/internal/bus"
	"guildchat-backend/internal/config"
	"guildchat-backend/internal/models"
	"guildchat-backend/internal/permissions"
	"guildchat-backend/internal/presence"
	"guildchat-backend/internal/session"
	"guildchat-backend/internal/snowflake"
	"guildchat-backend/internal/store"
	"guildchat-backend/internal/token"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var sugar *zap.SugaredLogger
var resolver *permissions.Resolver

var heartbeatInterval time.Duration
var identifyDeadline time.Duration
var resumeWindow time.Duration
var resumeGatewayURL string

var identifyLimit *identifyLimiter
var presenceRateLimit int
var opRateLimit int

func Setup(_sugar *zap.SugaredLogger, _resolver *permissions.Resolver, cfg *config.Config, _resumeGatewayURL string) {
	sugar = _sugar
	resolver = _resolver
	heartbeatInterval = cfg.HeartbeatInterval
	identifyDeadline = cfg.IdentifyDeadline
	resumeWindow = cfg.ResumeWindow
	resumeGatewayURL = _resumeGatewayURL
	identifyLimit = newIdentifyLimiter(cfg.IdentifyRateLimit, 5*time.Second)
	presenceRateLimit = cfg.PresenceRateLimit
	opRateLimit = cfg.OpRateLimit
}

// Client is one WebSocket connection. The reader goroutine owns every
// field except the write path, which is serialized by writeMutex; the
// bus and writer goroutines only touch what the comments say they do.
type Client struct {
	conn     *websocket.Conn
	remoteIP string

	ctx    context.Context
	cancel context.CancelFunc

	writeMutex sync.Mutex

	authenticated atomic.Bool
	user          models.User
	handle        *session.Handle

	// pump outlives the connection: it keeps the session's bus
	// subscription and buffer appends running while Disconnected
	pump *sessionPump

	lastHeartbeatNanos atomic.Int64
	ackedSequence      atomic.Uint64

	opLimiter       *rateLimiter
	presenceLimiter *rateLimiter

	// invalidate marks a policy close: the session is deleted instead
	// of parked for resume
	invalidate bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandleClient runs the whole connection lifecycle. Authentication
// happens in-band via Identify/Resume, not at the HTTP layer.
func HandleClient(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sugar.Error(err)
		return
	}
	defer conn.Close()

	remoteIP, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remoteIP = r.RemoteAddr
	}

	clientCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := &Client{
		conn:            conn,
		remoteIP:        remoteIP,
		ctx:             clientCtx,
		cancel:          cancel,
		opLimiter:       newRateLimiter(opRateLimit, time.Minute),
		presenceLimiter: newRateLimiter(presenceRateLimit, time.Minute),
	}
	client.lastHeartbeatNanos.Store(time.Now().UnixNano())

	err = client.writeFrame(helloFrame(heartbeatInterval.Milliseconds()))
	if err != nil {
		sugar.Error(err)
		return
	}

	client.armIdentifyWatchdog()

	client.readLoop()
	client.teardown()
}

func (client *Client) writeFrame(frame Frame) error {
	client.writeMutex.Lock()
	defer client.writeMutex.Unlock()

	client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return client.conn.WriteJSON(frame)
}

// closeWith sends a close frame and tears the connection down. A
// policy close invalidates the session immediately instead of parking
// it for resume.
func (client *Client) closeWith(code int, invalidate bool) {
	client.invalidate = client.invalidate || invalidate

	sugar.Debugf("Closing connection of user ID [%d] with code %d (%s)", client.user.ID, code, closeCodeDescription(code))

	client.writeMutex.Lock()
	client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, closeCodeDescription(code)))
	client.writeMutex.Unlock()

	client.cancel()
	client.conn.Close()
}

func (client *Client) armIdentifyWatchdog() {
	go func() {
		timer := time.NewTimer(identifyDeadline)
		defer timer.Stop()

		select {
		case <-client.ctx.Done():
		case <-timer.C:
			if !client.authenticated.Load() {
				client.closeWith(CloseNotAuthenticated, true)
			}
		}
	}()
}

func (client *Client) armZombieWatchdog() {
	go func() {
		ticker := time.NewTicker(heartbeatInterval / 2)
		defer ticker.Stop()

		for {
			select {
			case <-client.ctx.Done():
				return
			case <-ticker.C:
				last := time.Unix(0, client.lastHeartbeatNanos.Load())
				if time.Since(last) > 2*heartbeatInterval {
					sugar.Debugf("Session [%s] missed two heartbeat intervals, closing as zombie", client.handle.SessionID)
					client.closeWith(CloseSessionTimeout, false)
					return
				}
			}
		}
	}()
}

func (client *Client) readLoop() {
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			if client.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				sugar.Debugf("Read from user ID [%d] failed: %v", client.user.ID, err)
			}
			return
		}

		var frame Frame
		err = json.Unmarshal(payload, &frame)
		if err != nil {
			client.closeWith(CloseDecodeError, false)
			return
		}

		if !client.opLimiter.allow() {
			client.closeWith(CloseRateLimited, false)
			return
		}

		if done := client.handleFrame(&frame); done {
			return
		}
	}
}

// handleFrame runs one inbound frame through the state machine and
// reports whether the connection is finished.
func (client *Client) handleFrame(frame *Frame) bool {
	if !client.authenticated.Load() {
		switch frame.Op {
		case OpIdentify:
			return client.handleIdentify(frame)
		case OpResume:
			return client.handleResume(frame)
		default:
			// any traffic before Identify closes the connection
			client.closeWith(CloseNotAuthenticated, true)
			return true
		}
	}

	switch frame.Op {
	case OpHeartbeat:
		return client.handleHeartbeat(frame)
	case OpPresenceUpdate:
		return client.handlePresenceUpdate(frame)
	case OpIdentify, OpResume:
		client.closeWith(CloseAlreadyAuthenticated, false)
		return true
	default:
		client.closeWith(CloseUnknownOpcode, false)
		return true
	}
}

func (client *Client) handleIdentify(frame *Frame) bool {
	if !identifyLimit.allow(client.remoteIP) {
		client.closeWith(CloseRateLimited, false)
		return true
	}

	var identify IdentifyPayload
	err := json.Unmarshal(frame.D, &identify)
	if err != nil {
		client.closeWith(CloseDecodeError, false)
		return true
	}

	userID, err := token.VerifyAccess(identify.Token)
	if err != nil {
		sugar.Debugf("Identify with bad token: %v", err)
		client.closeWith(CloseAuthenticationFailed, true)
		return true
	}

	user, err := store.User(client.ctx, userID)
	if err != nil {
		sugar.Error(err)
		client.closeWith(CloseAuthenticationFailed, true)
		return true
	}
	client.user = user

	guildIDs, err := store.UserGuilds(client.ctx, userID)
	if err != nil {
		sugar.Error(err)
		client.closeWith(CloseUnknownError, true)
		return true
	}

	handle, err := session.Create(userID, guildIDs)
	if err != nil {
		sugar.Error(err)
		client.closeWith(CloseUnknownError, true)
		return true
	}
	client.handle = handle

	pump, err := newSessionPump(handle.SessionID, userID, guildIDs)
	if err != nil {
		sugar.Error(err)
		client.closeWith(CloseUnknownError, true)
		return true
	}
	client.pump = pump

	ready := ReadyPayload{
		Version:          1,
		User:             user,
		Guilds:           make([]models.UnavailableGuild, 0, len(guildIDs)),
		SessionID:        handle.SessionID,
		ResumeGatewayURL: resumeGatewayURL,
	}
	for i := range guildIDs {
		ready.Guilds = append(ready.Guilds, models.UnavailableGuild{ID: guildIDs[i], Unavailable: true})
	}

	_, err = session.AppendEvent(handle.SessionID, EventReady, mustRaw(ready))
	if err != nil {
		sugar.Error(err)
		client.closeWith(CloseUnknownError, true)
		return true
	}

	for i := range guildIDs {
		snapshot, err := store.GuildSnapshot(client.ctx, guildIDs[i])
		if err != nil {
			sugar.Error(err)
			continue
		}
		_, err = session.AppendEvent(handle.SessionID, EventGuildCreate, mustRaw(snapshot))
		if err != nil {
			sugar.Error(err)
		}
	}

	client.goLive()

	err = presence.AddSession(userID, handle.SessionID)
	if err != nil {
		sugar.Error(err)
	}
	client.publishPresence(models.StatusOnline, true)

	sugar.Debugf("User ID [%d] identified as session [%s] with %d guilds", userID, handle.SessionID, len(guildIDs))

	return false
}

func (client *Client) handleResume(frame *Frame) bool {
	var resume ResumePayload
	err := json.Unmarshal(frame.D, &resume)
	if err != nil {
		client.closeWith(CloseDecodeError, false)
		return true
	}

	userID, err := token.VerifyAccess(resume.Token)
	if err != nil {
		sugar.Debugf("Resume with bad token: %v", err)
		client.closeWith(CloseAuthenticationFailed, true)
		return true
	}

	user, err := store.User(client.ctx, userID)
	if err != nil {
		sugar.Error(err)
		client.closeWith(CloseAuthenticationFailed, true)
		return true
	}

	client.user = user

	guildIDs, err := store.UserGuilds(client.ctx, userID)
	if err != nil {
		sugar.Error(err)
		client.closeWith(CloseUnknownError, true)
		return true
	}

	// a session parked on this process still has its pump buffering;
	// a session from another instance needs a fresh one, subscribed
	// before resuming so events published during the handoff queue up
	// instead of vanishing
	pump, pumpExists := getPump(resume.SessionID)
	pumpCreated := false
	if !pumpExists {
		pump, err = newSessionPump(resume.SessionID, userID, guildIDs)
		if err != nil {
			sugar.Error(err)
			client.closeWith(CloseUnknownError, true)
			return true
		}
		pumpCreated = true
	}

	handle, replay, err := session.Resume(resume.SessionID, userID, resume.Seq)
	if err != nil {
		if pumpCreated {
			pump.stop()
		}

		switch {
		case errors.Is(err, session.ErrSessionElsewhere):
			// resumable on the connection that holds it; this client
			// may retry with a fresh Resume or Identify
			client.writeFrame(invalidSessionFrame(true))
			return false
		case errors.Is(err, session.ErrUnknownSession):
			client.writeFrame(invalidSessionFrame(false))
			return false
		default:
			sugar.Error(err)
			client.closeWith(CloseUnknownError, false)
			return true
		}
	}

	client.handle = handle
	client.pump = pump

	for i := range replay {
		err = client.writeFrame(dispatchFrame(replay[i].Event, replay[i].Sequence, replay[i].Data))
		if err != nil {
			sugar.Error(err)
			client.closeWith(CloseUnknownError, false)
			return true
		}
	}

	_, err = session.AppendEvent(handle.SessionID, EventResumed, mustRaw(struct{}{}))
	if err != nil {
		sugar.Error(err)
		client.closeWith(CloseUnknownError, false)
		return true
	}

	client.goLive()

	err = presence.AddSession(userID, handle.SessionID)
	if err != nil {
		sugar.Error(err)
	}

	sugar.Debugf("Session [%s] resumed by user ID [%d], replayed %d events", handle.SessionID, userID, len(replay))

	return false
}

// goLive flips the connection to Connected: the writer starts, the
// pump gets the live connection, the zombie watchdog arms.
func (client *Client) goLive() {
	client.authenticated.Store(true)
	client.lastHeartbeatNanos.Store(time.Now().UnixNano())

	go client.writePump()
	client.pump.attach(client)
	client.armZombieWatchdog()
}

func (client *Client) handleHeartbeat(frame *Frame) bool {
	client.lastHeartbeatNanos.Store(time.Now().UnixNano())

	// d carries the last sequence the client saw, or null
	if len(frame.D) > 0 {
		var acked uint64
		if err := json.Unmarshal(frame.D, &acked); err == nil {
			client.ackedSequence.Store(acked)
		}
	}

	err := presence.Refresh(client.user.ID)
	if err != nil {
		sugar.Error(err)
	}

	err = client.writeFrame(heartbeatAckFrame())
	if err != nil {
		sugar.Error(err)
		return true
	}
	return false
}

func (client *Client) handlePresenceUpdate(frame *Frame) bool {
	if !client.presenceLimiter.allow() {
		client.closeWith(CloseRateLimited, false)
		return true
	}

	var update PresencePayload
	err := json.Unmarshal(frame.D, &update)
	if err != nil {
		client.closeWith(CloseDecodeError, false)
		return true
	}

	if !presence.IsValidStatus(update.Status) {
		client.closeWith(CloseDecodeError, false)
		return true
	}

	err = presence.SetStatus(client.user.ID, update.Status)
	if err != nil {
		sugar.Error(err)
		return false
	}

	client.publishPresence(update.Status, true)

	return false
}

// publishPresence fans the user's status out to every guild they are
// in, optionally suppressing the echo to their own sessions.
func (client *Client) publishPresence(status string, excludeSelf bool) {
	data := map[string]string{
		"userID": snowflake.Format(client.user.ID),
		"status": status,
	}

	for _, guildID := range client.pump.guildList() {
		target := &bus.Target{GuildID: snowflake.Format(guildID)}
		if excludeSelf {
			target.ExcludeUsers = []string{snowflake.Format(client.user.ID)}
		}

		err := bus.Publish(bus.GuildChannel(guildID), EventPresenceUpdate, data, target)
		if err != nil {
			sugar.Error(err)
		}
	}
}

// writePump owns the socket's outbound dispatch path: it drains the
// session queue until the handle closes.
func (client *Client) writePump() {
	for event := range client.handle.Events {
		err := client.writeFrame(dispatchFrame(event.Event, event.Sequence, event.Data))
		if err != nil {
			sugar.Debugf("Write to session [%s] failed: %v", client.handle.SessionID, err)
			client.cancel()
			client.conn.Close()
			return
		}
	}

	// the handle was closed underneath us: the session was parked or
	// invalidated elsewhere (logout), drop the connection
	client.cancel()
	client.conn.Close()
}

// teardown runs when the reader returns, whatever the reason.
func (client *Client) teardown() {
	client.cancel()

	if !client.authenticated.Load() {
		// a half-built Identify/Resume leaves nothing behind
		if client.pump != nil {
			client.pump.stop()
		}
		if client.handle != nil {
			if err := session.Delete(client.handle.SessionID); err != nil {
				sugar.Error(err)
			}
		}
		return
	}

	if client.invalidate {
		client.pump.stop()
		if err := session.Delete(client.handle.SessionID); err != nil {
			sugar.Error(err)
		}
	} else {
		// parked: resumable within the window, the pump keeps
		// buffering events for the replay
		if err := session.MarkDisconnected(client.handle.SessionID); err != nil {
			sugar.Error(err)
		}
		client.pump.detach()
	}

	lastGone, err := presence.RemoveSession(client.user.ID, client.handle.SessionID)
	if err != nil {
		sugar.Error(err)
	}
	if lastGone {
		client.publishPresence(models.StatusOffline, true)
	}
}

// Shutdown parks every local session so clients can resume against
// another instance, part of process teardown.
func Shutdown() {
	for _, handle := range session.LocalHandles() {
		err := session.MarkDisconnected(handle.SessionID)
		if err != nil {
			sugar.Error(err)
		}
	}
	stopAllPumps()
}

// eventReconnectRequest rides the broadcast channel and is turned
// into an op 5 frame instead of a dispatch.
const eventReconnectRequest = "RECONNECT"

// RequestReconnectAll asks every session fleet-wide to reconnect,
// used before a planned restart.
func RequestReconnectAll() error {
	return bus.Publish(bus.Broadcast, eventReconnectRequest, struct{}{}, nil)
}
