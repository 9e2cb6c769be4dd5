package session

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"guildchat-backend/internal/keyValue"

	"go.uber.org/zap"
)

const (
	StateConnected    = "Connected"
	StateDisconnected = "Disconnected"

	// ResumeWindow is how long a Disconnected session stays resumable.
	// The window starts at disconnect and is never extended by buffer
	// appends.
	ResumeWindow = 120 * time.Second

	// MaxBufferedEvents bounds ws_events, oldest dropped first.
	MaxBufferedEvents = 1000

	// QueueCapacity bounds the per-session writer queue. Overflow is a
	// protocol violation surfaced as ErrQueueFull.
	QueueCapacity = 256
)

var (
	// ErrUnknownSession means the resume window has lapsed or the
	// session never existed; the client must re-Identify (op 7, false).
	ErrUnknownSession = errors.New("session is not resumable")

	// ErrSessionElsewhere means the session is currently Connected on
	// some gateway process; the client gets op 7 with resumable=true.
	ErrSessionElsewhere = errors.New("session is connected elsewhere")

	// ErrQueueFull means the writer queue overflowed (close 4008).
	ErrQueueFull = errors.New("session writer queue is full")
)

// Record is the durable session state under ws_session:{session_id}.
// It is the source of truth while Disconnected; the local Handle is
// authoritative while Connected.
type Record struct {
	SessionID string  `json:"sessionID"`
	UserID    int64   `json:"userID,string"`
	Sequence  uint64  `json:"sequence"`
	Guilds    []int64 `json:"guilds"`
	State     string  `json:"state"`
}

// BufferedEvent is one dispatched event in ws_events:{session_id},
// replayed verbatim on resume. Sequence numbers are never reassigned.
type BufferedEvent struct {
	Sequence uint64          `json:"s"`
	Event    string          `json:"t"`
	Data     json.RawMessage `json:"d"`
}

// Handle is a live local session: the writer goroutine drains Events
// into the socket.
type Handle struct {
	SessionID string
	UserID    int64
	Events    chan BufferedEvent

	closeOnce sync.Once
}

// CloseEvents releases the writer goroutine.
func (handle *Handle) CloseEvents() {
	handle.closeOnce.Do(func() {
		close(handle.Events)
	})
}

var handles = make(map[string]*Handle)
var handlesMutex sync.Mutex

// sequenceLocks serializes AppendEvent per session. Only one process
// appends to a given session at a time (the one that owns or last
// owned the connection), so a process-local lock is enough.
var sequenceLocks sync.Map

var sugar *zap.SugaredLogger
var resumeWindow = ResumeWindow

func Setup(_sugar *zap.SugaredLogger, _resumeWindow time.Duration) {
	sugar = _sugar
	if _resumeWindow > 0 {
		resumeWindow = _resumeWindow
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("ws_session:%s", sessionID)
}

func eventsKey(sessionID string) string {
	return fmt.Sprintf("ws_events:%s", sessionID)
}

func userSessionsKey(userID int64) string {
	return fmt.Sprintf("user_ws_sessions:%d", userID)
}

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// newSessionID returns 128 random bits rendered base62.
func newSessionID() (string, error) {
	raw := make([]byte, 16)
	_, err := rand.Read(raw)
	if err != nil {
		return "", err
	}

	number := new(big.Int).SetBytes(raw)
	base := big.NewInt(62)
	remainder := new(big.Int)

	var encoded []byte
	for number.Sign() > 0 {
		number.DivMod(number, base, remainder)
		encoded = append(encoded, base62Alphabet[remainder.Int64()])
	}
	slices.Reverse(encoded)

	return string(encoded), nil
}

func lockFor(sessionID string) *sync.Mutex {
	lock, _ := sequenceLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

func readRecord(sessionID string) (Record, bool, error) {
	value, err := keyValue.Get(sessionKey(sessionID))
	if err != nil {
		return Record{}, false, err
	}
	if value == "" {
		return Record{}, false, nil
	}

	var record Record
	err = json.Unmarshal([]byte(value), &record)
	if err != nil {
		return Record{}, false, err
	}
	return record, true, nil
}

func writeRecord(record Record, expires time.Duration) error {
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return keyValue.Set(sessionKey(record.SessionID), string(recordBytes), expires)
}

func writeRecordKeepTTL(record Record) error {
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return keyValue.SetKeepTTL(sessionKey(record.SessionID), string(recordBytes))
}

// Create allocates a fresh session for the user and registers the
// local handle.
func Create(userID int64, guilds []int64) (*Handle, error) {
	sessionID, err := newSessionID()
	if err != nil {
		return nil, err
	}

	record := Record{
		SessionID: sessionID,
		UserID:    userID,
		Sequence:  0,
		Guilds:    guilds,
		State:     StateConnected,
	}

	err = writeRecord(record, 0)
	if err != nil {
		return nil, err
	}

	err = keyValue.SAdd(userSessionsKey(userID), sessionID)
	if err != nil {
		return nil, err
	}

	handle := &Handle{
		SessionID: sessionID,
		UserID:    userID,
		Events:    make(chan BufferedEvent, QueueCapacity),
	}
	setHandle(handle)

	sugar.Debugf("Created session [%s] for user ID [%d]", sessionID, userID)

	return handle, nil
}

func setHandle(handle *Handle) {
	handlesMutex.Lock()
	defer handlesMutex.Unlock()

	handles[handle.SessionID] = handle
}

func dropHandle(sessionID string) *Handle {
	handlesMutex.Lock()
	defer handlesMutex.Unlock()

	handle := handles[sessionID]
	delete(handles, sessionID)
	return handle
}

func GetHandle(sessionID string) (*Handle, bool) {
	handlesMutex.Lock()
	defer handlesMutex.Unlock()

	handle, exists := handles[sessionID]
	return handle, exists
}

// State reports the durable state of a session record, and whether
// the record still exists at all.
func State(sessionID string) (string, bool, error) {
	record, exists, err := readRecord(sessionID)
	if err != nil || !exists {
		return "", exists, err
	}
	return record.State, true, nil
}

// LocalHandles snapshots every live handle on this process.
func LocalHandles() []*Handle {
	handlesMutex.Lock()
	defer handlesMutex.Unlock()

	all := make([]*Handle, 0, len(handles))
	for _, handle := range handles {
		all = append(all, handle)
	}
	return all
}

// MarkDisconnected parks the session: the record flips to
// Disconnected, both keys get the resume TTL and the local handle is
// dropped. Events keep buffering while parked.
func MarkDisconnected(sessionID string) error {
	lock := lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	handle := dropHandle(sessionID)
	if handle != nil {
		handle.CloseEvents()
	}

	record, exists, err := readRecord(sessionID)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	record.State = StateDisconnected
	err = writeRecord(record, resumeWindow)
	if err != nil {
		return err
	}

	err = keyValue.Expire(eventsKey(sessionID), resumeWindow)
	if err != nil {
		return err
	}

	sugar.Debugf("Session [%s] parked Disconnected, resumable for %s", sessionID, resumeWindow)

	return nil
}

// Resume validates the window and replays. The returned events carry
// their original sequence numbers, oldest first, strictly greater than
// lastSeenSeq. On success the record is Connected again with the TTL
// cleared and the new handle registered.
func Resume(sessionID string, userID int64, lastSeenSeq uint64) (*Handle, []BufferedEvent, error) {
	lock := lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, exists, err := readRecord(sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !exists || record.UserID != userID {
		return nil, nil, ErrUnknownSession
	}

	if record.State == StateConnected {
		if _, local := GetHandle(sessionID); local {
			// connected on this very process, force a re-identify
			return nil, nil, ErrSessionElsewhere
		}
		// another gateway process holds it
		return nil, nil, ErrSessionElsewhere
	}

	if lastSeenSeq > record.Sequence {
		return nil, nil, ErrUnknownSession
	}

	buffered, err := bufferedEvents(sessionID)
	if err != nil {
		return nil, nil, err
	}

	// detect a wrapped buffer: the oldest retained event must not be
	// newer than the first one the client is missing
	if lastSeenSeq < record.Sequence {
		wanted := record.Sequence - lastSeenSeq
		if uint64(len(buffered)) < wanted {
			return nil, nil, ErrUnknownSession
		}
	}

	replay := make([]BufferedEvent, 0, len(buffered))
	for i := range buffered {
		if buffered[i].Sequence > lastSeenSeq {
			replay = append(replay, buffered[i])
		}
	}

	record.State = StateConnected
	err = writeRecord(record, 0)
	if err != nil {
		return nil, nil, err
	}
	err = keyValue.Persist(eventsKey(sessionID))
	if err != nil {
		return nil, nil, err
	}

	handle := &Handle{
		SessionID: sessionID,
		UserID:    userID,
		Events:    make(chan BufferedEvent, QueueCapacity),
	}
	setHandle(handle)

	sugar.Debugf("Session [%s] resumed, replaying %d events after sequence %d", sessionID, len(replay), lastSeenSeq)

	return handle, replay, nil
}

// bufferedEvents returns the replay buffer oldest first. The list is
// stored newest first (LPUSH), so it is reversed here.
func bufferedEvents(sessionID string) ([]BufferedEvent, error) {
	values, err := keyValue.LRange(eventsKey(sessionID), 0, MaxBufferedEvents-1)
	if err != nil {
		return nil, err
	}

	events := make([]BufferedEvent, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		var event BufferedEvent
		err = json.Unmarshal([]byte(values[i]), &event)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

// AppendEvent stamps the next sequence number onto the event, buffers
// it for resume and, if the session is live on this process, hands it
// to the writer queue. The sequence is gapless per session.
func AppendEvent(sessionID string, event string, data json.RawMessage) (uint64, error) {
	lock := lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, exists, err := readRecord(sessionID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrUnknownSession
	}

	record.Sequence += 1

	buffered := BufferedEvent{
		Sequence: record.Sequence,
		Event:    event,
		Data:     data,
	}
	bufferedBytes, err := json.Marshal(buffered)
	if err != nil {
		return 0, err
	}

	// the resume window starts at disconnect and is never extended, so
	// this write must leave any running TTL alone
	err = writeRecordKeepTTL(record)
	if err != nil {
		return 0, err
	}

	err = keyValue.LPush(eventsKey(sessionID), string(bufferedBytes))
	if err != nil {
		return 0, err
	}
	err = keyValue.LTrim(eventsKey(sessionID), 0, MaxBufferedEvents-1)
	if err != nil {
		return 0, err
	}

	if handle, local := GetHandle(sessionID); local {
		select {
		case handle.Events <- buffered:
		default:
			return 0, ErrQueueFull
		}
	}

	return record.Sequence, nil
}

// UpdateGuilds rewrites the record's guild set after a membership
// change.
func UpdateGuilds(sessionID string, guilds []int64) error {
	lock := lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	record, exists, err := readRecord(sessionID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUnknownSession
	}

	record.Guilds = guilds

	return writeRecordKeepTTL(record)
}

// Delete removes the session entirely: clean close or invalidation.
func Delete(sessionID string) error {
	lock := lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	handle := dropHandle(sessionID)
	if handle != nil {
		handle.CloseEvents()
	}

	record, exists, err := readRecord(sessionID)
	if err != nil {
		return err
	}
	if exists {
		err = keyValue.SRem(userSessionsKey(record.UserID), sessionID)
		if err != nil {
			return err
		}
	}

	err = keyValue.Delete(sessionKey(sessionID))
	if err != nil {
		return err
	}
	err = keyValue.Delete(eventsKey(sessionID))
	if err != nil {
		return err
	}

	sequenceLocks.Delete(sessionID)

	sugar.Debugf("Session [%s] deleted", sessionID)

	return nil
}

// InvalidateAllForUser kills every session of a user, used on logout.
func InvalidateAllForUser(userID int64) error {
	sessionIDs, err := keyValue.SMembers(userSessionsKey(userID))
	if err != nil {
		return err
	}

	for i := range sessionIDs {
		err = Delete(sessionIDs[i])
		if err != nil {
			return err
		}
	}

	return keyValue.Delete(userSessionsKey(userID))
}
