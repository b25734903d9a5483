// Package session orchestrates a single user/assistant conversation: it
// sends outgoing messages through the transport, reconciles inbound AI
// replies, and keeps the optimistic message timeline consistent across the
// in-memory cache and the persistent store.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/amora-labs/amora/client/internal/cache"
	"github.com/amora-labs/amora/client/internal/model/chat"
	"github.com/amora-labs/amora/client/internal/store"
	"github.com/amora-labs/amora/client/internal/transport"
)

var (
	ErrIdentityRequired = errors.New("userId, assistantId and channelId are required")
	ErrNotConnected     = errors.New("transport is not connected")
	ErrAwaitingResponse = errors.New("a response is already pending for this session")
)

// User-facing notification texts for reconciled failures.
const (
	msgInsufficientBalance = "You are out of coaching credits. Top up to continue the conversation."
	msgCoachUnavailable    = "The coach is unavailable right now. Please try again."
	msgResponseTimeout     = "The coach is taking too long to respond. Please try again."
)

const (
	// EventSendMessage carries an outgoing user turn.
	EventSendMessage = "send_message"
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
)

// Transport is the slice of the connection manager the controller needs.
type Transport interface {
	Connect(ctx context.Context, cb transport.Callbacks) error
	Send(event string, payload any)
	Disconnect()
	State() transport.State
}

// NotifyFunc receives toast-style user-facing notifications.
type NotifyFunc func(message string)

// Options tunes a Controller. Zero values fall back to the defaults below.
type Options struct {
	// ResponseTimeout bounds the awaiting-response window so a silent
	// backend can never leave the session stuck.
	ResponseTimeout time.Duration
	// HistoryLimit caps how many stored messages are loaded on Connect.
	HistoryLimit int
	// CacheTTL is the lifetime of the cached message timeline.
	CacheTTL time.Duration
}

// DefaultOptions returns the settings used for unset Options fields.
func DefaultOptions() Options {
	return Options{
		ResponseTimeout: 60 * time.Second,
		HistoryLimit:    50,
		CacheTTL:        5 * time.Minute,
	}
}

// Controller owns the state of one conversation. One instance per
// (user, assistant, channel) triple; the cache and store it writes through
// are process-wide and shared with other sessions, so all keys embed the
// channel identifier.
type Controller struct {
	transport Transport
	cache     *cache.Cache
	store     store.Store
	notify    NotifyFunc
	opts      Options

	mu          sync.Mutex
	userID      string
	assistantID string
	channelID   string
	awaiting    bool
	messages    []chat.Message
	seq         int64
	timeout     *time.Timer
}

// NewController wires a controller to its collaborators. notify may be nil.
func NewController(t Transport, c *cache.Cache, s store.Store, notify NotifyFunc, opts Options) *Controller {
	defaults := DefaultOptions()
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = defaults.ResponseTimeout
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = defaults.HistoryLimit
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaults.CacheTTL
	}
	if notify == nil {
		notify = func(string) {}
	}
	return &Controller{
		transport: t,
		cache:     c,
		store:     s,
		notify:    notify,
		opts:      opts,
	}
}

func messagesKey(channelID string) string { return "channel:" + channelID + ":messages" }
func channelGroup(channelID string) string { return "channel:" + channelID }
func sessionKey(channelID string) string   { return "session:" + channelID }

// Connect binds the session identity, opens the transport, and loads prior
// history through the cache-then-store read path.
func (c *Controller) Connect(ctx context.Context, userID, assistantID, channelID string) error {
	if userID == "" || assistantID == "" || channelID == "" {
		log.Printf("[session] connect refused: missing identity (user=%q assistant=%q channel=%q)",
			userID, assistantID, channelID)
		return ErrIdentityRequired
	}

	c.mu.Lock()
	c.userID = userID
	c.assistantID = assistantID
	c.channelID = channelID
	c.mu.Unlock()

	if err := c.transport.Connect(ctx, transport.Callbacks{
		OnMessage: c.handleInbound,
		OnStatus:  c.handleStatus,
		OnError:   c.handleTransportError,
	}); err != nil {
		return err
	}

	c.loadHistory(ctx, channelID)
	c.persistChannel(ctx, userID, assistantID, channelID)
	return nil
}

// loadHistory fills the in-memory timeline from the cache, falling back to
// the persistent store. A failed read degrades to an empty timeline with a
// console diagnostic, never an error to the caller.
func (c *Controller) loadHistory(ctx context.Context, channelID string) {
	key := messagesKey(channelID)

	if cached, ok := cache.GetAs[[]chat.Message](c.cache, key); ok {
		c.adoptHistory(cached)
		return
	}

	newestFirst, err := c.store.MessagesByChannel(ctx, channelID, c.opts.HistoryLimit)
	if err != nil {
		log.Printf("[session] history load failed for channel %s: %v", channelID, err)
		return
	}
	// Store reads are newest-first; the timeline is chronological.
	history := make([]chat.Message, len(newestFirst))
	for i, msg := range newestFirst {
		history[len(newestFirst)-1-i] = msg
	}
	c.adoptHistory(history)
	c.cacheTimeline(history)
}

func (c *Controller) adoptHistory(history []chat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append([]chat.Message(nil), history...)
	for _, msg := range history {
		if msg.Seq > c.seq {
			c.seq = msg.Seq
		}
	}
}

func (c *Controller) persistChannel(ctx context.Context, userID, assistantID, channelID string) {
	now := time.Now().UTC()
	channel := store.Channel{
		ID:           channelID,
		UserID:       userID,
		AssistantID:  assistantID,
		CreatedAt:    now,
		LastActiveAt: now,
	}
	if existing, err := c.store.GetChannel(ctx, channelID); err == nil {
		channel.CreatedAt = existing.CreatedAt
		channel.Topic = existing.Topic
	}
	if err := c.store.PutChannel(ctx, channel); err != nil {
		log.Printf("[session] channel upsert failed: %v", err)
	}
}

// SendMessage appends the user turn optimistically, marks the session as
// awaiting a response, and forwards the text to the transport. It returns
// before any reply arrives. A second call while a response is pending is
// rejected with ErrAwaitingResponse.
func (c *Controller) SendMessage(text string) error {
	c.mu.Lock()
	if c.channelID == "" {
		c.mu.Unlock()
		log.Printf("[session] send refused: no bound identity")
		return ErrIdentityRequired
	}
	if c.transport.State() != transport.StateConnected {
		c.mu.Unlock()
		log.Printf("[session] send refused: transport not connected")
		return ErrNotConnected
	}
	if c.awaiting {
		c.mu.Unlock()
		return ErrAwaitingResponse
	}

	c.seq++
	msg := chat.Message{
		ID:          uuid.NewString(),
		UserID:      c.userID,
		AssistantID: c.assistantID,
		ChannelID:   c.channelID,
		Content:     text,
		Sender:      chat.SenderUser,
		Seq:         c.seq,
		CreatedAt:   time.Now().UTC(),
	}
	c.messages = append(c.messages, msg)
	c.awaiting = true
	c.armTimeoutLocked()
	outgoing := chat.OutgoingChat{
		UserID:      c.userID,
		AssistantID: c.assistantID,
		ChannelID:   c.channelID,
		Message:     text,
	}
	c.mu.Unlock()

	c.writeThrough(msg)
	c.transport.Send(EventSendMessage, outgoing)
	return nil
}

// armTimeoutLocked bounds the awaiting window. Caller holds c.mu.
func (c *Controller) armTimeoutLocked() {
	if c.timeout != nil {
		c.timeout.Stop()
	}
	c.timeout = time.AfterFunc(c.opts.ResponseTimeout, func() {
		c.mu.Lock()
		if !c.awaiting {
			c.mu.Unlock()
			return
		}
		c.awaiting = false
		c.mu.Unlock()
		log.Printf("[session] response timed out for channel")
		c.notify(msgResponseTimeout)
	})
}

// handleInbound reconciles a payload from the transport into session state.
func (c *Controller) handleInbound(payload chat.InboundPayload) {
	switch p := payload.(type) {
	case chat.AIChatPayload:
		msg := p.ToMessage()
		c.appendAIMessage(msg)

	case chat.PlainPayload:
		// Degraded payload: synthesize a best-effort AI message so the
		// UI always advances state.
		c.mu.Lock()
		msg := chat.Message{
			ID:          uuid.NewString(),
			UserID:      c.userID,
			AssistantID: c.assistantID,
			ChannelID:   c.channelID,
			Content:     p.Message,
			Sender:      chat.SenderAI,
			CreatedAt:   time.Now().UTC(),
		}
		c.mu.Unlock()
		c.appendAIMessage(msg)

	case chat.ErrorPayload:
		log.Printf("[session] backend error: %s (status %d)", p.Error, p.Status)
		c.resolveWithError(mapBackendError(p))
	}
}

// mapBackendError translates known backend error shapes into user-facing
// messages.
func mapBackendError(p chat.ErrorPayload) string {
	if p.Status == 400 || p.Error == "Bad Request" {
		return msgInsufficientBalance
	}
	return msgCoachUnavailable
}

func (c *Controller) appendAIMessage(msg chat.Message) {
	c.mu.Lock()
	if msg.ChannelID == "" {
		msg.ChannelID = c.channelID
	}
	if msg.UserID == "" {
		msg.UserID = c.userID
	}
	if msg.AssistantID == "" {
		msg.AssistantID = c.assistantID
	}
	c.seq++
	msg.Seq = c.seq
	c.messages = append(c.messages, msg)
	c.awaiting = false
	if c.timeout != nil {
		c.timeout.Stop()
		c.timeout = nil
	}
	c.mu.Unlock()

	c.writeThrough(msg)
}

// resolveWithError clears the awaiting flag and surfaces a user-facing
// message. The session must never be left awaiting a response that will not
// arrive.
func (c *Controller) resolveWithError(userMessage string) {
	c.mu.Lock()
	c.awaiting = false
	if c.timeout != nil {
		c.timeout.Stop()
		c.timeout = nil
	}
	c.mu.Unlock()
	c.notify(userMessage)
}

func (c *Controller) handleStatus(connected bool) {
	log.Printf("[session] transport status: connected=%v", connected)
}

func (c *Controller) handleTransportError(err error) {
	log.Printf("[session] transport error: %v", err)
	c.resolveWithError(msgCoachUnavailable)
}

// writeThrough pushes the updated timeline to the cache and the new message
// to the store. Failures are logged, never propagated: a lost cache write
// degrades to a slower read later.
func (c *Controller) writeThrough(msg chat.Message) {
	c.mu.Lock()
	channelID := c.channelID
	timeline := append([]chat.Message(nil), c.messages...)
	c.mu.Unlock()
	if channelID == "" {
		return
	}

	key := messagesKey(channelID)
	c.cache.Set(key, timeline, c.opts.CacheTTL)
	c.cache.AddToGroup(channelGroup(channelID), key)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.AddMessage(ctx, msg); err != nil {
		log.Printf("[session] persist message %s failed: %v", msg.ID, err)
	}
}

func (c *Controller) cacheTimeline(timeline []chat.Message) {
	c.mu.Lock()
	channelID := c.channelID
	c.mu.Unlock()
	if channelID == "" {
		return
	}
	key := messagesKey(channelID)
	c.cache.Set(key, timeline, c.opts.CacheTTL)
	c.cache.AddToGroup(channelGroup(channelID), key)
}

// JoinRoom subscribes the connection to an additional room. No-op with a
// warning when the transport is down.
func (c *Controller) JoinRoom(roomID string) {
	if c.transport.State() != transport.StateConnected {
		log.Printf("[session] join %s skipped: transport not connected", roomID)
		return
	}
	c.transport.Send(EventJoinRoom, map[string]string{"roomId": roomID})
}

// LeaveRoom unsubscribes from a room and invalidates every cache entry tied
// to it.
func (c *Controller) LeaveRoom(roomID string) {
	if c.transport.State() == transport.StateConnected {
		c.transport.Send(EventLeaveRoom, map[string]string{"roomId": roomID})
	} else {
		log.Printf("[session] leave %s skipped: transport not connected", roomID)
	}
	c.cache.ClearGroup(channelGroup(roomID))
}

// Messages returns a render-ready snapshot of the timeline, sorted by
// creation time with the sequence number as tie breaker so display order
// never depends on network arrival order.
func (c *Controller) Messages() []chat.Message {
	c.mu.Lock()
	snapshot := append([]chat.Message(nil), c.messages...)
	c.mu.Unlock()

	sort.SliceStable(snapshot, func(i, j int) bool {
		if snapshot[i].CreatedAt.Equal(snapshot[j].CreatedAt) {
			return snapshot[i].Seq < snapshot[j].Seq
		}
		return snapshot[i].CreatedAt.Before(snapshot[j].CreatedAt)
	})
	return snapshot
}

// AwaitingResponse reports whether a user turn is waiting for its reply.
func (c *Controller) AwaitingResponse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaiting
}

type sessionSnapshot struct {
	UserID      string `json:"userId"`
	AssistantID string `json:"assistantId"`
	ChannelID   string `json:"channelId"`
	LastSeq     int64  `json:"lastSeq"`
}

// Disconnect persists a small session snapshot on the durable tier and tears
// the transport down.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	snapshot := sessionSnapshot{
		UserID:      c.userID,
		AssistantID: c.assistantID,
		ChannelID:   c.channelID,
		LastSeq:     c.seq,
	}
	c.awaiting = false
	if c.timeout != nil {
		c.timeout.Stop()
		c.timeout = nil
	}
	c.mu.Unlock()

	if snapshot.ChannelID != "" {
		if raw, err := json.Marshal(snapshot); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.store.SetCacheItem(ctx, sessionKey(snapshot.ChannelID), raw, 24*time.Hour); err != nil {
				log.Printf("[session] snapshot persist failed: %v", err)
			}
			cancel()
		}
	}

	c.transport.Disconnect()
}
