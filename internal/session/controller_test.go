package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/amora-labs/amora/client/internal/cache"
	"github.com/amora-labs/amora/client/internal/model/chat"
	"github.com/amora-labs/amora/client/internal/session"
	"github.com/amora-labs/amora/client/internal/store"
	"github.com/amora-labs/amora/client/internal/transport"
)

type sentFrame struct {
	event   string
	payload any
}

// fakeTransport satisfies session.Transport and lets tests inject inbound
// traffic through the registered callbacks.
type fakeTransport struct {
	mu    sync.Mutex
	state transport.State
	cb    transport.Callbacks
	sent  []sentFrame
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{state: transport.StateDisconnected}
}

func (f *fakeTransport) Connect(_ context.Context, cb transport.Callbacks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cb = cb
	f.state = transport.StateConnected
	return nil
}

func (f *fakeTransport) Send(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.StateConnected {
		return
	}
	f.sent = append(f.sent, sentFrame{event: event, payload: payload})
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = transport.StateDisconnected
}

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) sentFrames() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentFrame(nil), f.sent...)
}

func (f *fakeTransport) deliver(p chat.InboundPayload) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	cb.OnMessage(p)
}

func (f *fakeTransport) failWith(err error) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	cb.OnError(err)
}

type fixture struct {
	transport *fakeTransport
	cache     *cache.Cache
	store     store.Store
	notices   chan string
	ctrl      *session.Controller
}

func newFixture(t *testing.T, opts session.Options) *fixture {
	t.Helper()
	f := &fixture{
		transport: newFakeTransport(),
		cache:     cache.New(cache.Options{DefaultTTL: time.Minute, MaxEntries: 100}),
		store:     store.NewMemoryStore(),
		notices:   make(chan string, 8),
	}
	t.Cleanup(f.cache.Close)
	f.ctrl = session.NewController(f.transport, f.cache, f.store,
		func(msg string) { f.notices <- msg }, opts)
	return f
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	if err := f.ctrl.Connect(context.Background(), "u1", "coach-1", "ch1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
}

func aiReply(text string) chat.AIChatPayload {
	return chat.AIChatPayload{
		ID:          "srv-" + text,
		UserID:      "u1",
		AssistantID: "coach-1",
		ChannelID:   "ch1",
		Message:     text,
		Sender:      chat.SenderAI,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestConnectRequiresFullIdentity(t *testing.T) {
	f := newFixture(t, session.Options{})
	err := f.ctrl.Connect(context.Background(), "u1", "", "ch1")
	if !errors.Is(err, session.ErrIdentityRequired) {
		t.Fatalf("got %v want ErrIdentityRequired", err)
	}
	if f.transport.State() == transport.StateConnected {
		t.Fatal("transport dialed despite refused identity")
	}
}

func TestSendMessageOptimisticInsert(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.connect(t)

	if err := f.ctrl.SendMessage("hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// The user turn is visible synchronously, before any reply.
	msgs := f.ctrl.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Sender != chat.SenderUser || msgs[0].Content != "hello" {
		t.Fatalf("unexpected message: %+v", msgs[0])
	}
	if msgs[0].ID == "" {
		t.Fatal("user message has no local id")
	}
	if !f.ctrl.AwaitingResponse() {
		t.Fatal("awaiting flag not set")
	}

	frames := f.transport.sentFrames()
	if len(frames) != 1 || frames[0].event != session.EventSendMessage {
		t.Fatalf("unexpected frames: %+v", frames)
	}
	outgoing, ok := frames[0].payload.(chat.OutgoingChat)
	if !ok || outgoing.Message != "hello" || outgoing.ChannelID != "ch1" {
		t.Fatalf("unexpected outgoing payload: %+v", frames[0].payload)
	}
}

func TestSendMessageRejectedWhileAwaiting(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.connect(t)

	if err := f.ctrl.SendMessage("first"); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := f.ctrl.SendMessage("second"); !errors.Is(err, session.ErrAwaitingResponse) {
		t.Fatalf("second send: got %v want ErrAwaitingResponse", err)
	}
	if frames := f.transport.sentFrames(); len(frames) != 1 {
		t.Fatalf("double send reached the wire: %d frames", len(frames))
	}
}

func TestSendMessageRequiresConnection(t *testing.T) {
	f := newFixture(t, session.Options{})
	if err := f.ctrl.SendMessage("hello"); !errors.Is(err, session.ErrIdentityRequired) {
		t.Fatalf("unbound send: got %v", err)
	}
	f.connect(t)
	f.transport.Disconnect()
	if err := f.ctrl.SendMessage("hello"); !errors.Is(err, session.ErrNotConnected) {
		t.Fatalf("disconnected send: got %v want ErrNotConnected", err)
	}
}

func TestAIReplyClearsAwaitingExactlyOnce(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.connect(t)

	if err := f.ctrl.SendMessage("how are we doing?"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	f.transport.deliver(aiReply("you are doing fine"))

	if f.ctrl.AwaitingResponse() {
		t.Fatal("awaiting flag still set after AI reply")
	}
	msgs := f.ctrl.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[1].Sender != chat.SenderAI || msgs[1].Content != "you are doing fine" {
		t.Fatalf("unexpected AI message: %+v", msgs[1])
	}

	// The turn is now free for the next send.
	if err := f.ctrl.SendMessage("great"); err != nil {
		t.Fatalf("follow-up send: %v", err)
	}
}

func TestPlainPayloadSynthesizesAIMessage(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.connect(t)

	if err := f.ctrl.SendMessage("hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	f.transport.deliver(chat.PlainPayload{Message: "raw relay text"})

	if f.ctrl.AwaitingResponse() {
		t.Fatal("awaiting flag still set after degraded payload")
	}
	msgs := f.ctrl.Messages()
	last := msgs[len(msgs)-1]
	if last.Sender != chat.SenderAI || last.Content != "raw relay text" {
		t.Fatalf("degraded payload not reconciled: %+v", last)
	}
	if last.ChannelID != "ch1" {
		t.Fatalf("synthesized message missing channel: %+v", last)
	}
}

func TestBadRequestMapsToInsufficientBalance(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.connect(t)

	if err := f.ctrl.SendMessage("hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	f.transport.deliver(chat.ErrorPayload{Error: "Bad Request", Status: 400})

	if f.ctrl.AwaitingResponse() {
		t.Fatal("awaiting flag dangling after error")
	}
	select {
	case notice := <-f.notices:
		if notice == "" || notice == "The coach is unavailable right now. Please try again." {
			t.Fatalf("expected balance notice, got %q", notice)
		}
	case <-time.After(time.Second):
		t.Fatal("no user notification for backend error")
	}
}

func TestTransportErrorForcesAwaitingFalse(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.connect(t)

	if err := f.ctrl.SendMessage("hello"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	f.transport.failWith(errors.New("socket closed"))

	if f.ctrl.AwaitingResponse() {
		t.Fatal("awaiting flag dangling after transport error")
	}
	select {
	case <-f.notices:
	case <-time.After(time.Second):
		t.Fatal("no user notification for transport error")
	}
}

func TestResponseTimeoutResolvesAwaiting(t *testing.T) {
	f := newFixture(t, session.Options{ResponseTimeout: 30 * time.Millisecond})
	f.connect(t)

	if err := f.ctrl.SendMessage("anyone there?"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	select {
	case <-f.notices:
	case <-time.After(time.Second):
		t.Fatal("timeout never notified")
	}
	if f.ctrl.AwaitingResponse() {
		t.Fatal("awaiting flag dangling after timeout")
	}
}

func TestConnectLoadsHistoryChronologically(t *testing.T) {
	f := newFixture(t, session.Options{})

	base := time.Now().UTC().Add(-time.Hour)
	for i, content := range []string{"oldest", "middle", "newest"} {
		err := f.store.AddMessage(context.Background(), chat.Message{
			ID:          content,
			UserID:      "u1",
			AssistantID: "coach-1",
			ChannelID:   "ch1",
			Content:     content,
			Sender:      chat.SenderUser,
			Seq:         int64(i + 1),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("seed store: %v", err)
		}
	}

	f.connect(t)

	msgs := f.ctrl.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "oldest" || msgs[2].Content != "newest" {
		t.Fatalf("history out of order: %s .. %s", msgs[0].Content, msgs[2].Content)
	}

	// New turns continue the sequence loaded from the store.
	if err := f.ctrl.SendMessage("a new question"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	msgs = f.ctrl.Messages()
	if msgs[3].Seq <= 3 {
		t.Fatalf("sequence did not continue: %d", msgs[3].Seq)
	}
}

func TestMessagesSortedByTimestampNotArrival(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.connect(t)

	now := time.Now().UTC()
	late := aiReply("arrived first, happened second")
	late.ID = "late"
	late.CreatedAt = now.Add(time.Second)
	early := aiReply("arrived second, happened first")
	early.ID = "early"
	early.CreatedAt = now

	f.transport.deliver(late)
	f.transport.deliver(early)

	msgs := f.ctrl.Messages()
	if msgs[0].ID != "early" || msgs[1].ID != "late" {
		t.Fatalf("render order follows arrival, not timestamps: %s, %s", msgs[0].ID, msgs[1].ID)
	}
}

func TestMessagesPersistedThroughBothTiers(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.connect(t)

	if err := f.ctrl.SendMessage("write me down"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	f.transport.deliver(aiReply("noted"))

	stored, err := f.store.MessagesByChannel(context.Background(), "ch1", 0)
	if err != nil {
		t.Fatalf("MessagesByChannel: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("store has %d messages, want 2", len(stored))
	}

	cached, ok := cache.GetAs[[]chat.Message](f.cache, "channel:ch1:messages")
	if !ok {
		t.Fatal("timeline missing from cache")
	}
	if len(cached) != 2 {
		t.Fatalf("cache has %d messages, want 2", len(cached))
	}
}

func TestLeaveRoomClearsChannelCacheGroup(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.connect(t)

	if err := f.ctrl.SendMessage("cache me"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if _, ok := f.cache.Get("channel:ch1:messages"); !ok {
		t.Fatal("timeline not cached after send")
	}

	f.ctrl.LeaveRoom("ch1")

	if _, ok := f.cache.Get("channel:ch1:messages"); ok {
		t.Fatal("cache group not cleared on leave")
	}
	frames := f.transport.sentFrames()
	if frames[len(frames)-1].event != session.EventLeaveRoom {
		t.Fatalf("leave_room not sent: %+v", frames)
	}
}

func TestJoinRoomNoOpWhenDisconnected(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.connect(t)
	f.transport.Disconnect()

	f.ctrl.JoinRoom("ch2")
	if frames := f.transport.sentFrames(); len(frames) != 0 {
		t.Fatalf("join sent while disconnected: %+v", frames)
	}
}

func TestDisconnectPersistsSessionSnapshot(t *testing.T) {
	f := newFixture(t, session.Options{})
	f.connect(t)

	if err := f.ctrl.SendMessage("remember me"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	f.transport.deliver(aiReply("done"))
	f.ctrl.Disconnect()

	if f.transport.State() != transport.StateDisconnected {
		t.Fatalf("transport still %s", f.transport.State())
	}
	raw, err := f.store.GetCacheItem(context.Background(), "session:ch1")
	if err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("empty snapshot")
	}
}
