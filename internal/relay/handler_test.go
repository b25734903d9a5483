package relay_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amora-labs/amora/client/internal/model/chat"
	"github.com/amora-labs/amora/client/internal/model/profile"
	"github.com/amora-labs/amora/client/internal/relay"
)

type echoResponder struct{}

func (echoResponder) Reply(_ context.Context, coach profile.CoachProfile, transcript []chat.Message, userMessage string) (string, error) {
	return coach.Name + " heard: " + userMessage, nil
}

func newTestServer(t *testing.T, responder relay.Responder) (string, *httptest.Server) {
	t.Helper()
	profiles := profile.NewMemoryStore(profile.Seed())
	handler := relay.NewChatHandler(profiles, responder)
	srv := httptest.NewServer(relay.NewRouter(profiles, handler))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", srv
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type envelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{
		"event":     event,
		"data":      data,
		"timestamp": time.Now().Unix(),
	}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestSendMessageReturnsAIChat(t *testing.T) {
	url, _ := newTestServer(t, echoResponder{})
	conn := dial(t, url)

	sendEnvelope(t, conn, "send_message", chat.OutgoingChat{
		UserID:      "u1",
		AssistantID: "coach-amora",
		ChannelID:   "ch1",
		Message:     "we keep arguing about chores",
	})

	env := readEnvelope(t, conn)
	if env.Event != "receive_message" {
		t.Fatalf("event: got %q", env.Event)
	}

	payload := chat.DecodeInbound(env.Data)
	ai, ok := payload.(chat.AIChatPayload)
	if !ok {
		t.Fatalf("payload type %T", payload)
	}
	if ai.Message != "Amora heard: we keep arguing about chores" {
		t.Fatalf("unexpected reply: %q", ai.Message)
	}
	if ai.ChannelID != "ch1" || ai.Sender != chat.SenderAI || ai.ID == "" {
		t.Fatalf("incomplete payload: %+v", ai)
	}
}

func TestEmptyMessageRejectedWithBadRequest(t *testing.T) {
	url, _ := newTestServer(t, echoResponder{})
	conn := dial(t, url)

	sendEnvelope(t, conn, "send_message", chat.OutgoingChat{
		UserID:      "u1",
		AssistantID: "coach-amora",
		ChannelID:   "ch1",
		Message:     "",
	})

	env := readEnvelope(t, conn)
	payload := chat.DecodeInbound(env.Data)
	errPayload, ok := payload.(chat.ErrorPayload)
	if !ok {
		t.Fatalf("payload type %T", payload)
	}
	if errPayload.Error != "Bad Request" || errPayload.Status != 400 {
		t.Fatalf("unexpected error payload: %+v", errPayload)
	}
}

func TestUnknownCoachRejected(t *testing.T) {
	url, _ := newTestServer(t, echoResponder{})
	conn := dial(t, url)

	sendEnvelope(t, conn, "send_message", chat.OutgoingChat{
		UserID:      "u1",
		AssistantID: "nobody",
		ChannelID:   "ch1",
		Message:     "hello?",
	})

	env := readEnvelope(t, conn)
	errPayload, ok := chat.DecodeInbound(env.Data).(chat.ErrorPayload)
	if !ok {
		t.Fatalf("payload type %T", chat.DecodeInbound(env.Data))
	}
	if errPayload.Status != 404 {
		t.Fatalf("status: got %d want 404", errPayload.Status)
	}
}

func TestCannedResponderServesOpeningLine(t *testing.T) {
	url, _ := newTestServer(t, nil)
	conn := dial(t, url)

	sendEnvelope(t, conn, "send_message", chat.OutgoingChat{
		UserID:      "u1",
		AssistantID: "coach-theo",
		ChannelID:   "ch1",
		Message:     "hi",
	})

	env := readEnvelope(t, conn)
	ai, ok := chat.DecodeInbound(env.Data).(chat.AIChatPayload)
	if !ok {
		t.Fatalf("payload type %T", chat.DecodeInbound(env.Data))
	}
	if ai.Message == "" {
		t.Fatal("empty canned reply")
	}
}

func TestJoinAndLeaveRoomAcknowledged(t *testing.T) {
	url, _ := newTestServer(t, echoResponder{})
	conn := dial(t, url)

	sendEnvelope(t, conn, "join_room", map[string]string{"roomId": "ch9"})
	env := readEnvelope(t, conn)
	plain, ok := chat.DecodeInbound(env.Data).(chat.PlainPayload)
	if !ok || !strings.Contains(plain.Message, "ch9") {
		t.Fatalf("join ack: %+v", plain)
	}

	sendEnvelope(t, conn, "leave_room", map[string]string{"roomId": "ch9"})
	env = readEnvelope(t, conn)
	plain, ok = chat.DecodeInbound(env.Data).(chat.PlainPayload)
	if !ok || !strings.Contains(plain.Message, "left") {
		t.Fatalf("leave ack: %+v", plain)
	}
}

func TestUnsupportedEventRejected(t *testing.T) {
	url, _ := newTestServer(t, echoResponder{})
	conn := dial(t, url)

	sendEnvelope(t, conn, "dance", map[string]string{})
	env := readEnvelope(t, conn)
	errPayload, ok := chat.DecodeInbound(env.Data).(chat.ErrorPayload)
	if !ok || errPayload.Status != 400 {
		t.Fatalf("unexpected response: %+v", errPayload)
	}
}

func TestCoachCatalogueEndpoints(t *testing.T) {
	_, srv := newTestServer(t, echoResponder{})

	resp, err := srv.Client().Get(srv.URL + "/api/coaches")
	if err != nil {
		t.Fatalf("GET /api/coaches: %v", err)
	}
	defer resp.Body.Close()
	var coaches []profile.CoachProfile
	if err := json.NewDecoder(resp.Body).Decode(&coaches); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(coaches) != len(profile.Seed()) {
		t.Fatalf("got %d coaches", len(coaches))
	}

	missing, err := srv.Client().Get(srv.URL + "/api/coaches/nobody")
	if err != nil {
		t.Fatalf("GET missing coach: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != 404 {
		t.Fatalf("missing coach status: %d", missing.StatusCode)
	}
}
