package relay

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/amora-labs/amora/client/internal/model/chat"
	"github.com/amora-labs/amora/client/internal/model/profile"
)

// Wire events shared with the client transport.
const (
	eventSendMessage    = "send_message"
	eventJoinRoom       = "join_room"
	eventLeaveRoom      = "leave_room"
	eventReceiveMessage = "receive_message"
)

// ChatHandler terminates client websocket connections and turns user
// messages into coach replies.
type ChatHandler struct {
	profiles     profile.Store
	responder    Responder
	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// NewChatHandler builds the websocket chat handler. responder may be nil, in
// which case canned replies are served.
func NewChatHandler(profiles profile.Store, responder Responder) *ChatHandler {
	if responder == nil {
		responder = CannedResponder{}
	}
	return &ChatHandler{
		profiles:  profiles,
		responder: responder,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		pingInterval: 54 * time.Second,
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundEnvelope struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type outgoingEnvelope struct {
	Event     string `json:"event"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type roomRequest struct {
	RoomID string `json:"roomId"`
}

// connectionState is the per-connection conversation context. The transcript
// lives only as long as the socket; durable history is the client's concern.
type connectionState struct {
	coach      *profile.CoachProfile
	transcript []chat.Message
}

// wsConn serializes writes to one websocket connection; replies come from the
// read loop while pings come from pingLoop, and gorilla/websocket allows only
// one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

func (h *ChatHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[relay] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	log.Printf("[relay] new connection from %s", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	ws := &wsConn{conn: conn}
	go h.pingLoop(ctx, ws)

	state := &connectionState{}

	for {
		select {
		case <-ctx.Done():
			return
		default:
			var env inboundEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("[relay] read error: %v", err)
				}
				return
			}

			conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			h.handleEnvelope(ctx, ws, state, &env)
		}
	}
}

func (h *ChatHandler) handleEnvelope(ctx context.Context, conn *wsConn, state *connectionState, env *inboundEnvelope) {
	switch env.Event {
	case eventSendMessage:
		h.handleSendMessage(ctx, conn, state, env.Data)
	case eventJoinRoom:
		h.handleRoomEvent(conn, env.Data, "joined room")
	case eventLeaveRoom:
		h.handleRoomEvent(conn, env.Data, "left room")
	default:
		h.sendError(conn, "unsupported event: "+env.Event, http.StatusBadRequest)
	}
}

func (h *ChatHandler) handleSendMessage(ctx context.Context, conn *wsConn, state *connectionState, raw json.RawMessage) {
	var outgoing chat.OutgoingChat
	if err := json.Unmarshal(raw, &outgoing); err != nil {
		h.sendError(conn, "Bad Request", http.StatusBadRequest)
		return
	}
	if outgoing.Message == "" || outgoing.UserID == "" || outgoing.AssistantID == "" || outgoing.ChannelID == "" {
		h.sendError(conn, "Bad Request", http.StatusBadRequest)
		return
	}

	if state.coach == nil || state.coach.ID != outgoing.AssistantID {
		coach, ok := h.profiles.FindByID(outgoing.AssistantID)
		if !ok {
			h.sendError(conn, "unknown coach: "+outgoing.AssistantID, http.StatusNotFound)
			return
		}
		state.coach = &coach
	}

	replyText, err := h.responder.Reply(ctx, *state.coach, state.transcript, outgoing.Message)
	if err != nil {
		log.Printf("[relay] reply generation failed: %v", err)
		h.sendError(conn, "reply generation failed", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	state.transcript = append(state.transcript,
		chat.Message{
			ID:          uuid.NewString(),
			UserID:      outgoing.UserID,
			AssistantID: outgoing.AssistantID,
			ChannelID:   outgoing.ChannelID,
			Content:     outgoing.Message,
			Sender:      chat.SenderUser,
			CreatedAt:   now,
		},
		chat.Message{
			ID:          uuid.NewString(),
			UserID:      outgoing.UserID,
			AssistantID: outgoing.AssistantID,
			ChannelID:   outgoing.ChannelID,
			Content:     replyText,
			Sender:      chat.SenderAI,
			CreatedAt:   now,
		},
	)

	reply := state.transcript[len(state.transcript)-1]
	h.send(conn, map[string]any{
		"aiChat": chat.AIChatPayload{
			ID:          reply.ID,
			UserID:      reply.UserID,
			AssistantID: reply.AssistantID,
			ChannelID:   reply.ChannelID,
			Message:     reply.Content,
			Sender:      chat.SenderAI,
			CreatedAt:   reply.CreatedAt,
		},
	})
}

func (h *ChatHandler) handleRoomEvent(conn *wsConn, raw json.RawMessage, verb string) {
	var req roomRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.RoomID == "" {
		h.sendError(conn, "Bad Request", http.StatusBadRequest)
		return
	}
	h.send(conn, map[string]any{"message": verb + " " + req.RoomID})
}

// send wraps a body in a receive_message envelope.
func (h *ChatHandler) send(conn *wsConn, data any) {
	env := outgoingEnvelope{
		Event:     eventReceiveMessage,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}
	if err := conn.writeJSON(env); err != nil {
		log.Printf("[relay] write failed: %v", err)
	}
}

func (h *ChatHandler) sendError(conn *wsConn, message string, status int) {
	h.send(conn, map[string]any{"error": message, "status": status})
}

func (h *ChatHandler) pingLoop(ctx context.Context, conn *wsConn) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
