package chat

import (
	"encoding/json"
	"time"
)

// OutgoingChat is the body of a send_message frame.
type OutgoingChat struct {
	UserID      string `json:"userId"`
	AssistantID string `json:"assistantId"`
	ChannelID   string `json:"channelId"`
	Message     string `json:"message"`
}

// InboundPayload is the decoded form of a receive_message frame. The relay
// emits loosely shaped bodies, so the transport boundary narrows them into
// one of three concrete payloads.
type InboundPayload interface {
	inboundPayload()
}

// AIChatPayload carries a fully formed assistant message.
type AIChatPayload struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	AssistantID string    `json:"assistantId"`
	ChannelID   string    `json:"channelId"`
	Message     string    `json:"message"`
	Sender      Sender    `json:"sender"`
	CreatedAt   time.Time `json:"createdAt"`
}

// PlainPayload carries an unstructured text body, including the degraded
// case where the raw frame could not be decoded at all.
type PlainPayload struct {
	Message string `json:"message"`
}

// ErrorPayload carries a backend-signaled failure.
type ErrorPayload struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func (AIChatPayload) inboundPayload() {}
func (PlainPayload) inboundPayload()  {}
func (ErrorPayload) inboundPayload()  {}

// ToMessage converts the wire shape into a channel message.
func (p AIChatPayload) ToMessage() Message {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	sender := p.Sender
	if sender == "" {
		sender = SenderAI
	}
	return Message{
		ID:          p.ID,
		UserID:      p.UserID,
		AssistantID: p.AssistantID,
		ChannelID:   p.ChannelID,
		Content:     p.Message,
		Sender:      sender,
		CreatedAt:   createdAt,
	}
}

type inboundEnvelope struct {
	AIChat  *AIChatPayload `json:"aiChat"`
	Message string         `json:"message"`
	Error   string         `json:"error"`
	Status  int            `json:"status"`
}

// DecodeInbound narrows a raw receive_message body into a tagged payload.
// Malformed bodies degrade to a PlainPayload carrying the raw text so the
// pipeline always advances instead of dropping the frame.
func DecodeInbound(raw []byte) InboundPayload {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PlainPayload{Message: string(raw)}
	}
	switch {
	case env.Error != "":
		return ErrorPayload{Error: env.Error, Status: env.Status}
	case env.AIChat != nil:
		return *env.AIChat
	default:
		return PlainPayload{Message: env.Message}
	}
}
