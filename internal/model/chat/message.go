package chat

import "time"

// Sender identifies the origin of a message within a channel.
type Sender string

const (
	SenderUser Sender = "USER"
	SenderAI   Sender = "AI"
)

// Message is a single conversation turn scoped to a coaching channel.
// IDs are client-generated for user turns and server-assigned for AI turns;
// either way an ID is unique within its channel.
type Message struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	AssistantID string    `json:"assistantId"`
	ChannelID   string    `json:"channelId"`
	Content     string    `json:"content"`
	Sender      Sender    `json:"sender"`
	Seq         int64     `json:"seq,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}
