package store

import (
	"encoding/json"
	"time"
)

// User is a registered account, indexed by email for lookup.
type User struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Channel is one coaching conversation between a user and an assistant.
type Channel struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	AssistantID  string    `json:"assistantId"`
	Topic        string    `json:"topic,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
}

// FileMeta describes an attachment shared inside a channel. The blob itself
// lives elsewhere; the store only tracks metadata.
type FileMeta struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channelId"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"createdAt"`
}

// CacheItem is a TTL-scoped value meant to survive a process restart,
// mirroring the in-memory cache semantics on the durable tier.
type CacheItem struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Timestamp time.Time       `json:"timestamp"`
	TTL       time.Duration   `json:"ttl"`
}

// Expired reports whether the item is past its time-to-live at now.
func (i CacheItem) Expired(now time.Time) bool {
	return now.After(i.Timestamp.Add(i.TTL))
}
