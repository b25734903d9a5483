// Package store is the durable tier behind the in-memory cache: a structured
// object store with named collections (messages, users, channels, files,
// cache items) and indexed lookups. Three drivers implement the same
// contract: an in-memory map store, an embedded SQLite database, and Redis.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/amora-labs/amora/client/internal/model/chat"
)

// Store is the persistent tier contract. Missing records surface as
// ErrNotFound, operations against a closed store as ErrNotOpen, and broken
// transactions as errors wrapping ErrTxFailed.
type Store interface {
	// Messages, indexed by (channelId, createdAt).
	AddMessage(ctx context.Context, msg chat.Message) error
	GetMessage(ctx context.Context, channelID, id string) (chat.Message, error)
	// MessagesByChannel returns up to limit messages for the channel,
	// newest first. A non-positive limit returns all of them.
	MessagesByChannel(ctx context.Context, channelID string, limit int) ([]chat.Message, error)
	DeleteMessages(ctx context.Context, channelID string) error

	// Users, indexed by email.
	PutUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	DeleteUser(ctx context.Context, id string) error

	// Channels.
	PutChannel(ctx context.Context, channel Channel) error
	GetChannel(ctx context.Context, id string) (Channel, error)
	Channels(ctx context.Context) ([]Channel, error)
	DeleteChannel(ctx context.Context, id string) error

	// File metadata.
	PutFile(ctx context.Context, file FileMeta) error
	GetFile(ctx context.Context, id string) (FileMeta, error)
	DeleteFile(ctx context.Context, id string) error

	// TTL-aware cache items for values that must survive a restart.
	// GetCacheItem treats an expired item as absent and deletes it.
	SetCacheItem(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
	GetCacheItem(ctx context.Context, key string) (json.RawMessage, error)
	DeleteCacheItem(ctx context.Context, key string) error
	ClearExpiredCache(ctx context.Context) error

	Close() error
}
