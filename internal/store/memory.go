package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/amora-labs/amora/client/internal/model/chat"
)

// memoryStore implements Store with mutex-guarded maps. Default driver and
// the reference implementation the other drivers are tested against.
type memoryStore struct {
	mu       sync.RWMutex
	closed   bool
	messages map[string][]chat.Message // channelID -> chronological order
	users    map[string]User
	channels map[string]Channel
	files    map[string]FileMeta
	cache    map[string]CacheItem
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() Store {
	return &memoryStore{
		messages: make(map[string][]chat.Message),
		users:    make(map[string]User),
		channels: make(map[string]Channel),
		files:    make(map[string]FileMeta),
		cache:    make(map[string]CacheItem),
	}
}

func (s *memoryStore) AddMessage(_ context.Context, msg chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotOpen
	}
	s.messages[msg.ChannelID] = append(s.messages[msg.ChannelID], msg)
	return nil
}

func (s *memoryStore) GetMessage(_ context.Context, channelID, id string) (chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return chat.Message{}, ErrNotOpen
	}
	for _, msg := range s.messages[channelID] {
		if msg.ID == id {
			return msg, nil
		}
	}
	return chat.Message{}, ErrNotFound
}

func (s *memoryStore) MessagesByChannel(_ context.Context, channelID string, limit int) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrNotOpen
	}

	stored := s.messages[channelID]
	result := make([]chat.Message, len(stored))
	copy(result, stored)
	// Newest first; equal timestamps fall back to the sequence number, the
	// same order the sqlite driver produces.
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].Seq > result[j].Seq
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *memoryStore) DeleteMessages(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotOpen
	}
	delete(s.messages, channelID)
	return nil
}

func (s *memoryStore) PutUser(_ context.Context, user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotOpen
	}
	s.users[user.ID] = user
	return nil
}

func (s *memoryStore) GetUser(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return User{}, ErrNotOpen
	}
	user, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *memoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return User{}, ErrNotOpen
	}
	for _, user := range s.users {
		if user.Email == email {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *memoryStore) DeleteUser(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotOpen
	}
	delete(s.users, id)
	return nil
}

func (s *memoryStore) PutChannel(_ context.Context, channel Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotOpen
	}
	s.channels[channel.ID] = channel
	return nil
}

func (s *memoryStore) GetChannel(_ context.Context, id string) (Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Channel{}, ErrNotOpen
	}
	channel, ok := s.channels[id]
	if !ok {
		return Channel{}, ErrNotFound
	}
	return channel, nil
}

func (s *memoryStore) Channels(_ context.Context) ([]Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrNotOpen
	}
	result := make([]Channel, 0, len(s.channels))
	for _, channel := range s.channels {
		result = append(result, channel)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].LastActiveAt.After(result[j].LastActiveAt)
	})
	return result, nil
}

func (s *memoryStore) DeleteChannel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotOpen
	}
	delete(s.channels, id)
	return nil
}

func (s *memoryStore) PutFile(_ context.Context, file FileMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotOpen
	}
	s.files[file.ID] = file
	return nil
}

func (s *memoryStore) GetFile(_ context.Context, id string) (FileMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return FileMeta{}, ErrNotOpen
	}
	file, ok := s.files[id]
	if !ok {
		return FileMeta{}, ErrNotFound
	}
	return file, nil
}

func (s *memoryStore) DeleteFile(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotOpen
	}
	delete(s.files, id)
	return nil
}

func (s *memoryStore) SetCacheItem(_ context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotOpen
	}
	s.cache[key] = CacheItem{Key: key, Value: value, Timestamp: time.Now(), TTL: ttl}
	return nil
}

func (s *memoryStore) GetCacheItem(_ context.Context, key string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrNotOpen
	}
	item, ok := s.cache[key]
	if !ok {
		return nil, ErrNotFound
	}
	if item.Expired(time.Now()) {
		delete(s.cache, key)
		return nil, ErrNotFound
	}
	return item.Value, nil
}

func (s *memoryStore) DeleteCacheItem(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotOpen
	}
	delete(s.cache, key)
	return nil
}

func (s *memoryStore) ClearExpiredCache(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotOpen
	}
	now := time.Now()
	for key, item := range s.cache {
		if item.Expired(now) {
			delete(s.cache, key)
		}
	}
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
