package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amora-labs/amora/client/internal/model/chat"
)

const (
	redisMessagePrefix   = "amora:messages:" // hash: channelID -> (id -> message JSON)
	redisMessageIdxPre   = "amora:msgidx:"   // zset: channelID -> id scored by createdAt
	redisUserPrefix      = "amora:user:"
	redisUserEmailIndex  = "amora:useremail" // hash: email -> user id
	redisChannelPrefix   = "amora:channel:"
	redisChannelIndexKey = "amora:channels" // zset: id scored by lastActiveAt
	redisFilePrefix      = "amora:file:"
	redisCachePrefix     = "amora:cache:"
)

// redisStore implements Store on Redis for deployments sharing the durable
// tier across processes. Messages are kept in a hash per channel with a
// sorted-set index by creation time for newest-first reads.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore wraps an existing Redis client. ttl bounds the lifetime of
// channel message data; zero keeps it forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) (Store, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
	}
	return &redisStore{client: client, ttl: ttl}, nil
}

func (s *redisStore) wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.ErrClosed):
		return ErrNotOpen
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %s: %v", ErrTxFailed, op, err)
	}
}

func (s *redisStore) AddMessage(ctx context.Context, msg chat.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: marshal message: %v", ErrTxFailed, err)
	}

	hashKey := redisMessagePrefix + msg.ChannelID
	idxKey := redisMessageIdxPre + msg.ChannelID
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, hashKey, msg.ID, raw)
		pipe.ZAdd(ctx, idxKey, redis.Z{Score: float64(msg.CreatedAt.UnixNano()), Member: msg.ID})
		if s.ttl > 0 {
			pipe.Expire(ctx, hashKey, s.ttl)
			pipe.Expire(ctx, idxKey, s.ttl)
		}
		return nil
	})
	return s.wrap("add message", err)
}

func (s *redisStore) GetMessage(ctx context.Context, channelID, id string) (chat.Message, error) {
	raw, err := s.client.HGet(ctx, redisMessagePrefix+channelID, id).Result()
	if err != nil {
		return chat.Message{}, s.wrap("get message", err)
	}
	var msg chat.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return chat.Message{}, fmt.Errorf("%w: decode message: %v", ErrTxFailed, err)
	}
	return msg, nil
}

func (s *redisStore) MessagesByChannel(ctx context.Context, channelID string, limit int) ([]chat.Message, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, redisMessageIdxPre+channelID, 0, stop).Result()
	if err != nil {
		return nil, s.wrap("range message index", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.client.HMGet(ctx, redisMessagePrefix+channelID, ids...).Result()
	if err != nil {
		return nil, s.wrap("fetch messages", err)
	}

	result := make([]chat.Message, 0, len(rows))
	for _, row := range rows {
		raw, ok := row.(string)
		if !ok {
			continue // index entry without a hash row, skip
		}
		var msg chat.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("%w: decode message: %v", ErrTxFailed, err)
		}
		result = append(result, msg)
	}
	return result, nil
}

func (s *redisStore) DeleteMessages(ctx context.Context, channelID string) error {
	err := s.client.Del(ctx, redisMessagePrefix+channelID, redisMessageIdxPre+channelID).Err()
	return s.wrap("delete messages", err)
}

func (s *redisStore) PutUser(ctx context.Context, user User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("%w: marshal user: %v", ErrTxFailed, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisUserPrefix+user.ID, raw, 0)
		pipe.HSet(ctx, redisUserEmailIndex, user.Email, user.ID)
		return nil
	})
	return s.wrap("put user", err)
}

func (s *redisStore) GetUser(ctx context.Context, id string) (User, error) {
	raw, err := s.client.Get(ctx, redisUserPrefix+id).Result()
	if err != nil {
		return User{}, s.wrap("get user", err)
	}
	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return User{}, fmt.Errorf("%w: decode user: %v", ErrTxFailed, err)
	}
	return user, nil
}

func (s *redisStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	id, err := s.client.HGet(ctx, redisUserEmailIndex, email).Result()
	if err != nil {
		return User{}, s.wrap("resolve email", err)
	}
	return s.GetUser(ctx, id)
}

func (s *redisStore) DeleteUser(ctx context.Context, id string) error {
	user, err := s.GetUser(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisUserPrefix+id)
		pipe.HDel(ctx, redisUserEmailIndex, user.Email)
		return nil
	})
	return s.wrap("delete user", err)
}

func (s *redisStore) PutChannel(ctx context.Context, channel Channel) error {
	raw, err := json.Marshal(channel)
	if err != nil {
		return fmt.Errorf("%w: marshal channel: %v", ErrTxFailed, err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisChannelPrefix+channel.ID, raw, 0)
		pipe.ZAdd(ctx, redisChannelIndexKey, redis.Z{
			Score:  float64(channel.LastActiveAt.UnixNano()),
			Member: channel.ID,
		})
		return nil
	})
	return s.wrap("put channel", err)
}

func (s *redisStore) GetChannel(ctx context.Context, id string) (Channel, error) {
	raw, err := s.client.Get(ctx, redisChannelPrefix+id).Result()
	if err != nil {
		return Channel{}, s.wrap("get channel", err)
	}
	var channel Channel
	if err := json.Unmarshal([]byte(raw), &channel); err != nil {
		return Channel{}, fmt.Errorf("%w: decode channel: %v", ErrTxFailed, err)
	}
	return channel, nil
}

func (s *redisStore) Channels(ctx context.Context) ([]Channel, error) {
	ids, err := s.client.ZRevRange(ctx, redisChannelIndexKey, 0, -1).Result()
	if err != nil {
		return nil, s.wrap("range channel index", err)
	}
	result := make([]Channel, 0, len(ids))
	for _, id := range ids {
		channel, err := s.GetChannel(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		result = append(result, channel)
	}
	return result, nil
}

func (s *redisStore) DeleteChannel(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisChannelPrefix+id)
		pipe.ZRem(ctx, redisChannelIndexKey, id)
		return nil
	})
	return s.wrap("delete channel", err)
}

func (s *redisStore) PutFile(ctx context.Context, file FileMeta) error {
	raw, err := json.Marshal(file)
	if err != nil {
		return fmt.Errorf("%w: marshal file: %v", ErrTxFailed, err)
	}
	return s.wrap("put file", s.client.Set(ctx, redisFilePrefix+file.ID, raw, 0).Err())
}

func (s *redisStore) GetFile(ctx context.Context, id string) (FileMeta, error) {
	raw, err := s.client.Get(ctx, redisFilePrefix+id).Result()
	if err != nil {
		return FileMeta{}, s.wrap("get file", err)
	}
	var file FileMeta
	if err := json.Unmarshal([]byte(raw), &file); err != nil {
		return FileMeta{}, fmt.Errorf("%w: decode file: %v", ErrTxFailed, err)
	}
	return file, nil
}

func (s *redisStore) DeleteFile(ctx context.Context, id string) error {
	return s.wrap("delete file", s.client.Del(ctx, redisFilePrefix+id).Err())
}

func (s *redisStore) SetCacheItem(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	item := CacheItem{Key: key, Value: value, Timestamp: time.Now(), TTL: ttl}
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("%w: marshal cache item: %v", ErrTxFailed, err)
	}
	return s.wrap("set cache item", s.client.Set(ctx, redisCachePrefix+key, raw, ttl).Err())
}

func (s *redisStore) GetCacheItem(ctx context.Context, key string) (json.RawMessage, error) {
	raw, err := s.client.Get(ctx, redisCachePrefix+key).Result()
	if err != nil {
		return nil, s.wrap("get cache item", err)
	}
	var item CacheItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil, fmt.Errorf("%w: decode cache item: %v", ErrTxFailed, err)
	}
	if item.Expired(time.Now()) {
		_ = s.client.Del(ctx, redisCachePrefix+key).Err()
		return nil, ErrNotFound
	}
	return item.Value, nil
}

func (s *redisStore) DeleteCacheItem(ctx context.Context, key string) error {
	return s.wrap("delete cache item", s.client.Del(ctx, redisCachePrefix+key).Err())
}

// ClearExpiredCache is a no-op for Redis: cache keys carry a native TTL and
// the server expires them on its own.
func (s *redisStore) ClearExpiredCache(_ context.Context) error {
	return nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
