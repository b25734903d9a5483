package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/amora-labs/amora/client/internal/model/chat"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS messages (
	id           TEXT NOT NULL,
	channel_id   TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	assistant_id TEXT NOT NULL,
	content      TEXT NOT NULL,
	sender       TEXT NOT NULL,
	seq          INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	PRIMARY KEY (channel_id, id)
);
CREATE INDEX IF NOT EXISTS idx_messages_channel_created
	ON messages (channel_id, created_at);

CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	email        TEXT NOT NULL,
	display_name TEXT NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users (email);

CREATE TABLE IF NOT EXISTS channels (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	assistant_id   TEXT NOT NULL,
	topic          TEXT NOT NULL DEFAULT '',
	created_at     INTEGER NOT NULL,
	last_active_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	id           TEXT PRIMARY KEY,
	channel_id   TEXT NOT NULL,
	name         TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size         INTEGER NOT NULL,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_files_channel ON files (channel_id);

CREATE TABLE IF NOT EXISTS cache_items (
	key       TEXT PRIMARY KEY,
	value     BLOB NOT NULL,
	timestamp INTEGER NOT NULL,
	ttl_ns    INTEGER NOT NULL
);
`

// sqliteStore implements Store on an embedded SQLite database, the durable
// tier analog of the browser's structured store.
type sqliteStore struct {
	pool *sqlitex.Pool

	mu     sync.Mutex
	closed bool
}

// NewSQLiteStore opens (creating if needed) the database at path and applies
// the schema. Use ":memory:" with pool size 1 for tests.
func NewSQLiteStore(path string, poolSize int) (Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite path is required", ErrInvalidConfig)
	}
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite store at %s: %w", path, err)
	}
	return &sqliteStore{pool: pool}, nil
}

func (s *sqliteStore) conn(ctx context.Context) (*sqlite.Conn, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrNotOpen
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotOpen, err)
	}
	return conn, nil
}

func (s *sqliteStore) AddMessage(ctx context.Context, msg chat.Message) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO messages (id, channel_id, user_id, assistant_id, content, sender, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel_id, id) DO UPDATE SET
			content = excluded.content, sender = excluded.sender,
			seq = excluded.seq, created_at = excluded.created_at`,
		&sqlitex.ExecOptions{Args: []any{
			msg.ID, msg.ChannelID, msg.UserID, msg.AssistantID,
			msg.Content, string(msg.Sender), msg.Seq, msg.CreatedAt.UnixNano(),
		}})
	if err != nil {
		return fmt.Errorf("%w: insert message: %v", ErrTxFailed, err)
	}
	return nil
}

func scanMessage(stmt *sqlite.Stmt) chat.Message {
	return chat.Message{
		ID:          stmt.ColumnText(0),
		ChannelID:   stmt.ColumnText(1),
		UserID:      stmt.ColumnText(2),
		AssistantID: stmt.ColumnText(3),
		Content:     stmt.ColumnText(4),
		Sender:      chat.Sender(stmt.ColumnText(5)),
		Seq:         stmt.ColumnInt64(6),
		CreatedAt:   time.Unix(0, stmt.ColumnInt64(7)).UTC(),
	}
}

const messageColumns = "id, channel_id, user_id, assistant_id, content, sender, seq, created_at"

func (s *sqliteStore) GetMessage(ctx context.Context, channelID, id string) (chat.Message, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return chat.Message{}, err
	}
	defer s.pool.Put(conn)

	var msg chat.Message
	found := false
	err = sqlitex.Execute(conn,
		"SELECT "+messageColumns+" FROM messages WHERE channel_id = ? AND id = ?",
		&sqlitex.ExecOptions{
			Args: []any{channelID, id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				msg = scanMessage(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: select message: %v", ErrTxFailed, err)
	}
	if !found {
		return chat.Message{}, ErrNotFound
	}
	return msg, nil
}

func (s *sqliteStore) MessagesByChannel(ctx context.Context, channelID string, limit int) ([]chat.Message, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query := "SELECT " + messageColumns + " FROM messages WHERE channel_id = ? ORDER BY created_at DESC, seq DESC"
	args := []any{channelID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	var result []chat.Message
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			result = append(result, scanMessage(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: select messages: %v", ErrTxFailed, err)
	}
	return result, nil
}

func (s *sqliteStore) DeleteMessages(ctx context.Context, channelID string) error {
	return s.exec(ctx, "DELETE FROM messages WHERE channel_id = ?", channelID)
}

func (s *sqliteStore) PutUser(ctx context.Context, user User) error {
	return s.exec(ctx, `
		INSERT INTO users (id, email, display_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email, display_name = excluded.display_name`,
		user.ID, user.Email, user.DisplayName, user.CreatedAt.UnixNano())
}

func scanUser(stmt *sqlite.Stmt) User {
	return User{
		ID:          stmt.ColumnText(0),
		Email:       stmt.ColumnText(1),
		DisplayName: stmt.ColumnText(2),
		CreatedAt:   time.Unix(0, stmt.ColumnInt64(3)).UTC(),
	}
}

func (s *sqliteStore) GetUser(ctx context.Context, id string) (User, error) {
	return s.selectUser(ctx, "SELECT id, email, display_name, created_at FROM users WHERE id = ?", id)
}

func (s *sqliteStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.selectUser(ctx, "SELECT id, email, display_name, created_at FROM users WHERE email = ? LIMIT 1", email)
}

func (s *sqliteStore) selectUser(ctx context.Context, query string, arg any) (User, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return User{}, err
	}
	defer s.pool.Put(conn)

	var user User
	found := false
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{arg},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			user = scanUser(stmt)
			found = true
			return nil
		},
	})
	if err != nil {
		return User{}, fmt.Errorf("%w: select user: %v", ErrTxFailed, err)
	}
	if !found {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *sqliteStore) DeleteUser(ctx context.Context, id string) error {
	return s.exec(ctx, "DELETE FROM users WHERE id = ?", id)
}

func (s *sqliteStore) PutChannel(ctx context.Context, channel Channel) error {
	return s.exec(ctx, `
		INSERT INTO channels (id, user_id, assistant_id, topic, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			topic = excluded.topic, last_active_at = excluded.last_active_at`,
		channel.ID, channel.UserID, channel.AssistantID, channel.Topic,
		channel.CreatedAt.UnixNano(), channel.LastActiveAt.UnixNano())
}

func scanChannel(stmt *sqlite.Stmt) Channel {
	return Channel{
		ID:           stmt.ColumnText(0),
		UserID:       stmt.ColumnText(1),
		AssistantID:  stmt.ColumnText(2),
		Topic:        stmt.ColumnText(3),
		CreatedAt:    time.Unix(0, stmt.ColumnInt64(4)).UTC(),
		LastActiveAt: time.Unix(0, stmt.ColumnInt64(5)).UTC(),
	}
}

func (s *sqliteStore) GetChannel(ctx context.Context, id string) (Channel, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return Channel{}, err
	}
	defer s.pool.Put(conn)

	var channel Channel
	found := false
	err = sqlitex.Execute(conn,
		"SELECT id, user_id, assistant_id, topic, created_at, last_active_at FROM channels WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				channel = scanChannel(stmt)
				found = true
				return nil
			},
		})
	if err != nil {
		return Channel{}, fmt.Errorf("%w: select channel: %v", ErrTxFailed, err)
	}
	if !found {
		return Channel{}, ErrNotFound
	}
	return channel, nil
}

func (s *sqliteStore) Channels(ctx context.Context) ([]Channel, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var result []Channel
	err = sqlitex.Execute(conn,
		"SELECT id, user_id, assistant_id, topic, created_at, last_active_at FROM channels ORDER BY last_active_at DESC",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				result = append(result, scanChannel(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("%w: select channels: %v", ErrTxFailed, err)
	}
	return result, nil
}

func (s *sqliteStore) DeleteChannel(ctx context.Context, id string) error {
	return s.exec(ctx, "DELETE FROM channels WHERE id = ?", id)
}

func (s *sqliteStore) PutFile(ctx context.Context, file FileMeta) error {
	return s.exec(ctx, `
		INSERT INTO files (id, channel_id, name, content_type, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name, content_type = excluded.content_type, size = excluded.size`,
		file.ID, file.ChannelID, file.Name, file.ContentType, file.Size, file.CreatedAt.UnixNano())
}

func (s *sqliteStore) GetFile(ctx context.Context, id string) (FileMeta, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return FileMeta{}, err
	}
	defer s.pool.Put(conn)

	var file FileMeta
	found := false
	err = sqlitex.Execute(conn,
		"SELECT id, channel_id, name, content_type, size, created_at FROM files WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				file = FileMeta{
					ID:          stmt.ColumnText(0),
					ChannelID:   stmt.ColumnText(1),
					Name:        stmt.ColumnText(2),
					ContentType: stmt.ColumnText(3),
					Size:        stmt.ColumnInt64(4),
					CreatedAt:   time.Unix(0, stmt.ColumnInt64(5)).UTC(),
				}
				found = true
				return nil
			},
		})
	if err != nil {
		return FileMeta{}, fmt.Errorf("%w: select file: %v", ErrTxFailed, err)
	}
	if !found {
		return FileMeta{}, ErrNotFound
	}
	return file, nil
}

func (s *sqliteStore) DeleteFile(ctx context.Context, id string) error {
	return s.exec(ctx, "DELETE FROM files WHERE id = ?", id)
}

func (s *sqliteStore) SetCacheItem(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	return s.exec(ctx, `
		INSERT INTO cache_items (key, value, timestamp, ttl_ns)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value, timestamp = excluded.timestamp, ttl_ns = excluded.ttl_ns`,
		key, []byte(value), time.Now().UnixNano(), int64(ttl))
}

func (s *sqliteStore) GetCacheItem(ctx context.Context, key string) (json.RawMessage, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var item CacheItem
	found := false
	err = sqlitex.Execute(conn,
		"SELECT value, timestamp, ttl_ns FROM cache_items WHERE key = ?",
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, value)
				item = CacheItem{
					Key:       key,
					Value:     value,
					Timestamp: time.Unix(0, stmt.ColumnInt64(1)),
					TTL:       time.Duration(stmt.ColumnInt64(2)),
				}
				found = true
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("%w: select cache item: %v", ErrTxFailed, err)
	}
	if !found {
		return nil, ErrNotFound
	}
	if item.Expired(time.Now()) {
		if delErr := sqlitex.Execute(conn, "DELETE FROM cache_items WHERE key = ?",
			&sqlitex.ExecOptions{Args: []any{key}}); delErr != nil {
			return nil, fmt.Errorf("%w: purge expired cache item: %v", ErrTxFailed, delErr)
		}
		return nil, ErrNotFound
	}
	return item.Value, nil
}

func (s *sqliteStore) DeleteCacheItem(ctx context.Context, key string) error {
	return s.exec(ctx, "DELETE FROM cache_items WHERE key = ?", key)
}

func (s *sqliteStore) ClearExpiredCache(ctx context.Context) error {
	return s.exec(ctx, "DELETE FROM cache_items WHERE ? > timestamp + ttl_ns", time.Now().UnixNano())
}

func (s *sqliteStore) exec(ctx context.Context, query string, args ...any) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("%w: %v", ErrTxFailed, err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.pool.Close()
}
