package store

import (
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Driver selects a persistent store implementation.
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverSQLite Driver = "sqlite"
	DriverRedis  Driver = "redis"
)

// Config carries the driver selection and per-driver settings.
type Config struct {
	Driver Driver

	// SQLite settings.
	SQLitePath string
	PoolSize   int

	// Redis settings.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

// Open constructs the configured store.
func Open(cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverMemory, "":
		return NewMemoryStore(), nil

	case DriverSQLite:
		return NewSQLiteStore(cfg.SQLitePath, cfg.PoolSize)

	case DriverRedis:
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("%w: redis address is required", ErrInvalidConfig)
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisStore(client, cfg.RedisTTL)

	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, cfg.Driver)
	}
}
