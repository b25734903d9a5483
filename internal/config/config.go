package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates every tunable of the client and the relay.
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Transport TransportConfig
	Session   SessionConfig
	Cache     CacheConfig
	Store     StoreConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	transport, err := loadTransportConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	cache, err := loadCacheConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		AI:        ai,
		Transport: transport,
		Session:   session,
		Cache:     cache,
		Store:     store,
	}, nil
}

// ServerConfig describes the relay HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// Accept ":8080" or "127.0.0.1:8080" as-is.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// AIConfig describes the chat model behind the relay.
type AIConfig struct {
	APIKey           string
	AccessKey        string
	SecretKey        string
	Model            string
	BaseURL          string
	Region           string
	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	HistoryMaxTokens int
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials missing: provide ARK_API_KEY + Model or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	historyBudget := 2048
	if override, err := parseOptionalIntEnv("AI_HISTORY_MAX_TOKENS"); err != nil {
		return AIConfig{}, err
	} else if override != nil && *override > 0 {
		historyBudget = *override
	}

	return AIConfig{
		APIKey:           strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:        strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:        strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:            strings.TrimSpace(os.Getenv("Model")),
		BaseURL:          getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:           getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:      temperature,
		TopP:             topP,
		MaxTokens:        maxTokens,
		HistoryMaxTokens: historyBudget,
	}, nil
}

// TransportConfig describes the websocket link to the relay.
type TransportConfig struct {
	URL            string
	DialTimeout    time.Duration
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRetries     int
	ReconnectDelay time.Duration
	MaxReconnect   time.Duration
}

func loadTransportConfig() (TransportConfig, error) {
	retries := 5
	if override, err := parseOptionalIntEnv("WS_MAX_RETRIES"); err != nil {
		return TransportConfig{}, err
	} else if override != nil && *override > 0 {
		retries = *override
	}

	dialTimeout, err := parseDurationEnv("WS_DIAL_TIMEOUT", 10*time.Second)
	if err != nil {
		return TransportConfig{}, err
	}
	reconnectDelay, err := parseDurationEnv("WS_RECONNECT_DELAY", time.Second)
	if err != nil {
		return TransportConfig{}, err
	}
	maxReconnect, err := parseDurationEnv("WS_MAX_RECONNECT_DELAY", 30*time.Second)
	if err != nil {
		return TransportConfig{}, err
	}

	return TransportConfig{
		URL:            getEnvOrDefault("WS_URL", "ws://localhost:8080/ws"),
		DialTimeout:    dialTimeout,
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxRetries:     retries,
		ReconnectDelay: reconnectDelay,
		MaxReconnect:   maxReconnect,
	}, nil
}

// SessionConfig describes conversation session behavior.
type SessionConfig struct {
	ResponseTimeout time.Duration
	HistoryLimit    int
	CacheTTL        time.Duration
}

func loadSessionConfig() (SessionConfig, error) {
	timeout, err := parseDurationEnv("SESSION_RESPONSE_TIMEOUT", 60*time.Second)
	if err != nil {
		return SessionConfig{}, err
	}
	cacheTTL, err := parseDurationEnv("SESSION_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return SessionConfig{}, err
	}

	historyLimit := 50
	if override, err := parseOptionalIntEnv("SESSION_HISTORY_LIMIT"); err != nil {
		return SessionConfig{}, err
	} else if override != nil && *override > 0 {
		historyLimit = *override
	}

	return SessionConfig{
		ResponseTimeout: timeout,
		HistoryLimit:    historyLimit,
		CacheTTL:        cacheTTL,
	}, nil
}

// CacheConfig describes the in-memory cache tier.
type CacheConfig struct {
	DefaultTTL    time.Duration
	MaxEntries    int
	SweepInterval time.Duration
}

func loadCacheConfig() (CacheConfig, error) {
	defaultTTL, err := parseDurationEnv("CACHE_DEFAULT_TTL", 5*time.Minute)
	if err != nil {
		return CacheConfig{}, err
	}
	sweep, err := parseDurationEnv("CACHE_SWEEP_INTERVAL", time.Minute)
	if err != nil {
		return CacheConfig{}, err
	}

	maxEntries := 1024
	if override, err := parseOptionalIntEnv("CACHE_MAX_ENTRIES"); err != nil {
		return CacheConfig{}, err
	} else if override != nil && *override > 0 {
		maxEntries = *override
	}

	return CacheConfig{
		DefaultTTL:    defaultTTL,
		MaxEntries:    maxEntries,
		SweepInterval: sweep,
	}, nil
}

// StoreConfig describes the persistent storage tier.
type StoreConfig struct {
	Driver        string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PoolSize      int
}

func loadStoreConfig() (StoreConfig, error) {
	redisDB := 0
	if override, err := parseOptionalIntEnv("STORE_REDIS_DB"); err != nil {
		return StoreConfig{}, err
	} else if override != nil {
		redisDB = *override
	}

	poolSize := 4
	if override, err := parseOptionalIntEnv("STORE_POOL_SIZE"); err != nil {
		return StoreConfig{}, err
	} else if override != nil && *override > 0 {
		poolSize = *override
	}

	return StoreConfig{
		Driver:        strings.TrimSpace(os.Getenv("STORE_DRIVER")),
		SQLitePath:    getEnvOrDefault("STORE_SQLITE_PATH", "amora.db"),
		RedisAddr:     getEnvOrDefault("STORE_REDIS_ADDR", "localhost:6379"),
		RedisPassword: strings.TrimSpace(os.Getenv("STORE_REDIS_PASSWORD")),
		RedisDB:       redisDB,
		PoolSize:      poolSize,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
