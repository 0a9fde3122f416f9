package validation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/AlsinafiAziz/metricpal-kiro/internal/config"
)

var (
	ErrInvalidAPIKey = errors.New("invalid API key")
	ErrCacheMiss     = errors.New("cache miss")
)

// Workspace is the tenant an API key belongs to.
type Workspace struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	APIKey string `json:"api_key"`
}

// WorkspaceStore resolves API keys. It returns ErrInvalidAPIKey for unknown keys.
type WorkspaceStore interface {
	WorkspaceByAPIKey(ctx context.Context, apiKey string) (*Workspace, error)
}

// Cache holds resolved workspaces and rate-limit counters.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Incr bumps key and starts its expiry window on the first hit.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type Validator struct {
	store     WorkspaceStore
	cache     Cache
	cacheTTL  time.Duration
	rateLimit int
	closers   []func()
}

func NewValidator(cfg *config.Config) (*Validator, error) {
	db, err := pgxpool.New(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	v := New(&PostgresStore{db: db}, &RedisCache{client: rdb}, cfg.Auth.KeyCacheTTL, cfg.RateLimit.RequestsPerSecond)
	v.closers = []func(){db.Close, func() { rdb.Close() }}
	return v, nil
}

// New builds a Validator over explicit dependencies. A nil cache disables
// caching and rate limiting.
func New(store WorkspaceStore, cache Cache, cacheTTL time.Duration, requestsPerSecond int) *Validator {
	return &Validator{
		store:     store,
		cache:     cache,
		cacheTTL:  cacheTTL,
		rateLimit: requestsPerSecond,
	}
}

func cacheKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "apikey:" + hex.EncodeToString(sum[:])
}

// Authenticate resolves apiKey to its workspace, consulting the cache first.
func (v *Validator) Authenticate(ctx context.Context, apiKey string) (*Workspace, error) {
	if apiKey == "" {
		return nil, ErrInvalidAPIKey
	}

	key := cacheKey(apiKey)
	if v.cache != nil {
		if raw, err := v.cache.Get(ctx, key); err == nil {
			var ws Workspace
			if err := json.Unmarshal([]byte(raw), &ws); err == nil {
				return &ws, nil
			}
		}
	}

	ws, err := v.store.WorkspaceByAPIKey(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	if v.cache != nil {
		data, _ := json.Marshal(ws)
		if err := v.cache.Set(ctx, key, string(data), v.cacheTTL); err != nil {
			log.Warn().Err(err).Str("workspace_id", ws.ID).Msg("Failed to cache workspace")
		}
	}

	return ws, nil
}

// CheckRateLimit reports whether the workspace is still under its per-second
// budget. Counter failures allow the request.
func (v *Validator) CheckRateLimit(ctx context.Context, workspaceID string) bool {
	if v.cache == nil || v.rateLimit <= 0 {
		return true
	}

	count, err := v.cache.Incr(ctx, "ratelimit:"+workspaceID, time.Second)
	if err != nil {
		log.Warn().Err(err).Str("workspace_id", workspaceID).Msg("Rate limit check failed")
		return true
	}

	return count <= int64(v.rateLimit)
}

func (v *Validator) Close() {
	for _, c := range v.closers {
		c()
	}
}

// PostgresStore reads the workspaces table.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WorkspaceByAPIKey(ctx context.Context, apiKey string) (*Workspace, error) {
	var ws Workspace
	err := s.db.QueryRow(ctx, `
		SELECT id::text, name, api_key FROM workspaces
		WHERE api_key = $1
	`, apiKey).Scan(&ws.ID, &ws.Name, &ws.APIKey)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, fmt.Errorf("query workspace: %w", err)
	}

	return &ws, nil
}

// RedisCache implements Cache on a redis client.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	return val, err
}

func (c *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}

	if count == 1 {
		c.client.Expire(ctx, key, window)
	}

	return count, nil
}
