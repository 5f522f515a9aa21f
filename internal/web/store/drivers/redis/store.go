// Package redis keeps pending logins in Redis so several web instances can
// share them. Redis key expiry does the housekeeping.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/litcal/internal/web/domain"
	"github.com/aussiebroadwan/litcal/internal/web/store"
	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second

	DefaultKeyPrefix = "litcal:pending:"
)

type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Store struct {
	client    redis.UniversalClient
	keyPrefix string
}

var _ store.Store = (*Store)(nil)

// NewStore connects to Redis and checks the connection.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewStoreWithClient wraps an existing client. Tests use it with miniredis.
func NewStoreWithClient(client redis.UniversalClient, keyPrefix string) *Store {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &Store{client: client, keyPrefix: keyPrefix}
}

func (s *Store) PendingLogins() store.PendingLogins { return s }

// ApplyMigrations is a no-op; Redis has no schema.
func (s *Store) ApplyMigrations() error { return nil }

func (s *Store) Close() error { return s.client.Close() }

// Ping checks Redis connectivity (health check).
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// storedLogin is the JSON value kept under each key.
type storedLogin struct {
	Payload   []byte `json:"payload"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

func (s *Store) key(sessionID string) string { return s.keyPrefix + sessionID }

func (s *Store) SavePendingLogin(ctx context.Context, p domain.PendingLogin) error {
	ttl := p.ExpiresAt.Sub(p.CreatedAt)
	if ttl <= 0 {
		return fmt.Errorf("pending login %s already expired", p.SessionID)
	}

	data, err := json.Marshal(storedLogin{
		Payload:   p.Payload,
		CreatedAt: p.CreatedAt.UnixMilli(),
		ExpiresAt: p.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode pending login: %w", err)
	}

	return s.client.Set(ctx, s.key(p.SessionID), data, ttl).Err()
}

// TakePendingLogin uses GETDEL so two callbacks racing on one session see
// the record at most once between them.
func (s *Store) TakePendingLogin(ctx context.Context, sessionID string, now time.Time) (domain.PendingLogin, error) {
	data, err := s.client.GetDel(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PendingLogin{}, store.ErrNotFound
		}
		return domain.PendingLogin{}, fmt.Errorf("failed to take pending login: %w", err)
	}

	var stored storedLogin
	if err := json.Unmarshal(data, &stored); err != nil {
		return domain.PendingLogin{}, fmt.Errorf("failed to decode pending login: %w", err)
	}

	p := domain.PendingLogin{
		SessionID: sessionID,
		Payload:   stored.Payload,
		CreatedAt: time.UnixMilli(stored.CreatedAt).UTC(),
		ExpiresAt: time.UnixMilli(stored.ExpiresAt).UTC(),
	}
	if p.Expired(now) {
		return domain.PendingLogin{}, store.ErrNotFound
	}
	return p, nil
}

// DeleteExpiredPendingLogins has nothing to do: keys carry their own TTL.
func (s *Store) DeleteExpiredPendingLogins(context.Context, time.Time) (int64, error) {
	return 0, nil
}
