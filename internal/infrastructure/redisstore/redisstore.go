// Package redisstore implements devicecore's repository.ConfigStore
// against Redis, grounded on the teacher's connection-pooled Redis
// client (internal/infrastructure/persistence/redis) but trimmed to the
// single Load/Save contract the core needs.
package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/edgeweave/devicecore/internal/domain/repository"
	"github.com/edgeweave/devicecore/pkg/errors"
	"github.com/edgeweave/devicecore/pkg/logger"
)

// Config mirrors the standalone subset of the teacher's redis.Config.
type Config struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store is a Redis-backed ConfigStore. Keys are namespaced under
// "devicecore:" so the settings and blacklist blobs don't collide with
// other consumers of the same Redis instance.
type Store struct {
	client *redis.Client
	log    logger.Logger
}

const keyPrefix = "devicecore:"

// New dials Redis eagerly (matching the teacher's connection-manager
// pattern of failing fast at construction rather than on first use).
func New(cfg Config, log logger.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  orDefault(cfg.DialTimeout, 5*time.Second),
		ReadTimeout:  orDefault(cfg.ReadTimeout, 3*time.Second),
		WriteTimeout: orDefault(cfg.WriteTimeout, 3*time.Second),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, errors.NetworkError, "connecting to redis")
	}
	return &Store{client: client, log: log}, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return d
}

func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	raw, err := s.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.NetworkError, "loading from redis")
	}
	return raw, nil
}

func (s *Store) Save(ctx context.Context, key string, value []byte, done repository.DoneFunc) {
	err := s.client.Set(ctx, keyPrefix+key, value, 0).Err()
	if err != nil {
		s.log.Error("redis save failed", err, logger.String("key", key))
	}
	if done != nil {
		done(err)
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.client.Close() }
