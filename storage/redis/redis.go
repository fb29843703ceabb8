// Package redis is a CredentialStorage backed by Redis, for server side
// sessions shared by several portal instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	auth "github.com/Hopin-inc/civicship-portal-sub002"
	"github.com/redis/go-redis/v9"
)

var _ auth.CredentialStorage = (*Storage)(nil)

// DefaultPrefix namespaces every key written by Storage.
const DefaultPrefix = "civicship:auth:"

// Storage keeps credentials under prefix+namespace+key.
type Storage struct {
	client    redis.UniversalClient
	prefix    string
	namespace string
}

// New wraps an existing client.
func New(client redis.UniversalClient, prefix string) *Storage {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Storage{client: client, prefix: prefix}
}

// Connect dials addr and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int, prefix string) (*Storage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, auth.Classify(auth.KindConfiguration, "storage.redis.connect", fmt.Errorf("failed to connect to redis: %w", err), map[string]any{"addr": addr})
	}

	return New(client, prefix), nil
}

// Session returns a view of the storage scoped to one browser session.
func (s *Storage) Session(sessionID string) *Storage {
	cp := *s
	cp.namespace = sessionID + ":"
	return &cp
}

// Close releases the client.
func (s *Storage) Close() error {
	return s.client.Close()
}

func (s *Storage) key(key string) string {
	return s.prefix + s.namespace + key
}

func (s *Storage) Load(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, auth.ErrNotStored
		}
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	return data, nil
}

func (s *Storage) Store(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}
	return nil
}
