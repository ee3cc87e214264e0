// Package session implements the Redis-backed PHP session store referenced
// as an out-of-scope collaborator in §1/§6 ("Redis session storage"),
// adapted from original_source/src/redis_session/mod.rs onto go-redis/v9
// the way the teacher's connectors/redis/redisservice.go builds and checks
// its client, generalized from a generic command proxy to a typed
// key-value store with a prefix and TTL per config.SessionConfig.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Data is the default session payload shape, mirroring the original's
// SessionData: a PHP session's user identity plus an opaque data blob.
type Data struct {
	UserID       string          `json:"user_id,omitempty"`
	CreatedAt    int64           `json:"created_at"`
	LastAccessed int64           `json:"last_accessed"`
	Attributes   json.RawMessage `json:"data,omitempty"`
}

// NewData builds a fresh Data stamped with the current time.
func NewData() Data {
	now := time.Now().Unix()
	return Data{CreatedAt: now, LastAccessed: now}
}

// Touch refreshes LastAccessed to now.
func (d *Data) Touch() {
	d.LastAccessed = time.Now().Unix()
}

// Store is a Redis-backed session store: every key is prefixed and
// carries a TTL refreshed on write, per config.SessionConfig.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewStore dials address/db with the given credentials; Redis connections
// are lazy in go-redis, so this never blocks on the network — the first
// real operation surfaces any connectivity error.
func NewStore(address, username, password string, db int, prefix string, ttl time.Duration) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Username: username,
		Password: password,
		DB:       db,
	})
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

// Set stores data under sessionID with the store's default TTL.
func (s *Store) Set(ctx context.Context, sessionID string, data Data) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("serializing session data: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing session %s in redis: %w", sessionID, err)
	}
	return nil
}

// Get retrieves sessionID's data; ok is false when the key doesn't exist.
func (s *Store) Get(ctx context.Context, sessionID string) (data Data, ok bool, err error) {
	val, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err == redis.Nil {
		return Data{}, false, nil
	}
	if err != nil {
		return Data{}, false, fmt.Errorf("fetching session %s from redis: %w", sessionID, err)
	}
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		return Data{}, false, fmt.Errorf("deserializing session %s: %w", sessionID, err)
	}
	return data, true, nil
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("deleting session %s from redis: %w", sessionID, err)
	}
	return nil
}

// Exists reports whether sessionID currently has a stored session.
func (s *Store) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking session %s in redis: %w", sessionID, err)
	}
	return n > 0, nil
}

// Refresh extends sessionID's TTL to the store's default without rewriting
// its value, the way a PHP session handler bumps expiry on every request.
func (s *Store) Refresh(ctx context.Context, sessionID string) error {
	if err := s.client.Expire(ctx, s.key(sessionID), s.ttl).Err(); err != nil {
		return fmt.Errorf("refreshing session %s ttl in redis: %w", sessionID, err)
	}
	return nil
}

// Ping verifies connectivity. The server's /_health endpoint does not call
// it; it checks the routed backends only.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Close releases the underlying client's connections.
func (s *Store) Close() error {
	return s.client.Close()
}
