package reauth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"ticketing-settlement/pkg/rediskey"

	"github.com/redis/go-redis/v9"
)

// TokenStore keeps outstanding grants. Take removes the grant atomically so
// two callers can never both consume it.
type TokenStore interface {
	Save(ctx context.Context, grant Grant, ttl time.Duration) error
	Take(ctx context.Context, token string) (*Grant, error)
}

type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Save(ctx context.Context, grant Grant, ttl time.Duration) error {
	b, err := json.Marshal(grant)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, rediskey.BuildReauthKey(grant.Token), b, ttl).Err()
}

func (s *RedisStore) Take(ctx context.Context, token string) (*Grant, error) {
	raw, err := s.rdb.GetDel(ctx, rediskey.BuildReauthKey(token)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var g Grant
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	g.Token = token
	return &g, nil
}

type memoryEntry struct {
	grant   Grant
	expires time.Time
}

type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryStore) Save(ctx context.Context, grant Grant, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked()
	s.entries[grant.Token] = memoryEntry{grant: grant, expires: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Take(ctx context.Context, token string) (*Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[token]
	if !ok {
		return nil, nil
	}
	delete(s.entries, token)

	if !s.now().Before(e.expires) {
		return nil, nil
	}
	g := e.grant
	return &g, nil
}

func (s *MemoryStore) evictLocked() {
	now := s.now()
	for token, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, token)
		}
	}
}
