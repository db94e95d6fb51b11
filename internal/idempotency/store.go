// Package idempotency records the first response to a keyed mutation so that
// client retries replay it instead of running the mutation again.
package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/devbridge/marketplace/internal/errors"
)

// Record states.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

// Record is the stored state of one idempotency key.
type Record struct {
	Key          string    `json:"key"`
	RequestHash  string    `json:"request_hash"`
	Status       string    `json:"status"`
	ResponseCode int       `json:"response_code,omitempty"`
	ResponseBody []byte    `json:"response_body,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store persists idempotency records.
type Store interface {
	// Get returns nil, nil when the key is unknown.
	Get(ctx context.Context, key string) (*Record, error)
	// Reserve claims key for a request. Conflict when the key already exists.
	Reserve(ctx context.Context, key, requestHash string, ttl time.Duration) error
	Complete(ctx context.Context, key string, code int, body []byte, ttl time.Duration) error
	// Release forgets a reservation so the client may retry.
	Release(ctx context.Context, key string) error
}

// --- Redis ------------------------------------------------------------------

// RedisStore keeps records as JSON strings with a TTL.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps a redis client. Keys are stored under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "idem:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Internal("idempotency lookup failed", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Internal("idempotency record corrupt", err)
	}
	return &rec, nil
}

func (s *RedisStore) Reserve(ctx context.Context, key, requestHash string, ttl time.Duration) error {
	rec := Record{Key: key, RequestHash: requestHash, Status: StatusPending, ExpiresAt: time.Now().UTC().Add(ttl)}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.prefix+key, raw, ttl).Result()
	if err != nil {
		return errors.Internal("idempotency reserve failed", err)
	}
	if !ok {
		return errors.Conflict("idempotency key already in use")
	}
	return nil
}

func (s *RedisStore) Complete(ctx context.Context, key string, code int, body []byte, ttl time.Duration) error {
	rec, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &Record{Key: key}
	}
	rec.Status = StatusCompleted
	rec.ResponseCode = code
	rec.ResponseBody = body
	rec.ExpiresAt = time.Now().UTC().Add(ttl)

	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, ttl).Err(); err != nil {
		return errors.Internal("idempotency complete failed", err)
	}
	return nil
}

func (s *RedisStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return errors.Internal("idempotency release failed", err)
	}
	return nil
}

// --- Memory -----------------------------------------------------------------

// MemoryStore is a process-local store for tests and single-node setups.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), now: time.Now}
}

func (s *MemoryStore) getLocked(key string) (Record, bool) {
	rec, ok := s.records[key]
	if ok && s.now().After(rec.ExpiresAt) {
		delete(s.records, key)
		return Record{}, false
	}
	return rec, ok
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.getLocked(key)
	if !ok {
		return nil, nil
	}
	rec.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return &rec, nil
}

func (s *MemoryStore) Reserve(_ context.Context, key, requestHash string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.getLocked(key); ok {
		return errors.Conflict("idempotency key already in use")
	}
	s.records[key] = Record{Key: key, RequestHash: requestHash, Status: StatusPending, ExpiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, code int, body []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, _ := s.getLocked(key)
	rec.Key = key
	rec.Status = StatusCompleted
	rec.ResponseCode = code
	rec.ResponseBody = append([]byte(nil), body...)
	rec.ExpiresAt = s.now().Add(ttl)
	s.records[key] = rec
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
