package salesforce

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnknownState is returned when a state has no stored verifier, either
// because it was never issued, already used or expired.
var ErrUnknownState = errors.New("salesforce: unknown or expired oauth state")

// VerifierStore keeps PKCE verifiers between Connect and Callback.
type VerifierStore interface {
	Put(ctx context.Context, state, verifier string, ttl time.Duration) error
	// Take returns and removes the verifier for state.
	Take(ctx context.Context, state string) (string, error)
}

type verifierEntry struct {
	verifier string
	expires  time.Time
}

// MemoryVerifierStore is a process-local VerifierStore. Expired entries are
// swept on every access.
type MemoryVerifierStore struct {
	mu      sync.Mutex
	entries map[string]verifierEntry
	now     func() time.Time
}

func NewMemoryVerifierStore() *MemoryVerifierStore {
	return &MemoryVerifierStore{entries: map[string]verifierEntry{}, now: time.Now}
}

func (s *MemoryVerifierStore) Put(_ context.Context, state, verifier string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweep(now)
	s.entries[state] = verifierEntry{verifier: verifier, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryVerifierStore) Take(_ context.Context, state string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.now())
	e, ok := s.entries[state]
	if !ok {
		return "", ErrUnknownState
	}
	delete(s.entries, state)
	return e.verifier, nil
}

// Len reports the number of live entries.
func (s *MemoryVerifierStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.now())
	return len(s.entries)
}

func (s *MemoryVerifierStore) sweep(now time.Time) {
	for k, e := range s.entries {
		if !e.expires.After(now) {
			delete(s.entries, k)
		}
	}
}

// RedisVerifierStore shares verifiers across instances.
type RedisVerifierStore struct {
	client redis.Cmdable
	prefix string
}

func NewRedisVerifierStore(client redis.Cmdable) *RedisVerifierStore {
	return &RedisVerifierStore{client: client, prefix: "trustcenter:sf:pkce:"}
}

func (s *RedisVerifierStore) Put(ctx context.Context, state, verifier string, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+state, verifier, ttl).Err()
}

func (s *RedisVerifierStore) Take(ctx context.Context, state string) (string, error) {
	v, err := s.client.GetDel(ctx, s.prefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrUnknownState
	}
	return v, err
}
