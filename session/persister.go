package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNoSnapshot is returned by Load when nothing is persisted.
	ErrNoSnapshot = errors.New("no persisted session")
	// ErrRedisUnavailable wraps Redis transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

// Persister stores one session snapshot under a fixed key.
type Persister interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, s *Snapshot) error
	Clear(ctx context.Context) error
}

// RedisPersister keeps the snapshot in a single Redis string.
type RedisPersister struct {
	redis redis.UniversalClient
	key   string
	ttl   time.Duration
}

// NewRedisPersister stores the snapshot at prefix + ":" + key. A ttl of zero
// keeps it until cleared.
func NewRedisPersister(client redis.UniversalClient, prefix, key string, ttl time.Duration) *RedisPersister {
	if prefix == "" {
		prefix = "govauth:session"
	}
	return &RedisPersister{redis: client, key: prefix + ":" + key, ttl: ttl}
}

// Key returns the Redis key in use.
func (p *RedisPersister) Key() string {
	return p.key
}

// Load reads and decodes the snapshot. A corrupt blob is deleted and
// reported as ErrSnapshotCorrupt.
func (p *RedisPersister) Load(ctx context.Context) (*Snapshot, error) {
	data, err := p.redis.Get(ctx, p.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	snap, err := Decode(data)
	if err != nil {
		if derr := p.redis.Del(ctx, p.key).Err(); derr != nil {
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, derr)
		}
		return nil, err
	}
	return snap, nil
}

// Save writes the snapshot, replacing any previous one.
func (p *RedisPersister) Save(ctx context.Context, s *Snapshot) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	if err := p.redis.Set(ctx, p.key, data, p.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Clear deletes the snapshot. Clearing an absent snapshot is not an error.
func (p *RedisPersister) Clear(ctx context.Context) error {
	if err := p.redis.Del(ctx, p.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// MemoryPersister keeps the encoded snapshot in process memory.
type MemoryPersister struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryPersister returns an empty in-memory persister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{}
}

func (p *MemoryPersister) Load(context.Context) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.data == nil {
		return nil, ErrNoSnapshot
	}
	return Decode(p.data)
}

func (p *MemoryPersister) Save(_ context.Context, s *Snapshot) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.data = data
	p.mu.Unlock()
	return nil
}

func (p *MemoryPersister) Clear(context.Context) error {
	p.mu.Lock()
	p.data = nil
	p.mu.Unlock()
	return nil
}
