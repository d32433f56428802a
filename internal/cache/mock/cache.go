package mock

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/kiranshivaraju/genrelay/internal/cache"
)

// MemoryCache satisfies cache.Cache with an in-process map. TTLs are
// honoured lazily on read. Set Err to make every call fail.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]entry
	Err     error
}

type entry struct {
	value   []byte
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]entry)}
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.put(key, value, ttl)
	return nil
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, false, m.Err
	}
	e, ok := m.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	delete(m.entries, key)
	return nil
}

func (m *MemoryCache) Ping(_ context.Context) error { return m.Err }

func (m *MemoryCache) SetJobStatus(ctx context.Context, jobID string, status string, ttl time.Duration) error {
	return m.Set(ctx, cache.JobStatusKey(jobID), []byte(status), ttl)
}

func (m *MemoryCache) GetJobStatus(ctx context.Context, jobID string) (string, bool, error) {
	v, ok, err := m.Get(ctx, cache.JobStatusKey(jobID))
	return string(v), ok, err
}

func (m *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var n int64
	if e, ok := m.lookup(key); ok {
		n = int64(len(e.value))
	}
	n++
	m.put(key, make([]byte, n), expiry)
	return n, nil
}

func (m *MemoryCache) SetIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.put(key, value, ttl)
	return true, nil
}

func (m *MemoryCache) DeleteIfValue(_ context.Context, key string, value []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	e, ok := m.lookup(key)
	if !ok || !bytes.Equal(e.value, value) {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *MemoryCache) put(key string, value []byte, ttl time.Duration) {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	m.entries[key] = e
}

func (m *MemoryCache) lookup(key string) (entry, bool) {
	e, ok := m.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(m.entries, key)
		return entry{}, false
	}
	return e, true
}

var _ cache.Cache = (*MemoryCache)(nil)
