package mock

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/genrelay/internal/host"
	"github.com/kiranshivaraju/genrelay/internal/store"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// MockStore satisfies store.Store with an in-memory document and key table.
// Set Err to make every key operation fail.
type MockStore struct {
	*host.MemoryDocument

	mu       sync.Mutex
	keys     map[uuid.UUID]*models.APIKey
	lastUsed []uuid.UUID
	Err      error
}

func NewMockStore(keys ...*models.APIKey) *MockStore {
	m := &MockStore{MemoryDocument: host.NewMemoryDocument(), keys: make(map[uuid.UUID]*models.APIKey)}
	for _, k := range keys {
		m.keys[k.ID] = k
	}
	return m
}

func (m *MockStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *MockStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUsed = append(m.lastUsed, id)
	return m.Err
}

func (m *MockStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.keys[key.ID]; ok {
		return store.ErrDuplicateKey
	}
	m.keys[key.ID] = key
	return nil
}

func (m *MockStore) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]*models.APIKey, 0, len(m.keys))
	for _, k := range m.keys {
		if k.DeletedAt == nil {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MockStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	k, ok := m.keys[id]
	if !ok || k.DeletedAt != nil {
		return store.ErrNotFound
	}
	delete(m.keys, id)
	return nil
}

// LastUsed returns the ids passed to UpdateAPIKeyLastUsed.
func (m *MockStore) LastUsed() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.lastUsed...)
}

// Compile-time check that MockStore implements store.Store.
var _ store.Store = (*MockStore)(nil)
