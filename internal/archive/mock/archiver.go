package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/genrelay/internal/archive"
)

// MockArchiver records every Put.
type MockArchiver struct {
	PutFunc func(ctx context.Context, jobID, runID, localPath string) (string, error)

	mu   sync.Mutex
	Keys []string
}

func (m *MockArchiver) Put(ctx context.Context, jobID, runID, localPath string) (string, error) {
	key := archive.ObjectKey(jobID, runID, localPath)
	if m.PutFunc != nil {
		var err error
		if key, err = m.PutFunc(ctx, jobID, runID, localPath); err != nil {
			return "", err
		}
	}
	m.mu.Lock()
	m.Keys = append(m.Keys, key)
	m.mu.Unlock()
	return key, nil
}

// Stored returns a copy of the recorded keys.
func (m *MockArchiver) Stored() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Keys...)
}

var _ archive.Archiver = (*MockArchiver)(nil)
