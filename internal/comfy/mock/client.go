package mock

import (
	"context"
	"os"
	"path/filepath"

	"github.com/kiranshivaraju/genrelay/internal/comfy"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// MockClient satisfies comfy.Client for testing.
type MockClient struct {
	SubmitFunc      func(ctx context.Context, g models.ExecutionGraph) (string, error)
	PollHistoryFunc func(ctx context.Context, promptID string) (*comfy.HistoryEntry, error)
	FullHistoryFunc func(ctx context.Context, maxItems int) ([]comfy.HistoryEntry, error)
	ProgressFunc    func(ctx context.Context, promptID string) (float64, error)
	UploadFunc      func(ctx context.Context, localPath string) (string, error)
	DownloadFunc    func(ctx context.Context, ref comfy.FileRef, localPath string) error
	ReadyFunc       func(ctx context.Context) error
}

func (m *MockClient) Submit(ctx context.Context, g models.ExecutionGraph) (string, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, g)
	}
	return "prompt-1", nil
}

func (m *MockClient) PollHistory(ctx context.Context, promptID string) (*comfy.HistoryEntry, error) {
	if m.PollHistoryFunc != nil {
		return m.PollHistoryFunc(ctx, promptID)
	}
	return nil, nil
}

func (m *MockClient) FullHistory(ctx context.Context, maxItems int) ([]comfy.HistoryEntry, error) {
	if m.FullHistoryFunc != nil {
		return m.FullHistoryFunc(ctx, maxItems)
	}
	return nil, nil
}

func (m *MockClient) Progress(ctx context.Context, promptID string) (float64, error) {
	if m.ProgressFunc != nil {
		return m.ProgressFunc(ctx, promptID)
	}
	return 0, nil
}

func (m *MockClient) Upload(ctx context.Context, localPath string) (string, error) {
	if m.UploadFunc != nil {
		return m.UploadFunc(ctx, localPath)
	}
	return filepath.Base(localPath), nil
}

// Download writes a placeholder file at localPath unless DownloadFunc is set.
func (m *MockClient) Download(ctx context.Context, ref comfy.FileRef, localPath string) error {
	if m.DownloadFunc != nil {
		return m.DownloadFunc(ctx, ref, localPath)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, []byte(ref.Filename), 0o644)
}

func (m *MockClient) Ready(ctx context.Context) error {
	if m.ReadyFunc != nil {
		return m.ReadyFunc(ctx)
	}
	return nil
}

// SuccessEntry builds a completed history entry whose single output node
// produced the given image filenames.
func SuccessEntry(promptID, nodeID string, filenames ...string) *comfy.HistoryEntry {
	images := make([]any, 0, len(filenames))
	for _, f := range filenames {
		images = append(images, map[string]any{"filename": f, "subfolder": "", "type": "output"})
	}
	return &comfy.HistoryEntry{
		PromptID: promptID,
		Status:   comfy.RunStatus{StatusStr: comfy.StatusSuccess, Completed: true},
		Outputs:  map[string]map[string]any{nodeID: {"images": images}},
	}
}

// Compile-time check that MockClient implements comfy.Client.
var _ comfy.Client = (*MockClient)(nil)
