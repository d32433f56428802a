package mock

import (
	"context"
	"sync/atomic"

	"github.com/kiranshivaraju/genrelay/pkg/models"
)

// MockConverter satisfies models.Converter for testing and counts calls.
type MockConverter struct {
	Name_       string
	ConvertFunc func(ctx context.Context, g *models.AuthoringGraph, servicePath string) (models.ExecutionGraph, error)

	calls atomic.Int64
}

func (m *MockConverter) Name() string { return m.Name_ }

func (m *MockConverter) Convert(ctx context.Context, g *models.AuthoringGraph, servicePath string) (models.ExecutionGraph, error) {
	m.calls.Add(1)
	if m.ConvertFunc != nil {
		return m.ConvertFunc(ctx, g, servicePath)
	}
	return models.ExecutionGraph{}, nil
}

// Calls returns how many times Convert ran.
func (m *MockConverter) Calls() int64 { return m.calls.Load() }

// NewStaticConverter returns a MockConverter that always yields a clone of g.
func NewStaticConverter(g models.ExecutionGraph) *MockConverter {
	return &MockConverter{
		Name_: "mock",
		ConvertFunc: func(context.Context, *models.AuthoringGraph, string) (models.ExecutionGraph, error) {
			return g.Clone(), nil
		},
	}
}

// NewFailingConverter returns a MockConverter that always returns err.
func NewFailingConverter(err error) *MockConverter {
	return &MockConverter{
		Name_: "mock",
		ConvertFunc: func(context.Context, *models.AuthoringGraph, string) (models.ExecutionGraph, error) {
			return nil, err
		},
	}
}

var _ models.Converter = (*MockConverter)(nil)
