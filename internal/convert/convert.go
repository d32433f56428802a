// Package convert turns authoring graphs into execution graphs.
package convert

import (
	"context"
	"errors"
	"fmt"

	"github.com/kiranshivaraju/genrelay/internal/config"
	"github.com/kiranshivaraju/genrelay/pkg/models"
)

var (
	ErrServicePathUnset = errors.New("compute service path is not configured")
	ErrConversionFailed = errors.New("workflow conversion failed")
	ErrMalformedGraph   = errors.New("converter produced a malformed graph")
)

// NewConverter constructs the converter selected by cfg.Mode.
// Called once at server startup.
func NewConverter(cfg config.ConverterConfig, tempRoot string) (models.Converter, error) {
	switch cfg.Mode {
	case "external":
		return NewExternalConverter(cfg, tempRoot), nil
	case "passthrough":
		return PassthroughConverter{}, nil
	default:
		return nil, fmt.Errorf("unknown converter mode %q: must be one of external, passthrough", cfg.Mode)
	}
}

// ToExecution returns the execution form of g. A graph that is already in
// execution form is returned as a copy without invoking c; converted reports
// whether c ran.
func ToExecution(ctx context.Context, c models.Converter, g *models.AuthoringGraph, servicePath string) (graph models.ExecutionGraph, converted bool, err error) {
	if g == nil {
		return nil, false, fmt.Errorf("%w: no workflow data", ErrMalformedGraph)
	}
	if models.LooksLikeExecutionGraph(g.Doc) {
		graph, err := models.ExecutionGraphFromDoc(g.Doc)
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrMalformedGraph, err)
		}
		return graph, false, nil
	}

	graph, err = c.Convert(ctx, g, servicePath)
	if err != nil {
		return nil, true, err
	}
	return FlattenSetGet(g, graph), true, nil
}

// PassthroughConverter accepts only graphs already in execution form. It is
// used when no conversion toolchain is installed next to the server.
type PassthroughConverter struct{}

func (PassthroughConverter) Name() string { return "passthrough" }

func (PassthroughConverter) Convert(_ context.Context, g *models.AuthoringGraph, _ string) (models.ExecutionGraph, error) {
	if g == nil || !models.LooksLikeExecutionGraph(g.Doc) {
		return nil, fmt.Errorf("%w: graph is in authoring form and no converter is configured", ErrConversionFailed)
	}
	graph, err := models.ExecutionGraphFromDoc(g.Doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedGraph, err)
	}
	return graph, nil
}
