package models

import "context"

// Converter turns an authoring graph into an execution graph.
// Callers receive a Converter; they never construct a specific one.
type Converter interface {
	// Convert returns the execution form of g. servicePath is the compute
	// service installation the converter introspects for node definitions.
	Convert(ctx context.Context, g *AuthoringGraph, servicePath string) (ExecutionGraph, error)
	// Name returns the converter identifier (e.g., "external", "passthrough").
	Name() string
}
