package models

import (
	"path/filepath"
	"strings"
)

// ArtifactKind classifies a produced file.
type ArtifactKind string

const (
	KindImage  ArtifactKind = "image"
	KindMesh   ArtifactKind = "mesh"
	KindCamera ArtifactKind = "camera"
)

// Artifact is one file a run produced. It is derived from the compute
// service's output listing and is only persisted as part of a RunRecord.
type Artifact struct {
	Filename        string       `json:"filename"`
	Subfolder       string       `json:"subfolder,omitempty"`
	Type            string       `json:"type,omitempty"`
	Kind            ArtifactKind `json:"kind"`
	Extension       string       `json:"extension"`
	SourceNodeID    string       `json:"source_node_id"`
	SourceNodeClass string       `json:"source_node_class,omitempty"`
}

// IsLocal reports whether the artifact names an absolute local path rather
// than a file held by the compute service.
func (a Artifact) IsLocal() bool {
	return filepath.IsAbs(a.Filename) || strings.HasPrefix(a.Filename, "/")
}

// SeedRecord remembers the base value of one seed input before any offset.
type SeedRecord struct {
	NodeID string `json:"node_id"`
	Input  string `json:"input"`
	Base   int64  `json:"base"`
}
