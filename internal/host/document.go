// Package host models the artist host's document: a set of typed nodes, each
// carrying string attributes, plus the single privileged thread on which the
// host allows document mutation.
package host

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrNodeNotFound is returned when a node handle does not exist in the document.
var ErrNodeNotFound = errors.New("node not found")

// Document is the host graph store. Attribute values are opaque strings;
// structured values are stored as JSON.
type Document interface {
	CreateNode(ctx context.Context, nodeType string) (string, error)
	NodeType(ctx context.Context, id string) (string, error)
	GetAttribute(ctx context.Context, id, key string) (string, bool, error)
	SetAttribute(ctx context.Context, id, key, value string) error
	Attributes(ctx context.Context, id string) (map[string]string, error)
	ListNodes(ctx context.Context, nodeType string) ([]string, error)
	Ping(ctx context.Context) error
}

// MemoryDocument is an in-process Document. It backs tests and hosts that keep
// their own persistence.
type MemoryDocument struct {
	mu    sync.RWMutex
	nodes map[string]*memoryNode
	order []string
}

type memoryNode struct {
	nodeType string
	attrs    map[string]string
}

// NewMemoryDocument returns an empty document.
func NewMemoryDocument() *MemoryDocument {
	return &MemoryDocument{nodes: make(map[string]*memoryNode)}
}

func (d *MemoryDocument) CreateNode(_ context.Context, nodeType string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := uuid.NewString()
	d.nodes[id] = &memoryNode{nodeType: nodeType, attrs: make(map[string]string)}
	d.order = append(d.order, id)
	return id, nil
}

func (d *MemoryDocument) NodeType(_ context.Context, id string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	if !ok {
		return "", ErrNodeNotFound
	}
	return n.nodeType, nil
}

func (d *MemoryDocument) GetAttribute(_ context.Context, id, key string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	if !ok {
		return "", false, ErrNodeNotFound
	}
	v, ok := n.attrs[key]
	return v, ok, nil
}

func (d *MemoryDocument) SetAttribute(_ context.Context, id, key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[id]
	if !ok {
		return ErrNodeNotFound
	}
	n.attrs[key] = value
	return nil
}

func (d *MemoryDocument) Attributes(_ context.Context, id string) (map[string]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	if !ok {
		return nil, ErrNodeNotFound
	}
	out := make(map[string]string, len(n.attrs))
	for k, v := range n.attrs {
		out[k] = v
	}
	return out, nil
}

// ListNodes returns node ids of the given type in creation order. An empty
// nodeType lists every node.
func (d *MemoryDocument) ListNodes(_ context.Context, nodeType string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var ids []string
	for _, id := range d.order {
		if nodeType == "" || d.nodes[id].nodeType == nodeType {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (d *MemoryDocument) Ping(_ context.Context) error { return nil }

var _ Document = (*MemoryDocument)(nil)
