// SPDX-License-Identifier: BSD-3-Clause

package assets

import (
	"context"
	"sync"
)

// MemIndex is an in-memory Index, useful as a test double for pkg/httpapi
// and as a reference implementation for deployments with no asset
// directories to scan.
type MemIndex struct {
	mu      sync.RWMutex
	entries map[Kind]map[string]Entry
}

// NewMemIndex builds an empty MemIndex.
func NewMemIndex() *MemIndex {
	return &MemIndex{entries: make(map[Kind]map[string]Entry)}
}

// Put registers or replaces an entry.
func (m *MemIndex) Put(kind Kind, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries[kind] == nil {
		m.entries[kind] = make(map[string]Entry)
	}
	m.entries[kind][e.Name] = e
}

// List implements Index.
func (m *MemIndex) List(ctx context.Context, kind Kind) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.entries[kind]))
	for _, e := range m.entries[kind] {
		out = append(out, e)
	}
	return out, nil
}

// Resolve implements Index.
func (m *MemIndex) Resolve(ctx context.Context, kind Kind, name string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[kind][name]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// Write implements Writer; the entry's path is just its name since there
// is no backing filesystem.
func (m *MemIndex) Write(ctx context.Context, kind Kind, name string, data []byte) (Entry, error) {
	e := Entry{Name: name, Path: name, Checksum: checksumOf(data)}
	m.Put(kind, e)
	return e, nil
}

// Recalculate implements Recalculator as a read-back of the current
// entries: in-memory content never drifts from its checksum.
func (m *MemIndex) Recalculate(ctx context.Context, kind Kind) ([]Entry, error) {
	return m.List(ctx, kind)
}
