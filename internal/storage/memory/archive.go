package memory

import (
	"context"
	"fmt"
	"sync"
)

// Archive keeps raw HTML snapshots in memory, keyed by path.
type Archive struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewArchive constructs an empty Archive.
func NewArchive() *Archive {
	return &Archive{objects: make(map[string][]byte)}
}

// Put stores the data and returns a mem:// URI.
func (a *Archive) Put(_ context.Context, path string, _ string, data []byte) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[path] = append([]byte(nil), data...)
	return "mem://" + path, nil
}

// Get returns a stored object; used by tests and exporters.
func (a *Archive) Get(path string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	data, ok := a.objects[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}
