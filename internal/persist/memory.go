package persist

import (
	"context"
	"sync"

	"github.com/vyuha/server/internal/world"
)

// MemoryBackend keeps the document as encoded JSON in process, so callers
// never share pointers with the stored copy.
type MemoryBackend struct {
	mu      sync.Mutex
	doc     []byte
	version uint64
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Load(_ context.Context) (*world.State, error) {
	m.mu.Lock()
	doc := m.doc
	m.mu.Unlock()
	if doc == nil {
		return nil, ErrNoState
	}
	return decodeState(doc)
}

func (m *MemoryBackend) Save(_ context.Context, s *world.State) error {
	b, err := encodeState(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.doc, m.version = b, s.Version
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) SaveIf(_ context.Context, s *world.State, expected uint64) error {
	b, err := encodeState(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.version != expected || (m.doc == nil) != (expected == 0) {
		return ErrConflict
	}
	m.doc, m.version = b, s.Version
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
