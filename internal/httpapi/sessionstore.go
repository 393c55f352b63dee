package httpapi

import (
	"sync"

	"github.com/paperwatch/traceline/internal/domain"
)

// MemoryHiddenStore is the default triage.HiddenStore: per-session
// dismissed-traceback sets held in process memory. Session persistence and
// login are external collaborators (spec.md §2); this only satisfies the
// read/write shape TriageAPI needs from whatever backs a session.
type MemoryHiddenStore struct {
	mu   sync.Mutex
	sets map[string]*domain.HiddenTracebackSet
}

func NewMemoryHiddenStore() *MemoryHiddenStore {
	return &MemoryHiddenStore{sets: make(map[string]*domain.HiddenTracebackSet)}
}

func (m *MemoryHiddenStore) Get(sessionID string) *domain.HiddenTracebackSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets[sessionID]
}

func (m *MemoryHiddenStore) Put(sessionID string, set *domain.HiddenTracebackSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets[sessionID] = set
}
