// Package session maps session ids to live task instances.
package session

import (
	"log"
	"strings"
	"sync"

	"github.com/edoventura/crossbar/internal/task"
)

// idSeparator never appears in chat ids, thread ids, or client names, so
// distinct triples always produce distinct session ids.
const idSeparator = "|"

// MakeID derives the deterministic session key for a conversation.
func MakeID(sender, thread, client string) string {
	return strings.Join([]string{
		strings.TrimSpace(sender),
		strings.TrimSpace(thread),
		strings.TrimSpace(client),
	}, idSeparator)
}

// Manager is the only state shared across concurrent inbound requests.
// It guards the map; single-writer-per-key discipline is the router's job.
type Manager struct {
	mu        sync.RWMutex
	instances map[string]*task.Instance
}

func NewManager() *Manager {
	return &Manager{instances: make(map[string]*task.Instance)}
}

// Create registers an instance under id. An existing instance under the
// same id is removed first; the conflict is logged, not an error.
func (m *Manager) Create(id string, inst *task.Instance) {
	m.mu.Lock()
	old, existed := m.instances[id]
	m.instances[id] = inst
	m.mu.Unlock()

	if existed {
		log.Printf("session %s: replacing live task %s", id, old.ID())
		old.Cancel()
	}
}

// Get returns the instance for id, if any.
func (m *Manager) Get(id string) (*task.Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

// Remove deletes the entry for id. Removing an absent id is a no-op.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, id)
}

// Len reports how many sessions are live.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.instances)
}
