package session

import "sync"

// Table is the shared, process-wide registry of live sessions. Its lock
// is a plain sync.RWMutex rather than a recursive mutex: nothing that
// holds the table lock ever re-enters it, since log broadcast only takes
// a session's own FIFO lock after releasing the table lock.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]*Session)}
}

// Register adds s to the table.
func (t *Table) Register(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[s.ID()] = s
}

// Deregister removes s from the table. Safe to call more than once.
func (t *Table) Deregister(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, s.ID())
}

// Snapshot returns every currently registered session. The returned
// slice is safe to range over without holding any lock.
func (t *Table) Snapshot() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
