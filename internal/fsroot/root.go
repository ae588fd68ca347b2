// Package fsroot owns the per-root in-memory state: the watched file
// table, the logical clock and cursor registry, and the fsnotify-backed
// event pump that advances a root's clock as the tree changes.
//
// This package plays the "root resolver" collaborator role: it is
// consumed by internal/dispatch through narrow interfaces, but it is a
// real, working implementation rather than a stub, so the server is
// actually usable end to end.
package fsroot

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pathwatch/pathwatch/internal/clock"
)

// FileRecord is the in-memory record for one file known to a root.
type FileRecord struct {
	Name   string // path relative to the root
	Exists bool

	Size  int64
	Mode  uint32
	Uid   uint32
	Gid   uint32
	Mtime time.Time
	Ctime time.Time
	Ino   uint64
	Dev   uint64
	Nlink uint32

	// OTicks/CTicks are the tick values at which this record was first
	// observed (OTicks) and last changed (CTicks).
	OTicks clock.Ticks
	CTicks clock.Ticks
}

// Subscriber is the narrow interface fsroot needs from a live session's
// subscription in order to fan out notifications — see internal/subscribe,
// which implements it. Kept here (rather than importing internal/session)
// to avoid a package cycle: subscribe depends on fsroot, not vice versa.
type Subscriber interface {
	// Notify is called after the root's lock has been released whenever
	// this subscription's owning root advances, with the tick range
	// (last, current] to evaluate. Implementations may call Root methods
	// that take the lock (FilesSince, ClockID) and own their own
	// enqueue/wake plumbing.
	Notify(root *Root, last, current clock.Ticks)
}

// Root is one watched directory tree: its path, its file table, its
// logical clock, its cursor table, and its subscriptions.
type Root struct {
	Path string

	mu      sync.Mutex // the "root lock": guards everything below
	ticks   clock.Ticks
	cursors map[string]clock.Ticks
	files   map[string]*FileRecord
	subs    map[string]Subscriber

	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	debounce time.Duration
}

func newRoot(path string, debounce time.Duration) *Root {
	return &Root{
		Path:     path,
		cursors:  make(map[string]clock.Ticks),
		files:    make(map[string]*FileRecord),
		subs:     make(map[string]Subscriber),
		done:     make(chan struct{}),
		debounce: debounce,
	}
}

// --- clock.RootLocker ---

func (r *Root) Lock()   { r.mu.Lock() }
func (r *Root) Unlock() { r.mu.Unlock() }

func (r *Root) CurrentTicks() clock.Ticks { return r.ticks }

// BumpTicks increments and returns the new tick value. Callers must hold
// the root lock.
func (r *Root) BumpTicks() clock.Ticks {
	r.ticks++
	return r.ticks
}

func (r *Root) LookupCursor(name string) (clock.Ticks, bool) {
	t, ok := r.cursors[name]
	return t, ok
}

func (r *Root) SetCursor(name string, ticks clock.Ticks) {
	r.cursors[name] = ticks
}

// ClockID renders this root's current ClockID, reading ticks under the
// root lock. Must not be called while already holding the root lock.
func (r *Root) ClockID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clock.ID(r.ticks)
}

// Files returns a snapshot copy of the known files, safe to use without
// holding the root lock afterwards.
func (r *Root) Files() []*FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*FileRecord, 0, len(r.files))
	for _, f := range r.files {
		out = append(out, f)
	}
	return out
}

// FilesSince returns files whose CTicks falls in (since, current].
func (r *Root) FilesSince(since clock.Ticks) []*FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*FileRecord
	for _, f := range r.files {
		if f.CTicks > since {
			out = append(out, f)
		}
	}
	return out
}

// Subscribe registers sub under name, replacing any prior subscription of
// the same name.
func (r *Root) Subscribe(name string, sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[name] = sub
}

// Unsubscribe removes a named subscription. Returns false if it didn't exist.
func (r *Root) Unsubscribe(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[name]; !ok {
		return false
	}
	delete(r.subs, name)
	return true
}

// advance bumps the clock to account for one batch of filesystem changes
// and fans the change out to every subscription. Must not be called
// while already holding the root lock.
func (r *Root) advance(apply func()) {
	r.mu.Lock()
	before := r.ticks
	apply()
	r.ticks++
	after := r.ticks
	subsSnapshot := make([]Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		subsSnapshot = append(subsSnapshot, s)
	}
	r.mu.Unlock()

	for _, s := range subsSnapshot {
		s.Notify(r, before, after)
	}
}

// Close stops this root's fsnotify watcher and background pump.
func (r *Root) Close() error {
	close(r.done)
	var err error
	if r.watcher != nil {
		err = r.watcher.Close()
	}
	r.wg.Wait()
	return err
}
