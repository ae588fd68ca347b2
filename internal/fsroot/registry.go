package fsroot

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Registry is the root resolver collaborator: Resolve,
// ResolveForClientMode, List, Delete, FreeAll. It owns every live Root.
type Registry struct {
	mu     sync.RWMutex
	roots  map[string]*Root
	Logger *log.Logger

	// Debounce is the minimum interval the pump coalesces successive raw
	// fsnotify events into a single clock advance, per root. Zero means
	// every event bumps the clock individually.
	Debounce time.Duration

	// OnRootCreated, if set, is called for every newly started root
	// before Resolve returns it — used by the composition root to bind
	// standing subscribers (e.g. the trigger manager) to every root
	// without Registry needing to import them.
	OnRootCreated func(*Root)
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.New(os.Stderr, "[fsroot] ", log.LstdFlags)
	}
	return &Registry{roots: make(map[string]*Root), Logger: logger}
}

// Resolve returns the root for path, creating and starting to watch it
// if create is true and it doesn't already exist.
func (reg *Registry) Resolve(path string, create bool) (*Root, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve %s: %w", path, err)
	}

	reg.mu.RLock()
	root, ok := reg.roots[abs]
	reg.mu.RUnlock()
	if ok {
		return root, nil
	}

	if !create {
		return nil, fmt.Errorf("unable to resolve root %s: not watched", abs)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve root %s: %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("unable to resolve root %s: not a directory", abs)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if root, ok := reg.roots[abs]; ok {
		return root, nil
	}

	root, err = reg.startRoot(abs)
	if err != nil {
		return nil, err
	}
	reg.roots[abs] = root
	if reg.OnRootCreated != nil {
		reg.OnRootCreated(root)
	}
	return root, nil
}

// ResolveForClientMode resolves path but never creates a new watch — a
// client-mode session (an ephemeral, query-only client) may only look at
// roots someone else is already watching.
func (reg *Registry) ResolveForClientMode(path string) (*Root, error) {
	return reg.Resolve(path, false)
}

// List returns every currently watched root path.
func (reg *Registry) List() []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]string, 0, len(reg.roots))
	for p := range reg.roots {
		out = append(out, p)
	}
	return out
}

// Delete stops watching path and releases its resources.
func (reg *Registry) Delete(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	reg.mu.Lock()
	root, ok := reg.roots[abs]
	if !ok {
		reg.mu.Unlock()
		return fmt.Errorf("unable to resolve root %s: not watched", abs)
	}
	delete(reg.roots, abs)
	reg.mu.Unlock()

	return root.Close()
}

// FreeAll releases every watched root. Used only during the
// shutdown-server teardown sequence.
func (reg *Registry) FreeAll() {
	reg.mu.Lock()
	roots := reg.roots
	reg.roots = make(map[string]*Root)
	reg.mu.Unlock()

	for _, root := range roots {
		_ = root.Close()
	}
}

func (reg *Registry) startRoot(abs string) (*Root, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("unable to resolve root %s: %w", abs, err)
	}

	root := newRoot(abs, reg.Debounce)
	root.watcher = watcher

	if err := root.scanInitial(); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("unable to resolve root %s: initial scan failed: %w", abs, err)
	}

	if err := addRecursive(watcher, abs); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("unable to resolve root %s: %w", abs, err)
	}

	root.wg.Add(1)
	go root.pump(reg.Logger)

	return root, nil
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if addErr := watcher.Add(path); addErr != nil {
				return addErr
			}
		}
		return nil
	})
}
