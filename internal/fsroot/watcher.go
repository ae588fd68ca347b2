package fsroot

import (
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// pump runs for the lifetime of the root, translating fsnotify events
// into file-table updates and clock advances: a single goroutine drains
// the watcher's Events/Errors channels until the root is closed.
//
// Successive events are coalesced into a single clock advance when
// r.debounce is non-zero: the first event of a batch starts a timer of
// r.debounce, the pump accumulates touched paths into pending while it
// runs, and calls advance once when it fires (later events do not
// restart it), so a burst of writes to the same tree (a build, a git
// checkout) produces one subscription notification per debounce window
// instead of one per syscall.
func (r *Root) pump(logger *log.Logger) {
	defer r.wg.Done()

	pending := make(map[string]string) // rel -> absolute path
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = make(map[string]string)
		r.advance(func() {
			for rel, abs := range batch {
				r.touch(rel, abs, r.ticks+1)
			}
		})
	}

	for {
		select {
		case <-r.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			rel, handled := r.classifyEvent(ev, logger)
			if !handled {
				continue
			}
			pending[rel] = ev.Name
			if r.debounce <= 0 {
				flush()
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.debounce)
				timerC = timer.C
			}

		case <-timerC:
			flush()
			timer = nil
			timerC = nil

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			if logger != nil {
				logger.Printf("watch error for %s: %v", r.Path, err)
			}
		}
	}
}

// classifyEvent resolves ev to the root-relative path it touches, adding
// a watch for newly created directories as a side effect (fsnotify does
// not watch recursively on its own). It reports handled=false for events
// that need no file-table update, including the directory-watch case.
func (r *Root) classifyEvent(ev fsnotify.Event, logger *log.Logger) (rel string, handled bool) {
	rel, err := filepath.Rel(r.Path, ev.Name)
	if err != nil {
		return "", false
	}

	if ev.Op&fsnotify.Create != 0 {
		if isDir(ev.Name) {
			if err := r.watcher.Add(ev.Name); err != nil && logger != nil {
				logger.Printf("failed to watch new directory %s: %v", ev.Name, err)
			}
			return "", false
		}
	}

	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return "", false
	}

	return rel, true
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
