// Package trigger implements the trigger manager collaborator: persistent
// command triggers that run a shell command whenever a query matches a
// root's changes, plus the reaper that harvests their exited children.
//
// Trigger run history is kept in a small embedded SQLite database via
// database/sql and github.com/ncruces/go-sqlite3.
package trigger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/pathwatch/pathwatch/internal/clock"
	"github.com/pathwatch/pathwatch/internal/fsroot"
	"github.com/pathwatch/pathwatch/internal/state"
	"github.com/pathwatch/pathwatch/internal/wire"
)

// Evaluator is the subset of internal/query.Engine a trigger needs to
// decide whether it fired.
type Evaluator interface {
	EvaluateSince(files []*fsroot.FileRecord, queryDesc any, since clock.Ticks) ([]wire.MatchRecord, error)
}

// Definition is one persisted trigger.
type Definition struct {
	Root      string
	Name      string
	Command   []string
	Query     any
	Append    bool
	lastTicks clock.Ticks
}

// Run is one recorded invocation of a trigger's command.
type Run struct {
	TriggerName string
	Pid         int
	StartedAt   time.Time
	ExitedAt    time.Time
	ExitCode    int
}

// Manager owns every root's trigger definitions, the run-history
// database, and the set of currently-running trigger child processes.
type Manager struct {
	stateDir string
	eval     Evaluator
	logger   *log.Logger

	mu    sync.Mutex
	byKey map[string]*Definition // key: root + "\x00" + name

	db *sql.DB

	childMu  sync.Mutex
	children map[int]*runningChild
}

type runningChild struct {
	def       *Definition
	startedAt time.Time
}

// NewManager opens (creating if needed) the run-history database under
// stateDir and loads any persisted trigger definitions.
func NewManager(stateDir string, eval Evaluator, logger *log.Logger) (*Manager, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[trigger] ", log.LstdFlags)
	}

	m := &Manager{
		stateDir: stateDir,
		eval:     eval,
		logger:   logger,
		byKey:    make(map[string]*Definition),
		children: make(map[int]*runningChild),
	}

	if err := m.openHistory(); err != nil {
		return nil, err
	}

	snap, err := state.Load(stateDir)
	if err != nil {
		return nil, fmt.Errorf("trigger: loading persisted state: %w", err)
	}
	for _, td := range snap.Triggers {
		m.byKey[key(td.Root, td.Name)] = &Definition{
			Root: td.Root, Name: td.Name, Command: td.Command,
			Query: td.Query, Append: td.Append,
		}
	}

	return m, nil
}

func (m *Manager) openHistory() error {
	if err := os.MkdirAll(m.stateDir, 0o755); err != nil {
		return err
	}
	dbPath := filepath.Join(m.stateDir, "trigger_history.db")
	db, err := sql.Open("sqlite3", "file:"+dbPath)
	if err != nil {
		return fmt.Errorf("trigger: opening history db: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trigger_name TEXT NOT NULL,
			pid INTEGER NOT NULL,
			started_at INTEGER NOT NULL,
			exited_at INTEGER,
			exit_code INTEGER
		)`); err != nil {
		_ = db.Close()
		return fmt.Errorf("trigger: creating history schema: %w", err)
	}
	m.db = db
	return nil
}

func key(root, name string) string { return root + "\x00" + name }

// Add registers a new trigger (or replaces one of the same name on the
// same root) and persists it.
func (m *Manager) Add(root, name string, command []string, query any, appendMatches bool) error {
	m.mu.Lock()
	m.byKey[key(root, name)] = &Definition{Root: root, Name: name, Command: command, Query: query, Append: appendMatches}
	m.mu.Unlock()
	return m.persist()
}

// List returns every trigger registered against root.
func (m *Manager) List(root string) []Definition {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Definition
	for _, d := range m.byKey {
		if d.Root == root {
			out = append(out, *d)
		}
	}
	return out
}

// Delete removes a trigger by name from root, returning false if it
// wasn't registered.
func (m *Manager) Delete(root, name string) (bool, error) {
	m.mu.Lock()
	k := key(root, name)
	_, ok := m.byKey[k]
	if ok {
		delete(m.byKey, k)
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, m.persist()
}

func (m *Manager) persist() error {
	m.mu.Lock()
	defs := make([]state.TriggerDef, 0, len(m.byKey))
	for _, d := range m.byKey {
		q, _ := d.Query.(map[string]any)
		defs = append(defs, state.TriggerDef{Root: d.Root, Name: d.Name, Command: d.Command, Query: q, Append: d.Append})
	}
	m.mu.Unlock()

	snap, err := state.Load(m.stateDir)
	if err != nil {
		return err
	}
	snap.Triggers = defs
	return state.Save(m.stateDir, snap)
}

// Notify implements fsroot.Subscriber for every trigger bound to root: it
// is called outside root's lock (see internal/subscribe.Subscription for
// the analogous pattern) whenever root's clock advances, evaluates each
// trigger's query over the changed range, and spawns the command for any
// non-empty match set.
//
// The server registers its single Manager on every root under a fixed
// subscription name (see internal/server), so this fires for every
// advance on every root; roots without triggers yield no candidates.
func (m *Manager) Notify(root *fsroot.Root, before, after clock.Ticks) {
	m.mu.Lock()
	var candidates []*Definition
	for _, d := range m.byKey {
		if d.Root == root.Path {
			candidates = append(candidates, d)
		}
	}
	m.mu.Unlock()

	for _, d := range candidates {
		files := root.FilesSince(d.lastTicks)
		matches, err := m.eval.EvaluateSince(files, d.Query, d.lastTicks)
		d.lastTicks = after
		if err != nil {
			m.logger.Printf("trigger %s: query error: %v", d.Name, err)
			continue
		}
		if len(matches) == 0 {
			continue
		}
		m.spawn(d, matches)
	}
}

func (m *Manager) spawn(d *Definition, matches []wire.MatchRecord) {
	args := append([]string{}, d.Command[1:]...)
	if d.Append {
		names := make([]string, len(matches))
		for i, mr := range matches {
			names[i] = mr.Name
		}
		payload, _ := json.Marshal(names)
		args = append(args, string(payload))
	}

	cmd := exec.Command(d.Command[0], args...)
	cmd.Dir = d.Root
	if err := cmd.Start(); err != nil {
		m.logger.Printf("trigger %s: failed to start: %v", d.Name, err)
		return
	}

	m.childMu.Lock()
	m.children[cmd.Process.Pid] = &runningChild{def: d, startedAt: time.Now()}
	m.childMu.Unlock()

	// The process's actual exit status is collected by RunReaper via
	// WNOHANG, not by calling cmd.Wait() here — Wait() would block this
	// goroutine on one child, defeating the point of a dedicated reaper
	// that can harvest many concurrently running triggers.
}

func (m *Manager) recordRun(run Run) {
	if m.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := m.db.ExecContext(ctx,
		`INSERT INTO runs (trigger_name, pid, started_at, exited_at, exit_code) VALUES (?, ?, ?, ?, ?)`,
		run.TriggerName, run.Pid, run.StartedAt.Unix(), run.ExitedAt.Unix(), run.ExitCode)
	if err != nil {
		m.logger.Printf("trigger: recording run history: %v", err)
	}
}

// Close releases the history database.
func (m *Manager) Close() error {
	if m.db == nil {
		return nil
	}
	return m.db.Close()
}
