// Package state implements the state-loader collaborator: persisting the
// set of watched roots and trigger definitions so they can be
// reconstructed, by re-scanning, across server restarts. In-memory watch
// state (the file table, clocks, cursors) is never itself persisted —
// only enough to know what to re-watch.
//
// Two on-disk formats are used, deliberately, for two different kinds of
// data: the watched-root list is small and operator-facing, so it uses
// TOML (github.com/BurntSushi/toml); trigger definitions are more
// structured (nested command argv and query expressions), so they use
// YAML (gopkg.in/yaml.v3).
package state

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// TriggerDef is the persisted form of one trigger definition.
type TriggerDef struct {
	Root    string         `yaml:"root"`
	Name    string         `yaml:"name"`
	Command []string       `yaml:"command"`
	Query   map[string]any `yaml:"query"`
	Append  bool           `yaml:"append"`
}

// rootsFile is the TOML-shaped watched-root list.
type rootsFile struct {
	Roots []string `toml:"roots"`
}

// triggersFile is the YAML-shaped trigger definition list.
type triggersFile struct {
	Triggers []TriggerDef `yaml:"triggers"`
}

// Snapshot is everything the server needs to reconstruct its watches and
// triggers on startup.
type Snapshot struct {
	Roots    []string
	Triggers []TriggerDef
}

func rootsPath(dir string) string    { return filepath.Join(dir, "roots.toml") }
func triggersPath(dir string) string { return filepath.Join(dir, "triggers.yaml") }

// Load reads the snapshot from dir. Missing files are treated as an
// empty snapshot component, not an error — a fresh install has neither.
func Load(dir string) (*Snapshot, error) {
	snap := &Snapshot{}

	var rf rootsFile
	if _, err := toml.DecodeFile(rootsPath(dir), &rf); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	snap.Roots = rf.Roots

	data, err := os.ReadFile(triggersPath(dir))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		var tf triggersFile
		if err := yaml.Unmarshal(data, &tf); err != nil {
			return nil, err
		}
		snap.Triggers = tf.Triggers
	}

	return snap, nil
}

// Save persists snap to dir, creating it if necessary.
func Save(dir string, snap *Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	rf := rootsFile{Roots: snap.Roots}
	rootsF, err := os.Create(rootsPath(dir))
	if err != nil {
		return err
	}
	defer rootsF.Close()
	if err := toml.NewEncoder(rootsF).Encode(rf); err != nil {
		return err
	}

	tf := triggersFile{Triggers: snap.Triggers}
	data, err := yaml.Marshal(tf)
	if err != nil {
		return err
	}
	return os.WriteFile(triggersPath(dir), data, 0o644)
}
