package state

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	snap := &Snapshot{
		Roots: []string{"/tmp/a", "/tmp/b"},
		Triggers: []TriggerDef{
			{Root: "/tmp/a", Name: "rebuild", Command: []string{"make"}, Query: map[string]any{"patterns": []any{"*.go"}}},
		},
	}

	if err := Save(dir, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if diff := cmp.Diff(snap, loaded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadMissingIsEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	snap, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Roots) != 0 || len(snap.Triggers) != 0 {
		t.Fatalf("expected empty snapshot, got %#v", snap)
	}
}
