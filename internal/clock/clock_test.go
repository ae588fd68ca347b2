package clock

import (
	"os"
	"strconv"
	"sync"
	"testing"
)

// fakeRoot is a minimal RootLocker for exercising the promotion rules
// without a live fsroot.Root.
type fakeRoot struct {
	mu      sync.Mutex
	ticks   Ticks
	cursors map[string]Ticks
}

func newFakeRoot() *fakeRoot {
	return &fakeRoot{cursors: make(map[string]Ticks)}
}

func (r *fakeRoot) Lock()   { r.mu.Lock() }
func (r *fakeRoot) Unlock() { r.mu.Unlock() }

func (r *fakeRoot) CurrentTicks() Ticks { return r.ticks }

func (r *fakeRoot) BumpTicks() Ticks {
	r.ticks++
	return r.ticks
}

func (r *fakeRoot) LookupCursor(name string) (Ticks, bool) {
	t, ok := r.cursors[name]
	return t, ok
}

func (r *fakeRoot) SetCursor(name string, ticks Ticks) {
	r.cursors[name] = ticks
}

func TestParseTimestamp(t *testing.T) {
	spec, err := Parse(1700000000, nil, true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !spec.IsTimestamp {
		t.Fatal("expected IsTimestamp")
	}
	if spec.Timestamp.Unix() != 1700000000 {
		t.Fatalf("unexpected timestamp: %v", spec.Timestamp)
	}
}

func TestParseBadSpec(t *testing.T) {
	if _, err := Parse("garbage", nil, true); err == nil {
		t.Fatal("expected error for unrecognized clockspec")
	}
	_, err := Parse(true, nil, true)
	if err == nil {
		t.Fatal("expected error for non-string/int clockspec")
	}
	if _, ok := err.(*ErrBadClockSpec); !ok {
		t.Fatalf("expected *ErrBadClockSpec, got %T", err)
	}
}

func TestCursorFreshThenPromoted(t *testing.T) {
	root := newFakeRoot()

	spec, err := Parse("n:foo", root, true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !spec.IsFreshInstance {
		t.Fatal("expected fresh instance on first reference")
	}
	if spec.Ticks != 0 {
		t.Fatalf("expected ticks 0 on fresh instance, got %d", spec.Ticks)
	}
	firstCursor, ok := root.LookupCursor("n:foo")
	if !ok {
		t.Fatal("expected cursor to be recorded")
	}

	// Repeat with no intervening filesystem activity: no longer fresh,
	// and the stored cursor must have advanced again (promotion rule).
	spec2, err := Parse("n:foo", root, true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if spec2.IsFreshInstance {
		t.Fatal("expected non-fresh on second reference")
	}
	if spec2.Ticks != firstCursor {
		t.Fatalf("expected ticks %d, got %d", firstCursor, spec2.Ticks)
	}
	secondCursor, _ := root.LookupCursor("n:foo")
	if secondCursor <= firstCursor {
		t.Fatalf("expected cursor to advance: %d -> %d", firstCursor, secondCursor)
	}
}

func TestClockIDSamePidNoChangeBumpsByOne(t *testing.T) {
	root := newFakeRoot()
	root.ticks = 5

	spec, err := Parse(ID(5), root, true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if spec.IsFreshInstance {
		t.Fatal("same-pid clock id should never be a fresh instance")
	}
	if root.ticks != 6 {
		t.Fatalf("expected ticks bumped by exactly 1, got %d", root.ticks)
	}
}

func TestClockIDSamePidStaleDoesNotBump(t *testing.T) {
	root := newFakeRoot()
	root.ticks = 10

	_, err := Parse(ID(5), root, true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if root.ticks != 10 {
		t.Fatalf("expected ticks unchanged when stale, got %d", root.ticks)
	}
}

func TestClockIDForeignPidIsFreshAndDoesNotBump(t *testing.T) {
	root := newFakeRoot()
	root.ticks = 5

	foreignPid := os.Getpid() + 1
	spec, err := Parse(foreignPidClockID(foreignPid, 5), root, true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !spec.IsFreshInstance {
		t.Fatal("expected fresh instance for foreign pid")
	}
	if spec.Ticks != 0 {
		t.Fatalf("expected ticks 0 for foreign pid, got %d", spec.Ticks)
	}
	if root.ticks != 5 {
		t.Fatalf("foreign pid must never bump ticks, got %d", root.ticks)
	}
}

func foreignPidClockID(pid int, ticks Ticks) string {
	return "c:" + strconv.Itoa(pid) + ":" + strconv.Itoa(int(ticks))
}
