// Package clock implements the per-root logical clock and the clockspec
// parsing rules used to answer "since" queries.
//
// A root's clock is a 32-bit tick counter that only ever moves forward.
// The pair (server pid, ticks) names a moment in that root's history as
// the string "c:<pid>:<ticks>" — a ClockID. Clients also address moments
// by UNIX timestamp or by a named cursor ("n:<label>") that remembers the
// tick value it last resolved to.
package clock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Ticks is the monotonic per-root tick counter.
type Ticks uint32

// ID renders the ClockID string for the given ticks using this process's pid.
func ID(ticks Ticks) string {
	return fmt.Sprintf("c:%d:%d", os.Getpid(), ticks)
}

// Spec is the resolved form of a clockspec argument.
type Spec struct {
	// IsTimestamp is true when the input was a bare integer; the spec is
	// then interpreted as "include files with mtime/ctime >= Timestamp".
	IsTimestamp bool
	Timestamp   time.Time

	// Ticks is the tick value to compare against when IsTimestamp is false.
	Ticks Ticks

	// IsFreshInstance is set when the referenced pid or cursor was never
	// seen by this server incarnation: the caller must treat the result
	// as a full initial snapshot rather than an incremental delta.
	IsFreshInstance bool
}

// RootLocker is the narrow slice of fsroot.Root that clockspec parsing
// needs: lock/unlock the root, read and bump its ticks, and read/write a
// named cursor. Keeping this as an interface (rather than taking a
// concrete *fsroot.Root) lets Parse be unit tested with a fake and keeps
// fsroot from importing clock just to satisfy the signature.
type RootLocker interface {
	Lock()
	Unlock()
	CurrentTicks() Ticks
	BumpTicks() Ticks
	LookupCursor(name string) (Ticks, bool)
	SetCursor(name string, ticks Ticks)
}

// ErrBadClockSpec is returned when value matches none of the recognized
// clockspec forms.
type ErrBadClockSpec struct {
	Value any
}

func (e *ErrBadClockSpec) Error() string {
	return fmt.Sprintf("invalid clockspec: %#v", e.Value)
}

// Parse resolves a clockspec argument against root (which may be nil if
// no root context is available, e.g. when validating standalone).
// allowCursor controls whether "n:<label>" cursor references are accepted
// at this call site (some commands only accept clock/timestamp forms).
func Parse(value any, root RootLocker, allowCursor bool) (Spec, error) {
	switch v := value.(type) {
	case int:
		return Spec{IsTimestamp: true, Timestamp: time.Unix(int64(v), 0)}, nil
	case int64:
		return Spec{IsTimestamp: true, Timestamp: time.Unix(v, 0)}, nil
	case float64:
		return Spec{IsTimestamp: true, Timestamp: time.Unix(int64(v), 0)}, nil
	case string:
		return parseString(v, root, allowCursor)
	default:
		return Spec{}, &ErrBadClockSpec{Value: value}
	}
}

func parseString(str string, root RootLocker, allowCursor bool) (Spec, error) {
	if allowCursor && root != nil && strings.HasPrefix(str, "n:") {
		return parseCursor(str, root), nil
	}

	var pid int
	var ticks Ticks
	if n, err := fmt.Sscanf(str, "c:%d:%d", &pid, &ticks); err == nil && n == 2 {
		return parseClockID(pid, ticks, root), nil
	}

	return Spec{}, &ErrBadClockSpec{Value: str}
}

func parseCursor(str string, root RootLocker) Spec {
	name := str

	root.Lock()
	defer root.Unlock()

	ticks, found := root.LookupCursor(name)
	spec := Spec{IsFreshInstance: !found}
	if found {
		spec.Ticks = ticks
	}

	// Bump ticks and record the new value against the cursor — in either
	// the found or fresh-instance case — so a repeated query with the
	// same cursor never observes the same change twice.
	next := root.BumpTicks()
	root.SetCursor(name, next)

	return spec
}

func parseClockID(pid int, ticks Ticks, root RootLocker) Spec {
	if pid != os.Getpid() {
		// A different incarnation of the server: nothing of that pid's
		// state survives here, so this is a brand new observer.
		return Spec{IsFreshInstance: true, Ticks: 0}
	}

	if root != nil {
		root.Lock()
		if ticks == root.CurrentTicks() {
			// Force ticks to increment so the same since-query isn't
			// answered with the same file set on every repeat.
			root.BumpTicks()
		}
		root.Unlock()
	}

	return Spec{Ticks: ticks}
}

// ParseUint parses a decimal tick value, used by callers that already
// have the numeric half of a ClockID string.
func ParseUint(s string) (Ticks, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return Ticks(v), nil
}
