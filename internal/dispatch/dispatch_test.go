package dispatch

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/pathwatch/pathwatch/internal/fsroot"
	"github.com/pathwatch/pathwatch/internal/query"
	"github.com/pathwatch/pathwatch/internal/session"
	"github.com/pathwatch/pathwatch/internal/trigger"
	"github.com/pathwatch/pathwatch/internal/wire"
)

type fakeLogSink struct {
	calls []string
}

func (f *fakeLogSink) Broadcast(level session.LogLevel, text string) {
	f.calls = append(f.calls, text)
}

type noopTriggers struct{}

func (noopTriggers) Add(root, name string, command []string, query any, appendMatches bool) error {
	return nil
}
func (noopTriggers) List(root string) []trigger.Definition          { return nil }
func (noopTriggers) Delete(root, name string) (bool, error)         { return false, nil }

// harness wires a real fsroot.Registry and query.Engine (the same
// collaborators the server uses) to a Dispatcher, and a session driven
// over a net.Pipe so requests can be sent exactly as a client would.
type harness struct {
	t      *testing.T
	reg    *fsroot.Registry
	disp   *Dispatcher
	sess   *session.Session
	client net.Conn
	br     *bufio.Reader
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	reg := fsroot.NewRegistry(nil)
	t.Cleanup(reg.FreeAll)

	disp := New(reg, query.NewEngine(), noopTriggers{}, &fakeLogSink{}, "/tmp/pathwatchd.sock")

	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	s := session.New(server, "h1", false)
	s.Dispatch = disp.Dispatch
	go s.Run()

	return &harness{t: t, reg: reg, disp: disp, sess: s, client: client, br: bufio.NewReader(client)}
}

func (h *harness) send(req []any) map[string]any {
	h.t.Helper()
	if err := wire.EncodeResponse(h.client, wire.JSONLine, req); err != nil {
		h.t.Fatalf("send: %v", err)
	}
	body, _, err := wire.DecodePDU(h.br)
	if err != nil {
		h.t.Fatalf("receive: %v", err)
	}
	resp, ok := body.(map[string]any)
	if !ok {
		h.t.Fatalf("expected object response, got %T: %#v", body, body)
	}
	return resp
}

func TestEmptyRequest(t *testing.T) {
	h := newHarness(t)
	resp := h.send([]any{})
	if resp["error"] != "invalid command (expected an array with some elements!)" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestUnknownCommand(t *testing.T) {
	h := newHarness(t)
	resp := h.send([]any{"foo"})
	if resp["error"] != "unknown command foo" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestWatchThenFind(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := newHarness(t)
	resp := h.send([]any{"watch", dir})
	if resp["error"] != nil {
		t.Fatalf("watch failed: %#v", resp)
	}

	resp = h.send([]any{"find", dir})
	if resp["error"] != nil {
		t.Fatalf("find failed: %#v", resp)
	}
	if resp["files"] == nil {
		t.Fatal("expected files in find response")
	}
}

func TestSinceCursorRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h := newHarness(t)
	h.send([]any{"watch", dir})

	first := h.send([]any{"since", dir, "n:foo"})
	if fresh, _ := first["is_fresh_instance"].(bool); !fresh {
		t.Fatalf("expected first since to be fresh instance: %#v", first)
	}

	second := h.send([]any{"since", dir, "n:foo"})
	if fresh, _ := second["is_fresh_instance"].(bool); fresh {
		t.Fatalf("expected second since to not be fresh instance: %#v", second)
	}
}

func TestWrongArgCountOnWatch(t *testing.T) {
	h := newHarness(t)
	resp := h.send([]any{"watch"})
	if resp["error"] == nil {
		t.Fatal("expected an error for missing path argument")
	}
}

func TestLogLevelRoundTrip(t *testing.T) {
	h := newHarness(t)
	resp := h.send([]any{"log-level", "debug"})
	if resp["error"] != nil {
		t.Fatalf("log-level failed: %#v", resp)
	}
	if resp["log_level"] != "debug" {
		t.Fatalf("unexpected response: %#v", resp)
	}

	resp = h.send([]any{"log-level", "not-a-level"})
	if resp["error"] == nil {
		t.Fatal("expected error for invalid log level")
	}
}
