package session

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/pathwatch/pathwatch/internal/wire"
)

func pipeConn(t *testing.T) (client net.Conn, server net.Conn) {
	t.Helper()
	c, s := net.Pipe()
	t.Cleanup(func() { c.Close(); s.Close() })
	return c, s
}

func TestEnqueueOrderingPreserved(t *testing.T) {
	client, server := pipeConn(t)
	s := New(server, "t1", false)
	s.setEncodingOnce(wire.JSONLine)

	go s.Run()

	for i := 0; i < 5; i++ {
		r := wire.MakeResponse()
		r["n"] = i
		s.Enqueue(r)
	}

	br := bufio.NewReader(client)
	for i := 0; i < 5; i++ {
		body, _, err := wire.DecodePDU(br)
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		resp, ok := body.(map[string]any)
		if !ok {
			t.Fatalf("decode %d: expected object, got %T", i, body)
		}
		if int(resp["n"].(float64)) != i {
			t.Fatalf("decode %d: expected n=%d, got %v", i, i, resp["n"])
		}
	}
}

func TestEncodingMirrorsFirstRequest(t *testing.T) {
	client, server := pipeConn(t)
	s := New(server, "t2", false)
	s.Dispatch = func(sess *Session, args []any) {
		sess.Enqueue(wire.MakeResponse())
	}
	go s.Run()

	// Client sends a binary-framed request.
	if err := wire.EncodeResponse(client, wire.BinaryFramed, []any{"version"}); err != nil {
		t.Fatalf("write request: %v", err)
	}

	br := bufio.NewReader(client)
	_, enc, err := wire.DecodePDU(br)
	if err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if enc != wire.BinaryFramed {
		t.Fatalf("expected reply in BinaryFramed, got %v", enc)
	}
}

func TestCloseRunsTeardownExactlyOnce(t *testing.T) {
	_, server := pipeConn(t)
	s := New(server, "t3", false)

	closed := make(chan struct{})
	s.OnClose = func(*Session) { close(closed) }

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	server.Close()

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("OnClose was not invoked")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after close")
	}
}
