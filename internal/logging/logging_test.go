package logging

import (
	"bufio"
	"net"
	"path/filepath"
	"testing"

	"github.com/pathwatch/pathwatch/internal/session"
	"github.com/pathwatch/pathwatch/internal/wire"
)

func TestBroadcastRespectsLevelFilter(t *testing.T) {
	table := session.NewTable()

	_, quiet := net.Pipe()
	t.Cleanup(func() { quiet.Close() })
	quietSess := session.New(quiet, "quiet", false)
	quietSess.SetLogLevel(session.LogOff)
	table.Register(quietSess)

	client, debug := net.Pipe()
	t.Cleanup(func() { client.Close(); debug.Close() })
	debugSess := session.New(debug, "debug", false)
	debugSess.SetLogLevel(session.LogDebug)
	debugSess.Dispatch = func(*session.Session, []any) {}
	table.Register(debugSess)
	go debugSess.Run()

	sink := New(table, Config{})
	sink.Broadcast(session.LogInfo, "hello")

	done := make(chan struct{})
	go func() {
		br := bufio.NewReader(client)
		body, _, err := wire.DecodePDU(br)
		if err != nil {
			t.Errorf("decode: %v", err)
		} else if m, ok := body.(map[string]any); !ok || m["log"] != "hello" {
			t.Errorf("unexpected body: %#v", body)
		}
		close(done)
	}()
	<-done
}

func TestNewWithNestedLogFileDoesNotPanic(t *testing.T) {
	table := session.NewTable()
	sink := New(table, Config{File: filepath.Join(t.TempDir(), "nested", "pathwatchd.log")})
	defer sink.Close()
	sink.Broadcast(session.LogErr, "boom")
}
