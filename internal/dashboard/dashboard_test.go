package dashboard

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"
)

type fakeState struct {
	roots   []RootSnapshot
	clients int
}

func (f *fakeState) RootSnapshots() []RootSnapshot { return f.roots }
func (f *fakeState) ClientCount() int              { return f.clients }

func TestHealthEndpointReportsClientCount(t *testing.T) {
	state := &fakeState{roots: []RootSnapshot{{Path: "/tmp/a", Ticks: 3}}, clients: 2}
	s := NewServer("127.0.0.1:0", state, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if int(body["clients"].(float64)) != 2 {
		t.Fatalf("unexpected clients: %#v", body)
	}
}

func TestPublishDoesNotBlockWithoutClients(t *testing.T) {
	state := &fakeState{}
	s := NewServer("127.0.0.1:0", state, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	done := make(chan struct{})
	go func() {
		s.Publish()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no connected clients")
	}
}
