// Package session implements per-connection client state: the inbound
// decoder, outbound response queue, wake channel, subscription set, log
// level, wire encoding, and client-mode flag.
package session

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pathwatch/pathwatch/internal/wire"
)

// LogLevel filters which broadcast log lines a session receives.
type LogLevel int32

const (
	LogOff LogLevel = iota
	LogErr
	LogInfo
	LogDebug
)

// ParseLogLevel maps the wire-level names accepted by the log-level
// command to a LogLevel.
func ParseLogLevel(name string) (LogLevel, bool) {
	switch name {
	case "off":
		return LogOff, true
	case "error":
		return LogErr, true
	case "info":
		return LogInfo, true
	case "debug":
		return LogDebug, true
	}
	return 0, false
}

// pollInterval bounds how long the reader's deadline-based wait for
// readability runs before it re-checks the done signal.
const pollInterval = 200 * time.Millisecond

// Session is one connected client's state and worker, run as two
// goroutines sharing this struct: a reader that decodes and dispatches
// requests inline, and a writer that drains the outbound FIFO whenever
// woken. This preserves per-session response ordering and
// wake-interrupts-wait semantics using channels rather than a
// self-pipe/poll(2) pair.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader

	id string

	encodingSet int32
	encoding    int32 // atomic wire.Encoding

	logLevel  int32 // atomic LogLevel
	clientMode bool

	fifoMu sync.Mutex
	head   *responseNode
	tail   *responseNode

	wake chan struct{}
	done chan struct{}
	once sync.Once

	subsMu sync.Mutex
	subs   map[string]Unsubscriber

	state atomic.Int32 // one of the state* constants, for introspection

	// Dispatch is called inline by the reader goroutine for every
	// decoded request. Set by the server composition root before Run.
	Dispatch func(s *Session, args []any)

	// OnClose is invoked exactly once, from whichever goroutine first
	// detects termination, so the owner (the shared Table) can
	// deregister this session.
	OnClose func(s *Session)
}

// Unsubscriber is the narrow handle a session needs to cancel a
// subscription on close (internal/subscribe.Subscription satisfies this
// directly — see internal/dispatch's subscribe handler).
type Unsubscriber interface {
	Unsubscribe()
}

type responseNode struct {
	resp wire.Response
	next *responseNode
}

const (
	stateReading = iota
	stateDispatching
	stateWriting
	stateClosing
)

// New wraps conn as a new, not-yet-running session. id is an opaque
// identifier (e.g. the remote address or a counter); Table uses it as
// the session's key, so it must be unique among live sessions.
func New(conn net.Conn, id string, clientMode bool) *Session {
	s := &Session{
		conn:       conn,
		reader:     bufio.NewReader(conn),
		id:         id,
		clientMode: clientMode,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		subs:       make(map[string]Unsubscriber),
	}
	s.state.Store(stateReading)
	return s
}

// ID returns this session's opaque identifier.
func (s *Session) ID() string { return s.id }

// ClientMode reports whether this session may not create new watched roots.
func (s *Session) ClientMode() bool { return s.clientMode }

// LogLevel returns the session's current log filter.
func (s *Session) LogLevel() LogLevel {
	return LogLevel(atomic.LoadInt32(&s.logLevel))
}

// SetLogLevel updates the session's log filter.
func (s *Session) SetLogLevel(level LogLevel) {
	atomic.StoreInt32(&s.logLevel, int32(level))
}

// Encoding returns the wire encoding inferred from this session's first
// decoded request. Only meaningful after at least one request has been
// decoded.
func (s *Session) Encoding() wire.Encoding {
	return wire.Encoding(atomic.LoadInt32(&s.encoding))
}

func (s *Session) setEncodingOnce(enc wire.Encoding) {
	if atomic.CompareAndSwapInt32(&s.encodingSet, 0, 1) {
		atomic.StoreInt32(&s.encoding, int32(enc))
	}
}

// TrackSubscription records sub under name so Close can cancel it.
func (s *Session) TrackSubscription(name string, sub Unsubscriber) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs[name] = sub
}

// DropSubscription removes a previously tracked subscription, returning
// false if it wasn't present.
func (s *Session) DropSubscription(name string) bool {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if _, ok := s.subs[name]; !ok {
		return false
	}
	delete(s.subs, name)
	return true
}

// Enqueue appends resp to the outbound FIFO and wakes the writer. Safe
// to call from any goroutine (the subscription fan-out, the log sink,
// or the session's own reader after dispatching a request).
func (s *Session) Enqueue(resp wire.Response) {
	node := &responseNode{resp: resp}

	s.fifoMu.Lock()
	if s.tail != nil {
		s.tail.next = node
	} else {
		s.head = node
	}
	s.tail = node
	s.fifoMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) dequeue() (wire.Response, bool) {
	s.fifoMu.Lock()
	defer s.fifoMu.Unlock()
	if s.head == nil {
		return nil, false
	}
	node := s.head
	s.head = node.next
	if s.head == nil {
		s.tail = nil
	}
	return node.resp, true
}

// Run drives the session until the connection closes or an
// unrecoverable error occurs, then tears down every owned resource.
// Run blocks until the session is fully stopped; callers typically
// invoke it from its own goroutine (see internal/listener).
func (s *Session) Run() {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.readLoop()
	}()
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()

	wg.Wait()
	s.teardown()
}

func (s *Session) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		_ = s.conn.SetReadDeadline(time.Now().Add(pollInterval))
		_, err := s.reader.Peek(1)
		if err != nil {
			if wire.IsTimeout(err) {
				continue
			}
			// Real EOF/closed connection.
			s.closeOnce()
			return
		}

		// A full PDU is (probably) available; don't let a slow client
		// mid-message trip the poll-interval deadline.
		_ = s.conn.SetReadDeadline(time.Time{})

		s.state.Store(stateReading)
		args, enc, err := wire.DecodeRequest(s.reader)
		if err != nil {
			if de, ok := err.(*wire.DecodeError); ok {
				s.Enqueue(errorResponse("invalid json at position 0: " + de.Message))
			} else {
				s.Enqueue(errorResponse("invalid data from client: " + err.Error()))
			}
			s.closeOnce()
			return
		}

		s.setEncodingOnce(enc)
		s.state.Store(stateDispatching)
		if s.Dispatch != nil {
			s.Dispatch(s, args)
		}
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			// Drain whatever remains so responses enqueued just before
			// close (e.g. the reply to shutdown-server) still go out.
			s.drainOnce()
			return
		case <-s.wake:
			s.state.Store(stateWriting)
			if !s.drainOnce() {
				return
			}
			s.state.Store(stateReading)
		}
	}
}

// drainOnce writes every currently queued response. It returns false if
// a write failure occurred (the caller should stop).
func (s *Session) drainOnce() bool {
	for {
		resp, ok := s.dequeue()
		if !ok {
			return true
		}
		if err := wire.EncodeResponse(s.conn, s.Encoding(), resp); err != nil {
			s.closeOnce()
			return false
		}
	}
}

func (s *Session) closeOnce() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *Session) teardown() {
	s.state.Store(stateClosing)

	s.subsMu.Lock()
	subs := s.subs
	s.subs = nil
	s.subsMu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}

	s.fifoMu.Lock()
	s.head, s.tail = nil, nil
	s.fifoMu.Unlock()

	_ = s.conn.Close()

	if s.OnClose != nil {
		s.OnClose(s)
	}
}

func errorResponse(msg string) wire.Response {
	r := wire.MakeResponse()
	r["error"] = msg
	return r
}
