// Package listener owns the Unix-domain-socket accept loop: bind (after
// unlinking any stale socket file), accept with a short poll timeout so
// shutdown is observed promptly, and spawn one internal/session.Session
// per accepted connection.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/pathwatch/pathwatch/internal/session"
)

// acceptPollInterval bounds how long Accept blocks before the loop
// re-checks ctx, so shutdown is observed promptly.
const acceptPollInterval = 200 * time.Millisecond

// backlog is the original's fixed listen backlog. It is not applied:
// net.ListenUnix does not take a backlog, so Start listens with the OS
// default.
const backlog = 200

// SessionFactory builds a new session for an accepted connection and
// wires its Dispatch/OnClose callbacks. internal/server supplies this.
type SessionFactory func(conn net.Conn, id string) *session.Session

// Listener runs the accept loop.
type Listener struct {
	sockPath string
	newSess  SessionFactory
	logger   *log.Logger

	ln     *net.UnixListener
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	nextID int
}

// New returns a Listener bound to sockPath. PreListenerSetup (which also
// raises the open-file limit) should be called once, before Start, by the
// composition root.
func New(sockPath string, newSess SessionFactory, logger *log.Logger) *Listener {
	if logger == nil {
		logger = log.New(os.Stderr, "[listener] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{sockPath: sockPath, newSess: newSess, logger: logger, ctx: ctx, cancel: cancel}
}

// PreListenerSetup performs startup housekeeping: ignore SIGPIPE so a
// client disconnect during a write surfaces as an error return rather
// than terminating the process, and best-effort raise the
// open-file-descriptor limit so a busy daemon with many watched roots
// and clients doesn't run out of fds.
func PreListenerSetup() {
	signal.Ignore(syscall.SIGPIPE)

	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err == nil {
		limit.Cur = limit.Max
		_ = unix.Setrlimit(unix.RLIMIT_NOFILE, &limit)
	}
}

// Start binds the socket and begins accepting. Unlinks any stale socket
// file left behind by a prior, uncleanly terminated daemon.
func (l *Listener) Start() error {
	_ = os.Remove(l.sockPath)

	addr, err := net.ResolveUnixAddr("unix", l.sockPath)
	if err != nil {
		return fmt.Errorf("listener: resolving %s: %w", l.sockPath, err)
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return fmt.Errorf("listener: binding %s: %w", l.sockPath, err)
	}
	l.ln = ln

	l.wg.Add(1)
	go l.acceptLoop()
	return nil
}

// Stop closes the listener and unlinks the socket file, then waits for
// the accept loop to return. Does not touch already-accepted sessions —
// the composition root owns those via the session table.
func (l *Listener) Stop() {
	l.cancel()
	if l.ln != nil {
		_ = l.ln.Close()
	}
	l.wg.Wait()
	_ = os.Remove(l.sockPath)
}

func (l *Listener) acceptLoop() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			return
		default:
		}

		_ = l.ln.SetDeadline(time.Now().Add(acceptPollInterval))
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			select {
			case <-l.ctx.Done():
				return
			default:
				l.logger.Printf("accept: %v", err)
				return
			}
		}

		l.nextID++
		id := fmt.Sprintf("c%d", l.nextID)
		sess := l.newSess(conn, id)
		go sess.Run()
	}
}

// Addr returns the socket path this listener is bound to.
func (l *Listener) Addr() string { return l.sockPath }
