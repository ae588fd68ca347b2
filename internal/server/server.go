// Package server is the composition root: it wires the root registry,
// query engine, trigger manager, session table, dispatcher, listener,
// log sink, and optional dashboard together into one running daemon,
// and implements the ordered shutdown-server teardown sequence.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pathwatch/pathwatch/internal/clock"
	"github.com/pathwatch/pathwatch/internal/config"
	"github.com/pathwatch/pathwatch/internal/dashboard"
	"github.com/pathwatch/pathwatch/internal/dispatch"
	"github.com/pathwatch/pathwatch/internal/fsroot"
	"github.com/pathwatch/pathwatch/internal/listener"
	"github.com/pathwatch/pathwatch/internal/logging"
	"github.com/pathwatch/pathwatch/internal/query"
	"github.com/pathwatch/pathwatch/internal/session"
	"github.com/pathwatch/pathwatch/internal/state"
	"github.com/pathwatch/pathwatch/internal/trigger"
)

// triggerSubscriptionName is the fixed fsroot.Root subscription slot the
// trigger manager occupies on every root, alongside whatever named
// subscriptions individual sessions register.
const triggerSubscriptionName = "__triggers__"

// Server owns every collaborator's lifetime.
type Server struct {
	cfg config.Config

	registry   *fsroot.Registry
	table      *session.Table
	queryEng   *query.Engine
	triggers   *trigger.Manager
	logSink    *logging.Sink
	dispatcher *dispatch.Dispatcher
	listen     *listener.Listener
	dash       *dashboard.Server

	ctx        context.Context
	cancel     context.CancelFunc
	reaperDone chan struct{}

	shutdownOnce sync.Once
	logger       *log.Logger
}

// New builds every collaborator but does not yet bind the socket or
// restore persisted watches; call Start for that.
func New(cfg config.Config) (*Server, error) {
	logger := log.New(os.Stderr, "[pathwatchd] ", log.LstdFlags)

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("server: creating state dir: %w", err)
	}

	registry := fsroot.NewRegistry(logger)
	registry.Debounce = time.Duration(cfg.DebounceMS) * time.Millisecond
	table := session.NewTable()
	queryEng := query.NewEngine()

	triggers, err := trigger.NewManager(cfg.StateDir, queryEng, logger)
	if err != nil {
		return nil, fmt.Errorf("server: trigger manager: %w", err)
	}

	logSink := logging.New(table, logging.Config{File: cfg.LogFile})

	d := dispatch.New(registry, queryEng, triggers, logSink, cfg.SockPath)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		registry:   registry,
		table:      table,
		queryEng:   queryEng,
		triggers:   triggers,
		logSink:    logSink,
		dispatcher: d,
		ctx:        ctx,
		cancel:     cancel,
		reaperDone: make(chan struct{}),
		logger:     logger,
	}
	d.Shutdown = s.handleShutdownCommand

	s.listen = listener.New(cfg.SockPath, s.newSession, logger)

	if cfg.DashboardAddr != "" {
		s.dash = dashboard.NewServer(cfg.DashboardAddr, s, logger)
	}

	registry.OnRootCreated = func(root *fsroot.Root) {
		root.Subscribe(triggerSubscriptionName, triggers)
		if s.dash != nil {
			root.Subscribe(dashboardSubscriptionName, dashboardNotifier{s})
		}
	}

	return s, nil
}

// dashboardSubscriptionName is the fixed fsroot.Root subscription slot
// the dashboard's tick-advance notifier occupies, when a dashboard is
// configured.
const dashboardSubscriptionName = "__dashboard__"

// dashboardNotifier adapts Server.dash.Publish to fsroot.Subscriber so
// every root's tick advances trigger a fresh dashboard snapshot.
type dashboardNotifier struct{ s *Server }

func (d dashboardNotifier) Notify(root *fsroot.Root, before, after clock.Ticks) {
	d.s.dash.Publish()
}

// newSession is the listener.SessionFactory: it builds a session wired
// to this server's dispatcher, registers it in the table, and
// deregisters it on close.
func (s *Server) newSession(conn net.Conn, id string) *session.Session {
	sess := session.New(conn, id, false)
	sess.Dispatch = s.dispatcher.Dispatch
	sess.OnClose = func(sess *session.Session) {
		s.table.Deregister(sess)
		if s.dash != nil {
			s.dash.Publish()
		}
	}
	s.table.Register(sess)
	if s.dash != nil {
		s.dash.Publish()
	}
	return sess
}

// Start restores persisted watches, binds the socket, starts the
// reaper, and starts the dashboard if configured.
func (s *Server) Start() error {
	listener.PreListenerSetup()

	if err := s.restoreWatches(); err != nil {
		s.logger.Printf("restoring persisted watches: %v", err)
	}

	if err := s.listen.Start(); err != nil {
		return err
	}

	go func() {
		defer close(s.reaperDone)
		s.triggers.RunReaper(s.ctx)
	}()

	if s.dash != nil {
		if err := s.dash.Start(); err != nil {
			return fmt.Errorf("server: dashboard: %w", err)
		}
	}

	s.logger.Printf("listening on %s", s.cfg.SockPath)
	return nil
}

func (s *Server) restoreWatches() error {
	snap, err := state.Load(s.cfg.StateDir)
	if err != nil {
		return err
	}
	for _, root := range snap.Roots {
		if _, err := s.registry.Resolve(root, true); err != nil {
			s.logger.Printf("re-watching %s: %v", root, err)
		}
	}
	return nil
}

func (s *Server) persistWatches() {
	snap, err := state.Load(s.cfg.StateDir)
	if err != nil {
		snap = &state.Snapshot{}
	}
	snap.Roots = s.registry.List()
	if err := state.Save(s.cfg.StateDir, snap); err != nil {
		s.logger.Printf("persisting watches: %v", err)
	}
}

// handleShutdownCommand performs the ordered teardown, excluding the
// requesting session (it has already received its reply and will
// observe the socket close like any other client), then exits the
// process — the shutdown-server command's documented behavior.
func (s *Server) handleShutdownCommand(requester *session.Session) {
	s.shutdownOnce.Do(func() {
		s.logger.Println("shutdown-server received, tearing down")
		s.teardown(requester)
		os.Exit(0)
	})
}

// Stop performs the same ordered teardown as the shutdown-server command
// but without exiting the process, for a daemon stopped by signal (e.g.
// SIGTERM/SIGINT from cmd/pathwatchd) rather than by a client request.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		s.logger.Println("signal received, tearing down")
		s.teardown(nil)
	})
}

// teardown runs the ordered shutdown sequence: stop accepting
// connections, persist watch state, release every watched root, wait
// for the reaper to exit, then close the trigger manager, log sink, and
// dashboard. requester may be nil when triggered by a signal rather
// than a client command.
func (s *Server) teardown(requester *session.Session) {
	s.cancel()
	s.listen.Stop()
	s.persistWatches()
	s.registry.FreeAll()
	if requester != nil {
		s.table.Deregister(requester)
	}
	<-s.reaperDone
	_ = s.triggers.Close()
	_ = s.logSink.Close()
	if s.dash != nil {
		_ = s.dash.Stop()
	}
}

// RootSnapshots implements dashboard.StateProvider.
func (s *Server) RootSnapshots() []dashboard.RootSnapshot {
	paths := s.registry.List()
	out := make([]dashboard.RootSnapshot, 0, len(paths))
	for _, p := range paths {
		root, err := s.registry.ResolveForClientMode(p)
		if err != nil {
			continue
		}
		out = append(out, dashboard.RootSnapshot{Path: p, Ticks: uint32(root.CurrentTicks())})
	}
	return out
}

// ClientCount implements dashboard.StateProvider.
func (s *Server) ClientCount() int {
	return s.table.Count()
}
