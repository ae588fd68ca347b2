// Package dispatch implements the command registry and handler table:
// decoding a request's command name, resolving root arguments, and
// invoking the matching handler.
//
// Dispatcher reaches its collaborators through narrow interfaces
// (RootResolver, QueryEngine, TriggerManager, LogSink) rather than the
// concrete registry/engine/manager types, so fakes can stand in for them.
// The interfaces still name *fsroot.Root and trigger.Definition, so this
// package imports fsroot and trigger (and with them fsnotify and sqlite).
package dispatch

import (
	"log"
	"os"

	"github.com/pathwatch/pathwatch/internal/clock"
	"github.com/pathwatch/pathwatch/internal/fsroot"
	"github.com/pathwatch/pathwatch/internal/session"
	"github.com/pathwatch/pathwatch/internal/trigger"
	"github.com/pathwatch/pathwatch/internal/wire"
)

// RootResolver is the narrow slice of fsroot.Registry the dispatcher needs.
type RootResolver interface {
	Resolve(path string, create bool) (*fsroot.Root, error)
	ResolveForClientMode(path string) (*fsroot.Root, error)
	List() []string
	Delete(path string) error
	FreeAll()
}

// QueryEngine is the narrow slice of query.Engine the dispatcher needs.
type QueryEngine interface {
	Match(root *fsroot.Root, patterns []string, since clock.Ticks) ([]wire.MatchRecord, error)
	Evaluate(root *fsroot.Root, queryDesc any) ([]wire.MatchRecord, error)
	EvaluateSince(files []*fsroot.FileRecord, queryDesc any, since clock.Ticks) ([]wire.MatchRecord, error)
}

// TriggerManager is the narrow slice of trigger.Manager the dispatcher needs.
type TriggerManager interface {
	Add(root, name string, command []string, query any, appendMatches bool) error
	List(root string) []trigger.Definition
	Delete(root, name string) (bool, error)
}

// LogSink broadcasts a server log line to every eligible session.
// internal/logging implements this.
type LogSink interface {
	Broadcast(level session.LogLevel, text string)
}

// Dispatcher is the command registry plus the collaborators every
// handler needs.
type Dispatcher struct {
	Roots    RootResolver
	Query    QueryEngine
	Triggers TriggerManager
	Log      LogSink

	SockPath string
	Pid      int

	// Shutdown is invoked by the shutdown-server handler after its reply
	// has been enqueued, with the requesting session so it can be
	// excluded from the ordered teardown (internal/server, the
	// composition root, performs the actual teardown; the dispatcher
	// only triggers it).
	Shutdown func(s *session.Session)

	Logger *log.Logger

	handlers map[string]handlerFunc
}

type handlerFunc func(d *Dispatcher, s *session.Session, args []any) (wire.Response, error)

// New returns a ready-to-use Dispatcher with every command registered.
func New(roots RootResolver, qe QueryEngine, tm TriggerManager, logSink LogSink, sockPath string) *Dispatcher {
	d := &Dispatcher{
		Roots:    roots,
		Query:    qe,
		Triggers: tm,
		Log:      logSink,
		SockPath: sockPath,
		Pid:      os.Getpid(),
		Logger:   log.New(os.Stderr, "[dispatch] ", log.LstdFlags),
	}
	d.handlers = map[string]handlerFunc{
		"watch":           handleWatch,
		"watch-list":      handleWatchList,
		"watch-del":       handleWatchDel,
		"find":            handleFind,
		"since":           handleSince,
		"query":           handleQuery,
		"subscribe":       handleSubscribe,
		"unsubscribe":     handleUnsubscribe,
		"trigger":         handleTrigger,
		"trigger-list":    handleTriggerList,
		"trigger-del":     handleTriggerDel,
		"log-level":       handleLogLevel,
		"log":             handleLog,
		"clock":           handleClock,
		"version":         handleVersion,
		"get-sockname":    handleVersion,
		"get-pid":         handleVersion,
		"shutdown-server": handleShutdown,
	}
	return d
}

// Dispatch is assigned to session.Session.Dispatch by the composition
// root. It decodes the command, runs its handler, and always enqueues
// exactly one reply — a successful response or a {"error": ...} one.
func (d *Dispatcher) Dispatch(s *session.Session, args []any) {
	resp, err := d.handle(s, args)
	if err != nil {
		resp = wire.MakeResponse()
		resp["error"] = err.Error()
	}
	s.Enqueue(resp)
}

func (d *Dispatcher) handle(s *session.Session, args []any) (wire.Response, error) {
	if len(args) == 0 {
		return nil, &EmptyRequestError{}
	}
	name, ok := args[0].(string)
	if !ok {
		return nil, &BadCommandNameError{}
	}
	h, ok := d.handlers[name]
	if !ok {
		return nil, &UnknownCommandError{Name: name}
	}
	return h(d, s, args)
}

// argString fetches a required string argument at index i, reporting
// WrongArgCount or BadArgType against cmd as appropriate.
func argString(args []any, i int, cmd string) (string, error) {
	if i >= len(args) {
		return "", &WrongArgCountError{Command: cmd, Want: i + 1, Got: len(args)}
	}
	s, ok := args[i].(string)
	if !ok {
		return "", &BadArgTypeError{Command: cmd, Index: i}
	}
	return s, nil
}

// stringSlice converts a tail of the argument array to a []string,
// skipping (rather than failing on) any non-string element — extra
// trailing arguments a future client version might add are tolerated.
func stringSlice(args []any) []string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if s, ok := a.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// resolveRoot resolves the path argument at index 1, honoring a
// client-mode session's read-only restriction (it may query an
// existing root but never create a new watch).
func (d *Dispatcher) resolveRoot(s *session.Session, args []any, cmd string) (*fsroot.Root, error) {
	path, err := argString(args, 1, cmd)
	if err != nil {
		return nil, err
	}

	var root *fsroot.Root
	if s.ClientMode() {
		root, err = d.Roots.ResolveForClientMode(path)
	} else {
		root, err = d.Roots.Resolve(path, true)
	}
	if err != nil {
		return nil, &UnresolvedRootError{Underlying: err}
	}
	return root, nil
}
