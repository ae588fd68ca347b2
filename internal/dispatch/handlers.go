package dispatch

import (
	"time"

	"github.com/gobwas/glob"

	"github.com/pathwatch/pathwatch/internal/clock"
	"github.com/pathwatch/pathwatch/internal/fsroot"
	"github.com/pathwatch/pathwatch/internal/session"
	"github.com/pathwatch/pathwatch/internal/subscribe"
	"github.com/pathwatch/pathwatch/internal/wire"
)

func handleWatch(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	root, err := d.resolveRoot(s, args, "watch")
	if err != nil {
		return nil, err
	}

	resp := wire.MakeResponse()
	resp["root"] = root.Path
	wire.AnnotateClock(resp, root.ClockID())
	return resp, nil
}

func handleWatchList(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	resp := wire.MakeResponse()
	resp["roots"] = d.Roots.List()
	return resp, nil
}

func handleWatchDel(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	path, err := argString(args, 1, "watch-del")
	if err != nil {
		return nil, err
	}
	if err := d.Roots.Delete(path); err != nil {
		return nil, &UnresolvedRootError{Underlying: err}
	}

	resp := wire.MakeResponse()
	resp["root"] = path
	resp["deleted"] = true
	return resp, nil
}

func handleFind(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	root, err := d.resolveRoot(s, args, "find")
	if err != nil {
		return nil, err
	}
	patterns := stringSlice(args[min(len(args), 2):])

	matches, err := d.Query.Match(root, patterns, 0)
	if err != nil {
		return nil, &CollaboratorError{Underlying: err}
	}

	resp := wire.MakeResponse()
	wire.AnnotateClock(resp, root.ClockID())
	resp["files"] = wire.EncodeFileList(matches)
	return resp, nil
}

func handleSince(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	root, err := d.resolveRoot(s, args, "since")
	if err != nil {
		return nil, err
	}
	if len(args) < 3 {
		return nil, &WrongArgCountError{Command: "since", Want: 3, Got: len(args)}
	}
	clockspec := args[2]
	patterns := stringSlice(args[min(len(args), 3):])

	spec, err := clock.Parse(clockspec, root, true)
	if err != nil {
		return nil, err
	}

	var matches []wire.MatchRecord
	if spec.IsTimestamp {
		matches, err = matchSinceTimestamp(root, patterns, spec.Timestamp)
	} else {
		matches, err = d.Query.Match(root, patterns, spec.Ticks)
	}
	if err != nil {
		return nil, &CollaboratorError{Underlying: err}
	}

	resp := wire.MakeResponse()
	wire.AnnotateClock(resp, root.ClockID())
	resp["files"] = wire.EncodeFileList(matches)
	if spec.IsFreshInstance {
		resp["is_fresh_instance"] = true
	}
	return resp, nil
}

// matchSinceTimestamp handles the bare-integer clockspec form, which
// addresses a moment in wall-clock time rather than a tick value: it
// filters by mtime/ctime directly against the file table instead of
// delegating to query.Engine.Match, which only understands ticks.
func matchSinceTimestamp(root *fsroot.Root, patterns []string, since time.Time) ([]wire.MatchRecord, error) {
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, g)
	}

	var out []wire.MatchRecord
	for _, f := range root.Files() {
		if len(matchers) > 0 {
			matched := false
			for _, g := range matchers {
				if g.Match(f.Name) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		if f.Mtime.Before(since) && f.Ctime.Before(since) {
			continue
		}
		out = append(out, wire.MatchRecord{
			Name: f.Name, Exists: f.Exists, Size: f.Size, Mode: f.Mode,
			Uid: f.Uid, Gid: f.Gid, Mtime: f.Mtime.Unix(), Ctime: f.Ctime.Unix(),
			Ino: f.Ino, Dev: f.Dev, Nlink: f.Nlink,
			OClock: clock.ID(f.OTicks), CClock: clock.ID(f.CTicks),
		})
	}
	return out, nil
}

func handleQuery(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	root, err := d.resolveRoot(s, args, "query")
	if err != nil {
		return nil, err
	}
	if len(args) < 3 {
		return nil, &WrongArgCountError{Command: "query", Want: 3, Got: len(args)}
	}

	matches, err := d.Query.Evaluate(root, args[2])
	if err != nil {
		return nil, &CollaboratorError{Underlying: err}
	}

	resp := wire.MakeResponse()
	wire.AnnotateClock(resp, root.ClockID())
	resp["files"] = wire.EncodeFileList(matches)
	return resp, nil
}

func handleSubscribe(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	root, err := d.resolveRoot(s, args, "subscribe")
	if err != nil {
		return nil, err
	}
	name, err := argString(args, 2, "subscribe")
	if err != nil {
		return nil, err
	}
	if len(args) < 4 {
		return nil, &WrongArgCountError{Command: "subscribe", Want: 4, Got: len(args)}
	}
	queryDesc := args[3]

	sub := subscribe.New(name, queryDesc, s, d.Query)
	sub.BindRoot(root)
	root.Subscribe(name, sub)
	s.TrackSubscription(name, sub)

	matches, err := d.Query.Evaluate(root, queryDesc)
	if err != nil {
		return nil, &CollaboratorError{Underlying: err}
	}
	sub.LastTicks = root.CurrentTicks()

	resp := wire.MakeResponse()
	resp["subscribe"] = name
	wire.AnnotateClock(resp, root.ClockID())
	resp["files"] = wire.EncodeFileList(matches)
	resp["is_fresh_instance"] = true
	return resp, nil
}

func handleUnsubscribe(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	root, err := d.resolveRoot(s, args, "unsubscribe")
	if err != nil {
		return nil, err
	}
	name, err := argString(args, 2, "unsubscribe")
	if err != nil {
		return nil, err
	}

	removed := root.Unsubscribe(name)
	s.DropSubscription(name)

	resp := wire.MakeResponse()
	resp["unsubscribe"] = name
	resp["deleted"] = removed
	return resp, nil
}

func handleTrigger(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	root, err := d.resolveRoot(s, args, "trigger")
	if err != nil {
		return nil, err
	}
	name, err := argString(args, 2, "trigger")
	if err != nil {
		return nil, err
	}
	if len(args) < 5 {
		return nil, &WrongArgCountError{Command: "trigger", Want: 5, Got: len(args)}
	}
	queryDesc := args[3]
	command := stringSlice(args[4:])
	if len(command) == 0 {
		return nil, &BadArgTypeError{Command: "trigger", Index: 4}
	}

	if err := d.Triggers.Add(root.Path, name, command, queryDesc, true); err != nil {
		return nil, &CollaboratorError{Underlying: err}
	}

	resp := wire.MakeResponse()
	resp["triggerid"] = name
	return resp, nil
}

func handleTriggerList(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	root, err := d.resolveRoot(s, args, "trigger-list")
	if err != nil {
		return nil, err
	}

	resp := wire.MakeResponse()
	resp["triggers"] = d.Triggers.List(root.Path)
	return resp, nil
}

func handleTriggerDel(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	root, err := d.resolveRoot(s, args, "trigger-del")
	if err != nil {
		return nil, err
	}
	name, err := argString(args, 2, "trigger-del")
	if err != nil {
		return nil, err
	}

	ok, err := d.Triggers.Delete(root.Path, name)
	if err != nil {
		return nil, &CollaboratorError{Underlying: err}
	}

	resp := wire.MakeResponse()
	resp["deleted"] = ok
	return resp, nil
}

func handleLogLevel(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	name, err := argString(args, 1, "log-level")
	if err != nil {
		return nil, err
	}
	level, ok := session.ParseLogLevel(name)
	if !ok {
		return nil, &BadArgTypeError{Command: "log-level", Index: 1}
	}
	s.SetLogLevel(level)

	resp := wire.MakeResponse()
	resp["log_level"] = name
	return resp, nil
}

func handleLog(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	name, err := argString(args, 1, "log")
	if err != nil {
		return nil, err
	}
	msg, err := argString(args, 2, "log")
	if err != nil {
		return nil, err
	}
	level, ok := session.ParseLogLevel(name)
	if !ok {
		return nil, &BadArgTypeError{Command: "log", Index: 1}
	}
	if d.Log != nil {
		d.Log.Broadcast(level, msg)
	}

	resp := wire.MakeResponse()
	resp["logged"] = true
	return resp, nil
}

func handleClock(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	root, err := d.resolveRoot(s, args, "clock")
	if err != nil {
		return nil, err
	}

	resp := wire.MakeResponse()
	wire.AnnotateClock(resp, root.ClockID())
	return resp, nil
}

func handleVersion(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	resp := wire.MakeResponse()
	resp["sockname"] = d.SockPath
	resp["pid"] = d.Pid
	return resp, nil
}

func handleShutdown(d *Dispatcher, s *session.Session, args []any) (wire.Response, error) {
	resp := wire.MakeResponse()
	resp["shutdown-server"] = true
	if d.Shutdown != nil {
		go d.Shutdown(s)
	}
	return resp, nil
}
