// Package subscribe implements named, standing subscriptions bound to a
// client session, and the fan-out that evaluates them whenever their
// root's clock advances.
package subscribe

import (
	"github.com/pathwatch/pathwatch/internal/clock"
	"github.com/pathwatch/pathwatch/internal/fsroot"
	"github.com/pathwatch/pathwatch/internal/wire"
)

// Evaluator matches a query description against the file records in
// (last, current], returning the matching records. internal/query
// implements this.
type Evaluator interface {
	EvaluateSince(files []*fsroot.FileRecord, queryDesc any, since clock.Ticks) ([]wire.MatchRecord, error)
}

// Enqueuer is the narrow slice of session.Session a subscription needs:
// push a response and wake the writer. internal/session implements it.
type Enqueuer interface {
	Enqueue(resp wire.Response)
}

// Subscription is one named standing query owned by exactly one session.
type Subscription struct {
	Name      string
	Query     any
	LastTicks clock.Ticks

	owner Enqueuer
	eval  Evaluator
	root  *fsroot.Root
}

// New creates a subscription bound to owner, to be evaluated with eval.
func New(name string, query any, owner Enqueuer, eval Evaluator) *Subscription {
	return &Subscription{Name: name, Query: query, owner: owner, eval: eval}
}

// BindRoot records which root this subscription was registered against,
// so Unsubscribe can remove it later without the caller needing to keep
// the root around separately.
func (s *Subscription) BindRoot(root *fsroot.Root) {
	s.root = root
}

// Unsubscribe implements session.Unsubscriber: it removes this
// subscription from its root. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s.root != nil {
		s.root.Unsubscribe(s.Name)
	}
}

// Notify implements fsroot.Subscriber. It is called after the root's
// lock has been released, with the tick range (last, current] to
// consider: it evaluates
// the query, and if the match set is non-empty builds and enqueues a
// notification, updating LastTicks.
func (s *Subscription) Notify(root *fsroot.Root, before, after clock.Ticks) {
	files := root.FilesSince(s.LastTicks)

	matches, err := s.eval.EvaluateSince(files, s.Query, s.LastTicks)
	if err != nil || len(matches) == 0 {
		s.LastTicks = after
		return
	}

	isFresh := s.LastTicks == 0
	s.LastTicks = after

	resp := wire.MakeResponse()
	resp["subscription"] = s.Name
	resp["root"] = root.Path
	resp["clock"] = root.ClockID()
	resp["files"] = wire.EncodeFileList(matches)
	if isFresh {
		resp["is_fresh_instance"] = true
	}

	s.owner.Enqueue(resp)
}
