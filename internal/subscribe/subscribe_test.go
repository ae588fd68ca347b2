package subscribe

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pathwatch/pathwatch/internal/clock"
	"github.com/pathwatch/pathwatch/internal/fsroot"
	"github.com/pathwatch/pathwatch/internal/wire"
)

type fakeEnqueuer struct {
	responses []wire.Response
}

func (f *fakeEnqueuer) Enqueue(resp wire.Response) {
	f.responses = append(f.responses, resp)
}

type fakeEvaluator struct {
	matches []wire.MatchRecord
	err     error
}

func (f *fakeEvaluator) EvaluateSince(files []*fsroot.FileRecord, queryDesc any, since clock.Ticks) ([]wire.MatchRecord, error) {
	return f.matches, f.err
}

func TestNotifyMarksFirstMatchAsFreshInstance(t *testing.T) {
	owner := &fakeEnqueuer{}
	eval := &fakeEvaluator{matches: []wire.MatchRecord{{Name: "a.txt", Exists: true}}}
	sub := New("sub1", "*.txt", owner, eval)

	reg := fsroot.NewRegistry(nil)
	dir := t.TempDir()
	root, err := reg.Resolve(dir, true)
	require.NoError(t, err)
	t.Cleanup(reg.FreeAll)
	sub.BindRoot(root)

	sub.Notify(root, 0, 3)

	require.Len(t, owner.responses, 1)
	resp := owner.responses[0]
	require.Equal(t, "sub1", resp["subscription"])
	require.Equal(t, true, resp["is_fresh_instance"])
	require.EqualValues(t, 3, sub.LastTicks)
}

func TestNotifySkipsEnqueueOnEmptyMatchSet(t *testing.T) {
	owner := &fakeEnqueuer{}
	eval := &fakeEvaluator{}
	sub := New("sub1", "*.txt", owner, eval)

	reg := fsroot.NewRegistry(nil)
	dir := t.TempDir()
	root, err := reg.Resolve(dir, true)
	require.NoError(t, err)
	t.Cleanup(reg.FreeAll)
	sub.BindRoot(root)

	sub.Notify(root, 0, 5)

	require.Empty(t, owner.responses)
	require.EqualValues(t, 5, sub.LastTicks)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	reg := fsroot.NewRegistry(nil)
	dir := t.TempDir()
	root, err := reg.Resolve(dir, true)
	require.NoError(t, err)
	t.Cleanup(reg.FreeAll)

	sub := New("sub1", "*", &fakeEnqueuer{}, &fakeEvaluator{})
	sub.BindRoot(root)
	root.Subscribe("sub1", sub)

	sub.Unsubscribe()
	require.NotPanics(t, sub.Unsubscribe)
}
