package trigger

import (
	"context"
	"time"

	"golang.org/x/sys/unix"
)

// reapInterval is how often the reaper polls for exited trigger
// children: a periodic WNOHANG harvest rather than a SIGCHLD-driven
// one, keeping the reaper a plain ticker loop instead of a signal
// handler racing the rest of the process.
const reapInterval = 200 * time.Millisecond

// RunReaper harvests exited trigger child processes until ctx is
// cancelled. It should run in its own goroutine for the lifetime of the
// server.
func (m *Manager) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.reapOnce()
		}
	}
}

// reapOnce harvests every currently-exited child without blocking, so a
// trigger command that never exits cannot wedge the reaper loop.
func (m *Manager) reapOnce() {
	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(-1, &status, unix.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}

		m.childMu.Lock()
		child, ok := m.children[pid]
		if ok {
			delete(m.children, pid)
		}
		m.childMu.Unlock()
		if !ok {
			// Not one of ours (e.g. a grandchild reparented to us);
			// nothing to record.
			continue
		}

		m.recordRun(Run{
			TriggerName: child.def.Name,
			Pid:         pid,
			StartedAt:   child.startedAt,
			ExitedAt:    time.Now(),
			ExitCode:    status.ExitStatus(),
		})
	}
}
