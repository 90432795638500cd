// Package exitmonitor tracks the in-flight "wait" calls the Containers
// service makes against its sandbox helpers, invoking an on-exit callback
// at most once per tracked id (never after StopTracking).
package exitmonitor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/corevisor/corectl/internal/corerr"
)

// WaitFunc blocks until the tracked process exits and returns its exit
// code, or returns an error if it could not be observed.
type WaitFunc func(ctx context.Context) (int32, error)

// OnExit is invoked at most once per Track call (not at all if StopTracking
// ran first), with the exit code and error wait_fn returned, passed through
// unchanged.
type OnExit func(id string, exitCode int32, err error)

type tracked struct {
	cancel context.CancelFunc
}

// Monitor holds at most one active wait per id, mirroring the teacher's
// ContainerPool's mutex-guarded map of live state. Every tracked wait runs
// under group, so Wait can block for a clean shutdown until the last
// in-flight wait has returned.
type Monitor struct {
	mu     sync.Mutex
	active map[string]*tracked
	group  *errgroup.Group
}

// New constructs an empty Monitor.
func New() *Monitor {
	return &Monitor{active: map[string]*tracked{}, group: &errgroup.Group{}}
}

// Track starts waitFn in the background under a cancellable context; on
// return it invokes onExit with the observed result, unless StopTracking
// was called first, in which case no callback fires.
func (m *Monitor) Track(ctx context.Context, id string, waitFn WaitFunc, onExit OnExit) error {
	m.mu.Lock()
	if _, exists := m.active[id]; exists {
		m.mu.Unlock()
		return corerr.InvalidStatef("exitmonitor: %q already has an active wait", id)
	}
	waitCtx, cancel := context.WithCancel(ctx)
	m.active[id] = &tracked{cancel: cancel}
	m.mu.Unlock()

	m.group.Go(func() error {
		code, err := waitFn(waitCtx)

		m.mu.Lock()
		_, stillTracked := m.active[id]
		if stillTracked {
			delete(m.active, id)
		}
		m.mu.Unlock()

		if !stillTracked {
			return nil
		}
		onExit(id, code, err)
		return nil
	})

	return nil
}

// Wait blocks until every currently tracked wait has returned. The daemon
// calls this once its server has stopped serving, so it doesn't exit while
// sandbox-exit callbacks are still running; no tracked context is cancelled
// first, so a wait still blocked on a live process keeps Wait blocked.
func (m *Monitor) Wait() error {
	return m.group.Wait()
}

// StopTracking cancels id's wait, if one is active, and forgets it without
// invoking the on-exit callback.
func (m *Monitor) StopTracking(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[id]
	if !ok {
		return
	}
	t.cancel()
	delete(m.active, id)
}

// IsTracking reports whether id currently has an active wait.
func (m *Monitor) IsTracking(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[id]
	return ok
}
