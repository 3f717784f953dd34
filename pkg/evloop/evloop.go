// Package evloop implements the readiness-driven task loop that backs the
// cooperative, single-threaded server strategy (and the thread-per-request
// strategy's dispatcher). It is a Go state-machine translation of the
// generator-based event loop in the original Python implementation
// (event_loop/event_loop.py): no generators in Go, so a Computation plays
// the role of a coroutine by returning its next awaited Task from Step.
package evloop

import (
	"time"
)

// Want is the readiness kind a ResourceTask is suspended on.
type Want int

const (
	Readable Want = iota
	Writable
)

// Task is either a *ResourceTask or a *TimedTask.
type Task interface{}

// ResourceTask suspends a Computation until fd becomes ready for Want.
type ResourceTask struct {
	FD   int
	Want Want
}

// TimedTask suspends a Computation until Deadline passes.
type TimedTask struct {
	Deadline time.Time
}

// After builds a TimedTask that fires after d.
func After(d time.Duration) *TimedTask {
	return &TimedTask{Deadline: time.Now().Add(d)}
}

// Computation is a suspendable unit of work. Step is called once to start
// it and again every time the task it last returned completes; it returns
// the next Task to await, (nil, nil) when the computation is done, or an
// error if it failed. A failed or finished computation is dropped by the
// Loop; nothing else is affected.
type Computation interface {
	Step() (Task, error)
}

// poller is the platform-specific readiness monitor. add/remove are
// reference-counted per (fd, want) pair because two computations may await
// different readiness kinds on the same fd (e.g. an upstream socket being
// written to by one computation while another drains its response).
type poller interface {
	add(fd int, want Want) error
	remove(fd int, want Want) error
	// wait blocks until some registered fd is ready or timeout elapses.
	// timeout < 0 means block indefinitely. The returned set maps ready fds
	// to the readiness kinds observed.
	wait(timeout time.Duration) (map[int]Want, error)
	close() error
}

// FailureHandler is invoked when a resumed computation returns an error.
// Loop drops the computation and its resources; nothing else is affected.
type FailureHandler func(c Computation, err error)

type entry struct {
	task Task
	comp Computation
}

// Loop is the scheduler described in spec §4.5: a table of pending tasks
// mapped to the computations awaiting them, plus the readiness monitor.
type Loop struct {
	poller  poller
	entries map[Computation]entry
	OnError FailureHandler
}

// New creates a Loop backed by the platform's readiness monitor (epoll on
// Linux, select elsewhere).
func New() (*Loop, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	return &Loop{poller: p, entries: make(map[Computation]entry)}, nil
}

// Close releases the underlying readiness monitor.
func (l *Loop) Close() error {
	return l.poller.close()
}

// Spawn starts a long-lived computation: requests its first task and
// registers it. Used for the accept loop and, per client, the request loop.
func (l *Loop) Spawn(c Computation) error {
	task, err := c.Step()
	if err != nil {
		if l.OnError != nil {
			l.OnError(c, err)
		}
		return err
	}
	if task == nil {
		return nil
	}
	return l.register(c, task)
}

func (l *Loop) register(c Computation, task Task) error {
	if rt, ok := task.(*ResourceTask); ok {
		if err := l.poller.add(rt.FD, rt.Want); err != nil {
			return err
		}
	}
	l.entries[c] = entry{task: task, comp: c}
	return nil
}

// Run drives every registered computation to completion. It returns once
// the pending-task table is empty — i.e. every computation has finished,
// failed, or (in practice, for a server) forever, since the accept loop
// keeps re-registering itself.
func (l *Loop) Run() error {
	for len(l.entries) > 0 {
		ready, err := l.poller.wait(l.nextTimeout())
		if err != nil {
			return err
		}
		now := time.Now()

		for c, e := range l.entries {
			if !taskReady(e.task, ready, now) {
				continue
			}

			if rt, ok := e.task.(*ResourceTask); ok {
				_ = l.poller.remove(rt.FD, rt.Want)
			}
			delete(l.entries, c)

			next, err := c.Step()
			if err != nil {
				if l.OnError != nil {
					l.OnError(c, err)
				}
				continue
			}
			if next == nil {
				continue
			}
			if err := l.register(c, next); err != nil && l.OnError != nil {
				l.OnError(c, err)
			}
		}
	}
	return nil
}

// Pending reports how many computations are currently suspended. Exposed
// mainly for tests; a running server's table never naturally empties.
func (l *Loop) Pending() int {
	return len(l.entries)
}

func taskReady(task Task, ready map[int]Want, now time.Time) bool {
	switch t := task.(type) {
	case *ResourceTask:
		w, ok := ready[t.FD]
		return ok && w == t.Want
	case *TimedTask:
		return now.After(t.Deadline) || now.Equal(t.Deadline)
	default:
		return false
	}
}

// Monitor is the bare readiness-check surface, for callers that want to
// poll fd readiness directly without the full Computation/Loop scheduling
// machinery — the thread-per-request dispatcher registers the listener
// and every client socket here instead of running its own epoll/select
// code, reusing the same platform poller the cooperative strategy uses.
type Monitor struct {
	p poller
}

// NewMonitor opens a platform readiness monitor (epoll on Linux, select
// elsewhere).
func NewMonitor() (*Monitor, error) {
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	return &Monitor{p: p}, nil
}

func (m *Monitor) Add(fd int, want Want) error    { return m.p.add(fd, want) }
func (m *Monitor) Remove(fd int, want Want) error { return m.p.remove(fd, want) }

// Wait blocks until some registered fd is ready or timeout elapses.
// timeout < 0 blocks indefinitely.
func (m *Monitor) Wait(timeout time.Duration) (map[int]Want, error) {
	return m.p.wait(timeout)
}

func (m *Monitor) Close() error { return m.p.close() }

func (l *Loop) nextTimeout() time.Duration {
	var earliest time.Time
	for _, e := range l.entries {
		tt, ok := e.task.(*TimedTask)
		if !ok {
			continue
		}
		if earliest.IsZero() || tt.Deadline.Before(earliest) {
			earliest = tt.Deadline
		}
	}
	if earliest.IsZero() {
		return -1
	}
	if d := time.Until(earliest); d > 0 {
		return d
	}
	return 0
}
