package invalidation

import (
	"sync"
	"sync/atomic"
)

// State is the event listener's lifecycle, per the state machine in
// spec §4.6: Initializing -> Subscribed -> Draining -> Stopped.
type State int32

const (
	Initializing State = iota
	Subscribed
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Subscribed:
		return "subscribed"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// lifecycle tracks the listener's state and in-flight handler count so
// Shutdown can drain cleanly: once Draining, new events are acknowledged
// but not dispatched, and Shutdown waits for any handler already running.
type lifecycle struct {
	state   atomic.Int32
	waiters sync.WaitGroup
}

func newLifecycle() *lifecycle {
	l := &lifecycle{}
	l.state.Store(int32(Initializing))
	return l
}

func (l *lifecycle) markSubscribed() {
	l.state.Store(int32(Subscribed))
}

func (l *lifecycle) State() State {
	return State(l.state.Load())
}

// beginHandling reports whether a newly delivered event should be
// dispatched: false once draining or stopped has begun.
func (l *lifecycle) beginHandling() bool {
	if State(l.state.Load()) != Subscribed {
		return false
	}
	l.waiters.Add(1)
	return true
}

func (l *lifecycle) endHandling() {
	l.waiters.Done()
}

// shutdown transitions Subscribed -> Draining, waits for the in-flight
// handler (if any) to return, then transitions to the terminal Stopped
// state.
func (l *lifecycle) shutdown() {
	l.state.Store(int32(Draining))
	l.waiters.Wait()
	l.state.Store(int32(Stopped))
}
