package service

import (
	"sync/atomic"
	"time"
)

// State is the liveness view shared by the keeper loops and the HTTP surface.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	wsConnected   atomic.Bool
	lastCycleUnix atomic.Int64 // unix seconds
	monitors      atomic.Int64
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetWSConnected(v bool) { s.wsConnected.Store(v) }
func (s *State) WSConnected() bool     { return s.wsConnected.Load() }

// TouchCycle records a finished scheduler cycle.
func (s *State) TouchCycle(t time.Time, monitors int) {
	s.lastCycleUnix.Store(t.Unix())
	s.monitors.Store(int64(monitors))
}

func (s *State) LastCycle() time.Time {
	u := s.lastCycleUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Monitors() int { return int(s.monitors.Load()) }

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
