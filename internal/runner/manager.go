// Package runner supervises the keeper's background loops.
package runner

import (
	"context"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrRunning = errors.New("loop already running")
	ErrStopped = errors.New("runner stopped")
)

// Manager starts named loops under one context and stops them together.
type Manager struct {
	log *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running map[string]struct{}
	stopped bool
}

func NewManager(log *zap.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		log:     log.Named("runner"),
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]struct{}),
	}
}

// Go runs fn in its own goroutine until the manager stops. fn must return
// when its context is done. A panic ends only that loop.
func (m *Manager) Go(name string, fn func(ctx context.Context)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return errors.Wrap(ErrStopped, name)
	}
	if _, ok := m.running[name]; ok {
		return errors.Wrap(ErrRunning, name)
	}
	m.running[name] = struct{}{}
	m.wg.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.log.Error("loop panicked", zap.String("loop", name), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			}
			m.mu.Lock()
			delete(m.running, name)
			m.mu.Unlock()
			m.wg.Done()
		}()
		m.log.Debug("loop started", zap.String("loop", name))
		fn(m.ctx)
		m.log.Debug("loop finished", zap.String("loop", name))
	}()
	return nil
}

// Running lists the loops still alive.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.running))
	for name := range m.running {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Stop cancels every loop and waits for them or for ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "loops still running: %v", m.Running())
	}
}
