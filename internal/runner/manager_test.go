package runner

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestManager_GoAndStop(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	stopped := make(chan string, 2)

	for _, name := range []string{"scheduler", "recovery"} {
		name := name
		require.NoError(t, m.Go(name, func(ctx context.Context) {
			<-ctx.Done()
			stopped <- name
		}))
	}
	assert.Equal(t, []string{"recovery", "scheduler"}, m.Running())

	err := m.Go("scheduler", func(context.Context) {})
	assert.True(t, errors.Is(err, ErrRunning))

	require.NoError(t, m.Stop(context.Background()))
	assert.Len(t, stopped, 2)
	assert.Empty(t, m.Running())

	err = m.Go("late", func(context.Context) {})
	assert.True(t, errors.Is(err, ErrStopped))
}

func TestManager_PanicEndsOnlyThatLoop(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	require.NoError(t, m.Go("bad", func(context.Context) { panic("boom") }))
	require.NoError(t, m.Go("good", func(ctx context.Context) { <-ctx.Done() }))

	require.Eventually(t, func() bool {
		return len(m.Running()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"good"}, m.Running())
	require.NoError(t, m.Stop(context.Background()))
}

func TestManager_StopTimesOut(t *testing.T) {
	m := NewManager(zaptest.NewLogger(t))
	release := make(chan struct{})
	require.NoError(t, m.Go("stuck", func(context.Context) { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Stop(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck")
	close(release)
}
