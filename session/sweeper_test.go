package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_ReclaimsDeadSessions(t *testing.T) {
	registry := NewRegistry(nil, nil)
	sweeper := NewSweeper(registry, 10*time.Millisecond, nil)

	dead := newFakeSession("dead")
	dead.inactive.Store(true)
	registry.Insert(dead)

	sweeper.Start(context.Background())
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		return registry.Len() == 0
	}, time.Second, 5*time.Millisecond, "sweeper should reclaim the dead session")
}

func TestSweeper_LeavesActiveSessions(t *testing.T) {
	registry := NewRegistry(nil, nil)
	sweeper := NewSweeper(registry, 10*time.Millisecond, nil)

	registry.Insert(newFakeSession("alive"))

	sweeper.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	sweeper.Stop()

	assert.Equal(t, 1, registry.Len())
}

func TestSweeper_StopIsIdempotent(t *testing.T) {
	registry := NewRegistry(nil, nil)
	sweeper := NewSweeper(registry, 10*time.Millisecond, nil)

	sweeper.Start(context.Background())
	sweeper.Stop()
	sweeper.Stop()
}

func TestSweeper_ContextCancelStopsLoop(t *testing.T) {
	registry := NewRegistry(nil, nil)
	sweeper := NewSweeper(registry, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sweeper.Start(ctx)
	cancel()

	// Stop must return even though the loop already exited
	done := make(chan struct{})
	go func() {
		sweeper.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}

func TestNewSweeper_DefaultInterval(t *testing.T) {
	sweeper := NewSweeper(NewRegistry(nil, nil), 0, nil)
	assert.Equal(t, DefaultSweepInterval, sweeper.interval)
}
