package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultSweepInterval is how often dead sessions are reclaimed
const DefaultSweepInterval = 500 * time.Millisecond

// Sweeper drives periodic registry sweeps for the lifetime of the process,
// independent of request traffic. A tick that loses the lock race is simply
// skipped; the next tick catches up.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewSweeper creates a sweeper for the given registry. A non-positive
// interval falls back to DefaultSweepInterval.
func NewSweeper(registry *Registry, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop. It returns immediately; the loop runs until
// Stop is called or the context is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cancel != nil {
		return // already running
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx)
}

// Stop halts the sweep loop and waits for it to exit
func (s *Sweeper) Stop() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.registry.Sweep()
		}
	}
}
