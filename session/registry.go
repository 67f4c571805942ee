package session

import (
	"log/slog"
	"sync"

	"github.com/mitchellwills/web-video-server/metric"
)

// Registry is the shared collection of live sessions. All access is
// serialized by a single lock: Insert blocks until it holds the lock, Sweep
// only try-locks so it can never stall frame delivery or request handling.
type Registry struct {
	mu       sync.Mutex
	sessions []Session

	logger  *slog.Logger
	metrics *metric.Metrics
}

// NewRegistry creates an empty session registry
func NewRegistry(logger *slog.Logger, metrics *metric.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		metrics: metrics,
	}
}

// Insert adds a started session to the registry, blocking on the lock.
// Ownership of the session transfers to the registry; the caller must not
// use the session afterwards.
func (r *Registry) Insert(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions = append(r.sessions, s)
	if r.metrics != nil {
		r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
}

// Sweep removes sessions whose IsInactive reports true. The lock is acquired
// with TryLock: under contention the sweep does nothing and returns -1, which
// bounds staleness to one extra sweep interval instead of ever blocking an
// insert or a delivery thread. Returns the number of removed sessions.
func (r *Registry) Sweep() int {
	if !r.mu.TryLock() {
		return -1
	}
	defer r.mu.Unlock()

	active := r.sessions[:0]
	removed := 0
	for _, s := range r.sessions {
		if s.IsInactive() {
			r.logger.Info("Removed stream",
				"session_id", s.ID(),
				"topic", s.Topic(),
				"codec", s.Codec())
			if r.metrics != nil {
				r.metrics.RecordSessionReaped(s.Codec())
			}
			removed++
			continue
		}
		active = append(active, s)
	}

	// Release removed entries for GC
	for i := len(active); i < len(r.sessions); i++ {
		r.sessions[i] = nil
	}
	r.sessions = active

	if r.metrics != nil {
		r.metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}

	return removed
}

// Len returns the number of held sessions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
