package mjpeg

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/mitchellwills/web-video-server/bus"
	"github.com/mitchellwills/web-video-server/codec"
	"github.com/mitchellwills/web-video-server/errors"
	"github.com/mitchellwills/web-video-server/session"
	"github.com/mitchellwills/web-video-server/transport"
)

// SnapshotCodecName identifies snapshot sessions in sweep logs
const SnapshotCodecName = "jpeg-snapshot"

// SnapshotSession captures a single frame from a topic, writes it as one
// complete JPEG response, and becomes inactive.
type SnapshotSession struct {
	id     string
	topic  string
	conn   *transport.Connection
	bus    bus.Bus
	params codec.StreamParams

	startOnce sync.Once
	stopOnce  sync.Once
	captured  atomic.Bool
	sub       bus.Subscription
	subMu     sync.Mutex
	inactive  atomic.Bool
}

// NewSnapshotSession creates the fixed-codec session used by /snapshot
func NewSnapshotSession(w http.ResponseWriter, r *http.Request, b bus.Bus) (session.Session, error) {
	topic, err := codec.TopicFromRequest(r)
	if err != nil {
		return nil, err
	}

	conn, err := transport.Hijack(w)
	if err != nil {
		return nil, errors.Wrap(err, "SnapshotSession", "NewSnapshotSession", "take over connection")
	}

	return &SnapshotSession{
		id:     uuid.NewString(),
		topic:  topic,
		conn:   conn,
		bus:    b,
		params: codec.ParamsFromRequest(r),
	}, nil
}

// ID returns the session identifier
func (s *SnapshotSession) ID() string { return s.id }

// Topic returns the bound source name
func (s *SnapshotSession) Topic() string { return s.topic }

// Codec returns the codec name
func (s *SnapshotSession) Codec() string { return SnapshotCodecName }

// Start subscribes and waits for the next frame to arrive asynchronously
func (s *SnapshotSession) Start() error {
	if s.inactive.Load() {
		return errors.ErrSessionStopped
	}

	var startErr error
	s.startOnce.Do(func() {
		sub, err := s.bus.Subscribe(s.topic, s.onFrame)
		if err != nil {
			s.shutdown()
			startErr = errors.Wrap(err, "SnapshotSession", "Start", "subscribe")
			return
		}

		s.subMu.Lock()
		s.sub = sub
		s.subMu.Unlock()

		if s.inactive.Load() {
			s.unsubscribe()
		}
	})
	return startErr
}

// IsInactive reports whether the snapshot has been delivered or the client
// is gone. Never blocks.
func (s *SnapshotSession) IsInactive() bool {
	return s.inactive.Load() || s.conn.Closed()
}

// onFrame delivers the single snapshot. Only the first frame wins.
func (s *SnapshotSession) onFrame(frame bus.Frame) {
	if s.captured.Swap(true) {
		return
	}

	data := s.params.Transform(frame.Data)
	err := s.conn.WriteResponse(http.StatusOK, map[string]string{
		"Connection":     "close",
		"Server":         transport.ServerName,
		"Cache-Control":  "no-cache, no-store, must-revalidate, pre-check=0, post-check=0, max-age=0",
		"Pragma":         "no-cache",
		"Content-Type":   "image/jpeg",
		"Content-Length": fmt.Sprintf("%d", len(data)),
	})
	if err == nil {
		_ = s.conn.Write(data)
	}

	s.shutdown()
}

func (s *SnapshotSession) shutdown() {
	s.stopOnce.Do(func() {
		s.inactive.Store(true)
		s.unsubscribe()
		_ = s.conn.Close()
	})
}

func (s *SnapshotSession) unsubscribe() {
	s.subMu.Lock()
	sub := s.sub
	s.sub = nil
	s.subMu.Unlock()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
}
