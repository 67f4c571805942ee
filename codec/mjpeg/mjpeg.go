// Package mjpeg implements the multipart-JPEG streaming codec. Each frame is
// written as one part of a multipart/x-mixed-replace body, which browsers
// render as a continuously updating image.
package mjpeg

import (
	"fmt"
	"html"
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

// CodecName is the registry key for this codec
const CodecName = "mjpeg"

// boundary separates frames in the multipart body
const boundary = "boundarydonotcross"

// Descriptor returns the registry entry for the mjpeg codec
func Descriptor() codec.Descriptor {
	return codec.Descriptor{
		Name:           CodecName,
		NewSession:     newStreamSession,
		ViewerFragment: viewerFragment,
	}
}

// StreamSession streams frames from one topic into one client connection
// until a write fails or the client disconnects.
type StreamSession struct {
	id     string
	topic  string
	conn   *transport.Connection
	bus    bus.Bus
	params codec.StreamParams

	startOnce sync.Once
	stopOnce  sync.Once
	sub       bus.Subscription
	subMu     sync.Mutex
	inactive  atomic.Bool
}

func newStreamSession(w http.ResponseWriter, r *http.Request, b bus.Bus) (session.Session, error) {
	topic, err := codec.TopicFromRequest(r)
	if err != nil {
		return nil, err
	}

	conn, err := transport.Hijack(w)
	if err != nil {
		return nil, errors.Wrap(err, "StreamSession", "newStreamSession", "take over connection")
	}

	return &StreamSession{
		id:     uuid.NewString(),
		topic:  topic,
		conn:   conn,
		bus:    b,
		params: codec.ParamsFromRequest(r),
	}, nil
}

// ID returns the session identifier
func (s *StreamSession) ID() string { return s.id }

// Topic returns the bound source name
func (s *StreamSession) Topic() string { return s.topic }

// Codec returns the codec name
func (s *StreamSession) Codec() string { return CodecName }

// Start writes the multipart response header and subscribes to the topic.
// Frame delivery happens on bus workers from here on.
func (s *StreamSession) Start() error {
	if s.inactive.Load() {
		return errors.ErrSessionStopped
	}

	var startErr error
	s.startOnce.Do(func() {
		err := s.conn.WriteResponse(http.StatusOK, map[string]string{
			"Connection":    "close",
			"Server":        transport.ServerName,
			"Cache-Control": "no-cache, no-store, must-revalidate, pre-check=0, post-check=0, max-age=0",
			"Pragma":        "no-cache",
			"Content-Type":  "multipart/x-mixed-replace;boundary=" + boundary,
		})
		if err != nil {
			s.shutdown()
			startErr = errors.Wrap(err, "StreamSession", "Start", "write response header")
			return
		}

		sub, err := s.bus.Subscribe(s.topic, s.onFrame)
		if err != nil {
			s.shutdown()
			startErr = errors.Wrap(err, "StreamSession", "Start", "subscribe")
			return
		}

		s.subMu.Lock()
		s.sub = sub
		s.subMu.Unlock()

		// Subscription may have raced with a client disconnect
		if s.inactive.Load() {
			s.unsubscribe()
		}
	})
	return startErr
}

// IsInactive reports whether the client is gone. Never blocks.
func (s *StreamSession) IsInactive() bool {
	return s.inactive.Load() || s.conn.Closed()
}

// onFrame writes one frame as a multipart part. Runs on a bus worker.
func (s *StreamSession) onFrame(frame bus.Frame) {
	if s.inactive.Load() {
		return
	}

	data := s.params.Transform(frame.Data)
	part := fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n",
		boundary, len(data))

	if err := s.conn.WriteString(part); err != nil {
		s.shutdown()
		return
	}
	if err := s.conn.Write(data); err != nil {
		s.shutdown()
		return
	}
	if err := s.conn.WriteString("\r\n"); err != nil {
		s.shutdown()
	}
}

// shutdown marks the session dead and releases its resources. The sweeper
// removes it from the registry on a later pass.
func (s *StreamSession) shutdown() {
	s.stopOnce.Do(func() {
		s.inactive.Store(true)
		s.unsubscribe()
		_ = s.conn.Close()
	})
}

func (s *StreamSession) unsubscribe() {
	s.subMu.Lock()
	sub := s.sub
	s.sub = nil
	s.subMu.Unlock()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
}

// viewerFragment renders the embeddable viewer for a topic, forwarding the
// output parameters to the stream it embeds
func viewerFragment(r *http.Request) string {
	topic := r.URL.Query().Get("topic")
	src := fmt.Sprintf("/stream?type=%s&topic=%s", CodecName, html.EscapeString(topic))

	var attrs string
	p := codec.ParamsFromRequest(r)
	if p.Quality != 0 {
		src += fmt.Sprintf("&quality=%d", p.Quality)
	}
	if p.Width != 0 {
		src += fmt.Sprintf("&width=%d", p.Width)
		attrs += fmt.Sprintf(` width="%d"`, p.Width)
	}
	if p.Height != 0 {
		src += fmt.Sprintf("&height=%d", p.Height)
		attrs += fmt.Sprintf(` height="%d"`, p.Height)
	}

	return fmt.Sprintf(`<img src="%s" alt="%s"%s>`, src, html.EscapeString(topic), attrs)
}
