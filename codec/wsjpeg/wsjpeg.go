// Package wsjpeg implements the JPEG-over-WebSocket codec. Each frame is
// delivered as one binary WebSocket message, which the embedded viewer paints
// onto an <img> via an object URL.
package wsjpeg

import (
	"fmt"
	"html"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mitchellwills/web-video-server/bus"
	"github.com/mitchellwills/web-video-server/codec"
	"github.com/mitchellwills/web-video-server/errors"
	"github.com/mitchellwills/web-video-server/session"
)

// CodecName is the value of the type request parameter selecting this codec
const CodecName = "ws"

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 32 * 1024,
	// Streams are embeddable from any page, same as the multipart codec
	CheckOrigin: func(*http.Request) bool { return true },
}

// Descriptor returns the registry entry for the WebSocket codec
func Descriptor() codec.Descriptor {
	return codec.Descriptor{
		Name:           CodecName,
		NewSession:     newStreamSession,
		ViewerFragment: viewerFragment,
	}
}

// StreamSession pushes JPEG frames to a WebSocket client until the client
// goes away.
type StreamSession struct {
	id     string
	topic  string
	ws     *websocket.Conn
	bus    bus.Bus
	params codec.StreamParams

	startOnce sync.Once
	stopOnce  sync.Once
	writeMu   sync.Mutex
	sub       bus.Subscription
	subMu     sync.Mutex
	inactive  atomic.Bool
}

func newStreamSession(w http.ResponseWriter, r *http.Request, b bus.Bus) (session.Session, error) {
	topic, err := codec.TopicFromRequest(r)
	if err != nil {
		return nil, err
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrReplySent, err),
			"WSSession", "newStreamSession", "upgrade connection")
	}

	return &StreamSession{
		id:     uuid.NewString(),
		topic:  topic,
		ws:     ws,
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

// Start subscribes to the topic and begins the read loop that notices client
// disconnects. Frames flow to the client from bus workers.
func (s *StreamSession) Start() error {
	if s.inactive.Load() {
		return errors.ErrSessionStopped
	}

	var startErr error
	s.startOnce.Do(func() {
		sub, err := s.bus.Subscribe(s.topic, s.onFrame)
		if err != nil {
			s.shutdown()
			startErr = errors.Wrap(err, "WSSession", "Start", "subscribe")
			return
		}

		s.subMu.Lock()
		s.sub = sub
		s.subMu.Unlock()

		if s.inactive.Load() {
			s.unsubscribe()
			return
		}

		go s.readLoop()
	})
	return startErr
}

// IsInactive reports whether the client has disconnected. Never blocks.
func (s *StreamSession) IsInactive() bool {
	return s.inactive.Load()
}

// readLoop discards inbound messages. Its real job is returning an error the
// moment the peer closes, which retires the session.
func (s *StreamSession) readLoop() {
	for {
		if _, _, err := s.ws.ReadMessage(); err != nil {
			s.shutdown()
			return
		}
	}
}

// onFrame sends one frame as a binary message. Runs on a bus worker.
func (s *StreamSession) onFrame(frame bus.Frame) {
	if s.inactive.Load() {
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.ws.WriteMessage(websocket.BinaryMessage, s.params.Transform(frame.Data)); err != nil {
		s.shutdown()
	}
}

func (s *StreamSession) shutdown() {
	s.stopOnce.Do(func() {
		s.inactive.Store(true)
		s.unsubscribe()
		_ = s.ws.Close()
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

// viewerFragment renders an <img> fed by a WebSocket client script,
// forwarding the output parameters to the stream it opens
func viewerFragment(r *http.Request) string {
	topic := html.EscapeString(r.URL.Query().Get("topic"))
	query := fmt.Sprintf("type=%s&topic=%s", CodecName, topic)
	p := codec.ParamsFromRequest(r)
	if p.Quality != 0 {
		query += fmt.Sprintf("&quality=%d", p.Quality)
	}
	if p.Width != 0 {
		query += fmt.Sprintf("&width=%d", p.Width)
	}
	if p.Height != 0 {
		query += fmt.Sprintf("&height=%d", p.Height)
	}
	return fmt.Sprintf(`<img id="ws-view" alt="%s">
<script>
(function() {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/stream?%s");
  ws.binaryType = "blob";
  var img = document.getElementById("ws-view");
  ws.onmessage = function(ev) {
    var url = URL.createObjectURL(ev.data);
    img.onload = function() { URL.revokeObjectURL(url); };
    img.src = url;
  };
})();
</script>`, topic, query)
}
