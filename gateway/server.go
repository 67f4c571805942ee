// Package gateway exposes frame sources over HTTP. It routes a fixed set of
// paths to handlers that create streaming sessions, render viewer pages and
// build the source directory. Every handler runs behind a fault isolation
// wrapper so one failing request never takes the server down.
package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/mitchellwills/web-video-server/bus"
	"github.com/mitchellwills/web-video-server/codec"
	"github.com/mitchellwills/web-video-server/codec/mjpeg"
	"github.com/mitchellwills/web-video-server/errors"
	"github.com/mitchellwills/web-video-server/metric"
	"github.com/mitchellwills/web-video-server/session"
	"github.com/mitchellwills/web-video-server/transport"
)

// DefaultCodec is used by /stream and /stream_viewer when the request does
// not name one
const DefaultCodec = "mjpeg"

const shutdownGrace = 5 * time.Second

// Config holds the gateway's listener settings
type Config struct {
	// Addr is the listen address, e.g. ":8080"
	Addr string
	// HTTPWorkers caps the number of concurrently executing request handlers
	HTTPWorkers int
}

// Server routes HTTP requests to codec sessions and directory pages
type Server struct {
	config   Config
	codecs   *codec.Registry
	sessions *session.Registry
	bus      bus.Bus
	logger   *slog.Logger
	metrics  *metric.Metrics
	workers  *semaphore.Weighted

	httpServer *http.Server
}

// NewServer creates a gateway over the given collaborators. The route table
// is fixed at construction.
func NewServer(cfg Config, codecs *codec.Registry, sessions *session.Registry,
	b bus.Bus, logger *slog.Logger, metrics *metric.Metrics) *Server {

	if cfg.HTTPWorkers <= 0 {
		cfg.HTTPWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:   cfg,
		codecs:   codecs,
		sessions: sessions,
		bus:      b,
		logger:   logger,
		metrics:  metrics,
		workers:  semaphore.NewWeighted(int64(cfg.HTTPWorkers)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.logAndRecover("/", s.handleIndex))
	mux.HandleFunc("/stream", s.logAndRecover("/stream", s.handleStream))
	mux.HandleFunc("/stream_viewer", s.logAndRecover("/stream_viewer", s.handleStreamViewer))
	mux.HandleFunc("/snapshot", s.logAndRecover("/snapshot", s.handleSnapshot))
	mux.HandleFunc("/health", s.logAndRecover("/health", s.handleHealth))

	s.httpServer = &http.Server{Handler: mux}
	return s
}

// Handler returns the routed handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Serve listens and serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return errors.WrapFatal(err, "Server", "Serve", "listen on "+s.config.Addr)
	}

	s.logger.Info("Waiting For connections",
		"addr", ln.Addr().String(),
		"http_workers", s.config.HTTPWorkers)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return errors.WrapTransient(err, "Server", "Serve", "serve connections")
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return errors.WrapTransient(err, "Server", "Serve", "graceful shutdown")
		}
		return nil
	}
}

// logAndRecover wraps a handler with request logging, the worker cap and
// fault isolation. The cap bounds concurrent handler executions; handlers
// that hijack the connection and return still release their slot, so live
// streams do not count against it. A panicking handler is logged at Warn and
// swallowed; the connection may be left without a well-formed reply, which is
// accepted.
func (s *Server) logAndRecover(path string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logger.Info("Handling Request", "path", path, "target", r.URL.RequestURI())
		if s.metrics != nil {
			s.metrics.RecordRequest(path)
		}

		if err := s.workers.Acquire(r.Context(), 1); err != nil {
			http.Error(w, "server busy", http.StatusServiceUnavailable)
			return
		}
		defer s.workers.Release(1)

		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Warn("Error Handling Request", "path", path, "error", rec)
				if s.metrics != nil {
					s.metrics.RecordFault(path)
				}
			}
		}()

		h(w, r)
	}
}

// handleIndex renders the source directory
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		transport.NotFound(w)
		return
	}

	sources, err := s.bus.ListSources(r.Context())
	if err != nil {
		s.logger.Warn("Source listing failed", "error", err)
		http.Error(w, "source listing unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Server", transport.ServerName)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(renderDirectory(sources)))
}

// handleStream creates and registers a streaming session for the requested
// codec. Unknown codecs get the stock 404 and no session is created.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	name := codecName(r)
	desc, err := s.codecs.Lookup(name)
	if err != nil {
		transport.NotFound(w)
		return
	}

	sess, err := desc.NewSession(w, r, s.bus)
	if err != nil {
		s.replySessionError(w, r, name, err)
		return
	}
	s.startAndRegister(sess)
}

// handleStreamViewer renders an HTML page embedding the codec's viewer
func (s *Server) handleStreamViewer(w http.ResponseWriter, r *http.Request) {
	name := codecName(r)
	desc, err := s.codecs.Lookup(name)
	if err != nil {
		transport.NotFound(w)
		return
	}

	topic := r.URL.Query().Get("topic")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Server", transport.ServerName)
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<html><head><title>%s</title></head><body><h1>%s</h1>\n%s\n</body></html>\n",
		html.EscapeString(topic), html.EscapeString(topic), desc.ViewerFragment(r))
}

// handleSnapshot creates a single-frame capture session with the fixed
// snapshot codec
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, err := mjpeg.NewSnapshotSession(w, r, s.bus)
	if err != nil {
		s.replySessionError(w, r, mjpeg.SnapshotCodecName, err)
		return
	}
	s.startAndRegister(sess)
}

// handleHealth reports liveness
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

// startAndRegister starts a freshly created session and hands ownership to
// the registry. After Insert returns the handler must not touch the session.
func (s *Server) startAndRegister(sess session.Session) {
	if err := sess.Start(); err != nil {
		s.logger.Warn("Session start failed",
			"session_id", sess.ID(), "topic", sess.Topic(), "codec", sess.Codec(),
			"error", err)
		return
	}

	s.logger.Info("Started stream",
		"session_id", sess.ID(), "topic", sess.Topic(), "codec", sess.Codec())
	if s.metrics != nil {
		s.metrics.RecordSessionStarted(sess.Codec())
	}
	s.sessions.Insert(sess)
}

// replySessionError answers a failed session creation. The connection may
// already be hijacked, in which case the reply write is a no-op. Failures
// that already wrote a reply (a rejected WebSocket upgrade) get no second one.
func (s *Server) replySessionError(w http.ResponseWriter, r *http.Request, codecName string, err error) {
	s.logger.Warn("Session creation failed",
		"path", r.URL.Path, "codec", codecName, "error", err)

	if stderrors.Is(err, errors.ErrReplySent) {
		return
	}
	if errors.IsInvalid(err) {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	http.Error(w, "stream unavailable", http.StatusInternalServerError)
}

func codecName(r *http.Request) string {
	if name := r.URL.Query().Get("type"); name != "" {
		return name
	}
	return DefaultCodec
}
