package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitchellwills/web-video-server/bus"
	"github.com/mitchellwills/web-video-server/codec"
	"github.com/mitchellwills/web-video-server/codec/mjpeg"
	"github.com/mitchellwills/web-video-server/codec/wsjpeg"
	"github.com/mitchellwills/web-video-server/session"
)

type fakeSub struct{}

func (fakeSub) Unsubscribe() error { return nil }

type fakeBus struct {
	sources    []bus.FrameSource
	listErr    error
	listPanics bool
}

func (f *fakeBus) ListSources(_ context.Context) ([]bus.FrameSource, error) {
	if f.listPanics {
		panic("bus exploded")
	}
	return f.sources, f.listErr
}

func (f *fakeBus) Subscribe(string, bus.FrameHandler) (bus.Subscription, error) {
	return fakeSub{}, nil
}

// fakeSession satisfies session.Session without any transport behind it
type fakeSession struct {
	topic    string
	codec    string
	started  atomic.Bool
	inactive atomic.Bool
}

func (f *fakeSession) ID() string       { return "fake-session" }
func (f *fakeSession) Topic() string    { return f.topic }
func (f *fakeSession) Codec() string    { return f.codec }
func (f *fakeSession) IsInactive() bool { return f.inactive.Load() }

func (f *fakeSession) Start() error {
	f.started.Store(true)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, b bus.Bus, codecs *codec.Registry) (*Server, *session.Registry, *httptest.Server) {
	t.Helper()

	if codecs == nil {
		codecs = codec.NewRegistry()
	}
	sessions := session.NewRegistry(testLogger(), nil)
	s := NewServer(Config{Addr: ":0", HTTPWorkers: 4}, codecs, sessions, b, testLogger(), nil)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, sessions, srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	return resp, string(body)
}

func TestUnknownCodecIsNotFoundAndCreatesNoSession(t *testing.T) {
	_, sessions, srv := newTestServer(t, &fakeBus{}, nil)

	for _, path := range []string{
		"/stream?type=nope&topic=/cam1/image_raw",
		"/stream_viewer?type=nope&topic=/cam1/image_raw",
		// No codec registered, so the default "mjpeg" also misses
		"/stream?topic=/cam1/image_raw",
	} {
		resp, body := get(t, srv.URL+path)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Contains(t, body, "Not Found", path)
	}

	assert.Zero(t, sessions.Len())
}

func TestStreamRegistersSessionForKnownCodec(t *testing.T) {
	codecs := codec.NewRegistry()
	started := make(chan session.Session, 1)
	require.NoError(t, codecs.Register(codec.Descriptor{
		Name: "fake",
		NewSession: func(_ http.ResponseWriter, r *http.Request, _ bus.Bus) (session.Session, error) {
			s := &fakeSession{topic: r.URL.Query().Get("topic"), codec: "fake"}
			started <- s
			return s, nil
		},
		ViewerFragment: func(*http.Request) string { return "<p>fake</p>" },
	}))

	b := &fakeBus{}
	_, sessions, srv := newTestServer(t, b, codecs)

	resp, _ := get(t, srv.URL+"/stream?type=fake&topic=/cam1/image_raw")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	s := <-started
	assert.True(t, s.(*fakeSession).started.Load())
	assert.Equal(t, 1, sessions.Len())
}

func TestStreamViewerEmbedsFragment(t *testing.T) {
	codecs := codec.NewRegistry()
	require.NoError(t, codecs.Register(codec.Descriptor{
		Name: "fake",
		NewSession: func(http.ResponseWriter, *http.Request, bus.Bus) (session.Session, error) {
			return &fakeSession{}, nil
		},
		ViewerFragment: func(r *http.Request) string {
			return "<p>viewing " + r.URL.Query().Get("topic") + "</p>"
		},
	}))
	_, _, srv := newTestServer(t, &fakeBus{}, codecs)

	resp, body := get(t, srv.URL+"/stream_viewer?type=fake&topic=/cam1/image_raw")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "<title>/cam1/image_raw</title>")
	assert.Contains(t, body, "<p>viewing /cam1/image_raw</p>")
}

func TestFaultedHandlerDoesNotPreventLaterRequests(t *testing.T) {
	b := &fakeBus{listPanics: true}
	_, _, srv := newTestServer(t, b, nil)

	// The directory handler panics on every call
	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()

	// An unrelated path still works afterwards
	resp, body := get(t, srv.URL+"/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"ok"`)
}

func TestDirectoryHandlerReportsBusFailure(t *testing.T) {
	b := &fakeBus{listErr: assert.AnError}
	_, _, srv := newTestServer(t, b, nil)

	resp, _ := get(t, srv.URL+"/")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestSnapshotWithoutTopicIsBadRequest(t *testing.T) {
	_, sessions, srv := newTestServer(t, &fakeBus{}, nil)

	resp, _ := get(t, srv.URL+"/snapshot")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, sessions.Len())
}

func TestActiveStreamDoesNotBlockOtherRequests(t *testing.T) {
	codecs := codec.NewRegistry()
	require.NoError(t, codecs.Register(mjpeg.Descriptor()))
	sessions := session.NewRegistry(testLogger(), nil)
	s := NewServer(Config{Addr: ":0", HTTPWorkers: 1}, codecs, sessions, &fakeBus{}, testLogger(), nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	client := &http.Client{Timeout: 2 * time.Second}

	// The multipart stream stays open for the life of the test
	stream, err := client.Get(srv.URL + "/stream?topic=/cam1/image_raw")
	require.NoError(t, err)
	t.Cleanup(func() { _ = stream.Body.Close() })
	require.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Eventually(t, func() bool { return sessions.Len() == 1 },
		2*time.Second, 10*time.Millisecond)

	// A single worker must still serve other requests while it streams
	resp, err := client.Get(srv.URL + "/health")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
}

func TestRejectedUpgradeGetsSingleReply(t *testing.T) {
	codecs := codec.NewRegistry()
	require.NoError(t, codecs.Register(wsjpeg.Descriptor()))
	_, sessions, srv := newTestServer(t, &fakeBus{}, codecs)

	// A plain GET fails the WebSocket handshake, which already answers the
	// client; the handler must not append a second reply
	resp, body := get(t, srv.URL+"/stream?type=ws&topic=/cam1/image_raw")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotContains(t, body, "invalid request")
	assert.Zero(t, sessions.Len())
}

func TestIndexListsPairedSources(t *testing.T) {
	b := &fakeBus{sources: []bus.FrameSource{
		{Name: "/cam1/camera_info", Kind: bus.KindSourceMetadata},
		{Name: "/cam1/image_raw", Kind: bus.KindImageFrame},
	}}
	_, _, srv := newTestServer(t, b, nil)

	resp, body := get(t, srv.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "/cam1/")
	assert.Contains(t, body, "/stream_viewer?topic=/cam1/image_raw")
	assert.Contains(t, body, "/snapshot?topic=/cam1/image_raw")
}
