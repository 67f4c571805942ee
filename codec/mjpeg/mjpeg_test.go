package mjpeg

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitchellwills/web-video-server/bus"
	"github.com/mitchellwills/web-video-server/codec"
	"github.com/mitchellwills/web-video-server/errors"
	"github.com/mitchellwills/web-video-server/transport"
)

type fakeSub struct {
	unsubscribed bool
	mu           sync.Mutex
}

func (f *fakeSub) Unsubscribe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = true
	return nil
}

func (f *fakeSub) isUnsubscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed
}

type fakeBus struct {
	mu      sync.Mutex
	handler bus.FrameHandler
	sub     *fakeSub
	subErr  error
}

func (f *fakeBus) ListSources(_ context.Context) ([]bus.FrameSource, error) {
	return nil, nil
}

func (f *fakeBus) Subscribe(_ string, fn bus.FrameHandler) (bus.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.handler = fn
	f.sub = &fakeSub{}
	return f.sub, nil
}

func (f *fakeBus) push(frame bus.Frame) {
	f.mu.Lock()
	fn := f.handler
	f.mu.Unlock()
	if fn != nil {
		fn(frame)
	}
}

// drain reads everything written to the far end of the pipe until it closes
func drain(t *testing.T, conn net.Conn) (<-chan string, func()) {
	t.Helper()

	out := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(conn)
		out <- string(data)
	}()
	return out, func() { _ = conn.Close() }
}

func newTestStream(t *testing.T, b *fakeBus) (*StreamSession, net.Conn) {
	t.Helper()

	client, server := net.Pipe()
	s := &StreamSession{
		id:    uuid.NewString(),
		topic: "/cam1/image_raw",
		conn:  transport.NewConnection(server),
		bus:   b,
	}
	return s, client
}

func TestStreamSessionWritesMultipartFrames(t *testing.T) {
	b := &fakeBus{}
	s, client := newTestStream(t, b)
	out, stop := drain(t, client)

	require.NoError(t, s.Start())
	b.push(bus.Frame{Data: []byte("first-jpeg"), Timestamp: time.Now(), Seq: 1})
	b.push(bus.Frame{Data: []byte("second"), Timestamp: time.Now(), Seq: 2})

	stop()
	got := <-out

	assert.Contains(t, got, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, got, "Content-Type: multipart/x-mixed-replace;boundary="+boundary)
	assert.Contains(t, got,
		fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: 10\r\n\r\nfirst-jpeg\r\n", boundary))
	assert.Contains(t, got,
		fmt.Sprintf("--%s\r\nContent-Type: image/jpeg\r\nContent-Length: 6\r\n\r\nsecond\r\n", boundary))
}

func TestStreamSessionResizesFrames(t *testing.T) {
	b := &fakeBus{}
	s, client := newTestStream(t, b)
	s.params = codec.StreamParams{Width: 16, Height: 12}
	out, stop := drain(t, client)

	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	var jpg bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, img, nil))

	require.NoError(t, s.Start())
	b.push(bus.Frame{Data: jpg.Bytes(), Seq: 1})

	stop()
	got := <-out

	idx := strings.LastIndex(got, "\r\n\r\n")
	require.Positive(t, idx)
	payload := strings.TrimSuffix(got[idx+4:], "\r\n")
	decoded, err := jpeg.Decode(strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 12), decoded.Bounds())
}

func TestStreamSessionGoesInactiveOnWriteFailure(t *testing.T) {
	b := &fakeBus{}
	s, client := newTestStream(t, b)
	out, _ := drain(t, client)

	require.NoError(t, s.Start())
	assert.False(t, s.IsInactive())

	// Client disconnects; the next frame write must fail and retire the session
	_ = client.Close()
	<-out
	b.push(bus.Frame{Data: []byte("lost"), Seq: 3})

	assert.True(t, s.IsInactive())
	require.NotNil(t, b.sub)
	assert.True(t, b.sub.isUnsubscribed())
}

func TestStreamSessionSubscribeFailure(t *testing.T) {
	b := &fakeBus{subErr: fmt.Errorf("bus down")}
	s, client := newTestStream(t, b)
	_, stop := drain(t, client)
	defer stop()

	err := s.Start()
	require.Error(t, err)
	assert.True(t, s.IsInactive())
}

func TestStreamSessionStartAfterShutdown(t *testing.T) {
	b := &fakeBus{}
	s, client := newTestStream(t, b)
	_, stop := drain(t, client)
	defer stop()

	s.shutdown()
	assert.ErrorIs(t, s.Start(), errors.ErrSessionStopped)
}

func TestStreamSessionIdentity(t *testing.T) {
	b := &fakeBus{}
	s, client := newTestStream(t, b)
	_, stop := drain(t, client)
	defer stop()

	assert.NotEmpty(t, s.ID())
	assert.Equal(t, "/cam1/image_raw", s.Topic())
	assert.Equal(t, CodecName, s.Codec())
}

func TestSnapshotSessionDeliversSingleFrame(t *testing.T) {
	b := &fakeBus{}
	client, server := net.Pipe()
	s := &SnapshotSession{
		id:    uuid.NewString(),
		topic: "/cam1/image_raw",
		conn:  transport.NewConnection(server),
		bus:   b,
	}
	out, _ := drain(t, client)

	require.NoError(t, s.Start())
	assert.Equal(t, SnapshotCodecName, s.Codec())
	assert.False(t, s.IsInactive())

	b.push(bus.Frame{Data: []byte("only-frame"), Seq: 1})
	b.push(bus.Frame{Data: []byte("too-late"), Seq: 2})

	got := <-out
	assert.Contains(t, got, "HTTP/1.1 200 OK\r\n")
	assert.Contains(t, got, "Content-Type: image/jpeg\r\n")
	assert.Contains(t, got, "Content-Length: 10\r\n")
	assert.True(t, strings.HasSuffix(got, "only-frame"))
	assert.NotContains(t, got, "too-late")

	assert.True(t, s.IsInactive())
	require.NotNil(t, b.sub)
	assert.True(t, b.sub.isUnsubscribed())
}

func TestViewerFragmentEscapesTopic(t *testing.T) {
	r := httptest.NewRequest("GET", "/stream_viewer?topic=/cam<1>/image_raw", nil)
	frag := viewerFragment(r)

	assert.Contains(t, frag, "&lt;1&gt;")
	assert.NotContains(t, frag, "<1>")
}
