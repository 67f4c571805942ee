package codec

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitchellwills/web-video-server/bus"
	"github.com/mitchellwills/web-video-server/errors"
	"github.com/mitchellwills/web-video-server/session"
)

func testDescriptor(name string) Descriptor {
	return Descriptor{
		Name: name,
		NewSession: func(_ http.ResponseWriter, _ *http.Request, _ bus.Bus) (session.Session, error) {
			return nil, nil
		},
		ViewerFragment: func(_ *http.Request) string { return "<img>" },
	}
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(testDescriptor("mjpeg")))
	require.NoError(t, registry.Register(testDescriptor("ws")))

	d, err := registry.Lookup("mjpeg")
	require.NoError(t, err)
	assert.Equal(t, "mjpeg", d.Name)

	_, err = registry.Lookup("vp8")
	assert.ErrorIs(t, err, errors.ErrUnknownCodec, "unregistered codec must miss")
	assert.True(t, errors.IsInvalid(err))

	assert.Equal(t, []string{"mjpeg", "ws"}, registry.Names())
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	registry := NewRegistry()

	require.NoError(t, registry.Register(testDescriptor("mjpeg")))
	assert.Error(t, registry.Register(testDescriptor("mjpeg")))
}

func TestRegistry_RejectsIncompleteDescriptors(t *testing.T) {
	registry := NewRegistry()

	assert.Error(t, registry.Register(Descriptor{}))

	d := testDescriptor("mjpeg")
	d.NewSession = nil
	assert.Error(t, registry.Register(d))

	d = testDescriptor("mjpeg")
	d.ViewerFragment = nil
	assert.Error(t, registry.Register(d))
}
