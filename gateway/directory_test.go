package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mitchellwills/web-video-server/bus"
)

func TestGroupSourcesPairing(t *testing.T) {
	sources := []bus.FrameSource{
		{Name: "/cam1/camera_info", Kind: bus.KindSourceMetadata},
		{Name: "/cam2/camera_info", Kind: bus.KindSourceMetadata},
		{Name: "/cam1/image_raw", Kind: bus.KindImageFrame},
		{Name: "/cam2/image_raw", Kind: bus.KindImageFrame},
		{Name: "/cam2/image_raw/compressed", Kind: bus.KindImageFrame},
		{Name: "/other/image_raw", Kind: bus.KindImageFrame},
	}

	groups := groupSources(sources)
	require.Len(t, groups, 2)

	assert.Equal(t, "/cam1/", groups[0].base)
	assert.Equal(t, []string{"/cam1/image_raw"}, groups[0].topics)

	assert.Equal(t, "/cam2/", groups[1].base)
	assert.Equal(t, []string{"/cam2/image_raw", "/cam2/image_raw/compressed"}, groups[1].topics)
}

func TestGroupSourcesHidesUnpairedDataTopics(t *testing.T) {
	sources := []bus.FrameSource{
		{Name: "/cam1/camera_info", Kind: bus.KindSourceMetadata},
		{Name: "/other/image_raw", Kind: bus.KindImageFrame},
	}

	page := renderDirectory(sources)
	assert.NotContains(t, page, "/other/image_raw")
}

func TestGroupSourcesSkipsMetadataWithoutSuffix(t *testing.T) {
	sources := []bus.FrameSource{
		{Name: "/sensor/info", Kind: bus.KindSourceMetadata},
		{Name: "/sensor/image_raw", Kind: bus.KindImageFrame},
	}

	groups := groupSources(sources)
	assert.Empty(t, groups)
	assert.NotContains(t, renderDirectory(sources), "/sensor/image_raw")
}

func TestGroupSourcesFirstMatchWins(t *testing.T) {
	// Both bases would match the nested topic; the first discovered claims it
	sources := []bus.FrameSource{
		{Name: "/cam/camera_info", Kind: bus.KindSourceMetadata},
		{Name: "/cam/front/camera_info", Kind: bus.KindSourceMetadata},
		{Name: "/cam/front/image_raw", Kind: bus.KindImageFrame},
	}

	groups := groupSources(sources)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"/cam/front/image_raw"}, groups[0].topics)
	assert.Empty(t, groups[1].topics)
}

func TestRenderDirectoryLinksAndLabels(t *testing.T) {
	sources := []bus.FrameSource{
		{Name: "/cam2/camera_info", Kind: bus.KindSourceMetadata},
		{Name: "/cam2/image_raw", Kind: bus.KindImageFrame},
		{Name: "/cam2/image_raw/compressed", Kind: bus.KindImageFrame},
	}

	page := renderDirectory(sources)
	assert.Contains(t, page, "<li>/cam2/<ul>")
	assert.Contains(t, page, "<li>image_raw: ")
	assert.Contains(t, page, "<li>image_raw/compressed: ")
	assert.Contains(t, page, `<a href="/stream_viewer?topic=/cam2/image_raw">Stream Viewer</a>`)
	assert.Contains(t, page, `<a href="/snapshot?topic=/cam2/image_raw">Snapshot</a>`)
}
