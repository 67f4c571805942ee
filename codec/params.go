package codec

import (
	"bytes"
	"image"
	"image/jpeg"
	"net/http"
	"strconv"

	"golang.org/x/image/draw"

	"github.com/mitchellwills/web-video-server/errors"
)

// DefaultQuality is used when a transform re-encodes a frame and the request
// did not name a quality.
const DefaultQuality = 90

// TopicFromRequest extracts the mandatory topic query parameter
func TopicFromRequest(r *http.Request) (string, error) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		return "", errors.ErrMissingTopic
	}
	return topic, nil
}

// StreamParams holds the optional per-request output settings. Zero values
// mean "leave the frame alone" for that dimension.
type StreamParams struct {
	// Quality is the JPEG re-encode quality, 1-100. 0 means source quality.
	Quality int
	// Width is the output width in pixels. 0 keeps the source width.
	Width int
	// Height is the output height in pixels. 0 keeps the source height.
	Height int
}

// ParamsFromRequest parses the optional quality, width and height query
// parameters. Absent or malformed values fall back to zero.
func ParamsFromRequest(r *http.Request) StreamParams {
	q := r.URL.Query()
	return StreamParams{
		Quality: clampedInt(q.Get("quality"), 1, 100),
		Width:   clampedInt(q.Get("width"), 1, 1<<14),
		Height:  clampedInt(q.Get("height"), 1, 1<<14),
	}
}

func clampedInt(raw string, min, max int) int {
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return 0
	}
	return v
}

// PassThrough reports whether frames can be forwarded without re-encoding
func (p StreamParams) PassThrough() bool {
	return p.Quality == 0 && p.Width == 0 && p.Height == 0
}

// Transform decodes a JPEG frame, scales it to the requested dimensions and
// re-encodes it at the requested quality. A missing width or height is
// derived from the source aspect ratio. Frames that fail to decode are
// returned unchanged so a stream never stalls on one bad frame.
func (p StreamParams) Transform(data []byte) []byte {
	if p.PassThrough() {
		return data
	}

	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}

	out := src
	w, h := p.targetSize(src.Bounds())
	if w != src.Bounds().Dx() || h != src.Bounds().Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		out = dst
	}

	quality := p.Quality
	if quality == 0 {
		quality = DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: quality}); err != nil {
		return data
	}
	return buf.Bytes()
}

func (p StreamParams) targetSize(src image.Rectangle) (int, int) {
	w, h := p.Width, p.Height
	switch {
	case w == 0 && h == 0:
		return src.Dx(), src.Dy()
	case w == 0:
		return max(1, src.Dx()*h/src.Dy()), h
	case h == 0:
		return w, max(1, src.Dy()*w/src.Dx())
	}
	return w, h
}
