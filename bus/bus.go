// Package bus defines the frame-source bus consumed by the gateway and codecs,
// and provides its NATS-backed implementation.
//
// A frame source is a hierarchical topic name (for example /cam1/image_raw)
// carrying either image frames or source metadata. Sources self-register in a
// catalog; ListSources reflects the catalog at query time with no caching.
package bus

import (
	"context"
	"time"
)

// SourceKind declares what a frame source carries
type SourceKind string

const (
	// KindImageFrame marks sources publishing encoded image frames
	KindImageFrame SourceKind = "image-frame"
	// KindSourceMetadata marks sources publishing source metadata
	KindSourceMetadata SourceKind = "source-metadata"
)

// FrameSource identifies one published source at query time.
// It is an immutable snapshot, not a live handle.
type FrameSource struct {
	Name string     `json:"name"`
	Kind SourceKind `json:"kind"`
}

// Frame is one delivered image frame. Data is shared by reference and must
// not be modified after delivery.
type Frame struct {
	Data      []byte
	Timestamp time.Time
	Seq       uint64
}

// FrameHandler receives delivered frames. Handlers run on bus delivery
// workers and must not block indefinitely.
type FrameHandler func(Frame)

// Subscription is a live frame subscription
type Subscription interface {
	Unsubscribe() error
}

// Bus supplies topic discovery and frame delivery
type Bus interface {
	// ListSources returns all currently published sources. Enumeration
	// failures propagate to the caller; the bus does not retry.
	ListSources(ctx context.Context) ([]FrameSource, error)

	// Subscribe registers a frame handler for a topic
	Subscribe(topic string, fn FrameHandler) (Subscription, error)
}
