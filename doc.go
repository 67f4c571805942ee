// Package webvideoserver is an HTTP gateway that turns live frame sources
// published on a NATS bus into on-demand video streams.
//
// Publishers announce frame sources in a JetStream KV catalog and push JPEG
// frames on per-topic subjects. The gateway discovers the sources, renders a
// navigable directory, and serves each source as a multipart MJPEG stream, a
// JPEG-over-WebSocket stream, or a single snapshot.
//
// Packages:
//   - bus: frame source catalog and frame delivery over NATS
//   - transport: connection handle taken over from the HTTP layer
//   - codec: codec registry; mjpeg and wsjpeg implementations
//   - session: session registry and the periodic cleanup sweep
//   - gateway: request router, viewer pages and the source directory
//   - natsclient: NATS connection management
//   - metric: Prometheus metrics registry and exposer
//   - config: file and environment configuration
//
// The cmd/web-video-server binary wires these together; cmd/frame-publisher
// is a demo publisher.
package webvideoserver
