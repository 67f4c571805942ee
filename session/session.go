// Package session holds the streaming session lifecycle core: the Session
// contract, the mutex-guarded registry shared by request handlers, and the
// periodic sweeper that reclaims dead sessions.
package session

// Session is one active client-facing stream or one-shot snapshot. A session
// is created by a codec factory, started by the handler that created it, and
// then handed to the Registry, which owns it until a sweep removes it.
type Session interface {
	// ID uniquely identifies the session for logging
	ID() string

	// Topic returns the bound source name
	Topic() string

	// Codec returns the codec kind that produced this session
	Codec() string

	// Start begins asynchronous frame delivery to the bound connection.
	// The concurrency mechanism is entirely the codec's responsibility.
	Start() error

	// IsInactive reports whether the session is finished and can be
	// reclaimed. It is queried by the sweeper concurrently with ongoing
	// delivery and must never block.
	IsInactive() bool
}
