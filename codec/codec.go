// Package codec provides the registry of streaming codecs. Each codec is a
// data-carrying descriptor holding two capabilities: a session factory that
// binds a source to a client connection, and a pure viewer-fragment renderer
// embedded into directory and viewer pages.
//
// The registry is populated once at process start and never mutated
// afterwards, so lookups need no synchronization.
package codec

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/mitchellwills/web-video-server/bus"
	"github.com/mitchellwills/web-video-server/errors"
	"github.com/mitchellwills/web-video-server/session"
)

// Factory creates a session bound to the requested source and the client
// connection behind w. The factory decides how to take over the connection
// (hijack, websocket upgrade). It must not block on network I/O beyond what
// the HTTP layer already guarantees, and the returned session must report
// active until the transport or bus invalidates it.
type Factory func(w http.ResponseWriter, r *http.Request, b bus.Bus) (session.Session, error)

// ViewerRenderer returns an HTML fragment embedding a viewer for the request.
// It must be pure: no side effects, no session creation.
type ViewerRenderer func(r *http.Request) string

// Descriptor describes one registered codec
type Descriptor struct {
	Name           string
	NewSession     Factory
	ViewerFragment ViewerRenderer
}

// Registry maps codec names to descriptors. Register at startup, then only
// Lookup.
type Registry struct {
	descriptors map[string]Descriptor
}

// NewRegistry creates an empty codec registry
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// Register adds a codec descriptor. Duplicate or incomplete descriptors are
// rejected; this only runs during startup wiring.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("codec name cannot be empty")
	}
	if d.NewSession == nil {
		return fmt.Errorf("codec %s has no session factory", d.Name)
	}
	if d.ViewerFragment == nil {
		return fmt.Errorf("codec %s has no viewer renderer", d.Name)
	}
	if _, exists := r.descriptors[d.Name]; exists {
		return fmt.Errorf("codec %s already registered", d.Name)
	}

	r.descriptors[d.Name] = d
	return nil
}

// Lookup returns the descriptor for a codec name, or ErrUnknownCodec on a
// miss. A miss means the calling handler serves the stock not-found reply.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	d, ok := r.descriptors[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", errors.ErrUnknownCodec, name)
	}
	return d, nil
}

// Names returns registered codec names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
