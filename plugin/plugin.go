package plugin

import (
	"sync"

	"github.com/vbe0201/wizproxy/protocol/frame"
)

// ListenerFunc is one packet listener's handler body. It may mutate
// frame in place (rewriting its payload) and returns false if the frame
// should be dropped instead of forwarded.
type ListenerFunc func(ctx *Context, fr *frame.Frame) (bool, error)

// Listener pairs a handler with the Filter selecting which frames it
// runs for and whether a match always marks the frame dirty (needing
// re-serialization) regardless of what the handler itself touched.
type Listener struct {
	Filter Filter
	Dirty  bool
	Func   ListenerFunc
}

// Plugin is a set of registered listeners sharing one dispatch lock, so
// listener bodies never need their own synchronization against
// concurrent dispatch from the two tunnel directions.
type Plugin struct {
	mu        sync.Mutex
	listeners []Listener
}

// NewPlugin builds a Plugin from its listener set.
func NewPlugin(listeners []Listener) *Plugin {
	return &Plugin{listeners: listeners}
}

// dispatch runs every listener whose filter matches dir/frame, returning
// false if any of them asked for the frame to be dropped.
func (p *Plugin) dispatch(dir Direction, ctx *Context, fr *frame.Frame) (bool, error) {
	keep := true

	for _, l := range p.listeners {
		if dir != l.Filter.Direction || !l.Filter.CanDispatch(fr) {
			continue
		}

		p.mu.Lock()
		res, err := l.Func(ctx, fr)
		p.mu.Unlock()
		if err != nil {
			return false, err
		}

		keep = keep && res
		if l.Dirty {
			fr.Dirty = true
		}
	}

	return keep, nil
}

// Collection holds every plugin registered with a proxy and dispatches
// frames through all of them in registration order.
type Collection struct {
	plugins []*Plugin
}

// NewCollection returns an empty Collection.
func NewCollection() *Collection {
	return &Collection{}
}

// Add registers p with the collection.
func (c *Collection) Add(p *Plugin) {
	c.plugins = append(c.plugins, p)
}

// Dispatch runs fr through every registered plugin's matching listeners,
// returning false if any listener asked for the frame to be dropped.
func (c *Collection) Dispatch(dir Direction, ctx *Context, fr *frame.Frame) (bool, error) {
	keep := true

	for _, p := range c.plugins {
		res, err := p.dispatch(dir, ctx, fr)
		if err != nil {
			return false, err
		}
		keep = keep && res
	}

	return keep, nil
}
