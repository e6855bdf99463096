// Package plugin implements the frame-inspection pipeline: plugins
// register listeners filtered by direction and opcode/service/order
// addressing, and every frame passing through a shard's tunnel is
// dispatched to each matching listener in registration order.
//
// Listeners are registered explicitly in a constructor (see
// builtin.New in the plugin/builtin package) rather than discovered by
// reflection, so a plugin's listener set is visible at its call site
// instead of scattered across struct tags.
package plugin

import (
	"errors"

	"github.com/vbe0201/wizproxy/protocol/frame"
)

// Direction is the direction a frame is travelling when a listener is
// asked to consider it.
type Direction int

const (
	// ServerToClient listeners only see frames flowing from the real
	// server back to the client.
	ServerToClient Direction = iota
	// ClientToServer listeners only see frames flowing from the client
	// toward the real server.
	ClientToServer
)

// ErrInvalidFilter indicates a Filter's selector fields describe an
// impossible combination (both a control opcode and a data service, or
// an order without a service to scope it).
var ErrInvalidFilter = errors.New("plugin: invalid filter")

// Filter selects which frames a listener is invoked for. A nil field
// means "don't filter on this". At most one of Opcode or ServiceID may
// be set; Order requires ServiceID.
type Filter struct {
	Direction Direction
	Opcode    *byte
	ServiceID *byte
	Order     *byte
}

// NewFilter validates and constructs a Filter.
func NewFilter(dir Direction, opcode, serviceID, order *byte) (Filter, error) {
	if opcode != nil && serviceID != nil {
		return Filter{}, errors.New("plugin: unsupported filter for control and data frames")
	}
	if order != nil && serviceID == nil {
		return Filter{}, errors.New("plugin: cannot filter by order without service")
	}
	return Filter{Direction: dir, Opcode: opcode, ServiceID: serviceID, Order: order}, nil
}

// CanDispatch reports whether f matches the given frame's addressing.
func (f Filter) CanDispatch(fr *frame.Frame) bool {
	if f.Opcode != nil {
		return fr.IsControl && fr.Opcode == *f.Opcode
	}
	if f.ServiceID != nil {
		if fr.IsControl {
			return false
		}
		if f.Order == nil {
			return fr.ServiceID == *f.ServiceID
		}
		return fr.ServiceID == *f.ServiceID && fr.Order == *f.Order
	}
	return true
}

// Byte is a small helper for building Filter selectors from literals,
// since Go has no syntax for a pointer to a constant.
func Byte(v byte) *byte { return &v }
