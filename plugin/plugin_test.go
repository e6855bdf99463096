package plugin

import (
	"net"
	"testing"

	"github.com/vbe0201/wizproxy/protocol/frame"
)

type fakeShard struct{}

func (fakeShard) SelfAddr() net.Addr   { return &net.TCPAddr{} }
func (fakeShard) RemoteAddr() net.Addr { return &net.TCPAddr{} }
func (fakeShard) SpawnShard(addr net.Addr) (net.Addr, error) {
	return addr, nil
}

func TestFilterValidation(t *testing.T) {
	if _, err := NewFilter(ServerToClient, Byte(1), Byte(2), nil); err == nil {
		t.Fatalf("expected error for opcode+serviceID combination")
	}
	if _, err := NewFilter(ServerToClient, nil, nil, Byte(1)); err == nil {
		t.Fatalf("expected error for order without service")
	}
	if _, err := NewFilter(ServerToClient, Byte(1), nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFilterCanDispatch(t *testing.T) {
	opcodeFilter, _ := NewFilter(ServerToClient, Byte(5), nil, nil)
	if !opcodeFilter.CanDispatch(&frame.Frame{IsControl: true, Opcode: 5}) {
		t.Fatalf("expected control frame with matching opcode to dispatch")
	}
	if opcodeFilter.CanDispatch(&frame.Frame{IsControl: false, ServiceID: 5}) {
		t.Fatalf("data frame should never match an opcode filter")
	}

	serviceFilter, _ := NewFilter(ClientToServer, nil, Byte(7), Byte(3))
	if !serviceFilter.CanDispatch(&frame.Frame{ServiceID: 7, Order: 3}) {
		t.Fatalf("expected matching service+order to dispatch")
	}
	if serviceFilter.CanDispatch(&frame.Frame{ServiceID: 7, Order: 4}) {
		t.Fatalf("mismatched order should not dispatch")
	}

	unfiltered, _ := NewFilter(ServerToClient, nil, nil, nil)
	if !unfiltered.CanDispatch(&frame.Frame{}) {
		t.Fatalf("unfiltered filter should always dispatch")
	}
}

func TestPluginDispatchSkipsWhenListenerVetoes(t *testing.T) {
	filter, _ := NewFilter(ClientToServer, nil, Byte(53), Byte(67))
	p := NewPlugin([]Listener{
		{
			Filter: filter,
			Dirty:  true,
			Func: func(ctx *Context, fr *frame.Frame) (bool, error) {
				return false, nil
			},
		},
	})

	ctx := NewContext(fakeShard{}, nil)
	fr := &frame.Frame{ServiceID: 53, Order: 67}

	keep, err := p.dispatch(ClientToServer, ctx, fr)
	if err != nil {
		t.Fatal(err)
	}
	if keep {
		t.Fatalf("expected listener veto to drop the frame")
	}
	if !fr.Dirty {
		t.Fatalf("expected frame marked dirty on match")
	}
}

func TestCollectionDispatchAcrossPlugins(t *testing.T) {
	filterA, _ := NewFilter(ServerToClient, Byte(1), nil, nil)
	filterB, _ := NewFilter(ServerToClient, Byte(1), nil, nil)

	var calls []string
	pluginA := NewPlugin([]Listener{{
		Filter: filterA,
		Func: func(ctx *Context, fr *frame.Frame) (bool, error) {
			calls = append(calls, "a")
			return true, nil
		},
	}})
	pluginB := NewPlugin([]Listener{{
		Filter: filterB,
		Func: func(ctx *Context, fr *frame.Frame) (bool, error) {
			calls = append(calls, "b")
			return true, nil
		},
	}})

	coll := NewCollection()
	coll.Add(pluginA)
	coll.Add(pluginB)

	ctx := NewContext(fakeShard{}, nil)
	fr := &frame.Frame{IsControl: true, Opcode: 1}

	keep, err := coll.Dispatch(ServerToClient, ctx, fr)
	if err != nil {
		t.Fatal(err)
	}
	if !keep {
		t.Fatalf("expected frame to be kept")
	}
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Fatalf("unexpected dispatch order: %v", calls)
	}
}
