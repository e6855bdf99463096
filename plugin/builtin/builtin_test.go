package builtin

import (
	"net"
	"testing"

	"github.com/vbe0201/wizproxy/plugin"
	"github.com/vbe0201/wizproxy/protocol/dml"
	"github.com/vbe0201/wizproxy/protocol/frame"
)

type fakeShard struct {
	self, remote *net.TCPAddr
	spawned      []net.Addr
}

func (f *fakeShard) SelfAddr() net.Addr   { return f.self }
func (f *fakeShard) RemoteAddr() net.Addr { return f.remote }
func (f *fakeShard) SpawnShard(addr net.Addr) (net.Addr, error) {
	f.spawned = append(f.spawned, addr)
	return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9999}, nil
}

func TestNewBuiltinBuildsWithoutError(t *testing.T) {
	if _, err := New(); err != nil {
		t.Fatalf("unexpected error building builtin plugin: %v", err)
	}
}

func TestRedirectCharacterSelectedRewritesAddress(t *testing.T) {
	shard := &fakeShard{
		self:   &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1234},
		remote: &net.TCPAddr{IP: net.ParseIP("10.0.0.2"), Port: 5678},
	}
	ctx := plugin.NewContext(shard, nil)

	msg := dml.Message{
		"IP":          []byte("1.2.3.4"),
		"TCPPort":     int32(12000),
		"UDPPort":     int32(12001),
		"Key":         []byte("abc"),
		"UserID":      uint64(1),
		"CharID":      uint64(2),
		"ZoneID":      uint64(3),
		"ZoneName":    []byte("WizardCity"),
		"Location":    []byte(""),
		"Slot":        int32(0),
		"PrepPhase":   int32(0),
		"Error":       int32(0),
		"LoginServer": []byte("login.us.wizard101.com"),
	}
	raw, err := dml.CharacterSelected.Encode(msg)
	if err != nil {
		t.Fatal(err)
	}

	fr := &frame.Frame{ServiceID: 7, Order: 3, Payload: raw}
	keep, err := redirectCharacterSelected(ctx, fr)
	if err != nil {
		t.Fatal(err)
	}
	if !keep {
		t.Fatalf("expected frame to be kept")
	}

	decoded, err := dml.CharacterSelected.Decode(fr.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded["IP"].([]byte)) != "127.0.0.1" {
		t.Fatalf("expected IP rewritten to shard address, got %q", decoded["IP"])
	}
	if decoded["TCPPort"].(int32) != 9999 {
		t.Fatalf("expected port rewritten to shard port, got %d", decoded["TCPPort"])
	}
	if len(shard.spawned) != 1 {
		t.Fatalf("expected exactly one spawn request")
	}
}

func TestPatchConnectionStatsSpoofsRemote(t *testing.T) {
	shard := &fakeShard{
		self:   &net.TCPAddr{IP: net.ParseIP("10.0.0.1"), Port: 1234},
		remote: &net.TCPAddr{IP: net.ParseIP("192.168.1.1"), Port: 12000},
	}
	ctx := plugin.NewContext(shard, nil)

	msg := dml.Message{
		"ServerHostname": []byte("proxy.local"),
		"ServerPort":     int32(4444),
		"ConnectMS":      int32(1),
		"Timeouts":       int32(0),
		"Errors":         int32(0),
	}
	raw, err := dml.ConnectionStats.Encode(msg)
	if err != nil {
		t.Fatal(err)
	}

	fr := &frame.Frame{ServiceID: 53, Order: 67, Payload: raw}
	if _, err := patchConnectionStats(ctx, fr); err != nil {
		t.Fatal(err)
	}

	decoded, err := dml.ConnectionStats.Decode(fr.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if string(decoded["ServerHostname"].([]byte)) != "192.168.1.1" {
		t.Fatalf("expected spoofed hostname, got %q", decoded["ServerHostname"])
	}
	if decoded["ServerPort"].(int32) != 12000 {
		t.Fatalf("expected spoofed port, got %d", decoded["ServerPort"])
	}
}
