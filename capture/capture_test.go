package capture

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/vbe0201/wizproxy/plugin"
	"github.com/vbe0201/wizproxy/protocol/frame"
	"github.com/vbe0201/wizproxy/session"
)

func TestWriterRoundTripsFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.bin")

	w, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}

	pl := Plugin(w)
	sess := session.New(nil, nil, 42, nil, nil)
	ctx := plugin.NewContext(testShard{}, sess)

	coll := plugin.NewCollection()
	coll.Add(pl)

	fr := &frame.Frame{IsControl: true, Opcode: 1, Payload: []byte("hi")}
	if _, err := coll.Dispatch(plugin.ClientToServer, ctx, fr); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}

	rec, err := r.Next()
	if err != nil {
		t.Fatalf("read record: %v", err)
	}
	if rec.SessionID != 42 {
		t.Fatalf("expected session id 42, got %d", rec.SessionID)
	}
	if rec.Direction != plugin.ClientToServer {
		t.Fatalf("expected client-to-server direction, got %v", rec.Direction)
	}
	if len(rec.Frame) == 0 {
		t.Fatalf("expected non-empty serialized frame")
	}

	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected EOF after single record, got %v", err)
	}
}

func TestOpenReaderRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.bin")
	if err := os.WriteFile(path, []byte("not a capture file"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenReader(path); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

type testShard struct{}

func (testShard) SelfAddr() net.Addr                           { return nil }
func (testShard) RemoteAddr() net.Addr                         { return nil }
func (testShard) SpawnShard(addr net.Addr) (net.Addr, error) { return addr, nil }
