// Package capture implements a plugin that mirrors every frame crossing
// a shard's tunnels out to a file, for offline analysis of a session.
//
// Records use a small length-prefixed binary container rather than
// pcap/pcapng: a capture here is frames already parsed off a TCP stream,
// not raw link-layer packets, so there is no Ethernet/IP/TCP header to
// reconstruct. Each record carries the addressing a pcap comment would
// (shard address, session ID, direction) as a fixed header instead of
// free-form text.
package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"

	wbinary "github.com/vbe0201/wizproxy/internal/binary"

	"github.com/vbe0201/wizproxy/plugin"
	"github.com/vbe0201/wizproxy/protocol/frame"
)

// Magic tags the start of a capture file so a reader can sanity-check it
// before parsing records.
var Magic = [4]byte{'W', 'Z', 'C', 'P'}

// direction byte values recorded per record, matching plugin.Direction's
// underlying values so Record.Direction round-trips without a lookup
// table.
const (
	dirServerToClient = byte(plugin.ServerToClient)
	dirClientToServer = byte(plugin.ClientToServer)
)

// queueCapacity bounds how many records may be buffered for the writer
// goroutine before a tunnel blocks handing off its next frame. Mirrors
// the bounded-channel convention used for the proxy's spawn request
// queue: a slow disk should apply backpressure, not grow unbounded.
const queueCapacity = 256

var errClosed = errors.New("capture: writer is closed")

type record struct {
	dir     byte
	sid     uint64
	shard   string
	payload []byte
}

// Writer owns the capture file and a background goroutine draining
// records onto it, so tunnel goroutines never block on disk I/O longer
// than it takes to enqueue.
type Writer struct {
	queue chan record
	done  chan struct{}
	err   error
}

// Open creates (or truncates) the capture file at path and starts its
// background writer goroutine.
func Open(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		queue: make(chan record, queueCapacity),
		done:  make(chan struct{}),
	}
	go w.run(f)
	return w, nil
}

func (w *Writer) run(f *os.File) {
	defer close(w.done)
	defer f.Close()

	bw := bufio.NewWriter(f)
	defer bw.Flush()

	if _, err := bw.Write(Magic[:]); err != nil {
		w.err = err
		return
	}

	for rec := range w.queue {
		if err := writeRecord(bw, rec); err != nil {
			w.err = err
			// Keep draining the channel so producers never deadlock on a
			// full queue after the file has gone bad; records are simply
			// discarded from here on.
			continue
		}
	}
}

func writeRecord(w io.Writer, rec record) error {
	var header [8 + 1 + 2]byte
	binary.LittleEndian.PutUint64(header[0:8], rec.sid)
	header[8] = rec.dir
	binary.LittleEndian.PutUint16(header[9:11], uint16(len(rec.shard)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, rec.shard); err != nil {
		return err
	}

	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(rec.payload)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err := w.Write(rec.payload)
	return err
}

// enqueue hands a record to the writer goroutine, dropping it if the
// writer has already been closed.
func (w *Writer) enqueue(rec record) {
	select {
	case w.queue <- rec:
	case <-w.done:
	}
}

// Close stops accepting new records and waits for the writer goroutine
// to flush and close the underlying file, returning the first write
// error encountered, if any.
func (w *Writer) Close() error {
	close(w.queue)
	<-w.done
	return w.err
}

func shardAddrString(ctx *plugin.Context) string {
	if a := ctx.ShardAddr(); a != nil {
		return a.String()
	}
	return ""
}

func (w *Writer) capture(dir byte) plugin.ListenerFunc {
	return func(ctx *plugin.Context, fr *frame.Frame) (bool, error) {
		buf := wbinary.New()
		fr.Write(buf)

		var sid uint64
		if ctx.Session != nil {
			sid = ctx.Session.SID
		}

		w.enqueue(record{
			dir:     dir,
			sid:     sid,
			shard:   shardAddrString(ctx),
			payload: buf.Bytes(),
		})
		return true, nil
	}
}

// Plugin builds a capture listener pair that mirrors every frame in both
// directions to w, without vetoing or mutating any of them.
func Plugin(w *Writer) *plugin.Plugin {
	return plugin.NewPlugin([]plugin.Listener{
		{Filter: plugin.Filter{Direction: plugin.ClientToServer}, Func: w.capture(dirClientToServer)},
		{Filter: plugin.Filter{Direction: plugin.ServerToClient}, Func: w.capture(dirServerToClient)},
	})
}

// Record is one decoded entry read back from a capture file by Reader.
type Record struct {
	Direction plugin.Direction
	SessionID uint64
	Shard     string
	Frame     []byte
}

// Reader replays a capture file written by Writer, for offline analysis
// tooling.
type Reader struct {
	r *bufio.Reader
}

// ErrBadMagic indicates the file does not start with capture's magic
// tag and is therefore not a capture file (or is corrupt).
var ErrBadMagic = errors.New("capture: bad magic")

// OpenReader opens path for sequential record-by-record replay.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	r := bufio.NewReader(f)
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		f.Close()
		return nil, err
	}
	if magic != Magic {
		f.Close()
		return nil, ErrBadMagic
	}
	return &Reader{r: r}, nil
}

// Next reads the next record, returning io.EOF once the file is
// exhausted.
func (r *Reader) Next() (*Record, error) {
	var header [8 + 1 + 2]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		return nil, err
	}

	sid := binary.LittleEndian.Uint64(header[0:8])
	dir := plugin.Direction(header[8])
	shardLen := binary.LittleEndian.Uint16(header[9:11])

	shardBuf := make([]byte, shardLen)
	if _, err := io.ReadFull(r.r, shardBuf); err != nil {
		return nil, err
	}

	var lengthBuf [4]byte
	if _, err := io.ReadFull(r.r, lengthBuf[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(lengthBuf[:])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return nil, err
	}

	return &Record{
		Direction: dir,
		SessionID: sid,
		Shard:     string(shardBuf),
		Frame:     payload,
	}, nil
}
