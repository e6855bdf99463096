package transport

import (
	"net"
	"time"

	"github.com/vbe0201/wizproxy/crypto/streamcipher"
)

// IdleTimeout is double the server-bound Keep Alive Rsp interval: if
// either party goes this long without sending a single byte, the
// connection is considered zombied and torn down.
const IdleTimeout = 120 * time.Second

// FrameStream pulls complete, decrypted frames out of a net.Conn,
// enforcing IdleTimeout on every read and internally buffering partial
// TCP reads across calls.
type FrameStream struct {
	conn   net.Conn
	buffer *PacketBuffer
	aes    func() *streamcipher.Context
}

// NewFrameStream wraps conn with a reusable packet buffer. aes is called
// fresh on every poll, so it should read the session's current AES
// context field rather than capturing a stale value — the context is
// replaced wholesale on Session Accept.
func NewFrameStream(conn net.Conn, aes func() *streamcipher.Context) *FrameStream {
	return &FrameStream{conn: conn, buffer: NewPacketBuffer(), aes: aes}
}

// Next blocks until a complete frame is available, reading from the
// underlying connection as needed, and returns whether it arrived
// encrypted along with its raw (post-decryption) bytes.
func (fs *FrameStream) Next() (encrypted bool, raw []byte, err error) {
	readBuf := make([]byte, 64*1024)

	for {
		enc, body, ready, perr := fs.buffer.PollFrame(fs.aes())
		if perr != nil {
			return false, nil, perr
		}
		if ready {
			return enc, body, nil
		}

		if err := fs.conn.SetReadDeadline(time.Now().Add(IdleTimeout)); err != nil {
			return false, nil, err
		}
		n, rerr := fs.conn.Read(readBuf)
		if n > 0 {
			fs.buffer.Feed(readBuf[:n])
		}
		if rerr != nil {
			return false, nil, rerr
		}
	}
}
