// Package shard runs one upstream KI server's worth of client tunnels:
// accepting client TCP connections, dialing the real server on its
// behalf, and pumping frames through the plugin pipeline in both
// directions with transparent handshake interception and AES-GCM
// re-encryption.
package shard

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/dustin/go-humanize"

	wbinary "github.com/vbe0201/wizproxy/internal/binary"

	"github.com/vbe0201/wizproxy/crypto/keychain"
	"github.com/vbe0201/wizproxy/crypto/streamcipher"
	"github.com/vbe0201/wizproxy/fserrors"
	"github.com/vbe0201/wizproxy/observability"
	"github.com/vbe0201/wizproxy/plugin"
	"github.com/vbe0201/wizproxy/protocol/frame"
	"github.com/vbe0201/wizproxy/session"
	"github.com/vbe0201/wizproxy/session/clientsig"
	"github.com/vbe0201/wizproxy/transport"
)

// Spawner asks the owning proxy to stand up (or reuse) a shard serving
// addr, returning the new shard's local bind address. It is how a
// shard's plugins (e.g. a server-redirect rewrite) reach back into the
// proxy without shard importing proxy.
type Spawner interface {
	SpawnShard(addr net.Addr) (net.Addr, error)
}

// Shard proxies every client connecting to its listener through to one
// upstream KI server address, rewriting the handshake and dispatching
// every frame through a shared plugin pipeline.
type Shard struct {
	remote   net.Addr
	plugins  *plugin.Collection
	keyChain *keychain.KeyChain
	sigData  *clientsig.Data
	spawner  Spawner
	log      *slog.Logger
	observer observability.ProxyObserver

	self    atomic.Pointer[net.TCPAddr]
	nextSID atomic.Uint64

	activeSessions atomic.Int64
	bytesToClient  atomic.Uint64
	bytesToServer  atomic.Uint64
}

// New builds a Shard serving remote, dispatching through plugins and
// able to ask spawner for sibling shards on server-redirect rewrites.
// obs may be nil, in which case metrics are discarded.
func New(remote net.Addr, plugins *plugin.Collection, kc *keychain.KeyChain, sigData *clientsig.Data, spawner Spawner, log *slog.Logger, obs observability.ProxyObserver) *Shard {
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = observability.Noop
	}
	return &Shard{remote: remote, plugins: plugins, keyChain: kc, sigData: sigData, spawner: spawner, log: log, observer: obs}
}

// Stats is a point-in-time bandwidth and session-count snapshot for one
// shard.
type Stats struct {
	Remote         net.Addr
	ActiveSessions int64
	BytesToClient  uint64
	BytesToServer  uint64
}

// String renders a human-readable one-line summary.
func (s Stats) String() string {
	return fmt.Sprintf("%s: %d sessions, %s to client, %s to server",
		s.Remote, s.ActiveSessions, humanize.Bytes(s.BytesToClient), humanize.Bytes(s.BytesToServer))
}

// Stats returns a snapshot of this shard's current bandwidth counters.
func (s *Shard) Stats() Stats {
	return Stats{
		Remote:         s.remote,
		ActiveSessions: s.activeSessions.Load(),
		BytesToClient:  s.bytesToClient.Load(),
		BytesToServer:  s.bytesToServer.Load(),
	}
}

// SelfAddr implements plugin.ShardHandle.
func (s *Shard) SelfAddr() net.Addr {
	if a := s.self.Load(); a != nil {
		return a
	}
	return nil
}

// RemoteAddr implements plugin.ShardHandle.
func (s *Shard) RemoteAddr() net.Addr { return s.remote }

// SpawnShard implements plugin.ShardHandle by delegating to the owning
// proxy.
func (s *Shard) SpawnShard(addr net.Addr) (net.Addr, error) {
	return s.spawner.SpawnShard(addr)
}

// Run binds a listener on host and accepts clients on a background
// goroutine until Accept fails; Shard itself never closes the listener.
// It returns the shard's bound address once listening has started.
func (s *Shard) Run(host string) (net.Addr, error) {
	// Port 0 makes the OS pick an ephemeral port; the shard's bind
	// address is only known once the listener is actually up.
	ln, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return nil, err
	}
	self := ln.Addr().(*net.TCPAddr)
	s.self.Store(self)

	go s.acceptLoop(ln)
	return self, nil
}

func (s *Shard) acceptLoop(ln net.Listener) {
	for {
		client, err := ln.Accept()
		if err != nil {
			s.log.Error("shard listener stopped accepting clients", "remote", s.remote, "error", err)
			return
		}
		go s.serveClient(client)
	}
}

func (s *Shard) serveClient(client net.Conn) {
	defer client.Close()

	server, err := net.Dial("tcp", s.remote.String())
	if err != nil {
		s.log.Warn("failed to dial upstream for client", "client", client.RemoteAddr(), "remote", s.remote, "error", err)
		return
	}
	defer server.Close()

	sid := s.nextSID.Add(1)
	sess := session.New(client.RemoteAddr(), s.remote, sid, s.keyChain, s.sigData)

	s.activeSessions.Add(1)
	defer s.activeSessions.Add(-1)

	clientCtx := plugin.NewContext(s, sess)
	serverCtx := plugin.NewContext(s, sess)

	clientStream := transport.NewFrameStream(client, func() *streamcipher.Context { return sess.ClientAES })
	serverStream := transport.NewFrameStream(server, func() *streamcipher.Context { return sess.ServerAES })

	s.log.Info("client connected", "remote", s.remote, "session", sid, "client", client.RemoteAddr())

	done := make(chan struct{}, 2)
	go func() {
		s.tunnel(plugin.ClientToServer, clientCtx, clientStream, server, sess)
		done <- struct{}{}
	}()
	go func() {
		s.tunnel(plugin.ServerToClient, serverCtx, serverStream, client, sess)
		done <- struct{}{}
	}()

	<-done
	client.Close()
	server.Close()
	<-done
}

// tunnel pumps frames from stream, through the plugin pipeline, and out
// to peer until a fatal error or clean EOF ends the session.
func (s *Shard) tunnel(dir plugin.Direction, ctx *plugin.Context, stream *transport.FrameStream, peer net.Conn, sess *session.Session) {
	for {
		encrypted, raw, err := stream.Next()
		if err != nil {
			s.reportTunnelError(dir, err)
			return
		}

		buf := wbinary.NewFromBytes(raw)
		fr, err := frame.Read(buf)
		if err != nil {
			s.reportTunnelError(dir, err)
			return
		}

		keep, err := s.plugins.Dispatch(dir, ctx, fr)
		if err != nil {
			s.reportTunnelError(dir, err)
			return
		}
		if !keep {
			s.observer.FrameDropped(directionLabel(dir))
			continue
		}

		var out []byte
		if fr.Dirty {
			outBuf := wbinary.New()
			fr.Write(outBuf)
			out = outBuf.Bytes()
		} else {
			out = fr.Original
		}

		if encrypted {
			out, err = s.encryptForPeer(dir, sess, out)
			if err != nil {
				s.reportTunnelError(dir, err)
				return
			}
		}

		if _, err := peer.Write(out); err != nil {
			s.reportTunnelError(dir, err)
			return
		}

		s.accountBytes(dir, len(out))
	}
}

func (s *Shard) accountBytes(dir plugin.Direction, n int) {
	if dir == plugin.ClientToServer {
		s.bytesToServer.Add(uint64(n))
		s.observer.BytesTransferred(observability.TrafficClientToServer, int64(n))
	} else {
		s.bytesToClient.Add(uint64(n))
		s.observer.BytesTransferred(observability.TrafficServerToClient, int64(n))
	}
}

// encryptForPeer re-encrypts a frame under the same per-direction AES-GCM
// context it was decrypted with, so the receiving peer's independent
// context (advancing the exact same chunk/rotation schedule) verifies
// cleanly.
func (s *Shard) encryptForPeer(dir plugin.Direction, sess *session.Session, data []byte) ([]byte, error) {
	if dir == plugin.ClientToServer {
		return sess.ClientAES.Encrypt(data)
	}
	return sess.ServerAES.Encrypt(data)
}

func directionLabel(dir plugin.Direction) observability.TrafficDirection {
	if dir == plugin.ClientToServer {
		return observability.TrafficClientToServer
	}
	return observability.TrafficServerToClient
}

func (s *Shard) reportTunnelError(dir plugin.Direction, err error) {
	code := fserrors.ClassifyTunnelCode(err)
	path := fserrors.PathClientToServer
	stage := fserrors.StageRead
	if dir == plugin.ServerToClient {
		path = fserrors.PathServerToClient
	}
	if errors.Is(err, frame.ErrBadMagic) {
		stage = fserrors.StageFrame
	}

	wrapped := fserrors.Wrap(path, stage, code, err)
	s.observer.TunnelClosed(closeReasonFor(code))
	if fserrors.IsSuppressed(code) {
		s.log.Debug("tunnel direction ended", "remote", s.remote, "error", wrapped)
		return
	}
	s.log.Warn("tunnel direction failed", "remote", s.remote, "error", wrapped)
}

func closeReasonFor(code fserrors.Code) observability.CloseReason {
	switch code {
	case fserrors.CodeShortRead:
		return observability.CloseReasonShortRead
	case fserrors.CodeBadMagic:
		return observability.CloseReasonBadMagic
	case fserrors.CodeCryptoVerify:
		return observability.CloseReasonCryptoVerify
	case fserrors.CodeHandshakeInvalid:
		return observability.CloseReasonHandshakeInvalid
	case fserrors.CodeBrokenResource:
		return observability.CloseReasonBrokenResource
	case fserrors.CodeTimeout:
		return observability.CloseReasonTimeout
	case fserrors.CodeSpawnReject:
		return observability.CloseReasonSpawnReject
	default:
		return observability.CloseReasonUnknown
	}
}
