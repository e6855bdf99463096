package plugin

import (
	"net"

	"github.com/vbe0201/wizproxy/session"
)

// ShardHandle is the subset of a shard's surface a plugin listener may
// touch: its own bind address, the upstream it serves, and the ability
// to ask the proxy to spawn another shard (for server-redirect rewrites).
// Declared here rather than imported from the shard package to avoid an
// import cycle (shard depends on plugin to run the dispatch pipeline).
type ShardHandle interface {
	SelfAddr() net.Addr
	RemoteAddr() net.Addr
	SpawnShard(addr net.Addr) (net.Addr, error)
}

// Context is the per-dispatch handle a listener receives: it exposes the
// shard's addressing and the session's cryptographic/identity state for
// the connection the current frame belongs to.
type Context struct {
	shard   ShardHandle
	Session *session.Session
}

// NewContext builds a Context for one dispatch pass.
func NewContext(shard ShardHandle, sess *session.Session) *Context {
	return &Context{shard: shard, Session: sess}
}

// ShardAddr is the local address of the shard currently handling this
// connection.
func (c *Context) ShardAddr() net.Addr { return c.shard.SelfAddr() }

// RemoteAddr is the upstream KI server address this shard proxies to.
func (c *Context) RemoteAddr() net.Addr { return c.shard.RemoteAddr() }

// SpawnShard asks the proxy to stand up (or reuse) a shard for addr,
// returning its local bind address.
func (c *Context) SpawnShard(addr net.Addr) (net.Addr, error) {
	return c.shard.SpawnShard(addr)
}
