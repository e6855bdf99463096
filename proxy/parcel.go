package proxy

import (
	"net"

	"github.com/vbe0201/wizproxy/shard"
)

// spawnRequest is a request/reply parcel a shard (or the initial caller
// in cmd/wizproxy) sends to the proxy's supervisor loop asking it to
// stand up (or reuse) a shard for addr. The reply channel has capacity
// one so the loop never blocks handing back an answer.
//
// The shard table is otherwise owned exclusively by the single
// goroutine running Run, so every other caller reaches it only by
// sending one of these and waiting on its reply.
type spawnRequest struct {
	addr  net.Addr
	reply chan spawnReply

	// statsReply, when non-nil, marks this as a Shards() snapshot request
	// instead of a spawn request; addr and reply are unused in that case.
	statsReply chan []shard.Stats
}

type spawnReply struct {
	addr net.Addr
	err  error
}
