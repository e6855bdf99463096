// Package proxy governs a proxy instance's whole set of shards: one per
// distinct upstream KI server address, spawned on demand as clients get
// redirected to new servers (character select, zone transfer, and so
// on).
package proxy

import (
	"context"
	"log/slog"
	"net"

	"github.com/vbe0201/wizproxy/crypto/keychain"
	"github.com/vbe0201/wizproxy/observability"
	"github.com/vbe0201/wizproxy/plugin"
	"github.com/vbe0201/wizproxy/plugin/builtin"
	"github.com/vbe0201/wizproxy/session/clientsig"
	"github.com/vbe0201/wizproxy/shard"
)

// requestChanCapacity is a bounded buffer so a shard asking for a
// sibling to be spawned never stalls waiting for the proxy to catch up
// under normal load.
const requestChanCapacity = 32

// Config holds everything needed to stand up a Proxy. Zero-valued fields
// fall back to the defaults DefaultConfig returns.
type Config struct {
	Host     string               // Interface to bind shard listeners to; "" means the wildcard interface.
	KeyChain *keychain.KeyChain   // RSA key material for handshake interception; required.
	SigData  *clientsig.Data      // Decrypted ClientSig dump; nil disables that challenge type.
	Log      *slog.Logger         // Destination for proxy/shard logging.
	Observer observability.ProxyObserver // Metrics sink.
}

// DefaultConfig returns a Config with every optional field filled in; the
// caller still must set KeyChain.
func DefaultConfig() Config {
	return Config{
		Log:      slog.Default(),
		Observer: observability.Noop,
	}
}

// Proxy owns the shard table: communication between shards and the
// proxy runs entirely over the requests channel, so the table itself is
// touched only by the goroutine running Run and never needs a mutex.
type Proxy struct {
	cfg Config

	plugins *plugin.Collection

	shards   map[string]*shard.Shard
	requests chan spawnRequest
}

// New builds a Proxy from cfg, preloaded with the built-in
// handshake/redirect plugin. Unset Log/Observer fields fall back to
// DefaultConfig's.
func New(cfg Config) (*Proxy, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Observer == nil {
		cfg.Observer = observability.Noop
	}

	base, err := builtin.New()
	if err != nil {
		return nil, err
	}

	plugins := plugin.NewCollection()
	plugins.Add(base)

	return &Proxy{
		cfg:      cfg,
		plugins:  plugins,
		shards:   make(map[string]*shard.Shard),
		requests: make(chan spawnRequest, requestChanCapacity),
	}, nil
}

// AddPlugin registers an additional plugin (packet logging, capture,
// and the like) after the built-in handshake/redirect plugin, so it sees
// each frame once the built-in listeners have run.
func (p *Proxy) AddPlugin(pl *plugin.Plugin) {
	p.plugins.Add(pl)
}

// SpawnShard asks the proxy to stand up (or reuse) a shard serving addr,
// returning its local bind address. It is safe to call both before Run
// has started consuming requests (as long as a goroutine is about to run
// it) and concurrently from any number of shards' plugin dispatch paths.
func (p *Proxy) SpawnShard(addr net.Addr) (net.Addr, error) {
	reply := make(chan spawnReply, 1)
	p.requests <- spawnRequest{addr: addr, reply: reply}
	res := <-reply
	return res.addr, res.err
}

// Run is the proxy's supervisor loop: it owns the shard table exclusively
// and answers spawn requests from shards (and the initial caller) one at
// a time until ctx is canceled.
func (p *Proxy) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-p.requests:
			if req.statsReply != nil {
				req.statsReply <- p.shardStatsLocked()
				continue
			}
			addr, err := p.spawnShardLocked(req.addr)
			req.reply <- spawnReply{addr: addr, err: err}
		}
	}
}

func (p *Proxy) shardStatsLocked() []shard.Stats {
	out := make([]shard.Stats, 0, len(p.shards))
	for _, sh := range p.shards {
		out = append(out, sh.Stats())
	}
	return out
}

func (p *Proxy) spawnShardLocked(addr net.Addr) (net.Addr, error) {
	key := addr.String()
	if existing, ok := p.shards[key]; ok {
		return existing.SelfAddr(), nil
	}

	sh := shard.New(addr, p.plugins, p.cfg.KeyChain, p.cfg.SigData, p, p.cfg.Log, p.cfg.Observer)
	self, err := sh.Run(p.cfg.Host)
	if err != nil {
		return nil, err
	}

	p.shards[key] = sh
	p.cfg.Observer.ShardCount(len(p.shards))
	p.cfg.Log.Info("spawned shard", "remote", addr, "local", self)
	return self, nil
}

// Shards returns a bandwidth/session snapshot for every currently
// running shard.
func (p *Proxy) Shards() []shard.Stats {
	reply := make(chan []shard.Stats, 1)
	p.requests <- spawnRequest{statsReply: reply}
	return <-reply
}
