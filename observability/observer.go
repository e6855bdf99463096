// Package observability declares the proxy's metric event surface as a
// small interface with a zero-cost no-op implementation, so every
// component that might emit metrics takes a ProxyObserver instead of
// reaching for a global registry.
package observability

import "sync"

// HandshakeStage distinguishes which half of the handshake a result
// belongs to.
type HandshakeStage string

const (
	HandshakeStageOffer  HandshakeStage = "offer"
	HandshakeStageAccept HandshakeStage = "accept"
)

// HandshakeResult is the outcome of intercepting one handshake stage.
type HandshakeResult string

const (
	HandshakeResultOK   HandshakeResult = "ok"
	HandshakeResultFail HandshakeResult = "fail"
)

// CloseReason is the stable taxonomy a tunnel direction closed for. The
// values line up with fserrors.Code so shard can pass one straight
// through without a translation table.
type CloseReason string

const (
	CloseReasonNormal           CloseReason = "normal"
	CloseReasonShortRead        CloseReason = "short_read"
	CloseReasonBadMagic         CloseReason = "bad_magic"
	CloseReasonCryptoVerify     CloseReason = "crypto_verify"
	CloseReasonHandshakeInvalid CloseReason = "handshake_invalid"
	CloseReasonBrokenResource   CloseReason = "broken_resource"
	CloseReasonTimeout          CloseReason = "timeout"
	CloseReasonSpawnReject      CloseReason = "spawn_reject"
	CloseReasonUnknown          CloseReason = "unknown"
)

// TrafficDirection is which way a chunk of forwarded traffic flowed.
type TrafficDirection string

const (
	TrafficClientToServer TrafficDirection = "client_to_server"
	TrafficServerToClient TrafficDirection = "server_to_client"
)

// ProxyObserver receives every metric-worthy event the proxy and its
// shards produce.
type ProxyObserver interface {
	ShardCount(n int)
	SessionCount(n int64)
	Handshake(stage HandshakeStage, result HandshakeResult)
	TunnelClosed(reason CloseReason)
	BytesTransferred(dir TrafficDirection, n int64)
	FrameDropped(dir TrafficDirection)
}

type noopObserver struct{}

func (noopObserver) ShardCount(int)                             {}
func (noopObserver) SessionCount(int64)                          {}
func (noopObserver) Handshake(HandshakeStage, HandshakeResult)   {}
func (noopObserver) TunnelClosed(CloseReason)                   {}
func (noopObserver) BytesTransferred(TrafficDirection, int64)    {}
func (noopObserver) FrameDropped(TrafficDirection)               {}

// Noop is a zero-cost observer used when metrics are disabled.
var Noop ProxyObserver = noopObserver{}

// Atomic swaps its delegate at runtime, letting cmd/wizproxy install a
// Prometheus-backed observer after components holding a reference to the
// atomic observer have already been constructed.
type Atomic struct {
	once sync.Once
	mu   sync.RWMutex
	obs  ProxyObserver
}

// NewAtomic returns an initialized Atomic defaulting to Noop.
func NewAtomic() *Atomic {
	a := &Atomic{}
	a.init()
	return a
}

func (a *Atomic) init() {
	a.once.Do(func() { a.obs = Noop })
}

// Set replaces the delegate, falling back to Noop on nil.
func (a *Atomic) Set(obs ProxyObserver) {
	a.init()
	if obs == nil {
		obs = Noop
	}
	a.mu.Lock()
	a.obs = obs
	a.mu.Unlock()
}

func (a *Atomic) load() ProxyObserver {
	a.init()
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.obs
}

func (a *Atomic) ShardCount(n int)    { a.load().ShardCount(n) }
func (a *Atomic) SessionCount(n int64) { a.load().SessionCount(n) }
func (a *Atomic) Handshake(stage HandshakeStage, result HandshakeResult) {
	a.load().Handshake(stage, result)
}
func (a *Atomic) TunnelClosed(reason CloseReason) { a.load().TunnelClosed(reason) }
func (a *Atomic) BytesTransferred(dir TrafficDirection, n int64) {
	a.load().BytesTransferred(dir, n)
}
func (a *Atomic) FrameDropped(dir TrafficDirection) { a.load().FrameDropped(dir) }
