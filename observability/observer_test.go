package observability

import "testing"

type recordingObserver struct {
	shardCounts []int
	closed      []CloseReason
}

func (r *recordingObserver) ShardCount(n int)    { r.shardCounts = append(r.shardCounts, n) }
func (r *recordingObserver) SessionCount(int64)  {}
func (r *recordingObserver) Handshake(HandshakeStage, HandshakeResult) {}
func (r *recordingObserver) TunnelClosed(reason CloseReason) { r.closed = append(r.closed, reason) }
func (r *recordingObserver) BytesTransferred(TrafficDirection, int64) {}
func (r *recordingObserver) FrameDropped(TrafficDirection)           {}

func TestAtomicDefaultsToNoop(t *testing.T) {
	a := NewAtomic()
	a.ShardCount(3)
	a.TunnelClosed(CloseReasonTimeout)
}

func TestAtomicSetSwapsDelegate(t *testing.T) {
	a := NewAtomic()
	rec := &recordingObserver{}
	a.Set(rec)

	a.ShardCount(2)
	a.TunnelClosed(CloseReasonBrokenResource)

	if len(rec.shardCounts) != 1 || rec.shardCounts[0] != 2 {
		t.Fatalf("expected shard count recorded, got %v", rec.shardCounts)
	}
	if len(rec.closed) != 1 || rec.closed[0] != CloseReasonBrokenResource {
		t.Fatalf("expected close reason recorded, got %v", rec.closed)
	}
}

func TestAtomicSetNilFallsBackToNoop(t *testing.T) {
	a := NewAtomic()
	a.Set(nil)
	a.ShardCount(1)
}
