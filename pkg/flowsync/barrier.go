package flowsync

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Ack describes an acknowledged barrier.
type Ack struct {
	XID    string
	Switch uint64
	RTT    time.Duration
	// SinceLast is the time since the previous acknowledgement from the
	// same switch, zero for the first one.
	SinceLast time.Duration
}

type pendingBarrier struct {
	dpid uint64
	sent time.Time
}

// BarrierTracker matches barrier replies to requests by id. Replies may
// arrive in any order; each id is resolved at most once.
type BarrierTracker struct {
	clock clockwork.Clock

	mu          sync.Mutex
	pending     map[string]pendingBarrier
	lastArrival map[uint64]time.Time
}

func NewBarrierTracker(clock clockwork.Clock) *BarrierTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &BarrierTracker{
		clock:       clock,
		pending:     make(map[string]pendingBarrier),
		lastArrival: make(map[uint64]time.Time),
	}
}

// NewXID returns a fresh barrier id.
func NewXID() string {
	return uuid.NewString()
}

// Sent records that barrier xid went out to dpid.
func (b *BarrierTracker) Sent(xid string, dpid uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[xid] = pendingBarrier{dpid: dpid, sent: b.clock.Now()}
}

// Ack resolves xid. It reports false for unknown or already resolved ids.
func (b *BarrierTracker) Ack(xid string, dpid uint64) (Ack, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[xid]
	if !ok {
		return Ack{}, false
	}
	delete(b.pending, xid)

	now := b.clock.Now()
	ack := Ack{XID: xid, Switch: dpid, RTT: now.Sub(p.sent)}
	if last, ok := b.lastArrival[dpid]; ok {
		ack.SinceLast = now.Sub(last)
	}
	b.lastArrival[dpid] = now
	return ack, true
}

// Forget drops the pending barriers of a switch, e.g. on disconnect.
func (b *BarrierTracker) Forget(dpid uint64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for xid, p := range b.pending {
		if p.dpid == dpid {
			delete(b.pending, xid)
			n++
		}
	}
	delete(b.lastArrival, dpid)
	return n
}

// Pending returns the number of unacknowledged barriers.
func (b *BarrierTracker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
