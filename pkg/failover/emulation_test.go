package failover

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-sdn/pkg/openflow"
	"github.com/dd0wney/cluso-sdn/pkg/rules"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
	"github.com/dd0wney/cluso-sdn/pkg/topology/topotest"
)

func emulate(t *testing.T, h *harness, p Params) *Emulation {
	t.Helper()
	var (
		e   *Emulation
		err error
	)
	h.do(func() { e, err = h.mgr.Emulate(p) })
	require.NoError(t, err)
	return e
}

func hasDrop(entries []openflow.FlowEntry, port uint16) bool {
	for _, e := range entries {
		if e.Priority == rules.DropPriority && e.Match == (openflow.Match{InPort: port}) && len(e.Actions) == 0 {
			return true
		}
	}
	return false
}

func TestEmulate_Timeline(t *testing.T) {
	h := newHarness(t, Config{Link: topotest.ProtectedLink})
	g := topotest.Ring(t, true)
	p1 := topotest.Port(t, g, "S1", "S2")
	p2 := topotest.Port(t, g, "S2", "S1")

	e := emulate(t, h, Params{
		Link:     topotest.ProtectedLink,
		Start:    3 * time.Second,
		Duration: 10 * time.Second,
		Reroute:  200 * time.Millisecond,
		Restore:  true,
	})
	assert.False(t, e.Finished())

	h.advance(3 * time.Second)
	assert.True(t, hasDrop(h.table(1), p1))
	assert.True(t, hasDrop(h.table(2), p2))
	assert.Equal(t, h.steady[4], h.table(4))
	drop, ok := h.tableEntry(1, openflow.Match{InPort: p1}, rules.DropPriority)
	require.True(t, ok)
	assert.Equal(t, uint16(10), drop.HardTimeout)

	h.advance(200 * time.Millisecond)
	for _, id := range []uint64{3, 4} {
		assert.Equal(t, withFailover(t, h, id), h.table(id), "switch %d", id)
	}
	assert.Len(t, h.table(1), len(withFailover(t, h, 1))+1)

	h.advance(9800 * time.Millisecond)
	for _, id := range []uint64{1, 2, 3, 4} {
		assert.Equal(t, withFailover(t, h, id), h.table(id), "switch %d", id)
	}

	h.advance(200 * time.Millisecond)
	for id := uint64(1); id <= 4; id++ {
		assert.Equal(t, h.steady[id], h.table(id), "switch %d", id)
	}
	require.True(t, e.Finished())

	events := e.Events()
	require.Len(t, events, 6)
	kinds := make([]EventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
		assert.NoError(t, ev.Err)
	}
	assert.Equal(t, []EventKind{EventDown, EventDown, EventReroute, EventUp, EventUp, EventRestore}, kinds)

	assert.Equal(t, e.Scheduled.Add(3*time.Second), events[0].At)
	assert.Equal(t, time.Duration(0), events[0].Gap)
	assert.Equal(t, time.Duration(0), events[1].Gap)
	assert.Equal(t, 200*time.Millisecond, events[2].Gap)
	assert.Equal(t, 9800*time.Millisecond, events[3].Gap)
	assert.Equal(t, 200*time.Millisecond, events[5].Gap)

	for _, i := range []int{0, 1, 3, 4} {
		assert.NotEmpty(t, events[i].XID, "event %d", i)
		assert.True(t, events[i].Acked, "event %d", i)
	}
	assert.Equal(t, uint64(1), events[0].Switch)
	assert.Equal(t, p1, events[0].Port)
	assert.Equal(t, uint64(2), events[1].Switch)
	assert.Equal(t, p2, events[1].Port)

	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.EmulationEventsTotal.WithLabelValues("down")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EmulationEventsTotal.WithLabelValues("restore")))
}

func TestEmulate_WithoutRestore(t *testing.T) {
	h := newHarness(t, Config{Link: topotest.ProtectedLink})

	e := emulate(t, h, Params{
		Link:     "S2-S1",
		Start:    time.Second,
		Duration: 2 * time.Second,
		Reroute:  50 * time.Millisecond,
	})
	h.advance(time.Second)
	h.advance(50 * time.Millisecond)
	h.advance(2 * time.Second)
	h.advance(time.Minute)

	require.True(t, e.Finished())
	assert.Len(t, e.Events(), 5)
	for id := uint64(1); id <= 4; id++ {
		assert.Equal(t, withFailover(t, h, id), h.table(id), "switch %d", id)
	}
}

func TestEmulate_WithoutReroute(t *testing.T) {
	h := newHarness(t, Config{Link: topotest.ProtectedLink})

	e := emulate(t, h, Params{Link: topotest.ProtectedLink, Start: time.Second, Duration: 100 * time.Millisecond, Restore: true})
	h.advance(time.Second)
	assert.Len(t, e.Events(), 2)
	assert.Equal(t, h.steady[3], h.table(3))

	h.advance(100 * time.Millisecond)
	require.True(t, e.Finished())
	assert.Len(t, e.Events(), 4)
	for id := uint64(1); id <= 4; id++ {
		assert.Equal(t, h.steady[id], h.table(id), "switch %d", id)
	}
}

func TestEmulate_Cancel(t *testing.T) {
	h := newHarness(t, Config{Link: topotest.ProtectedLink})

	e := emulate(t, h, Params{Link: topotest.ProtectedLink, Start: time.Second, Duration: time.Second, Reroute: time.Millisecond, Restore: true})
	e.Cancel()
	h.advance(10 * time.Second)

	assert.Empty(t, e.Events())
	assert.False(t, e.Finished())
	for id := uint64(1); id <= 4; id++ {
		assert.Equal(t, h.steady[id], h.table(id), "switch %d", id)
	}
}

func TestEmulate_UnknownLink(t *testing.T) {
	h := newHarness(t, Config{Link: topotest.ProtectedLink})

	var err error
	h.do(func() { _, err = h.mgr.Emulate(Params{Link: "S1-S9", Start: time.Second}) })
	assert.ErrorIs(t, err, topology.ErrLinkNotFound)
	assert.Empty(t, h.mgr.Emulations())
}

func TestEmulate_DisconnectedEnd(t *testing.T) {
	h := newHarness(t, Config{Link: topotest.ProtectedLink})
	h.net.Disconnect(2)
	h.drain()

	e := emulate(t, h, Params{Link: topotest.ProtectedLink, Start: time.Second, Duration: time.Second})
	h.advance(time.Second)

	events := e.Events()
	require.Len(t, events, 2)
	assert.NoError(t, events[0].Err)
	assert.Error(t, events[1].Err)
	assert.Empty(t, events[1].XID)
	assert.False(t, events[1].Acked)
}
