// Package linkutil turns port counters into per-link bandwidth and
// utilisation samples.
package linkutil

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/metrics"
	"github.com/dd0wney/cluso-sdn/pkg/openflow"
	"github.com/dd0wney/cluso-sdn/pkg/pubsub"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

// MinChange is the smallest utilisation change that is published again.
const MinChange = 0.01

// Sample is one link measurement as published on pubsub.TopicLinkUtilization.
type Sample struct {
	SwitchA     uint64    `json:"switch_a"`
	SwitchB     uint64    `json:"switch_b"`
	Link        string    `json:"link"`
	Utilization float64   `json:"utilization"`
	Bandwidth   float64   `json:"bandwidth"`
	At          time.Time `json:"at"`
}

type TopologySource interface {
	Graph() *topology.Graph
}

type reading struct {
	at     time.Time
	rx, tx uint64
}

type direction struct {
	from, to uint64
}

// Tracker keeps the previous counters of every port. Bandwidth is the
// larger of the receive and transmit rates since the previous report and
// utilisation is relative to the highest bandwidth seen on any link.
type Tracker struct {
	clock   clockwork.Clock
	topo    TopologySource
	bus     *pubsub.PubSub
	metrics *metrics.Registry
	logger  logging.Logger

	mu        sync.Mutex
	ports     map[uint64]map[uint16]reading
	peak      float64
	published map[direction]float64
}

func New(clock clockwork.Clock, topo TopologySource, bus *pubsub.PubSub, reg *metrics.Registry, logger logging.Logger) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Tracker{
		clock:     clock,
		topo:      topo,
		bus:       bus,
		metrics:   reg,
		logger:    logger.With(logging.Component("linkutil")),
		ports:     make(map[uint64]map[uint16]reading),
		peak:      1,
		published: make(map[direction]float64),
	}
}

// PortStats consumes a counter report and returns the samples it
// published. Ports without a neighbour in the topology only update their
// counters.
func (t *Tracker) PortStats(dpid uint64, ports []openflow.PortCounters) []Sample {
	now := t.clock.Now()
	g := t.topo.Graph()

	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.ports[dpid]
	if !ok {
		prev = make(map[uint16]reading)
		t.ports[dpid] = prev
	}

	var out []Sample
	for _, pc := range ports {
		cur := reading{at: now, rx: pc.RxBytes, tx: pc.TxBytes}
		last, seen := prev[pc.Port]
		prev[pc.Port] = cur
		if !seen {
			continue
		}
		dt := cur.at.Sub(last.at).Seconds()
		if dt <= 0 || cur.rx < last.rx || cur.tx < last.tx {
			// Counter reset or duplicate report.
			continue
		}
		bw := math.Max(float64(cur.rx-last.rx)/dt, float64(cur.tx-last.tx)/dt)
		t.peak = math.Max(t.peak, bw)
		util := bw / t.peak

		s, ok := t.sample(g, dpid, pc.Port, util, bw, now)
		if !ok {
			continue
		}
		dir := direction{s.SwitchA, s.SwitchB}
		if before, ok := t.published[dir]; ok && math.Abs(before-util) < MinChange {
			continue
		}
		t.published[dir] = util
		t.metrics.SetLinkUtilization(s.Link, s.Utilization, s.Bandwidth)
		if t.bus != nil {
			t.bus.Publish(pubsub.TopicLinkUtilization, s)
		}
		out = append(out, s)
	}
	return out
}

func (t *Tracker) sample(g *topology.Graph, dpid uint64, port uint16, util, bw float64, now time.Time) (Sample, bool) {
	if g == nil {
		return Sample{}, false
	}
	n, ok := g.Node(dpid)
	if !ok {
		return Sample{}, false
	}
	p, ok := n.Ports[int(port)]
	if !ok || !p.Linked {
		return Sample{}, false
	}
	peer, ok := g.Node(p.Neighbor)
	if !ok {
		return Sample{}, false
	}
	return Sample{
		SwitchA:     dpid,
		SwitchB:     peer.ID,
		Link:        n.Name + "-" + peer.Name,
		Utilization: util,
		Bandwidth:   bw,
		At:          now,
	}, true
}

// SwitchDisconnected forgets the counters of dpid.
func (t *Tracker) SwitchDisconnected(dpid uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.ports, dpid)
	for dir := range t.published {
		if dir.from == dpid {
			delete(t.published, dir)
		}
	}
}

// Peak returns the highest bandwidth seen so far, in bytes per second.
func (t *Tracker) Peak() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peak
}
