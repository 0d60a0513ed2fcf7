package failover

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dd0wney/cluso-sdn/pkg/eventloop"
	"github.com/dd0wney/cluso-sdn/pkg/flowsync"
	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/rules"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

// Params describe one emulated link failure. All offsets are relative to
// the moment Emulate is called.
type Params struct {
	Link     string
	Start    time.Duration
	Duration time.Duration
	// Reroute delays failover activation after the link goes down; zero
	// disables it.
	Reroute time.Duration
	// Restore deactivates failover Reroute after the link comes back.
	Restore bool
}

// EventKind names an emulation step.
type EventKind string

const (
	EventDown    EventKind = "down"
	EventUp      EventKind = "up"
	EventReroute EventKind = "reroute"
	EventRestore EventKind = "restore"
)

// Event is one executed emulation step.
type Event struct {
	Kind EventKind
	// Switch is set for port events.
	Switch uint64
	Port   uint16
	At     time.Time
	// Gap is the time since the previous event of the same emulation.
	Gap time.Duration
	XID string
	RTT time.Duration
	// Acked is set once the barrier following the event was answered.
	Acked bool
	Err   error
}

// Emulation is a scheduled link failure and the measurements it has
// collected so far.
type Emulation struct {
	Params
	Scheduled time.Time

	expected int

	mu     sync.Mutex
	events []Event
	timers []*eventloop.Timer
}

// Events returns the executed steps in order.
func (e *Emulation) Events() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.events)
}

// Finished reports whether every scheduled step has run.
func (e *Emulation) Finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.events) >= e.expected
}

// Cancel stops the steps that have not run yet.
func (e *Emulation) Cancel() {
	e.mu.Lock()
	timers := e.timers
	e.timers = nil
	e.mu.Unlock()
	for _, t := range timers {
		t.Stop()
	}
}

func (e *Emulation) record(ev Event) (int, time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n := len(e.events); n > 0 {
		ev.Gap = ev.At.Sub(e.events[n-1].At)
	}
	e.events = append(e.events, ev)
	return len(e.events) - 1, ev.Gap
}

func (e *Emulation) acked(i int, ack flowsync.Ack) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i < len(e.events) {
		e.events[i].RTT = ack.RTT
		e.events[i].Acked = true
	}
}

type linkEnd struct {
	dpid uint64
	port uint16
}

// Emulate schedules a link failure: both ends of the link drop all
// incoming traffic from Start until Start+Duration. With Reroute set the
// staged failover is activated at Start+Reroute and, with Restore,
// deactivated at Start+Duration+Reroute.
func (m *Manager) Emulate(p Params) (*Emulation, error) {
	ends, err := m.linkEnds(p.Link)
	if err != nil {
		return nil, err
	}
	if _, ok := m.Staged(p.Link); !ok && p.Reroute > 0 {
		m.logger.Warn("no staged failover for emulated link", logging.Link(p.Link))
	}

	e := &Emulation{Params: p, Scheduled: m.loop.Now(), expected: 2 * len(ends)}
	e.timers = append(e.timers,
		m.loop.AfterFunc(p.Start, func() { m.setPorts(e, ends, EventDown) }),
		m.loop.AfterFunc(p.Start+p.Duration, func() { m.setPorts(e, ends, EventUp) }),
	)
	if p.Reroute > 0 {
		e.expected++
		e.timers = append(e.timers, m.loop.AfterFunc(p.Start+p.Reroute, func() {
			m.reroute(e, EventReroute, m.Activate)
		}))
		if p.Restore {
			e.expected++
			e.timers = append(e.timers, m.loop.AfterFunc(p.Start+p.Duration+p.Reroute, func() {
				m.reroute(e, EventRestore, m.Deactivate)
			}))
		}
	}

	m.mu.Lock()
	m.emulations = append(m.emulations, e)
	m.mu.Unlock()

	m.logger.Warn("link failure scheduled",
		logging.Link(p.Link),
		logging.Duration("start", p.Start),
		logging.Duration("duration", p.Duration),
		logging.Duration("reroute", p.Reroute),
		logging.Bool("restore", p.Restore))
	return e, nil
}

func (m *Manager) linkEnds(link string) ([]linkEnd, error) {
	const op = "emulate"
	g := m.topo.Graph()
	if _, ok := g.LinkByName(link); !ok {
		return nil, topology.NewError(op).Link(link).Cause(topology.ErrLinkNotFound).Err()
	}
	nameA, nameB, _ := strings.Cut(link, "-")
	a, _ := g.NodeByName(nameA)
	b, _ := g.NodeByName(nameB)
	pa, okA := a.PortToward(b.ID)
	pb, okB := b.PortToward(a.ID)
	if !okA || !okB {
		return nil, topology.NewError(op).Link(link).Cause(topology.ErrPortNotFound).Err()
	}
	return []linkEnd{
		{dpid: a.ID, port: uint16(pa.Number)},
		{dpid: b.ID, port: uint16(pb.Number)},
	}, nil
}

// setPorts installs or strictly removes the drop rule on every end, each
// followed by a barrier.
func (m *Manager) setPorts(e *Emulation, ends []linkEnd, kind EventKind) {
	for _, end := range ends {
		fm := rules.DropPort(end.port, e.Duration)
		if kind == EventUp {
			fm = fm.Strict()
		}
		ev := Event{Kind: kind, Switch: end.dpid, Port: end.port, At: m.loop.Now()}

		frame, err := m.codec.Encode(fm)
		if err == nil {
			err = m.switches.Send(end.dpid, [][]byte{frame})
		}
		if err == nil {
			ev.XID, err = m.switches.SendBarrier(end.dpid)
		}
		ev.Err = err

		i, gap := e.record(ev)
		if ev.XID != "" {
			m.trackBarrier(ev.XID, e, i)
		}
		m.metrics.RecordEmulationEvent(string(kind), gap)

		fields := []logging.Field{
			logging.Link(e.Link),
			logging.SwitchID(end.dpid),
			logging.Int("port", int(end.port)),
			logging.Duration("gap", gap),
		}
		if err != nil {
			m.logger.Error("port "+string(kind)+" failed", append(fields, logging.Error(err))...)
			continue
		}
		m.logger.Info("port "+string(kind), fields...)
	}
}

func (m *Manager) reroute(e *Emulation, kind EventKind, apply func(string) error) {
	ev := Event{Kind: kind, At: m.loop.Now()}
	ev.Err = apply(e.Link)
	_, gap := e.record(ev)
	m.metrics.RecordEmulationEvent(string(kind), gap)
}
