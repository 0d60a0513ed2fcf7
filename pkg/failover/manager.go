// Package failover stages the rule batches that move traffic off a
// protected link, emulates link failures and reacts to trigger packets.
package failover

import (
	"maps"
	"net/netip"
	"slices"
	"sync"

	"github.com/dd0wney/cluso-sdn/pkg/eventloop"
	"github.com/dd0wney/cluso-sdn/pkg/flowsync"
	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/metrics"
	"github.com/dd0wney/cluso-sdn/pkg/openflow"
	"github.com/dd0wney/cluso-sdn/pkg/rules"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

// DefaultLink is the link trigger packets act on unless configured.
const DefaultLink = "nl-hr"

// Switches sends to connected switches.
type Switches interface {
	Send(dpid uint64, frames [][]byte) error
	SendBarrier(dpid uint64) (string, error)
	ResetAll()
}

type Config struct {
	// Link is the link trigger packets emulate a failure of.
	Link     string
	Triggers map[netip.Addr]Trigger
}

// Batches are the encoded failover messages of one protected link.
type Batches struct {
	Link       string
	Switches   []uint64
	Activate   map[uint64][][]byte
	Deactivate map[uint64][][]byte
}

// Manager owns the staged batches and running emulations. Its event
// methods run on the loop; queries are safe from any goroutine.
type Manager struct {
	cfg      Config
	loop     *eventloop.Loop
	topo     flowsync.TopologySource
	switches Switches
	codec    openflow.Codec
	metrics  *metrics.Registry
	logger   logging.Logger
	parser   *packetParser

	mu         sync.Mutex
	staged     map[string]*Batches
	emulations []*Emulation
	barriers   map[string]barrierRef
}

type barrierRef struct {
	emu   *Emulation
	index int
}

func NewManager(cfg Config, loop *eventloop.Loop, topo flowsync.TopologySource, switches Switches, codec openflow.Codec, reg *metrics.Registry, logger logging.Logger) *Manager {
	if cfg.Link == "" {
		cfg.Link = DefaultLink
	}
	if cfg.Triggers == nil {
		cfg.Triggers = DefaultTriggers()
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Manager{
		cfg:      cfg,
		loop:     loop,
		topo:     topo,
		switches: switches,
		codec:    codec,
		metrics:  reg,
		logger:   logger.With(logging.Component("failover")),
		parser:   newPacketParser(),
		staged:   make(map[string]*Batches),
		barriers: make(map[string]barrierRef),
	}
}

// TopologyChanged rebuilds the batches of every protected link. A link
// whose batches cannot be built is logged and left unstaged.
func (m *Manager) TopologyChanged() {
	g := m.topo.Graph()
	staged := make(map[string]*Batches)
	for _, link := range rules.ProtectedLinks(g) {
		f, err := rules.BuildFailover(g, link)
		if err != nil {
			m.logger.Error("cannot stage failover", logging.Link(link), logging.Error(err))
			continue
		}
		b, err := m.encode(f)
		if err != nil {
			m.logger.Error("cannot encode failover", logging.Link(link), logging.Error(err))
			continue
		}
		staged[link] = b
		m.logger.Info("failover staged",
			logging.Link(link),
			logging.Int("switches", len(b.Switches)),
			logging.Any("path", g.RouteNames(f.Path)))
	}

	m.mu.Lock()
	m.staged = staged
	m.mu.Unlock()
	m.metrics.FailoverStagedLinks.Set(float64(len(staged)))
}

func (m *Manager) encode(f *rules.Failover) (*Batches, error) {
	b := &Batches{
		Link:       f.Link,
		Switches:   f.Switches(),
		Activate:   make(map[uint64][][]byte),
		Deactivate: make(map[uint64][][]byte),
	}
	for _, id := range b.Switches {
		act, err := encodeMods(m.codec, f.Activate[id])
		if err != nil {
			return nil, err
		}
		deact, err := encodeMods(m.codec, f.Deactivate(id))
		if err != nil {
			return nil, err
		}
		b.Activate[id] = act
		b.Deactivate[id] = deact
	}
	return b, nil
}

func encodeMods(c openflow.Codec, mods []openflow.FlowMod) ([][]byte, error) {
	msgs := make([]openflow.Message, len(mods))
	for i, fm := range mods {
		msgs[i] = fm
	}
	return openflow.EncodeAll(c, msgs...)
}

// Staged returns the batches of a link. Either orientation of the name
// is accepted.
func (m *Manager) Staged(link string) (*Batches, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup(link)
}

func (m *Manager) lookup(link string) (*Batches, bool) {
	if b, ok := m.staged[link]; ok {
		return b, true
	}
	for name, b := range m.staged {
		if rules.SameLink(name, link) {
			return b, true
		}
	}
	return nil, false
}

// StagedLinks lists the links with staged batches.
func (m *Manager) StagedLinks() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.staged))
}

// Activate transmits the prepared activate batches of link.
func (m *Manager) Activate(link string) error {
	return m.transmit(link, "activate", func(b *Batches) map[uint64][][]byte { return b.Activate })
}

// Deactivate transmits the prepared deactivate batches of link.
func (m *Manager) Deactivate(link string) error {
	return m.transmit(link, "deactivate", func(b *Batches) map[uint64][][]byte { return b.Deactivate })
}

func (m *Manager) transmit(link, action string, pick func(*Batches) map[uint64][][]byte) error {
	b, ok := m.Staged(link)
	if !ok {
		return topology.NewError(action).Kind(topology.KindRouteComputation).Link(link).Cause(topology.ErrNoProtection).Err()
	}
	frames := pick(b)
	var firstErr error
	for _, id := range b.Switches {
		if err := m.switches.Send(id, frames[id]); err != nil {
			m.logger.Warn("failover send failed", logging.Link(link), logging.SwitchID(id), logging.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.metrics.FailoverActionsTotal.WithLabelValues(action).Inc()
	m.logger.Info("failover "+action, logging.Link(link), logging.Int("switches", len(b.Switches)))
	return firstErr
}

// PacketIn inspects an unhandled frame for a trigger destination and
// reports whether it was one.
func (m *Manager) PacketIn(dpid uint64, inPort uint16, frame []byte) bool {
	dst, ok := m.parser.ipv4Destination(frame)
	if !ok || !TriggerPrefix.Contains(dst) {
		return false
	}
	trig, ok := m.cfg.Triggers[dst]
	if !ok {
		m.logger.Debug("unassigned trigger address", logging.SwitchID(dpid), logging.String("dst", dst.String()))
		return true
	}
	m.metrics.MarkerPacketsTotal.WithLabelValues(dst.String()).Inc()
	m.logger.Info("trigger packet",
		logging.SwitchID(dpid),
		logging.Int("in_port", int(inPort)),
		logging.String("dst", dst.String()),
		logging.String("trigger", trig.String()))

	if trig.ResetAll {
		m.switches.ResetAll()
		return true
	}
	_, err := m.Emulate(Params{
		Link:     m.cfg.Link,
		Start:    trig.Start,
		Duration: trig.Duration,
		Reroute:  trig.Reroute,
		Restore:  trig.Restore,
	})
	if err != nil {
		m.logger.Error("cannot emulate link failure", logging.Link(m.cfg.Link), logging.Error(err))
	}
	return true
}

// BarrierAcked attaches barrier round trips to emulation events.
func (m *Manager) BarrierAcked(ack flowsync.Ack) {
	m.mu.Lock()
	ref, ok := m.barriers[ack.XID]
	delete(m.barriers, ack.XID)
	m.mu.Unlock()
	if ok {
		ref.emu.acked(ref.index, ack)
	}
}

func (m *Manager) trackBarrier(xid string, e *Emulation, index int) {
	m.mu.Lock()
	m.barriers[xid] = barrierRef{emu: e, index: index}
	m.mu.Unlock()
}

// Emulations returns the emulations started so far, oldest first.
func (m *Manager) Emulations() []*Emulation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.emulations)
}
