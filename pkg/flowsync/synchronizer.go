// Package flowsync keeps every connected switch's flow table equal to the
// rule set the current topology implies.
//
// Connection events, topology changes and timers arrive on the event loop.
// Resets themselves may also be requested from other goroutines; resets of
// one switch are serialised by a lock stripe keyed on the datapath id.
package flowsync

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dd0wney/cluso-sdn/pkg/eventloop"
	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/metrics"
	"github.com/dd0wney/cluso-sdn/pkg/openflow"
	"github.com/dd0wney/cluso-sdn/pkg/rules"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

// DefaultSettleDelay is how long a freshly connected switch is left alone
// before its table is reset.
const DefaultSettleDelay = 4 * time.Second

const lockStripes = 256

// TopologySource hands out the current topology snapshot. Snapshots are
// never mutated after publication.
type TopologySource interface {
	Graph() *topology.Graph
}

// BarrierListener is notified of every acknowledged barrier.
type BarrierListener interface {
	BarrierAcked(ack Ack)
}

type Config struct {
	SettleDelay time.Duration
}

type switchState struct {
	conn  openflow.Conn
	state State
	// gen changes on every connect and disconnect so a settle timer can
	// tell whether it still belongs to the current connection.
	gen   uint64
	timer *eventloop.Timer
}

// Synchronizer drives the per-switch state machine.
type Synchronizer struct {
	cfg      Config
	loop     *eventloop.Loop
	topo     TopologySource
	codec    openflow.Codec
	barriers *BarrierTracker
	metrics  *metrics.Registry
	logger   logging.Logger

	stripes [lockStripes]sync.Mutex

	mu        sync.Mutex
	switches  map[uint64]*switchState
	listeners []BarrierListener
}

func New(cfg Config, loop *eventloop.Loop, topo TopologySource, codec openflow.Codec, reg *metrics.Registry, logger logging.Logger) *Synchronizer {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Synchronizer{
		cfg:      cfg,
		loop:     loop,
		topo:     topo,
		codec:    codec,
		barriers: NewBarrierTracker(loop.Clock()),
		metrics:  reg,
		logger:   logger.With(logging.Component("flowsync")),
		switches: make(map[uint64]*switchState),
	}
}

// AddBarrierListener registers l for barrier acknowledgements.
func (s *Synchronizer) AddBarrierListener(l BarrierListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Barriers exposes the barrier tracker.
func (s *Synchronizer) Barriers() *BarrierTracker { return s.barriers }

// SwitchConnected starts the settle delay of dpid. A reconnect without an
// intervening disconnect replaces the connection.
func (s *Synchronizer) SwitchConnected(dpid uint64, conn openflow.Conn) {
	s.mu.Lock()
	sw, ok := s.switches[dpid]
	if !ok {
		sw = &switchState{}
		s.switches[dpid] = sw
	}
	if sw.timer != nil {
		sw.timer.Stop()
	}
	sw.conn = conn
	sw.state = Settling
	sw.gen++
	gen := sw.gen
	sw.timer = s.loop.AfterFunc(s.cfg.SettleDelay, func() { s.settled(dpid, gen) })
	s.mu.Unlock()

	if _, known := s.topo.Graph().Node(dpid); !known {
		s.logger.Warn("unknown switch connected", logging.SwitchID(dpid))
	} else {
		s.logger.Info("switch connected", logging.SwitchID(dpid), logging.Duration("settle", s.cfg.SettleDelay))
	}
	s.publishStates()
}

func (s *Synchronizer) settled(dpid uint64, gen uint64) {
	s.mu.Lock()
	sw, ok := s.switches[dpid]
	current := ok && sw.gen == gen && sw.state == Settling
	if current {
		sw.timer = nil
	}
	s.mu.Unlock()
	if !current {
		return
	}
	_ = s.Reset(dpid) // failures are logged by Reset
}

// SwitchDisconnected forgets the connection of dpid and cancels its
// pending settle timer.
func (s *Synchronizer) SwitchDisconnected(dpid uint64) {
	s.mu.Lock()
	sw, ok := s.switches[dpid]
	if ok {
		if sw.timer != nil {
			sw.timer.Stop()
			sw.timer = nil
		}
		sw.conn = nil
		sw.state = Disconnected
		sw.gen++
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	dropped := s.barriers.Forget(dpid)
	s.logger.Info("switch disconnected", logging.SwitchID(dpid), logging.Int("dropped_barriers", dropped))
	s.publishStates()
}

// BarrierReply resolves an acknowledgement. Unknown ids are counted and
// otherwise ignored.
func (s *Synchronizer) BarrierReply(dpid uint64, xid string) {
	ack, ok := s.barriers.Ack(xid, dpid)
	if !ok {
		s.metrics.BarrierUnknownAckTotal.Inc()
		s.logger.Debug("ignoring unknown barrier reply", logging.SwitchID(dpid), logging.XID(xid))
		return
	}
	s.metrics.RecordBarrierRTT(ack.RTT, s.barriers.Pending())
	s.logger.Debug("barrier acknowledged",
		logging.SwitchID(dpid),
		logging.XID(xid),
		logging.Latency(ack.RTT),
		logging.Duration("since_last", ack.SinceLast))

	s.mu.Lock()
	listeners := slices.Clone(s.listeners)
	s.mu.Unlock()
	for _, l := range listeners {
		l.BarrierAcked(ack)
	}
}

// TopologyChanged resets every switch that already went through its
// settle delay.
func (s *Synchronizer) TopologyChanged() {
	for _, dpid := range s.inStates(Resetting, Synced) {
		_ = s.Reset(dpid)
	}
}

// ResetAll resets every connected switch, including settling ones.
func (s *Synchronizer) ResetAll() {
	for _, dpid := range s.inStates(Settling, Resetting, Synced) {
		_ = s.Reset(dpid)
	}
}

// Reset rewrites the flow table of dpid from the current topology and
// closes the batch with a barrier. It does not wait for the reply. Errors
// are logged here and returned for callers that care.
func (s *Synchronizer) Reset(dpid uint64) error {
	lock := &s.stripes[dpid%lockStripes]
	lock.Lock()
	defer lock.Unlock()

	timer := logging.StartTimer(s.logger, "flow table reset", logging.SwitchID(dpid))

	conn, err := s.conn(dpid)
	if err != nil {
		s.metrics.RecordReset(err, 0)
		timer.EndError(err)
		return err
	}
	s.setState(dpid, Resetting)

	mods, err := rules.Reset(s.topo.Graph(), dpid)
	if err != nil {
		s.metrics.RecordReset(err, 0)
		timer.EndError(err)
		return err
	}
	msgs := make([]openflow.Message, len(mods))
	for i, m := range mods {
		msgs[i] = m
	}
	timer.AddFields(logging.Count(len(mods)))
	frames, err := openflow.EncodeAll(s.codec, msgs...)
	if err == nil {
		err = openflow.SendAll(conn, frames)
	}
	if err == nil {
		_, err = s.sendBarrier(dpid, conn)
	}
	if err != nil {
		err = topology.NewError("reset").Kind(topology.KindSynchronization).Switch(dpid).Cause(err).Err()
		s.metrics.RecordReset(err, 0)
		timer.EndError(err)
		return err
	}

	s.setState(dpid, Synced)
	s.metrics.RecordReset(nil, len(mods))
	timer.End()
	return nil
}

// Send transmits pre-encoded frames to dpid.
func (s *Synchronizer) Send(dpid uint64, frames [][]byte) error {
	conn, err := s.conn(dpid)
	if err != nil {
		return err
	}
	if err := openflow.SendAll(conn, frames); err != nil {
		return topology.NewError("send").Kind(topology.KindSynchronization).Switch(dpid).Cause(err).Err()
	}
	return nil
}

// SendBarrier sends a barrier to dpid and returns its id.
func (s *Synchronizer) SendBarrier(dpid uint64) (string, error) {
	conn, err := s.conn(dpid)
	if err != nil {
		return "", err
	}
	return s.sendBarrier(dpid, conn)
}

func (s *Synchronizer) sendBarrier(dpid uint64, conn openflow.Conn) (string, error) {
	xid := NewXID()
	frame, err := s.codec.Encode(openflow.Barrier{XID: xid})
	if err != nil {
		return "", err
	}
	// Recorded first: a switch may answer before Send returns.
	s.barriers.Sent(xid, dpid)
	if err := conn.Send(frame); err != nil {
		s.barriers.Ack(xid, dpid)
		return "", fmt.Errorf("barrier %s: %w", xid, err)
	}
	return xid, nil
}

func (s *Synchronizer) conn(dpid uint64) (openflow.Conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sw, ok := s.switches[dpid]
	if !ok || sw.conn == nil {
		return nil, topology.UnknownSwitchError("send", dpid)
	}
	return sw.conn, nil
}

func (s *Synchronizer) setState(dpid uint64, st State) {
	s.mu.Lock()
	sw, ok := s.switches[dpid]
	if ok && sw.conn != nil {
		sw.state = st
	}
	s.mu.Unlock()
	s.publishStates()
}

// State returns the state of dpid; unknown switches are Disconnected.
func (s *Synchronizer) State(dpid uint64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sw, ok := s.switches[dpid]; ok {
		return sw.state
	}
	return Disconnected
}

// States returns a snapshot of every known switch's state.
func (s *Synchronizer) States() map[uint64]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[uint64]State, len(s.switches))
	for id, sw := range s.switches {
		out[id] = sw.state
	}
	return out
}

// Connected lists connected switches in ascending order.
func (s *Synchronizer) Connected() []uint64 {
	return s.inStates(Settling, Resetting, Synced)
}

func (s *Synchronizer) inStates(states ...State) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint64
	for id, sw := range s.switches {
		if slices.Contains(states, sw.state) {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func (s *Synchronizer) publishStates() {
	s.metrics.SetSwitchStates(s.Summary())
}

// Summary counts switches per state name.
func (s *Synchronizer) Summary() map[string]int {
	counts := map[string]int{}
	for _, st := range s.States() {
		counts[st.String()]++
	}
	return counts
}
