// Package sim is an in-memory switch network. Every switch keeps a flow
// table that applies the flow-mods it receives, which makes it usable both
// as a dry-run transport and as a test double.
package sim

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/openflow"
)

var ErrDisconnected = errors.New("switch disconnected")

// Network is a set of simulated switches.
type Network struct {
	codec   openflow.Codec
	logger  logging.Logger
	autoAck bool

	mu       sync.Mutex
	handler  openflow.Handler
	switches map[uint64]*Switch
}

// Option configures a Network.
type Option func(*Network)

// WithManualBarriers keeps barrier requests pending until AckBarriers.
func WithManualBarriers() Option {
	return func(n *Network) { n.autoAck = false }
}

func NewNetwork(codec openflow.Codec, logger logging.Logger, opts ...Option) *Network {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	n := &Network{
		codec:    codec,
		logger:   logger.With(logging.Component("sim")),
		autoAck:  true,
		switches: make(map[uint64]*Switch),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Run connects every switch to h and disconnects them when ctx ends.
func (n *Network) Run(ctx context.Context, h openflow.Handler) error {
	n.Attach(h)
	<-ctx.Done()
	for _, id := range n.IDs() {
		n.Disconnect(id)
	}
	return nil
}

// Attach sets the event handler and connects all switches.
func (n *Network) Attach(h openflow.Handler) {
	n.mu.Lock()
	n.handler = h
	n.mu.Unlock()
	for _, id := range n.IDs() {
		n.Connect(id)
	}
}

// AddSwitch creates a switch; it connects right away when a handler is
// attached.
func (n *Network) AddSwitch(dpid uint64) *Switch {
	n.mu.Lock()
	sw, ok := n.switches[dpid]
	if !ok {
		sw = &Switch{dpid: dpid, net: n, table: openflow.NewFlowTable()}
		n.switches[dpid] = sw
	}
	attached := n.handler != nil
	n.mu.Unlock()
	if attached {
		n.Connect(dpid)
	}
	return sw
}

func (n *Network) Switch(dpid uint64) (*Switch, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	sw, ok := n.switches[dpid]
	return sw, ok
}

// IDs returns the switch ids in ascending order.
func (n *Network) IDs() []uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Sorted(maps.Keys(n.switches))
}

// Connect marks the switch connected and notifies the handler.
func (n *Network) Connect(dpid uint64) {
	sw, ok := n.Switch(dpid)
	if !ok {
		return
	}
	sw.mu.Lock()
	already := sw.connected
	sw.connected = true
	sw.mu.Unlock()
	if h := n.currentHandler(); h != nil && !already {
		n.logger.Debug("switch connected", logging.SwitchID(dpid))
		h.SwitchConnected(dpid, sw)
	}
}

// Disconnect drops the control channel; the flow table survives, as it
// would on a real switch in fail-secure mode.
func (n *Network) Disconnect(dpid uint64) {
	sw, ok := n.Switch(dpid)
	if !ok {
		return
	}
	sw.mu.Lock()
	was := sw.connected
	sw.connected = false
	sw.pending = nil
	sw.mu.Unlock()
	if h := n.currentHandler(); h != nil && was {
		n.logger.Debug("switch disconnected", logging.SwitchID(dpid))
		h.SwitchDisconnected(dpid)
	}
}

func (n *Network) currentHandler() openflow.Handler {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.handler
}

// Switch is one simulated datapath. It implements openflow.Conn.
type Switch struct {
	dpid  uint64
	net   *Network
	table *openflow.FlowTable

	mu        sync.Mutex
	connected bool
	pending   []string
	history   []openflow.FlowMod
	frames    int
}

func (s *Switch) DPID() uint64 { return s.dpid }

// Send decodes and applies one frame.
func (s *Switch) Send(frame []byte) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return ErrDisconnected
	}
	s.frames++
	s.mu.Unlock()

	msg, err := s.net.codec.Decode(frame)
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case openflow.FlowMod:
		s.table.Apply(m)
		s.mu.Lock()
		s.history = append(s.history, m)
		s.mu.Unlock()
	case openflow.Barrier:
		if s.net.autoAck {
			if h := s.net.currentHandler(); h != nil {
				h.BarrierReply(s.dpid, m.XID)
			}
			return nil
		}
		s.mu.Lock()
		s.pending = append(s.pending, m.XID)
		s.mu.Unlock()
	default:
		s.net.logger.Warn("unexpected message", logging.SwitchID(s.dpid), logging.String("type", string(msg.MessageType())))
	}
	return nil
}

// Table exposes the switch's flow table.
func (s *Switch) Table() *openflow.FlowTable { return s.table }

// History returns every flow-mod received so far.
func (s *Switch) History() []openflow.FlowMod {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// Frames counts frames received.
func (s *Switch) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// PendingBarriers lists unanswered barrier ids in arrival order.
func (s *Switch) PendingBarriers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pending)
}

// AckBarriers answers the given pending barriers in the given order.
func (s *Switch) AckBarriers(xids ...string) {
	h := s.net.currentHandler()
	for _, xid := range xids {
		s.mu.Lock()
		i := slices.Index(s.pending, xid)
		if i >= 0 {
			s.pending = slices.Delete(s.pending, i, i+1)
		}
		s.mu.Unlock()
		if i >= 0 && h != nil {
			h.BarrierReply(s.dpid, xid)
		}
	}
}

// InjectPacket delivers a frame to the controller as a packet-in.
func (s *Switch) InjectPacket(inPort uint16, frame []byte) {
	if h := s.net.currentHandler(); h != nil {
		h.PacketIn(s.dpid, inPort, frame)
	}
}

// ReportPortStats delivers port counters to the controller.
func (s *Switch) ReportPortStats(ports ...openflow.PortCounters) {
	if h := s.net.currentHandler(); h != nil {
		h.PortStats(s.dpid, ports)
	}
}
