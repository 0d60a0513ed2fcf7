package app

import (
	"github.com/dd0wney/cluso-sdn/pkg/eventloop"
	"github.com/dd0wney/cluso-sdn/pkg/failover"
	"github.com/dd0wney/cluso-sdn/pkg/flowsync"
	"github.com/dd0wney/cluso-sdn/pkg/linkutil"
	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/openflow"
)

// Handler routes transport events onto the loop. Transports call it from
// their own goroutines; every method only posts.
type Handler struct {
	Loop     *eventloop.Loop
	Sync     *flowsync.Synchronizer
	Failover *failover.Manager
	Links    *linkutil.Tracker
	Logger   logging.Logger
}

var _ openflow.Handler = Handler{}

func (h Handler) SwitchConnected(dpid uint64, conn openflow.Conn) {
	h.Loop.Post(func() { h.Sync.SwitchConnected(dpid, conn) })
}

func (h Handler) SwitchDisconnected(dpid uint64) {
	h.Loop.Post(func() {
		h.Sync.SwitchDisconnected(dpid)
		h.Links.SwitchDisconnected(dpid)
	})
}

func (h Handler) BarrierReply(dpid uint64, xid string) {
	h.Loop.Post(func() { h.Sync.BarrierReply(dpid, xid) })
}

// PacketIn hands frames to the trigger detector; anything else is not
// this controller's business, as forwarding is proactive.
func (h Handler) PacketIn(dpid uint64, inPort uint16, frame []byte) {
	h.Loop.Post(func() {
		if !h.Failover.PacketIn(dpid, inPort, frame) {
			h.Logger.Debug("packet-in ignored", logging.SwitchID(dpid), logging.Int("in_port", int(inPort)), logging.Int("bytes", len(frame)))
		}
	})
}

func (h Handler) PortStats(dpid uint64, ports []openflow.PortCounters) {
	h.Loop.Post(func() { h.Links.PortStats(dpid, ports) })
}
