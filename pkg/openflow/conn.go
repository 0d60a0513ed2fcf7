package openflow

import "context"

// Conn is an established control channel to one switch.
type Conn interface {
	DPID() uint64
	// Send transmits one encoded frame. It must not block on the switch.
	Send(frame []byte) error
}

// Handler receives switch events from a transport. Transports may call it
// from their own goroutines.
type Handler interface {
	SwitchConnected(dpid uint64, conn Conn)
	SwitchDisconnected(dpid uint64)
	BarrierReply(dpid uint64, xid string)
	PacketIn(dpid uint64, inPort uint16, frame []byte)
	PortStats(dpid uint64, ports []PortCounters)
}

// Transport accepts switch connections and reports their events.
type Transport interface {
	Run(ctx context.Context, h Handler) error
}

// SendAll writes pre-encoded frames in order and stops at the first error.
func SendAll(c Conn, frames [][]byte) error {
	for _, f := range frames {
		if err := c.Send(f); err != nil {
			return err
		}
	}
	return nil
}
