package failover

import (
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// TriggerPrefix holds the destination addresses that drive failure
// emulation.
var TriggerPrefix = netip.MustParsePrefix("10.10.10.0/24")

// packetParser decodes the headers needed to spot trigger packets. It
// reuses its layers between calls and is not safe for concurrent use.
type packetParser struct {
	eth    layers.Ethernet
	ip4    layers.IPv4
	ip6    layers.IPv6
	tcp    layers.TCP
	udp    layers.UDP
	parser *gopacket.DecodingLayerParser
	found  []gopacket.LayerType
}

func newPacketParser() *packetParser {
	p := &packetParser{}
	p.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&p.eth,
		&p.ip4,
		&p.ip6,
		&p.tcp,
		&p.udp,
	)
	p.parser.IgnoreUnsupported = true
	return p
}

// ipv4Destination returns the IPv4 destination of an Ethernet frame.
func (p *packetParser) ipv4Destination(frame []byte) (netip.Addr, bool) {
	p.found = p.found[:0]
	// Truncated packet-ins fail somewhere past the IP header; whatever
	// decoded before the error is still usable.
	_ = p.parser.DecodeLayers(frame, &p.found)
	for _, lt := range p.found {
		if lt == layers.LayerTypeIPv4 {
			addr, ok := netip.AddrFromSlice(p.ip4.DstIP)
			return addr.Unmap(), ok
		}
	}
	return netip.Addr{}, false
}
