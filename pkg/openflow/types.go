// Package openflow models the control-plane messages the controller sends
// to switches and the events it receives from them. The byte encoding of
// those messages belongs to the transport and is pluggable through Codec.
package openflow

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/gopacket/gopacket/layers"
)

// MAC is an Ethernet address; the zero value means "unset".
type MAC [6]byte

var (
	// Broadcast is ff:ff:ff:ff:ff:ff.
	Broadcast = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	// Marker is the reserved destination address carried by traffic
	// steered onto a protection path.
	Marker = MAC{0xee, 0xee, 0xee, 0xee, 0xee, 0xee}
)

// ParseMAC parses the colon separated form. "" yields the zero MAC.
func ParseMAC(s string) (MAC, error) {
	if s == "" {
		return MAC{}, nil
	}
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}
	m, ok := MACFrom(hw)
	if !ok {
		return MAC{}, fmt.Errorf("not an ethernet address: %q", s)
	}
	return m, nil
}

// MACFrom converts a 6 byte hardware address.
func MACFrom(hw net.HardwareAddr) (MAC, bool) {
	var m MAC
	if len(hw) != len(m) {
		return m, false
	}
	copy(m[:], hw)
	return m, true
}

func (m MAC) IsZero() bool { return m == MAC{} }

func (m MAC) String() string {
	if m.IsZero() {
		return ""
	}
	return net.HardwareAddr(m[:]).String()
}

func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MAC) UnmarshalText(b []byte) error {
	v, err := ParseMAC(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Well-known ethertypes and IP protocols.
const (
	EthTypeIPv4 = uint16(layers.EthernetTypeIPv4)
	EthTypeARP  = uint16(layers.EthernetTypeARP)
	EthTypeIPv6 = uint16(layers.EthernetTypeIPv6)

	IPProtoTCP = uint8(layers.IPProtocolTCP)
	IPProtoUDP = uint8(layers.IPProtocolUDP)
)

// Match selects packets. Zero-valued fields are wildcards. Match is
// comparable and is used directly as a flow table key.
type Match struct {
	InPort  uint16       `json:"in_port,omitempty"`
	EthType uint16       `json:"eth_type,omitempty"`
	EthSrc  MAC          `json:"eth_src"`
	EthDst  MAC          `json:"eth_dst"`
	IPProto uint8        `json:"ip_proto,omitempty"`
	IPSrc   netip.Prefix `json:"ip_src"`
	IPDst   netip.Prefix `json:"ip_dst"`
}

// Host returns the single address prefix for addr.
func Host(addr netip.Addr) netip.Prefix {
	if !addr.IsValid() {
		return netip.Prefix{}
	}
	return netip.PrefixFrom(addr, addr.BitLen())
}

// IsAll reports whether every field is wildcarded.
func (m Match) IsAll() bool {
	return m == Match{}
}

// Covers reports whether every packet o selects is also selected by m,
// which is the condition a non-strict delete uses.
func (m Match) Covers(o Match) bool {
	if m.InPort != 0 && m.InPort != o.InPort {
		return false
	}
	if m.EthType != 0 && m.EthType != o.EthType {
		return false
	}
	if !m.EthSrc.IsZero() && m.EthSrc != o.EthSrc {
		return false
	}
	if !m.EthDst.IsZero() && m.EthDst != o.EthDst {
		return false
	}
	if m.IPProto != 0 && m.IPProto != o.IPProto {
		return false
	}
	return prefixCovers(m.IPSrc, o.IPSrc) && prefixCovers(m.IPDst, o.IPDst)
}

func prefixCovers(outer, inner netip.Prefix) bool {
	if !outer.IsValid() {
		return true
	}
	if !inner.IsValid() || inner.Bits() < outer.Bits() {
		return false
	}
	return outer.Contains(inner.Addr())
}

func (m Match) String() string {
	var parts []string
	if m.InPort != 0 {
		parts = append(parts, fmt.Sprintf("in_port=%d", m.InPort))
	}
	if m.EthType != 0 {
		parts = append(parts, fmt.Sprintf("eth_type=0x%04x", m.EthType))
	}
	if !m.EthSrc.IsZero() {
		parts = append(parts, "eth_src="+m.EthSrc.String())
	}
	if !m.EthDst.IsZero() {
		parts = append(parts, "eth_dst="+m.EthDst.String())
	}
	if m.IPProto != 0 {
		parts = append(parts, fmt.Sprintf("ip_proto=%d", m.IPProto))
	}
	if m.IPSrc.IsValid() {
		parts = append(parts, "ip_src="+m.IPSrc.String())
	}
	if m.IPDst.IsValid() {
		parts = append(parts, "ip_dst="+m.IPDst.String())
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, ",")
}

// ActionType enumerates supported actions.
type ActionType uint8

const (
	ActionOutput ActionType = iota + 1
	ActionSetEthDst
)

var actionNames = map[ActionType]string{
	ActionOutput:    "output",
	ActionSetEthDst: "set_eth_dst",
}

func (t ActionType) String() string {
	if s, ok := actionNames[t]; ok {
		return s
	}
	return fmt.Sprintf("action(%d)", uint8(t))
}

func (t ActionType) MarshalText() ([]byte, error) {
	if _, ok := actionNames[t]; !ok {
		return nil, fmt.Errorf("unknown action type %d", t)
	}
	return []byte(t.String()), nil
}

func (t *ActionType) UnmarshalText(b []byte) error {
	for k, v := range actionNames {
		if v == string(b) {
			*t = k
			return nil
		}
	}
	return fmt.Errorf("unknown action type %q", b)
}

// Action is one step applied to matching packets.
type Action struct {
	Type ActionType `json:"type"`
	Port uint16     `json:"port,omitempty"`
	MAC  MAC        `json:"mac"`
}

func Output(port uint16) Action { return Action{Type: ActionOutput, Port: port} }
func SetEthDst(m MAC) Action    { return Action{Type: ActionSetEthDst, MAC: m} }

func (a Action) String() string {
	switch a.Type {
	case ActionOutput:
		return fmt.Sprintf("output:%d", a.Port)
	case ActionSetEthDst:
		return "set_eth_dst:" + a.MAC.String()
	default:
		return a.Type.String()
	}
}

// Command is a flow-mod command.
type Command uint8

const (
	CommandAdd Command = iota + 1
	CommandDelete
	CommandDeleteStrict
)

var commandNames = map[Command]string{
	CommandAdd:          "add",
	CommandDelete:       "delete",
	CommandDeleteStrict: "delete_strict",
}

func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return fmt.Sprintf("command(%d)", uint8(c))
}

func (c Command) MarshalText() ([]byte, error) {
	if _, ok := commandNames[c]; !ok {
		return nil, fmt.Errorf("unknown command %d", c)
	}
	return []byte(c.String()), nil
}

func (c *Command) UnmarshalText(b []byte) error {
	for k, v := range commandNames {
		if v == string(b) {
			*c = k
			return nil
		}
	}
	return fmt.Errorf("unknown command %q", b)
}

// MaxPriority is the highest rule priority.
const MaxPriority uint16 = 0xffff

// Message is anything the codec can carry.
type Message interface {
	MessageType() MessageType
}

// MessageType names a message on the wire.
type MessageType string

const (
	TypeFlowMod      MessageType = "flow_mod"
	TypeBarrier      MessageType = "barrier_request"
	TypeBarrierReply MessageType = "barrier_reply"
	TypePacketIn     MessageType = "packet_in"
	TypePortStats    MessageType = "port_stats"
)

// FlowMod adds or removes rules. Timeouts are in seconds; zero is permanent.
type FlowMod struct {
	Command     Command  `json:"command"`
	Match       Match    `json:"match"`
	Priority    uint16   `json:"priority"`
	IdleTimeout uint16   `json:"idle_timeout,omitempty"`
	HardTimeout uint16   `json:"hard_timeout,omitempty"`
	Actions     []Action `json:"actions,omitempty"`
}

func (FlowMod) MessageType() MessageType { return TypeFlowMod }

// Strict returns the exact-match delete for a rule this flow-mod adds.
func (f FlowMod) Strict() FlowMod {
	return FlowMod{Command: CommandDeleteStrict, Match: f.Match, Priority: f.Priority}
}

func (f FlowMod) String() string {
	acts := make([]string, len(f.Actions))
	for i, a := range f.Actions {
		acts[i] = a.String()
	}
	if len(acts) == 0 {
		acts = []string{"drop"}
	}
	return fmt.Sprintf("%s prio=%d %s -> %s", f.Command, f.Priority, f.Match, strings.Join(acts, ","))
}

// Barrier asks the switch to confirm all earlier messages were applied.
type Barrier struct {
	XID string `json:"xid"`
}

func (Barrier) MessageType() MessageType { return TypeBarrier }

// BarrierReply acknowledges a Barrier.
type BarrierReply struct {
	XID string `json:"xid"`
}

func (BarrierReply) MessageType() MessageType { return TypeBarrierReply }

// PacketIn carries a frame the switch had no rule for.
type PacketIn struct {
	InPort uint16 `json:"in_port"`
	Data   []byte `json:"data"`
}

func (PacketIn) MessageType() MessageType { return TypePacketIn }

// PortCounters are cumulative byte counters of one port.
type PortCounters struct {
	Port    uint16 `json:"port"`
	RxBytes uint64 `json:"rx_bytes"`
	TxBytes uint64 `json:"tx_bytes"`
}

// PortStats is a port statistics reply.
type PortStats struct {
	Ports []PortCounters `json:"ports"`
}

func (PortStats) MessageType() MessageType { return TypePortStats }
