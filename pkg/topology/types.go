package topology

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"net"
	"net/netip"
	"slices"
	"strings"
)

// Well-known property tags on links and routes.
const (
	PropHidden    = "hidden"
	PropProtected = "protected"
	PropProtect   = "protect"
)

// Port is a numbered attachment point on a node.
type Port struct {
	Number int
	IP     netip.Addr
	MAC    net.HardwareAddr
	// Neighbor is the id of the node on the other end; valid only when Linked.
	Neighbor uint64
	Linked   bool
}

func (p *Port) clone() *Port {
	c := *p
	if p.MAC != nil {
		c.MAC = slices.Clone(p.MAC)
	}
	return &c
}

// Node is a switch or an endpoint host.
type Node struct {
	ID           uint64
	Name         string
	External     bool
	Hostname     string
	ManagementIP string
	Latitude     *float64
	Longitude    *float64
	X            *float64
	Y            *float64
	Ports        map[int]*Port

	// extra holds document keys this model has no field for, so a
	// load/save round trip keeps them.
	extra map[string]json.RawMessage
}

// NewNode returns a node with an empty port map.
func NewNode(id uint64, name string) *Node {
	return &Node{ID: id, Name: name, Ports: make(map[int]*Port)}
}

// PortNumbers returns the node's port numbers in ascending order.
func (n *Node) PortNumbers() []int {
	return slices.Sorted(maps.Keys(n.Ports))
}

// Neighbors returns the ids of linked neighbours in ascending order.
func (n *Node) Neighbors() []uint64 {
	var ids []uint64
	for _, p := range n.Ports {
		if p.Linked && !slices.Contains(ids, p.Neighbor) {
			ids = append(ids, p.Neighbor)
		}
	}
	slices.Sort(ids)
	return ids
}

// PortToward returns the lowest-numbered port linked to the given node.
func (n *Node) PortToward(id uint64) (*Port, bool) {
	for _, num := range n.PortNumbers() {
		p := n.Ports[num]
		if p.Linked && p.Neighbor == id {
			return p, true
		}
	}
	return nil, false
}

// Addresses returns the IP addresses configured on the node's ports.
func (n *Node) Addresses() []netip.Addr {
	var out []netip.Addr
	for _, num := range n.PortNumbers() {
		if ip := n.Ports[num].IP; ip.IsValid() {
			out = append(out, ip)
		}
	}
	return out
}

// HasAddress reports whether any port carries an IP address.
func (n *Node) HasAddress() bool {
	for _, p := range n.Ports {
		if p.IP.IsValid() {
			return true
		}
	}
	return false
}

// addNeighbor binds a port to the neighbour and returns the port number used.
// A neighbour is bound to at most one port; an older binding is released.
// portNum < 1 reuses the first unbound port or allocates a new one.
func (n *Node) addNeighbor(portNum int, id uint64) int {
	for _, p := range n.Ports {
		if p.Linked && p.Neighbor == id {
			p.Linked = false
			p.Neighbor = 0
		}
	}
	if p, ok := n.Ports[portNum]; ok {
		p.Neighbor, p.Linked = id, true
		return portNum
	}
	if portNum < 1 {
		for _, num := range n.PortNumbers() {
			if p := n.Ports[num]; !p.Linked {
				p.Neighbor, p.Linked = id, true
				return num
			}
		}
		portNum = 1
		if nums := n.PortNumbers(); len(nums) > 0 {
			portNum = max(nums[len(nums)-1]+1, 1)
		}
	}
	n.Ports[portNum] = &Port{Number: portNum, Neighbor: id, Linked: true}
	return portNum
}

// MaxHostID and MaxHostPort bound the ids and port numbers that fit the
// one-byte fields of the endpoint address pair.
const (
	MaxHostID   = 255
	MaxHostPort = 255
)

// GenerateHostPort assigns the conventional endpoint address pair to a port:
// 10.<port>.0.<id> and 22:<port>:00:00:00:<id>. An already addressed port is
// returned unchanged. Callers keep id and num within MaxHostID and
// MaxHostPort.
func (n *Node) GenerateHostPort(num int) *Port {
	if p, ok := n.Ports[num]; ok && p.IP.IsValid() {
		return p
	}
	p, ok := n.Ports[num]
	if !ok {
		p = &Port{Number: num}
		n.Ports[num] = p
	}
	p.IP = netip.AddrFrom4([4]byte{10, byte(num), 0, byte(n.ID)})
	p.MAC = net.HardwareAddr{0x22, byte(num), 0, 0, 0, byte(n.ID)}
	return p
}

func (n *Node) clone() *Node {
	c := *n
	c.Ports = make(map[int]*Port, len(n.Ports))
	for k, p := range n.Ports {
		c.Ports[k] = p.clone()
	}
	c.extra = maps.Clone(n.extra)
	return &c
}

func (n *Node) String() string {
	return fmt.Sprintf("%s(%016x)", n.Name, n.ID)
}

// LinkKey identifies a link by its node pair in sorted order.
type LinkKey struct {
	Lo, Hi uint64
}

// MakeLinkKey orders the pair.
func MakeLinkKey(a, b uint64) LinkKey {
	if a > b {
		a, b = b, a
	}
	return LinkKey{Lo: a, Hi: b}
}

// Link is an undirected edge. A and B keep the order the link was declared
// in; PortA and PortB are zero unless given explicitly.
type Link struct {
	A, B         uint64
	PortA, PortB int
	Props        []string
}

func (l *Link) Key() LinkKey {
	return MakeLinkKey(l.A, l.B)
}

func (l *Link) Has(prop string) bool {
	return slices.Contains(l.Props, prop)
}

func (l *Link) Hidden() bool    { return l.Has(PropHidden) }
func (l *Link) Protected() bool { return l.Has(PropProtected) }

func (l *Link) clone() *Link {
	c := *l
	c.Props = slices.Clone(l.Props)
	return &c
}

// Route is a loop-free hop sequence of node ids.
type Route struct {
	Hops  []uint64
	Props []string
}

func (r Route) Has(prop string) bool {
	return slices.Contains(r.Props, prop)
}

// IsProtection reports whether the route is a backup path for some link.
func (r Route) IsProtection() bool {
	return r.Has(PropProtect)
}

// Protects reports whether the route is the backup path for the named link
// ("A-B", either orientation).
func (r Route) Protects(link string) bool {
	if !r.IsProtection() {
		return false
	}
	if r.Has(link) {
		return true
	}
	if a, b, ok := strings.Cut(link, "-"); ok {
		return r.Has(b + "-" + a)
	}
	return false
}

// Src and Dst return the route endpoints.
func (r Route) Src() uint64 { return r.Hops[0] }
func (r Route) Dst() uint64 { return r.Hops[len(r.Hops)-1] }

// Index returns the position of id in the route or -1.
func (r Route) Index(id uint64) int {
	return slices.Index(r.Hops, id)
}

func (r Route) clone() Route {
	return Route{Hops: slices.Clone(r.Hops), Props: slices.Clone(r.Props)}
}

// Equal compares hops and properties.
func (r Route) Equal(o Route) bool {
	return slices.Equal(r.Hops, o.Hops) && slices.Equal(r.Props, o.Props)
}

func macEqual(a, b net.HardwareAddr) bool {
	return bytes.Equal(a, b)
}
