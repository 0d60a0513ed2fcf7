package topology

import (
	"cmp"
	"net"
	"net/netip"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/dd0wney/cluso-sdn/pkg/logging"
)

// Graph aggregates nodes, links and routes.
//
// A Graph is built wholesale on every load. The controller publishes it as
// an immutable snapshot: incremental edits (attachment of new endpoints) are
// applied to a Clone which then replaces the published graph. Nodes and
// links returned by lookups must be treated as read-only.
type Graph struct {
	mu sync.RWMutex

	byID   map[uint64]*Node
	byName map[string]*Node
	links  map[LinkKey]*Link
	routes []Route

	routesExplicit bool
	maxID          uint64

	logger logging.Logger
}

// NewGraph returns an empty graph.
func NewGraph(logger logging.Logger) *Graph {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Graph{
		byID:   make(map[uint64]*Node),
		byName: make(map[string]*Node),
		links:  make(map[LinkKey]*Link),
		logger: logger,
	}
}

// AddNode inserts n. A duplicate id or name is logged and rejected.
func (g *Graph) AddNode(n *Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.byID[n.ID]; ok {
		g.logger.Warn("node already exists", logging.SwitchID(n.ID), logging.NodeName(old.Name))
		return NewError("add_node").Node(n.ID).Cause(ErrDuplicateID).Err()
	}
	if _, ok := g.byName[n.Name]; ok {
		g.logger.Warn("node name already exists", logging.NodeName(n.Name))
		return NewError("add_node").NodeName(n.Name).Cause(ErrDuplicateID).Err()
	}
	if n.Ports == nil {
		n.Ports = make(map[int]*Port)
	}
	g.byID[n.ID] = n
	g.byName[n.Name] = n
	g.maxID = max(g.maxID, n.ID)
	return nil
}

// AddLink links two nodes by name. Port numbers < 1 are unspecified and
// resolved by the nodes. Linking an already linked pair replaces the entry.
func (g *Graph) AddLink(nameA, nameB string, portA, portB int, props ...string) (*Link, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.byName[nameA]
	if !ok {
		return nil, UnknownNodeError("add_link", nameA)
	}
	b, ok := g.byName[nameB]
	if !ok {
		return nil, UnknownNodeError("add_link", nameB)
	}
	if a.ID == b.ID {
		return nil, NewError("add_link").Link(nameA + "-" + nameB).Cause(ErrSelfLink).Err()
	}

	l := &Link{A: a.ID, B: b.ID, PortA: max(portA, 0), PortB: max(portB, 0), Props: normalizeProps(props)}
	g.links[l.Key()] = l
	g.bind(a, portA, b)
	g.bind(b, portB, a)
	return l, nil
}

// bind attaches port of n to peer. An explicit port already facing another
// neighbour is taken over with a warning.
func (g *Graph) bind(n *Node, port int, peer *Node) {
	if p, ok := n.Ports[port]; ok && p.Linked && p.Neighbor != peer.ID {
		prev := strconv.FormatUint(p.Neighbor, 10)
		if old, ok := g.byID[p.Neighbor]; ok {
			prev = old.Name
		}
		g.logger.Warn("port rebound to a different neighbour",
			logging.NodeName(n.Name), logging.Int("port", port),
			logging.String("previous", prev), logging.String("neighbour", peer.Name))
	}
	n.addNeighbor(port, peer.ID)
}

func normalizeProps(props []string) []string {
	var out []string
	for _, p := range props {
		p = strings.TrimSpace(p)
		if p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}

// SetLinkPort rebinds the port of nameA that faces nameB, e.g. after the
// transport reports the port actually used. Unknown names are errors; an
// absent link is ignored.
func (g *Graph) SetLinkPort(nameA, nameB string, port int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.byName[nameA]
	if !ok {
		return UnknownNodeError("set_link_port", nameA)
	}
	b, ok := g.byName[nameB]
	if !ok {
		return UnknownNodeError("set_link_port", nameB)
	}
	if _, ok := g.links[MakeLinkKey(a.ID, b.ID)]; !ok {
		return nil
	}
	g.bind(a, port, b)
	return nil
}

// AddRoute appends a route given as node names. Unknown names, repeated
// hops and hops without a link between them are structural errors.
func (g *Graph) AddRoute(names []string, props ...string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	name := strings.Join(names, "-")
	if len(names) < 2 {
		return NewError("add_route").Route(name).Cause(ErrLinkNotFound).Err()
	}
	hops := make([]uint64, 0, len(names))
	for _, n := range names {
		node, ok := g.byName[n]
		if !ok {
			return UnknownNodeError("add_route", n)
		}
		if slices.Contains(hops, node.ID) {
			return NewError("add_route").Route(name).Cause(ErrDuplicateID).Err()
		}
		if len(hops) > 0 {
			if _, ok := g.links[MakeLinkKey(hops[len(hops)-1], node.ID)]; !ok {
				return NewError("add_route").Route(name).Cause(ErrLinkNotFound).Err()
			}
		}
		hops = append(hops, node.ID)
	}
	g.routes = append(g.routes, Route{Hops: hops, Props: slices.Clone(props)})
	return nil
}

// SetRoutes replaces the whole route set.
func (g *Graph) SetRoutes(routes []Route) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.routes = routes
}

// DisableRouteGeneration marks the route set as explicit.
func (g *Graph) DisableRouteGeneration() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.routesExplicit = true
}

// RoutesExplicit reports whether routes came from the document.
func (g *Graph) RoutesExplicit() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.routesExplicit
}

// NextID returns the id a newly attached node would receive.
func (g *Graph) NextID() uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.maxID + 1
}

func (g *Graph) Node(id uint64) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.byID[id]
	return n, ok
}

func (g *Graph) NodeByName(name string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.byName[name]
	return n, ok
}

// NodeByIP finds the node and port carrying addr.
func (g *Graph) NodeByIP(addr netip.Addr) (*Node, *Port, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.sortedNodes() {
		for _, num := range n.PortNumbers() {
			if p := n.Ports[num]; p.IP == addr {
				return n, p, true
			}
		}
	}
	return nil, nil, false
}

func (g *Graph) NodeByMAC(mac net.HardwareAddr) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.sortedNodes() {
		for _, p := range n.Ports {
			if p.MAC != nil && macEqual(p.MAC, mac) {
				return n, true
			}
		}
	}
	return nil, false
}

// NodeByHostname matches the recorded hostname only; see HostnameCache for
// resolution from management addresses.
func (g *Graph) NodeByHostname(hostname string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, n := range g.sortedNodes() {
		if n.Hostname != "" && n.Hostname == hostname {
			return n, true
		}
	}
	return nil, false
}

// Nodes returns all nodes ordered by id.
func (g *Graph) Nodes() []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sortedNodes()
}

func (g *Graph) sortedNodes() []*Node {
	out := make([]*Node, 0, len(g.byID))
	for _, n := range g.byID {
		out = append(out, n)
	}
	slices.SortFunc(out, func(a, b *Node) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byID)
}

// Neighbors returns the ids linked to id in ascending order.
func (g *Graph) Neighbors(id uint64) []uint64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.byID[id]
	if !ok {
		return nil
	}
	return n.Neighbors()
}

// PortToward returns the port of a that connects to b.
func (g *Graph) PortToward(a, b uint64) (*Port, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.byID[a]
	if !ok {
		return nil, false
	}
	return n.PortToward(b)
}

// Link returns the link between a and b in either order.
func (g *Graph) Link(a, b uint64) (*Link, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	l, ok := g.links[MakeLinkKey(a, b)]
	return l, ok
}

// LinkByName resolves "A-B".
func (g *Graph) LinkByName(name string) (*Link, bool) {
	a, b, ok := strings.Cut(name, "-")
	if !ok {
		return nil, false
	}
	na, ok := g.NodeByName(a)
	if !ok {
		return nil, false
	}
	nb, ok := g.NodeByName(b)
	if !ok {
		return nil, false
	}
	return g.Link(na.ID, nb.ID)
}

// LinkName renders the link as "A-B" using the declared orientation.
func (g *Graph) LinkName(l *Link) string {
	a, _ := g.Node(l.A)
	b, _ := g.Node(l.B)
	if a == nil || b == nil {
		return ""
	}
	return a.Name + "-" + b.Name
}

// Links returns all links ordered by key.
func (g *Graph) Links() []*Link {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]*Link, 0, len(g.links))
	for _, l := range g.links {
		out = append(out, l)
	}
	slices.SortFunc(out, compareLinks)
	return out
}

func compareLinks(a, b *Link) int {
	ka, kb := a.Key(), b.Key()
	if c := cmp.Compare(ka.Lo, kb.Lo); c != 0 {
		return c
	}
	return cmp.Compare(ka.Hi, kb.Hi)
}

// LinkCount returns the number of links.
func (g *Graph) LinkCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.links)
}

// Routes returns copies of the routes carrying every given tag.
func (g *Graph) Routes(tags ...string) []Route {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []Route
	for _, r := range g.routes {
		match := true
		for _, t := range tags {
			if !r.Has(t) {
				match = false
				break
			}
		}
		if match {
			out = append(out, r.clone())
		}
	}
	return out
}

// RouteNames renders a route's hops as node names.
func (g *Graph) RouteNames(r Route) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(r.Hops))
	for i, id := range r.Hops {
		if n, ok := g.byID[id]; ok {
			out[i] = n.Name
		}
	}
	return out
}

// Clone returns a deep copy sharing nothing mutable with g.
func (g *Graph) Clone() *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c := NewGraph(g.logger)
	for id, n := range g.byID {
		cn := n.clone()
		c.byID[id] = cn
		c.byName[cn.Name] = cn
	}
	for k, l := range g.links {
		c.links[k] = l.clone()
	}
	c.routes = make([]Route, len(g.routes))
	for i, r := range g.routes {
		c.routes[i] = r.clone()
	}
	c.routesExplicit = g.routesExplicit
	c.maxID = g.maxID
	return c
}
