package rules

import (
	"maps"
	"slices"
	"strings"

	"github.com/dd0wney/cluso-sdn/pkg/openflow"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

// Failover is the staged rule set that moves traffic of a protected link
// onto its protection path.
type Failover struct {
	Link string
	// Path is the protection route oriented from the link's first node.
	Path     topology.Route
	Activate map[uint64][]openflow.FlowMod
}

// Switches lists the switches with activate rules in ascending id order.
func (f *Failover) Switches() []uint64 {
	return slices.Sorted(maps.Keys(f.Activate))
}

// Deactivate is the strict delete of every rule Activate adds on id.
func (f *Failover) Deactivate(id uint64) []openflow.FlowMod {
	act := f.Activate[id]
	out := make([]openflow.FlowMod, len(act))
	for i, fm := range act {
		out[i] = fm.Strict()
	}
	return out
}

// ProtectedLinks names every link that is flagged protected or that a
// protection route refers to, in link order.
func ProtectedLinks(g *topology.Graph) []string {
	want := map[topology.LinkKey]bool{}
	for _, l := range g.Links() {
		if l.Protected() {
			want[l.Key()] = true
		}
	}
	for _, r := range g.Routes(topology.PropProtect) {
		for _, p := range r.Props {
			if l, ok := g.LinkByName(p); ok {
				want[l.Key()] = true
			}
		}
	}
	var out []string
	for _, l := range g.Links() {
		if want[l.Key()] {
			out = append(out, g.LinkName(l))
		}
	}
	return out
}

// BuildFailover stages the failover rules of the named link. Every normal
// route crossing the link directly is steered over the protection path in
// its direction of travel: the ingress switch marks the traffic with the
// Marker MAC, interior switches forward marked traffic, and the egress
// switch restores the real destination MAC before rejoining the route.
func BuildFailover(g *topology.Graph, link string) (*Failover, error) {
	const op = "build_failover"

	l, ok := g.LinkByName(link)
	if !ok {
		return nil, topology.NewError(op).Kind(topology.KindStructural).Link(link).Cause(topology.ErrLinkNotFound).Err()
	}
	nameA, _, _ := strings.Cut(link, "-")
	a, b := l.A, l.B
	if n, ok := g.NodeByName(nameA); ok && n.ID != a {
		a, b = b, a
	}

	path, ok := protectionPath(g, link, a, b)
	if !ok {
		return nil, topology.NewError(op).Kind(topology.KindRouteComputation).Link(link).Cause(topology.ErrNoProtection).Err()
	}

	f := &Failover{Link: link, Path: path, Activate: map[uint64][]openflow.FlowMod{}}
	reversed := slices.Clone(path.Hops)
	slices.Reverse(reversed)

	for _, r := range g.Routes() {
		if r.IsProtection() {
			continue
		}
		f.stage(g, r, a, b, path.Hops)
		f.stage(g, r, b, a, reversed)
	}
	return f, nil
}

// protectionPath finds the route protecting link and orients it a to b.
func protectionPath(g *topology.Graph, link string, a, b uint64) (topology.Route, bool) {
	for _, r := range g.Routes(topology.PropProtect) {
		if !r.Protects(link) || len(r.Hops) < 3 {
			continue
		}
		switch {
		case r.Src() == a && r.Dst() == b:
			return r, true
		case r.Src() == b && r.Dst() == a:
			slices.Reverse(r.Hops)
			return r, true
		}
	}
	return topology.Route{}, false
}

// stage adds the rules for r if it crosses from x directly to y; p runs
// from x to y.
func (f *Failover) stage(g *topology.Graph, r topology.Route, x, y uint64, p []uint64) {
	start := r.Index(x)
	if start <= 0 || start+2 >= len(r.Hops) || r.Hops[start+1] != y {
		return
	}
	traffic, ok := trafficOf(g, r)
	if !ok {
		return
	}
	last := len(p) - 1

	if fm, ok := steer(g, p[0], r.Hops[start-1], p[1], traffic, openflow.MAC{}, openflow.Marker); ok {
		f.add(p[0], fm)
	}
	for k := 1; k < last; k++ {
		if fm, ok := steer(g, p[k], p[k-1], p[k+1], traffic, openflow.Marker, openflow.MAC{}); ok {
			f.add(p[k], fm)
		}
	}
	rejoin := r.Hops[start+2]
	restore := macFacing(g, rejoin, y)
	if restore.IsZero() {
		restore = openflow.Broadcast
	}
	if fm, ok := steer(g, p[last], p[last-1], rejoin, traffic, openflow.Marker, restore); ok {
		f.add(p[last], fm)
	}
}

func (f *Failover) add(id uint64, fm openflow.FlowMod) {
	fm.Priority = FailoverPriority
	for _, have := range f.Activate[id] {
		if Equal(have, fm) {
			return
		}
	}
	f.Activate[id] = append(f.Activate[id], fm)
}

// SameLink reports whether two "A-B" names denote the same link.
func SameLink(a, b string) bool {
	if a == b {
		return true
	}
	x, y, ok := strings.Cut(b, "-")
	return ok && a == y+"-"+x
}
