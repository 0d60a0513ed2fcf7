// Package rules turns the topology into flow-mods. Everything here is a
// pure function of a graph snapshot; sending is left to the callers.
package rules

import (
	"slices"
	"time"

	"github.com/dd0wney/cluso-sdn/pkg/openflow"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

// Priority bands. Forwarding rules that rewrite the destination MAC sit at
// BasePriority+1+outport, so failover rules stay above them for output
// ports below MirrorOffset.
const (
	BasePriority     uint16 = 0x8000
	MirrorOffset     uint16 = 99
	MirrorPriority          = BasePriority + MirrorOffset
	FailoverPriority        = BasePriority + 100
	DropPriority            = openflow.MaxPriority
)

// DeleteAll removes every rule of a table.
func DeleteAll() openflow.FlowMod {
	return openflow.FlowMod{Command: openflow.CommandDelete}
}

// DropIPv6 discards all IPv6 traffic.
func DropIPv6() openflow.FlowMod {
	return openflow.FlowMod{
		Command:  openflow.CommandAdd,
		Match:    openflow.Match{EthType: openflow.EthTypeIPv6},
		Priority: DropPriority,
	}
}

// DropPort discards everything arriving on port. The rule expires on its
// own after d, rounded up to whole seconds.
func DropPort(port uint16, d time.Duration) openflow.FlowMod {
	return openflow.FlowMod{
		Command:     openflow.CommandAdd,
		Match:       openflow.Match{InPort: port},
		Priority:    DropPriority,
		HardTimeout: seconds(d),
	}
}

func seconds(d time.Duration) uint16 {
	if d <= 0 {
		return 0
	}
	s := (d + time.Second - 1) / time.Second
	if s > time.Duration(^uint16(0)) {
		return ^uint16(0)
	}
	return uint16(s)
}

// Reset returns the full rule set of switch id, starting with the delete
// that clears whatever the switch held before.
func Reset(g *topology.Graph, id uint64) ([]openflow.FlowMod, error) {
	if _, ok := g.Node(id); !ok {
		return nil, topology.UnknownSwitchError("reset", id)
	}
	mods := []openflow.FlowMod{DeleteAll(), DropIPv6()}
	for _, r := range g.Routes() {
		if r.IsProtection() {
			continue
		}
		i := r.Index(id)
		if i <= 0 || i >= len(r.Hops)-1 {
			continue
		}
		mods = append(mods, Forwarding(g, r, i)...)
	}
	return mods, nil
}

// Forwarding returns the rules hop i of r needs: the forwarding rule and
// its UDP mirror. It returns nil for endpoints and unresolvable hops.
func Forwarding(g *topology.Graph, r topology.Route, i int) []openflow.FlowMod {
	if i <= 0 || i >= len(r.Hops)-1 {
		return nil
	}
	traffic, ok := trafficOf(g, r)
	if !ok {
		return nil
	}
	c, next := r.Hops[i], r.Hops[i+1]
	fm, ok := steer(g, c, r.Hops[i-1], next, traffic, openflow.MAC{}, macFacing(g, next, c))
	if !ok {
		return nil
	}
	if rewrites(fm) {
		fm.Priority = BasePriority + 1 + outPort(fm)
	} else {
		fm.Priority = BasePriority
	}
	mirror := fm
	mirror.Match.IPProto = openflow.IPProtoUDP
	mirror.Priority = MirrorPriority
	return []openflow.FlowMod{fm, mirror}
}

// trafficOf matches the packets a route carries: IPv4 between the
// addresses of its endpoint ports, from the source MAC when known.
func trafficOf(g *topology.Graph, r topology.Route) (openflow.Match, bool) {
	n := len(r.Hops)
	if n < 2 {
		return openflow.Match{}, false
	}
	src, ok := g.PortToward(r.Hops[0], r.Hops[1])
	if !ok {
		return openflow.Match{}, false
	}
	dst, ok := g.PortToward(r.Hops[n-1], r.Hops[n-2])
	if !ok {
		return openflow.Match{}, false
	}
	m := openflow.Match{
		EthType: openflow.EthTypeIPv4,
		IPSrc:   openflow.Host(src.IP),
		IPDst:   openflow.Host(dst.IP),
	}
	if mac, ok := openflow.MACFrom(src.MAC); ok {
		m.EthSrc = mac
	}
	return m, true
}

// macFacing is the MAC of a's port toward b, zero when unknown.
func macFacing(g *topology.Graph, a, b uint64) openflow.MAC {
	p, ok := g.PortToward(a, b)
	if !ok {
		return openflow.MAC{}
	}
	mac, _ := openflow.MACFrom(p.MAC)
	return mac
}

// steer builds the rule at c for traffic from prev to next. A non-zero
// matchDst restricts it to that destination MAC and a non-zero rewrite
// replaces the destination MAC. Priority is left to the caller.
func steer(g *topology.Graph, c, prev, next uint64, traffic openflow.Match, matchDst, rewrite openflow.MAC) (openflow.FlowMod, bool) {
	in, ok := g.PortToward(c, prev)
	if !ok {
		return openflow.FlowMod{}, false
	}
	out, ok := g.PortToward(c, next)
	if !ok {
		return openflow.FlowMod{}, false
	}
	m := traffic
	m.InPort = uint16(in.Number)
	m.EthDst = matchDst

	var actions []openflow.Action
	if !rewrite.IsZero() {
		actions = append(actions, openflow.SetEthDst(rewrite))
	}
	actions = append(actions, openflow.Output(uint16(out.Number)))
	return openflow.FlowMod{Command: openflow.CommandAdd, Match: m, Actions: actions}, true
}

func rewrites(fm openflow.FlowMod) bool {
	for _, a := range fm.Actions {
		if a.Type == openflow.ActionSetEthDst {
			return true
		}
	}
	return false
}

func outPort(fm openflow.FlowMod) uint16 {
	for _, a := range fm.Actions {
		if a.Type == openflow.ActionOutput {
			return a.Port
		}
	}
	return 0
}

// Equal compares two flow-mods field by field.
func Equal(a, b openflow.FlowMod) bool {
	return a.Command == b.Command && a.Match == b.Match && a.Priority == b.Priority &&
		a.IdleTimeout == b.IdleTimeout && a.HardTimeout == b.HardTimeout &&
		slices.Equal(a.Actions, b.Actions)
}
