// Package topotest builds small topologies for tests.
package topotest

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-sdn/pkg/generate"
	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

// ProtectedLink is the link Ring flags as protected.
const ProtectedLink = "S1-S2"

// Ring returns a four switch ring S1..S4 with host H1 (10.0.0.1) on S1 and
// H2 (10.0.0.2) on S3, routes generated between the hosts. With protect
// set, S1-S2 is flagged protected and S1-S4-S3-S2 is its protection path.
//
// Port layout: S1 1:S2 2:S4 3:H1, S2 1:S1 2:S3, S3 1:S2 2:S4 3:H2,
// S4 1:S3 2:S1. Every port has a MAC.
func Ring(tb testing.TB, protect bool) *topology.Graph {
	tb.Helper()
	g := topology.NewGraph(logging.NewNopLogger())
	for i, name := range []string{"S1", "S2", "S3", "S4"} {
		require.NoError(tb, g.AddNode(topology.NewNode(uint64(i+1), name)))
	}
	var props []string
	if protect {
		props = []string{topology.PropProtected}
	}
	mustLink(tb, g, "S1", "S2", props...)
	mustLink(tb, g, "S2", "S3")
	mustLink(tb, g, "S3", "S4")
	mustLink(tb, g, "S4", "S1")

	Host(tb, g, 11, "H1", "10.0.0.1")
	Host(tb, g, 12, "H2", "10.0.0.2")
	mustLink(tb, g, "S1", "H1")
	mustLink(tb, g, "S3", "H2")

	for _, n := range g.Nodes() {
		if n.External {
			continue
		}
		for num, p := range n.Ports {
			p.MAC = net.HardwareAddr{0x02, 0, 0, 0, byte(n.ID), byte(num)}
		}
	}

	res, _ := generate.NewRouteGenerator(0, logging.NewNopLogger()).Apply(g)
	require.Empty(tb, res.Skipped)
	if protect {
		require.NoError(tb, g.AddRoute([]string{"S1", "S4", "S3", "S2"}, topology.PropProtect, ProtectedLink))
	}
	return g
}

// Host adds an external endpoint whose port 1 carries addr.
func Host(tb testing.TB, g *topology.Graph, id uint64, name, addr string) *topology.Node {
	tb.Helper()
	n := topology.NewNode(id, name)
	n.External = true
	n.Ports[1] = &topology.Port{
		Number: 1,
		IP:     netip.MustParseAddr(addr),
		MAC:    net.HardwareAddr{0x22, 1, 0, 0, 0, byte(id)},
	}
	require.NoError(tb, g.AddNode(n))
	return n
}

func mustLink(tb testing.TB, g *topology.Graph, a, b string, props ...string) {
	tb.Helper()
	_, err := g.AddLink(a, b, 0, 0, props...)
	require.NoError(tb, err)
}

// ID resolves a node name or fails the test.
func ID(tb testing.TB, g *topology.Graph, name string) uint64 {
	tb.Helper()
	n, ok := g.NodeByName(name)
	require.True(tb, ok, "no node %s", name)
	return n.ID
}

// Port returns the number of a's port facing b.
func Port(tb testing.TB, g *topology.Graph, a, b string) uint16 {
	tb.Helper()
	p, ok := g.PortToward(ID(tb, g, a), ID(tb, g, b))
	require.True(tb, ok, "no port %s->%s", a, b)
	return uint16(p.Number)
}
