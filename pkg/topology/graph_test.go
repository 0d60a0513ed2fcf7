package topology

import (
	"bytes"
	"encoding/json"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-sdn/pkg/logging"
)

func mustNode(t *testing.T, g *Graph, id uint64, name string) *Node {
	t.Helper()
	n := NewNode(id, name)
	require.NoError(t, g.AddNode(n))
	return n
}

func TestGraph_AddNodeDuplicate(t *testing.T) {
	g := NewGraph(nil)
	mustNode(t, g, 1, "A")

	err := g.AddNode(NewNode(1, "B"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStructural)
	assert.ErrorIs(t, err, ErrDuplicateID)

	n, ok := g.Node(1)
	require.True(t, ok)
	assert.Equal(t, "A", n.Name, "duplicate must not overwrite")

	err = g.AddNode(NewNode(2, "A"))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestGraph_AddLinkAllocatesPorts(t *testing.T) {
	g := NewGraph(nil)
	a := mustNode(t, g, 1, "A")
	mustNode(t, g, 2, "B")
	mustNode(t, g, 3, "C")

	_, err := g.AddLink("A", "B", 0, 0)
	require.NoError(t, err)
	_, err = g.AddLink("A", "C", 0, 7)
	require.NoError(t, err)

	assert.Equal(t, []uint64{2, 3}, g.Neighbors(1))
	p, ok := g.PortToward(1, 2)
	require.True(t, ok)
	assert.Equal(t, 1, p.Number)
	p, ok = g.PortToward(1, 3)
	require.True(t, ok)
	assert.Equal(t, 2, p.Number)
	p, ok = g.PortToward(3, 1)
	require.True(t, ok)
	assert.Equal(t, 7, p.Number)

	// An addressed but unlinked port is reused before allocating a new one.
	a.Ports[5] = &Port{Number: 5, IP: netip.MustParseAddr("10.0.0.1")}
	mustNode(t, g, 4, "D")
	_, err = g.AddLink("A", "D", -1, 0)
	require.NoError(t, err)
	p, ok = g.PortToward(1, 4)
	require.True(t, ok)
	assert.Equal(t, 5, p.Number)
}

func TestGraph_RelinkKeepsOneEntry(t *testing.T) {
	g := NewGraph(nil)
	mustNode(t, g, 1, "A")
	mustNode(t, g, 2, "B")

	_, err := g.AddLink("A", "B", 3, 0)
	require.NoError(t, err)
	_, err = g.AddLink("B", "A", 0, 4, PropProtected)
	require.NoError(t, err)

	assert.Equal(t, 1, g.LinkCount())
	l, ok := g.LinkByName("A-B")
	require.True(t, ok)
	assert.True(t, l.Protected())

	p, ok := g.PortToward(1, 2)
	require.True(t, ok)
	assert.Equal(t, 4, p.Number)
	assert.False(t, g.byID[1].Ports[3].Linked, "old binding released")
}

func TestGraph_ExplicitPortRebindWarns(t *testing.T) {
	var buf bytes.Buffer
	g := NewGraph(logging.NewJSONLogger(&buf, logging.DebugLevel))
	mustNode(t, g, 1, "A")
	mustNode(t, g, 2, "B")
	mustNode(t, g, 3, "C")

	_, err := g.AddLink("A", "B", 2, 0)
	require.NoError(t, err)
	assert.Zero(t, buf.Len(), "fresh port binds silently")

	_, err = g.AddLink("A", "C", 2, 0)
	require.NoError(t, err)
	p, ok := g.PortToward(1, 3)
	require.True(t, ok)
	assert.Equal(t, 2, p.Number)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "port rebound to a different neighbour", entry["msg"])
	assert.Equal(t, "B", entry["previous"])
	assert.Equal(t, "C", entry["neighbour"])
	assert.EqualValues(t, 2, entry["port"])

	// Relinking the same pair on its own port is not a conflict.
	buf.Reset()
	_, err = g.AddLink("A", "C", 2, 0)
	require.NoError(t, err)
	assert.Zero(t, buf.Len())
}

func TestGraph_AddLinkUnknownNode(t *testing.T) {
	g := NewGraph(nil)
	mustNode(t, g, 1, "A")

	_, err := g.AddLink("A", "Z", 0, 0)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindStructural))
	assert.True(t, IsNotFound(err))
	assert.Zero(t, g.LinkCount())

	_, err = g.AddLink("A", "A", 0, 0)
	assert.ErrorIs(t, err, ErrSelfLink)
}

func TestGraph_Lookups(t *testing.T) {
	g := NewGraph(nil)
	h := mustNode(t, g, 9, "H1")
	h.Hostname = "h1.example.net"
	h.GenerateHostPort(1)
	mustNode(t, g, 1, "S1")

	n, p, ok := g.NodeByIP(netip.MustParseAddr("10.1.0.9"))
	require.True(t, ok)
	assert.Equal(t, "H1", n.Name)
	assert.Equal(t, 1, p.Number)

	mac, _ := net.ParseMAC("22:01:00:00:00:09")
	n, ok = g.NodeByMAC(mac)
	require.True(t, ok)
	assert.Equal(t, uint64(9), n.ID)

	n, ok = g.NodeByHostname("h1.example.net")
	require.True(t, ok)
	assert.Equal(t, "H1", n.Name)

	_, _, ok = g.NodeByIP(netip.MustParseAddr("192.0.2.1"))
	assert.False(t, ok)
	_, ok = g.NodeByName("nope")
	assert.False(t, ok)
	_, ok = g.Node(77)
	assert.False(t, ok)
	assert.Nil(t, g.Neighbors(77))
	_, ok = g.LinkByName("bogus")
	assert.False(t, ok)

	assert.Equal(t, uint64(10), g.NextID())
}

func TestGraph_AddRouteValidation(t *testing.T) {
	g := NewGraph(nil)
	mustNode(t, g, 1, "A")
	mustNode(t, g, 2, "B")
	mustNode(t, g, 3, "C")
	_, err := g.AddLink("A", "B", 0, 0)
	require.NoError(t, err)
	_, err = g.AddLink("B", "C", 0, 0)
	require.NoError(t, err)

	require.NoError(t, g.AddRoute([]string{"A", "B", "C"}))
	require.NoError(t, g.AddRoute([]string{"A", "B"}, PropProtect, "A-C"))

	assert.ErrorIs(t, g.AddRoute([]string{"A", "C"}), ErrLinkNotFound)
	assert.ErrorIs(t, g.AddRoute([]string{"A", "B", "A"}), ErrDuplicateID)
	assert.ErrorIs(t, g.AddRoute([]string{"A", "X"}), ErrNodeNotFound)

	assert.Len(t, g.Routes(), 2)
	prot := g.Routes(PropProtect)
	require.Len(t, prot, 1)
	assert.True(t, prot[0].Protects("C-A"))
	assert.Equal(t, []string{"A", "B"}, g.RouteNames(prot[0]))
}

func TestGraph_CloneIsIndependent(t *testing.T) {
	g := NewGraph(nil)
	mustNode(t, g, 1, "A")
	mustNode(t, g, 2, "B")
	_, err := g.AddLink("A", "B", 0, 0)
	require.NoError(t, err)
	require.NoError(t, g.AddRoute([]string{"A", "B"}))

	c := g.Clone()
	mustNode(t, c, 3, "C")
	_, err = c.AddLink("A", "C", 0, 0)
	require.NoError(t, err)
	c.SetRoutes(nil)

	assert.Equal(t, 2, g.Len())
	assert.Equal(t, []uint64{2}, g.Neighbors(1))
	assert.Len(t, g.Routes(), 1)
	assert.Equal(t, []uint64{2, 3}, c.Neighbors(1))
}

func TestNode_GenerateHostPort(t *testing.T) {
	n := NewNode(0x0c, "H12")
	p := n.GenerateHostPort(2)
	assert.Equal(t, "10.2.0.12", p.IP.String())
	assert.Equal(t, "22:02:00:00:00:0c", p.MAC.String())

	p.IP = netip.MustParseAddr("10.9.9.9")
	assert.Same(t, p, n.GenerateHostPort(2), "addressed port is kept")
	assert.Equal(t, "10.9.9.9", n.Ports[2].IP.String())
}
