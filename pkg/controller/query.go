package controller

import (
	"context"
	"net"
	"net/netip"

	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

func (c *Controller) NodeByName(name string) (*topology.Node, bool) {
	return c.Graph().NodeByName(name)
}

func (c *Controller) NodeByID(id uint64) (*topology.Node, bool) {
	return c.Graph().Node(id)
}

// NodeByIP returns the node and the port carrying addr.
func (c *Controller) NodeByIP(addr netip.Addr) (*topology.Node, *topology.Port, bool) {
	return c.Graph().NodeByIP(addr)
}

func (c *Controller) NodeByMAC(mac net.HardwareAddr) (*topology.Node, bool) {
	return c.Graph().NodeByMAC(mac)
}

// NodeByHostname matches recorded host names first, then the names the
// management addresses resolve to.
func (c *Controller) NodeByHostname(ctx context.Context, hostname string) (*topology.Node, bool) {
	g := c.Graph()
	if n, ok := g.NodeByHostname(hostname); ok {
		return n, true
	}
	for _, n := range g.Nodes() {
		if n.ManagementIP != "" && c.hostnames.Hostname(ctx, n) == hostname {
			return n, true
		}
	}
	return nil, false
}

// Hostname returns the recorded or resolved host name of a node.
func (c *Controller) Hostname(ctx context.Context, n *topology.Node) string {
	return c.hostnames.Hostname(ctx, n)
}

// LinkExists reports whether the named nodes are linked.
func (c *Controller) LinkExists(a, b string) bool {
	_, ok := c.Graph().LinkByName(a + "-" + b)
	return ok
}

func (c *Controller) LinkProtected(a, b string) bool {
	l, ok := c.Graph().LinkByName(a + "-" + b)
	return ok && l.Protected()
}

// Routes returns the routes carrying every tag.
func (c *Controller) Routes(tags ...string) []topology.Route {
	return c.Graph().Routes(tags...)
}
