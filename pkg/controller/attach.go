package controller

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/dd0wney/cluso-sdn/pkg/generate"
	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/probe"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

// LinkParams describe one tunnel an attached endpoint has to bring up.
type LinkParams struct {
	Link      string     `json:"link"`
	Node      string     `json:"node_name"`
	Peer      string     `json:"peer_name"`
	Port      int        `json:"port_num"`
	IP        netip.Addr `json:"addr_ip"`
	MAC       string     `json:"addr_eth"`
	PrefixLen int        `json:"prefix_len"`
	TunMode   string     `json:"tunmode"`
}

// Attach connects the endpoint hostname to the nodes whose host names (or
// names) are listed in peers, one port per peer. An unknown or non-external
// endpoint becomes a new external node with the next free id, named
// shortName when that name is free and H<id> otherwise. A host port
// already bound to another node keeps that binding.
func (c *Controller) Attach(ctx context.Context, hostname string, peers []string, shortName string) ([]LinkParams, error) {
	c.buildMu.Lock()
	defer c.buildMu.Unlock()

	params, g, err := c.attach(hostname, peers, shortName)
	if err != nil {
		result := "error"
		if topology.IsKind(err, topology.KindResourceExhaustion) {
			result = "exhausted"
		}
		c.metrics.AttachmentsTotal.WithLabelValues(result).Inc()
		c.logger.Error("attachment failed", logging.String("host", hostname), logging.Error(err))
		return nil, err
	}

	res, _ := c.routes.Apply(g)
	c.recordTopology(g, len(res.Skipped))
	if err := c.persist(g); err != nil {
		c.logger.Error("cannot save topology", logging.Path(c.cfg.SaveFile), logging.Error(err))
	}
	if err := c.loop.Do(ctx, func() { c.publish(g, "attach") }); err != nil {
		return nil, err
	}
	c.metrics.AttachmentsTotal.WithLabelValues("attached").Inc()
	return params, nil
}

func (c *Controller) attach(hostname string, peers []string, shortName string) ([]LinkParams, *topology.Graph, error) {
	const op = "attach"
	g := c.Graph().Clone()

	host, ok := g.NodeByHostname(hostname)
	if !ok || !host.External {
		id := g.NextID()
		if id > c.cfg.MaxNodeID || id > topology.MaxHostID {
			return nil, nil, topology.NewError(op).Kind(topology.KindResourceExhaustion).Node(id).Cause(topology.ErrIDExhausted).Err()
		}
		name := fmt.Sprintf("H%d", id)
		if shortName != "" {
			if _, taken := g.NodeByName(shortName); !taken {
				name = shortName
			}
		}
		host = topology.NewNode(id, name)
		host.External = true
		host.Hostname = hostname
		if err := g.AddNode(host); err != nil {
			return nil, nil, err
		}
		c.logger.Info("endpoint added", logging.NodeName(name), logging.SwitchID(id), logging.String("host", hostname))
	}
	if host.ID > topology.MaxHostID {
		return nil, nil, topology.NewError(op).Kind(topology.KindResourceExhaustion).Node(host.ID).Cause(topology.ErrIDExhausted).Err()
	}
	if len(peers) > topology.MaxHostPort {
		return nil, nil, topology.NewError(op).Kind(topology.KindResourceExhaustion).NodeName(host.Name).
			Cause(fmt.Errorf("%d peers, at most %d host ports", len(peers), topology.MaxHostPort)).Err()
	}
	if shortName != "" && host.Name != shortName {
		c.logger.Warn("short name ignored", logging.String("short_name", shortName), logging.NodeName(host.Name))
	}

	prefixLen := c.cfg.PrefixLen
	if prefixLen <= 0 {
		prefixLen = generate.DefaultPrefixLen
	}
	params := make([]LinkParams, 0, len(peers))
	for i, want := range peers {
		num := i + 1
		peer, ok := g.NodeByHostname(want)
		if !ok {
			peer, ok = g.NodeByName(want)
		}
		if !ok {
			return nil, nil, topology.UnknownNodeError(op, want)
		}

		port := host.GenerateHostPort(num)
		if port.Linked && port.Neighbor != peer.ID {
			bound, ok := g.Node(port.Neighbor)
			if !ok {
				return nil, nil, topology.NewError(op).Node(port.Neighbor).Cause(topology.ErrNodeNotFound).Err()
			}
			c.logger.Warn("host port already bound, keeping it",
				logging.NodeName(host.Name),
				logging.Int("port", num),
				logging.String("requested", peer.Name),
				logging.String("bound", bound.Name))
			peer = bound
		}

		peerPort := 0
		if p, ok := peer.PortToward(host.ID); ok {
			peerPort = p.Number
		}
		if _, err := g.AddLink(peer.Name, host.Name, peerPort, num); err != nil {
			return nil, nil, err
		}
		params = append(params, LinkParams{
			Link:      peer.Name + "-" + host.Name,
			Node:      host.Name,
			Peer:      peer.Name,
			Port:      num,
			IP:        port.IP,
			MAC:       port.MAC.String(),
			PrefixLen: prefixLen,
			TunMode:   "tap",
		})
	}
	return params, g, nil
}

// AttachCandidates attaches hostname to the first count reachable hosts
// among candidates.
func (c *Controller) AttachCandidates(ctx context.Context, hostname string, candidates []string, count int, shortName string) ([]LinkParams, error) {
	if c.filter != nil {
		candidates = c.filter.Reachable(ctx, candidates)
	}
	if len(candidates) == 0 {
		return nil, topology.NewError("attach").Kind(topology.KindResourceExhaustion).NodeName(hostname).Cause(probe.ErrUnreachable).Err()
	}
	if count > 0 && len(candidates) > count {
		candidates = candidates[:count]
	}
	return c.Attach(ctx, hostname, candidates, shortName)
}
