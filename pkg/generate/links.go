// Package generate fills in missing links and routes of a topology.
package generate

import (
	"fmt"
	"math/rand/v2"

	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

// LinkGenerator adds links between the eligible (non-external) nodes of a
// graph. Generators never touch routes.
type LinkGenerator interface {
	Name() string
	// GenerateLinks returns the number of links added.
	GenerateLinks(g *topology.Graph) (int, error)
}

// Generator names accepted by NewLinkGenerator.
const (
	Ring     = "ring"
	FullMesh = "fullmesh"
)

// NewLinkGenerator returns the named strategy. rng drives the ring order;
// nil means a randomly seeded source.
func NewLinkGenerator(name string, rng *rand.Rand, logger logging.Logger) (LinkGenerator, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	logger = logger.With(logging.Component("generate"), logging.String("strategy", name))
	switch name {
	case Ring, "gen_links_ring":
		if rng == nil {
			rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
		return &RingGenerator{rng: rng, logger: logger}, nil
	case FullMesh, "full_mesh", "gen_links_fullmesh":
		return &FullMeshGenerator{logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown link generator %q", name)
	}
}

func eligible(g *topology.Graph) []*topology.Node {
	var out []*topology.Node
	for _, n := range g.Nodes() {
		if !n.External {
			out = append(out, n)
		}
	}
	return out
}

// RingGenerator links eligible nodes into one cycle in random order.
type RingGenerator struct {
	rng    *rand.Rand
	logger logging.Logger
}

func (r *RingGenerator) Name() string { return Ring }

// GenerateLinks links each node to its predecessor in a shuffled order,
// closing the cycle. Two nodes produce a single link.
func (r *RingGenerator) GenerateLinks(g *topology.Graph) (int, error) {
	nodes := eligible(g)
	if len(nodes) < 2 {
		r.logger.Info("not enough nodes for link generation", logging.Count(len(nodes)))
		return 0, nil
	}
	r.rng.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })

	before := g.LinkCount()
	for i, a := range nodes {
		b := nodes[(i+len(nodes)-1)%len(nodes)]
		if _, err := g.AddLink(a.Name, b.Name, 0, 0); err != nil {
			return g.LinkCount() - before, err
		}
		r.logger.Debug("add link", logging.Link(a.Name+"-"+b.Name))
	}
	return g.LinkCount() - before, nil
}

// FullMeshGenerator links every eligible pair once.
type FullMeshGenerator struct {
	logger logging.Logger
}

func (f *FullMeshGenerator) Name() string { return FullMesh }

func (f *FullMeshGenerator) GenerateLinks(g *topology.Graph) (int, error) {
	nodes := eligible(g)
	if len(nodes) < 2 {
		f.logger.Info("not enough nodes for link generation", logging.Count(len(nodes)))
		return 0, nil
	}

	before := g.LinkCount()
	for i := 1; i < len(nodes); i++ {
		for _, b := range nodes[:i] {
			a := nodes[i]
			if _, err := g.AddLink(a.Name, b.Name, 0, 0); err != nil {
				return g.LinkCount() - before, err
			}
			f.logger.Debug("add link", logging.Link(a.Name+"-"+b.Name))
		}
	}
	return g.LinkCount() - before, nil
}
