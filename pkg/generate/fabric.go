package generate

import (
	"github.com/dd0wney/cluso-sdn/pkg/algorithms"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

// fabric is the switch-only view of a graph: external endpoints and their
// links are invisible.
type fabric struct {
	g *topology.Graph
}

func (f fabric) Neighbors(id uint64) []uint64 {
	var out []uint64
	for _, nid := range f.g.Neighbors(id) {
		if n, ok := f.g.Node(nid); ok && !n.External {
			out = append(out, nid)
		}
	}
	return out
}

func fabricIDs(g *topology.Graph) []uint64 {
	nodes := eligible(g)
	ids := make([]uint64, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// Partitions groups the switches of g into islands that are connected
// without passing through an external endpoint. A healthy fabric has one.
func Partitions(g *topology.Graph) [][]uint64 {
	return algorithms.ConnectedComponents(fabric{g}, fabricIDs(g))
}

// Diameter is the largest switch-to-switch hop count of g, measured within
// each partition. It is 0 for fewer than two switches.
func Diameter(g *topology.Graph) int {
	f := fabric{g}
	d := 0
	for _, id := range fabricIDs(g) {
		d = max(d, algorithms.Eccentricity(f, id))
	}
	return d
}
