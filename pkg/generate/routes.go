package generate

import (
	"net/netip"
	"strings"

	"github.com/dd0wney/cluso-sdn/pkg/algorithms"
	"github.com/dd0wney/cluso-sdn/pkg/logging"
	"github.com/dd0wney/cluso-sdn/pkg/topology"
)

// DefaultPrefixLen is the subnet size used for route validity.
const DefaultPrefixLen = 24

// RouteGenerator computes one shortest valid route for every ordered pair
// of address-bearing nodes.
//
// A route is valid when the address of the source port facing the first
// hop and the address of the destination port facing the last hop lie in
// the same subnet. Validity depends on which ports the path uses, so the
// search is run once per first hop with the last hop restricted to ports
// that match it; the shortest of those wins.
type RouteGenerator struct {
	prefixLen int
	logger    logging.Logger
}

// NewRouteGenerator returns a generator using prefixLen bit subnets;
// prefixLen <= 0 selects DefaultPrefixLen.
func NewRouteGenerator(prefixLen int, logger logging.Logger) *RouteGenerator {
	if prefixLen <= 0 {
		prefixLen = DefaultPrefixLen
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RouteGenerator{prefixLen: prefixLen, logger: logger.With(logging.Component("generate"))}
}

// Result summarises a generation run.
type Result struct {
	Routes  []topology.Route
	Skipped []error
}

// Generate computes routes without modifying the graph. Pairs without a
// valid path are reported in Skipped and logged; pairs in different
// connected components are skipped without a search.
func (r *RouteGenerator) Generate(g *topology.Graph) Result {
	var res Result
	nodes := g.Nodes()
	ids := make([]uint64, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	component := map[uint64]int{}
	for i, c := range algorithms.ConnectedComponents(g, ids) {
		for _, id := range c {
			component[id] = i
		}
	}
	for _, src := range nodes {
		if !src.HasAddress() {
			continue
		}
		for _, dst := range nodes {
			if src.ID == dst.ID || !dst.HasAddress() {
				continue
			}
			var path []uint64
			if component[src.ID] == component[dst.ID] {
				path = r.shortestValidPath(g, src.ID, dst.ID)
			}
			if path == nil {
				err := topology.NoRouteError(src.Name, dst.Name)
				r.logger.Warn("no route", logging.String("src", src.Name), logging.String("dst", dst.Name))
				res.Skipped = append(res.Skipped, err)
				continue
			}
			route := topology.Route{Hops: path}
			r.logger.Debug("new route", logging.String("route", strings.Join(g.RouteNames(route), "-")))
			res.Routes = append(res.Routes, route)
		}
	}
	return res
}

// Apply replaces the graph's route set unless routes are explicit.
// It reports whether the graph was changed.
func (r *RouteGenerator) Apply(g *topology.Graph) (Result, bool) {
	if g.RoutesExplicit() {
		return Result{}, false
	}
	res := r.Generate(g)
	g.SetRoutes(res.Routes)
	return res, true
}

func (r *RouteGenerator) shortestValidPath(g *topology.Graph, src, dst uint64) []uint64 {
	var best []uint64
	for _, first := range g.Neighbors(src) {
		srcPort, ok := g.PortToward(src, first)
		if !ok || !srcPort.IP.IsValid() {
			continue
		}
		allow := func(from, to uint64) bool {
			if from == src && to != first {
				return false
			}
			if to != dst {
				return true
			}
			dstPort, ok := g.PortToward(dst, from)
			return ok && r.sameSubnet(srcPort.IP, dstPort.IP)
		}
		path := algorithms.ShortestPathFunc(g, src, dst, allow)
		if path != nil && (best == nil || len(path) < len(best)) {
			best = path
		}
	}
	return best
}

// sameSubnet reports whether both addresses fall in one prefixLen subnet.
func (r *RouteGenerator) sameSubnet(a, b netip.Addr) bool {
	if !a.IsValid() || !b.IsValid() || a.Is4() != b.Is4() {
		return false
	}
	bits := r.prefixLen
	if a.Is4() {
		bits = min(bits, 32)
	}
	pa, err := a.Prefix(bits)
	if err != nil {
		return false
	}
	return pa.Contains(b)
}
