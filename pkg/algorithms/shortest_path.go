package algorithms

import (
	"container/list"
)

// Adjacency is the undirected neighbour relation the searches walk.
// Neighbors must return ids in a stable order; the searches visit them in
// that order, so ties resolve to the first path found.
type Adjacency interface {
	Neighbors(id uint64) []uint64
}

// EdgeFilter reports whether the search may step from one node to another.
type EdgeFilter func(from, to uint64) bool

// ShortestPathFunc finds a shortest path between two nodes with
// breadth-first search over the edges allow accepts; a nil allow accepts
// every edge. It returns nil when end is unreachable. Every node is
// visited at most once, so the result is a simple path.
func ShortestPathFunc(adj Adjacency, startID, endID uint64, allow EdgeFilter) []uint64 {
	if startID == endID {
		return []uint64{startID}
	}

	queue := list.New()
	parent := make(map[uint64]uint64) // node -> parent
	queue.PushBack(startID)
	parent[startID] = startID

	for queue.Len() > 0 {
		currentID := queue.Remove(queue.Front()).(uint64)

		for _, neighborID := range adj.Neighbors(currentID) {
			if _, seen := parent[neighborID]; seen {
				continue
			}
			if allow != nil && !allow(currentID, neighborID) {
				continue
			}
			parent[neighborID] = currentID
			if neighborID == endID {
				return reconstructPath(endID, parent)
			}
			queue.PushBack(neighborID)
		}
	}

	return nil
}

// reconstructPath walks parent links back from end to the start node,
// which is its own parent.
func reconstructPath(endID uint64, parent map[uint64]uint64) []uint64 {
	path := []uint64{endID}
	node := endID
	for node != parent[node] {
		node = parent[node]
		path = append(path, node)
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// Distances returns the hop count from source to every reachable node.
func Distances(adj Adjacency, sourceID uint64) map[uint64]int {
	distances := map[uint64]int{sourceID: 0}

	queue := list.New()
	queue.PushBack(sourceID)

	for queue.Len() > 0 {
		currentID := queue.Remove(queue.Front()).(uint64)
		currentDist := distances[currentID]

		for _, neighborID := range adj.Neighbors(currentID) {
			if _, visited := distances[neighborID]; !visited {
				distances[neighborID] = currentDist + 1
				queue.PushBack(neighborID)
			}
		}
	}

	return distances
}

// Eccentricity is the greatest distance from source to any node reachable
// from it.
func Eccentricity(adj Adjacency, sourceID uint64) int {
	ecc := 0
	for _, d := range Distances(adj, sourceID) {
		ecc = max(ecc, d)
	}
	return ecc
}
