package algorithms

import (
	"container/list"
	"slices"
)

// ConnectedComponents partitions ids into connected groups. Components are
// ordered by their smallest id and each component is sorted.
func ConnectedComponents(adj Adjacency, ids []uint64) [][]uint64 {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)

	seen := make(map[uint64]bool, len(sorted))
	var components [][]uint64
	for _, id := range sorted {
		if seen[id] {
			continue
		}
		seen[id] = true
		component := []uint64{id}

		queue := list.New()
		queue.PushBack(id)
		for queue.Len() > 0 {
			currentID := queue.Remove(queue.Front()).(uint64)
			for _, neighborID := range adj.Neighbors(currentID) {
				if !seen[neighborID] {
					seen[neighborID] = true
					component = append(component, neighborID)
					queue.PushBack(neighborID)
				}
			}
		}
		slices.Sort(component)
		components = append(components, component)
	}
	return components
}
