package graph

import (
	"context"
)

// WouldCycle сообщает, создаст ли ребро dependant -> proposed цикл: да, если
// это одно и то же поле или dependant достижим из proposed по несломанным рёбрам.
// Существующий граф не предполагается ацикличным: обход помнит посещённые вершины.
func WouldCycle(ctx context.Context, tx Tx, dependantID, proposedID string) (bool, error) {
	if dependantID == proposedID {
		return true, nil
	}
	if r, ok := tx.(Reacher); ok {
		return r.Reachable(ctx, proposedID, dependantID)
	}
	seen := map[string]struct{}{proposedID: {}}
	queue := []string{proposedID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		edges, err := tx.EdgesOf(ctx, cur)
		if err != nil {
			return false, err
		}
		for _, e := range edges {
			if e.Broken() {
				continue
			}
			if e.DependencyID == dependantID {
				return true, nil
			}
			if _, ok := seen[e.DependencyID]; ok {
				continue
			}
			seen[e.DependencyID] = struct{}{}
			queue = append(queue, e.DependencyID)
		}
	}
	return false, nil
}
