package discovery

import (
	"context"
	"fmt"
)

// NeighborFunc returns the direct neighbors of a node.
type NeighborFunc func(ctx context.Context, id string) ([]string, error)

// Scan walks the node graph breadth-first from root and returns every
// reachable node once, root first, in discovery order.
func Scan(ctx context.Context, root string, neighbors NeighborFunc) ([]string, error) {
	seen := map[string]bool{root: true}
	order := []string{root}
	queue := []string{root}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := queue[0]
		queue = queue[1:]

		next, err := neighbors(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", id, err)
		}
		for _, n := range next {
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			order = append(order, n)
			queue = append(queue, n)
		}
	}
	return order, nil
}
