package recipe_resolver

import (
	"slices"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
)

// graph maps an output item to the item ingredients of its recipes.
type graph struct {
	edges map[int64][]int64
	order []int64
}

func newGraph() *graph {
	return &graph{edges: make(map[int64][]int64)}
}

// add records the item edges of r. Nodes keep their first-seen order so
// cycle reports follow the traversal that discovered them.
func (g *graph) add(r *entity.Recipe) {
	out := r.OutputItemID
	if _, ok := g.edges[out]; !ok {
		g.order = append(g.order, out)
		g.edges[out] = nil
	}
	for _, id := range r.ItemIngredientIDs() {
		if !slices.Contains(g.edges[out], id) {
			g.edges[out] = append(g.edges[out], id)
		}
	}
}

// frame is one DFS stack entry: a node and the index of its next child.
type frame struct {
	node int64
	next int
}

const (
	white = iota
	grey
	black
)

// findCycles runs an iterative depth-first search and returns every back edge.
func (g *graph) findCycles() []entity.Cycle {
	color := make(map[int64]int, len(g.edges))
	var cycles []entity.Cycle

	for _, root := range g.order {
		if color[root] != white {
			continue
		}
		stack := []frame{{node: root}}
		color[root] = grey

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			children := g.edges[top.node]
			if top.next >= len(children) {
				color[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}
			child := children[top.next]
			top.next++

			switch color[child] {
			case white:
				color[child] = grey
				stack = append(stack, frame{node: child})
			case grey:
				cycles = append(cycles, entity.Cycle{
					From: top.node,
					To:   child,
					Path: cyclePath(stack, child),
				})
			}
		}
	}
	return cycles
}

// cyclePath returns the stack segment from child to the top, closed with child.
func cyclePath(stack []frame, child int64) []int64 {
	var path []int64
	for i, f := range stack {
		if f.node == child {
			for _, g := range stack[i:] {
				path = append(path, g.node)
			}
			break
		}
	}
	return append(path, child)
}
