package templates

import (
	"container/heap"
	"fmt"
	"sort"

	"workgraph/pkg/models"
)

// workflowGraph is the DEPENDS_ON subgraph of one workflow context, indexed
// by the sorted task ids so traversal order is deterministic.
type workflowGraph struct {
	ids      []string
	outgoing [][]int // prerequisite -> dependents
	indeg    []int
}

func (r *Registry) graphFor(workflowID string) workflowGraph {
	placements := r.placements[workflowID]
	ids := make([]string, 0, len(placements))
	for _, u := range placements {
		ids = append(ids, u.TaskID)
	}
	sort.Strings(ids)
	index := make(map[string]int, len(ids))
	for i, id := range ids {
		index[id] = i
	}
	g := workflowGraph{
		ids:      ids,
		outgoing: make([][]int, len(ids)),
		indeg:    make([]int, len(ids)),
	}
	for task, edges := range r.prerequisites[workflowID] {
		to := index[task]
		for _, d := range edges {
			from := index[d.DependsOnID]
			g.outgoing[from] = append(g.outgoing[from], to)
			g.indeg[to]++
		}
	}
	for i := range g.outgoing {
		sort.Ints(g.outgoing[i])
	}
	return g
}

// ValidateAcyclic proves the DEPENDS_ON edges scoped to workflowID form a DAG.
// A cycle is reported as *models.CycleError whose path follows prerequisite
// to dependent and ends where it started.
func (r *Registry) ValidateAcyclic(workflowID string) error {
	if _, ok := r.workflows[workflowID]; !ok {
		return fmt.Errorf("workflow template %q: %w", workflowID, models.ErrTemplateNotFound)
	}
	g := r.graphFor(workflowID)
	if len(g.topoOrder()) == len(g.ids) {
		return nil
	}
	return &models.CycleError{Workflow: workflowID, Path: g.findCycle()}
}

// TopologicalOrder returns the task template ids of a workflow with every
// prerequisite before its dependents; ties break on id.
func (r *Registry) TopologicalOrder(workflowID string) ([]string, error) {
	if err := r.ValidateAcyclic(workflowID); err != nil {
		return nil, err
	}
	g := r.graphFor(workflowID)
	order := g.topoOrder()
	out := make([]string, len(order))
	for i, idx := range order {
		out[i] = g.ids[idx]
	}
	return out, nil
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder is Kahn's algorithm with a min-heap ready queue. A result shorter
// than the node count means a cycle exists.
func (g workflowGraph) topoOrder() []int {
	indeg := make([]int, len(g.indeg))
	copy(indeg, g.indeg)

	ready := &intMinHeap{}
	for i := range indeg {
		if indeg[i] == 0 {
			heap.Push(ready, i)
		}
	}
	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// findCycle extracts one cycle witness with a DFS over sorted indices.
func (g workflowGraph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)
	color := make([]int, len(g.ids))
	parent := make([]int, len(g.ids))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.outgoing[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// back-edge u -> v closes v ... u -> v
				cycle = append(cycle, v)
				for cur := u; cur != v && cur != -1; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}
	for i := range g.ids {
		if color[i] == white && dfs(i) {
			break
		}
	}

	out := make([]string, len(cycle))
	for i := range cycle {
		out[len(cycle)-1-i] = g.ids[cycle[i]]
	}
	return out
}
