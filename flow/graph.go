package flow

import "strings"

// Graph is the directed dependency graph of task names. An edge from -> to
// means "from depends on to", i.e. to must run first. It supports cycle
// detection with full path reporting, topological sorting, and grouping
// into parallel execution levels.
type Graph struct {
	nodes map[string]bool
	edges map[string][]string // node → dependencies
}

// NewGraph creates an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]bool),
		edges: make(map[string][]string),
	}
}

// AddNode registers a node. Adding an existing node is a no-op.
func (g *Graph) AddNode(name string) {
	if !g.nodes[name] {
		g.nodes[name] = true
		g.edges[name] = nil
	}
}

// AddEdge declares that from depends on to. Unknown endpoints are an error.
func (g *Graph) AddEdge(from, to string) error {
	if !g.nodes[from] {
		return NewErrorf(ErrCodeDependency, "unknown step: %s", from)
	}
	if !g.nodes[to] {
		return NewErrorf(ErrCodeDependency, "step %s depends on undeclared step: %s", from, to)
	}
	g.edges[from] = append(g.edges[from], to)
	return nil
}

// Dependencies returns the declared dependencies of a node.
func (g *Graph) Dependencies(name string) []string {
	return g.edges[name]
}

// FindCycle runs a depth-first traversal with a recursion stack and returns
// the first cycle found as a path whose first and last elements are equal
// (a -> b -> a), or nil if the graph is acyclic. The degenerate self-loop
// reports as [a, a].
func (g *Graph) FindCycle() []string {
	visited := make(map[string]bool, len(g.nodes))
	onStack := make(map[string]bool, len(g.nodes))
	var stack []string

	var visit func(node string) []string
	visit = func(node string) []string {
		visited[node] = true
		onStack[node] = true
		stack = append(stack, node)

		deps := make([]string, len(g.edges[node]))
		copy(deps, g.edges[node])
		sortStrings(deps)

		for _, dep := range deps {
			if onStack[dep] {
				// Close the loop: slice the stack from the first
				// occurrence of dep and append dep again.
				for i, n := range stack {
					if n == dep {
						cycle := make([]string, 0, len(stack)-i+1)
						cycle = append(cycle, stack[i:]...)
						return append(cycle, dep)
					}
				}
			}
			if !visited[dep] {
				if cycle := visit(dep); cycle != nil {
					return cycle
				}
			}
		}

		onStack[node] = false
		stack = stack[:len(stack)-1]
		return nil
	}

	roots := make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		roots = append(roots, n)
	}
	sortStrings(roots)

	for _, n := range roots {
		if !visited[n] {
			if cycle := visit(n); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// TopologicalSort returns an order in which every node appears after all of
// its dependencies, using Kahn's algorithm with sorted tie-breaking for
// determinism. The second return is false when the graph has a cycle.
func (g *Graph) TopologicalSort() ([]string, bool) {
	inDegree := make(map[string]int, len(g.nodes))
	reverse := make(map[string][]string, len(g.nodes))
	for node, deps := range g.edges {
		inDegree[node] = len(deps)
		for _, dep := range deps {
			reverse[dep] = append(reverse[dep], node)
		}
	}

	queue := make([]string, 0)
	for node, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, node)
		}
	}
	sortStrings(queue)

	sorted := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		dependents := make([]string, len(reverse[node]))
		copy(dependents, reverse[node])
		sortStrings(dependents)

		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(g.nodes) {
		return nil, false
	}
	return sorted, true
}

// ParallelGroups groups nodes into execution levels by longest-path depth
// from a dependency-free root. Every node in level k is runnable once all
// nodes in levels < k have completed. The graph must be acyclic.
func (g *Graph) ParallelGroups() [][]string {
	sorted, ok := g.TopologicalSort()
	if !ok {
		return nil
	}

	depth := make(map[string]int, len(g.nodes))
	maxLevel := 0
	for _, node := range sorted {
		maxDep := -1
		for _, dep := range g.edges[node] {
			if depth[dep] > maxDep {
				maxDep = depth[dep]
			}
		}
		depth[node] = maxDep + 1
		if depth[node] > maxLevel {
			maxLevel = depth[node]
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, node := range sorted {
		d := depth[node]
		levels[d] = append(levels[d], node)
	}
	return levels
}

// FormatCycle renders a cycle path as "a -> b -> a" for error messages.
func FormatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

// sortStrings sorts a slice of strings in-place using insertion sort.
// Used for small slices to avoid importing sort package.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		key := s[i]
		j := i - 1
		for j >= 0 && s[j] > key {
			s[j+1] = s[j]
			j--
		}
		s[j+1] = key
	}
}
