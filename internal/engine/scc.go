package engine

import "sort"

// graph maps a node to its successors.
type graph map[string][]string

// cycles returns one closed path per strongly connected component that
// contains a cycle: every component of two or more nodes, and single
// nodes with a self-loop. Output is deterministic: nodes are visited in
// sorted order and each path starts at its smallest node.
func (g graph) cycles() [][]string {
	var out [][]string
	for _, scc := range g.tarjan() {
		if len(scc) == 1 && !g.hasSelfLoop(scc[0]) {
			continue
		}
		sort.Strings(scc)
		out = append(out, g.cyclePath(scc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

func (g graph) hasSelfLoop(node string) bool {
	for _, n := range g[node] {
		if n == node {
			return true
		}
	}
	return false
}

// tarjan finds strongly connected components using Tarjan's algorithm.
func (g graph) tarjan() [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		// v is a root: pop its component
		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	nodes := make([]string, 0, len(g))
	for n := range g {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)
	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}

// cyclePath follows edges inside scc from its first node until the path
// closes. scc must be sorted.
func (g graph) cyclePath(scc []string) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	start := scc[0]
	path := []string{start}
	visited := map[string]bool{start: true}
	for cur := start; ; {
		succ := append([]string(nil), g[cur]...)
		sort.Strings(succ)
		next := ""
		for _, n := range succ {
			if members[n] && (n == start || !visited[n]) {
				next = n
				break
			}
		}
		if next == "" {
			return path
		}
		path = append(path, next)
		if next == start {
			return path
		}
		visited[next] = true
		cur = next
	}
}
