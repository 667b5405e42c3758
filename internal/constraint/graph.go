package constraint

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// Graph is the dependency graph between constraints. An edge a -> b means
// constraint b reads the parameter that constraint a writes, so a must be
// evaluated first. All operations on the graph are concurrency-safe.
type Graph struct {
	mutex sync.RWMutex
	g     *simple.DirectedGraph
	// ids maps a constraint id to its node. Node ids are assigned in
	// insertion order, which Order uses to break ties.
	ids   map[string]simple.Node
	names []string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		g:   simple.NewDirectedGraph(),
		ids: make(map[string]simple.Node),
	}
}

// AddNode adds a node. Adding an existing id does nothing.
func (g *Graph) AddNode(id string) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	if _, ok := g.ids[id]; ok {
		return
	}
	n := simple.Node(len(g.names))
	g.g.AddNode(n)
	g.ids[id] = n
	g.names = append(g.names, id)
}

// AddEdge records that toID depends on fromID.
func (g *Graph) AddEdge(fromID, toID string) error {
	if fromID == toID {
		return fmt.Errorf("constraint %s depends on its own result", fromID)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()

	from, ok := g.ids[fromID]
	if !ok {
		return fmt.Errorf("source node not found: %s", fromID)
	}
	to, ok := g.ids[toID]
	if !ok {
		return fmt.Errorf("destination node not found: %s", toID)
	}
	g.g.SetEdge(simple.Edge{F: from, T: to})
	return nil
}

// Dependents returns the ids of nodes that directly depend on id, in
// insertion order.
func (g *Graph) Dependents(id string) []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	n, ok := g.ids[id]
	if !ok {
		return nil
	}
	nodes := graph.NodesOf(g.g.From(n.ID()))
	byInsertion(nodes)
	return g.namesOf(nodes)
}

// Order returns every node so that each comes after all of its
// dependencies. Ties keep insertion order. A cycle is an error.
func (g *Graph) Order() ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	sorted, err := topo.SortStabilized(g.g, byInsertion)
	if err != nil {
		var cycles topo.Unorderable
		if !errors.As(err, &cycles) || len(cycles) == 0 {
			return nil, fmt.Errorf("%w: %v", ErrCycle, err)
		}
		return nil, fmt.Errorf("%w: involving %s", ErrCycle, strings.Join(g.namesOf(cycles[0]), ", "))
	}
	return g.namesOf(sorted), nil
}

func (g *Graph) namesOf(nodes []graph.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, g.names[n.ID()])
	}
	return out
}

// byInsertion sorts nodes by id, which is their insertion index.
func byInsertion(nodes []graph.Node) {
	slices.SortFunc(nodes, func(a, b graph.Node) int {
		return int(a.ID() - b.ID())
	})
}
