package dependency

import (
	"fmt"
	"strings"
)

// NodeID identifies a node in the dependency graph. Node IDs are service
// names; the orchestrator owns the mapping.
type NodeID string

// Node is one service in the topology with its declared dependencies.
type Node struct {
	ID        NodeID
	DependsOn []NodeID
}

// Graph is the directed acyclic dependency graph of a stack. It is built
// once at load time and immutable afterwards, so all components read it
// without synchronization.
type Graph struct {
	nodes map[NodeID]*Node
	order []NodeID // insertion (declaration) order, for deterministic ties
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// AddNode adds a node to the graph. Adding the same ID twice replaces the
// node but keeps its original position in the declaration order.
func (g *Graph) AddNode(node Node) {
	if _, exists := g.nodes[node.ID]; !exists {
		g.order = append(g.order, node.ID)
	}
	n := node
	g.nodes[node.ID] = &n
}

// Get returns the node with the given ID, or nil.
func (g *Graph) Get(id NodeID) *Node {
	return g.nodes[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Dependents returns the IDs of nodes that directly depend on the given
// node (reverse edges), in declaration order.
func (g *Graph) Dependents(id NodeID) []NodeID {
	var dependents []NodeID
	for _, candidate := range g.order {
		for _, dep := range g.nodes[candidate].DependsOn {
			if dep == id {
				dependents = append(dependents, candidate)
				break
			}
		}
	}
	return dependents
}

// CycleError reports a dependency cycle, including the offending path.
type CycleError struct {
	Path []NodeID // first and last element are the same node
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = string(id)
	}
	return "dependency cycle: " + strings.Join(parts, " -> ")
}

// Validate checks referential integrity and acyclicity. It must pass
// before any service starts; a violation is a configuration error, never
// a runtime one.
func (g *Graph) Validate() error {
	for _, id := range g.order {
		for _, dep := range g.nodes[id].DependsOn {
			if dep == id {
				return fmt.Errorf("node %q depends on itself", id)
			}
			if _, ok := g.nodes[dep]; !ok {
				return fmt.Errorf("node %q depends on undeclared node %q", id, dep)
			}
		}
	}
	return g.findCycle()
}

// findCycle runs a depth-first traversal over every node; a back-edge to
// a node on the current stack is a cycle.
func (g *Graph) findCycle() error {
	const (
		unvisited = iota
		inStack
		done
	)
	state := make(map[NodeID]int, len(g.nodes))

	var stack []NodeID
	var visit func(id NodeID) *CycleError
	visit = func(id NodeID) *CycleError {
		state[id] = inStack
		stack = append(stack, id)

		for _, dep := range g.nodes[id].DependsOn {
			switch state[dep] {
			case inStack:
				// Trim the stack to the start of the cycle.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				path := append(append([]NodeID{}, stack[start:]...), dep)
				return &CycleError{Path: path}
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[id] = done
		return nil
	}

	for _, id := range g.order {
		if state[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopologicalOrder returns the node IDs ordered so that every node
// appears after all of its dependencies. Ties are broken by declaration
// order, making the result deterministic. Validate must have passed.
func (g *Graph) TopologicalOrder() []NodeID {
	indegree := make(map[NodeID]int, len(g.nodes))
	for _, id := range g.order {
		indegree[id] = len(g.nodes[id].DependsOn)
	}

	ordered := make([]NodeID, 0, len(g.nodes))
	scheduled := make(map[NodeID]bool, len(g.nodes))

	// Kahn's algorithm, but scanning the declaration order each round so
	// ready nodes are emitted in the order they were declared.
	for len(ordered) < len(g.nodes) {
		progressed := false
		for _, id := range g.order {
			if scheduled[id] || indegree[id] != 0 {
				continue
			}
			ordered = append(ordered, id)
			scheduled[id] = true
			progressed = true
			for _, dependent := range g.Dependents(id) {
				indegree[dependent]--
			}
		}
		if !progressed {
			// Unreachable on a validated graph.
			break
		}
	}
	return ordered
}
