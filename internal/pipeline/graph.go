// Package pipeline drives a ticket through the declared stage graph.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/stages"
)

// Condition guards an edge. A nil Condition always holds.
type Condition func(state *domain.TicketState) bool

// Node is one stage in the graph.
type Node struct {
	Stage stages.Stage
	// Suspends marks a stage that waits on the customer. A run parks before
	// it when a checkpoint store is configured and no reply is present.
	Suspends bool
}

// Edge is a transition between two stages.
type Edge struct {
	From      domain.StageName
	To        domain.StageName
	Condition Condition
}

// Graph is the declared stage topology. Control flow lives here, not in stages.
type Graph struct {
	Entry    domain.StageName
	Terminal domain.StageName

	nodes map[domain.StageName]Node
	order []domain.StageName
	edges map[domain.StageName][]Edge
}

// NewGraph creates an empty graph with the given entry and terminal stages.
func NewGraph(entry, terminal domain.StageName) *Graph {
	return &Graph{
		Entry:    entry,
		Terminal: terminal,
		nodes:    make(map[domain.StageName]Node),
		edges:    make(map[domain.StageName][]Edge),
	}
}

// AddNode registers a stage.
func (g *Graph) AddNode(node Node) error {
	if node.Stage.Name == "" {
		return errors.New("stage name required")
	}
	if node.Stage.Run == nil {
		return fmt.Errorf("stage %s has no body", node.Stage.Name)
	}
	if _, exists := g.nodes[node.Stage.Name]; exists {
		return fmt.Errorf("duplicate stage %s", node.Stage.Name)
	}
	g.nodes[node.Stage.Name] = node
	g.order = append(g.order, node.Stage.Name)
	return nil
}

// AddEdge appends a transition. Edges leaving the same stage are tried in
// the order they were added.
func (g *Graph) AddEdge(edge Edge) {
	g.edges[edge.From] = append(g.edges[edge.From], edge)
}

// Node returns the named node.
func (g *Graph) Node(name domain.StageName) (Node, bool) {
	node, ok := g.nodes[name]
	return node, ok
}

// Stages returns the registered stage names in registration order.
func (g *Graph) Stages() []domain.StageName {
	return append([]domain.StageName(nil), g.order...)
}

// Edges returns the transitions leaving a stage.
func (g *Graph) Edges(from domain.StageName) []Edge {
	return append([]Edge(nil), g.edges[from]...)
}

// Validate checks the graph is runnable: known endpoints, terminal reachable
// from entry, no cycles and no outgoing edges from the terminal.
func (g *Graph) Validate() error {
	if _, ok := g.nodes[g.Entry]; !ok {
		return fmt.Errorf("entry stage %q not registered", g.Entry)
	}
	if _, ok := g.nodes[g.Terminal]; !ok {
		return fmt.Errorf("terminal stage %q not registered", g.Terminal)
	}
	for from, edges := range g.edges {
		if _, ok := g.nodes[from]; !ok {
			return fmt.Errorf("edge from unknown stage %q", from)
		}
		for _, e := range edges {
			if _, ok := g.nodes[e.To]; !ok {
				return fmt.Errorf("edge %s -> %s targets unknown stage", e.From, e.To)
			}
		}
	}
	if len(g.edges[g.Terminal]) > 0 {
		return fmt.Errorf("terminal stage %s has outgoing edges", g.Terminal)
	}
	for _, name := range g.order {
		if name != g.Terminal && len(g.edges[name]) == 0 {
			return fmt.Errorf("stage %s has no outgoing edge", name)
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	marks := make(map[domain.StageName]int, len(g.nodes))
	var visit func(domain.StageName) error
	visit = func(name domain.StageName) error {
		switch marks[name] {
		case visiting:
			return fmt.Errorf("cycle through stage %s", name)
		case done:
			return nil
		}
		marks[name] = visiting
		for _, e := range g.edges[name] {
			if err := visit(e.To); err != nil {
				return err
			}
		}
		marks[name] = done
		return nil
	}
	if err := visit(g.Entry); err != nil {
		return err
	}
	if marks[g.Terminal] != done {
		return fmt.Errorf("terminal stage %s unreachable from %s", g.Terminal, g.Entry)
	}
	return nil
}

// Next picks the first edge out of from whose condition holds. ok is false
// at the terminal stage.
func (g *Graph) Next(from domain.StageName, state *domain.TicketState) (domain.StageName, bool, error) {
	if from == g.Terminal {
		return "", false, nil
	}
	for _, e := range g.edges[from] {
		if e.Condition == nil || e.Condition(state) {
			return e.To, true, nil
		}
	}
	return "", false, fmt.Errorf("no transition out of stage %s", from)
}

// DefaultGraph declares the eleven-stage chain INTAKE -> ... -> COMPLETE.
// WAIT is the suspension point.
func DefaultGraph(set *stages.Set) (*Graph, error) {
	all := set.All()
	g := NewGraph(domain.StageIntake, domain.StageComplete)
	for _, st := range all {
		if err := g.AddNode(Node{Stage: st, Suspends: st.Name == domain.StageWait}); err != nil {
			return nil, err
		}
	}
	for i := 0; i+1 < len(all); i++ {
		g.AddEdge(Edge{From: all[i].Name, To: all[i+1].Name})
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}
