package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/stages"
)

func noopStage(name domain.StageName) Node {
	return Node{Stage: stages.Stage{
		Name: name,
		Run: func(_ context.Context, s *domain.TicketState) (*domain.TicketState, error) {
			return s, nil
		},
	}}
}

func chain(t *testing.T, names ...domain.StageName) *Graph {
	t.Helper()
	g := NewGraph(names[0], names[len(names)-1])
	for _, name := range names {
		require.NoError(t, g.AddNode(noopStage(name)))
	}
	for i := 0; i+1 < len(names); i++ {
		g.AddEdge(Edge{From: names[i], To: names[i+1]})
	}
	return g
}

func TestDefaultGraph_IsTheElevenStageChain(t *testing.T) {
	g, err := DefaultGraph(stages.New(stages.Dependencies{}))
	require.NoError(t, err)

	assert.Equal(t, domain.StageIntake, g.Entry)
	assert.Equal(t, domain.StageComplete, g.Terminal)
	assert.Equal(t, domain.StageOrder, g.Stages())

	for i, name := range domain.StageOrder {
		node, ok := g.Node(name)
		require.True(t, ok)
		assert.Equal(t, name == domain.StageWait, node.Suspends, "stage %s", name)

		next, more, err := g.Next(name, aliceTicket())
		require.NoError(t, err)
		if name == domain.StageComplete {
			assert.False(t, more)
			continue
		}
		assert.True(t, more)
		assert.Equal(t, domain.StageOrder[i+1], next)
	}
}

func TestGraph_ValidateRejectsCycles(t *testing.T) {
	g := chain(t, "A", "B", "C")
	g.AddEdge(Edge{From: "B", To: "A"})
	assert.ErrorContains(t, g.Validate(), "cycle")
}

func TestGraph_ValidateRejectsDanglingEdges(t *testing.T) {
	g := NewGraph("A", "C")
	require.NoError(t, g.AddNode(noopStage("A")))
	require.NoError(t, g.AddNode(noopStage("B")))
	require.NoError(t, g.AddNode(noopStage("C")))
	g.AddEdge(Edge{From: "A", To: "B"})
	g.AddEdge(Edge{From: "B", To: "B2"})
	assert.ErrorContains(t, g.Validate(), "unknown stage")

	g = NewGraph("A", "C")
	require.NoError(t, g.AddNode(noopStage("A")))
	require.NoError(t, g.AddNode(noopStage("C")))
	assert.ErrorContains(t, g.Validate(), "no outgoing edge")
}

func TestGraph_ValidateRejectsTerminalWithEdges(t *testing.T) {
	g := chain(t, "A", "B")
	require.NoError(t, g.AddNode(noopStage("C")))
	g.AddEdge(Edge{From: "B", To: "C"})
	g.AddEdge(Edge{From: "C", To: "A"})
	assert.Error(t, g.Validate())
}

func TestGraph_ValidateRequiresEntryAndTerminal(t *testing.T) {
	g := NewGraph("A", "Z")
	require.NoError(t, g.AddNode(noopStage("A")))
	assert.ErrorContains(t, g.Validate(), "terminal")

	g = NewGraph("X", "A")
	require.NoError(t, g.AddNode(noopStage("A")))
	assert.ErrorContains(t, g.Validate(), "entry")
}

func TestGraph_AddNodeRejectsDuplicatesAndEmptyBodies(t *testing.T) {
	g := NewGraph("A", "A")
	require.NoError(t, g.AddNode(noopStage("A")))
	assert.Error(t, g.AddNode(noopStage("A")))
	assert.Error(t, g.AddNode(Node{Stage: stages.Stage{Name: "B"}}))
	assert.Error(t, g.AddNode(Node{}))
}

func TestGraph_ConditionalEdgeSkipsStages(t *testing.T) {
	g := NewGraph(domain.StageUnderstand, domain.StageRetrieve)
	for _, name := range []domain.StageName{domain.StageUnderstand, domain.StageAsk, domain.StageRetrieve} {
		require.NoError(t, g.AddNode(noopStage(name)))
	}
	entitiesComplete := func(s *domain.TicketState) bool { return len(s.Entities) > 0 }
	g.AddEdge(Edge{From: domain.StageUnderstand, To: domain.StageRetrieve, Condition: entitiesComplete})
	g.AddEdge(Edge{From: domain.StageUnderstand, To: domain.StageAsk})
	g.AddEdge(Edge{From: domain.StageAsk, To: domain.StageRetrieve})
	require.NoError(t, g.Validate())

	orch, err := New(g, Options{})
	require.NoError(t, err)

	res, err := orch.Run(context.Background(), "plain", aliceTicket())
	require.NoError(t, err)
	assert.Equal(t, []domain.StageName{domain.StageUnderstand, domain.StageAsk, domain.StageRetrieve}, res.Trace)

	state := aliceTicket()
	require.NoError(t, state.SetEntities(map[string]any{"order_id": "12345"}))
	res, err = orch.Run(context.Background(), "skip", state)
	require.NoError(t, err)
	assert.Equal(t, []domain.StageName{domain.StageUnderstand, domain.StageRetrieve}, res.Trace)
}

func TestGraph_NextFailsWhenNoConditionHolds(t *testing.T) {
	g := NewGraph("A", "B")
	require.NoError(t, g.AddNode(noopStage("A")))
	require.NoError(t, g.AddNode(noopStage("B")))
	g.AddEdge(Edge{From: "A", To: "B", Condition: func(*domain.TicketState) bool { return false }})
	require.NoError(t, g.Validate())

	_, _, err := g.Next("A", aliceTicket())
	assert.Error(t, err)
}

func TestNew_RejectsInvalidGraph(t *testing.T) {
	_, err := New(nil, Options{})
	assert.Error(t, err)

	g := chain(t, "A", "B")
	g.AddEdge(Edge{From: "B", To: "A"})
	_, err = New(g, Options{})
	assert.Error(t, err)
}
