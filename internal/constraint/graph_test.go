package constraint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_AddNode(t *testing.T) {
	g := NewGraph()

	g.AddNode("a")
	assert.Equal(t, 1, g.g.Nodes().Len())
	nodeA, ok := g.ids["a"]
	require.True(t, ok)
	assert.Equal(t, int64(0), nodeA.ID())

	g.AddNode("a") // Test idempotency
	assert.Equal(t, 1, g.g.Nodes().Len())
	assert.Equal(t, []string{"a"}, g.names)
}

func TestGraph_AddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := NewGraph()
		g.AddNode("a")
		g.AddNode("b")

		require.NoError(t, g.AddEdge("a", "b")) // b depends on a
		assert.Equal(t, []string{"b"}, g.Dependents("a"))
		assert.Empty(t, g.Dependents("b"))
	})

	t.Run("error cases", func(t *testing.T) {
		g := NewGraph()
		g.AddNode("a")

		assert.ErrorContains(t, g.AddEdge("dne", "a"), "source node not found")
		assert.ErrorContains(t, g.AddEdge("a", "dne"), "destination node not found")
		assert.ErrorContains(t, g.AddEdge("a", "a"), "its own result")
	})
}

func TestGraph_Order(t *testing.T) {
	t.Run("dependencies come first", func(t *testing.T) {
		g := NewGraph()
		for _, id := range []string{"d", "c", "b", "a"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("a", "b"))
		require.NoError(t, g.AddEdge("b", "c"))
		require.NoError(t, g.AddEdge("a", "c")) // Transitive edge
		require.NoError(t, g.AddEdge("c", "d"))

		order, err := g.Order()
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c", "d"}, order)
	})

	t.Run("independent nodes keep insertion order", func(t *testing.T) {
		g := NewGraph()
		g.AddNode("x")
		g.AddNode("y")
		g.AddNode("z")
		order, err := g.Order()
		require.NoError(t, err)
		assert.Equal(t, []string{"x", "y", "z"}, order)
	})

	t.Run("cycle in a disjoint component is detected", func(t *testing.T) {
		g := NewGraph()
		g.AddNode("a")
		g.AddNode("b")
		require.NoError(t, g.AddEdge("a", "b"))

		g.AddNode("x")
		g.AddNode("y")
		g.AddNode("z")
		require.NoError(t, g.AddEdge("x", "y"))
		require.NoError(t, g.AddEdge("y", "z"))
		require.NoError(t, g.AddEdge("z", "y")) // Cycle

		_, err := g.Order()
		require.ErrorIs(t, err, ErrCycle)
		assert.ErrorContains(t, err, "involving y, z")
	})

	t.Run("ties between siblings keep insertion order", func(t *testing.T) {
		g := NewGraph()
		for _, id := range []string{"root", "m", "b", "k"} {
			g.AddNode(id)
		}
		require.NoError(t, g.AddEdge("root", "k"))
		require.NoError(t, g.AddEdge("root", "b"))
		require.NoError(t, g.AddEdge("root", "m"))

		order, err := g.Order()
		require.NoError(t, err)
		assert.Equal(t, []string{"root", "m", "b", "k"}, order)
		assert.Equal(t, []string{"m", "b", "k"}, g.Dependents("root"))
	})
}
