package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearstage/enhance/internal/model"
)

func TestBuildGraph_WiresDownstream(t *testing.T) {
	t.Parallel()

	g, err := BuildGraph([]model.FormulaDefinition{
		{ID: "line_total", OutputField: "line_total", Expression: "quantity * unit_price"},
		{ID: "taxed_total", OutputField: "taxed_total", Expression: "line_total * 1.1"},
		{ID: "grand_total", OutputField: "grand_total", Expression: "taxed_total + shipping"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"taxed_total", "grand_total"}, g.Cascade("line_total"))
	assert.Equal(t, []string{"grand_total"}, g.Cascade("taxed_total"))
	assert.Empty(t, g.Cascade("grand_total"))
	assert.Empty(t, g.Cascade("unknown"))
}

func TestBuildGraph_DiamondCascadeOnce(t *testing.T) {
	t.Parallel()

	g, err := BuildGraph([]model.FormulaDefinition{
		{ID: "a", OutputField: "a", Expression: "x + 1"},
		{ID: "b", OutputField: "b", Expression: "a * 2"},
		{ID: "c", OutputField: "c", Expression: "a * 3"},
		{ID: "d", OutputField: "d", Expression: "b + c"},
	})
	require.NoError(t, err)

	cascade := g.Cascade("a")
	assert.ElementsMatch(t, []string{"b", "c", "d"}, cascade)
}

func TestBuildGraph_TopoOrderIgnoresDeclarationOrder(t *testing.T) {
	t.Parallel()

	// Declared sinks-first; traversal still visits upstream formulas
	// before their consumers.
	g, err := BuildGraph([]model.FormulaDefinition{
		{ID: "grand_total", OutputField: "grand_total", Expression: "taxed_total + shipping"},
		{ID: "taxed_total", OutputField: "taxed_total", Expression: "line_total * 1.1"},
		{ID: "line_total", OutputField: "line_total", Expression: "quantity * unit_price"},
	})
	require.NoError(t, err)

	var ids []string
	for _, n := range g.formulas() {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"line_total", "taxed_total", "grand_total"}, ids)
}

func TestBuildGraph_CycleRejected(t *testing.T) {
	t.Parallel()

	_, err := BuildGraph([]model.FormulaDefinition{
		{ID: "a", OutputField: "a", Expression: "b + 1"},
		{ID: "b", OutputField: "b", Expression: "a + 1"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestBuildGraph_SelfCycleRejected(t *testing.T) {
	t.Parallel()

	_, err := BuildGraph([]model.FormulaDefinition{
		{ID: "a", OutputField: "a", Expression: "a * 2"},
	})
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestBuildGraph_DuplicatesRejected(t *testing.T) {
	t.Parallel()

	_, err := BuildGraph([]model.FormulaDefinition{
		{ID: "a", OutputField: "a", Expression: "x + 1"},
		{ID: "a", OutputField: "b", Expression: "x + 2"},
	})
	assert.ErrorIs(t, err, model.ErrConfiguration)

	_, err = BuildGraph([]model.FormulaDefinition{
		{ID: "a", OutputField: "out", Expression: "x + 1"},
		{ID: "b", OutputField: "out", Expression: "x + 2"},
	})
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestBuildGraph_MalformedExpressionRejected(t *testing.T) {
	t.Parallel()

	_, err := BuildGraph([]model.FormulaDefinition{
		{ID: "a", OutputField: "a", Expression: "x +"},
	})
	assert.ErrorIs(t, err, model.ErrConfiguration)
}
