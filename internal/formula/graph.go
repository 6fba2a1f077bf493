package formula

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/clearstage/enhance/internal/model"
)

// node is one formula in the dependency arena. Edges and traversal work
// on formula ids, never on object references, so the graph stays
// serializable for audit.
type node struct {
	ID          string
	OutputField string
	Expr        Expr
	Downstream  []string // formula ids consuming this formula's output
}

// Graph is the formula dependency graph: an edge A -> B exists when
// formula B's expression reads formula A's output field.
type Graph struct {
	arena map[string]*node
	order []string // declaration order, for deterministic traversal
	topo  []string // dependency order, upstream formulas first
}

// BuildGraph parses every definition and wires dependency edges. A cyclic
// reference graph or a malformed expression is a configuration error,
// surfaced once per batch before any record is processed.
func BuildGraph(defs []model.FormulaDefinition) (*Graph, error) {
	g := &Graph{arena: make(map[string]*node, len(defs))}

	byOutput := make(map[string]string, len(defs))
	for _, def := range defs {
		if def.ID == "" || def.OutputField == "" {
			return nil, eris.Wrap(model.ErrConfiguration, "formula: definition missing id or output field")
		}
		if _, dup := g.arena[def.ID]; dup {
			return nil, eris.Wrapf(model.ErrConfiguration, "formula: duplicate id %q", def.ID)
		}
		if prev, dup := byOutput[def.OutputField]; dup {
			return nil, eris.Wrapf(model.ErrConfiguration, "formula: output %q declared by both %q and %q", def.OutputField, prev, def.ID)
		}
		expr, err := Parse(def.Expression)
		if err != nil {
			return nil, eris.Wrapf(err, "formula %q", def.ID)
		}
		g.arena[def.ID] = &node{ID: def.ID, OutputField: def.OutputField, Expr: expr}
		g.order = append(g.order, def.ID)
		byOutput[def.OutputField] = def.ID
	}

	for _, n := range g.arena {
		for _, ref := range n.Expr.Refs() {
			if upstream, ok := byOutput[ref]; ok {
				up := g.arena[upstream]
				up.Downstream = append(up.Downstream, n.ID)
			}
		}
	}
	for _, n := range g.arena {
		sort.Strings(n.Downstream)
	}

	if cycle := g.findCycle(); cycle != "" {
		return nil, eris.Wrapf(model.ErrConfiguration, "formula: dependency cycle through %q", cycle)
	}
	g.topo = g.topoOrder()
	return g, nil
}

// topoOrder returns formula ids with every upstream formula before its
// consumers, breaking ties by declaration order. Assumes the arena is
// acyclic.
func (g *Graph) topoOrder() []string {
	indegree := make(map[string]int, len(g.arena))
	for _, n := range g.arena {
		for _, down := range n.Downstream {
			indegree[down]++
		}
	}
	out := make([]string, 0, len(g.order))
	placed := make(map[string]bool, len(g.order))
	for len(out) < len(g.order) {
		for _, id := range g.order {
			if placed[id] || indegree[id] > 0 {
				continue
			}
			placed[id] = true
			out = append(out, id)
			for _, down := range g.arena[id].Downstream {
				indegree[down]--
			}
		}
	}
	return out
}

// findCycle runs a three-color DFS over the arena and returns an id on a
// cycle, or "".
func (g *Graph) findCycle() string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.arena))

	var visit func(id string) string
	visit = func(id string) string {
		color[id] = gray
		for _, next := range g.arena[id].Downstream {
			switch color[next] {
			case gray:
				return next
			case white:
				if hit := visit(next); hit != "" {
					return hit
				}
			}
		}
		color[id] = black
		return ""
	}

	for _, id := range g.order {
		if color[id] == white {
			if hit := visit(id); hit != "" {
				return hit
			}
		}
	}
	return ""
}

// Cascade returns the output fields of all formulas transitively dependent
// on rootID, in breadth-first order. The root itself is excluded.
func (g *Graph) Cascade(rootID string) []string {
	root, ok := g.arena[rootID]
	if !ok {
		return nil
	}
	var fields []string
	seen := map[string]bool{rootID: true}
	queue := append([]string(nil), root.Downstream...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		n := g.arena[id]
		fields = append(fields, n.OutputField)
		queue = append(queue, n.Downstream...)
	}
	return fields
}

// formulas returns the nodes in dependency order, so root violations are
// always seen before their consequences regardless of declaration order.
func (g *Graph) formulas() []*node {
	out := make([]*node, 0, len(g.topo))
	for _, id := range g.topo {
		out = append(out, g.arena[id])
	}
	return out
}
