package formula

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/clearstage/enhance/internal/model"
)

// Tolerance bounds the accepted gap between a declared value and its
// recomputed value, to avoid false positives from rounding. A value
// passes when it is within Abs of the expected value, or within
// Rel * |expected|.
type Tolerance struct {
	Abs decimal.Decimal
	Rel decimal.Decimal
}

// DefaultTolerance is an absolute and relative tolerance of 0.01.
func DefaultTolerance() Tolerance {
	t := decimal.NewFromFloat(0.01)
	return Tolerance{Abs: t, Rel: t}
}

// Detector validates declared numeric relationships between fields.
// Construction fails on configuration errors (cycles, malformed
// expressions); Detect never fails per record.
type Detector struct {
	graph *Graph
	tol   Tolerance
}

// NewDetector parses the formula definitions and builds the dependency
// graph. A cyclic or malformed definition set is a configuration error.
func NewDetector(defs []model.FormulaDefinition, tol Tolerance) (*Detector, error) {
	g, err := BuildGraph(defs)
	if err != nil {
		return nil, err
	}
	if tol.Abs.IsZero() && tol.Rel.IsZero() {
		tol = DefaultTolerance()
	}
	return &Detector{graph: g, tol: tol}, nil
}

// Detect evaluates every formula against every record and reports root
// violations with their cascade chains. Cascaded formulas are reported on
// the root, not re-flagged as fresh violations. A record missing an
// operand gets an insufficient-data report for that formula only.
func (d *Detector) Detect(ctx context.Context, records []model.ImportRecord) ([]model.ConflictReport, error) {
	var reports []model.ConflictReport
	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		reports = append(reports, d.detectRecord(records[i])...)
	}
	return reports, nil
}

func (d *Detector) detectRecord(rec model.ImportRecord) []model.ConflictReport {
	fields := decimalFields(rec)

	// Outputs of violated formulas in this record; a formula whose
	// inputs include one of these is a cascade consequence, not a root.
	violatedOutputs := make(map[string]bool)

	var reports []model.ConflictReport
	for _, n := range d.graph.formulas() {
		declared, ok := fields[n.OutputField]
		if !ok {
			reports = append(reports, model.ConflictReport{
				RowIndex:     rec.RowIndex,
				FormulaID:    n.ID,
				OutputField:  n.OutputField,
				Insufficient: true,
			})
			continue
		}

		expected, err := n.Expr.Eval(fields)
		if err != nil {
			if eris.Is(err, ErrMissingOperand) || eris.Is(err, ErrDivisionByZero) {
				reports = append(reports, model.ConflictReport{
					RowIndex:     rec.RowIndex,
					FormulaID:    n.ID,
					OutputField:  n.OutputField,
					Insufficient: true,
				})
				continue
			}
			zap.L().Warn("conflict: evaluation failed",
				zap.String("formula", n.ID),
				zap.Int("row", rec.RowIndex),
				zap.Error(err),
			)
			continue
		}

		if d.withinTolerance(declared, expected) {
			continue
		}
		if dependsOnViolated(n, violatedOutputs) {
			// Consequence of an upstream root violation.
			violatedOutputs[n.OutputField] = true
			continue
		}
		violatedOutputs[n.OutputField] = true

		absDev := declared.Sub(expected).Abs()
		relDev := 0.0
		if !expected.IsZero() {
			relDev, _ = absDev.Div(expected.Abs()).Float64()
		}
		reports = append(reports, model.ConflictReport{
			RowIndex:     rec.RowIndex,
			FormulaID:    n.ID,
			OutputField:  n.OutputField,
			Expected:     expected.String(),
			Declared:     declared.String(),
			AbsDeviation: absDev.String(),
			RelDeviation: relDev,
			Severity:     model.SeverityFor(relDev),
			Cascade:      d.graph.Cascade(n.ID),
		})
	}
	return reports
}

func (d *Detector) withinTolerance(declared, expected decimal.Decimal) bool {
	diff := declared.Sub(expected).Abs()
	if diff.LessThanOrEqual(d.tol.Abs) {
		return true
	}
	return diff.LessThanOrEqual(expected.Abs().Mul(d.tol.Rel))
}

// dependsOnViolated reports whether the formula reads any output already
// flagged in this record.
func dependsOnViolated(n *node, violated map[string]bool) bool {
	if len(violated) == 0 {
		return false
	}
	for _, ref := range n.Expr.Refs() {
		if violated[ref] {
			return true
		}
	}
	return false
}

// decimalFields extracts the record's parseable numeric fields.
func decimalFields(rec model.ImportRecord) map[string]decimal.Decimal {
	fields := make(map[string]decimal.Decimal)
	for _, f := range rec.Fields() {
		if f.Absent {
			continue
		}
		if v, err := decimal.NewFromString(f.Raw); err == nil {
			fields[f.Name] = v
		}
	}
	return fields
}
