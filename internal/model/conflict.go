package model

// ConflictSeverity classifies a formula violation by relative deviation.
type ConflictSeverity string

const (
	SeverityLow      ConflictSeverity = "low"
	SeverityMedium   ConflictSeverity = "medium"
	SeverityHigh     ConflictSeverity = "high"
	SeverityCritical ConflictSeverity = "critical"
)

// ConflictReport records one root formula violation for one record.
// Cascade lists the output fields of formulas transitively dependent on
// the violated formula, in breadth-first order; cascaded formulas are
// consequences of this root, not independent violations.
type ConflictReport struct {
	RowIndex     int              `json:"row_index"`
	FormulaID    string           `json:"formula_id"`
	OutputField  string           `json:"output_field"`
	Expected     string           `json:"expected"`
	Declared     string           `json:"declared"`
	AbsDeviation string           `json:"abs_deviation"`
	RelDeviation float64          `json:"rel_deviation"`
	Severity     ConflictSeverity `json:"severity"`
	Cascade      []string         `json:"cascade,omitempty"`
	Insufficient bool             `json:"insufficient,omitempty"` // missing operand, check degraded
}

// SeverityFor maps a relative deviation onto a severity band.
func SeverityFor(relDeviation float64) ConflictSeverity {
	switch {
	case relDeviation >= 0.50:
		return SeverityCritical
	case relDeviation >= 0.10:
		return SeverityHigh
	case relDeviation >= 0.03:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
