package model

// FormulaDefinition declares one business calculation: the output field is
// a pure function of the fields referenced in Expression.
type FormulaDefinition struct {
	ID          string `json:"id" yaml:"id"`
	OutputField string `json:"output_field" yaml:"output_field"`
	Expression  string `json:"expression" yaml:"expression"`
}
