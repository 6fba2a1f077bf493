package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/clearstage/enhance/internal/model"
)

// policyFile is the YAML shape of the field policy registry.
type policyFile struct {
	Policies []model.FieldPolicy `yaml:"policies"`
}

// formulaFile is the YAML shape of the formula registry.
type formulaFile struct {
	Formulas []model.FormulaDefinition `yaml:"formulas"`
}

// LoadPolicies reads and validates the field policy registry.
func LoadPolicies(path string) (*model.PolicyRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read policy file %s", path)
	}
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "config: parse policy file %s", path)
	}
	reg, err := model.NewPolicyRegistry(f.Policies)
	if err != nil {
		return nil, eris.Wrapf(err, "config: policy file %s", path)
	}
	return reg, nil
}

// LoadFormulas reads the formula registry. Expressions are validated when
// the dependency graph is built.
func LoadFormulas(path string) ([]model.FormulaDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read formula file %s", path)
	}
	var f formulaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "config: parse formula file %s", path)
	}
	if len(f.Formulas) == 0 {
		return nil, eris.Wrapf(model.ErrConfiguration, "config: formula file %s defines no formulas", path)
	}
	return f.Formulas, nil
}
