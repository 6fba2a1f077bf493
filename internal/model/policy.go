package model

import (
	"regexp"

	"github.com/rotisserie/eris"
)

// RiskTier is the policy-assigned sensitivity of a field.
type RiskTier string

const (
	RiskLow    RiskTier = "low"
	RiskMedium RiskTier = "medium"
	RiskHigh   RiskTier = "high"
)

// FieldPolicy is the per-canonical-field policy supplied by the field
// mapping config.
type FieldPolicy struct {
	Field            string         `json:"field" yaml:"field"`
	DataType         string         `json:"data_type" yaml:"data_type"` // text, numeric, categorical, date
	Required         bool           `json:"required" yaml:"required"`
	AllowImputation  bool           `json:"allow_imputation" yaml:"allow_imputation"`
	RiskTier         RiskTier       `json:"risk_tier" yaml:"risk_tier"`
	BusinessCritical bool           `json:"business_critical" yaml:"business_critical"`
	DefaultValue     *string        `json:"default_value,omitempty" yaml:"default_value"`
	CorrelatedFields []string       `json:"correlated_fields,omitempty" yaml:"correlated_fields"`
	MasterEntityType string         `json:"master_entity_type,omitempty" yaml:"master_entity_type"` // non-empty: field references master data
	Format           string         `json:"format,omitempty" yaml:"format"`                         // compliance regex
	FormatRegex      *regexp.Regexp `json:"-" yaml:"-"`
}

// PolicyRegistry is an indexed, immutable collection of field policies,
// resolved once per batch and passed down through every stage.
type PolicyRegistry struct {
	Policies []FieldPolicy

	byField    map[string]*FieldPolicy
	required   []*FieldPolicy
	references []*FieldPolicy
}

// NewPolicyRegistry builds a registry with indexed lookups, pre-compiling
// format regexes. An invalid format pattern is a configuration error.
func NewPolicyRegistry(policies []FieldPolicy) (*PolicyRegistry, error) {
	r := &PolicyRegistry{
		Policies: policies,
		byField:  make(map[string]*FieldPolicy, len(policies)),
	}
	for i := range r.Policies {
		p := &r.Policies[i]
		if p.Field == "" {
			return nil, eris.Wrap(ErrConfiguration, "policy: empty field name")
		}
		if _, dup := r.byField[p.Field]; dup {
			return nil, eris.Wrapf(ErrConfiguration, "policy: duplicate field %q", p.Field)
		}
		if p.RiskTier == "" {
			p.RiskTier = RiskLow
		}
		if p.Format != "" {
			re, err := regexp.Compile(p.Format)
			if err != nil {
				return nil, eris.Wrapf(ErrConfiguration, "policy: field %q format: %v", p.Field, err)
			}
			p.FormatRegex = re
		}
		r.byField[p.Field] = p
		if p.Required {
			r.required = append(r.required, p)
		}
		if p.MasterEntityType != "" {
			r.references = append(r.references, p)
		}
	}
	return r, nil
}

// ByField returns the policy for a canonical field, or nil.
func (r *PolicyRegistry) ByField(field string) *FieldPolicy {
	return r.byField[field]
}

// Required returns policies for required fields.
func (r *PolicyRegistry) Required() []*FieldPolicy {
	return r.required
}

// References returns policies for fields that reference master data.
func (r *PolicyRegistry) References() []*FieldPolicy {
	return r.references
}
