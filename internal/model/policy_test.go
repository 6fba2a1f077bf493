package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPolicyRegistry(t *testing.T) {
	t.Parallel()

	reg, err := NewPolicyRegistry([]FieldPolicy{
		{Field: "name", DataType: "text", Required: true},
		{Field: "tax_id", DataType: "text", Format: `^\d{9}$`},
		{Field: "supplier", DataType: "text", MasterEntityType: "supplier"},
		{Field: "region", DataType: "categorical"},
	})
	require.NoError(t, err)

	require.NotNil(t, reg.ByField("tax_id"))
	assert.True(t, reg.ByField("tax_id").FormatRegex.MatchString("123456789"))
	assert.Nil(t, reg.ByField("unknown"))

	require.Len(t, reg.Required(), 1)
	assert.Equal(t, "name", reg.Required()[0].Field)
	require.Len(t, reg.References(), 1)
	assert.Equal(t, "supplier", reg.References()[0].Field)

	// Unset risk tier defaults to low.
	assert.Equal(t, RiskLow, reg.ByField("region").RiskTier)
}

func TestNewPolicyRegistry_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		policies []FieldPolicy
	}{
		{"empty field name", []FieldPolicy{{Field: ""}}},
		{"duplicate field", []FieldPolicy{{Field: "name"}, {Field: "name"}}},
		{"bad format regex", []FieldPolicy{{Field: "tax_id", Format: `[unclosed`}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewPolicyRegistry(tt.policies)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}

func TestSeverityFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		rel  float64
		want ConflictSeverity
	}{
		{0.0, SeverityLow},
		{0.029, SeverityLow},
		{0.03, SeverityMedium},
		{0.09, SeverityMedium},
		{0.10, SeverityHigh},
		{0.49, SeverityHigh},
		{0.50, SeverityCritical},
		{2.0, SeverityCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SeverityFor(tt.rel), "rel=%v", tt.rel)
	}
}

func TestImputationLogEntry_Applied(t *testing.T) {
	t.Parallel()

	assert.True(t, ImputationLogEntry{Approval: ApprovalAuto}.Applied())
	assert.True(t, ImputationLogEntry{Approval: ApprovalApproved}.Applied())
	assert.False(t, ImputationLogEntry{Approval: ApprovalPending}.Applied())
	assert.False(t, ImputationLogEntry{Approval: ApprovalRejected}.Applied())
	assert.False(t, ImputationLogEntry{Approval: ApprovalAuto, Reverted: true}.Applied())
}
