package impute

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearstage/enhance/internal/model"
)

func assertDecimalEqual(t *testing.T, want, got string) {
	t.Helper()
	w, err := decimal.NewFromString(want)
	require.NoError(t, err)
	g, err := decimal.NewFromString(got)
	require.NoError(t, err)
	assert.True(t, w.Equal(g), "want %s got %s", want, got)
}

func rowWith(t *testing.T, row int, fields map[string]string) model.ImportRecord {
	t.Helper()
	fvs := make([]model.FieldValue, 0, len(fields))
	for name, raw := range fields {
		fvs = append(fvs, model.FieldValue{Name: name, Raw: raw, Absent: raw == ""})
	}
	return model.NewImportRecord(row, fvs)
}

func strPtr(s string) *string { return &s }

func TestBusinessRuleDefault(t *testing.T) {
	t.Parallel()

	prop, ok := businessRuleDefault(&model.FieldPolicy{Field: "currency", DefaultValue: strPtr("USD")})
	require.True(t, ok)
	assert.Equal(t, "USD", prop.Value)
	assert.Equal(t, model.MethodBusinessRule, prop.Method)
	assert.Equal(t, 0.99, prop.Confidence)

	_, ok = businessRuleDefault(&model.FieldPolicy{Field: "currency"})
	assert.False(t, ok)
}

func TestNeighborAverage(t *testing.T) {
	t.Parallel()

	p := &model.FieldPolicy{
		Field:            "unit_price",
		DataType:         "numeric",
		CorrelatedFields: []string{"quantity"},
	}
	records := []model.ImportRecord{
		rowWith(t, 0, map[string]string{"quantity": "10"}), // target, missing unit_price
		rowWith(t, 1, map[string]string{"quantity": "10", "unit_price": "5.00"}),
		rowWith(t, 2, map[string]string{"quantity": "10", "unit_price": "7.00"}),
		rowWith(t, 3, map[string]string{"quantity": "10", "unit_price": "6.00"}),
	}

	prop, ok := neighborAverage(records, records[0], p, 0.4)
	require.True(t, ok)
	// Identical correlated vectors weigh neighbors equally.
	assertDecimalEqual(t, "6", prop.Value)
	assert.Equal(t, model.MethodNeighborAverage, prop.Method)
	assert.InDelta(t, 0.7*0.75, prop.Confidence, 1e-9)
}

func TestNeighborAverage_CloserNeighborsWeighMore(t *testing.T) {
	t.Parallel()

	p := &model.FieldPolicy{
		Field:            "unit_price",
		DataType:         "numeric",
		CorrelatedFields: []string{"quantity"},
	}
	records := []model.ImportRecord{
		rowWith(t, 0, map[string]string{"quantity": "10"}),
		rowWith(t, 1, map[string]string{"quantity": "10", "unit_price": "5.00"}),
		rowWith(t, 2, map[string]string{"quantity": "100", "unit_price": "50.00"}),
	}

	prop, ok := neighborAverage(records, records[0], p, 0.9)
	require.True(t, ok)
	// The quantity-10 neighbor dominates the quantity-100 one.
	v, err := decimal.NewFromString(prop.Value)
	require.NoError(t, err)
	assert.True(t, v.LessThan(decimal.NewFromInt(10)), "got %s", v)
}

func TestNeighborAverage_MissingRatioCeiling(t *testing.T) {
	t.Parallel()

	p := &model.FieldPolicy{
		Field:            "unit_price",
		DataType:         "numeric",
		CorrelatedFields: []string{"quantity"},
	}
	// Half the batch is missing the field; ceiling is 0.4.
	records := []model.ImportRecord{
		rowWith(t, 0, map[string]string{"quantity": "10"}),
		rowWith(t, 1, map[string]string{"quantity": "10"}),
		rowWith(t, 2, map[string]string{"quantity": "10", "unit_price": "5.00"}),
		rowWith(t, 3, map[string]string{"quantity": "10", "unit_price": "7.00"}),
	}

	_, ok := neighborAverage(records, records[0], p, 0.4)
	assert.False(t, ok)
}

func TestRegressionPredict(t *testing.T) {
	t.Parallel()

	p := &model.FieldPolicy{
		Field:            "total",
		DataType:         "numeric",
		CorrelatedFields: []string{"quantity"},
	}
	// total = 2 * quantity exactly: perfect correlation.
	records := []model.ImportRecord{
		rowWith(t, 0, map[string]string{"quantity": "5"}),
		rowWith(t, 1, map[string]string{"quantity": "1", "total": "2"}),
		rowWith(t, 2, map[string]string{"quantity": "2", "total": "4"}),
		rowWith(t, 3, map[string]string{"quantity": "3", "total": "6"}),
	}

	prop, ok := regressionPredict(records, records[0], p)
	require.True(t, ok)
	assertDecimalEqual(t, "10", prop.Value)
	assert.Equal(t, model.MethodRegression, prop.Method)
	assert.InDelta(t, 1.0, prop.Confidence, 1e-9)
}

func TestRegressionPredict_WeakCorrelationRefused(t *testing.T) {
	t.Parallel()

	p := &model.FieldPolicy{
		Field:            "total",
		DataType:         "numeric",
		CorrelatedFields: []string{"quantity"},
	}
	records := []model.ImportRecord{
		rowWith(t, 0, map[string]string{"quantity": "5"}),
		rowWith(t, 1, map[string]string{"quantity": "1", "total": "90"}),
		rowWith(t, 2, map[string]string{"quantity": "2", "total": "3"}),
		rowWith(t, 3, map[string]string{"quantity": "3", "total": "55"}),
		rowWith(t, 4, map[string]string{"quantity": "4", "total": "41"}),
	}

	_, ok := regressionPredict(records, records[0], p)
	assert.False(t, ok)
}

func TestRegressionPredict_TooFewPoints(t *testing.T) {
	t.Parallel()

	p := &model.FieldPolicy{
		Field:            "total",
		DataType:         "numeric",
		CorrelatedFields: []string{"quantity"},
	}
	records := []model.ImportRecord{
		rowWith(t, 0, map[string]string{"quantity": "5"}),
		rowWith(t, 1, map[string]string{"quantity": "1", "total": "2"}),
		rowWith(t, 2, map[string]string{"quantity": "2", "total": "4"}),
	}

	_, ok := regressionPredict(records, records[0], p)
	assert.False(t, ok)
}

func TestMajorityVote(t *testing.T) {
	t.Parallel()

	p := &model.FieldPolicy{Field: "region", DataType: "categorical"}
	records := []model.ImportRecord{
		rowWith(t, 0, nil),
		rowWith(t, 1, map[string]string{"region": "EMEA"}),
		rowWith(t, 2, map[string]string{"region": "EMEA"}),
		rowWith(t, 3, map[string]string{"region": "EMEA"}),
		rowWith(t, 4, map[string]string{"region": "APAC"}),
	}

	prop, ok := majorityVote(records, records[0], p)
	require.True(t, ok)
	assert.Equal(t, "EMEA", prop.Value)
	assert.InDelta(t, 0.75, prop.Confidence, 1e-9)
}

func TestMajorityVote_NoMajorityRefused(t *testing.T) {
	t.Parallel()

	p := &model.FieldPolicy{Field: "region", DataType: "categorical"}
	records := []model.ImportRecord{
		rowWith(t, 0, nil),
		rowWith(t, 1, map[string]string{"region": "EMEA"}),
		rowWith(t, 2, map[string]string{"region": "APAC"}),
		rowWith(t, 3, map[string]string{"region": "AMER"}),
	}

	_, ok := majorityVote(records, records[0], p)
	assert.False(t, ok)
}

func TestMajorityVote_ExactHalfTieBreaksLexicographically(t *testing.T) {
	t.Parallel()

	p := &model.FieldPolicy{Field: "region", DataType: "categorical"}
	records := []model.ImportRecord{
		rowWith(t, 0, nil),
		rowWith(t, 1, map[string]string{"region": "EMEA"}),
		rowWith(t, 2, map[string]string{"region": "EMEA"}),
		rowWith(t, 3, map[string]string{"region": "APAC"}),
		rowWith(t, 4, map[string]string{"region": "APAC"}),
	}

	prop, ok := majorityVote(records, records[0], p)
	require.True(t, ok)
	assert.Equal(t, "APAC", prop.Value)
	assert.InDelta(t, 0.5, prop.Confidence, 1e-9)
}
