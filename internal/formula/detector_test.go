package formula

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearstage/enhance/internal/model"
)

func invoiceDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector([]model.FormulaDefinition{
		{ID: "line_total", OutputField: "line_total", Expression: "quantity * unit_price"},
		{ID: "taxed_total", OutputField: "taxed_total", Expression: "line_total * 1.1"},
	}, DefaultTolerance())
	require.NoError(t, err)
	return d
}

func invoiceRecord(t *testing.T, row int, fields map[string]string) model.ImportRecord {
	t.Helper()
	fvs := make([]model.FieldValue, 0, len(fields))
	for name, raw := range fields {
		fvs = append(fvs, model.FieldValue{Name: name, Raw: raw, Absent: raw == ""})
	}
	return model.NewImportRecord(row, fvs)
}

func TestDetect_CleanRecordNoReports(t *testing.T) {
	t.Parallel()

	d := invoiceDetector(t)
	reports, err := d.Detect(context.Background(), []model.ImportRecord{
		invoiceRecord(t, 0, map[string]string{
			"quantity":    "3",
			"unit_price":  "10",
			"line_total":  "30",
			"taxed_total": "33",
		}),
	})
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestDetect_WithinToleranceAccepted(t *testing.T) {
	t.Parallel()

	d := invoiceDetector(t)
	// Declared 30.005 vs expected 30: within abs tolerance 0.01.
	reports, err := d.Detect(context.Background(), []model.ImportRecord{
		invoiceRecord(t, 0, map[string]string{
			"quantity":    "3",
			"unit_price":  "10",
			"line_total":  "30.005",
			"taxed_total": "33.0055",
		}),
	})
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestDetect_RootViolationWithCascade(t *testing.T) {
	t.Parallel()

	d := invoiceDetector(t)
	// line_total is wrong; taxed_total is consistent with the wrong
	// line_total, so only the root is reported.
	reports, err := d.Detect(context.Background(), []model.ImportRecord{
		invoiceRecord(t, 4, map[string]string{
			"quantity":    "3",
			"unit_price":  "10",
			"line_total":  "45",
			"taxed_total": "49.5",
		}),
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, 4, r.RowIndex)
	assert.Equal(t, "line_total", r.FormulaID)
	assert.Equal(t, "30", r.Expected)
	assert.Equal(t, "45", r.Declared)
	assert.Equal(t, "15", r.AbsDeviation)
	assert.InDelta(t, 0.5, r.RelDeviation, 1e-9)
	assert.Equal(t, model.SeverityCritical, r.Severity)
	assert.Equal(t, []string{"taxed_total"}, r.Cascade)
	assert.False(t, r.Insufficient)
}

func TestDetect_CascadeConsequenceSuppressed(t *testing.T) {
	t.Parallel()

	d := invoiceDetector(t)
	// Both declared values deviate, but taxed_total reads line_total, so
	// it is a consequence of the root, not a second violation.
	reports, err := d.Detect(context.Background(), []model.ImportRecord{
		invoiceRecord(t, 0, map[string]string{
			"quantity":    "3",
			"unit_price":  "10",
			"line_total":  "45",
			"taxed_total": "50",
		}),
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "line_total", reports[0].FormulaID)
}

func TestDetect_CascadeSuppressionIgnoresDeclarationOrder(t *testing.T) {
	t.Parallel()

	// taxed_total declared before its upstream line_total; evaluation
	// still follows dependency order, so the root is found first and the
	// consequence stays suppressed.
	d, err := NewDetector([]model.FormulaDefinition{
		{ID: "taxed_total", OutputField: "taxed_total", Expression: "line_total * 1.1"},
		{ID: "line_total", OutputField: "line_total", Expression: "quantity * unit_price"},
	}, DefaultTolerance())
	require.NoError(t, err)

	reports, err := d.Detect(context.Background(), []model.ImportRecord{
		invoiceRecord(t, 0, map[string]string{
			"quantity":    "3",
			"unit_price":  "10",
			"line_total":  "45",
			"taxed_total": "50",
		}),
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "line_total", reports[0].FormulaID)
	assert.Equal(t, []string{"taxed_total"}, reports[0].Cascade)
}

func TestDetect_IndependentViolationsBothReported(t *testing.T) {
	t.Parallel()

	d, err := NewDetector([]model.FormulaDefinition{
		{ID: "f1", OutputField: "out1", Expression: "a + b"},
		{ID: "f2", OutputField: "out2", Expression: "c + d"},
	}, DefaultTolerance())
	require.NoError(t, err)

	reports, err := d.Detect(context.Background(), []model.ImportRecord{
		invoiceRecord(t, 0, map[string]string{
			"a": "1", "b": "1", "out1": "3",
			"c": "1", "d": "1", "out2": "5",
		}),
	})
	require.NoError(t, err)
	assert.Len(t, reports, 2)
}

func TestDetect_MissingOperandInsufficient(t *testing.T) {
	t.Parallel()

	d := invoiceDetector(t)
	reports, err := d.Detect(context.Background(), []model.ImportRecord{
		invoiceRecord(t, 0, map[string]string{
			"quantity":    "3",
			"line_total":  "30",
			"taxed_total": "33",
		}),
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Insufficient)
	assert.Equal(t, "line_total", reports[0].FormulaID)
}

func TestDetect_MissingDeclaredOutputInsufficient(t *testing.T) {
	t.Parallel()

	d := invoiceDetector(t)
	reports, err := d.Detect(context.Background(), []model.ImportRecord{
		invoiceRecord(t, 0, map[string]string{
			"quantity":   "3",
			"unit_price": "10",
			"line_total": "30",
		}),
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Insufficient)
	assert.Equal(t, "taxed_total", reports[0].FormulaID)
}

func TestDetect_DivisionByZeroInsufficient(t *testing.T) {
	t.Parallel()

	d, err := NewDetector([]model.FormulaDefinition{
		{ID: "avg", OutputField: "avg_price", Expression: "total / count"},
	}, DefaultTolerance())
	require.NoError(t, err)

	reports, err := d.Detect(context.Background(), []model.ImportRecord{
		invoiceRecord(t, 0, map[string]string{
			"total": "10", "count": "0", "avg_price": "5",
		}),
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.True(t, reports[0].Insufficient)
}

func TestDetect_Idempotent(t *testing.T) {
	t.Parallel()

	d := invoiceDetector(t)
	rec := invoiceRecord(t, 0, map[string]string{
		"quantity":    "3",
		"unit_price":  "10",
		"line_total":  "45",
		"taxed_total": "49.5",
	})

	first, err := d.Detect(context.Background(), []model.ImportRecord{rec})
	require.NoError(t, err)
	second, err := d.Detect(context.Background(), []model.ImportRecord{rec})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDetect_ContextCancelled(t *testing.T) {
	t.Parallel()

	d := invoiceDetector(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Detect(ctx, []model.ImportRecord{invoiceRecord(t, 0, nil)})
	assert.ErrorIs(t, err, context.Canceled)
}
