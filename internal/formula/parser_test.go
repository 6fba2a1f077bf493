package formula

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearstage/enhance/internal/model"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestParse_Eval(t *testing.T) {
	t.Parallel()

	fields := map[string]decimal.Decimal{
		"quantity":   dec(t, "3"),
		"unit_price": dec(t, "19.99"),
		"discount":   dec(t, "0.97"),
		"tax_rate":   dec(t, "0.1"),
	}

	tests := []struct {
		name string
		expr string
		want string
	}{
		{"multiply", "quantity * unit_price", "59.97"},
		{"precedence", "quantity * unit_price - discount", "59"},
		{"parens", "quantity * (unit_price - discount)", "57.06"},
		{"unary minus", "-discount + 1", "0.03"},
		{"literal only", "2.5 * 4", "10"},
		{"division exact", "unit_price / 1", "19.99"},
		{"nested", "(quantity * unit_price) * (1 + tax_rate)", "65.967"},
		{"identifier case folded", "QUANTITY + Quantity", "6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			expr, err := Parse(tt.expr)
			require.NoError(t, err)
			got, err := expr.Eval(fields)
			require.NoError(t, err)
			assert.True(t, got.Equal(dec(t, tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestParse_NoFloatDrift(t *testing.T) {
	t.Parallel()

	// 0.1 + 0.2 must be exactly 0.3 in fixed-point arithmetic.
	expr, err := Parse("a + b")
	require.NoError(t, err)
	got, err := expr.Eval(map[string]decimal.Decimal{
		"a": dec(t, "0.1"),
		"b": dec(t, "0.2"),
	})
	require.NoError(t, err)
	assert.True(t, got.Equal(dec(t, "0.3")))
}

func TestParse_Malformed(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{
		"",
		"quantity *",
		"* unit_price",
		"(quantity",
		"quantity + + price",
		"quantity $ price",
		"1.2.3 + 1",
	} {
		t.Run(expr, func(t *testing.T) {
			t.Parallel()
			_, err := Parse(expr)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrConfiguration)
		})
	}
}

func TestEval_MissingOperand(t *testing.T) {
	t.Parallel()

	expr, err := Parse("quantity * unit_price")
	require.NoError(t, err)

	_, err = expr.Eval(map[string]decimal.Decimal{"quantity": dec(t, "3")})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingOperand)
}

func TestEval_DivisionByZero(t *testing.T) {
	t.Parallel()

	expr, err := Parse("total / count")
	require.NoError(t, err)

	_, err = expr.Eval(map[string]decimal.Decimal{
		"total": dec(t, "10"),
		"count": decimal.Zero,
	})
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestExpr_Refs(t *testing.T) {
	t.Parallel()

	expr, err := Parse("quantity * unit_price - quantity * discount")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"quantity", "unit_price", "discount"}, expr.Refs())
}
