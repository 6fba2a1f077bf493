package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"strips llc", "Acme Widgets LLC", "ACME WIDGETS"},
		{"strips inc with period", "Acme Widgets, Inc.", "ACME WIDGETS"},
		{"strips ltd", "Globex Ltd.", "GLOBEX"},
		{"strips cjk suffix", "华为技术有限公司", "华为技术"},
		{"folds diacritics", "Müller Gmbh", "MULLER"},
		{"ampersand to and", "Smith & Sons", "SMITH AND SONS"},
		{"collapses spaces", "  Initech   Corp ", "INITECH"},
		{"dash to space", "north-west trading", "NORTH WEST TRADING"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}

func TestNormalizeName_Idempotent(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"Acme Widgets LLC", "Müller Gmbh", "Smith & Sons", "华为技术有限公司"} {
		once := NormalizeName(in)
		assert.Equal(t, once, NormalizeName(once), "normalizing %q twice changed the result", in)
	}
}

func TestNormalizeCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "91350100M000100Y43", NormalizeCode(" 9135-0100 m000100y43 "))
	assert.Equal(t, "ABC123", NormalizeCode("a.b.c-123"))
}
