package cola

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Old Tom's Reserve", "old-tom-s-reserve"},
		{"  Château Margaux  ", "chateau-margaux"},
		{"ALPHA--BETA", "alpha-beta"},
		{"100% Agave!", "100-agave"},
		{"---", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Slugify(tc.in), "input %q", tc.in)
	}
}

func TestNormalizeCompanyName(t *testing.T) {
	assert.Equal(t, "ACME, LLC", NormalizeCompanyName("Acme, LLC"))
	assert.Equal(t, "ACME, LLC", NormalizeCompanyName("  ACME, LLC "))
}

func TestPreferredBrandForSlug(t *testing.T) {
	// Longer name wins.
	assert.Equal(t, "Alpha Reserve", PreferredBrandForSlug("Alpha Reserve", "Alpha-Res"))
	// Length tie: lexicographic smaller wins.
	assert.Equal(t, "alpha", PreferredBrandForSlug("alphb", "alpha"))
}

func TestMonthRange(t *testing.T) {
	ms, err := MonthRange(Month{2023, 11}, Month{2024, 2})
	assert.NoError(t, err)
	assert.Equal(t, []Month{{2023, 11}, {2023, 12}, {2024, 1}, {2024, 2}}, ms)

	_, err = MonthRange(Month{2024, 2}, Month{2023, 11})
	assert.Error(t, err)
}

func TestParseMonth(t *testing.T) {
	m, err := ParseMonth("2013-01")
	assert.NoError(t, err)
	assert.Equal(t, Month{2013, 1}, m)
	assert.Equal(t, "2013-01", m.String())

	_, err = ParseMonth("2013-13")
	assert.Error(t, err)
	_, err = ParseMonth("201301")
	assert.Error(t, err)
}

func TestMonthFirstLast(t *testing.T) {
	m := Month{2024, 2}
	assert.Equal(t, "02/01/2024", RegistryDate(m.First()))
	assert.Equal(t, "02/29/2024", RegistryDate(m.Last()))
}
