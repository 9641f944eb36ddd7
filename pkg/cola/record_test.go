package cola

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseApprovalDate(t *testing.T) {
	tests := []struct {
		in            string
		year, mon, day int
		ok            bool
	}{
		{"01/15/2013", 2013, 1, 15, true},
		{"12/31/2024", 2024, 12, 31, true},
		{"1/5/2013", 0, 0, 0, false},
		{"2013-01-15", 0, 0, 0, false},
		{"13/40/2013", 0, 0, 0, false},
		{"", 0, 0, 0, false},
		{"00/10/2013", 0, 0, 0, false},
	}
	for _, tc := range tests {
		y, m, d, ok := ParseApprovalDate(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.Equal(t, tc.year, y, "input %q", tc.in)
		assert.Equal(t, tc.mon, m, "input %q", tc.in)
		assert.Equal(t, tc.day, d, "input %q", tc.in)
	}
}

func TestDeriveDate_MalformedLeavesNull(t *testing.T) {
	r := Record{TTBID: "13001001000001", ApprovalDate: "approved sometime"}
	r.DeriveDate()
	assert.Zero(t, r.Year)
	assert.Zero(t, r.Month)
	assert.Zero(t, r.Day)

	r.ApprovalDate = "03/07/2019"
	r.DeriveDate()
	assert.Equal(t, 2019, r.Year)
	assert.Equal(t, 3, r.Month)
	assert.Equal(t, 7, r.Day)
}

func TestIsLegacy(t *testing.T) {
	assert.True(t, (&Record{BrandName: "Ghost"}).IsLegacy())
	assert.True(t, (&Record{CompanyName: "Acme"}).IsLegacy())
	assert.False(t, (&Record{CompanyName: "Acme", BrandName: "Ghost"}).IsLegacy())
}

func TestCategoryForClassCode(t *testing.T) {
	assert.Equal(t, "Wine", CategoryForClassCode("080"))
	assert.Equal(t, "Whiskey", CategoryForClassCode("140"))
	assert.Equal(t, "Vodka", CategoryForClassCode("380"))
	assert.Equal(t, "Malt", CategoryForClassCode("901"))
	assert.Equal(t, "", CategoryForClassCode(""))
}
