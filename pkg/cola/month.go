package cola

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Month is a calendar month, the unit of acquisition and verification.
type Month struct {
	Year  int
	Month int
}

var monthRe = regexp.MustCompile(`^(\d{4})-(\d{2})$`)

// ParseMonth parses the YYYY-MM form used on the command line.
func ParseMonth(s string) (Month, error) {
	m := monthRe.FindStringSubmatch(s)
	if m == nil {
		return Month{}, fmt.Errorf("invalid month %q, want YYYY-MM", s)
	}
	year, _ := strconv.Atoi(m[1])
	mon, _ := strconv.Atoi(m[2])
	if mon < 1 || mon > 12 {
		return Month{}, fmt.Errorf("invalid month %q, month out of range", s)
	}
	return Month{Year: year, Month: mon}, nil
}

func (m Month) String() string {
	return fmt.Sprintf("%04d-%02d", m.Year, m.Month)
}

// First returns the first day of the month.
func (m Month) First() time.Time {
	return time.Date(m.Year, time.Month(m.Month), 1, 0, 0, 0, 0, time.UTC)
}

// Last returns the last day of the month.
func (m Month) Last() time.Time {
	return m.First().AddDate(0, 1, -1)
}

// Next returns the following month.
func (m Month) Next() Month {
	if m.Month == 12 {
		return Month{Year: m.Year + 1, Month: 1}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

// Before reports whether m precedes other.
func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

// MonthRange expands an inclusive start..end month range.
func MonthRange(start, end Month) ([]Month, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("month range %s..%s is reversed", start, end)
	}
	var out []Month
	for m := start; !end.Before(m); m = m.Next() {
		out = append(out, m)
	}
	return out, nil
}

// MonthsOfYear expands a whole calendar year.
func MonthsOfYear(year int) []Month {
	out := make([]Month, 0, 12)
	for i := 1; i <= 12; i++ {
		out = append(out, Month{Year: year, Month: i})
	}
	return out
}

// RegistryDate renders a time in the MM/DD/YYYY shape the registry's search
// form expects.
func RegistryDate(t time.Time) string {
	return t.Format("01/02/2006")
}
