// Package cola holds the domain types shared by the acquisition, sync and
// classification engines: label-approval records, link queue entries,
// per-month progress, and the company/brand index rows kept remotely.
package cola

import (
	"fmt"
	"regexp"
	"strconv"
)

// Signal is the first-observation classification of a record.
type Signal string

const (
	SignalNewCompany Signal = "NEW_COMPANY"
	SignalNewBrand   Signal = "NEW_BRAND"
	SignalNewSKU     Signal = "NEW_SKU"
	SignalRefile     Signal = "REFILE"
	SignalLegacy     Signal = "LEGACY"
	SignalUnset      Signal = ""
)

// Record is one label approval. TTBID is the registry-assigned 14-digit
// identifier and the only immutable key; everything else is last-writer-wins
// across re-scrapes.
type Record struct {
	TTBID        string
	SerialNumber string
	VendorCode   string

	Status            string
	ClassTypeCode     string
	OriginCode        string
	TypeOfApplication string

	BrandName           string
	FancifulName        string
	Qualifications      string
	Formula             string
	ForSaleIn           string
	TotalBottleCapacity string

	GrapeVarietal  string
	WineVintage    string
	Appellation    string
	AlcoholContent string
	PHLevel        string

	CompanyName   string
	PlantRegistry string
	Street        string
	State         string
	ContactPerson string
	PhoneNumber   string

	ApprovalDate string
	// Year/Month/Day are derived from ApprovalDate when it matches
	// MM/DD/YYYY; zero means unknown and is stored as NULL.
	Year  int
	Month int
	Day   int

	Signal      Signal
	RefileCount int
	Category    string
}

var approvalDateRe = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)

// ParseApprovalDate splits an MM/DD/YYYY string into its numeric components.
// Dates in any other shape are not guessed at; the caller leaves the derived
// fields null.
func ParseApprovalDate(s string) (year, month, day int, ok bool) {
	m := approvalDateRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, 0, false
	}
	month, _ = strconv.Atoi(m[1])
	day, _ = strconv.Atoi(m[2])
	year, _ = strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return 0, 0, 0, false
	}
	return year, month, day, true
}

// DeriveDate populates Year/Month/Day from ApprovalDate where possible.
func (r *Record) DeriveDate() {
	if y, m, d, ok := ParseApprovalDate(r.ApprovalDate); ok {
		r.Year, r.Month, r.Day = y, m, d
	}
}

// IsLegacy reports whether the record carries too little identity to
// participate in classification.
func (r *Record) IsLegacy() bool {
	return r.CompanyName == "" || r.BrandName == ""
}

// categoryRanges maps the leading portion of the registry's class/type code
// space to a broad product family. Codes are compared as strings, which is
// how the registry's own class-code filter treats them.
var categoryRanges = []struct {
	lo, hi   byte
	category string
}{
	{'0', '0', "Wine"},
	{'1', '1', "Whiskey"},
	{'2', '2', "Gin"},
	{'3', '3', "Vodka"},
	{'4', '4', "Rum"},
	{'5', '5', "Brandy"},
	{'6', '6', "Liqueur"},
	{'7', '7', "Cocktails"},
	{'8', '8', "Specialty"},
	{'9', '9', "Malt"},
}

// CategoryForClassCode buckets a class/type code into a product family.
// Unknown or empty codes yield "".
func CategoryForClassCode(code string) string {
	if code == "" {
		return ""
	}
	c := code[0]
	for _, r := range categoryRanges {
		if c >= r.lo && c <= r.hi {
			return r.category
		}
	}
	return ""
}

// DeriveCategory sets Category from ClassTypeCode.
func (r *Record) DeriveCategory() {
	r.Category = CategoryForClassCode(r.ClassTypeCode)
}

// Link is one entry in the per-worker link queue: a record identifier
// discovered during Phase 1 that still needs (or already received) a detail
// scrape. Deduplicated by TTBID.
type Link struct {
	TTBID     string
	DetailURL string
	Year      int
	Month     int
	Scraped   bool
}

// MonthProgress tracks acquisition state for one calendar month. The
// acquisition engine is its sole writer.
type MonthProgress struct {
	Year            int
	Month           int
	ExpectedLinks   int
	CollectedLinks  int
	LinksVerified   bool
	ScrapedDetails  int
	DetailsVerified bool
	LastError       string
}

// Key renders the YYYY-MM form used in logs and summaries.
func (p MonthProgress) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}
