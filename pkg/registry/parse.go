// Package registry talks to the public label-approval registry: a browser
// driver for the search UI and a parsing layer for the HTML it returns. The
// parsers are pure functions over page source so they can be tested against
// fixtures without a browser.
package registry

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/colascope/colascope/pkg/cola"
)

// The registry reports the matching-record count in one of several layouts
// depending on result size and page. Tried in order.
var totalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`Total Matching Records:\s*(\d+)`),
	regexp.MustCompile(`of\s+(\d+)\s*\(Total`),
	regexp.MustCompile(`\d+\s+to\s+\d+\s+of\s+(\d+)`),
}

// ParseTotal extracts the declared total-matching-records count from a
// results page. A page that matches none of the known layouts means the
// registry changed shape underneath us.
func ParseTotal(html string) (int, error) {
	for _, re := range totalPatterns {
		if m := re.FindStringSubmatch(html); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			return n, nil
		}
	}
	lower := strings.ToLower(html)
	if strings.Contains(lower, "no records found") ||
		strings.Contains(lower, "no matching records") {
		return 0, nil
	}
	return 0, &SessionError{Op: "parse total", Reason: "total-count line not found in results page"}
}

var ttbIDRe = regexp.MustCompile(`\b\d{14}\b`)

// ParseResultRows extracts (ttb_id, detail_url) pairs from one results page.
// Result rows carry the registry's alternating lt/dk row classes.
func ParseResultRows(html string) ([]cola.Link, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse results page: %w", err)
	}

	var links []cola.Link
	doc.Find("tr.lt, tr.dk").Each(func(_ int, row *goquery.Selection) {
		anchor := row.Find(`a[href*="ttbid="]`).First()
		href, ok := anchor.Attr("href")
		if !ok {
			return
		}
		id := ttbIDFromHref(href)
		if id == "" {
			id = ttbIDRe.FindString(strings.TrimSpace(anchor.Text()))
		}
		if id == "" {
			return
		}
		links = append(links, cola.Link{TTBID: id, DetailURL: href})
	})
	return links, nil
}

func ttbIDFromHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	id := u.Query().Get("ttbid")
	if ttbIDRe.MatchString(id) {
		return id
	}
	return ""
}

// HasNextPage reports whether a results page links to a following page.
func HasNextPage(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	found := false
	doc.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		text := strings.TrimSpace(a.Text())
		if strings.EqualFold(text, "Next") || strings.HasPrefix(text, "Next ") {
			found = true
			return false
		}
		return true
	})
	return found
}

// fieldLabels lists the candidate label spellings for each extracted field,
// tried in order. The registry is not consistent about plurals or spacing,
// so new variants get appended here rather than touching the traversal.
var fieldLabels = []struct {
	assign func(*cola.Record, string)
	labels []string
}{
	{func(r *cola.Record, v string) { r.SerialNumber = v }, []string{"Serial Number:", "Serial #:"}},
	{func(r *cola.Record, v string) { r.VendorCode = v }, []string{"Vendor Code:"}},
	{func(r *cola.Record, v string) { r.Status = v }, []string{"Status:"}},
	{func(r *cola.Record, v string) { r.ClassTypeCode = v }, []string{"Class/Type Code:", "Class Type Code:"}},
	{func(r *cola.Record, v string) { r.OriginCode = v }, []string{"Origin Code:"}},
	{func(r *cola.Record, v string) { r.TypeOfApplication = v }, []string{"Type of Application:"}},
	{func(r *cola.Record, v string) { r.BrandName = v }, []string{"Brand Name:"}},
	{func(r *cola.Record, v string) { r.FancifulName = v }, []string{"Fanciful Name:"}},
	{func(r *cola.Record, v string) { r.Qualifications = v }, []string{"Qualifications:"}},
	{func(r *cola.Record, v string) { r.Formula = v }, []string{"Formula:", "Formula #:"}},
	{func(r *cola.Record, v string) { r.ForSaleIn = v }, []string{"For Sale In:"}},
	{func(r *cola.Record, v string) { r.TotalBottleCapacity = v }, []string{"Total Bottle Capacity:", "Net Contents:"}},
	{func(r *cola.Record, v string) { r.GrapeVarietal = v }, []string{"Grape Varietal(s):", "Grape Varietal:"}},
	{func(r *cola.Record, v string) { r.WineVintage = v }, []string{"Wine Vintage:", "Vintage:"}},
	{func(r *cola.Record, v string) { r.Appellation = v }, []string{"Wine Appellation:", "Appellation:"}},
	{func(r *cola.Record, v string) { r.AlcoholContent = v }, []string{"Alcohol Content:", "Alcohol Content (Percent):"}},
	{func(r *cola.Record, v string) { r.PHLevel = v }, []string{"pH Level:", "pH:"}},
	{func(r *cola.Record, v string) { r.CompanyName = v }, []string{"Applicant Name:", "Company Name:"}},
	{func(r *cola.Record, v string) { r.PlantRegistry = v }, []string{"Plant Registry/Basic Permit/Brewers No.:", "Plant Registry:"}},
	{func(r *cola.Record, v string) { r.Street = v }, []string{"Street:", "Address:"}},
	{func(r *cola.Record, v string) { r.State = v }, []string{"State:"}},
	{func(r *cola.Record, v string) { r.ContactPerson = v }, []string{"Contact Person:", "Contact:"}},
	{func(r *cola.Record, v string) { r.PhoneNumber = v }, []string{"Phone Number:", "Phone:"}},
	{func(r *cola.Record, v string) { r.ApprovalDate = v }, []string{"Date of Approval:", "Approval Date:", "Date Completed:"}},
}

// ParseDetail extracts a full record from one detail page. The traversal is
// label-anchored: locate the bold label cell, take the remainder of the cell
// (or the sibling cell when the label stands alone), strip the label prefix
// case-insensitively. Derived fields (date parts, category) are populated.
func ParseDetail(ttbID, html string) (*cola.Record, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse detail page for %s: %w", ttbID, err)
	}

	var cells []labeledCell
	doc.Find("td").Each(func(_ int, td *goquery.Selection) {
		if td.Find("b, strong").Length() == 0 {
			return
		}
		cells = append(cells, labeledCell{
			text: squashSpace(td.Text()),
			next: squashSpace(td.Next().Text()),
		})
	})
	if len(cells) == 0 {
		return nil, fmt.Errorf("detail page for %s has no labeled cells", ttbID)
	}

	r := &cola.Record{TTBID: ttbID}
	for _, f := range fieldLabels {
		for _, label := range f.labels {
			v, ok := lookupLabel(cells, label)
			if ok {
				f.assign(r, v)
				break
			}
		}
	}
	r.DeriveDate()
	r.DeriveCategory()
	return r, nil
}

type labeledCell struct {
	text string
	next string
}

func lookupLabel(cells []labeledCell, label string) (string, bool) {
	upper := strings.ToUpper(label)
	for _, c := range cells {
		if !strings.HasPrefix(strings.ToUpper(c.text), upper) {
			continue
		}
		v := strings.TrimSpace(c.text[len(label):])
		if v == "" {
			v = c.next
		}
		return v, true
	}
	return "", false
}

var spaceRe = regexp.MustCompile(`\s+`)

func squashSpace(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
