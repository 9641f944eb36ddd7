package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTotal_PatternFallbackOrder(t *testing.T) {
	tests := []struct {
		name string
		html string
		want int
	}{
		{"primary", `<div>Total Matching Records: 8412</div>`, 8412},
		{"paren form", `<td>1 to 25 of 42300 (Total Matching Records)</td>`, 42300},
		{"range form", `<span>26 to 50 of 2400</span>`, 2400},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTotal(tc.html)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseTotal_ZeroRecordsAnyCasing(t *testing.T) {
	for _, html := range []string{
		`<p>no records found</p>`,
		`<p>No Records Found.</p>`,
		`<p>NO MATCHING RECORDS</p>`,
		`<p>No matching records were returned</p>`,
	} {
		got, err := ParseTotal(html)
		require.NoError(t, err, html)
		assert.Zero(t, got, html)
	}
}

func TestParseTotal_Unparseable(t *testing.T) {
	_, err := ParseTotal(`<html><body>Search Results</body></html>`)
	require.Error(t, err)
	var se *SessionError
	assert.ErrorAs(t, err, &se)
}

const resultsPage = `
<html><body>
<p>1 to 3 of 3 (Total Matching Records)</p>
<table>
<tr class="lt">
  <td><a href="viewColaDetails.do?action=publicFormDisplay&ttbid=13001001000101">13001001000101</a></td>
  <td>ACME LLC</td>
</tr>
<tr class="dk">
  <td><a href="viewColaDetails.do?action=publicFormDisplay&ttbid=13001001000102">13001001000102</a></td>
  <td>BETA CO</td>
</tr>
<tr class="lt">
  <td><a href="viewColaDetails.do?action=publicFormDisplay&ttbid=13001001000103">13001001000103</a></td>
  <td>GAMMA INC</td>
</tr>
<tr><td>header row without class is skipped</td></tr>
</table>
<a href="page2.do">Next</a>
</body></html>`

func TestParseResultRows(t *testing.T) {
	links, err := ParseResultRows(resultsPage)
	require.NoError(t, err)
	require.Len(t, links, 3)
	assert.Equal(t, "13001001000101", links[0].TTBID)
	assert.Contains(t, links[0].DetailURL, "ttbid=13001001000101")
	assert.Equal(t, "13001001000103", links[2].TTBID)
}

func TestHasNextPage(t *testing.T) {
	assert.True(t, HasNextPage(resultsPage))
	lastPage := strings.Replace(resultsPage, ">Next<", ">Previous<", 1)
	assert.False(t, HasNextPage(lastPage))
}

const detailPage = `
<html><body><table>
<tr><td><b>TTB ID:</b> 13001001000101</td></tr>
<tr><td><b>Status:</b> APPROVED</td></tr>
<tr><td><b>Serial Number:</b> 130001</td></tr>
<tr><td><b>Class/Type Code:</b> 901</td></tr>
<tr><td><b>Origin Code:</b> 00</td></tr>
<tr><td><b>Brand Name:</b></td><td>OLD TOM</td></tr>
<tr><td><b>Fanciful Name:</b> WINTER RESERVE</td></tr>
<tr><td><b>Grape Varietal(s):</b> CHARDONNAY</td></tr>
<tr><td><b>Applicant Name:</b> ACME BREWING LLC</td></tr>
<tr><td><b>Phone Number:</b> (555) 123-4567</td></tr>
<tr><td><b>Date of Approval:</b> 01/15/2013</td></tr>
</table></body></html>`

func TestParseDetail(t *testing.T) {
	r, err := ParseDetail("13001001000101", detailPage)
	require.NoError(t, err)

	assert.Equal(t, "13001001000101", r.TTBID)
	assert.Equal(t, "APPROVED", r.Status)
	assert.Equal(t, "130001", r.SerialNumber)
	assert.Equal(t, "901", r.ClassTypeCode)
	// Label alone in its cell: value comes from the sibling cell.
	assert.Equal(t, "OLD TOM", r.BrandName)
	assert.Equal(t, "WINTER RESERVE", r.FancifulName)
	// First candidate label spelling matched.
	assert.Equal(t, "CHARDONNAY", r.GrapeVarietal)
	assert.Equal(t, "ACME BREWING LLC", r.CompanyName)
	assert.Equal(t, "01/15/2013", r.ApprovalDate)
	// Derived fields.
	assert.Equal(t, 2013, r.Year)
	assert.Equal(t, 1, r.Month)
	assert.Equal(t, 15, r.Day)
	assert.Equal(t, "Malt", r.Category)
}

func TestParseDetail_SingularVarietalFallback(t *testing.T) {
	page := strings.Replace(detailPage, "Grape Varietal(s):", "Grape Varietal:", 1)
	r, err := ParseDetail("13001001000101", page)
	require.NoError(t, err)
	assert.Equal(t, "CHARDONNAY", r.GrapeVarietal)
}

func TestParseDetail_NoLabeledCells(t *testing.T) {
	_, err := ParseDetail("13001001000101", `<html><body><p>gone</p></body></html>`)
	assert.Error(t, err)
}

func TestDetectCaptcha(t *testing.T) {
	assert.True(t, DetectCaptcha(`<body>What code is in the image?</body>`))
	assert.True(t, DetectCaptcha(`<body>ACCESS DENIED. Support ID: 123</body>`))
	assert.True(t, DetectCaptcha(`<body><div class="Captcha"></div></body>`))
	assert.False(t, DetectCaptcha(resultsPage))
}

func TestScriptedPrompter(t *testing.T) {
	p := &ScriptedPrompter{Choices: []Choice{ChoiceContinue, ChoiceSkip}}
	c, err := p.Prompt("x")
	require.NoError(t, err)
	assert.Equal(t, ChoiceContinue, c)
	c, _ = p.Prompt("x")
	assert.Equal(t, ChoiceSkip, c)
	// Exhausted script quits rather than hanging a batch run.
	c, _ = p.Prompt("x")
	assert.Equal(t, ChoiceQuit, c)
}

func TestStdinPrompter(t *testing.T) {
	var out strings.Builder
	p := &StdinPrompter{In: strings.NewReader("bogus\nskip\n"), Out: &out}
	c, err := p.Prompt("solve it")
	require.NoError(t, err)
	assert.Equal(t, ChoiceSkip, c)
	assert.Contains(t, out.String(), "answer continue, skip or quit")
}
