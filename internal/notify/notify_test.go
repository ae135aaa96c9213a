package notify

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatReport_Info(t *testing.T) {
	a := FormatReport(Report{
		Pass: "dispatch", TenantID: "acme", TenantName: "Acme Imóveis", RunID: "run-1",
		Counts:    []Count{{"sent", 3}, {"errors", 0}},
		Exhausted: []string{"s1", "s2"},
	})
	assert.Equal(t, "Follow-up dispatch pass for Acme Imóveis", a.Title)
	assert.Equal(t, "info", a.Severity)
	assert.Equal(t, "#36a64f", a.Color)
	assert.Equal(t, "Closed as unresponsive: s1, s2", a.Body)
	assert.Len(t, a.Fields, 3)
	assert.Equal(t, Field{Name: "sent", Value: "3", Short: true}, a.Fields[0])
	assert.Equal(t, "run-1", a.Fields[2].Value)
}

func TestFormatReport_ErrorsTruncated(t *testing.T) {
	var errs []string
	for i := 0; i < 13; i++ {
		errs = append(errs, fmt.Sprintf("row %d: gateway timeout", i))
	}
	a := FormatReport(Report{Pass: "dispatch", TenantID: "acme", Errors: errs, DryRun: true})
	assert.Equal(t, "warning", a.Severity)
	assert.True(t, strings.HasSuffix(a.Title, "(dry run)"))
	assert.Contains(t, a.Title, "acme")
	assert.Contains(t, a.Body, "- row 9: gateway timeout")
	assert.NotContains(t, a.Body, "row 10:")
	assert.Contains(t, a.Body, "... and 3 more")
}

func TestReport_Worth(t *testing.T) {
	assert.False(t, Report{}.Worth())
	assert.True(t, Report{Errors: []string{"x"}}.Worth())
	assert.True(t, Report{Exhausted: []string{"s"}}.Worth())
}

func TestListed(t *testing.T) {
	items := make([]string, 12)
	for i := range items {
		items[i] = fmt.Sprintf("s%d", i)
	}
	assert.True(t, strings.HasSuffix(listed(items), "and 2 more"))
}
