// Package notify posts operator alerts about follow-up passes to a chat
// platform (Slack or Discord).
package notify

import (
	"context"
	"fmt"
	"strings"
)

// Notifier delivers one alert.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// Alert is a platform-neutral message with structured fields.
type Alert struct {
	Title    string
	Body     string
	Severity string // "info", "warning", "error"
	Color    string // sidebar color hint, e.g. "#e8a317"
	Fields   []Field
}

// Field is a key-value pair displayed in an alert.
type Field struct {
	Name  string
	Value string
	Short bool
}

// Count is one named counter in a pass report.
type Count struct {
	Name  string
	Value int
}

// Report summarizes one pass for operators.
type Report struct {
	Pass       string // "dispatch" or "intake"
	TenantID   string
	TenantName string
	RunID      string
	DryRun     bool
	Counts     []Count
	Errors     []string
	Exhausted  []string // sessions closed as unresponsive
}

// maxListed caps how many error lines or sessions are included.
const maxListed = 10

var severityColors = map[string]string{
	"info":    "#36a64f",
	"warning": "#e8a317",
	"error":   "#d00000",
}

// FormatReport renders a Report as an Alert.
func FormatReport(r Report) Alert {
	severity := "info"
	if len(r.Errors) > 0 {
		severity = "warning"
	}

	name := r.TenantName
	if name == "" {
		name = r.TenantID
	}
	title := fmt.Sprintf("Follow-up %s pass for %s", r.Pass, name)
	if r.DryRun {
		title += " (dry run)"
	}

	a := Alert{Title: title, Severity: severity, Color: severityColors[severity]}
	for _, c := range r.Counts {
		a.Fields = append(a.Fields, Field{Name: c.Name, Value: fmt.Sprintf("%d", c.Value), Short: true})
	}
	if r.RunID != "" {
		a.Fields = append(a.Fields, Field{Name: "run", Value: r.RunID})
	}

	var body strings.Builder
	if len(r.Exhausted) > 0 {
		fmt.Fprintf(&body, "Closed as unresponsive: %s\n", listed(r.Exhausted))
	}
	if len(r.Errors) > 0 {
		body.WriteString("Errors:\n")
		for i, e := range r.Errors {
			if i == maxListed {
				fmt.Fprintf(&body, "... and %d more\n", len(r.Errors)-maxListed)
				break
			}
			fmt.Fprintf(&body, "- %s\n", e)
		}
	}
	a.Body = strings.TrimSpace(body.String())
	return a
}

func listed(items []string) string {
	if len(items) <= maxListed {
		return strings.Join(items, ", ")
	}
	return fmt.Sprintf("%s and %d more", strings.Join(items[:maxListed], ", "), len(items)-maxListed)
}

// Worth reports whether a pass deserves an alert: it recorded errors or
// closed leads as unresponsive.
func (r Report) Worth() bool {
	return len(r.Errors) > 0 || len(r.Exhausted) > 0
}

// Discard drops every alert.
type Discard struct{}

// Notify implements Notifier.
func (Discard) Notify(context.Context, Alert) error { return nil }
