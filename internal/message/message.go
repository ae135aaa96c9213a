// Package message composes the outbound follow-up text from either the
// analyzer's message or the numbered fallback template.
package message

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Source records where an outbound text came from.
type Source string

const (
	SourceAI       Source = "ai"
	SourceTemplate Source = "template"
)

// DefaultMaxLength is the gateway text limit in runes.
const DefaultMaxLength = 4096

var placeholders = []string{"{{name}}", "{{ name }}", "{name}"}

// Selector holds one fallback template per escalation stage.
type Selector struct {
	templates []string
	maxLen    int
}

// NewSelector checks that a non-empty template exists for every attempt
// 1..stages. Extra templates are ignored. maxLen <= 0 uses DefaultMaxLength.
func NewSelector(templates []string, stages, maxLen int) (*Selector, error) {
	if stages <= 0 {
		return nil, fmt.Errorf("message: stages must be positive, got %d", stages)
	}
	var missing []string
	for i := 0; i < stages; i++ {
		if i >= len(templates) || strings.TrimSpace(templates[i]) == "" {
			missing = append(missing, fmt.Sprintf("%d", i+1))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("message: no fallback template for attempt(s) %s", strings.Join(missing, ", "))
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	return &Selector{templates: append([]string(nil), templates[:stages]...), maxLen: maxLen}, nil
}

// Stages returns the number of templates.
func (s *Selector) Stages() int { return len(s.templates) }

// Template returns the raw fallback template for attempt (1-based).
func (s *Selector) Template(attempt int) (string, bool) {
	if attempt < 1 || attempt > len(s.templates) {
		return "", false
	}
	return s.templates[attempt-1], true
}

// Select returns the text to send for attempt. The AI message wins when it
// is non-empty after sanitizing; otherwise the template for attempt is used.
// The lead name placeholder is substituted in both.
func (s *Selector) Select(aiMessage string, attempt int, leadName string) (string, Source, error) {
	if text := s.finish(aiMessage, leadName); text != "" {
		return text, SourceAI, nil
	}
	tmpl, ok := s.Template(attempt)
	if !ok {
		return "", SourceTemplate, fmt.Errorf("message: attempt %d is outside 1..%d", attempt, len(s.templates))
	}
	text := s.finish(tmpl, leadName)
	if text == "" {
		return "", SourceTemplate, fmt.Errorf("message: template %d is empty after substitution", attempt)
	}
	return text, SourceTemplate, nil
}

func (s *Selector) finish(text, leadName string) string {
	text = Substitute(text, leadName)
	return Truncate(Sanitize(text), s.maxLen)
}

// Substitute replaces the name placeholder. With no name the placeholder is
// dropped and the surrounding whitespace and punctuation tidied.
func Substitute(text, leadName string) string {
	name := strings.TrimSpace(firstName(leadName))
	for _, p := range placeholders {
		text = strings.ReplaceAll(text, p, name)
	}
	if name != "" {
		return text
	}
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		for _, punct := range []string{",", "!", "?", "."} {
			line = strings.ReplaceAll(line, " "+punct, punct)
		}
		lines[i] = strings.TrimLeft(line, ",;: ")
	}
	return strings.Join(lines, "\n")
}

// firstName keeps only the first word of a full name.
func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Sanitize trims the text and strips control characters other than
// newline and tab.
func Sanitize(text string) string {
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(text)
}

// Truncate cuts text to at most maxLen runes.
func Truncate(text string, maxLen int) string {
	if maxLen <= 0 || utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:maxLen]))
}
