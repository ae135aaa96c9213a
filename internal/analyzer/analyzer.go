// Package analyzer asks an AI judge whether a follow-up should go out and,
// optionally, what it should say. The judge is advisory: any failure yields
// a degraded decision that still sends the fallback template.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/zulandar/caboose/internal/models"
)

// Judge performs one structured request and returns the raw response text.
type Judge interface {
	Judge(ctx context.Context, system, prompt string) (string, error)
}

// Input is the context handed to the judge.
type Input struct {
	LeadName          string
	LastMessage       string
	Transcript        []models.Turn
	Attempt           int
	MaxAttempts       int
	LastInteractionAt time.Time
	FunnelStage       string
}

// Decision is the judge's verdict. A Degraded decision always has
// ShouldSend set and an empty Message.
type Decision struct {
	ShouldSend bool
	Message    string
	Reasoning  string
	Sentiment  string
	Urgency    string
	Degraded   bool
}

// Degraded builds the decision used when the judge cannot be consulted.
func Degraded(cause string) Decision {
	return Decision{
		ShouldSend: true,
		Reasoning:  "analyzer degraded: " + cause,
		Degraded:   true,
	}
}

const responseSchema = `{
  "type": "object",
  "required": ["should_send", "reasoning"],
  "properties": {
    "should_send": {"type": "boolean"},
    "message": {"type": ["string", "null"]},
    "reasoning": {"type": "string"},
    "sentiment": {"type": "string"},
    "urgency": {"type": "string"}
  }
}`

type response struct {
	ShouldSend bool    `json:"should_send"`
	Message    *string `json:"message"`
	Reasoning  string  `json:"reasoning"`
	Sentiment  string  `json:"sentiment"`
	Urgency    string  `json:"urgency"`
}

// Analyzer wraps a Judge with a timeout, a response schema and the
// fail-soft contract.
type Analyzer struct {
	judge   Judge
	timeout time.Duration
	schema  *jsonschema.Schema
	logger  *slog.Logger
}

// New builds an Analyzer. A nil judge disables the AI step; every decision
// is then degraded.
func New(judge Judge, timeout time.Duration, logger *slog.Logger) (*Analyzer, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(responseSchema))
	if err != nil {
		return nil, fmt.Errorf("analyzer: unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("decision.json", doc); err != nil {
		return nil, fmt.Errorf("analyzer: add schema resource: %w", err)
	}
	schema, err := c.Compile("decision.json")
	if err != nil {
		return nil, fmt.Errorf("analyzer: compile schema: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Analyzer{judge: judge, timeout: timeout, schema: schema, logger: logger}, nil
}

// Enabled reports whether a judge is configured.
func (a *Analyzer) Enabled() bool { return a.judge != nil }

// Analyze consults the judge. It never returns an error.
func (a *Analyzer) Analyze(ctx context.Context, in Input) Decision {
	if a.judge == nil {
		return Degraded("disabled")
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	raw, err := a.judge.Judge(ctx, systemPrompt, buildPrompt(in))
	if err != nil {
		a.logger.Warn("analyzer unavailable", "attempt", in.Attempt, "error", err)
		return Degraded(err.Error())
	}

	d, err := a.parse(raw)
	if err != nil {
		a.logger.Warn("analyzer returned malformed output", "attempt", in.Attempt, "error", err)
		return Degraded(err.Error())
	}
	return d
}

func (a *Analyzer) parse(raw string) (Decision, error) {
	body := extractJSON(raw)
	if body == "" {
		return Decision{}, fmt.Errorf("no JSON object in response")
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(body))
	if err != nil {
		return Decision{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := a.schema.Validate(doc); err != nil {
		return Decision{}, fmt.Errorf("schema validation failed: %w", err)
	}

	var r response
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return Decision{}, fmt.Errorf("decode response: %w", err)
	}
	d := Decision{
		ShouldSend: r.ShouldSend,
		Reasoning:  strings.TrimSpace(r.Reasoning),
		Sentiment:  strings.TrimSpace(r.Sentiment),
		Urgency:    strings.TrimSpace(r.Urgency),
	}
	if r.Message != nil {
		d.Message = strings.TrimSpace(*r.Message)
	}
	return d, nil
}

// extractJSON returns the outermost JSON object in text, tolerating code
// fences and surrounding prose.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
