package analyzer

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiJudge calls a Gemini model with JSON output.
type GeminiJudge struct {
	client *genai.Client
	model  string
}

// NewGeminiJudge creates a Gemini-backed judge.
func NewGeminiJudge(ctx context.Context, apiKey, model string) (*GeminiJudge, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("analyzer: gemini API key is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("analyzer: create gemini client: %w", err)
	}
	return &GeminiJudge{client: client, model: model}, nil
}

// Judge sends one request and returns the response text.
func (g *GeminiJudge) Judge(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0.3),
	})
	if err != nil {
		return "", fmt.Errorf("analyzer: gemini generate: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("analyzer: gemini returned an empty response")
	}
	return text, nil
}
