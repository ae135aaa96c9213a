// Package gateway delivers follow-up text messages through the WhatsApp
// messaging gateway's HTTP API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zulandar/caboose/internal/phone"
	"golang.org/x/oauth2"
)

// Result describes an accepted send.
type Result struct {
	ID  string
	Raw string
}

// Gateway sends one text message from the given sender instance. delay is a
// typing-delay hint the gateway applies before delivery.
type Gateway interface {
	Send(ctx context.Context, instance, phoneNumber, text string, delay time.Duration) (Result, error)
}

// NormalizePhone returns the digits-only, country-code-prefixed number the
// gateway expects.
func NormalizePhone(raw, countryCode string) string {
	return phone.Normalize(raw, countryCode)
}

// maxRawResponse caps how much of a response body is kept for the log.
const maxRawResponse = 4096

// HTTPConfig configures an HTTPGateway. Instance is used when a send names
// no instance of its own.
type HTTPConfig struct {
	BaseURL  string
	Instance string
	Token    string
	Timeout  time.Duration
}

// HTTPGateway posts to {BaseURL}/message/sendText/{instance}.
type HTTPGateway struct {
	baseURL  string
	instance string
	client   *http.Client
}

// NewHTTP builds an HTTPGateway. A non-empty token is sent as a bearer
// credential on every request.
func NewHTTP(cfg HTTPConfig) (*HTTPGateway, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("gateway: base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("gateway: base URL %q: %w", cfg.BaseURL, err)
	}

	client := &http.Client{}
	if cfg.Token != "" {
		client = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.Token,
			TokenType:   "Bearer",
		}))
	}
	client.Timeout = cfg.Timeout
	return &HTTPGateway{baseURL: cfg.BaseURL, instance: cfg.Instance, client: client}, nil
}

type sendRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
	Delay  int64  `json:"delay,omitempty"`
}

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// Send delivers text to phoneNumber, which must already be normalized.
func (g *HTTPGateway) Send(ctx context.Context, instance, phoneNumber, text string, delay time.Duration) (Result, error) {
	if phoneNumber == "" {
		return Result{}, fmt.Errorf("gateway: empty phone number")
	}
	if instance == "" {
		instance = g.instance
	}
	if instance == "" {
		return Result{}, fmt.Errorf("gateway: no sender instance")
	}
	endpoint, err := url.JoinPath(g.baseURL, "message", "sendText", instance)
	if err != nil {
		return Result{}, fmt.Errorf("gateway: endpoint for %q: %w", instance, err)
	}
	body, err := json.Marshal(sendRequest{Number: phoneNumber, Text: text, Delay: delay.Milliseconds()})
	if err != nil {
		return Result{}, fmt.Errorf("gateway: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("gateway: send to %s: %w", phoneNumber, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRawResponse))
	raw := strings.TrimSpace(string(data))
	if err != nil {
		return Result{Raw: raw}, fmt.Errorf("gateway: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{Raw: raw}, fmt.Errorf("gateway: send to %s: status %d: %s", phoneNumber, resp.StatusCode, raw)
	}

	var parsed sendResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Result{Raw: raw}, nil
	}
	if parsed.Error != "" {
		return Result{Raw: raw}, fmt.Errorf("gateway: send to %s: %s", phoneNumber, parsed.Error)
	}
	id := parsed.Key.ID
	if id == "" {
		id = parsed.ID
	}
	return Result{ID: id, Raw: raw}, nil
}
