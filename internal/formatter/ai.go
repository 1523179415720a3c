package formatter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/funding-crawler/internal/crawler"
	"github.com/JakeFAU/funding-crawler/internal/policy/ratelimit"
)

// Defaults for the chat-completion client.
const (
	DefaultBaseURL     = "https://api.deepseek.com/v1"
	DefaultModel       = "deepseek-chat"
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 2000
	DefaultTimeout     = 30 * time.Second
)

// Fallback reasons, each wrapping crawler.ErrAIFormat.
var (
	errMissingKey = fmt.Errorf("%w: api key not configured", crawler.ErrAIFormat)
	errTransport  = fmt.Errorf("%w: transport", crawler.ErrAIFormat)
	errStatus     = fmt.Errorf("%w: non-200 response", crawler.ErrAIFormat)
	errNoChoices  = fmt.Errorf("%w: response has no choices", crawler.ErrAIFormat)
	errNoArray    = fmt.Errorf("%w: no bracketed array in content", crawler.ErrAIFormat)
	errDecode     = fmt.Errorf("%w: undecodable content", crawler.ErrAIFormat)
)

// reason maps an AI failure to a short metrics label.
func reason(err error) string {
	switch {
	case errors.Is(err, errMissingKey):
		return "missing_key"
	case errors.Is(err, errStatus):
		return "status"
	case errors.Is(err, errNoChoices):
		return "no_choices"
	case errors.Is(err, errNoArray):
		return "no_array"
	case errors.Is(err, errDecode):
		return "decode"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}

// ClientConfig configures the chat-completion client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	// RPS caps outbound calls. Zero disables limiting.
	RPS float64
}

// Client calls an OpenAI-compatible chat-completions endpoint.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// NewClient applies defaults and returns a Client. An empty APIKey is allowed;
// every Complete call then fails fast so the heuristic takes over.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RPS}),
		logger:  logger.Named("ai"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt as a single user message and returns the first
// choice's content.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if c.cfg.APIKey == "" {
		return "", errMissingKey
	}
	endpoint := c.cfg.BaseURL + "/chat/completions"
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return "", fmt.Errorf("%w: %w", errTransport, err)
	}

	payload, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: marshal request: %w", errTransport, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", errTransport, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errTransport, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", errStatus, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("%w: response envelope: %w", errDecode, err)
	}
	if len(decoded.Choices) == 0 {
		return "", errNoChoices
	}
	c.logger.Debug("completion received",
		zap.String("model", c.cfg.Model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("content_bytes", len(decoded.Choices[0].Message.Content)),
	)
	return decoded.Choices[0].Message.Content, nil
}
