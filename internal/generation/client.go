package generation

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

	"github.com/JakeFAU/rankyak-pipeline/internal/content"
)

const (
	defaultBaseURL     = "https://api.openai.com/v1/chat/completions"
	defaultHTTPTimeout = 90 * time.Second
	jsonResponseType   = "json_object"

	systemPrompt = `You write long-form SEO articles. Respond with JSON only, shaped as
{"title":"","body":"","meta_title":"","meta_description":""}. The body is markdown
with H2 sections, at least one internal link to the site and one external source.`
)

// Config captures the settings required to talk to an OpenAI-compatible API.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// Client is a Generator backed by a chat completion endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient constructs a client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	c := &Client{
		cfg: Config{
			APIKey:  strings.TrimSpace(cfg.APIKey),
			BaseURL: strings.TrimSpace(cfg.BaseURL),
			Model:   strings.TrimSpace(cfg.Model),
			Timeout: timeout,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.BaseURL == "" {
		c.cfg.BaseURL = defaultBaseURL
	}
	return c
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Generate implements Generator.
func (c *Client) Generate(ctx context.Context, brief Brief) (Draft, error) {
	if c.cfg.APIKey == "" {
		return Draft{}, content.Errorf(content.CodeValidationFailed, "generate", "api key required")
	}
	language := brief.Project.Language
	if language == "" {
		language = "en"
	}
	user := fmt.Sprintf("Keyword: %s\nLanguage: %s\nSite: %s (%s)\nSearch volume: %d\nDifficulty: %d",
		brief.Keyword.Text, language, brief.Project.Name, brief.Project.WebsiteURL,
		brief.Keyword.SearchVolume, brief.Keyword.Difficulty)
	payload := chatCompletionRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature:    0.7,
		ResponseFormat: map[string]string{"type": jsonResponseType},
	}
	raw, err := c.complete(ctx, payload)
	if err != nil {
		return Draft{}, err
	}
	var draft Draft
	if err := DecodeJSON(raw, &draft); err != nil {
		return Draft{}, fmt.Errorf("generate: parse payload: %w", err)
	}
	if err := draft.Validate(); err != nil {
		return Draft{}, err
	}
	return draft, nil
}

func (c *Client) complete(ctx context.Context, payload chatCompletionRequest) (string, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("generate: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("generate: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate: http error (timeout=%s): %w", c.cfg.Timeout, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("generate: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", statusError(resp.StatusCode, body)
	}
	var completion chatCompletionResponse
	if err := json.Unmarshal(body, &completion); err != nil {
		return "", fmt.Errorf("generate: decode response: %w", err)
	}
	if completion.Error != nil {
		return "", fmt.Errorf("generate: api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	for _, choice := range completion.Choices {
		if text := strings.TrimSpace(choice.Message.Content); text != "" {
			return text, nil
		}
	}
	return "", errors.New("generate: empty completion")
}

// statusError keeps 408, 429 and 5xx retryable and treats other 4xx as
// configuration faults.
func statusError(status int, body []byte) error {
	msg := fmt.Sprintf("http %d: %s", status, strings.TrimSpace(string(body)))
	if status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("generate: %s", msg)
	}
	return content.Errorf(content.CodeValidationFailed, "generate", "%s", msg)
}

// DecodeJSON decodes model output, tolerating code fences and chatter
// around the JSON object.
func DecodeJSON(raw string, target any) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}
	sanitized := stripCodeFence(trimmed)
	if start := strings.Index(sanitized, "{"); start >= 0 {
		if end := strings.LastIndex(sanitized, "}"); end > start {
			sanitized = sanitized[start : end+1]
		}
	}
	if sanitized == trimmed {
		return directErr
	}
	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return fmt.Errorf("decode sanitized payload: %w", err)
	}
	return nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	body := strings.TrimLeft(s[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
