// Package infra_generator calls the chat-completions collaborator that
// produces ranked item lists. Model output is treated as untrusted: the
// response text goes through extraction and the sanitizing constructor, and
// anything that still fails is a hard error for the caller to retry.
package infra_generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rankparty/core/internal/config"
	"github.com/rankparty/core/internal/model"
)

const maxAttempts = 2

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

type ClientOption func(*Client)

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func New(cfg config.Generator, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// GenerateItems asks the model for exactly count items. The second attempt
// runs at a lower temperature; between attempts we back off linearly.
func (c *Client) GenerateItems(ctx context.Context, prompt string, count int) ([]model.Item, error) {
	count = model.ClampItemCount(count)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		temperature := 0.4
		if attempt > 1 {
			temperature = 0.3
		}

		items, err := c.generate(ctx, prompt, count, temperature)
		if err == nil {
			return items, nil
		}
		lastErr = err
		c.logger.Warn("generation attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		if attempt < maxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (c *Client) generate(ctx context.Context, prompt string, count int, temperature float64) ([]model.Item, error) {
	payload := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(count)},
			{Role: "user", Content: userPrompt(prompt, count)},
		},
		MaxTokens:   2500,
		Temperature: temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("generator returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("generator returned no choices")
	}

	var items []model.Item
	extracted := extractJSONArray(parsed.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(extracted), &items); err != nil {
		return nil, fmt.Errorf("failed to parse generated items: %w", err)
	}

	return model.SanitizeItems(items, count)
}

var (
	codeFenceRe      = regexp.MustCompile("(?s)```(?:json)?\\s*(\\[.*?\\])\\s*```")
	trailingCommaRe  = regexp.MustCompile(`,\s*([\]}])`)
	leadingChatterRe = regexp.MustCompile(`(?i)^\s*Here'?s?\s+(?:the|your).*?:\s*`)
)

// extractJSONArray digs the item array out of whatever prose the model
// wrapped it in: markdown fences first, then the outermost bracket pair,
// then trailing-comma cleanup.
func extractJSONArray(text string) string {
	text = strings.TrimSpace(text)
	text = leadingChatterRe.ReplaceAllString(text, "")

	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return trailingCommaRe.ReplaceAllString(text, "$1")
}

func systemPrompt(count int) string {
	return fmt.Sprintf(`You are an expert ranking game generator.

Return ONLY a valid JSON array with EXACTLY %d items, no markdown, no prose.
Each item: {"id": 1..%d, "title": string, "years": string, "image": single emoji, "viewershipRank": 1..%d, "description": one sentence, "fact": specific statistic}.
viewershipRank must be a permutation of 1..%d where 1 is the most popular.
Rankings reflect real-world popularity and acclaim, not arbitrary order.
Facts must be specific numbers or achievements, never vague statements.`, count, count, count, count)
}

func userPrompt(prompt string, count int) string {
	return fmt.Sprintf(`Generate a ranking game with exactly %d items for the topic: %q

Begin your response with [ and end with ]`, count, prompt)
}
