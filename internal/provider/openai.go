// Package provider implements content providers for the drafter.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	appErrors "github.com/unclebandit/campaign-consent/internal/errors"
)

const DefaultEndpoint = "https://api.openai.com/v1/chat/completions"

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// OpenAIClient generates drafts through a chat-completions endpoint. It makes
// exactly one HTTP request per call; the caller owns retries and timeouts.
type OpenAIClient struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
}

func NewOpenAIClient(apiKey, model, endpoint string) *OpenAIClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &OpenAIClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: endpoint,
		client:   &http.Client{},
	}
}

const systemPrompt = "You write concise, friendly marketing emails. Keep placeholders in curly braces exactly as given."

func (c *OpenAIClient) Generate(ctx context.Context, prompt string, meta map[string]string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt + contextLine(meta)},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("openai: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", appErrors.NewQuotaExceeded(
			fmt.Sprintf("openai: %s", errorMessage(resp.Body, "rate limited")),
			retryAfter(resp.Header.Get("Retry-After")))
	}
	if resp.StatusCode != http.StatusOK {
		return "", appErrors.NewProviderError(appErrors.ProviderFailure,
			fmt.Sprintf("openai error: %d %s", resp.StatusCode, errorMessage(resp.Body, "")), nil)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai: empty choices in response")
	}
	return out.Choices[0].Message.Content, nil
}

func contextLine(meta map[string]string) string {
	if len(meta) == 0 {
		return ""
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+meta[k])
	}
	return " Request context: " + strings.Join(parts, ", ") + "."
}

func errorMessage(body io.Reader, fallback string) string {
	var out chatResponse
	if err := json.NewDecoder(io.LimitReader(body, 64<<10)).Decode(&out); err == nil && out.Error != nil && out.Error.Message != "" {
		return out.Error.Message
	}
	return fallback
}

// retryAfter accepts delta-seconds or an HTTP date.
func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
