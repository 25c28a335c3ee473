package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/miradorstack/infra-optimizer/internal/utils"
)

// Config holds connection settings for the hosted completion service.
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	APIVersion  string
	Timeout     time.Duration
	MaxRetries  int
	Temperature float64
}

// Configured reports whether the settings are sufficient to reach the
// service. A key is optional so unauthenticated local deployments work.
func (c Config) Configured() bool {
	return c.Endpoint != ""
}

// Client talks to an OpenAI-compatible chat completion endpoint. Azure-hosted
// deployments are selected by setting APIVersion, which switches the request
// to the api-key header and api-version query parameter.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient builds a completion client from config.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends a system and user prompt and returns the raw assistant reply.
// Transient failures (network errors, 5xx, 429) are retried with exponential
// backoff; other client errors fail immediately.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	const op = "llm.complete"

	if !c.cfg.Configured() {
		return "", utils.E(utils.KindUnavailable, op, "llm endpoint not configured", nil)
	}

	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.cfg.Temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", utils.E(utils.KindInternal, op, "marshal completion request", err)
	}

	endpoint := c.cfg.Endpoint
	if c.cfg.APIVersion != "" {
		u, parseErr := url.Parse(endpoint)
		if parseErr != nil {
			return "", utils.E(utils.KindValidation, op, "invalid llm endpoint", parseErr)
		}
		q := u.Query()
		q.Set("api-version", c.cfg.APIVersion)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", utils.E(utils.KindExternal, op, "completion cancelled", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		reply, retryable, err := c.doRequest(ctx, endpoint, body)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if !retryable {
			return "", err
		}
	}
	return "", utils.E(utils.KindExternal, op, "completion failed after retries", lastErr)
}

func (c *Client) doRequest(ctx context.Context, endpoint string, body []byte) (string, bool, error) {
	const op = "llm.complete"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, utils.E(utils.KindInternal, op, "build completion request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		if c.cfg.APIVersion != "" {
			req.Header.Set("api-key", c.cfg.APIKey)
		} else {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", shouldRetry(err), utils.E(utils.KindExternal, op, "completion request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", true, utils.E(utils.KindExternal, op, "read completion response", err)
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		msg := fmt.Sprintf("completion service returned %d", resp.StatusCode)
		return "", retryable, utils.EDetail(utils.KindExternal, op, msg, strings.TrimSpace(string(data)), nil)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", false, utils.EDetail(utils.KindParse, op, "malformed completion envelope", string(data), err)
	}
	if parsed.Error != nil {
		return "", false, utils.E(utils.KindExternal, op, "completion service error: "+parsed.Error.Message, nil)
	}
	if len(parsed.Choices) == 0 {
		return "", false, utils.EDetail(utils.KindParse, op, "completion reply has no choices", string(data), nil)
	}
	return parsed.Choices[0].Message.Content, false, nil
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * 25 * time.Millisecond
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	return d
}

func shouldRetry(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset")
}

// ExtractJSON pulls the first JSON object out of a model reply, tolerating
// markdown code fences and surrounding prose.
func ExtractJSON(raw string) (string, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end < start {
		return "", fmt.Errorf("no JSON object in reply")
	}
	return cleaned[start : end+1], nil
}
