package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"mailmaestro/internal/config"
	"mailmaestro/internal/logger"
	"mailmaestro/pkg/circuitbreaker"
	"mailmaestro/pkg/metrics"
)

// Completer is the language-model collaborator: one prompt in, one text
// completion out. No streaming.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	limiter    *rate.Limiter
	breaker    *circuitbreaker.Wrapper
	logger     logger.Logger
}

func NewClient(cfg config.LLMConfig, cbCfg config.CircuitBreakerConfig, log logger.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	} else if timeout < time.Second {
		// Config carries seconds; viper leaves bare ints unscaled.
		timeout *= time.Second
	}

	rps := cfg.RequestsPerMinute / 60.0
	if rps <= 0 {
		rps = 0.5
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}

	var breaker *circuitbreaker.Wrapper
	if cbCfg.Enabled {
		bc := circuitbreaker.DefaultConfig("llm")
		if cbCfg.MaxRequests > 0 {
			bc.MaxRequests = cbCfg.MaxRequests
		}
		if cbCfg.Interval > 0 {
			bc.Interval = cbCfg.Interval
		}
		if cbCfg.Timeout > 0 {
			bc.Timeout = cbCfg.Timeout
		}
		breaker = circuitbreaker.NewWrapper(bc)
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		breaker:    breaker,
		logger:     log,
	}
}

func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter wait: %w", err)
	}

	start := time.Now()

	var result string
	var err error
	if c.breaker != nil {
		var out interface{}
		out, err = c.breaker.ExecuteWithContext(ctx, func() (interface{}, error) {
			return c.complete(ctx, prompt)
		})
		if err == nil {
			result = out.(string)
		}
	} else {
		result, err = c.complete(ctx, prompt)
	}

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.ObserveCompletion(status, time.Since(start))

	if err != nil {
		return "", err
	}
	return result, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := chatRequest{
		Model:     c.model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		Stream:    false,
		MaxTokens: c.maxTokens,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("completion API error %d: %s", resp.StatusCode, b)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(chat.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}

	return strings.TrimSpace(chat.Choices[0].Message.Content), nil
}
