package ai

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/conversational-translator/internal/jsonx"
)

const defaultTimeout = 60 * time.Second

// Client is the HTTP implementation of Provider. It posts a prompt
// assembled from the request and the session context block and returns
// the model's raw text.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient builds a Client against the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("ai"),
	}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// TranslateText asks the model for a full translation envelope.
func (c *Client) TranslateText(ctx context.Context, req TranslateRequest) (string, error) {
	prompt := buildTranslationPrompt(req)
	return c.generate(ctx, prompt)
}

// ExpertResponse asks the model for a direct assistant answer.
func (c *Client) ExpertResponse(ctx context.Context, req ExpertRequest) (string, error) {
	prompt := buildExpertPrompt(req)
	return c.generate(ctx, prompt)
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	payload, err := jsonx.Marshal(generateRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal model request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create model request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call model service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model service error (status %d): %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out generateResponse
	if err := jsonx.Unmarshal(body, &out); err != nil {
		// Some deployments return the model text directly.
		c.logger.Debug("model response is not an envelope, using raw body")
		return string(body), nil
	}
	if out.Error != "" {
		return "", fmt.Errorf("model service reported error: %s", out.Error)
	}

	c.logger.Debug("model call completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("response_len", len(out.Text)))
	return out.Text, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
