package chat

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

	"golang.org/x/oauth2"
)

// ErrUpstream wraps every failure reported by the chat backend.
var ErrUpstream = errors.New("chat: upstream error")

// Config configures a Client.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	// Timeout bounds connecting and receiving response headers. The body of
	// a stream is bounded by the request context only.
	Timeout time.Duration
}

// DefaultConfig returns the OpenAI defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.openai.com",
		Model:       "gpt-3.5-turbo",
		Temperature: 0.7,
		MaxTokens:   2000,
		Timeout:     60 * time.Second,
	}
}

// Client talks to the /v1/chat/completions endpoint.
type Client struct {
	httpClient *http.Client
	cfg        Config
}

// NewClient creates a Client. The API key is attached as a bearer token by
// an oauth2 transport, so it never has to be set per request.
func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	base := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: cfg.Timeout,
			TLSHandshakeTimeout:   10 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	httpClient := base
	if cfg.APIKey != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: cfg.APIKey,
			TokenType:   "Bearer",
		}))
	}

	return &Client{httpClient: httpClient, cfg: cfg}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

// Stream starts a streamed completion. Errors before the first byte of the
// reply are returned directly; later ones arrive as a final Chunk with Err.
// The channel is closed when the reply ends or ctx is cancelled.
func (c *Client) Stream(ctx context.Context, messages []Message) (<-chan Chunk, error) {
	body, err := json.Marshal(completionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chat: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, httpError(resp)
	}

	ch := make(chan Chunk, 16)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		parseStream(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// httpError turns a non-2xx response into an ErrUpstream error, using the
// backend's own message when it sent one.
func httpError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var er errorResponse
	if err := json.Unmarshal(b, &er); err == nil && er.Error.Message != "" {
		return fmt.Errorf("%w: HTTP %d: %s", ErrUpstream, resp.StatusCode, er.Error.Message)
	}
	if msg := strings.TrimSpace(string(b)); msg != "" && len(msg) < 200 {
		return fmt.Errorf("%w: HTTP %d: %s", ErrUpstream, resp.StatusCode, msg)
	}
	return fmt.Errorf("%w: HTTP %d", ErrUpstream, resp.StatusCode)
}
