// Package ollama wraps the Ollama API for embeddings and chat generation.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// Client talks to one Ollama server with fixed embedding and chat models.
type Client struct {
	api         *api.Client
	embedModel  string
	chatModel   string
	temperature float64
	numPredict  int
}

// Option configures a Client.
type Option func(*Client)

// WithTemperature sets the sampling temperature for chat.
func WithTemperature(t float64) Option { return func(c *Client) { c.temperature = t } }

// WithMaxTokens caps the generated tokens (num_predict).
func WithMaxTokens(n int) Option { return func(c *Client) { c.numPredict = n } }

// New creates a client for baseURL, e.g. http://localhost:11434.
func New(baseURL, embedModel, chatModel string, httpClient *http.Client, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ollama: parse url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		api:         api.NewClient(u, httpClient),
		embedModel:  embedModel,
		chatModel:   chatModel,
		temperature: 0.2,
		numPredict:  512,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Embed returns one vector per input text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := c.api.Embed(ctx, &api.EmbedRequest{Model: c.embedModel, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

// Chat sends a system + user exchange and returns the assistant text.
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	stream := false
	req := &api.ChatRequest{
		Model: c.chatModel,
		Messages: []api.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream: &stream,
		Options: map[string]any{
			"temperature": c.temperature,
			"num_predict": c.numPredict,
		},
	}

	var out strings.Builder
	err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", errors.New("ollama chat: empty response")
	}
	return text, nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.Version(ctx); err != nil {
		return fmt.Errorf("ollama: ping: %w", err)
	}
	return nil
}
