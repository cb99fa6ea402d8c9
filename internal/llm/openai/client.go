// Package openai implements llm.Provider using the OpenAI-compatible
// protocol. Works with any endpoint that supports the OpenAI chat
// completions API, including fully local servers.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/localhive/localhive/internal/llm"
	openailib "github.com/sashabaranov/go-openai"
)

// Client implements llm.Provider against an OpenAI-compatible endpoint.
type Client struct {
	client *openailib.Client
	config *Config
}

// GetConfig returns the client's configuration.
func (c *Client) GetConfig() *Config {
	return c.config
}

// NewClient creates a new OpenAI-compatible client.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	clientConfig := openailib.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	// Prevent indefinite hangs when the endpoint is unresponsive. Default is
	// generous because local models can be slow to produce the first token.
	httpTimeout := time.Duration(config.HTTPTimeout) * time.Second
	clientConfig.HTTPClient = &http.Client{Timeout: httpTimeout}

	return &Client{
		client: openailib.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// NewClientFromEnv creates a client using environment variables.
func NewClientFromEnv() (*Client, error) {
	config, err := NewConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	return NewClient(config)
}

func (c *Client) buildRequest(messages []llm.Message, opts llm.Options, stream bool) openailib.ChatCompletionRequest {
	openaiMsgs := make([]openailib.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		openaiMsgs[i] = openailib.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	model := c.config.Model
	if opts.Model != "" {
		model = opts.Model
	}
	req := openailib.ChatCompletionRequest{
		Model:    model,
		Messages: openaiMsgs,
		Stream:   stream,
	}
	switch {
	case opts.Temperature != nil:
		req.Temperature = *opts.Temperature
	case c.config.Temperature != nil:
		req.Temperature = *c.config.Temperature
	}
	switch {
	case opts.MaxTokens > 0:
		req.MaxTokens = opts.MaxTokens
	case c.config.MaxTokens > 0:
		req.MaxTokens = c.config.MaxTokens
	}
	return req
}

// Generate sends messages to the model and returns the complete response.
func (c *Client) Generate(ctx context.Context, messages []llm.Message, opts llm.Options) (llm.Response, error) {
	if len(messages) == 0 {
		return llm.Response{}, fmt.Errorf("no messages to send")
	}

	req := c.buildRequest(messages, opts, false)
	started := time.Now()

	// Execute with retries; every error is retried, transient or not.
	var resp openailib.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		resp, lastErr = c.client.CreateChatCompletion(ctx, req)
		if lastErr == nil {
			break
		}
		if attempt < c.config.MaxRetries {
			wait := time.Duration(attempt+1) * time.Second
			log.Printf("[LLM] Retry %d/%d after %v, error: %v", attempt+1, c.config.MaxRetries, wait, lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return llm.Response{}, ctx.Err()
			}
		}
	}
	if lastErr != nil {
		return llm.Response{}, fmt.Errorf("LLM call failed after %d retries: %w", c.config.MaxRetries, lastErr)
	}
	if len(resp.Choices) == 0 {
		return llm.Response{}, fmt.Errorf("no choices returned from LLM")
	}

	return llm.Response{
		Content:    resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
		LatencyMS:  time.Since(started).Milliseconds(),
		Metadata:   map[string]string{"model": req.Model, "provider": c.Name()},
	}, nil
}

// Stream sends messages and streams the response token-by-token.
// Each delta chunk triggers the onChunk callback. Returns the full assembled
// response once streaming finishes.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, opts llm.Options, onChunk llm.StreamCallback) (llm.Response, error) {
	// Fall back to synchronous call when no callback is provided.
	if onChunk == nil {
		return c.Generate(ctx, messages, opts)
	}
	if len(messages) == 0 {
		return llm.Response{}, fmt.Errorf("no messages to send")
	}

	req := c.buildRequest(messages, opts, true)
	started := time.Now()

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		// Fall back to synchronous call on stream creation failure.
		log.Printf("[LLM] Stream creation failed, falling back to sync: %v", err)
		return c.Generate(ctx, messages, opts)
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunkResp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// If we have partial content, return it rather than losing the turn.
			if sb.Len() > 0 {
				log.Printf("[LLM] Stream interrupted after %d chars: %v", sb.Len(), err)
				break
			}
			return llm.Response{}, fmt.Errorf("stream recv error: %w", err)
		}
		if len(chunkResp.Choices) > 0 {
			if delta := chunkResp.Choices[0].Delta.Content; delta != "" {
				sb.WriteString(delta)
				onChunk(delta)
			}
		}
	}

	return llm.Response{
		Content:   sb.String(),
		LatencyMS: time.Since(started).Milliseconds(),
		Metadata:  map[string]string{"model": req.Model, "provider": c.Name()},
	}, nil
}

// Name returns the provider name.
func (c *Client) Name() string {
	return fmt.Sprintf("openai-compatible (%s)", c.config.Model)
}
