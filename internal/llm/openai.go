package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DefaultBaseURL points at Groq's OpenAI-compatible endpoint.
const DefaultBaseURL = "https://api.groq.com/openai/v1"

// ClientConfig configures an OpenAIClient.
type ClientConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OpenAIClient talks to any OpenAI-compatible chat completion endpoint.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenAIClient builds a client from cfg. An empty BaseURL means Groq.
func NewOpenAIClient(cfg ClientConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is not set: %w", ErrUnauthorized)
	}
	if cfg.Model == "" {
		return nil, errors.New("model is not set")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = DefaultBaseURL
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	logger.Debug("Initializing generation client",
		zap.String("base_url", oc.BaseURL),
		zap.String("model", cfg.Model))

	return &OpenAIClient{
		client:  openai.NewClientWithConfig(oc),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Generate sends one system and one user message and returns the first choice.
func (c *OpenAIClient) Generate(ctx context.Context, system, user string, opts ...GenerateOption) (string, error) {
	o := ApplyOptions(opts...)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Seed: o.Seed,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Debug("Generation call failed", zap.Int("user_chars", len(user)), zap.Error(err))
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps service errors onto the package sentinels where the failure
// kind is recognisable. Anything else is returned wrapped but unclassified.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusUnauthorized || apiErr.HTTPStatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
		case apiErr.HTTPStatusCode == http.StatusRequestEntityTooLarge || isTooLargeMessage(apiErr.Message) ||
			isTooLargeMessage(fmt.Sprint(apiErr.Code)):
			return fmt.Errorf("%w: %s", ErrInputTooLarge, apiErr.Message)
		}
		return fmt.Errorf("generation failed: %w", err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrUnauthorized, reqErr.Err)
		case http.StatusRequestEntityTooLarge:
			return fmt.Errorf("%w: %v", ErrInputTooLarge, reqErr.Err)
		}
	}
	return fmt.Errorf("generation failed: %w", err)
}

var tooLargeMarkers = []string{
	"context_length_exceeded",
	"context length",
	"maximum context",
	"too large",
	"too long",
	"reduce the length",
}

func isTooLargeMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range tooLargeMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
