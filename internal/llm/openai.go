package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/ragline/ragline/internal/log"
)

const (
	defaultTimeout      = 45 * time.Second
	defaultRetryCount   = 3
	defaultRetryWait    = 500 * time.Millisecond
	defaultRetryWaitMax = 10 * time.Second
	defaultRequestBurst = 1
)

// ClientConfig configures the OpenAI-compatible client.
type ClientConfig struct {
	// BaseURL is the provider root, e.g. "https://api.openai.com/v1".
	BaseURL string

	APIKey string

	// Model is used for chat completions, EmbedModel for embeddings.
	Model      string
	EmbedModel string

	// Timeout bounds one HTTP request. Default 45s.
	Timeout time.Duration

	// RetryCount is the number of retries after the first attempt for
	// transient failures. Default 3.
	RetryCount int

	// RequestsPerSecond throttles outgoing calls before they hit the wire;
	// zero disables throttling.
	RequestsPerSecond float64
}

// Client talks to an OpenAI-compatible HTTP API. It implements Completer and
// Embedder.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	logger  log.Logger

	model      string
	embedModel string
}

// NewClient validates cfg and builds the HTTP client with retry on transient
// failures (429, 5xx, network errors) and exponential wait between attempts.
func NewClient(cfg ClientConfig, logger log.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryCount < 0 {
		cfg.RetryCount = 0
	} else if cfg.RetryCount == 0 {
		cfg.RetryCount = defaultRetryCount
	}

	httpClient := resty.New()
	httpClient.SetBaseURL(cfg.BaseURL)
	httpClient.SetAuthToken(cfg.APIKey)
	httpClient.SetHeader("User-Agent", "ragline")
	httpClient.SetTimeout(cfg.Timeout)
	httpClient.SetRetryCount(cfg.RetryCount)
	httpClient.SetRetryWaitTime(defaultRetryWait)
	httpClient.SetRetryMaxWaitTime(defaultRetryWaitMax)
	httpClient.AddRetryCondition(func(response *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		switch response.StatusCode() {
		case
			http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	})

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), defaultRequestBurst)
	}

	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{
		http:       httpClient,
		limiter:    limiter,
		logger:     logger,
		model:      cfg.Model,
		embedModel: cfg.EmbedModel,
	}, nil
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// apiError is the provider's error envelope.
type apiError struct {
	Err struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (e apiError) message() string {
	if e.Err.Message == "" {
		return "unknown provider error"
	}
	return e.Err.Message
}

// Complete implements Completer.
func (c *Client) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	if len(messages) == 0 {
		return nil, ErrNoMessages
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		out    chatResponse
		apiErr apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{Model: c.model, Messages: messages}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("chat completion request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("chat completion: %s: %s", resp.Status(), apiErr.message())
	}
	if len(out.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	c.logger.Debug("chat completion",
		"model", out.Model,
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens,
		"elapsed", time.Since(start),
	)

	return &Completion{
		Content: out.Choices[0].Message.Content,
		Model:   out.Model,
		Usage:   out.Usage,
	}, nil
}

// Embed implements Embedder. The provider is asked for all texts in one
// request; vectors come back in input order.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	var (
		out    embedResponse
		apiErr apiError
	)
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(embedRequest{Model: c.embedModel, Input: texts}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/embeddings")
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("embeddings: %s: %s", resp.Status(), apiErr.message())
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmptyEmbedding, len(out.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range out.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embeddings: index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// wait blocks until the rate limiter admits another request.
func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}
