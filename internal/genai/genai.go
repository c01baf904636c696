// Package genai provides the OpenAI chat completion client behind IntakeDesk's semantic
// capabilities. Calls are rate limited, bounded by a timeout and retried once.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"golang.org/x/time/rate"

	"github.com/BTreeMap/IntakeDesk/internal/models"
)

// Defaults for the client configuration.
const (
	DefaultModel       = string(shared.ChatModelGPT4oMini)
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 600
	DefaultTimeout     = 8 * time.Second
	DefaultRatePerSec  = 5.0
	DefaultBurst       = 5
)

var (
	// ErrMissingAPIKey is returned when no key is configured.
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY not set")
	// ErrNoChoicesReturned is returned when the completion has no choices.
	ErrNoChoicesReturned = errors.New("no choices returned")
)

// chatService is the part of the OpenAI SDK the client uses.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// ClientInterface is what the semantic adapters depend on.
type ClientInterface interface {
	GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	GenerateJSON(ctx context.Context, systemPrompt string, input any, out any) error
}

// Opts holds client configuration.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	RatePerSec  float64
	Burst       int
}

// Option configures a Client.
type Option func(*Opts)

// WithAPIKey sets the API key. Without it OPENAI_API_KEY is used.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens bounds the completion length.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithTimeout bounds each attempt.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithRateLimit sets the sustained request rate and burst.
func WithRateLimit(perSec float64, burst int) Option {
	return func(o *Opts) {
		o.RatePerSec = perSec
		o.Burst = burst
	}
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	limiter     *rate.Limiter
}

var _ ClientInterface = (*Client)(nil)

// NewClient initializes a client. The key comes from WithAPIKey or OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	o := Opts{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     DefaultTimeout,
		RatePerSec:  DefaultRatePerSec,
		Burst:       DefaultBurst,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.APIKey == "" {
		o.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if o.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(o.APIKey), option.WithMaxRetries(0)}
	if o.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	return newClient(&cli.Chat.Completions, o), nil
}

func newClient(chat chatService, o Opts) *Client {
	if o.Model == "" {
		o.Model = DefaultModel
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	limit := rate.Inf
	if o.RatePerSec > 0 {
		limit = rate.Limit(o.RatePerSec)
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	return &Client{
		chat:        chat,
		model:       o.Model,
		temperature: o.Temperature,
		maxTokens:   o.MaxTokens,
		timeout:     o.Timeout,
		limiter:     rate.NewLimiter(limit, o.Burst),
	}
}

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(systemPrompt, userPrompt string) (string, error) {
	return c.GeneratePromptWithContext(context.Background(), systemPrompt, userPrompt)
}

// GeneratePromptWithContext generates a plain text completion.
func (c *Client) GeneratePromptWithContext(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return c.complete(ctx, c.params(systemPrompt, userPrompt, false))
}

// GenerateJSON sends input as JSON, requests a JSON object back and decodes it into out.
// Transport failures wrap models.ErrCapabilityUnavailable; undecodable output wraps
// models.ErrMalformedCapabilityResponse.
func (c *Client) GenerateJSON(ctx context.Context, systemPrompt string, input any, out any) error {
	payload, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	content, err := c.complete(ctx, c.params(systemPrompt, "[INPUT JSON]\n"+string(payload), true))
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFence(content)), out); err != nil {
		return fmt.Errorf("%w: %v", models.ErrMalformedCapabilityResponse, err)
	}
	return nil
}

func (c *Client) params(systemPrompt, userPrompt string, jsonMode bool) openai.ChatCompletionNewParams {
	p := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		p.MaxCompletionTokens = openai.Int(int64(c.maxTokens))
	}
	if jsonMode {
		p.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	return p
}

// complete runs one call with a single retry. Context cancellation is never retried.
func (c *Client) complete(ctx context.Context, p openai.ChatCompletionNewParams) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: %v", models.ErrCapabilityUnavailable, err)
		}
		content, err := c.attempt(ctx, p)
		if err == nil {
			return content, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, ErrNoChoicesReturned) {
			break
		}
		slog.Debug("genai.Client: retrying completion", "attempt", attempt+1, "error", err)
	}
	if errors.Is(lastErr, ErrNoChoicesReturned) {
		return "", lastErr
	}
	return "", fmt.Errorf("%w: %v", models.ErrCapabilityUnavailable, lastErr)
}

func (c *Client) attempt(ctx context.Context, p openai.ChatCompletionNewParams) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	resp, err := c.chat.New(ctx, p)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	slog.Debug("genai.Client: completion", "model", c.model, "duration", time.Since(start), "tokens", resp.Usage.TotalTokens)
	return resp.Choices[0].Message.Content, nil
}

// stripFence removes a Markdown code fence some models wrap around JSON output.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
