package anthropic

import (
	"context"
	"errors"
	"strings"
	"time"

	"recipe-extractor/internal/core/ai/provider"
	"recipe-extractor/internal/infrastructure/config"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultModel = "claude-3-5-haiku-latest"

// Client 以官方 SDK 呼叫 Messages API，供說明文字層使用
type Client struct {
	client    sdk.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewClient 建立客戶端；重試交給呼叫端決定，SDK 本身不重試
func NewClient(cfg config.CaptionConfig) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	return &Client{
		client:    sdk.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		timeout:   cfg.Timeout,
	}
}

// Name 實作 provider.Provider
func (c *Client) Name() string { return "anthropic" }

// Model 使用的模型名稱
func (c *Client) Model() string { return c.model }

// Generate 實作 provider.Provider
func (c *Client) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	blocks := []sdk.ContentBlockParamUnion{sdk.NewTextBlock(req.Prompt)}
	if req.Media != nil && req.Media.Kind == provider.MediaImage {
		for _, u := range req.Media.ImageURLs {
			blocks = append(blocks, sdk.NewImageBlock(sdk.URLImageSourceParam{URL: u}))
		}
	}

	params := sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   int64(maxTokens),
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(blocks...)},
		Temperature: sdk.Float(req.Temperature),
	}
	system := req.System
	if req.JSONMode {
		system = strings.TrimSpace(system + "\nRespond with a single JSON object and nothing else.")
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, c.classify(ctx, err)
	}

	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return nil, &provider.Error{Provider: c.Name(), Kind: provider.KindBadResponse, Message: "empty completion"}
	}

	return &provider.Response{
		Content: text.String(),
		Model:   string(msg.Model),
		Usage: provider.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
		Duration: time.Since(start),
	}, nil
}

func (c *Client) classify(ctx context.Context, err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		pe := provider.FromStatus(c.Name(), apiErr.StatusCode, "")
		pe.Err = err
		return pe
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return provider.FromTransport(c.Name(), ctxErr)
	}
	return provider.FromTransport(c.Name(), err)
}
