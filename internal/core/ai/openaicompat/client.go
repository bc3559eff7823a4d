package openaicompat

import (
	"context"
	"errors"
	"strings"
	"time"

	"recipe-extractor/internal/core/ai/provider"
	"recipe-extractor/internal/infrastructure/config"

	"github.com/sashabaranov/go-openai"
)

// Client OpenAI 相容的 chat completions 客戶端，供說明文字層使用
type Client struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
}

// NewClient 建立客戶端；BaseURL 為空時使用 OpenAI 官方端點
func NewClient(cfg config.CaptionConfig) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}

	return &Client{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
	}
}

// Name 實作 provider.Provider
func (c *Client) Name() string { return "openai" }

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

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, userMessage(req))

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &provider.Error{Provider: c.Name(), Kind: provider.KindBadResponse, Message: "empty completion"}
	}

	return &provider.Response{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: provider.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		Duration: time.Since(start),
	}, nil
}

// userMessage 圖片以 image_url 片段附加；影片不支援，只送文字
func userMessage(req *provider.Request) openai.ChatCompletionMessage {
	if req.Media == nil || req.Media.Kind != provider.MediaImage || len(req.Media.ImageURLs) == 0 {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt}
	}
	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: req.Prompt}}
	for _, u := range req.Media.ImageURLs {
		parts = append(parts, openai.ChatMessagePart{
			Type:     openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{URL: u, Detail: openai.ImageURLDetailLow},
		})
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
}

func (c *Client) classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return provider.FromStatus(c.Name(), apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		pe := provider.FromStatus(c.Name(), reqErr.HTTPStatusCode, "")
		pe.Err = reqErr.Err
		return pe
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return provider.FromTransport(c.Name(), ctxErr)
	}
	return provider.FromTransport(c.Name(), err)
}
