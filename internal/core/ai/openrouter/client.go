package openrouter

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"recipe-extractor/internal/core/ai/provider"
	"recipe-extractor/internal/infrastructure/config"
	"recipe-extractor/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// Client OpenRouter chat completions 客戶端，主要與付費備援各建一個
type Client struct {
	name      string
	model     string
	maxTokens int
	client    *resty.Client
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *mediaURL `json:"image_url,omitempty"`
	VideoURL *mediaURL `json:"video_url,omitempty"`
}

type mediaURL struct {
	URL string `json:"url"`
}

type message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Code    any    `json:"code"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage provider.Usage `json:"usage"`
	Error *apiError      `json:"error,omitempty"`
}

// NewClient 建立 OpenRouter 客戶端
func NewClient(cfg config.OpenRouterConfig, name, apiKey, model string) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	client := resty.New().
		SetBaseURL(base).
		SetAuthToken(apiKey).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("HTTP-Referer", "https://recipe-extractor.app").
		SetHeader("X-Title", "Recipe Extractor").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	return &Client{
		name:      name,
		model:     model,
		maxTokens: cfg.MaxTokens,
		client:    client,
	}
}

// NewPrimary 免費額度的主要影片模型
func NewPrimary(cfg config.OpenRouterConfig) *Client {
	return NewClient(cfg, "openrouter-primary", cfg.APIKey, cfg.Model)
}

// NewFallback 付費備援模型；未設定獨立金鑰時沿用主要金鑰
func NewFallback(cfg config.OpenRouterConfig) *Client {
	key := cfg.FallbackAPIKey
	if key == "" {
		key = cfg.APIKey
	}
	return NewClient(cfg, "openrouter-fallback", key, cfg.FallbackModel)
}

// Name 實作 provider.Provider
func (c *Client) Name() string { return c.name }

// Model 使用的模型名稱
func (c *Client) Model() string { return c.model }

// Generate 實作 provider.Provider
func (c *Client) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	payload, video, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}
	var body any = payload
	if video != nil {
		stream, err := video.stream(payload)
		if err != nil {
			return nil, provider.NewError(c.name, provider.KindBadResponse, err)
		}
		defer stream.Close()
		body = stream
	}

	start := time.Now()
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/chat/completions")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, provider.FromTransport(c.name, ctxErr)
		}
		return nil, provider.FromTransport(c.name, eris.Wrap(err, "openrouter: send request"))
	}

	raw := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		common.LogWarn("OpenRouter returned error status",
			zap.String("provider", c.name),
			zap.String("model", c.model),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("response", sanitizeBody(raw)),
		)
		return nil, provider.FromStatus(c.name, resp.StatusCode(), errorMessage(raw))
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &provider.Error{
			Provider: c.name,
			Kind:     provider.KindBadResponse,
			Message:  common.Truncate(sanitizeBody(raw), 200),
			Err:      eris.Wrap(err, "openrouter: decode response"),
		}
	}
	// OpenRouter 會在 200 回應中夾帶上游錯誤
	if out.Error != nil {
		status := errorCode(out.Error.Code)
		if status == 0 {
			status = http.StatusBadGateway
		}
		return nil, provider.FromStatus(c.name, status, out.Error.Message)
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return nil, &provider.Error{Provider: c.name, Kind: provider.KindBadResponse, Message: "empty completion"}
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return &provider.Response{
		Content:  out.Choices[0].Message.Content,
		Model:    model,
		Usage:    out.Usage,
		Duration: time.Since(start),
	}, nil
}

func (c *Client) buildRequest(req *provider.Request) (*chatRequest, *videoSource, error) {
	var video *videoSource
	parts := []contentPart{{Type: "text", Text: req.Prompt}}
	if m := req.Media; m != nil {
		switch m.Kind {
		case provider.MediaImage:
			for _, u := range m.ImageURLs {
				parts = append(parts, contentPart{Type: "image_url", ImageURL: &mediaURL{URL: u}})
			}
		case provider.MediaVideo:
			v, err := openVideo(m)
			if err != nil {
				return nil, nil, provider.NewError(c.name, provider.KindBadResponse, err)
			}
			video = v
			parts = append(parts, contentPart{Type: "video_url", VideoURL: &mediaURL{URL: videoPlaceholder}})
		}
	}

	messages := make([]message, 0, 2)
	if req.System != "" {
		messages = append(messages, message{Role: "system", Content: req.System})
	}
	messages = append(messages, message{Role: "user", Content: parts})

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	out := &chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		out.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return out, video, nil
}

// videoPlaceholder 在序列化後的請求中被替換為串流的 data URL
const videoPlaceholder = "__recipe_extractor_video__"

// videoSource 已開啟的暫存影片
type videoSource struct {
	file *os.File
	mime string
}

func openVideo(m *provider.Media) (*videoSource, error) {
	f, err := os.Open(m.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "openrouter: open video %s", m.Path)
	}
	mime := m.MIMEType
	if mime == "" {
		mime = "video/mp4"
	}
	return &videoSource{file: f, mime: mime}, nil
}

// stream 將請求 JSON 拆成前後兩段，中間邊讀檔邊做 base64，整支影片不會同時留在記憶體
func (v *videoSource) stream(payload *chatRequest) (io.ReadCloser, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		v.file.Close()
		return nil, eris.Wrap(err, "openrouter: encode request")
	}
	// 影片永遠是最後一個 content part，提示文字裡的同名字串不會被誤判
	i := bytes.LastIndex(raw, []byte(videoPlaceholder))
	if i < 0 {
		v.file.Close()
		return nil, eris.New("openrouter: video placeholder missing from request")
	}

	pr, pw := io.Pipe()
	go func() {
		defer v.file.Close()
		enc := base64.NewEncoder(base64.StdEncoding, pw)
		_, err := io.Copy(enc, v.file)
		if err == nil {
			err = enc.Close()
		}
		pw.CloseWithError(err)
	}()

	return &videoBody{
		Reader: io.MultiReader(
			bytes.NewReader(raw[:i]),
			strings.NewReader("data:"+v.mime+";base64,"),
			pr,
			bytes.NewReader(raw[i+len(videoPlaceholder):]),
		),
		pipe: pr,
	}, nil
}

// videoBody 關閉時中止編碼 goroutine 並釋放檔案
type videoBody struct {
	io.Reader
	pipe *io.PipeReader
}

func (b *videoBody) Close() error { return b.pipe.Close() }

func errorMessage(body []byte) string {
	var env struct {
		Error *apiError `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return common.Truncate(sanitizeBody(body), 200)
}

func errorCode(code any) int {
	switch v := code.(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

var dataURLPattern = regexp.MustCompile(`data:[a-z]+/[a-z0-9.+-]+;base64,[A-Za-z0-9+/=]+`)

// sanitizeBody 移除回應中的 base64 媒體內容，避免寫入日誌
func sanitizeBody(body []byte) string {
	s := string(body)
	if !strings.Contains(s, "base64") {
		return s
	}
	return dataURLPattern.ReplaceAllString(s, "[MEDIA_DATA_REMOVED]")
}

