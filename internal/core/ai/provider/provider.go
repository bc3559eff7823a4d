package provider

import (
	"context"
	"time"
)

// MediaKind 附加媒體類型
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Media 附加於請求的媒體；影片以暫存檔路徑傳入，圖片以網址傳入
type Media struct {
	Kind      MediaKind
	Path      string
	MIMEType  string
	ImageURLs []string
}

// Request 表示發送到模型提供者的請求
type Request struct {
	System      string
	Prompt      string
	Media       *Media
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response 表示從模型提供者收到的回應
type Response struct {
	Content  string
	Model    string
	Usage    Usage
	Duration time.Duration
}

// Provider 定義模型提供者介面
type Provider interface {
	// Name 提供者名稱，用於日誌與指標
	Name() string

	// Generate 生成回應
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Func 以函式實作 Provider，測試與轉接用
type Func struct {
	ProviderName string
	Fn           func(ctx context.Context, req *Request) (*Response, error)
}

// Name 實作 Provider
func (f Func) Name() string { return f.ProviderName }

// Generate 實作 Provider
func (f Func) Generate(ctx context.Context, req *Request) (*Response, error) {
	return f.Fn(ctx, req)
}
