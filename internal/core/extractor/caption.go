package extractor

import (
	"context"
	"regexp"
	"strings"

	"recipe-extractor/internal/core/ai/provider"
	"recipe-extractor/internal/metrics"
	"recipe-extractor/internal/pkg/common"

	"go.uber.org/zap"
)

const defaultMinCaptionLength = 40

// redirectPattern 說明文字指向影片或其他地方的常見寫法
var redirectPattern = regexp.MustCompile(`(?i)` +
	`(full\s+|the\s+)?(recipe|instructions|steps|measurements|ingredients)\s+(is\s+|are\s+)?(in|on)\s+(the\s+|my\s+)?(video|reel|clip|bio|comments?|blog|website|link)` +
	`|watch\s+(the\s+)?(video\s+)?(for|to\s+see|to\s+get)\s+(the\s+)?(full\s+)?(recipe|instructions|steps)` +
	`|link\s+in\s+(my\s+)?bio` +
	`|recipe\s+below\s+in\s+(the\s+)?video`)

// CaptionGate 判斷說明文字是否值得送模型
type CaptionGate struct {
	MinLength int
}

// Check 回傳是否執行與略過原因
func (g CaptionGate) Check(caption string) (bool, string) {
	caption = strings.TrimSpace(caption)
	limit := g.MinLength
	if limit <= 0 {
		limit = defaultMinCaptionLength
	}
	if len([]rune(caption)) < limit {
		return false, "CAPTION_TOO_SHORT"
	}
	if redirectPattern.MatchString(caption) {
		return false, "CAPTION_POINTS_TO_VIDEO"
	}
	return true, ""
}

// CaptionExtractor 僅用文字的擷取層
type CaptionExtractor struct {
	model     provider.Provider
	gate      CaptionGate
	maxTokens int
}

// NewCaptionExtractor 建立說明文字擷取層
func NewCaptionExtractor(model provider.Provider, minLength, maxTokens int) *CaptionExtractor {
	return &CaptionExtractor{
		model:     model,
		gate:      CaptionGate{MinLength: minLength},
		maxTokens: maxTokens,
	}
}

// Gate 回傳使用中的門檻
func (c *CaptionExtractor) Gate() CaptionGate { return c.gate }

// Extract 執行說明文字層；門檻不通過時不呼叫模型
func (c *CaptionExtractor) Extract(ctx context.Context, b *common.EvidenceBundle) *common.ExtractionAttempt {
	tier := common.TierCaptionOnly
	if ok, reason := c.gate.Check(b.CaptionText); !ok {
		metrics.TierRuns.WithLabelValues(string(tier), "skipped").Inc()
		common.LogDebug("Caption tier skipped", zap.String("url", b.SourceURL), zap.String("reason", reason))
		return skipped(tier, common.SourceCaption, reason)
	}

	resp, err := c.model.Generate(ctx, &provider.Request{
		System:      systemPrompt,
		Prompt:      captionPrompt(b.CombinedText()),
		MaxTokens:   c.maxTokens,
		Temperature: 0.1,
		JSONMode:    true,
	})
	if err != nil {
		metrics.TierRuns.WithLabelValues(string(tier), "error").Inc()
		return failed(tier, common.SourceCaption, err)
	}

	raw, err := decodeRecipe(c.model.Name(), resp.Content)
	if err != nil {
		metrics.TierRuns.WithLabelValues(string(tier), "error").Inc()
		return failed(tier, common.SourceCaption, err)
	}

	metrics.TierRuns.WithLabelValues(string(tier), "ok").Inc()
	return completed(tier, common.SourceCaption, []common.Source{common.SourceCaption}, raw, 1.0)
}
