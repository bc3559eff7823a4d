package extractor

import (
	"context"

	"recipe-extractor/internal/core/ai/provider"
	"recipe-extractor/internal/metrics"
	"recipe-extractor/internal/pkg/common"
)

const defaultMaxImages = 4

// ImageExtractor 沒有可用影片時，從貼文圖片讀取食譜
type ImageExtractor struct {
	model     provider.Provider
	maxImages int
	maxTokens int
}

// NewImageExtractor 建立圖片層
func NewImageExtractor(model provider.Provider, maxImages, maxTokens int) *ImageExtractor {
	if maxImages <= 0 {
		maxImages = defaultMaxImages
	}
	return &ImageExtractor{model: model, maxImages: maxImages, maxTokens: maxTokens}
}

// Extract 執行圖片層；沒有圖片時略過
func (e *ImageExtractor) Extract(ctx context.Context, b *common.EvidenceBundle) *common.ExtractionAttempt {
	tier := common.TierImageOnly
	urls := b.ImageURLs()
	if len(urls) == 0 {
		metrics.TierRuns.WithLabelValues(string(tier), "skipped").Inc()
		return skipped(tier, common.SourceVisual, SkipNote(ErrNoMedia))
	}
	if len(urls) > e.maxImages {
		urls = urls[:e.maxImages]
	}

	resp, err := e.model.Generate(ctx, &provider.Request{
		System:      systemPrompt,
		Prompt:      imagePrompt(b.CaptionText),
		Media:       &provider.Media{Kind: provider.MediaImage, ImageURLs: urls},
		MaxTokens:   e.maxTokens,
		Temperature: 0.1,
		JSONMode:    true,
	})
	if err != nil {
		metrics.TierRuns.WithLabelValues(string(tier), "error").Inc()
		return failed(tier, common.SourceVisual, err)
	}

	raw, err := decodeRecipe(e.model.Name(), resp.Content)
	if err != nil {
		metrics.TierRuns.WithLabelValues(string(tier), "error").Inc()
		return failed(tier, common.SourceVisual, err)
	}

	metrics.TierRuns.WithLabelValues(string(tier), "ok").Inc()
	return completed(tier, common.SourceVisual, []common.Source{common.SourceVisual}, raw, 1.0)
}
