package extractor

import (
	"context"
	"time"

	"recipe-extractor/internal/core/ai/provider"
	"recipe-extractor/internal/metrics"
	"recipe-extractor/internal/pkg/common"

	"go.uber.org/zap"
)

// VideoSynthesizer 影片層：主要模型，限流時改用付費備援一次
type VideoSynthesizer struct {
	primary        provider.Provider
	fallback       provider.Provider
	downloader     *Downloader
	maxTokens      int
	timeout        time.Duration
	paidConfidence float64
	now            func() time.Time
}

// VideoOptions 影片層參數
type VideoOptions struct {
	MaxTokens      int
	Timeout        time.Duration
	PaidConfidence float64
}

// NewVideoSynthesizer 建立影片層；fallback 可為 nil
func NewVideoSynthesizer(primary, fallback provider.Provider, downloader *Downloader, opts VideoOptions) *VideoSynthesizer {
	if opts.PaidConfidence <= 0 {
		opts.PaidConfidence = 0.95
	}
	return &VideoSynthesizer{
		primary:        primary,
		fallback:       fallback,
		downloader:     downloader,
		maxTokens:      opts.MaxTokens,
		timeout:        opts.Timeout,
		paidConfidence: opts.PaidConfidence,
		now:            time.Now,
	}
}

// HasFallback 是否設定了付費備援
func (v *VideoSynthesizer) HasFallback() bool { return v.fallback != nil }

// Usable 證據中是否有未過期的影片
func (v *VideoSynthesizer) Usable(b *common.EvidenceBundle) bool {
	return b.UsableVideo(v.now()) != nil
}

// Prepare 下載影片；過期的連結不會發出任何請求
func (v *VideoSynthesizer) Prepare(ctx context.Context, b *common.EvidenceBundle) (*Clip, error) {
	if b.Video != nil && b.Video.Expired(v.now()) {
		return nil, ErrMediaExpired
	}
	ref := b.UsableVideo(v.now())
	if ref == nil {
		return nil, ErrNoMedia
	}
	return v.downloader.Download(ctx, ref)
}

// Primary 以主要模型分析影片
func (v *VideoSynthesizer) Primary(ctx context.Context, clip *Clip, b *common.EvidenceBundle) *common.ExtractionAttempt {
	return v.run(ctx, v.primary, common.TierVideoPrimary, 1.0, clip, b)
}

// Fallback 以付費備援模型分析同一段影片與相同提示詞
func (v *VideoSynthesizer) Fallback(ctx context.Context, clip *Clip, b *common.EvidenceBundle) *common.ExtractionAttempt {
	if v.fallback == nil {
		return failed(common.TierVideoFallbackPaid, common.SourceVisual,
			provider.NewError("fallback", provider.KindUnavailable, ErrNoMedia))
	}
	return v.run(ctx, v.fallback, common.TierVideoFallbackPaid, v.paidConfidence, clip, b)
}

// PrepareFailed 將下載錯誤轉為嘗試結果；大小或過期屬於略過
func (v *VideoSynthesizer) PrepareFailed(b *common.EvidenceBundle, err error) *common.ExtractionAttempt {
	tier := common.TierVideoPrimary
	if IsSkip(err) {
		metrics.TierRuns.WithLabelValues(string(tier), "skipped").Inc()
		common.LogInfo("Video tier skipped", zap.String("url", b.SourceURL), zap.String("reason", SkipNote(err)))
		return skipped(tier, common.SourceVisual, SkipNote(err))
	}
	metrics.TierRuns.WithLabelValues(string(tier), "error").Inc()
	common.LogWarn("Video download failed", zap.String("url", b.SourceURL), zap.Error(err))
	return failed(tier, common.SourceVisual, err)
}

func (v *VideoSynthesizer) request(clip *Clip, b *common.EvidenceBundle) *provider.Request {
	return &provider.Request{
		System:      systemPrompt,
		Prompt:      videoPrompt(b.CaptionText),
		Media:       &provider.Media{Kind: provider.MediaVideo, Path: clip.Path, MIMEType: clip.MIMEType},
		MaxTokens:   v.maxTokens,
		Temperature: 0.1,
		JSONMode:    true,
	}
}

func (v *VideoSynthesizer) run(ctx context.Context, model provider.Provider, tier common.Tier, confidence float64, clip *Clip, b *common.EvidenceBundle) *common.ExtractionAttempt {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	resp, err := model.Generate(ctx, v.request(clip, b))
	if err != nil {
		metrics.TierRuns.WithLabelValues(string(tier), "error").Inc()
		return failed(tier, common.SourceVisual, err)
	}

	raw, err := decodeRecipe(model.Name(), resp.Content)
	if err != nil {
		metrics.TierRuns.WithLabelValues(string(tier), "error").Inc()
		return failed(tier, common.SourceVisual, err)
	}

	metrics.TierRuns.WithLabelValues(string(tier), "ok").Inc()
	source, consulted := videoSources(raw)
	return completed(tier, source, consulted, raw, confidence)
}
