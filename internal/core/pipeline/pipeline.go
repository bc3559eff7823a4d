package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"recipe-extractor/internal/core/ai/provider"
	"recipe-extractor/internal/core/cache"
	"recipe-extractor/internal/core/evidence"
	"recipe-extractor/internal/core/extractor"
	"recipe-extractor/internal/core/recipe"
	"recipe-extractor/internal/core/usage"
	"recipe-extractor/internal/metrics"
	"recipe-extractor/internal/pkg/common"

	"go.uber.org/zap"
)

// lowConfidence 低於此分數的成功結果會附上提醒
const lowConfidence = 0.6

// EvidenceSource 取得貼文證據
type EvidenceSource interface {
	Fetch(ctx context.Context, sourceURL, userID string) (*common.EvidenceBundle, error)
}

// Deps 管線相依元件；Video、Images 為 nil 時視為停用該層
type Deps struct {
	Evidence    EvidenceSource
	Cache       *cache.ResultCache
	Gate        usage.Gate
	Caption     *extractor.CaptionExtractor
	Video       *extractor.VideoSynthesizer
	Images      *extractor.ImageExtractor
	Validator   *evidence.ImageValidator
	Weights     recipe.Weights
	Placeholder string
}

// Pipeline 擷取流程：快取 → 額度 → 證據 → 各層 → 合併評分
type Pipeline struct {
	evidence    EvidenceSource
	cache       *cache.ResultCache
	gate        usage.Gate
	caption     *extractor.CaptionExtractor
	video       *extractor.VideoSynthesizer
	images      *extractor.ImageExtractor
	allowed     func(string) bool
	weights     recipe.Weights
	placeholder string
}

// New 建立擷取管線
func New(d Deps) *Pipeline {
	p := &Pipeline{
		evidence:    d.Evidence,
		cache:       d.Cache,
		gate:        d.Gate,
		caption:     d.Caption,
		video:       d.Video,
		images:      d.Images,
		weights:     d.Weights,
		placeholder: d.Placeholder,
	}
	if p.gate == nil {
		p.gate = usage.Unlimited{}
	}
	if p.weights == (recipe.Weights{}) {
		p.weights = recipe.DefaultWeights()
	}
	if d.Validator != nil {
		p.allowed = d.Validator.Allowed
	}
	return p
}

// Extract 由貼文網址擷取食譜；只有無效網址與快取損毀會回傳 error
func (p *Pipeline) Extract(ctx context.Context, sourceURL, userID string) (*common.ExtractionResult, error) {
	start := time.Now()
	sourceURL = strings.TrimSpace(sourceURL)
	if !recipe.IsHTTPURL(sourceURL) {
		return nil, common.ErrInvalidURL
	}

	if p.cache != nil {
		cached, err := p.cache.GetResult(ctx, sourceURL)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			cached.CacheHit = true
			metrics.RecordExtraction("cache_hit", string(cached.TierUsed), cached.Confidence, time.Since(start))
			return cached, nil
		}
	}

	decision, err := p.gate.CheckAndReserve(ctx, userID)
	if err != nil {
		common.LogWarn("Usage check failed, allowing request", zap.String("user_id", userID), zap.Error(err))
		decision = usage.Decision{Allowed: true, Remaining: -1, Unverified: true}
	}
	if !decision.Allowed {
		return p.fail(start, common.ReasonQuotaExceeded, "monthly extraction quota reached"), nil
	}

	bundle, err := p.loadEvidence(ctx, sourceURL, userID)
	if err != nil {
		if errors.Is(err, cache.ErrCorrupted) {
			return nil, err
		}
		_ = p.gate.Release(ctx, userID)
		common.LogWarn("Evidence unavailable", zap.String("url", sourceURL), zap.Error(err))
		return p.fail(start, common.ReasonEvidenceUnavailable, evidenceNote(err)), nil
	}

	res := p.execute(ctx, bundle, start)
	if decision.Unverified {
		res.Notes = append(res.Notes, "usage could not be verified")
	}
	if p.cache != nil {
		p.cache.PutResult(ctx, sourceURL, res)
	}
	return res, nil
}

// ExtractFromEvidence 直接以既有證據執行各層，不經過快取與額度
func (p *Pipeline) ExtractFromEvidence(ctx context.Context, b *common.EvidenceBundle) (*common.ExtractionResult, error) {
	if b == nil {
		return nil, common.ErrInvalidRequest.Wrap(fmt.Errorf("evidence bundle is required"))
	}
	return p.execute(ctx, b, time.Now()), nil
}

func (p *Pipeline) loadEvidence(ctx context.Context, sourceURL, userID string) (*common.EvidenceBundle, error) {
	if p.cache != nil {
		b, err := p.cache.GetEvidence(ctx, sourceURL)
		if err != nil {
			return nil, err
		}
		if b != nil {
			return b, nil
		}
	}
	if p.evidence == nil {
		return nil, fmt.Errorf("no evidence source configured")
	}
	b, err := p.evidence.Fetch(ctx, sourceURL, userID)
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		p.cache.PutEvidence(ctx, b)
	}
	return b, nil
}

func evidenceNote(err error) string {
	for _, kind := range []evidence.ErrorKind{evidence.KindRateLimited, evidence.KindJobTimedOut, evidence.KindJobFailed, evidence.KindNetwork} {
		if evidence.IsKind(err, kind) {
			return "couldn't access post: " + string(kind)
		}
	}
	return "couldn't access post"
}

func (p *Pipeline) fail(start time.Time, reason common.FailureReason, note string) *common.ExtractionResult {
	elapsed := time.Since(start)
	metrics.RecordExtraction(string(reason), "", 0, elapsed)
	return &common.ExtractionResult{
		Reason:           reason,
		Notes:            []string{note},
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
}

// run 單次擷取的狀態；影片暫存檔在結束時刪除
type run struct {
	p        *Pipeline
	bundle   *common.EvidenceBundle
	clip     *extractor.Clip
	attempts []*common.ExtractionAttempt
	path     []string
	notes    []string
}

func (r *run) close() {
	if r.clip == nil {
		return
	}
	if err := r.clip.Close(); err != nil {
		common.LogWarn("Failed to remove video temp file", zap.Error(err))
	}
	r.clip = nil
}

func (r *run) signals() signals {
	return signals{
		videoUsable: r.p.video != nil && r.p.video.Usable(r.bundle),
		hasImages:   r.p.images != nil && len(r.bundle.Images) > 0,
		hasFallback: r.p.video != nil && r.p.video.HasFallback(),
	}
}

// step 執行單一狀態並回傳嘗試結果
func (r *run) step(ctx context.Context, s State) *common.ExtractionAttempt {
	switch s {
	case StateCaption:
		if r.p.caption == nil {
			return &common.ExtractionAttempt{Tier: common.TierCaptionOnly, Source: common.SourceCaption, Skipped: true, Note: "CAPTION_DISABLED"}
		}
		return r.p.caption.Extract(ctx, r.bundle)
	case StateVideoPrimary:
		clip, err := r.p.video.Prepare(ctx, r.bundle)
		if err != nil {
			return r.p.video.PrepareFailed(r.bundle, err)
		}
		r.clip = clip
		return r.p.video.Primary(ctx, clip, r.bundle)
	case StateVideoFallback:
		common.LogInfo("Primary video model rate limited, escalating to paid fallback", zap.String("url", r.bundle.SourceURL))
		return r.p.video.Fallback(ctx, r.clip, r.bundle)
	case StateImageOnly:
		return r.p.images.Extract(ctx, r.bundle)
	}
	return nil
}

func (p *Pipeline) execute(ctx context.Context, b *common.EvidenceBundle, start time.Time) *common.ExtractionResult {
	r := &run{p: p, bundle: b}
	defer r.close()

	if p.video != nil && b.Video != nil && !p.video.Usable(b) {
		r.notes = append(r.notes, extractor.SkipNote(extractor.ErrMediaExpired))
	}

	for s := StateCaption; s != StateTerminal; {
		r.path = append(r.path, string(s))
		a := r.step(ctx, s)
		r.attempts = append(r.attempts, a)
		if a.Note != "" {
			r.notes = append(r.notes, a.Note)
		}
		s = transitions[s](a, r.signals())
	}
	r.path = append(r.path, string(StateTerminal))
	r.close()

	res := p.finalize(r)
	res.ProcessingTimeMs = time.Since(start).Milliseconds()

	outcome := "success"
	if !res.Success {
		outcome = string(res.Reason)
	}
	metrics.RecordExtraction(outcome, string(res.TierUsed), res.Confidence, time.Since(start))
	common.LogInfo("擷取完成",
		zap.String("url", b.SourceURL),
		zap.Bool("success", res.Success),
		zap.String("tier", string(res.TierUsed)),
		zap.Float64("confidence", res.Confidence),
		zap.Strings("tier_path", res.TierPath),
		zap.Int64("elapsed_ms", res.ProcessingTimeMs),
	)
	return res
}

// finalize 合併、補預設值、合併食材、選圖、評分
func (p *Pipeline) finalize(r *run) *common.ExtractionResult {
	res := &common.ExtractionResult{
		TierPath: r.path,
		Notes:    r.notes,
	}

	var final *common.ExtractionAttempt
	modelFailed := false
	for _, a := range r.attempts {
		if a.Usable() {
			final = a
			switch a.Tier {
			case common.TierCaptionOnly:
				res.SourcesUsed.Caption = true
			case common.TierVideoPrimary, common.TierVideoFallbackPaid:
				res.SourcesUsed.Video = true
			case common.TierImageOnly:
				res.SourcesUsed.Images = true
			}
		}
		if a.Err != nil && provider.KindOf(a.Err) != "" {
			modelFailed = true
		}
	}

	merged, conflicts := recipe.Merge(r.attempts)
	if merged == nil {
		res.Reason = common.ReasonNoRecipeFound
		if modelFailed {
			res.Reason = common.ReasonModelProviderError
		}
		return res
	}

	c := recipe.Finalize(merged)
	c.Ingredients = recipe.Aggregate(c.Ingredients)
	c.ImageURL = recipe.SelectImage(c, r.bundle, p.allowed, p.placeholder)

	sources := recipe.ConsultedSources(r.attempts)
	res.Recipe = c
	res.TierUsed = final.Tier
	res.Conflicts = conflicts
	res.Confidence = p.weights.Score(c, len(sources), len(conflicts), final.Tier, final.SourceConfidence)
	res.Success = p.weights.Accept(c, res.Confidence)

	if len(conflicts) > 0 {
		res.Notes = append(res.Notes, fmt.Sprintf("%d conflicting values resolved in favor of the more trusted source", len(conflicts)))
	}
	if final.Tier == common.TierVideoFallbackPaid {
		res.Notes = append(res.Notes, "paid fallback model used")
	}
	switch {
	case !res.Success && modelFailed:
		res.Reason = common.ReasonModelProviderError
	case !res.Success:
		res.Reason = common.ReasonNoRecipeFound
		res.Notes = append(res.Notes, "partial recipe kept for manual editing")
	case res.Confidence < lowConfidence:
		res.Notes = append(res.Notes, "low confidence, review recommended")
	}
	return res
}
