package recipe

import (
	"recipe-extractor/internal/infrastructure/config"
	"recipe-extractor/internal/pkg/common"
)

// Weights 信心分數參數，皆可由設定調整
type Weights struct {
	Base            float64
	PerSource       float64
	RichIngredients float64
	RichSteps       float64
	PerConflict     float64
	UntitledPenalty float64
	PrimaryVideoCap float64
	FallbackFloor   float64
	MinAccept       float64
	PaidFallback    float64
}

// DefaultWeights 預設權重
func DefaultWeights() Weights {
	return Weights{
		Base:            0.5,
		PerSource:       0.2,
		RichIngredients: 0.05,
		RichSteps:       0.05,
		PerConflict:     0.05,
		UntitledPenalty: 0.1,
		PrimaryVideoCap: 0.95,
		FallbackFloor:   0.1,
		MinAccept:       0.4,
		PaidFallback:    0.95,
	}
}

// WeightsFromConfig 由設定建立權重，未設定的欄位使用預設值
func WeightsFromConfig(cfg config.ScoringConfig) Weights {
	w := DefaultWeights()
	set := func(dst *float64, v float64) {
		if v > 0 {
			*dst = v
		}
	}
	set(&w.Base, cfg.Base)
	set(&w.PerSource, cfg.PerSource)
	set(&w.RichIngredients, cfg.RichIngredients)
	set(&w.RichSteps, cfg.RichSteps)
	set(&w.PerConflict, cfg.PerConflict)
	set(&w.UntitledPenalty, cfg.UntitledPenalty)
	set(&w.PrimaryVideoCap, cfg.PrimaryVideoCap)
	set(&w.FallbackFloor, cfg.FallbackFloor)
	set(&w.MinAccept, cfg.MinAccept)
	set(&w.PaidFallback, cfg.PaidFallback)
	return w
}

// ConsultedSources 統計實際產生內容的獨立來源（最多三種）
func ConsultedSources(attempts []*common.ExtractionAttempt) []common.Source {
	seen := make(map[common.Source]bool, 3)
	var out []common.Source
	for _, a := range attempts {
		if !a.Usable() {
			continue
		}
		consulted := a.Consulted
		if len(consulted) == 0 {
			consulted = []common.Source{a.Source}
		}
		for _, s := range consulted {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Score 計算 0~1 的信心分數
// tierConfidence 為最終層級的固有信心（主要 1.0，付費備援約 0.95）
func (w Weights) Score(c *common.RecipeCandidate, sources int, conflicts int, tier common.Tier, tierConfidence float64) float64 {
	if c == nil {
		return 0
	}
	if sources > 3 {
		sources = 3
	}

	score := w.Base + w.PerSource*float64(sources)
	if len(c.Ingredients) > 5 {
		score += w.RichIngredients
	}
	if len(c.Instructions) > 5 {
		score += w.RichSteps
	}
	score -= w.PerConflict * float64(conflicts)
	if c.Title == "" || c.Title == UntitledTitle {
		score -= w.UntitledPenalty
	}

	if tier == common.TierVideoPrimary {
		score = common.Clamp(score, 0, w.PrimaryVideoCap)
	} else {
		score = common.Clamp(score, w.FallbackFloor, 1.0)
	}

	if tierConfidence > 0 {
		score *= tierConfidence
	}
	return common.Round(common.Clamp(score, 0, 1), 3)
}

// Accept 判斷結果是否可視為成功
func (w Weights) Accept(c *common.RecipeCandidate, confidence float64) bool {
	if c.IsEmpty() {
		return false
	}
	return c.IsComplete() || confidence >= w.MinAccept
}
