package extractor

import (
	"errors"

	"recipe-extractor/internal/core/ai/provider"
	"recipe-extractor/internal/core/recipe"
	"recipe-extractor/internal/pkg/common"

	"github.com/goccy/go-json"
)

var (
	// ErrMediaTooLarge 影片超過下載上限，影片層略過
	ErrMediaTooLarge = errors.New("video exceeds download limit")
	// ErrMediaExpired 影片連結已過期，影片層略過
	ErrMediaExpired = errors.New("video link expired")
	// ErrNoMedia 沒有可用的影片或圖片
	ErrNoMedia = errors.New("no usable media")
)

// IsSkip 影片層應略過而非失敗的錯誤
func IsSkip(err error) bool {
	return errors.Is(err, ErrMediaTooLarge) || errors.Is(err, ErrMediaExpired) || errors.Is(err, ErrNoMedia)
}

// SkipNote 略過原因對應的備註代碼
func SkipNote(err error) string {
	switch {
	case errors.Is(err, ErrMediaTooLarge):
		return "MEDIA_TOO_LARGE"
	case errors.Is(err, ErrMediaExpired):
		return "MEDIA_EXPIRED"
	case errors.Is(err, ErrNoMedia):
		return "NO_MEDIA"
	}
	return ""
}

func skipped(tier common.Tier, source common.Source, note string) *common.ExtractionAttempt {
	return &common.ExtractionAttempt{Tier: tier, Source: source, Skipped: true, Note: note}
}

func failed(tier common.Tier, source common.Source, err error) *common.ExtractionAttempt {
	return &common.ExtractionAttempt{Tier: tier, Source: source, Err: err}
}

// decodeRecipe 從模型輸出取出第一個 JSON 物件並解析
func decodeRecipe(providerName, content string) (*common.RawRecipe, error) {
	obj, err := common.ExtractJSONObject(content)
	if err != nil {
		return nil, &provider.Error{
			Provider: providerName,
			Kind:     provider.KindBadResponse,
			Message:  common.Truncate(content, 120),
			Err:      err,
		}
	}
	var raw common.RawRecipe
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, &provider.Error{Provider: providerName, Kind: provider.KindBadResponse, Err: err}
	}
	return &raw, nil
}

// completed 以標準化後的候選填入嘗試結果
func completed(tier common.Tier, source common.Source, consulted []common.Source, raw *common.RawRecipe, confidence float64) *common.ExtractionAttempt {
	candidate := recipe.Normalize(raw)
	a := &common.ExtractionAttempt{
		Tier:             tier,
		Source:           source,
		Consulted:        consulted,
		Recipe:           candidate,
		IsComplete:       candidate.IsComplete(),
		SourceConfidence: confidence,
	}
	if candidate.IsEmpty() {
		a.Note = "NO_RECIPE_IN_" + string(tier)
	}
	return a
}

// videoSources 依模型回報的旗標判斷影片實際使用的來源；未回報時視為畫面與旁白皆有
func videoSources(raw *common.RawRecipe) (common.Source, []common.Source) {
	onScreen := raw.OnScreenText == nil || *raw.OnScreenText
	spoken := raw.SpokenContent == nil || *raw.SpokenContent
	switch {
	case onScreen && spoken:
		return common.SourceVisual, []common.Source{common.SourceVisual, common.SourceAudio}
	case spoken:
		return common.SourceAudio, []common.Source{common.SourceAudio}
	default:
		return common.SourceVisual, []common.Source{common.SourceVisual}
	}
}
