package pipeline

import (
	"recipe-extractor/internal/core/ai/provider"
	"recipe-extractor/internal/core/extractor"
	"recipe-extractor/internal/pkg/common"
)

// State 擷取狀態機的狀態
type State string

const (
	StateCaption       State = State(common.TierCaptionOnly)
	StateVideoPrimary  State = State(common.TierVideoPrimary)
	StateVideoFallback State = State(common.TierVideoFallbackPaid)
	StateImageOnly     State = State(common.TierImageOnly)
	StateTerminal      State = "Terminal"
)

// signals 轉移函式需要的證據狀態
type signals struct {
	videoUsable bool
	hasImages   bool
	hasFallback bool
}

// afterCaption 說明文字完整則結束，否則依序嘗試影片、圖片
func afterCaption(a *common.ExtractionAttempt, s signals) State {
	switch {
	case a.Usable() && a.IsComplete:
		return StateTerminal
	case s.videoUsable:
		return StateVideoPrimary
	case s.hasImages:
		return StateImageOnly
	default:
		return StateTerminal
	}
}

// afterVideoPrimary 限流才升級到付費備援；影片過大或過期改走圖片
func afterVideoPrimary(a *common.ExtractionAttempt, s signals) State {
	switch {
	case a.Skipped && (a.Note == extractor.SkipNote(extractor.ErrMediaTooLarge) || a.Note == extractor.SkipNote(extractor.ErrMediaExpired)):
		if s.hasImages {
			return StateImageOnly
		}
		return StateTerminal
	case a.Err != nil && provider.IsRateLimited(a.Err) && s.hasFallback:
		return StateVideoFallback
	default:
		return StateTerminal
	}
}

func afterVideoFallback(*common.ExtractionAttempt, signals) State {
	return StateTerminal
}

func afterImageOnly(*common.ExtractionAttempt, signals) State {
	return StateTerminal
}

// transitions 每個狀態唯一的轉移函式
var transitions = map[State]func(*common.ExtractionAttempt, signals) State{
	StateCaption:       afterCaption,
	StateVideoPrimary:  afterVideoPrimary,
	StateVideoFallback: afterVideoFallback,
	StateImageOnly:     afterImageOnly,
}
