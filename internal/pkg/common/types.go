package common

import (
	"bytes"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Tier 擷取層級
type Tier string

const (
	TierNone              Tier = ""
	TierCaptionOnly       Tier = "CaptionOnly"
	TierVideoPrimary      Tier = "VideoPrimary"
	TierVideoFallbackPaid Tier = "VideoFallbackPaid"
	TierImageOnly         Tier = "ImageOnly"
)

// Source 資料來源，數值越小信任度越高
type Source int

const (
	SourceCaption Source = iota
	SourceVisual
	SourceAudio
)

func (s Source) String() string {
	switch s {
	case SourceCaption:
		return "caption"
	case SourceVisual:
		return "visual"
	case SourceAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// ImageTrust 圖片來源標記
type ImageTrust string

const (
	TrustPost     ImageTrust = "post"
	TrustCarousel ImageTrust = "carousel"
	TrustCover    ImageTrust = "cover"
)

// EvidenceImage 貼文中的候選圖片
type EvidenceImage struct {
	URL      string     `json:"url"`
	TrustTag ImageTrust `json:"trustTag"`
}

// VideoRef 影片參照，過期後視為不存在
type VideoRef struct {
	URL             string    `json:"url"`
	DurationSeconds float64   `json:"durationSeconds"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// Expired 判斷影片連結是否已過期
func (v *VideoRef) Expired(now time.Time) bool {
	return !v.ExpiresAt.IsZero() && !now.Before(v.ExpiresAt)
}

// Author 貼文作者
type Author struct {
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

// Engagement 互動數據
type Engagement struct {
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Views    int64 `json:"views"`
}

// EvidenceBundle 擷取前收集到的貼文原始訊號，建立後不再修改
type EvidenceBundle struct {
	SourceURL      string          `json:"sourceUrl"`
	CaptionText    string          `json:"captionText"`
	AuthorComments []string        `json:"authorComments"`
	Images         []EvidenceImage `json:"images"`
	Video          *VideoRef       `json:"video,omitempty"`
	Author         Author          `json:"author"`
	Engagement     Engagement      `json:"engagement"`
	FetchedAt      time.Time       `json:"fetchedAt"`
}

// UsableVideo 回傳未過期的影片參照，否則回傳 nil
func (b *EvidenceBundle) UsableVideo(now time.Time) *VideoRef {
	if b.Video == nil || b.Video.URL == "" || b.Video.Expired(now) {
		return nil
	}
	return b.Video
}

// CombinedText 說明文字與作者留言
func (b *EvidenceBundle) CombinedText() string {
	parts := make([]string, 0, len(b.AuthorComments)+1)
	if c := strings.TrimSpace(b.CaptionText); c != "" {
		parts = append(parts, c)
	}
	for _, comment := range b.AuthorComments {
		if c := strings.TrimSpace(comment); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, "\n\n")
}

// ImageURLs 依序取出圖片網址
func (b *EvidenceBundle) ImageURLs() []string {
	urls := make([]string, 0, len(b.Images))
	for _, img := range b.Images {
		urls = append(urls, img.URL)
	}
	return urls
}

// Ingredient 標準化後的食材
type Ingredient struct {
	OriginalText string  `json:"originalText"`
	Name         string  `json:"name"`
	Amount       float64 `json:"amount"`
	Unit         string  `json:"unit"`
}

// Instruction 步驟
type Instruction struct {
	StepNumber int    `json:"stepNumber"`
	Text       string `json:"text"`
}

// DietaryFlags 飲食標記；nil 表示來源未提及，Finalize 後一律有值
type DietaryFlags struct {
	Vegetarian *bool `json:"vegetarian"`
	Vegan      *bool `json:"vegan"`
	GlutenFree *bool `json:"glutenFree"`
	DairyFree  *bool `json:"dairyFree"`
}

// Nutrition 每份營養資訊
type Nutrition struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
	Fiber    float64 `json:"fiber,omitempty"`
	Sugar    float64 `json:"sugar,omitempty"`
	Sodium   float64 `json:"sodium,omitempty"`
}

// RecipeCandidate 標準化食譜
type RecipeCandidate struct {
	Title               string        `json:"title"`
	Summary             string        `json:"summary"`
	Ingredients         []Ingredient  `json:"ingredients"`
	Instructions        []Instruction `json:"instructions"`
	Servings            float64       `json:"servings"`
	ReadyInMinutes      *int          `json:"readyInMinutes"`
	DietaryFlags        DietaryFlags  `json:"dietaryFlags"`
	NutritionPerServing *Nutrition    `json:"nutritionPerServing,omitempty"`
	ImageURL            string        `json:"imageUrl"`
}

// IsComplete 至少 3 項食材且 2 個步驟
func (r *RecipeCandidate) IsComplete() bool {
	return r != nil && len(r.Ingredients) >= 3 && len(r.Instructions) >= 2
}

// IsEmpty 沒有任何食材或步驟
func (r *RecipeCandidate) IsEmpty() bool {
	return r == nil || (len(r.Ingredients) == 0 && len(r.Instructions) == 0)
}

// FlexString 可接受字串或數字的 JSON 欄位
type FlexString string

// UnmarshalJSON 實作 json.Unmarshaler
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(string(data))
	return nil
}

// RawIngredient 模型輸出的食材，可能是字串或物件
type RawIngredient struct {
	OriginalText string     `json:"originalText"`
	Name         string     `json:"name"`
	Amount       FlexString `json:"amount"`
	Unit         string     `json:"unit"`
}

// UnmarshalJSON 接受 "2 cups flour" 這類純字串
func (r *RawIngredient) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = RawIngredient{OriginalText: s}
		return nil
	}
	type plain RawIngredient
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = RawIngredient(p)
	return nil
}

// RawStep 模型輸出的步驟，可能是字串或物件
type RawStep struct {
	StepNumber int    `json:"stepNumber"`
	Text       string `json:"text"`
}

// UnmarshalJSON 接受純字串步驟
func (r *RawStep) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = RawStep{Text: s}
		return nil
	}
	type plain RawStep
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = RawStep(p)
	return nil
}

// RawRecipe 模型回傳的未標準化食譜
type RawRecipe struct {
	IsRecipe       *bool                 `json:"isRecipe,omitempty"`
	Title          string                `json:"title"`
	Summary        string                `json:"summary"`
	Ingredients    []RawIngredient       `json:"ingredients"`
	Instructions   []RawStep             `json:"instructions"`
	Servings       FlexString            `json:"servings"`
	ReadyInMinutes FlexString            `json:"readyInMinutes"`
	DietaryFlags   map[string]bool       `json:"dietaryFlags"`
	Nutrition      map[string]FlexString `json:"nutritionPerServing"`
	ImageURL       string                `json:"imageUrl"`
	OnScreenText   *bool                 `json:"onScreenText,omitempty"`
	SpokenContent  *bool                 `json:"spokenContent,omitempty"`
}

// ExtractionAttempt 單一層級的擷取結果
type ExtractionAttempt struct {
	Tier             Tier             `json:"tier"`
	Source           Source           `json:"source"`
	Consulted        []Source         `json:"consulted"`
	Recipe           *RecipeCandidate `json:"recipe,omitempty"`
	IsComplete       bool             `json:"isComplete"`
	SourceConfidence float64          `json:"sourceConfidence"`
	Skipped          bool             `json:"skipped"`
	Note             string           `json:"note,omitempty"`
	Err              error            `json:"-"`
}

// Usable 成功執行並產生內容
func (a *ExtractionAttempt) Usable() bool {
	return a != nil && !a.Skipped && a.Err == nil && !a.Recipe.IsEmpty()
}

// Conflict 較低信任來源的值被覆蓋時的紀錄
type Conflict struct {
	Field           string `json:"field"`
	Kept            string `json:"kept"`
	Discarded       string `json:"discarded"`
	KeptSource      string `json:"keptSource"`
	DiscardedSource string `json:"discardedSource"`
}

// SourcesUsed 實際參與的來源
type SourcesUsed struct {
	Caption bool `json:"caption"`
	Images  bool `json:"images"`
	Video   bool `json:"video"`
}

// ExtractionResult 對外唯一的擷取結果
type ExtractionResult struct {
	Success          bool             `json:"success"`
	Recipe           *RecipeCandidate `json:"recipe"`
	Confidence       float64          `json:"confidence"`
	TierUsed         Tier             `json:"tierUsed"`
	SourcesUsed      SourcesUsed      `json:"sourcesUsed"`
	Notes            []string         `json:"notes"`
	ProcessingTimeMs int64            `json:"processingTimeMs"`
	Reason           FailureReason    `json:"reason,omitempty"`
	Conflicts        []Conflict       `json:"conflicts,omitempty"`
	TierPath         []string         `json:"tierPath,omitempty"`
	CacheHit         bool             `json:"cacheHit"`
}
