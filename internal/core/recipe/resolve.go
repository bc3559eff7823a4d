package recipe

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"recipe-extractor/internal/pkg/common"
)

// Merge 依信任順序（caption > visual > audio）合併各層結果；
// 較低來源只補缺，被覆蓋的值記錄為衝突
func Merge(attempts []*common.ExtractionAttempt) (*common.RecipeCandidate, []common.Conflict) {
	usable := make([]*common.ExtractionAttempt, 0, len(attempts))
	for _, a := range attempts {
		if a.Usable() {
			usable = append(usable, a)
		}
	}
	if len(usable) == 0 {
		return nil, nil
	}
	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].Source < usable[j].Source
	})

	merged := clone(usable[0].Recipe)
	var conflicts []common.Conflict
	m := &merger{
		out:    merged,
		top:    usable[0].Source.String(),
		origin: map[string]string{},
		record: func(c common.Conflict) { conflicts = append(conflicts, c) },
	}
	for _, lower := range usable[1:] {
		m.lower = lower.Source.String()
		m.merge(lower.Recipe)
	}
	return merged, conflicts
}

// merger 合併狀態；origin 記錄由較低來源補上的欄位
type merger struct {
	out    *common.RecipeCandidate
	top    string
	lower  string
	origin map[string]string
	record func(common.Conflict)
}

func (m *merger) filled(field string) {
	m.origin[field] = m.lower
}

func (m *merger) keptBy(field string) string {
	if src, ok := m.origin[field]; ok {
		return src
	}
	return m.top
}

func (m *merger) conflict(field, kept, discarded string) {
	m.record(common.Conflict{
		Field:           field,
		Kept:            kept,
		Discarded:       discarded,
		KeptSource:      m.keptBy(field),
		DiscardedSource: m.lower,
	})
}

// text 字串欄位：高信任來源為空時才補，兩者不同時記錄衝突
func (m *merger) text(field string, dst *string, src string) {
	src = strings.TrimSpace(src)
	switch {
	case src == "":
	case strings.TrimSpace(*dst) == "":
		*dst = src
		m.filled(field)
	case !strings.EqualFold(strings.TrimSpace(*dst), src):
		m.conflict(field, *dst, src)
	}
}

func (m *merger) merge(src *common.RecipeCandidate) {
	out := m.out

	m.text("title", &out.Title, src.Title)
	m.text("summary", &out.Summary, src.Summary)
	m.text("imageUrl", &out.ImageURL, src.ImageURL)

	switch {
	case src.Servings <= 0:
	case out.Servings <= 0:
		out.Servings = src.Servings
		m.filled("servings")
	case out.Servings != src.Servings:
		m.conflict("servings", formatAmount(out.Servings), formatAmount(src.Servings))
	}

	switch {
	case src.ReadyInMinutes == nil:
	case out.ReadyInMinutes == nil:
		v := *src.ReadyInMinutes
		out.ReadyInMinutes = &v
		m.filled("readyInMinutes")
	case *out.ReadyInMinutes != *src.ReadyInMinutes:
		m.conflict("readyInMinutes", strconv.Itoa(*out.ReadyInMinutes), strconv.Itoa(*src.ReadyInMinutes))
	}

	if out.NutritionPerServing == nil && src.NutritionPerServing != nil {
		n := *src.NutritionPerServing
		out.NutritionPerServing = &n
	}

	m.flag("dietaryFlags.vegetarian", &out.DietaryFlags.Vegetarian, src.DietaryFlags.Vegetarian)
	m.flag("dietaryFlags.vegan", &out.DietaryFlags.Vegan, src.DietaryFlags.Vegan)
	m.flag("dietaryFlags.glutenFree", &out.DietaryFlags.GlutenFree, src.DietaryFlags.GlutenFree)
	m.flag("dietaryFlags.dairyFree", &out.DietaryFlags.DairyFree, src.DietaryFlags.DairyFree)

	m.ingredients(src.Ingredients)

	switch {
	case len(src.Instructions) == 0:
	case len(out.Instructions) == 0:
		out.Instructions = append([]common.Instruction(nil), src.Instructions...)
		m.filled("instructions")
	case len(out.Instructions) != len(src.Instructions):
		m.conflict("instructions",
			fmt.Sprintf("%d steps", len(out.Instructions)),
			fmt.Sprintf("%d steps", len(src.Instructions)))
	}
}

// flag 飲食標記：未提及時才補，明確不同時記錄衝突
func (m *merger) flag(field string, dst **bool, src *bool) {
	switch {
	case src == nil:
	case *dst == nil:
		v := *src
		*dst = &v
		m.filled(field)
	case **dst != *src:
		m.conflict(field, strconv.FormatBool(**dst), strconv.FormatBool(*src))
	}
}

func (m *merger) ingredients(src []common.Ingredient) {
	index := make(map[string]int, len(m.out.Ingredients))
	for i, ing := range m.out.Ingredients {
		key := NormalizedName(ing.Name)
		if _, ok := index[key]; !ok {
			index[key] = i
		}
	}

	for _, ing := range src {
		key := NormalizedName(ing.Name)
		i, ok := index[key]
		if !ok {
			index[key] = len(m.out.Ingredients)
			m.out.Ingredients = append(m.out.Ingredients, ing)
			m.filled("ingredient:" + key)
			continue
		}
		have := &m.out.Ingredients[i]
		switch {
		case ing.Amount <= 0:
		case have.Amount <= 0:
			have.Amount = ing.Amount
			if have.Unit == "" {
				have.Unit = ing.Unit
			}
			m.filled("ingredient:" + key)
		case have.Amount != ing.Amount || CanonicalUnit(have.Unit) != CanonicalUnit(ing.Unit):
			m.conflict("ingredient:"+key, quantity(*have), quantity(ing))
		}
	}
}

func quantity(ing common.Ingredient) string {
	q := formatAmount(ing.Amount)
	if ing.Unit != "" {
		q += " " + ing.Unit
	}
	return q
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func clone(c *common.RecipeCandidate) *common.RecipeCandidate {
	out := *c
	out.Ingredients = append([]common.Ingredient(nil), c.Ingredients...)
	out.Instructions = append([]common.Instruction(nil), c.Instructions...)
	if c.ReadyInMinutes != nil {
		v := *c.ReadyInMinutes
		out.ReadyInMinutes = &v
	}
	if c.NutritionPerServing != nil {
		n := *c.NutritionPerServing
		out.NutritionPerServing = &n
	}
	return &out
}
