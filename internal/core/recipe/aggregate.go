package recipe

import (
	"regexp"
	"strings"

	"recipe-extractor/internal/pkg/common"
)

var (
	parenthetical = regexp.MustCompile(`\([^)]*\)`)
	prepWords     = map[string]bool{
		"chopped": true, "diced": true, "minced": true, "sliced": true, "grated": true,
		"shredded": true, "crushed": true, "ground": true, "melted": true, "softened": true,
		"fresh": true, "freshly": true, "finely": true, "roughly": true, "thinly": true,
		"large": true, "medium": true, "small": true, "peeled": true, "cubed": true,
		"beaten": true, "sifted": true, "packed": true, "divided": true, "optional": true,
		"frozen": true, "cooked": true, "dried": true, "halved": true, "room": true,
		"temperature": true, "to": true, "taste": true,
	}
)

// NormalizedName 分組用的名稱：小寫、去除括號說明、逗號後描述與處理方式
func NormalizedName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = parenthetical.ReplaceAllString(n, " ")
	if i := strings.IndexByte(n, ','); i >= 0 {
		n = n[:i]
	}
	fields := strings.Fields(n)
	kept := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, ".;:")
		if f == "" || prepWords[f] {
			continue
		}
		kept = append(kept, f)
	}
	if len(kept) == 0 {
		return strings.Join(fields, " ")
	}
	return strings.Join(kept, " ")
}

type ingredientGroup struct {
	key     string
	entries []common.Ingredient
	buckets map[string]int
}

// bucketKey 同單位且有數量者合併；無數量者僅合併完全相同的重複項
func bucketKey(ing common.Ingredient) string {
	unit := CanonicalUnit(ing.Unit)
	if ing.Amount <= 0 {
		return "none|" + unit
	}
	if unit == "" {
		return ""
	}
	return "sum|" + unit
}

// Aggregate 合併指向同一食材的項目；重複執行結果不變
func Aggregate(ingredients []common.Ingredient) []common.Ingredient {
	if len(ingredients) == 0 {
		return []common.Ingredient{}
	}

	var groups []*ingredientGroup
	index := make(map[string]*ingredientGroup)

	for _, ing := range ingredients {
		key := NormalizedName(ing.Name)
		if key == "" {
			key = NormalizedName(ing.OriginalText)
		}
		g, ok := index[key]
		if !ok {
			g = &ingredientGroup{key: key, buckets: make(map[string]int)}
			index[key] = g
			groups = append(groups, g)
		}

		bk := bucketKey(ing)
		if bk == "" {
			g.entries = append(g.entries, ing)
			continue
		}
		pos, seen := g.buckets[bk]
		if !seen {
			g.buckets[bk] = len(g.entries)
			g.entries = append(g.entries, ing)
			continue
		}
		if ing.Amount > 0 {
			merged := g.entries[pos]
			merged.Amount = common.Round(merged.Amount+ing.Amount, 3)
			if ing.OriginalText != "" && ing.OriginalText != merged.OriginalText {
				merged.OriginalText = merged.OriginalText + " + " + ing.OriginalText
			}
			g.entries[pos] = merged
		}
	}

	out := make([]common.Ingredient, 0, len(ingredients))
	for _, g := range groups {
		out = append(out, g.entries...)
	}
	return out
}
