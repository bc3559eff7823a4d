package recipe

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"recipe-extractor/internal/pkg/common"
)

// UntitledTitle 標題缺失時的固定值，會降低信心分數
const UntitledTitle = "Untitled Recipe"

var vulgarFractions = map[rune]string{
	'½': "1/2", '⅓': "1/3", '⅔': "2/3", '¼': "1/4", '¾': "3/4",
	'⅕': "1/5", '⅖': "2/5", '⅗': "3/5", '⅘': "4/5", '⅙': "1/6",
	'⅚': "5/6", '⅛': "1/8", '⅜': "3/8", '⅝': "5/8", '⅞': "7/8",
}

const numberExpr = `\d+\s+\d+/\d+|\d+/\d+|\d+(?:[.,]\d+)?|[.,]\d+`

var (
	quantityPattern = regexp.MustCompile(`^\s*(` + numberExpr + `)(?:\s*(?:-|–|to|or)\s*(?:` + numberExpr + `))?`)
	stepPrefix      = regexp.MustCompile(`(?i)^\s*(?:step\s*)?\d+\s*(?:[):\-]\s*|\.\s+)|^\s*[-•*]\s+`)
	leadingNumber   = regexp.MustCompile(`^\s*(\d+(?:\.\d+)?)`)
	anyNumber       = regexp.MustCompile(`\d+(?:\.\d+)?`)
	durationPart    = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(hours?|hrs?|h|minutes?|mins?|m)?\b`)
)

var unitAliases = map[string]string{
	"cup": "cup", "cups": "cup", "c": "cup",
	"tablespoon": "tbsp", "tablespoons": "tbsp", "tbsp": "tbsp", "tbsps": "tbsp", "tbs": "tbsp", "tbl": "tbsp",
	"teaspoon": "tsp", "teaspoons": "tsp", "tsp": "tsp", "tsps": "tsp",
	"gram": "g", "grams": "g", "g": "g", "gr": "g",
	"kilogram": "kg", "kilograms": "kg", "kg": "kg",
	"milliliter": "ml", "milliliters": "ml", "millilitre": "ml", "millilitres": "ml", "ml": "ml",
	"liter": "l", "liters": "l", "litre": "l", "litres": "l", "l": "l",
	"ounce": "oz", "ounces": "oz", "oz": "oz",
	"pound": "lb", "pounds": "lb", "lb": "lb", "lbs": "lb",
	"pinch": "pinch", "pinches": "pinch",
	"dash": "dash", "dashes": "dash",
	"clove": "clove", "cloves": "clove",
	"can": "can", "cans": "can",
	"slice": "slice", "slices": "slice",
	"stick": "stick", "sticks": "stick",
	"piece": "piece", "pieces": "piece", "pcs": "piece",
	"package": "package", "packages": "package", "pkg": "package",
	"bunch": "bunch", "bunches": "bunch",
	"handful": "handful", "handfuls": "handful",
	"quart": "qt", "quarts": "qt", "qt": "qt",
	"pint": "pt", "pints": "pt", "pt": "pt",
}

// CanonicalUnit 單位正規化，無法辨識時回傳小寫原值
func CanonicalUnit(unit string) string {
	u := strings.ToLower(strings.TrimSpace(unit))
	u = strings.TrimSuffix(u, ".")
	if u == "fl oz" || u == "fl. oz" {
		return "fl oz"
	}
	if canon, ok := unitAliases[u]; ok {
		return canon
	}
	return u
}

// expandFractions 將 ½ 之類的字元轉成 1/2，並把 1½ 轉成 1 1/2
func expandFractions(s string) string {
	var b strings.Builder
	for _, r := range s {
		if frac, ok := vulgarFractions[r]; ok {
			b.WriteByte(' ')
			b.WriteString(frac)
			continue
		}
		if r == '⁄' {
			b.WriteByte('/')
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// parseNumber 解析單一數值：整數、小數、分數或帶分數
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	fields := strings.Fields(s)
	switch len(fields) {
	case 1:
		if num, den, ok := strings.Cut(fields[0], "/"); ok {
			n, err1 := strconv.ParseFloat(num, 64)
			d, err2 := strconv.ParseFloat(den, 64)
			if err1 != nil || err2 != nil || d == 0 {
				return 0, false
			}
			return n / d, true
		}
		v, err := strconv.ParseFloat(fields[0], 64)
		return v, err == nil
	case 2:
		whole, ok1 := parseNumber(fields[0])
		frac, ok2 := parseNumber(fields[1])
		if !ok1 || !ok2 || !strings.Contains(fields[1], "/") {
			return 0, false
		}
		return whole + frac, true
	}
	return 0, false
}

// splitQuantity 取出開頭的數量，範圍取下限；回傳數量與剩餘文字
func splitQuantity(s string) (float64, string, bool) {
	s = expandFractions(s)
	m := quantityPattern.FindStringSubmatchIndex(s)
	if m == nil {
		return 0, s, false
	}
	v, ok := parseNumber(s[m[2]:m[3]])
	if !ok {
		return 0, s, false
	}
	return v, strings.TrimSpace(s[m[1]:]), true
}

// ParseAmount 將 "1/2"、"1 1/2"、"½"、"2-3" 等文字轉為小數
func ParseAmount(s string) (float64, bool) {
	v, _, ok := splitQuantity(s)
	if !ok {
		return 0, false
	}
	return common.Round(v, 3), true
}

// ParseIngredientLine 將 "2 cups flour, sifted" 拆成數量、單位與名稱
func ParseIngredientLine(line string) (amount float64, unit, name string) {
	rest := line
	if v, remaining, ok := splitQuantity(line); ok {
		amount = common.Round(v, 3)
		rest = remaining
	} else {
		rest = expandFractions(line)
	}

	fields := strings.Fields(rest)
	switch {
	case len(fields) >= 2 && CanonicalUnit(fields[0]+" "+fields[1]) == "fl oz":
		unit = "fl oz"
		fields = fields[2:]
	case len(fields) >= 1 && amount > 0:
		if canon, ok := unitAliases[strings.TrimSuffix(strings.ToLower(fields[0]), ".")]; ok {
			unit = canon
			fields = fields[1:]
		}
	}
	if len(fields) > 0 && strings.EqualFold(fields[0], "of") {
		fields = fields[1:]
	}

	name = strings.Join(fields, " ")
	if i := strings.IndexByte(name, ','); i >= 0 {
		name = name[:i]
	}
	return amount, unit, strings.TrimRight(strings.TrimSpace(name), ".;:")
}

// Normalize 將模型原始輸出轉為標準化食譜；不套用預設值，缺失欄位保持零值
func Normalize(raw *common.RawRecipe) *common.RecipeCandidate {
	out := &common.RecipeCandidate{
		Ingredients:  []common.Ingredient{},
		Instructions: []common.Instruction{},
	}
	if raw == nil || (raw.IsRecipe != nil && !*raw.IsRecipe) {
		return out
	}

	out.Title = strings.TrimSpace(raw.Title)
	out.Summary = strings.TrimSpace(raw.Summary)
	out.ImageURL = strings.TrimSpace(raw.ImageURL)

	for _, ing := range raw.Ingredients {
		if n, ok := normalizeIngredient(ing); ok {
			out.Ingredients = append(out.Ingredients, n)
		}
	}

	for _, step := range raw.Instructions {
		text := strings.TrimSpace(stepPrefix.ReplaceAllString(step.Text, ""))
		if text == "" {
			continue
		}
		out.Instructions = append(out.Instructions, common.Instruction{Text: text})
	}
	renumber(out.Instructions)

	if v := parseServings(string(raw.Servings)); v > 0 {
		out.Servings = v
	}
	if v := parseMinutes(string(raw.ReadyInMinutes)); v > 0 {
		minutes := int(math.Round(v))
		out.ReadyInMinutes = &minutes
	}

	out.DietaryFlags = normalizeFlags(raw.DietaryFlags)
	out.NutritionPerServing = normalizeNutrition(raw.Nutrition)
	return out
}

// parseServings 接受 "4"、"4-6 servings"、"Serves 4"
func parseServings(s string) float64 {
	if v, ok := ParseAmount(s); ok {
		return v
	}
	if m := anyNumber.FindString(s); m != "" {
		v, _ := strconv.ParseFloat(m, 64)
		return v
	}
	return 0
}

// parseMinutes 接受 "25"、"25 min"、"1 hour 30 minutes"
func parseMinutes(s string) float64 {
	total := 0.0
	for _, m := range durationPart.FindAllStringSubmatch(s, -1) {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		if u := strings.ToLower(m[2]); u != "" && u[0] == 'h' {
			v *= 60
		}
		total += v
	}
	return total
}

func normalizeIngredient(raw common.RawIngredient) (common.Ingredient, bool) {
	original := strings.TrimSpace(raw.OriginalText)
	name := strings.TrimSpace(raw.Name)
	unit := CanonicalUnit(raw.Unit)
	amount, hasAmount := ParseAmount(string(raw.Amount))

	if original != "" && (name == "" || !hasAmount) {
		pAmount, pUnit, pName := ParseIngredientLine(original)
		if name == "" {
			name = pName
		}
		if !hasAmount && pAmount > 0 {
			amount = pAmount
			if unit == "" {
				unit = pUnit
			}
		}
	}
	if name == "" && original == "" {
		return common.Ingredient{}, false
	}
	if name == "" {
		name = original
	}
	if original == "" {
		original = composeOriginal(amount, unit, name)
	}
	return common.Ingredient{
		OriginalText: original,
		Name:         name,
		Amount:       amount,
		Unit:         unit,
	}, true
}

func composeOriginal(amount float64, unit, name string) string {
	parts := make([]string, 0, 3)
	if amount > 0 {
		parts = append(parts, strconv.FormatFloat(amount, 'f', -1, 64))
	}
	if unit != "" {
		parts = append(parts, unit)
	}
	parts = append(parts, name)
	return strings.Join(parts, " ")
}

func renumber(steps []common.Instruction) {
	for i := range steps {
		steps[i].StepNumber = i + 1
	}
}

func flagKey(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "_", "")
	return strings.ReplaceAll(k, "-", "")
}

// normalizeFlags 只設定模型有回傳的鍵
func normalizeFlags(raw map[string]bool) common.DietaryFlags {
	var flags common.DietaryFlags
	for k, v := range raw {
		v := v
		switch flagKey(k) {
		case "vegetarian":
			flags.Vegetarian = &v
		case "vegan":
			flags.Vegan = &v
		case "glutenfree":
			flags.GlutenFree = &v
		case "dairyfree":
			flags.DairyFree = &v
		}
	}
	return flags
}

func defaultFlag(f **bool) {
	if *f == nil {
		no := false
		*f = &no
	}
}

func normalizeNutrition(raw map[string]common.FlexString) *common.Nutrition {
	if len(raw) == 0 {
		return nil
	}
	var n common.Nutrition
	found := false
	for k, v := range raw {
		m := leadingNumber.FindStringSubmatch(string(v))
		if m == nil {
			continue
		}
		val, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		found = true
		switch flagKey(k) {
		case "calories", "kcal", "energy":
			n.Calories = val
		case "protein":
			n.Protein = val
		case "carbs", "carbohydrates":
			n.Carbs = val
		case "fat":
			n.Fat = val
		case "fiber", "fibre":
			n.Fiber = val
		case "sugar", "sugars":
			n.Sugar = val
		case "sodium":
			n.Sodium = val
		}
	}
	if !found {
		return nil
	}
	return &n
}

// Finalize 套用輸出預設值：標題、份量、非 nil 的列表與連續步驟編號
func Finalize(c *common.RecipeCandidate) *common.RecipeCandidate {
	if c == nil {
		c = &common.RecipeCandidate{}
	}
	if strings.TrimSpace(c.Title) == "" {
		c.Title = UntitledTitle
	}
	if c.Servings <= 0 {
		c.Servings = 1
	}
	if c.Ingredients == nil {
		c.Ingredients = []common.Ingredient{}
	}
	if c.Instructions == nil {
		c.Instructions = []common.Instruction{}
	}
	renumber(c.Instructions)
	defaultFlag(&c.DietaryFlags.Vegetarian)
	defaultFlag(&c.DietaryFlags.Vegan)
	defaultFlag(&c.DietaryFlags.GlutenFree)
	defaultFlag(&c.DietaryFlags.DairyFree)
	return c
}
