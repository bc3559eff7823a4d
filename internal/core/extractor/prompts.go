package extractor

import (
	"fmt"
	"strings"
)

const recipeSchema = `{
  "isRecipe": true,
  "title": "string",
  "summary": "string",
  "ingredients": [{"originalText": "string", "name": "string", "amount": "number or fraction", "unit": "string"}],
  "instructions": [{"stepNumber": 1, "text": "string"}],
  "servings": "number",
  "readyInMinutes": "number or null",
  "dietaryFlags": {"vegetarian": false, "vegan": false, "glutenFree": false, "dairyFree": false},
  "nutritionPerServing": {"calories": 0, "protein": 0, "carbs": 0, "fat": 0},
  "imageUrl": "string"%s
}`

const systemPrompt = "You extract cooking recipes from social media posts. " +
	"Reply with exactly one JSON object and no other text. " +
	"If the content does not contain a recipe, reply with {\"isRecipe\": false}."

const captionRules = `Rules:
- Copy every ingredient line verbatim into "originalText", including preparation descriptors such as "finely chopped" or "room temperature".
- Fill "name", "amount" and "unit" from that line; use a number or a fraction for "amount" and leave it empty when no quantity is given.
- If the text contains a numbered list of steps, return exactly one instruction per numbered item, in the same order. Never merge two numbered items and never split one, even when an item is long.
- Do not invent ingredients, quantities or steps that are not in the text.
- Use "Untitled Recipe" only when no dish name can be inferred.`

const videoRules = `Rules:
- Transcribe ALL spoken content and ALL on-screen text overlays before extracting.
- When on-screen text and narration disagree, on-screen text wins: on-screen numbers are exact, spoken descriptions are approximate.
- Copy ingredient wording as shown or said into "originalText".
- Set "onScreenText" to true when any on-screen text contributed to the recipe, and "spokenContent" to true when narration contributed.
- Do not invent ingredients, quantities or steps that are neither shown nor said.`

const imageRules = `Rules:
- Read ingredient lists and steps printed on the images; use the caption only as context.
- Do not guess quantities that are not visible.`

func schema(video bool) string {
	extra := ""
	if video {
		extra = ",\n  \"onScreenText\": true,\n  \"spokenContent\": true"
	}
	return fmt.Sprintf(recipeSchema, extra)
}

// captionPrompt 說明文字層提示詞
func captionPrompt(text string) string {
	var b strings.Builder
	b.WriteString("Extract the recipe from this social media post text.\n\n")
	b.WriteString(captionRules)
	b.WriteString("\n\nReturn JSON in this shape:\n")
	b.WriteString(schema(false))
	b.WriteString("\n\nPost text:\n\"\"\"\n")
	b.WriteString(text)
	b.WriteString("\n\"\"\"")
	return b.String()
}

// videoPrompt 影片層提示詞，主要與備援模型共用
func videoPrompt(caption string) string {
	var b strings.Builder
	b.WriteString("Watch the attached cooking video and extract the recipe it shows.\n\n")
	b.WriteString(videoRules)
	b.WriteString("\n\nReturn JSON in this shape:\n")
	b.WriteString(schema(true))
	if c := strings.TrimSpace(caption); c != "" {
		b.WriteString("\n\nThe post caption, for context only:\n\"\"\"\n")
		b.WriteString(c)
		b.WriteString("\n\"\"\"")
	}
	return b.String()
}

// imagePrompt 圖片層提示詞
func imagePrompt(caption string) string {
	var b strings.Builder
	b.WriteString("Extract the recipe shown in the attached images.\n\n")
	b.WriteString(imageRules)
	b.WriteString("\n\nReturn JSON in this shape:\n")
	b.WriteString(schema(false))
	if c := strings.TrimSpace(caption); c != "" {
		b.WriteString("\n\nThe post caption:\n\"\"\"\n")
		b.WriteString(c)
		b.WriteString("\n\"\"\"")
	}
	return b.String()
}
