package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEvidenceBundle_UsableVideo(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	b := &EvidenceBundle{Video: &VideoRef{URL: "https://cdn.example/v.mp4", ExpiresAt: now.Add(-time.Minute)}}
	assert.Nil(t, b.UsableVideo(now), "expired reference must be treated as absent")

	b.Video.ExpiresAt = now.Add(time.Hour)
	assert.NotNil(t, b.UsableVideo(now))

	b.Video.ExpiresAt = time.Time{}
	assert.NotNil(t, b.UsableVideo(now), "zero expiry means unknown, not expired")

	b.Video = &VideoRef{}
	assert.Nil(t, b.UsableVideo(now))
}

func TestEvidenceBundle_CombinedText(t *testing.T) {
	b := &EvidenceBundle{CaptionText: "  caption ", AuthorComments: []string{"", "recipe in comment"}}
	assert.Equal(t, "caption\n\nrecipe in comment", b.CombinedText())
}

func TestRecipeCandidate_IsComplete(t *testing.T) {
	r := &RecipeCandidate{
		Ingredients:  make([]Ingredient, 3),
		Instructions: make([]Instruction, 2),
	}
	assert.True(t, r.IsComplete())

	r.Instructions = r.Instructions[:1]
	assert.False(t, r.IsComplete())

	var nilRecipe *RecipeCandidate
	assert.False(t, nilRecipe.IsComplete())
	assert.True(t, nilRecipe.IsEmpty())
}
