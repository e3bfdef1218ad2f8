package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zero-day-ai/threatmap/taxonomy"
)

// scoringDimension has no keyword that is a substring of another, so every
// hit below is intentional.
var scoringDimension = taxonomy.Dimension{
	Name: taxonomy.DimensionTechnology,
	Categories: []taxonomy.Category{
		{
			Name:     "alpha",
			Keywords: []string{"alpha", "first"},
			Subcategories: []taxonomy.Subcategory{
				{Name: "a1", Keywords: []string{"one", "uno"}},
				{Name: "a2", Keywords: []string{"two"}},
			},
		},
		{
			Name:     "beta",
			Keywords: []string{"beta"},
			Subcategories: []taxonomy.Subcategory{
				{Name: "b1", Keywords: []string{"three"}},
			},
		},
		{
			Name:     "gamma",
			Keywords: []string{"gamma", "shared"},
		},
		{
			Name:     "delta",
			Keywords: []string{"delta"},
			Subcategories: []taxonomy.Subcategory{
				{Name: "d1", Keywords: []string{"four"}},
			},
		},
	},
}

func TestScore(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Match
	}{
		{
			name: "empty text",
			text: "",
			want: Match{},
		},
		{
			name: "subcategory tie keeps first declared",
			text: "one two",
			want: Match{Category: "alpha", Subcategory: "a1", Total: 2, Confidence: 0.4},
		},
		{
			name: "category tie keeps first declared",
			text: "three one",
			want: Match{Category: "alpha", Subcategory: "a1", Total: 2, Confidence: 0.4},
		},
		{
			name: "later category wins when strictly higher",
			text: "one beta three",
			want: Match{Category: "beta", Subcategory: "b1", Total: 3, Confidence: 0.6},
		},
		{
			name: "repeated keyword counts once",
			text: "three three three",
			want: Match{Category: "beta", Subcategory: "b1", Total: 2, Confidence: 0.4},
		},
		{
			name: "category keywords without subcategory hits",
			text: "alpha first",
			want: Match{Category: "alpha", Subcategory: "a1", Total: 2, Confidence: 0.4},
		},
		{
			name: "category without subcategories is never selected",
			text: "gamma shared",
			want: Match{},
		},
		{
			name: "category without subcategories loses to a weaker match",
			text: "gamma shared four",
			want: Match{Category: "delta", Subcategory: "d1", Total: 2, Confidence: 0.4},
		},
		{
			name: "confidence capped at one",
			text: "alpha first one uno",
			want: Match{Category: "alpha", Subcategory: "a1", Total: 6, Confidence: 1.0},
		},
		{
			name: "substring inside a longer word",
			text: "the betamax tape",
			want: Match{Category: "beta", Subcategory: "b1", Total: 1, Confidence: 0.2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.text, scoringDimension)
			assert.Equal(t, tt.want.Category, got.Category)
			assert.Equal(t, tt.want.Subcategory, got.Subcategory)
			assert.Equal(t, tt.want.Total, got.Total)
			assert.InDelta(t, tt.want.Confidence, got.Confidence, 1e-9)
		})
	}
}

func TestScore_AddingWinningKeywordNeverLowersTotal(t *testing.T) {
	texts := []string{
		"one",
		"alpha",
		"one two",
		"beta three one",
		"delta four gamma",
		"alpha first one uno",
	}

	for _, text := range texts {
		before := Score(text, scoringDimension)
		if !before.Matched() {
			continue
		}

		for _, kw := range winningKeywords(before) {
			after := Score(text+" "+kw, scoringDimension)
			assert.GreaterOrEqual(t, after.Total, before.Total, "%q + %q", text, kw)
			assert.GreaterOrEqual(t, after.Confidence, before.Confidence, "%q + %q", text, kw)
			assert.Equal(t, before.Category, after.Category, "%q + %q", text, kw)
			assert.Equal(t, before.Subcategory, after.Subcategory, "%q + %q", text, kw)
		}
	}
}

func winningKeywords(m Match) []string {
	var out []string
	for _, cat := range scoringDimension.Categories {
		if cat.Name != m.Category {
			continue
		}
		out = append(out, cat.Keywords...)
		for _, sub := range cat.Subcategories {
			if sub.Name == m.Subcategory {
				out = append(out, sub.Keywords...)
			}
		}
	}
	return out
}
