package classifier

import (
	"math"

	"github.com/zero-day-ai/threatmap/internal/textnorm"
	"github.com/zero-day-ai/threatmap/taxonomy"
)

const (
	// SubcategoryWeight multiplies subcategory keyword hits; subcategory
	// evidence is more specific than category evidence.
	SubcategoryWeight = 2

	// ConfidenceScale is the total at which a dimension reaches confidence 1.0.
	ConfidenceScale = 5.0
)

// Match is the best (category, subcategory) pair found in one dimension.
// A zero Match means no keyword of the dimension occurred in the text.
type Match struct {
	Category    string  `json:"category,omitempty"`
	Subcategory string  `json:"subcategory,omitempty"`
	Total       int     `json:"total"`
	Confidence  float64 `json:"confidence"`
}

// Matched reports whether the dimension produced a category.
func (m Match) Matched() bool {
	return m.Category != ""
}

// Score finds the best category and subcategory of dim for text, which must
// already be normalized (see incident.Normalize).
//
// For every subcategory the total is the number of distinct category keywords
// present plus SubcategoryWeight times the number of distinct subcategory
// keywords present. The first pair, in declaration order, with the strictly
// highest total wins. Confidence is total/ConfidenceScale capped at 1.0.
// A category without subcategories can never be selected.
func Score(text string, dim taxonomy.Dimension) Match {
	var best Match

	for _, cat := range dim.Categories {
		categoryScore := textnorm.CountPresent(text, cat.Keywords)

		for _, sub := range cat.Subcategories {
			total := categoryScore + SubcategoryWeight*textnorm.CountPresent(text, sub.Keywords)
			if total > best.Total {
				best = Match{
					Category:    cat.Name,
					Subcategory: sub.Name,
					Total:       total,
				}
			}
		}
	}

	if best.Total > 0 {
		best.Confidence = math.Min(float64(best.Total)/ConfidenceScale, 1.0)
	}
	return best
}
