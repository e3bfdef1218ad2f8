// Package mitre maps incidents to MITRE ATT&CK techniques and aggregates the
// mappings into a technique heat summary.
//
// Matching is keyword based. Each catalog technique with at least one keyword
// in the incident text yields a Mapping whose confidence grows with the number
// of distinct keywords matched and never falls below half the technique's base
// confidence. Aggregation is an Accumulator, which can be fed incrementally and
// merged, so summaries over large batches can be computed in parallel.
package mitre

import (
	"fmt"
	"math"

	"github.com/zero-day-ai/threatmap/incident"
	"github.com/zero-day-ai/threatmap/internal/textnorm"
	"github.com/zero-day-ai/threatmap/taxonomy"
	"github.com/zero-day-ai/threatmap/threaterr"
)

const (
	// SourceKeyword marks mappings produced by keyword matching.
	SourceKeyword = "automated_keyword"

	// MatrixEnterprise is the ATT&CK matrix every catalog technique belongs to.
	MatrixEnterprise = "enterprise"

	// MatchWeight is the confidence contributed by each distinct keyword hit.
	MatchWeight = 0.3

	// BaseConfidenceFloor is the share of a technique's base confidence a
	// mapping is guaranteed once any keyword matched.
	BaseConfidenceFloor = 0.5
)

// Mapping links one incident to one ATT&CK technique.
type Mapping struct {
	// IncidentID identifies the mapped incident.
	IncidentID string `json:"incident_id"`

	// Matrix identifies the MITRE matrix (always "enterprise" for now).
	Matrix string `json:"matrix"`

	// TechniqueID is the ATT&CK technique identifier (e.g., "T1566").
	TechniqueID string `json:"technique_id"`

	// TechniqueName is the human-readable technique name.
	TechniqueName string `json:"technique_name"`

	// TacticID is the ATT&CK tactic identifier (e.g., "TA0001").
	TacticID string `json:"tactic_id"`

	// TacticName is the human-readable tactic name, "Unknown" when the tactic
	// is not in the catalog.
	TacticName string `json:"tactic_name"`

	// Confidence is in [0.0, 1.0].
	Confidence float64 `json:"confidence"`

	// Matches is the number of distinct technique keywords found.
	Matches int `json:"matches"`

	// Source records how the mapping was produced.
	Source string `json:"source"`
}

// Validate checks that the mapping is complete and in range.
func (m *Mapping) Validate() error {
	if m.IncidentID == "" {
		return fmt.Errorf("incident ID is required")
	}
	if m.TechniqueID == "" {
		return fmt.Errorf("technique ID is required")
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %f", m.Confidence)
	}
	if m.Matches < 1 {
		return fmt.Errorf("matches must be positive, got %d", m.Matches)
	}
	return nil
}

// Key identifies the (incident, technique) pair; at most one mapping per key
// is stored.
func (m *Mapping) Key() string {
	return m.IncidentID + "/" + m.TechniqueID
}

// MappingConfidence computes the confidence for a technique with base
// confidence base and matches distinct keyword hits. Zero matches yields 0.
func MappingConfidence(matches int, base float64) float64 {
	if matches <= 0 {
		return 0
	}
	return math.Max(math.Min(MatchWeight*float64(matches), 1.0), BaseConfidenceFloor*base)
}

// Matcher evaluates the technique catalog of a taxonomy model against text.
type Matcher struct {
	model *taxonomy.Model
}

// NewMatcher creates a Matcher over model's technique catalog.
func NewMatcher(model *taxonomy.Model) *Matcher {
	return &Matcher{model: model}
}

// Match returns one mapping per technique with at least one keyword in text,
// which must already be normalized. Mappings come back in catalog order with
// IncidentID unset.
func (m *Matcher) Match(text string) []Mapping {
	var out []Mapping
	for _, tech := range m.model.Techniques() {
		matches := textnorm.CountPresent(text, tech.Keywords)
		if matches == 0 {
			continue
		}
		out = append(out, Mapping{
			Matrix:        MatrixEnterprise,
			TechniqueID:   tech.ID,
			TechniqueName: tech.Name,
			TacticID:      tech.TacticID,
			TacticName:    m.model.TacticName(tech.TacticID),
			Confidence:    MappingConfidence(matches, tech.BaseConfidence),
			Matches:       matches,
			Source:        SourceKeyword,
		})
	}
	return out
}

// Mapper maps incidents to techniques and summarizes the result.
type Mapper struct {
	matcher *Matcher
}

// NewMapper creates a Mapper bound to model.
func NewMapper(model *taxonomy.Model) (*Mapper, error) {
	if model == nil {
		return nil, threaterr.Configuration("mitre.NewMapper", "model", "taxonomy model is required")
	}
	return &Mapper{matcher: NewMatcher(model)}, nil
}

// Map validates inc and returns its technique mappings. An incident that
// matches no technique yields an empty slice and no error.
func (m *Mapper) Map(inc incident.Incident) ([]Mapping, error) {
	if err := inc.Validate(); err != nil {
		return nil, err
	}
	return m.MapText(inc.ID, inc.Text()), nil
}

// MapText maps already-normalized text without validation.
func (m *Mapper) MapText(incidentID, text string) []Mapping {
	mappings := m.matcher.Match(text)
	for i := range mappings {
		mappings[i].IncidentID = incidentID
	}
	return mappings
}

// Summarize aggregates mappings into a technique summary.
func (m *Mapper) Summarize(mappings []Mapping) *Summary {
	acc := NewAccumulator()
	for _, mp := range mappings {
		acc.Add(mp)
	}
	return acc.Summary()
}
