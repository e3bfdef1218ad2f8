// Package classifier places incidents in the three-dimensional threat
// taxonomy (technology, human, procedural).
//
// Classification is a pure function of the incident text and the taxonomy
// model: the same text and model always yield the same Result, and no state is
// kept between calls, so a Classifier may be shared across goroutines.
//
// Example:
//
//	c, err := classifier.New(taxonomy.Default())
//	if err != nil {
//		return err
//	}
//	res, err := c.Classify(incident.New("inc-1", "LockBit ransomware hits lender", ""))
//	if err != nil {
//		return err // title was empty
//	}
//	fmt.Println(res.Technology.Category, res.Technology.Subcategory, res.Confidence)
package classifier

import (
	"fmt"

	"github.com/zero-day-ai/threatmap/incident"
	"github.com/zero-day-ai/threatmap/internal/textnorm"
	"github.com/zero-day-ai/threatmap/taxonomy"
	"github.com/zero-day-ai/threatmap/threaterr"
)

// MethodAutomated marks results produced by keyword scoring.
const MethodAutomated = "automated"

// Result is the classification of one incident.
type Result struct {
	IncidentID      string `json:"incident_id"`
	TaxonomyVersion string `json:"taxonomy_version"`

	Technology Match `json:"technology"`
	Human      Match `json:"human"`
	Procedural Match `json:"procedural"`

	// Confidence is the mean of the three dimension confidences. Unmatched
	// dimensions contribute 0.
	Confidence float64 `json:"confidence"`

	// Severity is the highest severity rule with a keyword in the text, empty
	// when no rule matched.
	Severity taxonomy.Level `json:"severity,omitempty"`

	// Subsectors lists every FinTech subsector mentioned, in declaration order.
	Subsectors []string `json:"subsectors,omitempty"`

	Method string `json:"method"`
}

// Dimension returns the match for the named dimension.
func (r *Result) Dimension(name string) (Match, bool) {
	switch name {
	case taxonomy.DimensionTechnology:
		return r.Technology, true
	case taxonomy.DimensionHuman:
		return r.Human, true
	case taxonomy.DimensionProcedural:
		return r.Procedural, true
	default:
		return Match{}, false
	}
}

// Validate checks identity and confidence bounds.
func (r *Result) Validate() error {
	if r.IncidentID == "" {
		return fmt.Errorf("incident ID is required")
	}
	for _, name := range taxonomy.DimensionNames() {
		m, _ := r.Dimension(name)
		if m.Confidence < 0 || m.Confidence > 1 {
			return fmt.Errorf("%s confidence must be between 0.0 and 1.0, got %f", name, m.Confidence)
		}
		if m.Matched() != (m.Subcategory != "") {
			return fmt.Errorf("%s category and subcategory must both be set or both be empty", name)
		}
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0.0 and 1.0, got %f", r.Confidence)
	}
	if r.Severity != "" && !r.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", r.Severity)
	}
	return nil
}

// Classifier scores incidents against a taxonomy model.
type Classifier struct {
	model *taxonomy.Model
}

// New creates a Classifier bound to model.
func New(model *taxonomy.Model) (*Classifier, error) {
	if model == nil {
		return nil, threaterr.Configuration("classifier.New", "model", "taxonomy model is required")
	}
	return &Classifier{model: model}, nil
}

// Model returns the taxonomy the classifier was built with.
func (c *Classifier) Model() *taxonomy.Model {
	return c.model
}

// Classify validates inc and classifies its text. An empty title yields a
// threaterr.KindInvalidInput error and no result.
func (c *Classifier) Classify(inc incident.Incident) (*Result, error) {
	if err := inc.Validate(); err != nil {
		return nil, err
	}
	return c.ClassifyText(inc.ID, inc.Text()), nil
}

// ClassifyText classifies already-normalized text without validation.
func (c *Classifier) ClassifyText(incidentID, text string) *Result {
	res := &Result{
		IncidentID:      incidentID,
		TaxonomyVersion: c.model.Version(),
		Method:          MethodAutomated,
	}

	var sum float64
	for _, dim := range c.model.Dimensions() {
		m := Score(text, dim)
		switch dim.Name {
		case taxonomy.DimensionTechnology:
			res.Technology = m
		case taxonomy.DimensionHuman:
			res.Human = m
		case taxonomy.DimensionProcedural:
			res.Procedural = m
		}
		sum += m.Confidence
	}
	res.Confidence = sum / float64(len(taxonomy.DimensionNames()))

	res.Severity = c.severity(text)
	res.Subsectors = c.subsectors(text)

	return res
}

func (c *Classifier) severity(text string) taxonomy.Level {
	var level taxonomy.Level
	for _, rule := range c.model.SeverityRules() {
		if textnorm.CountPresent(text, rule.Keywords) == 0 {
			continue
		}
		if level == "" || taxonomy.CompareLevel(rule.Level, level) > 0 {
			level = rule.Level
		}
	}
	return level
}

func (c *Classifier) subsectors(text string) []string {
	var out []string
	for _, s := range c.model.Subsectors() {
		if textnorm.CountPresent(text, s.Keywords) > 0 {
			out = append(out, s.Name)
		}
	}
	return out
}
