package taxonomy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zero-day-ai/threatmap/internal/textnorm"
	"github.com/zero-day-ai/threatmap/threaterr"
)

// Dimension names.
const (
	DimensionTechnology = "technology"
	DimensionHuman      = "human"
	DimensionProcedural = "procedural"
)

// UnknownTactic is returned by TacticName for identifiers outside the catalog.
const UnknownTactic = "Unknown"

// DimensionNames returns the three dimensions in classification order.
func DimensionNames() []string {
	return []string{DimensionTechnology, DimensionHuman, DimensionProcedural}
}

// Subcategory is the second-level bucket within a category.
type Subcategory struct {
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Category is a first-level bucket within a dimension. Subcategories are kept
// in declaration order, which decides ties during scoring.
type Category struct {
	Name          string        `yaml:"name" json:"name"`
	Keywords      []string      `yaml:"keywords" json:"keywords"`
	Subcategories []Subcategory `yaml:"subcategories" json:"subcategories"`
}

// Dimension is one of the three classification axes.
type Dimension struct {
	Name       string     `yaml:"name" json:"name"`
	Categories []Category `yaml:"categories" json:"categories"`
}

// Tactic is an ATT&CK tactic.
type Tactic struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Technique is an ATT&CK technique with the keywords that evidence it and a
// prior confidence in [0,1].
type Technique struct {
	ID             string   `yaml:"id" json:"id"`
	Name           string   `yaml:"name" json:"name"`
	TacticID       string   `yaml:"tactic" json:"tactic"`
	Keywords       []string `yaml:"keywords" json:"keywords"`
	BaseConfidence float64  `yaml:"confidence" json:"confidence"`
}

// SeverityRule assigns Level to any incident text containing one of Keywords.
type SeverityRule struct {
	Level    Level    `yaml:"level" json:"level"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Subsector is a FinTech market segment recognized by keyword.
type Subsector struct {
	Name     string   `yaml:"name" json:"name"`
	Keywords []string `yaml:"keywords" json:"keywords"`
}

// Definition is the declarative, unvalidated form of a taxonomy. Pass it to
// New to obtain a Model.
type Definition struct {
	Version       string         `yaml:"version" json:"version"`
	Dimensions    []Dimension    `yaml:"dimensions" json:"dimensions"`
	Tactics       []Tactic       `yaml:"tactics" json:"tactics"`
	Techniques    []Technique    `yaml:"techniques" json:"techniques"`
	SeverityRules []SeverityRule `yaml:"severity_rules" json:"severity_rules"`
	Subsectors    []Subsector    `yaml:"subsectors" json:"subsectors"`
}

// Model is a validated taxonomy. It is never modified after New returns and
// may be shared by any number of goroutines. Slices returned by its accessors
// are owned by the model and must be treated as read-only.
type Model struct {
	version       string
	dimensions    []Dimension
	dimIndex      map[string]int
	tactics       []Tactic
	tacticIndex   map[string]int
	techniques    []Technique
	techIndex     map[string]int
	severityRules []SeverityRule
	subsectors    []Subsector
}

// New validates def and returns an immutable Model built from a deep copy of
// it. Keywords are folded to lower case. Every failure is a
// threaterr.KindConfiguration error.
//
// Dimensions missing from def are present in the model with no categories.
// When def.Version is empty the version is a fingerprint of the definition.
func New(def Definition) (*Model, error) {
	const op = "taxonomy.New"

	m := &Model{
		dimIndex:    make(map[string]int),
		tacticIndex: make(map[string]int),
		techIndex:   make(map[string]int),
	}

	declared := make(map[string]Dimension)
	for _, d := range def.Dimensions {
		if !isDimensionName(d.Name) {
			return nil, threaterr.Configuration(op, "dimensions", fmt.Sprintf("unknown dimension %q", d.Name))
		}
		if _, dup := declared[d.Name]; dup {
			return nil, threaterr.Configuration(op, "dimensions", fmt.Sprintf("duplicate dimension %q", d.Name))
		}
		declared[d.Name] = d
	}

	for _, name := range DimensionNames() {
		dim, err := buildDimension(op, name, declared[name].Categories)
		if err != nil {
			return nil, err
		}
		m.dimIndex[name] = len(m.dimensions)
		m.dimensions = append(m.dimensions, dim)
	}

	for i, t := range def.Tactics {
		id := strings.TrimSpace(t.ID)
		field := fmt.Sprintf("tactics[%d]", i)
		if id == "" {
			return nil, threaterr.Configuration(op, field, "tactic id is required")
		}
		if strings.TrimSpace(t.Name) == "" {
			return nil, threaterr.Configuration(op, field, fmt.Sprintf("tactic %s has no name", id))
		}
		if _, dup := m.tacticIndex[id]; dup {
			return nil, threaterr.Configuration(op, field, fmt.Sprintf("duplicate tactic %s", id))
		}
		m.tacticIndex[id] = len(m.tactics)
		m.tactics = append(m.tactics, Tactic{ID: id, Name: t.Name})
	}

	for i, t := range def.Techniques {
		id := strings.TrimSpace(t.ID)
		field := fmt.Sprintf("techniques[%d]", i)
		if id == "" {
			return nil, threaterr.Configuration(op, field, "technique id is required")
		}
		field = "techniques." + id
		if _, dup := m.techIndex[id]; dup {
			return nil, threaterr.Configuration(op, field, "duplicate technique")
		}
		if strings.TrimSpace(t.Name) == "" {
			return nil, threaterr.Configuration(op, field+".name", "technique name is required")
		}
		if _, ok := m.tacticIndex[t.TacticID]; !ok {
			return nil, threaterr.Configuration(op, field+".tactic", fmt.Sprintf("unknown tactic %q", t.TacticID))
		}
		if t.BaseConfidence < 0 || t.BaseConfidence > 1 {
			return nil, threaterr.Configuration(op, field+".confidence",
				fmt.Sprintf("base confidence must be between 0.0 and 1.0, got %f", t.BaseConfidence))
		}
		keywords, err := foldKeywords(op, field+".keywords", t.Keywords)
		if err != nil {
			return nil, err
		}
		m.techIndex[id] = len(m.techniques)
		m.techniques = append(m.techniques, Technique{
			ID:             id,
			Name:           t.Name,
			TacticID:       t.TacticID,
			Keywords:       keywords,
			BaseConfidence: t.BaseConfidence,
		})
	}

	seenLevels := make(map[Level]bool)
	for i, r := range def.SeverityRules {
		field := fmt.Sprintf("severity_rules[%d]", i)
		if !r.Level.IsValid() {
			return nil, threaterr.Configuration(op, field+".level", fmt.Sprintf("invalid level %q", r.Level))
		}
		if seenLevels[r.Level] {
			return nil, threaterr.Configuration(op, field+".level", fmt.Sprintf("duplicate level %q", r.Level))
		}
		seenLevels[r.Level] = true
		keywords, err := foldKeywords(op, field+".keywords", r.Keywords)
		if err != nil {
			return nil, err
		}
		m.severityRules = append(m.severityRules, SeverityRule{Level: r.Level, Keywords: keywords})
	}

	seenSubsectors := make(map[string]bool)
	for i, s := range def.Subsectors {
		field := fmt.Sprintf("subsectors[%d]", i)
		if strings.TrimSpace(s.Name) == "" {
			return nil, threaterr.Configuration(op, field, "subsector name is required")
		}
		if seenSubsectors[s.Name] {
			return nil, threaterr.Configuration(op, field, fmt.Sprintf("duplicate subsector %q", s.Name))
		}
		seenSubsectors[s.Name] = true
		keywords, err := foldKeywords(op, "subsectors."+s.Name+".keywords", s.Keywords)
		if err != nil {
			return nil, err
		}
		m.subsectors = append(m.subsectors, Subsector{Name: s.Name, Keywords: keywords})
	}

	m.version = def.Version
	if m.version == "" {
		m.version = m.fingerprint()
	}

	return m, nil
}

// MustNew is like New but panics on error. Intended for package-level
// definitions that are known to be valid.
func MustNew(def Definition) *Model {
	m, err := New(def)
	if err != nil {
		panic(err)
	}
	return m
}

func buildDimension(op, name string, categories []Category) (Dimension, error) {
	dim := Dimension{Name: name}
	seen := make(map[string]bool)

	for _, c := range categories {
		if strings.TrimSpace(c.Name) == "" {
			return Dimension{}, threaterr.Configuration(op, name, "category name is required")
		}
		field := name + "." + c.Name
		if seen[c.Name] {
			return Dimension{}, threaterr.Configuration(op, field, "duplicate category")
		}
		seen[c.Name] = true

		keywords, err := foldKeywords(op, field+".keywords", c.Keywords)
		if err != nil {
			return Dimension{}, err
		}

		cat := Category{Name: c.Name, Keywords: keywords}
		seenSub := make(map[string]bool)
		for _, s := range c.Subcategories {
			if strings.TrimSpace(s.Name) == "" {
				return Dimension{}, threaterr.Configuration(op, field, "subcategory name is required")
			}
			subField := field + "." + s.Name
			if seenSub[s.Name] {
				return Dimension{}, threaterr.Configuration(op, subField, "duplicate subcategory")
			}
			seenSub[s.Name] = true

			subKeywords, err := foldKeywords(op, subField+".keywords", s.Keywords)
			if err != nil {
				return Dimension{}, err
			}
			cat.Subcategories = append(cat.Subcategories, Subcategory{Name: s.Name, Keywords: subKeywords})
		}

		dim.Categories = append(dim.Categories, cat)
	}

	return dim, nil
}

// foldKeywords returns a folded copy of keywords, rejecting empty sets, blank
// entries and duplicates.
func foldKeywords(op, field string, keywords []string) ([]string, error) {
	if len(keywords) == 0 {
		return nil, threaterr.Configuration(op, field, "keyword set is empty")
	}

	out := make([]string, 0, len(keywords))
	seen := make(map[string]bool, len(keywords))
	for _, kw := range keywords {
		folded := textnorm.Keyword(kw)
		if folded == "" {
			return nil, threaterr.Configuration(op, field, "blank keyword")
		}
		if seen[folded] {
			return nil, threaterr.Configuration(op, field, fmt.Sprintf("duplicate keyword %q", folded))
		}
		seen[folded] = true
		out = append(out, folded)
	}
	return out, nil
}

func isDimensionName(name string) bool {
	switch name {
	case DimensionTechnology, DimensionHuman, DimensionProcedural:
		return true
	default:
		return false
	}
}

// fingerprint hashes the canonical JSON form of the model.
func (m *Model) fingerprint() string {
	data, err := json.Marshal(m.Definition())
	if err != nil {
		return "unversioned"
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:6])
}

// Version identifies the model for reproducibility of classification results.
func (m *Model) Version() string {
	return m.version
}

// Dimensions returns the three dimensions in classification order.
func (m *Model) Dimensions() []Dimension {
	return m.dimensions
}

// Dimension returns the named dimension.
func (m *Model) Dimension(name string) (Dimension, bool) {
	i, ok := m.dimIndex[name]
	if !ok {
		return Dimension{}, false
	}
	return m.dimensions[i], true
}

// Tactics returns the tactic catalog in declaration order.
func (m *Model) Tactics() []Tactic {
	return m.tactics
}

// Tactic looks up a tactic by identifier.
func (m *Model) Tactic(id string) (Tactic, bool) {
	i, ok := m.tacticIndex[id]
	if !ok {
		return Tactic{}, false
	}
	return m.tactics[i], true
}

// TacticName returns the display name for id, or UnknownTactic.
func (m *Model) TacticName(id string) string {
	if t, ok := m.Tactic(id); ok {
		return t.Name
	}
	return UnknownTactic
}

// Techniques returns the technique catalog in declaration order.
func (m *Model) Techniques() []Technique {
	return m.techniques
}

// Technique looks up a technique by identifier.
func (m *Model) Technique(id string) (Technique, bool) {
	i, ok := m.techIndex[id]
	if !ok {
		return Technique{}, false
	}
	return m.techniques[i], true
}

// SeverityRules returns the severity rules in declaration order.
func (m *Model) SeverityRules() []SeverityRule {
	return m.severityRules
}

// Subsectors returns the FinTech subsectors in declaration order.
func (m *Model) Subsectors() []Subsector {
	return m.subsectors
}

// Definition returns a deep copy of the model in declarative form. Passing
// the result back to New yields an equivalent model.
func (m *Model) Definition() Definition {
	def := Definition{Version: m.version}

	for _, d := range m.dimensions {
		dc := Dimension{Name: d.Name}
		for _, c := range d.Categories {
			cc := Category{Name: c.Name, Keywords: cloneStrings(c.Keywords)}
			for _, s := range c.Subcategories {
				cc.Subcategories = append(cc.Subcategories, Subcategory{Name: s.Name, Keywords: cloneStrings(s.Keywords)})
			}
			dc.Categories = append(dc.Categories, cc)
		}
		def.Dimensions = append(def.Dimensions, dc)
	}

	def.Tactics = append([]Tactic(nil), m.tactics...)
	for _, t := range m.techniques {
		tc := t
		tc.Keywords = cloneStrings(t.Keywords)
		def.Techniques = append(def.Techniques, tc)
	}
	for _, r := range m.severityRules {
		def.SeverityRules = append(def.SeverityRules, SeverityRule{Level: r.Level, Keywords: cloneStrings(r.Keywords)})
	}
	for _, s := range m.subsectors {
		def.Subsectors = append(def.Subsectors, Subsector{Name: s.Name, Keywords: cloneStrings(s.Keywords)})
	}

	return def
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
