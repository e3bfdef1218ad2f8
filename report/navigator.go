package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/zero-day-ai/threatmap/mitre"
)

// Navigator layer constants.
const (
	AttackVersion    = "14"
	NavigatorVersion = "4.9.1"
	LayerVersion     = "4.5"
	DomainEnterprise = "enterprise-attack"

	// DefaultLayerName is used when NavigatorOptions.Name is empty.
	DefaultLayerName = "FinTech Threat Taxonomy - Real Incidents"
)

// Layer is an ATT&CK Navigator layer document.
type Layer struct {
	Name         string           `json:"name"`
	Versions     LayerVersions    `json:"versions"`
	Domain       string           `json:"domain"`
	Description  string           `json:"description"`
	Filters      LayerFilters     `json:"filters"`
	Sorting      int              `json:"sorting"`
	Layout       LayerLayout      `json:"layout"`
	HideDisabled bool             `json:"hideDisabled"`
	Techniques   []LayerTechnique `json:"techniques"`
}

type LayerVersions struct {
	Attack    string `json:"attack"`
	Navigator string `json:"navigator"`
	Layer     string `json:"layer"`
}

type LayerFilters struct {
	Platforms []string `json:"platforms"`
}

type LayerLayout struct {
	Layout            string `json:"layout"`
	AggregateFunction string `json:"aggregateFunction"`
	ShowID            bool   `json:"showID"`
	ShowName          bool   `json:"showName"`
}

// LayerTechnique is one scored cell of the matrix.
type LayerTechnique struct {
	TechniqueID string          `json:"techniqueID"`
	Score       float64         `json:"score"`
	Color       string          `json:"color"`
	Comment     string          `json:"comment"`
	Enabled     bool            `json:"enabled"`
	Metadata    []LayerMetadata `json:"metadata"`
}

type LayerMetadata struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NavigatorOptions customizes the generated layer.
type NavigatorOptions struct {
	// Name defaults to DefaultLayerName.
	Name string

	// Generated is stamped into the description. Defaults to time.Now().
	Generated time.Time
}

// NavigatorLayer builds a Navigator layer with one technique entry per
// summarized technique, in summary order.
func NavigatorLayer(summary *mitre.Summary, opts NavigatorOptions) *Layer {
	if opts.Name == "" {
		opts.Name = DefaultLayerName
	}
	if opts.Generated.IsZero() {
		opts.Generated = time.Now()
	}

	layer := &Layer{
		Name: opts.Name,
		Versions: LayerVersions{
			Attack:    AttackVersion,
			Navigator: NavigatorVersion,
			Layer:     LayerVersion,
		},
		Domain: DomainEnterprise,
		Description: fmt.Sprintf("Real FinTech cyber threats mapped to MITRE ATT&CK (Generated: %s)",
			opts.Generated.Format(time.DateOnly)),
		Filters: LayerFilters{
			Platforms: []string{"Windows", "Linux", "macOS", "Network", "Cloud"},
		},
		Layout: LayerLayout{
			Layout:            "side",
			AggregateFunction: "average",
			ShowID:            true,
			ShowName:          true,
		},
		Techniques: []LayerTechnique{},
	}

	if summary == nil {
		return layer
	}
	for _, t := range summary.Techniques {
		layer.Techniques = append(layer.Techniques, LayerTechnique{
			TechniqueID: t.TechniqueID,
			Score:       t.Score,
			Color:       t.Color,
			Comment:     t.Comment,
			Enabled:     true,
			Metadata: []LayerMetadata{
				{Name: "tactic", Value: t.TacticID},
				{Name: "bucket", Value: t.Bucket.String()},
			},
		})
	}
	return layer
}

// WriteLayer writes layer as indented JSON.
func WriteLayer(w io.Writer, layer *Layer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(layer); err != nil {
		return fmt.Errorf("failed to encode navigator layer: %w", err)
	}
	return nil
}
