// Package incident defines the incident record consumed by the classification
// engine. Only Title and Description are read by scoring; everything else is
// carried for collaborators.
package incident

import (
	"fmt"
	"strings"

	"github.com/zero-day-ai/threatmap/internal/textnorm"
	"github.com/zero-day-ai/threatmap/threaterr"
)

// Incident is a short free-text incident report.
type Incident struct {
	// ID is the caller-supplied identifier, stable across re-runs.
	ID string `json:"id"`

	// Title is required and must contain non-whitespace text.
	Title string `json:"title"`

	// Description is optional.
	Description string `json:"description,omitempty"`

	// Attributes are opaque to scoring (source, severity, company, ...). They
	// are exposed to selection filters and persisted by stores.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// New creates an incident with the given identity and text.
func New(id, title, description string) Incident {
	return Incident{
		ID:          id,
		Title:       title,
		Description: description,
	}
}

// WithAttribute returns a copy of the incident with key set to value.
func (i Incident) WithAttribute(key, value string) Incident {
	attrs := make(map[string]string, len(i.Attributes)+1)
	for k, v := range i.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	i.Attributes = attrs
	return i
}

// Validate returns a threaterr.KindInvalidInput error when the title is
// absent or whitespace only. A single-character title is valid.
func (i Incident) Validate() error {
	if strings.TrimSpace(i.Title) == "" {
		return threaterr.InvalidInput("incident.Validate", "title",
			fmt.Sprintf("incident %q: title is required", i.ID))
	}
	return nil
}

// Text returns the scoring text: title and description joined by one space,
// NFKC-normalized and lower-cased. It is computed once per incident and
// shared by every dimension and the technique catalog.
func (i Incident) Text() string {
	return Normalize(i.Title, i.Description)
}

// Normalize builds scoring text from a title and description.
func Normalize(title, description string) string {
	return textnorm.Fold(title + " " + description)
}
