package taxonomy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/threatmap/threaterr"
)

// Load reads a YAML taxonomy definition from path and builds a Model.
func Load(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, threaterr.Configuration("taxonomy.Load", path, "cannot read taxonomy file").WithCause(err)
	}
	return Parse(data)
}

// Parse decodes a YAML taxonomy definition and builds a Model. Unknown fields
// are rejected so that typos fail at startup instead of silently dropping
// keywords.
//
// Categories, subcategories and techniques are YAML sequences; their order
// in the document is the tie-break order used by scoring.
func Parse(data []byte) (*Model, error) {
	var def Definition

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, threaterr.Configuration("taxonomy.Parse", "", "empty taxonomy document")
		}
		return nil, threaterr.Configuration("taxonomy.Parse", "", "cannot decode taxonomy").WithCause(err)
	}

	return New(def)
}

// MarshalYAML renders the model as a YAML definition that Parse accepts.
func (m *Model) MarshalYAML() (any, error) {
	return m.Definition(), nil
}

// Encode writes the model to w as YAML.
func Encode(w io.Writer, m *Model) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m.Definition()); err != nil {
		return fmt.Errorf("encode taxonomy: %w", err)
	}
	return enc.Close()
}
