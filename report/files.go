package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zero-day-ai/threatmap/incident"
	"github.com/zero-day-ai/threatmap/mitre"
)

// File base names written by WriteFiles.
const (
	NavigatorFile       = "attack_navigator"
	IncidentsFile       = "incidents_export"
	MappingsFile        = "mitre_mappings"
	ClassificationsFile = "classifications"
	SummaryFile         = "technique_summary"
	ExecutiveFile       = "executive_summary"
)

// Bundle is everything WriteFiles can export.
type Bundle struct {
	Overview

	// Incidents are written to the incidents CSV, classified or not.
	// Their titles also fill the mappings CSV.
	Incidents []incident.Incident

	// Mappings are written to the mappings CSV.
	Mappings []mitre.Mapping

	// LayerName overrides the Navigator layer name.
	LayerName string
}

// WriteFiles writes bundle to dir in each format and returns the paths
// written. dir is created if needed. Duplicate formats are written once.
func WriteFiles(dir string, formats []Format, bundle Bundle) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	var paths []string
	write := func(base string, f Format, fn func(io.Writer) error) error {
		path := filepath.Join(dir, base+f.FileExtension())
		if err := writeFile(path, fn); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	}

	seen := make(map[Format]bool)
	for _, f := range formats {
		if !f.IsValid() {
			return paths, fmt.Errorf("invalid report format: %s", f)
		}
		if seen[f] {
			continue
		}
		seen[f] = true

		var err error
		switch f {
		case FormatJSON:
			layer := NavigatorLayer(bundle.Summary, NavigatorOptions{Name: bundle.LayerName, Generated: bundle.Generated})
			err = write(NavigatorFile, f, func(w io.Writer) error { return WriteLayer(w, layer) })
		case FormatCSV:
			err = write(IncidentsFile, f, func(w io.Writer) error {
				return WriteIncidentsCSV(w, bundle.Incidents, bundle.Classifications)
			})
			if err == nil {
				index := NewIndex(bundle.Incidents, bundle.Classifications)
				err = write(MappingsFile, f, func(w io.Writer) error { return WriteMappingsCSV(w, bundle.Mappings, index) })
			}
			if err == nil {
				err = write(ClassificationsFile, f, func(w io.Writer) error {
					return WriteClassificationsCSV(w, bundle.Classifications)
				})
			}
			if err == nil {
				err = write(SummaryFile, f, func(w io.Writer) error { return WriteSummaryCSV(w, bundle.Summary) })
			}
		case FormatText:
			err = write(ExecutiveFile, f, func(w io.Writer) error { return ExecutiveSummary(w, bundle.Overview) })
		case FormatHTML:
			err = write(ExecutiveFile, f, func(w io.Writer) error { return ExecutiveSummaryHTML(w, bundle.Overview) })
		}
		if err != nil {
			return paths, err
		}
	}
	return paths, nil
}

func writeFile(path string, fn func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close %s: %w", path, cerr)
		}
	}()
	return fn(f)
}
