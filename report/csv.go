package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/zero-day-ai/threatmap/classifier"
	"github.com/zero-day-ai/threatmap/incident"
	"github.com/zero-day-ai/threatmap/mitre"
)

// CSV headers.
var (
	MappingsHeader = []string{
		"incident_id", "title", "tactic_id", "tactic_name", "technique_id", "technique_name",
		"confidence", "matches", "source", "severity",
	}

	IncidentsHeader = []string{
		"incident_id", "title", "description", "severity",
		"tech_category", "human_category", "procedural_category",
		"confidence", "subsectors",
	}

	ClassificationsHeader = []string{
		"incident_id", "taxonomy_version",
		"tech_category", "tech_subcategory", "tech_confidence",
		"human_category", "human_subcategory", "human_confidence",
		"procedural_category", "procedural_subcategory", "procedural_confidence",
		"confidence", "severity", "subsectors", "method",
	}

	SummaryHeader = []string{
		"technique_id", "technique_name", "tactic_id", "tactic_name",
		"count", "avg_confidence", "score", "bucket", "color",
	}
)

// Index joins incidents and classifications by incident ID for export rows.
// The zero Index knows no incident and leaves joined columns empty.
type Index struct {
	incidents map[string]incident.Incident
	results   map[string]*classifier.Result
}

// NewIndex indexes incidents and results. Nil results are skipped.
func NewIndex(incidents []incident.Incident, results []*classifier.Result) Index {
	x := Index{
		incidents: make(map[string]incident.Incident, len(incidents)),
		results:   make(map[string]*classifier.Result, len(results)),
	}
	for _, inc := range incidents {
		x.incidents[inc.ID] = inc
	}
	for _, r := range results {
		if r != nil {
			x.results[r.IncidentID] = r
		}
	}
	return x
}

// Title returns the title of incident id, empty when unknown.
func (x Index) Title(id string) string {
	return x.incidents[id].Title
}

// Severity returns the classified severity of incident id, empty when the
// incident is unclassified or matched no severity rule.
func (x Index) Severity(id string) string {
	if r := x.results[id]; r != nil {
		return r.Severity.String()
	}
	return ""
}

// WriteMappingsCSV writes one row per mapping, in the given order, with the
// incident title and severity looked up in x.
func WriteMappingsCSV(w io.Writer, mappings []mitre.Mapping, x Index) error {
	rows := make([][]string, 0, len(mappings))
	for _, m := range mappings {
		rows = append(rows, []string{
			m.IncidentID, x.Title(m.IncidentID), m.TacticID, m.TacticName, m.TechniqueID, m.TechniqueName,
			formatFloat(m.Confidence), strconv.Itoa(m.Matches), m.Source, x.Severity(m.IncidentID),
		})
	}
	return writeCSV(w, MappingsHeader, rows)
}

// WriteIncidentsCSV writes one row per incident, in the given order, joined
// with its classification. Unclassified incidents keep empty classification
// columns.
func WriteIncidentsCSV(w io.Writer, incidents []incident.Incident, results []*classifier.Result) error {
	x := NewIndex(nil, results)
	rows := make([][]string, 0, len(incidents))
	for _, inc := range incidents {
		row := []string{inc.ID, inc.Title, inc.Description, "", "", "", "", "", ""}
		if r := x.results[inc.ID]; r != nil {
			row[3] = r.Severity.String()
			row[4] = r.Technology.Category
			row[5] = r.Human.Category
			row[6] = r.Procedural.Category
			row[7] = formatFloat(r.Confidence)
			row[8] = strings.Join(r.Subsectors, ";")
		}
		rows = append(rows, row)
	}
	return writeCSV(w, IncidentsHeader, rows)
}

// WriteClassificationsCSV writes one row per classification. Subsectors are
// joined with ";".
func WriteClassificationsCSV(w io.Writer, results []*classifier.Result) error {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		rows = append(rows, []string{
			r.IncidentID, r.TaxonomyVersion,
			r.Technology.Category, r.Technology.Subcategory, formatFloat(r.Technology.Confidence),
			r.Human.Category, r.Human.Subcategory, formatFloat(r.Human.Confidence),
			r.Procedural.Category, r.Procedural.Subcategory, formatFloat(r.Procedural.Confidence),
			formatFloat(r.Confidence), r.Severity.String(), strings.Join(r.Subsectors, ";"), r.Method,
		})
	}
	return writeCSV(w, ClassificationsHeader, rows)
}

// WriteSummaryCSV writes one row per summarized technique.
func WriteSummaryCSV(w io.Writer, summary *mitre.Summary) error {
	var rows [][]string
	if summary != nil {
		for _, t := range summary.Techniques {
			rows = append(rows, []string{
				t.TechniqueID, t.TechniqueName, t.TacticID, t.TacticName,
				strconv.Itoa(t.Count), formatFloat(t.AvgConfidence), formatFloat(t.Score),
				t.Bucket.String(), t.Color,
			})
		}
	}
	return writeCSV(w, SummaryHeader, rows)
}

func writeCSV(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write csv rows: %w", err)
	}
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
