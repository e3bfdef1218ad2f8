package report

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/zero-day-ai/threatmap/classifier"
	"github.com/zero-day-ai/threatmap/mitre"
	"github.com/zero-day-ai/threatmap/taxonomy"
)

const (
	// TopCategories is the number of categories listed per dimension.
	TopCategories = 3

	// TopTechniques is the number of techniques listed.
	TopTechniques = 5
)

// Overview is the input of the executive summary.
type Overview struct {
	Generated       time.Time
	Classifications []*classifier.Result
	Summary         *mitre.Summary
}

// Count is a label with its number of incidents.
type Count struct {
	Name  string
	Count int
}

// TopCategoryCounts counts matched categories of one dimension and returns
// the n most frequent, ties broken by name. n <= 0 returns all.
func TopCategoryCounts(results []*classifier.Result, dimension string, n int) []Count {
	counts := make(map[string]int)
	for _, r := range results {
		if r == nil {
			continue
		}
		if m, ok := r.Dimension(dimension); ok && m.Matched() {
			counts[m.Category]++
		}
	}
	return top(counts, n)
}

// SeverityCounts returns the number of incidents per severity level, from
// critical to low. Incidents without a severity are not counted.
func SeverityCounts(results []*classifier.Result) []Count {
	counts := make(map[taxonomy.Level]int)
	for _, r := range results {
		if r != nil && r.Severity != "" {
			counts[r.Severity]++
		}
	}
	out := make([]Count, 0, len(taxonomy.AllLevels()))
	for _, l := range taxonomy.AllLevels() {
		out = append(out, Count{Name: l.String(), Count: counts[l]})
	}
	return out
}

// SubsectorCounts returns the number of incidents mentioning each subsector,
// most frequent first.
func SubsectorCounts(results []*classifier.Result) []Count {
	counts := make(map[string]int)
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, s := range r.Subsectors {
			counts[s]++
		}
	}
	return top(counts, 0)
}

func top(counts map[string]int, n int) []Count {
	out := make([]Count, 0, len(counts))
	for name, c := range counts {
		out = append(out, Count{Name: name, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// ExecutiveSummary writes the executive summary as Markdown.
func ExecutiveSummary(w io.Writer, ov Overview) error {
	if ov.Generated.IsZero() {
		ov.Generated = time.Now()
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "# FinTech Cyber Threat Intelligence Report\n\n")
	fmt.Fprintf(&b, "Generated: %s\n\n", ov.Generated.Format(time.DateTime))

	var critical int
	var confidence float64
	for _, r := range ov.Classifications {
		if r == nil {
			continue
		}
		if r.Severity == taxonomy.LevelCritical {
			critical++
		}
		confidence += r.Confidence
	}
	if len(ov.Classifications) > 0 {
		confidence /= float64(len(ov.Classifications))
	}

	fmt.Fprintf(&b, "## Key metrics\n\n")
	fmt.Fprintf(&b, "- Incidents classified: %d\n", len(ov.Classifications))
	fmt.Fprintf(&b, "- Critical severity: %d\n", critical)
	fmt.Fprintf(&b, "- Mean classification confidence: %.2f\n", confidence)
	if ov.Summary != nil {
		fmt.Fprintf(&b, "- Incidents mapped to ATT&CK: %d (%d mappings, %d techniques)\n",
			ov.Summary.Incidents, ov.Summary.Mappings, len(ov.Summary.Techniques))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "## Top threat categories\n\n")
	for _, dim := range taxonomy.DimensionNames() {
		fmt.Fprintf(&b, "### %s\n\n", title(dim))
		counts := TopCategoryCounts(ov.Classifications, dim, TopCategories)
		if len(counts) == 0 {
			b.WriteString("No incidents matched.\n\n")
			continue
		}
		writeCountTable(&b, "Category", counts)
	}

	fmt.Fprintf(&b, "## Severity distribution\n\n")
	writeCountTable(&b, "Severity", SeverityCounts(ov.Classifications))

	if subsectors := SubsectorCounts(ov.Classifications); len(subsectors) > 0 {
		fmt.Fprintf(&b, "## Subsectors\n\n")
		writeCountTable(&b, "Subsector", subsectors)
	}

	fmt.Fprintf(&b, "## Top %d ATT&CK techniques\n\n", TopTechniques)
	if ov.Summary == nil || len(ov.Summary.Techniques) == 0 {
		b.WriteString("No techniques mapped.\n")
	} else {
		b.WriteString("| Technique | Name | Tactic | Incidents | Score | Bucket |\n")
		b.WriteString("|---|---|---|---:|---:|---|\n")
		for i, t := range ov.Summary.Techniques {
			if i == TopTechniques {
				break
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %.1f | %s |\n",
				t.TechniqueID, t.TechniqueName, t.TacticName, t.Count, t.Score, t.Bucket.DisplayName())
		}
	}

	_, err := w.Write(b.Bytes())
	return err
}

// ExecutiveSummaryHTML renders the executive summary to an HTML fragment.
func ExecutiveSummaryHTML(w io.Writer, ov Overview) error {
	var src bytes.Buffer
	if err := ExecutiveSummary(&src, ov); err != nil {
		return err
	}

	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	if err := md.Convert(src.Bytes(), w); err != nil {
		return fmt.Errorf("failed to render executive summary: %w", err)
	}
	return nil
}

func writeCountTable(b *bytes.Buffer, label string, counts []Count) {
	fmt.Fprintf(b, "| %s | Incidents |\n|---|---:|\n", label)
	for _, c := range counts {
		fmt.Fprintf(b, "| %s | %d |\n", c.Name, c.Count)
	}
	b.WriteString("\n")
}

func title(s string) string {
	return cases.Title(language.English).String(s)
}
