package report_test

import (
	"fmt"
	"time"

	"github.com/zero-day-ai/threatmap/mitre"
	"github.com/zero-day-ai/threatmap/report"
	"github.com/zero-day-ai/threatmap/taxonomy"
)

func ExampleNavigatorLayer() {
	mapper, err := mitre.NewMapper(taxonomy.Default())
	if err != nil {
		panic(err)
	}

	mappings := mapper.MapText("inc-1", "lockbit ransomware encrypted the lender's file servers")
	layer := report.NavigatorLayer(mapper.Summarize(mappings), report.NavigatorOptions{
		Generated: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
	})

	for _, t := range layer.Techniques {
		fmt.Println(t.TechniqueID, t.Score, t.Color)
		fmt.Println(t.Comment)
	}
	// Output:
	// T1486 60 #ff6600
	// Incidents: 1, Avg Confidence: 1.00
}
