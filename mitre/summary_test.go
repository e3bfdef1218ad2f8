package mitre

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/threatmap/incident"
	"github.com/zero-day-ai/threatmap/taxonomy"
)

func phishingMapping(incidentID string, confidence float64) Mapping {
	return Mapping{
		IncidentID:    incidentID,
		TechniqueID:   "T1566",
		TechniqueName: "Phishing",
		TacticID:      "TA0001",
		TacticName:    "Initial Access",
		Confidence:    confidence,
		Matches:       1,
		Source:        SourceKeyword,
	}
}

func TestHeatScore(t *testing.T) {
	tests := []struct {
		name  string
		count int
		avg   float64
		want  float64
	}{
		{"three incidents half confidence", 3, 0.5, 55},
		{"single weak", 1, 0.3, 25},
		{"capped", 20, 1.0, 100},
		{"zero", 0, 0, 0},
		{"negative clamps", 0, -1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, HeatScore(tt.count, tt.avg), 1e-9)
		})
	}
}

func TestBucketFor(t *testing.T) {
	tests := []struct {
		score float64
		want  taxonomy.Level
	}{
		{100, taxonomy.LevelCritical},
		{75, taxonomy.LevelCritical},
		{74.99, taxonomy.LevelHigh},
		{50, taxonomy.LevelHigh},
		{49.99, taxonomy.LevelMedium},
		{25, taxonomy.LevelMedium},
		{24.99, taxonomy.LevelLow},
		{0, taxonomy.LevelLow},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%.2f", tt.score), func(t *testing.T) {
			assert.Equal(t, tt.want, BucketFor(tt.score))
		})
	}
}

func TestAccumulator_BatchScore(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(phishingMapping("inc-1", 0.45))
	acc.Add(phishingMapping("inc-2", 0.6))
	acc.Add(phishingMapping("inc-3", 0.45))

	s := acc.Summary()
	require.Len(t, s.Techniques, 1)

	ts := s.Techniques[0]
	assert.Equal(t, 3, ts.Count)
	assert.InDelta(t, 0.5, ts.AvgConfidence, 1e-9)
	assert.InDelta(t, 55.0, ts.Score, 1e-9)
	assert.Equal(t, taxonomy.LevelHigh, ts.Bucket)
	assert.Equal(t, "#ff6600", ts.Color)
	assert.Equal(t, "Incidents: 3, Avg Confidence: 0.50", ts.Comment)
	assert.Equal(t, 3, s.Incidents)
	assert.Equal(t, 3, s.Mappings)
}

func TestAccumulator_DistinctIncidents(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(phishingMapping("inc-1", 0.4))
	acc.Add(phishingMapping("inc-1", 0.8))

	ts, ok := acc.Summary().Technique("T1566")
	require.True(t, ok)
	assert.Equal(t, 1, ts.Count)
	assert.InDelta(t, 0.6, ts.AvgConfidence, 1e-9)
}

func TestAccumulator_Ordering(t *testing.T) {
	acc := NewAccumulator()
	add := func(tech, tactic, incidentID string, conf float64) {
		acc.Add(Mapping{IncidentID: incidentID, TechniqueID: tech, TacticID: tactic, TacticName: tactic, Confidence: conf, Matches: 1})
	}
	// Scores: T1078 70, T1190 60, T1486 60, T1566 45.
	add("T1486", "TA0040", "a", 1.0)
	add("T1190", "TA0001", "a", 1.0)
	add("T1566", "TA0001", "a", 0.5)
	add("T1566", "TA0001", "b", 0.5)
	add("T1078", "TA0001", "c", 1.0)
	add("T1078", "TA0001", "d", 1.0)

	s := acc.Summary()
	var ids []string
	for _, ts := range s.Techniques {
		ids = append(ids, ts.TechniqueID)
	}
	assert.Equal(t, []string{"T1078", "T1190", "T1486", "T1566"}, ids)

	groups := s.ByTactic()
	require.Len(t, groups, 2)
	assert.Equal(t, "TA0001", groups[0].TacticID)
	assert.Len(t, groups[0].Techniques, 3)
	assert.Equal(t, "T1078", groups[0].Techniques[0].TechniqueID)
	assert.Equal(t, "TA0040", groups[1].TacticID)
}

func TestAccumulator_MergeMatchesSequential(t *testing.T) {
	var all []Mapping
	for i := 0; i < 40; i++ {
		m := phishingMapping(fmt.Sprintf("inc-%d", i%13), float64(i%10)/10)
		if i%3 == 0 {
			m.TechniqueID = "T1078"
			m.TechniqueName = "Valid Accounts"
		}
		all = append(all, m)
	}

	sequential := NewAccumulator()
	for _, m := range all {
		sequential.Add(m)
	}

	left, right := NewAccumulator(), NewAccumulator()
	for i, m := range all {
		if i%2 == 0 {
			left.Add(m)
		} else {
			right.Add(m)
		}
	}
	left.Merge(right)
	left.Merge(nil)

	want := sequential.Summary()
	got := left.Summary()
	require.Len(t, got.Techniques, len(want.Techniques))
	for i := range want.Techniques {
		assert.Equal(t, want.Techniques[i].TechniqueID, got.Techniques[i].TechniqueID)
		assert.Equal(t, want.Techniques[i].Count, got.Techniques[i].Count)
		assert.InDelta(t, want.Techniques[i].AvgConfidence, got.Techniques[i].AvgConfidence, 1e-9)
	}
	assert.Equal(t, want.Incidents, got.Incidents)
	assert.Equal(t, want.Mappings, got.Mappings)

	// right is untouched by the merge.
	assert.Equal(t, 20, right.Summary().Mappings)
}

func TestAccumulator_ConcurrentAdd(t *testing.T) {
	acc := NewAccumulator()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				acc.Add(phishingMapping(fmt.Sprintf("inc-%d-%d", worker, j), 0.5))
			}
		}(i)
	}
	wg.Wait()

	s := acc.Summary()
	assert.Equal(t, 200, s.Mappings)
	assert.Equal(t, 200, s.Techniques[0].Count)
	assert.Equal(t, taxonomy.LevelCritical, s.Techniques[0].Bucket)
}

func TestAccumulator_UnknownTactic(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(Mapping{IncidentID: "a", TechniqueID: "T0000", Confidence: 0.5, Matches: 1})

	ts, ok := acc.Summary().Technique("T0000")
	require.True(t, ok)
	assert.Equal(t, taxonomy.UnknownTactic, ts.TacticName)
}

func TestMapper_Summarize(t *testing.T) {
	m := newMapper(t)

	var mappings []Mapping
	for i, title := range []string{
		"Phishing wave hits bank",
		"Spear phishing of treasury staff",
		"LockBit ransomware",
	} {
		got := m.MapText(fmt.Sprintf("inc-%d", i), incident.Normalize(title, ""))
		mappings = append(mappings, got...)
	}

	s := m.Summarize(mappings)
	phishing, ok := s.Technique("T1566")
	require.True(t, ok)
	assert.Equal(t, 2, phishing.Count)

	_, ok = s.Technique("T1003")
	assert.False(t, ok)

	empty := m.Summarize(nil)
	assert.Empty(t, empty.Techniques)
	assert.Zero(t, empty.Incidents)
}
