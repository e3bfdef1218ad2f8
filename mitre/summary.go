package mitre

import (
	"fmt"
	"sort"
	"sync"

	"github.com/zero-day-ai/threatmap/taxonomy"
)

// Heat score weights and bucket thresholds.
const (
	IncidentWeight   = 10.0
	ConfidenceWeight = 50.0
	MaxScore         = 100.0

	CriticalThreshold = 75.0
	HighThreshold     = 50.0
	MediumThreshold   = 25.0
)

// HeatScore combines the number of distinct incidents and the average mapping
// confidence of a technique into a score in [0, 100].
func HeatScore(count int, avgConfidence float64) float64 {
	score := float64(count)*IncidentWeight + avgConfidence*ConfidenceWeight
	if score < 0 {
		return 0
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// BucketFor returns the heat bucket for a score.
func BucketFor(score float64) taxonomy.Level {
	switch {
	case score >= CriticalThreshold:
		return taxonomy.LevelCritical
	case score >= HighThreshold:
		return taxonomy.LevelHigh
	case score >= MediumThreshold:
		return taxonomy.LevelMedium
	default:
		return taxonomy.LevelLow
	}
}

// TechniqueSummary aggregates every mapping of one technique.
type TechniqueSummary struct {
	TechniqueID   string `json:"technique_id"`
	TechniqueName string `json:"technique_name"`
	TacticID      string `json:"tactic_id"`
	TacticName    string `json:"tactic_name"`

	// Count is the number of distinct incidents mapped to the technique.
	Count int `json:"count"`

	// AvgConfidence is the mean confidence over all of the technique's mappings.
	AvgConfidence float64 `json:"avg_confidence"`

	Score  float64        `json:"score"`
	Bucket taxonomy.Level `json:"bucket"`
	Color  string         `json:"color"`

	// Comment is the annotation shown on matrix visualizations.
	Comment string `json:"comment"`
}

// TacticGroup is the set of summarized techniques under one tactic.
type TacticGroup struct {
	TacticID   string             `json:"tactic_id"`
	TacticName string             `json:"tactic_name"`
	Techniques []TechniqueSummary `json:"techniques"`
}

// Summary is the technique heat summary of a set of mappings.
type Summary struct {
	// Techniques is sorted by score descending, then technique ID.
	Techniques []TechniqueSummary `json:"techniques"`

	// Incidents is the number of distinct incidents with at least one mapping.
	Incidents int `json:"incidents"`

	// Mappings is the number of mappings aggregated.
	Mappings int `json:"mappings"`
}

// Technique returns the summary of one technique.
func (s *Summary) Technique(id string) (TechniqueSummary, bool) {
	for _, t := range s.Techniques {
		if t.TechniqueID == id {
			return t, true
		}
	}
	return TechniqueSummary{}, false
}

// ByTactic groups technique summaries by tactic. Groups are ordered by tactic
// ID and keep the score order of Techniques within each group.
func (s *Summary) ByTactic() []TacticGroup {
	index := make(map[string]int)
	var groups []TacticGroup
	for _, t := range s.Techniques {
		i, ok := index[t.TacticID]
		if !ok {
			i = len(groups)
			index[t.TacticID] = i
			groups = append(groups, TacticGroup{TacticID: t.TacticID, TacticName: t.TacticName})
		}
		groups[i].Techniques = append(groups[i].Techniques, t)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].TacticID < groups[b].TacticID
	})
	return groups
}

type techniqueStats struct {
	name       string
	tacticID   string
	tacticName string
	incidents  map[string]struct{}
	sum        float64
	n          int
}

// Accumulator reduces mappings into per-technique statistics. It is safe for
// concurrent use, and accumulators built over disjoint shards can be combined
// with Merge.
type Accumulator struct {
	mu         sync.Mutex
	techniques map[string]*techniqueStats
	incidents  map[string]struct{}
	mappings   int
}

// NewAccumulator creates an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		techniques: make(map[string]*techniqueStats),
		incidents:  make(map[string]struct{}),
	}
}

// Add folds one mapping into the statistics.
func (a *Accumulator) Add(m Mapping) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.stats(m.TechniqueID, m.TechniqueName, m.TacticID, m.TacticName)
	st.incidents[m.IncidentID] = struct{}{}
	st.sum += m.Confidence
	st.n++

	a.incidents[m.IncidentID] = struct{}{}
	a.mappings++
}

// Merge folds other into a. other is not modified.
func (a *Accumulator) Merge(other *Accumulator) {
	if other == nil || other == a {
		return
	}

	snapshot := other.clone()

	a.mu.Lock()
	defer a.mu.Unlock()

	for id, src := range snapshot.techniques {
		st := a.stats(id, src.name, src.tacticID, src.tacticName)
		for inc := range src.incidents {
			st.incidents[inc] = struct{}{}
		}
		st.sum += src.sum
		st.n += src.n
	}
	for inc := range snapshot.incidents {
		a.incidents[inc] = struct{}{}
	}
	a.mappings += snapshot.mappings
}

// Summary computes the technique summary of everything added so far.
func (a *Accumulator) Summary() *Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &Summary{
		Techniques: make([]TechniqueSummary, 0, len(a.techniques)),
		Incidents:  len(a.incidents),
		Mappings:   a.mappings,
	}
	for id, st := range a.techniques {
		count := len(st.incidents)
		avg := st.sum / float64(st.n)
		score := HeatScore(count, avg)
		bucket := BucketFor(score)
		s.Techniques = append(s.Techniques, TechniqueSummary{
			TechniqueID:   id,
			TechniqueName: st.name,
			TacticID:      st.tacticID,
			TacticName:    st.tacticName,
			Count:         count,
			AvgConfidence: avg,
			Score:         score,
			Bucket:        bucket,
			Color:         bucket.Color(),
			Comment:       fmt.Sprintf("Incidents: %d, Avg Confidence: %.2f", count, avg),
		})
	}
	sort.Slice(s.Techniques, func(i, j int) bool {
		ti, tj := s.Techniques[i], s.Techniques[j]
		if ti.Score != tj.Score {
			return ti.Score > tj.Score
		}
		return ti.TechniqueID < tj.TechniqueID
	})
	return s
}

func (a *Accumulator) stats(id, name, tacticID, tacticName string) *techniqueStats {
	st, ok := a.techniques[id]
	if !ok {
		if tacticName == "" {
			tacticName = taxonomy.UnknownTactic
		}
		st = &techniqueStats{
			name:       name,
			tacticID:   tacticID,
			tacticName: tacticName,
			incidents:  make(map[string]struct{}),
		}
		a.techniques[id] = st
	}
	return st
}

func (a *Accumulator) clone() *Accumulator {
	a.mu.Lock()
	defer a.mu.Unlock()

	c := NewAccumulator()
	for id, st := range a.techniques {
		cp := *st
		cp.incidents = make(map[string]struct{}, len(st.incidents))
		for inc := range st.incidents {
			cp.incidents[inc] = struct{}{}
		}
		c.techniques[id] = &cp
	}
	for inc := range a.incidents {
		c.incidents[inc] = struct{}{}
	}
	c.mappings = a.mappings
	return c
}
