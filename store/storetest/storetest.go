// Package storetest holds the behavioral tests every store.Store
// implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zero-day-ai/threatmap/classifier"
	"github.com/zero-day-ai/threatmap/incident"
	"github.com/zero-day-ai/threatmap/mitre"
	"github.com/zero-day-ai/threatmap/store"
	"github.com/zero-day-ai/threatmap/threaterr"
)

// Run exercises a fresh store from newStore in every subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("put and get incident", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		inc := incident.New("inc-1", "Ransomware", "encrypted").WithAttribute("source", "rss")
		require.NoError(t, s.PutIncident(ctx, inc))

		got, err := s.Incident(ctx, "inc-1")
		require.NoError(t, err)
		assert.Equal(t, inc, got)

		// Replacing keeps a single incident.
		require.NoError(t, s.PutIncident(ctx, incident.New("inc-1", "Ransomware v2", "")))
		pending, err := s.PendingClassification(ctx)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, "Ransomware v2", pending[0].Title)
	})

	t.Run("missing incident", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Incident(context.Background(), "nope")
		assert.True(t, threaterr.IsNotFound(err))
	})

	t.Run("empty incident ID rejected", func(t *testing.T) {
		s := newStore(t)

		err := s.PutIncident(context.Background(), incident.New("", "title", ""))
		assert.True(t, threaterr.IsInvalidInput(err))
	})

	t.Run("incidents lists classified and unclassified", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		all, err := s.Incidents(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		seed(t, s, "c", "a", "b")
		_, err = s.SaveClassification(ctx, &classifier.Result{IncidentID: "b", Method: classifier.MethodAutomated})
		require.NoError(t, err)
		_, err = s.SaveMappings(ctx, "c", nil)
		require.NoError(t, err)

		all, err = s.Incidents(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(all))
	})

	t.Run("pending classification", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seed(t, s, "c", "a", "b")

		pending, err := s.PendingClassification(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(pending))

		saved, err := s.SaveClassification(ctx, &classifier.Result{IncidentID: "b", Method: classifier.MethodAutomated})
		require.NoError(t, err)
		assert.True(t, saved)

		pending, err = s.PendingClassification(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, ids(pending))

		// Mapping is tracked independently.
		pending, err = s.PendingMapping(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, ids(pending))
	})

	t.Run("classification saved once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seed(t, s, "a")

		first := &classifier.Result{IncidentID: "a", Confidence: 0.4, Method: classifier.MethodAutomated}
		second := &classifier.Result{IncidentID: "a", Confidence: 0.9, Method: classifier.MethodAutomated}

		saved, err := s.SaveClassification(ctx, first)
		require.NoError(t, err)
		assert.True(t, saved)

		saved, err = s.SaveClassification(ctx, second)
		require.NoError(t, err)
		assert.False(t, saved)

		all, err := s.Classifications(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.InDelta(t, 0.4, all[0].Confidence, 1e-9)
	})

	t.Run("classification round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		res := &classifier.Result{
			IncidentID:      "x",
			TaxonomyVersion: "v1",
			Technology:      classifier.Match{Category: "malware", Subcategory: "ransomware", Total: 7, Confidence: 1},
			Confidence:      1.0 / 3.0,
			Severity:        "critical",
			Subsectors:      []string{"lending"},
			Method:          classifier.MethodAutomated,
		}
		_, err := s.SaveClassification(ctx, res)
		require.NoError(t, err)

		all, err := s.Classifications(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, res, all[0])
	})

	t.Run("mappings deduplicated per technique", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seed(t, s, "a", "b")

		saved, err := s.SaveMappings(ctx, "b", []mitre.Mapping{
			mapping("T1566", 0.6),
			mapping("T1078", 0.4),
			mapping("T1566", 0.9),
		})
		require.NoError(t, err)
		assert.True(t, saved)

		saved, err = s.SaveMappings(ctx, "b", []mitre.Mapping{mapping("T1486", 1)})
		require.NoError(t, err)
		assert.False(t, saved)

		all, err := s.Mappings(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "T1078", all[0].TechniqueID)
		assert.Equal(t, "T1566", all[1].TechniqueID)
		assert.InDelta(t, 0.6, all[1].Confidence, 1e-9)
		for _, m := range all {
			assert.Equal(t, "b", m.IncidentID)
		}
	})

	t.Run("empty mapping marks incident mapped", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seed(t, s, "a", "b")

		saved, err := s.SaveMappings(ctx, "a", nil)
		require.NoError(t, err)
		assert.True(t, saved)

		pending, err := s.PendingMapping(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, ids(pending))

		all, err := s.Mappings(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("concurrent classification saves", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		seed(t, s, "a")

		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			wins  int
			saves = 10
		)
		for i := 0; i < saves; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.SaveClassification(ctx, &classifier.Result{IncidentID: "a", Method: fmt.Sprint(i)})
				assert.NoError(t, err)
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		all, err := s.Classifications(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})
}

func seed(t *testing.T, s store.Store, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.PutIncident(context.Background(), incident.New(id, "title "+id, "")))
	}
}

func ids(incs []incident.Incident) []string {
	out := make([]string, 0, len(incs))
	for _, inc := range incs {
		out = append(out, inc.ID)
	}
	return out
}

func mapping(technique string, confidence float64) mitre.Mapping {
	return mitre.Mapping{
		TechniqueID: technique,
		Confidence:  confidence,
		Matches:     1,
		Source:      mitre.SourceKeyword,
	}
}
