// Package memstore is an in-process store.Store backed by maps.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/zero-day-ai/threatmap/classifier"
	"github.com/zero-day-ai/threatmap/incident"
	"github.com/zero-day-ai/threatmap/mitre"
	"github.com/zero-day-ai/threatmap/store"
	"github.com/zero-day-ai/threatmap/threaterr"
)

// Store implements store.Store in memory.
type Store struct {
	mu              sync.RWMutex
	incidents       map[string]incident.Incident
	classifications map[string]classifier.Result
	mappings        map[string][]mitre.Mapping
}

var _ store.Store = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{
		incidents:       make(map[string]incident.Incident),
		classifications: make(map[string]classifier.Result),
		mappings:        make(map[string][]mitre.Mapping),
	}
}

// PutIncident inserts or replaces an incident.
func (s *Store) PutIncident(_ context.Context, inc incident.Incident) error {
	if inc.ID == "" {
		return threaterr.InvalidInput("memstore.PutIncident", "id", "incident ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[inc.ID] = copyIncident(inc)
	return nil
}

// Incident returns one incident.
func (s *Store) Incident(_ context.Context, id string) (incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.incidents[id]
	if !ok {
		return incident.Incident{}, threaterr.NotFound("memstore.Incident", id)
	}
	return copyIncident(inc), nil
}

// Incidents returns every incident ordered by ID.
func (s *Store) Incidents(_ context.Context) ([]incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending(func(string) bool { return false }), nil
}

// PendingClassification returns incidents without a classification.
func (s *Store) PendingClassification(_ context.Context) ([]incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.pending(func(id string) bool {
		_, done := s.classifications[id]
		return done
	}), nil
}

// PendingMapping returns incidents not yet mapped.
func (s *Store) PendingMapping(_ context.Context) ([]incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.pending(func(id string) bool {
		_, done := s.mappings[id]
		return done
	}), nil
}

// SaveClassification records res unless the incident is already classified.
func (s *Store) SaveClassification(_ context.Context, res *classifier.Result) (bool, error) {
	if res == nil || res.IncidentID == "" {
		return false, threaterr.InvalidInput("memstore.SaveClassification", "incident_id", "classification without incident ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.classifications[res.IncidentID]; exists {
		return false, nil
	}
	s.classifications[res.IncidentID] = copyResult(res)
	return true, nil
}

// SaveMappings records mappings unless the incident is already mapped.
func (s *Store) SaveMappings(_ context.Context, incidentID string, mappings []mitre.Mapping) (bool, error) {
	if incidentID == "" {
		return false, threaterr.InvalidInput("memstore.SaveMappings", "incident_id", "incident ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.mappings[incidentID]; exists {
		return false, nil
	}
	deduped := store.DedupeMappings(incidentID, mappings)
	sort.Slice(deduped, func(i, j int) bool {
		return deduped[i].TechniqueID < deduped[j].TechniqueID
	})
	s.mappings[incidentID] = deduped
	return true, nil
}

// Classifications returns every classification ordered by incident ID.
func (s *Store) Classifications(_ context.Context) ([]*classifier.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := sortedKeys(s.classifications)
	out := make([]*classifier.Result, 0, len(ids))
	for _, id := range ids {
		stored := s.classifications[id]
		res := copyResult(&stored)
		out = append(out, &res)
	}
	return out, nil
}

// Mappings returns every mapping ordered by incident then technique.
func (s *Store) Mappings(_ context.Context) ([]mitre.Mapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []mitre.Mapping
	for _, id := range sortedKeys(s.mappings) {
		out = append(out, s.mappings[id]...)
	}
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func (s *Store) pending(done func(id string) bool) []incident.Incident {
	var out []incident.Incident
	for _, id := range sortedKeys(s.incidents) {
		if !done(id) {
			out = append(out, copyIncident(s.incidents[id]))
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func copyIncident(inc incident.Incident) incident.Incident {
	if inc.Attributes != nil {
		attrs := make(map[string]string, len(inc.Attributes))
		for k, v := range inc.Attributes {
			attrs[k] = v
		}
		inc.Attributes = attrs
	}
	return inc
}

func copyResult(res *classifier.Result) classifier.Result {
	cp := *res
	if res.Subsectors != nil {
		cp.Subsectors = append([]string(nil), res.Subsectors...)
	}
	return cp
}
