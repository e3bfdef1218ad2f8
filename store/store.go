// Package store defines the persistence collaborator of the classification
// pipeline.
//
// A Store keeps incidents, their classifications and their technique
// mappings, and answers which incidents still need a stage. Classification
// and mapping are each recorded at most once per incident: the first save
// wins and later saves report false without changing anything. An incident
// whose mapping produced no technique is still recorded as mapped so it is
// not picked up again.
//
// Implementations live in the memstore and redisstore subpackages.
package store

import (
	"context"

	"github.com/zero-day-ai/threatmap/classifier"
	"github.com/zero-day-ai/threatmap/incident"
	"github.com/zero-day-ai/threatmap/mitre"
)

// Store persists incidents and pipeline results. Implementations must be
// safe for concurrent use.
type Store interface {
	// PutIncident inserts or replaces an incident by ID.
	PutIncident(ctx context.Context, inc incident.Incident) error

	// Incident returns the incident with the given ID, or a
	// threaterr.KindNotFound error.
	Incident(ctx context.Context, id string) (incident.Incident, error)

	// Incidents returns every stored incident, classified or not, ordered
	// by ID.
	Incidents(ctx context.Context) ([]incident.Incident, error)

	// PendingClassification returns incidents without a classification,
	// ordered by ID.
	PendingClassification(ctx context.Context) ([]incident.Incident, error)

	// PendingMapping returns incidents not yet mapped, ordered by ID.
	PendingMapping(ctx context.Context) ([]incident.Incident, error)

	// SaveClassification records res for res.IncidentID. It returns false when
	// the incident was already classified.
	SaveClassification(ctx context.Context, res *classifier.Result) (bool, error)

	// SaveMappings records the mappings of one incident, keeping at most one
	// mapping per technique, and marks the incident mapped even when mappings
	// is empty. It returns false when the incident was already mapped.
	SaveMappings(ctx context.Context, incidentID string, mappings []mitre.Mapping) (bool, error)

	// Classifications returns every stored classification, ordered by
	// incident ID.
	Classifications(ctx context.Context) ([]*classifier.Result, error)

	// Mappings returns every stored mapping, ordered by incident ID then
	// technique ID.
	Mappings(ctx context.Context) ([]mitre.Mapping, error)

	// Close releases the store's resources.
	Close() error
}

// DedupeMappings keeps the first mapping per technique ID and sets
// IncidentID on each. Input order is preserved.
func DedupeMappings(incidentID string, mappings []mitre.Mapping) []mitre.Mapping {
	seen := make(map[string]bool, len(mappings))
	out := make([]mitre.Mapping, 0, len(mappings))
	for _, m := range mappings {
		if seen[m.TechniqueID] {
			continue
		}
		seen[m.TechniqueID] = true
		m.IncidentID = incidentID
		out = append(out, m)
	}
	return out
}
