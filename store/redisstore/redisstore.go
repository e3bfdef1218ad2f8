// Package redisstore is a store.Store backed by Redis, shared by every
// pipeline process and distributed worker pointed at the same server.
//
// # Redis Key Schema
//
// All keys carry the configured prefix (default "threatmap:"):
//   - incidents - Set of every incident ID
//   - classified - Set of classified incident IDs
//   - mapped - Set of mapped incident IDs
//   - incident:<id> - Hash with id, title, description and JSON attributes
//   - classification:<id> - String holding the JSON classification (SETNX)
//   - mappings:<id> - Hash of technique ID to JSON mapping (HSETNX)
//
// Pending work is the set difference incidents - classified (or - mapped),
// computed server side with SDIFF.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/zero-day-ai/threatmap/classifier"
	"github.com/zero-day-ai/threatmap/incident"
	"github.com/zero-day-ai/threatmap/internal/redisconn"
	"github.com/zero-day-ai/threatmap/mitre"
	"github.com/zero-day-ai/threatmap/store"
	"github.com/zero-day-ai/threatmap/threaterr"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "threatmap:"

// Options configures the Redis store.
type Options struct {
	redisconn.Options

	// Prefix is prepended to every key. Defaults to DefaultPrefix.
	Prefix string
}

// Store implements store.Store on Redis.
type Store struct {
	client *redis.Client
	prefix string
}

var _ store.Store = (*Store)(nil)

// New dials Redis and returns a Store.
func New(opts Options) (*Store, error) {
	client, err := redisconn.Dial(opts.Options)
	if err != nil {
		return nil, threaterr.Storage("redisstore.New", err)
	}
	return NewWithClient(client, opts.Prefix), nil
}

// NewWithClient wraps an existing client. Close closes the client.
func NewWithClient(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

func (s *Store) key(parts ...string) string {
	return s.prefix + strings.Join(parts, ":")
}

func (s *Store) incidentsKey() string  { return s.key("incidents") }
func (s *Store) classifiedKey() string { return s.key("classified") }
func (s *Store) mappedKey() string     { return s.key("mapped") }

// PutIncident writes the incident hash and adds its ID to the incidents set.
func (s *Store) PutIncident(ctx context.Context, inc incident.Incident) error {
	const op = "redisstore.PutIncident"
	if inc.ID == "" {
		return threaterr.InvalidInput(op, "id", "incident ID is required")
	}

	attrs, err := json.Marshal(inc.Attributes)
	if err != nil {
		return threaterr.Storage(op, fmt.Errorf("failed to marshal attributes: %w", err))
	}

	hashKey := s.key("incident", inc.ID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, hashKey)
		pipe.HSet(ctx, hashKey,
			"id", inc.ID,
			"title", inc.Title,
			"description", inc.Description,
			"attributes", string(attrs),
		)
		pipe.SAdd(ctx, s.incidentsKey(), inc.ID)
		return nil
	})
	if err != nil {
		return threaterr.Storage(op, fmt.Errorf("failed to store incident %s: %w", inc.ID, err))
	}
	return nil
}

// Incident loads one incident.
func (s *Store) Incident(ctx context.Context, id string) (incident.Incident, error) {
	const op = "redisstore.Incident"

	fields, err := s.client.HGetAll(ctx, s.key("incident", id)).Result()
	if err != nil {
		return incident.Incident{}, threaterr.Storage(op, fmt.Errorf("failed to load incident %s: %w", id, err))
	}
	if len(fields) == 0 {
		return incident.Incident{}, threaterr.NotFound(op, id)
	}
	return decodeIncident(op, fields)
}

// Incidents returns every member of the incidents set ordered by ID.
func (s *Store) Incidents(ctx context.Context) ([]incident.Incident, error) {
	const op = "redisstore.Incidents"

	ids, err := s.client.SMembers(ctx, s.incidentsKey()).Result()
	if err != nil {
		return nil, threaterr.Storage(op, fmt.Errorf("failed to list incidents: %w", err))
	}
	return s.load(ctx, op, ids)
}

// PendingClassification returns incidents - classified.
func (s *Store) PendingClassification(ctx context.Context) ([]incident.Incident, error) {
	return s.pending(ctx, "redisstore.PendingClassification", s.classifiedKey())
}

// PendingMapping returns incidents - mapped.
func (s *Store) PendingMapping(ctx context.Context) ([]incident.Incident, error) {
	return s.pending(ctx, "redisstore.PendingMapping", s.mappedKey())
}

func (s *Store) pending(ctx context.Context, op, doneKey string) ([]incident.Incident, error) {
	ids, err := s.client.SDiff(ctx, s.incidentsKey(), doneKey).Result()
	if err != nil {
		return nil, threaterr.Storage(op, fmt.Errorf("failed to diff %s: %w", doneKey, err))
	}
	return s.load(ctx, op, ids)
}

// load fetches the incident hashes of ids in one pipeline, sorted by ID.
func (s *Store) load(ctx context.Context, op string, ids []string) ([]incident.Incident, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key("incident", id))
		}
		return nil
	})
	if err != nil {
		return nil, threaterr.Storage(op, fmt.Errorf("failed to load incidents: %w", err))
	}

	out := make([]incident.Incident, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			// ID in the set but hash deleted out of band.
			continue
		}
		inc, err := decodeIncident(op, fields)
		if err != nil {
			return nil, err
		}
		out = append(out, inc)
	}
	return out, nil
}

// SaveClassification stores res with SETNX and marks the incident
// classified. The set is updated even when the value already existed, which
// repairs a save interrupted between the two writes.
func (s *Store) SaveClassification(ctx context.Context, res *classifier.Result) (bool, error) {
	const op = "redisstore.SaveClassification"
	if res == nil || res.IncidentID == "" {
		return false, threaterr.InvalidInput(op, "incident_id", "classification without incident ID")
	}

	data, err := json.Marshal(res)
	if err != nil {
		return false, threaterr.Storage(op, fmt.Errorf("failed to marshal classification: %w", err))
	}

	created, err := s.client.SetNX(ctx, s.key("classification", res.IncidentID), data, 0).Result()
	if err != nil {
		return false, threaterr.Storage(op, fmt.Errorf("failed to store classification %s: %w", res.IncidentID, err))
	}
	if err := s.client.SAdd(ctx, s.classifiedKey(), res.IncidentID).Err(); err != nil {
		return false, threaterr.Storage(op, fmt.Errorf("failed to mark %s classified: %w", res.IncidentID, err))
	}
	return created, nil
}

// SaveMappings stores one hash field per technique with HSETNX and marks the
// incident mapped.
func (s *Store) SaveMappings(ctx context.Context, incidentID string, mappings []mitre.Mapping) (bool, error) {
	const op = "redisstore.SaveMappings"
	if incidentID == "" {
		return false, threaterr.InvalidInput(op, "incident_id", "incident ID is required")
	}

	already, err := s.client.SIsMember(ctx, s.mappedKey(), incidentID).Result()
	if err != nil {
		return false, threaterr.Storage(op, fmt.Errorf("failed to check %s: %w", incidentID, err))
	}
	if already {
		return false, nil
	}

	deduped := store.DedupeMappings(incidentID, mappings)
	encoded := make([][]byte, len(deduped))
	for i, m := range deduped {
		if encoded[i], err = json.Marshal(m); err != nil {
			return false, threaterr.Storage(op, fmt.Errorf("failed to marshal mapping: %w", err))
		}
	}

	var added *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hashKey := s.key("mappings", incidentID)
		for i, m := range deduped {
			pipe.HSetNX(ctx, hashKey, m.TechniqueID, encoded[i])
		}
		added = pipe.SAdd(ctx, s.mappedKey(), incidentID)
		return nil
	})
	if err != nil {
		return false, threaterr.Storage(op, fmt.Errorf("failed to store mappings %s: %w", incidentID, err))
	}
	return added.Val() == 1, nil
}

// Classifications loads every classification.
func (s *Store) Classifications(ctx context.Context) ([]*classifier.Result, error) {
	const op = "redisstore.Classifications"

	ids, err := s.sortedMembers(ctx, s.classifiedKey())
	if err != nil {
		return nil, threaterr.Storage(op, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key("classification", id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, threaterr.Storage(op, fmt.Errorf("failed to load classifications: %w", err))
	}

	out := make([]*classifier.Result, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var res classifier.Result
		if err := json.Unmarshal([]byte(raw), &res); err != nil {
			return nil, threaterr.Storage(op, fmt.Errorf("failed to decode classification %s: %w", ids[i], err))
		}
		out = append(out, &res)
	}
	return out, nil
}

// Mappings loads every mapping.
func (s *Store) Mappings(ctx context.Context) ([]mitre.Mapping, error) {
	const op = "redisstore.Mappings"

	ids, err := s.sortedMembers(ctx, s.mappedKey())
	if err != nil {
		return nil, threaterr.Storage(op, err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key("mappings", id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, threaterr.Storage(op, fmt.Errorf("failed to load mappings: %w", err))
	}

	var out []mitre.Mapping
	for i, cmd := range cmds {
		fields := cmd.Val()
		techniques := make([]string, 0, len(fields))
		for tech := range fields {
			techniques = append(techniques, tech)
		}
		sort.Strings(techniques)

		for _, tech := range techniques {
			var m mitre.Mapping
			if err := json.Unmarshal([]byte(fields[tech]), &m); err != nil {
				return nil, threaterr.Storage(op, fmt.Errorf("failed to decode mapping %s/%s: %w", ids[i], tech, err))
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) sortedMembers(ctx context.Context, key string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	sort.Strings(ids)
	return ids, nil
}

func decodeIncident(op string, fields map[string]string) (incident.Incident, error) {
	inc := incident.Incident{
		ID:          fields["id"],
		Title:       fields["title"],
		Description: fields["description"],
	}
	if raw := fields["attributes"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &inc.Attributes); err != nil {
			return incident.Incident{}, threaterr.Storage(op, fmt.Errorf("failed to decode attributes of %s: %w", inc.ID, err))
		}
	}
	return inc, nil
}
