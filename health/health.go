package health

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/zero-day-ai/threatmap/internal/redisconn"
	"github.com/zero-day-ai/threatmap/queue"
)

const (
	// StatusHealthy indicates the dependency is fully operational.
	StatusHealthy = "healthy"

	// StatusDegraded indicates the dependency works but with issues, e.g.
	// some expected workers stopped sending heartbeats.
	StatusDegraded = "degraded"

	// StatusUnhealthy indicates the dependency is not operational.
	StatusUnhealthy = "unhealthy"
)

// Status represents the health of one dependency or of a combination.
type Status struct {
	// Name identifies the check ("taxonomy", "redis", "queue").
	Name string `json:"name,omitempty"`

	// Status is the current health state (healthy, degraded, or unhealthy).
	Status string `json:"status"`

	// Message provides a human-readable description of the health status.
	Message string `json:"message,omitempty"`

	// Details contains diagnostic context such as errors or latencies.
	Details map[string]any `json:"details,omitempty"`
}

// IsHealthy returns true if the status is StatusHealthy.
func (s Status) IsHealthy() bool {
	return s.Status == StatusHealthy
}

// IsDegraded returns true if the status is StatusDegraded.
func (s Status) IsDegraded() bool {
	return s.Status == StatusDegraded
}

// IsUnhealthy returns true if the status is StatusUnhealthy.
func (s Status) IsUnhealthy() bool {
	return s.Status == StatusUnhealthy
}

func healthy(name, message string, details map[string]any) Status {
	return Status{Name: name, Status: StatusHealthy, Message: message, Details: details}
}

func degraded(name, message string, details map[string]any) Status {
	return Status{Name: name, Status: StatusDegraded, Message: message, Details: details}
}

func unhealthy(name, message string, details map[string]any) Status {
	return Status{Name: name, Status: StatusUnhealthy, Message: message, Details: details}
}

// FileCheck verifies that a regular file exists and is readable at path.
func FileCheck(path string) Status {
	const name = "file"
	if path == "" {
		return unhealthy(name, "path cannot be empty", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return unhealthy(name, fmt.Sprintf("path '%s' does not exist", path), map[string]any{"path": path})
		}
		return unhealthy(name, fmt.Sprintf("failed to stat path '%s'", path), map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}
	if info.IsDir() {
		return unhealthy(name, fmt.Sprintf("path '%s' is a directory", path), map[string]any{"path": path})
	}

	f, err := os.Open(path)
	if err != nil {
		return unhealthy(name, fmt.Sprintf("file '%s' is not readable", path), map[string]any{
			"path":  path,
			"error": err.Error(),
		})
	}
	f.Close()

	return healthy(name, fmt.Sprintf("file '%s' exists", path), map[string]any{"bytes": info.Size()})
}

// RedisCheck dials Redis with opts, pings it and reports the round trip.
func RedisCheck(ctx context.Context, opts redisconn.Options) Status {
	const name = "redis"

	start := time.Now()
	client, err := redisconn.Dial(opts)
	if err != nil {
		return unhealthy(name, "redis is unreachable", map[string]any{"error": err.Error()})
	}
	defer client.Close()

	if err := client.Ping(ctx).Err(); err != nil {
		return unhealthy(name, "redis ping failed", map[string]any{"error": err.Error()})
	}

	return healthy(name, "redis is reachable", map[string]any{
		"latency_ms": time.Since(start).Milliseconds(),
	})
}

// QueueCheck reports the depth of queueName and whether each of workerIDs
// sent a heartbeat within the TTL. Missing workers degrade the status.
func QueueCheck(ctx context.Context, client queue.Client, queueName string, workerIDs ...string) Status {
	const name = "queue"

	depth, err := client.Depth(ctx, queueName)
	if err != nil {
		return unhealthy(name, fmt.Sprintf("failed to read queue '%s'", queueName), map[string]any{
			"queue": queueName,
			"error": err.Error(),
		})
	}
	details := map[string]any{"queue": queueName, "depth": depth}

	var missing []string
	for _, id := range workerIDs {
		alive, err := client.Alive(ctx, id)
		if err != nil {
			return unhealthy(name, fmt.Sprintf("failed to check worker '%s'", id), map[string]any{
				"worker": id,
				"error":  err.Error(),
			})
		}
		if !alive {
			missing = append(missing, id)
		}
	}

	if len(missing) > 0 {
		details["missing_workers"] = missing
		return degraded(name, fmt.Sprintf("%d of %d worker(s) missing", len(missing), len(workerIDs)), details)
	}
	return healthy(name, fmt.Sprintf("queue '%s' has %d item(s)", queueName, depth), details)
}

// Combine aggregates multiple health checks into a single status.
// The result follows this priority:
//   - If any check is unhealthy, the result is unhealthy
//   - If any check is degraded (and none unhealthy), the result is degraded
//   - If all checks are healthy, the result is healthy
func Combine(checks ...Status) Status {
	const name = "overall"
	if len(checks) == 0 {
		return healthy(name, "no checks provided", nil)
	}

	var unhealthyChecks []string
	var degradedChecks []string
	var healthyCount int

	label := func(s Status) string {
		switch {
		case s.Name != "" && s.Message != "":
			return s.Name + ": " + s.Message
		case s.Message != "":
			return s.Message
		case s.Name != "":
			return s.Name
		default:
			return "unnamed check"
		}
	}

	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			unhealthyChecks = append(unhealthyChecks, label(check))
		case StatusDegraded:
			degradedChecks = append(degradedChecks, label(check))
		case StatusHealthy:
			healthyCount++
		}
	}

	if len(unhealthyChecks) > 0 {
		return unhealthy(name, fmt.Sprintf("%d check(s) failed", len(unhealthyChecks)), map[string]any{
			"total":         len(checks),
			"unhealthy":     len(unhealthyChecks),
			"degraded":      len(degradedChecks),
			"healthy":       healthyCount,
			"failed_checks": unhealthyChecks,
		})
	}

	if len(degradedChecks) > 0 {
		return degraded(name, fmt.Sprintf("%d check(s) degraded", len(degradedChecks)), map[string]any{
			"total":           len(checks),
			"degraded":        len(degradedChecks),
			"healthy":         healthyCount,
			"degraded_checks": degradedChecks,
		})
	}

	return healthy(name, fmt.Sprintf("all %d check(s) passed", len(checks)), nil)
}
