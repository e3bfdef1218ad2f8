// Package health checks the dependencies of a threatmap deployment: the
// taxonomy file, the Redis instance shared by the store and the work queue,
// and the liveness of queue workers.
//
// # Usage Example
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//
//	overall := health.Combine(
//	    health.FileCheck("taxonomy.yaml"),
//	    health.RedisCheck(ctx, redisconn.Options{URL: "redis://localhost:6379"}),
//	    health.QueueCheck(ctx, client, queue.DefaultQueue, workerIDs...),
//	)
//	if overall.IsUnhealthy() {
//	    log.Printf("health check failed: %s %v", overall.Message, overall.Details)
//	}
//
// # Status Priority
//
// When combining checks with Combine, the result follows this priority:
//
//   - Unhealthy: If any check is unhealthy, the combined result is unhealthy
//   - Degraded: If any check is degraded (and none unhealthy), the result is degraded
//   - Healthy: If all checks are healthy, the result is healthy
package health
