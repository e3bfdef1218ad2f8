// Package queue provides the Redis work queue used to spread classification
// and technique mapping across processes.
//
// The queue decouples submission from execution. A pipeline run pushes one
// WorkItem per pending incident and stage, workers pop and process them
// against the shared store, and each outcome flows back to the submitter
// through Redis pub/sub.
//
// # Core Components
//
// Client: Interface for interacting with Redis queues. Provides methods for:
//   - Push/Pop/Depth operations for work queues
//   - Publish/Subscribe for result delivery
//   - Heartbeat/Alive for worker health
//
// WorkItem: One incident and stage for a worker, with trace context.
//
// Result: The outcome of processing a WorkItem.
//
// # Redis Key Schema
//
//   - threatmap:work - List for work items (LPUSH/BRPOP)
//   - threatmap:worker:<id>:health - String with TTL for heartbeat
//   - threatmap:results:<runID> - Pub/Sub channel for run results
//
// # Usage
//
// Creating a queue client:
//
//	client, err := queue.NewRedisClient(queue.RedisOptions{
//		Options: redisconn.Options{URL: "redis://localhost:6379"},
//	})
//
// Pushing work:
//
//	err := client.Push(ctx, queue.DefaultQueue, queue.WorkItem{
//		RunID:       runID,
//		Index:       0,
//		Total:       1,
//		IncidentID:  "inc-42",
//		Stage:       queue.StageClassify,
//		SubmittedAt: time.Now().UnixMilli(),
//	})
//
// Following a run:
//
//	results, err := client.Subscribe(ctx, runID)
//	for result := range results {
//		fmt.Printf("%s %s saved=%t\n", result.IncidentID, result.Stage, result.Saved)
//	}
//
// # Thread Safety
//
// RedisClient is safe for concurrent use by multiple goroutines.
package queue
