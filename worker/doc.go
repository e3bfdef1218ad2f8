// Package worker runs pipeline stages as Redis queue consumers.
//
// # Overview
//
// A distributed run has one producer and any number of workers sharing a
// store and a Redis instance:
//   - pipeline.Runner.Enqueue (producer): pushes one WorkItem per pending
//     incident and stage
//   - Worker (consumer): pops items, classifies or maps the incident through
//     the same Runner code path a local run uses, stores the outcome and
//     publishes a queue.Result on the run's channel
//
// Because stores accept only the first classification and the first mapping
// set per incident, several workers may race on the same incident safely.
//
// # Usage
//
//	runner, err := pipeline.New(model, st)
//	if err != nil {
//	    return err
//	}
//	client, err := queue.NewRedisClient(queue.RedisOptions{})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	w := worker.New(runner, client, worker.Options{Concurrency: 8})
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	return w.Run(ctx)
//
// # Shutdown
//
// Run returns once ctx is cancelled and every goroutine finished its current
// item, or after ShutdownTimeout, whichever comes first. Items being
// processed are completed, items still queued stay in Redis for the next
// worker.
//
// # Health
//
// Each worker refreshes queue.HealthKey(ID()) every HeartbeatInterval; the
// key expires after the client's heartbeat TTL when the worker dies.
package worker
