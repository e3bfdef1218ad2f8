package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v2"

	"github.com/zero-day-ai/threatmap/config"
	"github.com/zero-day-ai/threatmap/health"
	"github.com/zero-day-ai/threatmap/taxonomy"
	"github.com/zero-day-ai/threatmap/worker"
)

// healthTimeout bounds all dependency checks of validate -check.
const healthTimeout = 5 * time.Second

func cmdRun(ctx context.Context, a *app, args []string) error {
	fs, configPath := a.flags("run")
	incidents := fs.String("incidents", "", `incidents to import first, JSON array or JSON Lines ("-" for stdin)`)
	outDir := fs.String("out", "", "report directory (default: report.output_dir)")
	formats := fs.String("formats", "", "comma-separated report formats (default: report.formats)")
	noReport := fs.Bool("no-report", false, "skip writing report files")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.setup(ctx, *configPath, ""); err != nil {
		return err
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	if _, err := a.importIncidents(ctx, st, *incidents); err != nil {
		return err
	}

	r, err := a.runner(st)
	if err != nil {
		return err
	}
	rep, err := r.Run(ctx)
	if err != nil {
		return err
	}

	if !*noReport {
		if _, err := a.writeReports(ctx, r, *outDir, *formats); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func cmdEnqueue(ctx context.Context, a *app, args []string) error {
	fs, configPath := a.flags("enqueue")
	incidents := fs.String("incidents", "", `incidents to import first, JSON array or JSON Lines ("-" for stdin)`)
	wait := fs.Duration("wait", 0, "wait up to this long for workers to finish the run (0: return immediately)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.setup(ctx, *configPath, ""); err != nil {
		return err
	}
	if err := a.requireRedis("enqueue"); err != nil {
		return err
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	if _, err := a.importIncidents(ctx, st, *incidents); err != nil {
		return err
	}

	client, err := a.openQueue()
	if err != nil {
		return err
	}
	defer client.Close()

	r, err := a.runner(st)
	if err != nil {
		return err
	}

	runID := uuid.New().String()
	if *wait <= 0 {
		n, err := r.EnqueueRun(ctx, client, a.cfg.Worker.GetQueue(), runID)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stdout, "run %s: %d work items enqueued\n", runID, n)
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, *wait)
	defer cancel()

	results, err := client.Subscribe(waitCtx, runID)
	if err != nil {
		return err
	}
	n, err := r.EnqueueRun(ctx, client, a.cfg.Worker.GetQueue(), runID)
	if err != nil {
		return err
	}

	bar := progressbar.NewOptions(n,
		progressbar.OptionSetWriter(a.stderr),
		progressbar.OptionSetDescription("run "+runID[:8]),
	)
	var done, failed, saved int
	for done < n {
		select {
		case res, ok := <-results:
			if !ok {
				return fmt.Errorf("run %s: %d of %d results received: %w", runID, done, n, waitCtx.Err())
			}
			done++
			if res.HasError() {
				failed++
				a.logger.Warn("work item failed", "incident_id", res.IncidentID, "stage", res.Stage, "error", res.Error)
			} else if res.Saved {
				saved++
			}
			_ = bar.Add(1)
		case <-waitCtx.Done():
			return fmt.Errorf("run %s: %d of %d results received: %w", runID, done, n, waitCtx.Err())
		}
	}
	_ = bar.Finish()
	fmt.Fprintf(a.stderr, "\n")

	fmt.Fprintf(a.stdout, "run %s: %d work items, %d saved, %d failed\n", runID, n, saved, failed)
	return nil
}

func cmdWorker(ctx context.Context, a *app, args []string) error {
	fs, configPath := a.flags("worker")
	concurrency := fs.Int("concurrency", 0, "worker goroutines (default: worker.concurrency)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.setup(ctx, *configPath, ""); err != nil {
		return err
	}
	if err := a.requireRedis("worker"); err != nil {
		return err
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	client, err := a.openQueue()
	if err != nil {
		return err
	}
	defer client.Close()

	r, err := a.runner(st)
	if err != nil {
		return err
	}

	n := *concurrency
	if n <= 0 {
		n = a.cfg.Worker.GetConcurrency()
	}
	w := worker.New(r, client, worker.Options{
		QueueName:         a.cfg.Worker.GetQueue(),
		Concurrency:       n,
		HeartbeatInterval: a.cfg.Worker.GetHeartbeatInterval(),
		ShutdownTimeout:   a.cfg.Worker.GetShutdownTimeout(),
		Logger:            a.logger,
	})
	return w.Run(ctx)
}

func cmdExport(ctx context.Context, a *app, args []string) error {
	fs, configPath := a.flags("export")
	outDir := fs.String("out", "", "report directory (default: report.output_dir)")
	formats := fs.String("formats", "", "comma-separated report formats (default: report.formats)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.setup(ctx, *configPath, ""); err != nil {
		return err
	}
	if err := a.requireRedis("export"); err != nil {
		return err
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	r, err := a.runner(st)
	if err != nil {
		return err
	}

	paths, err := a.writeReports(ctx, r, *outDir, *formats)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(a.stdout, p)
	}
	return nil
}

func cmdValidate(ctx context.Context, a *app, args []string) error {
	fs, configPath := a.flags("validate")
	taxonomyPath := fs.String("taxonomy", "", "taxonomy file to check (default: taxonomy.path or the built-in taxonomy)")
	dump := fs.Bool("dump", false, "print the effective taxonomy as YAML")
	check := fs.Bool("check", false, "also check the taxonomy file, Redis and the work queue")
	workers := fs.String("workers", "", "comma-separated worker IDs expected to be alive (with -check)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.setup(ctx, *configPath, *taxonomyPath); err != nil {
		return err
	}

	if *dump {
		return taxonomy.Encode(a.stdout, a.model)
	}

	fmt.Fprintf(a.stdout, "taxonomy %s\n", a.model.Version())
	for _, dim := range a.model.Dimensions() {
		subs := 0
		for _, c := range dim.Categories {
			subs += len(c.Subcategories)
		}
		fmt.Fprintf(a.stdout, "  %-12s %d categories, %d subcategories\n", dim.Name, len(dim.Categories), subs)
	}
	fmt.Fprintf(a.stdout, "  %-12s %d tactics, %d techniques\n", "att&ck", len(a.model.Tactics()), len(a.model.Techniques()))
	fmt.Fprintf(a.stdout, "  %-12s %d rules\n", "severity", len(a.model.SeverityRules()))
	fmt.Fprintf(a.stdout, "  %-12s %d subsectors\n", "subsectors", len(a.model.Subsectors()))
	fmt.Fprintf(a.stdout, "store %s, queue %s, concurrency %d\n",
		a.cfg.Store.GetBackend(), a.cfg.Worker.GetQueue(), a.cfg.Worker.GetConcurrency())
	if a.cfg.Filter != "" {
		fmt.Fprintf(a.stdout, "filter %s\n", a.cfg.Filter)
	}

	if !*check {
		return nil
	}
	path := *taxonomyPath
	if path == "" {
		path = a.cfg.Taxonomy.GetPath()
	}
	var ids []string
	for _, id := range strings.Split(*workers, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return a.checkHealth(ctx, path, ids)
}

// checkHealth prints one line per dependency check and fails when the
// combined status is unhealthy.
func (a *app) checkHealth(ctx context.Context, taxonomyPath string, workerIDs []string) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	var checks []health.Status
	if taxonomyPath != "" {
		st := health.FileCheck(taxonomyPath)
		st.Name = "taxonomy"
		checks = append(checks, st)
	}
	if a.cfg.Store.GetBackend() == config.BackendRedis {
		redis := health.RedisCheck(ctx, a.redisOptions())
		checks = append(checks, redis)
		if redis.IsHealthy() {
			client, err := a.openQueue()
			if err != nil {
				return err
			}
			defer client.Close()
			checks = append(checks, health.QueueCheck(ctx, client, a.cfg.Worker.GetQueue(), workerIDs...))
		}
	}

	for _, c := range checks {
		fmt.Fprintf(a.stdout, "health %-9s %-9s %s\n", c.Name, c.Status, c.Message)
	}
	overall := health.Combine(checks...)
	fmt.Fprintf(a.stdout, "health %-9s %-9s %s\n", overall.Name, overall.Status, overall.Message)
	if overall.IsUnhealthy() {
		return fmt.Errorf("health check failed: %s", overall.Message)
	}
	return nil
}
