package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/zero-day-ai/threatmap/config"
	"github.com/zero-day-ai/threatmap/filter"
	"github.com/zero-day-ai/threatmap/incident"
	"github.com/zero-day-ai/threatmap/internal/logging"
	"github.com/zero-day-ai/threatmap/internal/redisconn"
	"github.com/zero-day-ai/threatmap/internal/telemetry"
	"github.com/zero-day-ai/threatmap/pipeline"
	"github.com/zero-day-ai/threatmap/queue"
	"github.com/zero-day-ai/threatmap/report"
	"github.com/zero-day-ai/threatmap/store"
	"github.com/zero-day-ai/threatmap/store/memstore"
	"github.com/zero-day-ai/threatmap/store/redisstore"
	"github.com/zero-day-ai/threatmap/taxonomy"
)

const usage = `threatmap classifies threat incidents and maps them to MITRE ATT&CK.

Usage:
  threatmap <command> [flags]

Commands:
  run       import incidents, classify, map and write reports in one process
  enqueue   import incidents and push pending work for distributed workers
  worker    consume work items from the Redis queue
  export    write reports from the stored results
  validate  check the configuration and taxonomy

Run "threatmap <command> -h" for the flags of a command.
`

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"run":      cmdRun,
	"enqueue":  cmdEnqueue,
	"worker":   cmdWorker,
	"export":   cmdExport,
	"validate": cmdValidate,
}

// run dispatches args to a subcommand and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	name := args[0]
	switch name {
	case "-h", "-help", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "threatmap: unknown command %q\n\n%s", name, usage)
		return 2
	}

	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}
	defer a.close()

	if err := cmd(ctx, a, args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "threatmap %s: %v\n", name, err)
		return 1
	}
	return 0
}

// app holds what subcommands share: configuration, logger, taxonomy and the
// lazily opened store.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	cfg       *config.Config
	logger    *slog.Logger
	model     *taxonomy.Model
	store     store.Store
	telemetry *telemetry.Providers
}

// telemetryFlushTimeout bounds the final export of spans and metrics.
const telemetryFlushTimeout = 5 * time.Second

func (a *app) flags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	configPath := fs.String("config", "", "path to threatmap.yaml (default: search from the working directory)")
	return fs, configPath
}

// setup loads configuration, builds the logger, starts telemetry when a
// collector is configured and loads the taxonomy. taxonomyPath overrides the
// configured taxonomy when set.
func (a *app) setup(ctx context.Context, configPath, taxonomyPath string) error {
	cfg, err := config.Resolve(configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	a.logger, err = logging.New(cfg.Log.GetLevel(), cfg.Log.GetFormat(), a.stderr)
	if err != nil {
		return err
	}

	if cfg.Telemetry.Enabled() {
		a.telemetry, err = telemetry.Setup(ctx, telemetry.Options{
			Endpoint:       cfg.Telemetry.Endpoint,
			Insecure:       cfg.Telemetry.Insecure,
			ServiceName:    cfg.Telemetry.GetServiceName(),
			MetricInterval: cfg.Telemetry.GetMetricInterval(),
			Logger:         a.logger,
		})
		if err != nil {
			return err
		}
	}

	if taxonomyPath == "" {
		taxonomyPath = cfg.Taxonomy.GetPath()
	}
	if taxonomyPath == "" {
		a.model = taxonomy.Default()
	} else if a.model, err = taxonomy.Load(taxonomyPath); err != nil {
		return err
	}

	a.logger.Debug("configuration loaded",
		"taxonomy_version", a.model.Version(),
		"store", cfg.Store.GetBackend(),
	)
	return nil
}

func (a *app) redisOptions() redisconn.Options {
	return redisconn.Options{URL: a.cfg.Store.GetRedisURL()}
}

func (a *app) openStore() (store.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	switch a.cfg.Store.GetBackend() {
	case config.BackendRedis:
		st, err := redisstore.New(redisstore.Options{
			Options: a.redisOptions(),
			Prefix:  a.cfg.Store.GetPrefix(),
		})
		if err != nil {
			return nil, err
		}
		a.store = st
	default:
		a.store = memstore.New()
	}
	return a.store, nil
}

func (a *app) openQueue() (*queue.RedisClient, error) {
	return queue.NewRedisClient(queue.RedisOptions{Options: a.redisOptions()})
}

// requireRedis rejects commands that share state between processes when the
// in-process store is configured.
func (a *app) requireRedis(command string) error {
	if a.cfg.Store.GetBackend() != config.BackendRedis {
		return fmt.Errorf("%s needs the redis store backend (set store.backend or %s)", command, config.EnvStore)
	}
	return nil
}

// instrumentationName names the tracer and meter taken from the global
// providers. Both are no-ops unless telemetry is configured.
const instrumentationName = "github.com/zero-day-ai/threatmap"

func (a *app) runner(st store.Store) (*pipeline.Runner, error) {
	f, err := filter.Compile(a.cfg.Filter)
	if err != nil {
		return nil, err
	}
	return pipeline.New(a.model, st,
		pipeline.WithLogger(a.logger),
		pipeline.WithTracer(otel.Tracer(instrumentationName)),
		pipeline.WithMeter(otel.Meter(instrumentationName)),
		pipeline.WithConcurrency(a.cfg.Worker.GetConcurrency()),
		pipeline.WithFilter(f),
	)
}

// importIncidents stores the incidents read from path ("-" for stdin).
func (a *app) importIncidents(ctx context.Context, st store.Store, path string) (int, error) {
	if path == "" {
		return 0, nil
	}

	var r io.Reader = a.stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return 0, fmt.Errorf("failed to open incidents: %w", err)
		}
		defer f.Close()
		r = f
	}

	incs, err := incident.Decode(r)
	if err != nil {
		return 0, err
	}
	for _, inc := range incs {
		if err := st.PutIncident(ctx, inc); err != nil {
			return 0, err
		}
	}
	a.logger.Info("incidents imported", "count", len(incs), "source", path)
	return len(incs), nil
}

// writeReports exports everything in st to the output directory.
func (a *app) writeReports(ctx context.Context, r *pipeline.Runner, outDir, formats string) ([]string, error) {
	st := r.Store()

	fs := a.cfg.Report.GetFormats()
	if formats != "" {
		fs = nil
		for _, s := range strings.Split(formats, ",") {
			f, err := report.ParseFormat(strings.ToLower(strings.TrimSpace(s)))
			if err != nil {
				return nil, err
			}
			fs = append(fs, f)
		}
	}
	if outDir == "" {
		outDir = a.cfg.Report.GetOutputDir()
	}

	incidents, err := st.Incidents(ctx)
	if err != nil {
		return nil, err
	}
	classifications, err := st.Classifications(ctx)
	if err != nil {
		return nil, err
	}
	mappings, err := st.Mappings(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := r.Summarize(ctx)
	if err != nil {
		return nil, err
	}

	var layerName string
	if a.cfg.Report != nil {
		layerName = a.cfg.Report.LayerName
	}

	paths, err := report.WriteFiles(outDir, fs, report.Bundle{
		Overview: report.Overview{
			Classifications: classifications,
			Summary:         summary,
		},
		Incidents: incidents,
		Mappings:  mappings,
		LayerName: layerName,
	})
	if err != nil {
		return paths, err
	}
	a.logger.Info("reports written", "dir", outDir, "files", len(paths))
	return paths, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil && a.logger != nil {
			a.logger.Warn("failed to close store", "error", err)
		}
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryFlushTimeout)
		defer cancel()
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to flush telemetry", "error", err)
		}
	}
}
