package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/fleetctl/internal/audit"
	"github.com/mtzanidakis/fleetctl/internal/config"
	"github.com/mtzanidakis/fleetctl/internal/fleet"
	"github.com/mtzanidakis/fleetctl/internal/natsbus"
	"github.com/mtzanidakis/fleetctl/internal/observability"
	"github.com/mtzanidakis/fleetctl/internal/schedule"
	"github.com/mtzanidakis/fleetctl/internal/scheduler"
	"github.com/mtzanidakis/fleetctl/internal/store"
	"github.com/mtzanidakis/fleetctl/internal/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const metricsRefresh = "@every 2s"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the fleet simulation",
	Long: `Starts every configured command server with its agents, the status report
schedule, and (when enabled) the event store, embedded NATS bus and web API.
Stop with Ctrl+C; a shutdown summary is printed on exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runFleet(cmd.Context()); err != nil {
			slog.Error("fleet failed", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		path = config.Path()
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, path, nil
}

func runFleet(parent context.Context) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger, closeLogs, err := audit.NewLogger(cfg.Log, os.Stderr, "fleet")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closeLogs()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	slog.Info("starting fleet", "version", version, "run", runID, "config", path)

	metrics, err := observability.NewFleetCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	sinks := []audit.Sink{audit.NewLogSink(logger), metrics}

	// SQLite store
	var db *store.Store
	if cfg.Store.Enabled {
		db, err = store.New(cfg.Store)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		defer db.Close()
		sinks = append(sinks, audit.NewStoreSink(db, runID))
		slog.Info("store initialized", "path", cfg.Store.Path)
	}

	// Embedded NATS
	var (
		bus *natsbus.Bus
		pub *natsbus.Client
	)
	if cfg.NATS.Enabled {
		bus, err = natsbus.New(cfg.NATS)
		if err != nil {
			return fmt.Errorf("init nats: %w", err)
		}
		defer bus.Close()
		pub, err = natsbus.NewClient(bus, "fleetctl")
		if err != nil {
			return fmt.Errorf("nats client: %w", err)
		}
		defer pub.Close()
		sinks = append(sinks, audit.NewBusSink(pub))
		slog.Info("nats started", "port", cfg.NATS.Port)
	}

	f, err := fleet.New(cfg, fleet.WithRunID(runID), fleet.WithSink(audit.Multi(sinks...)))
	if err != nil {
		return fmt.Errorf("init fleet: %w", err)
	}
	if db != nil {
		run := &store.Run{ID: runID, Nodes: len(f.Servers()), Agents: f.Agents(), StartedAt: f.StartedAt()}
		if err := db.SaveRun(run); err != nil {
			return fmt.Errorf("save run: %w", err)
		}
	}

	sched, err := newScheduler(f, cfg, pub, metrics)
	if err != nil {
		return err
	}

	reportSched, _ := schedule.Parse(cfg.Report.Schedule)
	fleet.WriteStartupSummary(os.Stdout, f.Stats(), reportSched.String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return f.Run(gctx) })
	g.Go(func() error {
		sched.Start(gctx)
		return nil
	})

	// Web API
	if cfg.Web.Enabled {
		srv := web.NewServer(f, db, bus, sched, metrics.Handler(), cfg.Web, version)
		g.Go(func() error {
			if err := srv.Start(gctx); err != nil {
				return fmt.Errorf("web server: %w", err)
			}
			return nil
		})
	}

	if cfg.Watch.Enabled {
		g.Go(func() error {
			return config.Watch(gctx, path, cfg.Watch.Debounce, func(next *config.Config) {
				reload(f, sched, next)
			})
		})
	}

	<-gctx.Done()
	slog.Info("shutting down")
	err = g.Wait()

	st := f.Stats()
	fleet.WriteShutdownSummary(os.Stdout, st)
	if db != nil {
		if ferr := db.FinishRun(runID, st.System.Failed(), fleet.Summary(st)); ferr != nil {
			slog.Error("finish run failed", "run", runID, "error", ferr)
		}
	}
	return err
}

func newScheduler(f *fleet.Fleet, cfg *config.Config, pub *natsbus.Client, metrics *observability.FleetCollector) (*scheduler.Scheduler, error) {
	reportSched, err := schedule.Parse(cfg.Report.Schedule)
	if err != nil {
		return nil, fmt.Errorf("report schedule: %w", err)
	}
	metricsSched, err := schedule.Parse(metricsRefresh)
	if err != nil {
		return nil, err
	}

	out := fleet.ReportOutput{Writer: os.Stdout, Metrics: metrics}
	var opts []scheduler.Option
	if pub != nil {
		out.Publisher = pub
		opts = append(opts, scheduler.WithPublisher(pub))
	}

	sched := scheduler.New(cfg.Report.PollInterval, opts...)
	if err := sched.Add(f.ReportJob(reportSched, out)); err != nil {
		return nil, err
	}
	if err := sched.Add(f.MetricsJob(metricsSched, metrics)); err != nil {
		return nil, err
	}
	return sched, nil
}

func reload(f *fleet.Fleet, sched *scheduler.Scheduler, next *config.Config) {
	start := time.Now()
	diff := f.Reload(next)
	if diff.ReportChanged {
		s, err := schedule.Parse(diff.NewReport.Schedule)
		if err != nil {
			slog.Error("invalid report schedule, keeping previous", "schedule", diff.NewReport.Schedule, "error", err)
		} else if err := sched.Reschedule(fleet.ReportJobName, s); err != nil {
			slog.Error("reschedule report failed", "error", err)
		}
		sched.UpdateConfig(diff.NewReport.PollInterval)
	}
	if diff.HasChanges() {
		slog.Info("config reloaded",
			"moved", diff.NodesMoved,
			"simulation", diff.SimulationChanged,
			"report", diff.ReportChanged,
			"took", time.Since(start))
	}
}
