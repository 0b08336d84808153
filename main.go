package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/weldr-proxy/weldr/internal/app"
	"github.com/weldr-proxy/weldr/internal/config"
	"github.com/weldr-proxy/weldr/internal/logger"
	"github.com/weldr-proxy/weldr/internal/util"
	"github.com/weldr-proxy/weldr/internal/version"
	"github.com/weldr-proxy/weldr/pkg/nerdstats"
)

func main() {
	root := newRootCommand()
	root.AddCommand(newWorkerCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCommand builds the default supervisor-mode command: binds the
// admin and proxy addresses, forks the configured worker processes.
func newRootCommand() *cobra.Command {
	var showVersion bool

	cmd := &cobra.Command{
		Use:   "weldr",
		Short: version.Description,
		RunE: func(cmd *cobra.Command, args []string) error {
			vlog := log.New(log.Writer(), "", 0)
			if showVersion {
				version.PrintVersionInfo(true, vlog)
				return nil
			}
			version.PrintVersionInfo(false, vlog)
			return run(app.ModeSupervisor)
		},
	}

	cmd.Flags().BoolVar(&showVersion, "version", false, "print version information and exit")
	return cmd
}

// newWorkerCommand builds the hidden worker subcommand a supervisor
// re-execs itself as: it subscribes to the manager's control socket
// and listens on the proxy address only.
func newWorkerCommand() *cobra.Command {
	var id int
	var controlAddr string

	cmd := &cobra.Command{
		Use:    "worker",
		Short:  "internal: run as a subscribed worker process",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(id, controlAddr)
		},
	}

	cmd.Flags().IntVar(&id, "id", 0, "worker index assigned by the supervisor")
	cmd.Flags().StringVar(&controlAddr, "control", "", "manager control socket address")
	return cmd
}

func run(mode app.Mode) error {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(loggingConfig(cfg))
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("initialising", "version", version.Version, "pid", os.Getpid(), "mode", "supervisor")

	application := app.New(cfg, styledLogger, mode)

	// A config file edit re-seeds pool membership; the deltas fan out
	// to workers like any admin mutation.
	config.OnReload(func(next *config.Config) {
		styledLogger.Info("configuration reloaded", "backends", len(next.Backends))
		application.UpsertBackends(next.Backends)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	// Bind or fork failures at startup are fatal; there is no state
	// worth unwinding yet.
	if err := application.Start(ctx); err != nil {
		logger.Fatal("failed to start weldr", "error", err)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := application.Stop(shutdownCtx); err != nil {
		styledLogger.Error("error during shutdown", "error", err)
	}

	reportProcessStats(styledLogger, startTime)
	styledLogger.Info("weldr has shut down")
	return nil
}

func runWorker(id int, controlAddr string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if controlAddr != "" {
		cfg.Manager.ControlAddress = controlAddr
	}

	logInstance, styledLogger, cleanup, err := logger.NewWithTheme(loggingConfig(cfg))
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	defer cleanup()
	slog.SetDefault(logInstance)

	styledLogger.Info("initialising", "version", version.Version, "pid", os.Getpid(), "mode", "worker", "worker_id", id)

	application := app.New(cfg, styledLogger, app.ModeWorker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	if err := application.Start(ctx); err != nil {
		logger.Fatal("failed to start worker", "worker_id", id, "error", err)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	return application.Stop(shutdownCtx)
}

// loggingConfig adapts config.Config's Logging section (populated by
// viper from weldr.yaml / WELDR_-prefixed env vars) to logger.Config.
func loggingConfig(cfg *config.Config) *logger.Config {
	return &logger.Config{
		Level:      cfg.Logging.Level,
		PrettyLogs: true,
		FileOutput: cfg.Logging.FileOutput,
		LogDir:     cfg.Logging.LogDir,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Theme:      cfg.Logging.Theme,
	}
}

func reportProcessStats(log *logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	log.Info("process memory stats",
		"heap_alloc", units.BytesSize(float64(stats.HeapAlloc)),
		"heap_sys", units.BytesSize(float64(stats.HeapSys)),
		"heap_inuse", units.BytesSize(float64(stats.HeapInuse)),
		"heap_released", units.BytesSize(float64(stats.HeapReleased)),
		"stack_inuse", units.BytesSize(float64(stats.StackInuse)),
		"total_alloc", units.BytesSize(float64(stats.TotalAlloc)),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	log.Info("process allocation stats",
		"total_mallocs", stats.Mallocs,
		"total_frees", stats.Frees,
		"net_objects", util.SafeInt64Diff(stats.Mallocs, stats.Frees),
	)

	if stats.NumGC > 0 {
		log.Info("garbage collection stats",
			"num_gc_cycles", stats.NumGC,
			"last_gc", stats.LastGC.Format(time.RFC3339),
			"total_gc_time", stats.TotalGCTime.Round(time.Millisecond).String(),
			"gc_cpu_fraction", fmt.Sprintf("%.4f%%", stats.GCCPUFraction*100),
			"avg_gc_pause", nerdstats.CalculateAverageGCPause(stats),
		)
	}

	log.Info("goroutine stats",
		"num_goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
		"num_cgo_calls", stats.NumCgoCall,
	)

	log.Info("runtime stats",
		"uptime", units.HumanDuration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)
}
