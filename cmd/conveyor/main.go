package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/profile"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/OCAP2/conveyor/internal/actuator"
	"github.com/OCAP2/conveyor/internal/api"
	"github.com/OCAP2/conveyor/internal/cache"
	"github.com/OCAP2/conveyor/internal/clock"
	"github.com/OCAP2/conveyor/internal/config"
	"github.com/OCAP2/conveyor/internal/dispatcher"
	"github.com/OCAP2/conveyor/internal/handlers"
	"github.com/OCAP2/conveyor/internal/influx"
	"github.com/OCAP2/conveyor/internal/logging"
	"github.com/OCAP2/conveyor/internal/monitor"
	intOtel "github.com/OCAP2/conveyor/internal/otel"
	"github.com/OCAP2/conveyor/internal/storage"
	"github.com/OCAP2/conveyor/internal/worker"
	"github.com/OCAP2/conveyor/pkg/core"
)

// module defs - Version and BuildDate can be set at build time via ldflags
var (
	Version   string = "0.0.1"
	BuildDate string = "unknown"
)

const appName = "conveyor"

// shutdownTimeout bounds the final flushes after the belt has stopped.
const shutdownTimeout = 10 * time.Second

type options struct {
	configDir  string
	profile    string
	profileDir string
	version    bool
}

// parseFlags parses args and binds the config overrides into viper.
func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet(appName, pflag.ContinueOnError)
	fs.StringVarP(&opts.configDir, "config", "c", ".", "directory containing "+config.ConfigFileName)
	fs.StringVar(&opts.profile, "profile", "", "enable profiling: cpu, mem, block or mutex")
	fs.StringVar(&opts.profileDir, "profileDir", ".", "directory for profile output")
	fs.BoolVarP(&opts.version, "version", "v", false, "print version and exit")
	fs.String("logLevel", "info", "log level: debug, info, warn or error")
	fs.String("actuator", "sim", "actuator type: sim or gz")
	fs.String("world", "", "gz world name")
	fs.String("storage", "memory", "storage backends, comma separated: memory, sqlite, postgres, websocket")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}

	bindings := map[string]string{
		"logLevel":       "logLevel",
		"actuator.type":  "actuator",
		"actuator.world": "world",
		"storage.type":   "storage",
	}
	for key, name := range bindings {
		if err := viper.BindPFlag(key, fs.Lookup(name)); err != nil {
			return opts, fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}

	if opts.profile != "" {
		if _, err := profileMode(opts.profile); err != nil {
			return opts, err
		}
	}
	return opts, nil
}

// profileMode maps a --profile value to a pkg/profile mode.
func profileMode(name string) (func(*profile.Profile), error) {
	switch name {
	case "cpu":
		return profile.CPUProfile, nil
	case "mem":
		return profile.MemProfile, nil
	case "block":
		return profile.BlockProfile, nil
	case "mutex":
		return profile.MutexProfile, nil
	default:
		return nil, fmt.Errorf("unknown profile mode %q", name)
	}
}

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	opts, err := parseFlags(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if opts.version {
		fmt.Printf("%s %s (built %s)\n", appName, Version, BuildDate)
		return 0
	}

	if opts.profile != "" {
		mode, _ := profileMode(opts.profile)
		p := profile.Start(mode, profile.ProfilePath(opts.profileDir), profile.NoShutdownHook)
		defer p.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintln(os.Stderr, "conveyor:", err)
		return 1
	}
	return 0
}

// app holds everything that needs an orderly shutdown.
type app struct {
	start   time.Time
	logs    *logging.SlogManager
	logger  *slog.Logger
	logFile *os.File
	otel    *intOtel.Provider
	influx  *influx.Manager
	results *api.Client

	table    *cache.EntityTable
	failures *monitor.FailureMonitor
	backend  storage.Backend
	events   *dispatcher.Dispatcher
	handlers *handlers.Service
	workers  *worker.Manager
	status   *monitor.Service
	run      *core.Run
}

// run wires the controller, runs it until ctx is cancelled and shuts down.
func run(ctx context.Context, opts options) error {
	a := &app{
		start: time.Now(),
		logs:  logging.NewSlogManager(),
	}

	// console logging until the log file is open
	a.logs.Setup(nil, viper.GetString("logLevel"), nil)
	a.logger = a.logs.Logger()

	if err := config.Load(opts.configDir); err != nil {
		a.logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		a.logger.Info("Loaded config", "file", viper.ConfigFileUsed())
	}

	beltCfg := config.GetBeltConfig()
	if err := beltCfg.Validate(); err != nil {
		return err
	}
	a.table = cache.NewEntityTable()
	a.failures = monitor.NewFailureMonitor(beltCfg.FailureThreshold)

	a.setupLogging()
	defer a.closeLogging()

	dbLogger := a.newZerolog("database")

	if err := a.setupInflux(); err != nil {
		a.logger.Warn("InfluxDB metrics unavailable", "error", err)
	}

	a.setupResults(ctx)

	backend, err := initStorage(config.GetStorageConfig(), a.logger, dbLogger)
	if err != nil {
		a.logger.Error("Failed to set up storage", "error", err)
		a.closeInflux()
		return err
	}
	a.backend = backend

	if err := a.wire(beltCfg); err != nil {
		a.logger.Error("Failed to wire conveyor", "error", err)
		a.shutdown()
		return err
	}

	if err := a.workers.Start(ctx); err != nil {
		a.shutdown()
		return err
	}
	if err := a.status.Start(ctx); err != nil {
		a.logger.Warn("Status monitor not started", "error", err)
	}
	a.logger.Info("Conveyor running", "runID", a.run.ID, "version", Version)

	<-ctx.Done()
	a.logger.Info("Shutdown requested", "cause", context.Cause(ctx))

	a.shutdown()
	return nil
}

// setupLogging opens the session log file, starts OTel and installs the
// final slog handler chain.
func (a *app) setupLogging() {
	logsDir := viper.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		a.logger.Error("Failed to create logs directory", "error", err, "path", logsDir)
	}

	logPath := logging.LogFilePath(logsDir, appName, a.start)
	if _, err := os.Stat(logPath); err == nil {
		_ = os.Rename(logPath, logPath+".old")
	}

	var out io.Writer
	f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		a.logger.Error("Failed to create/open log file!", "error", err, "path", logPath)
	} else {
		a.logFile = f
		out = f
		a.logger.Info("Begin logging in logs directory", "path", logPath)
	}

	otelCfg := config.GetOTelConfig()
	a.otel, err = intOtel.New(intOtel.FromConfig(otelCfg, out))
	if err != nil {
		a.logger.Error("Failed to initialize OTel provider", "error", err)
		a.otel, _ = intOtel.New(intOtel.Config{})
	} else if otelCfg.Enabled {
		a.logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
	}

	logOpts := []logging.Option{
		logging.WithState(logging.BeltState(a.table.Count, a.failures.IsPaused)),
	}
	if viper.GetBool("graylog.enabled") {
		addr := viper.GetString("graylog.address")
		w, err := logging.NewGraylogWriter(addr)
		if err != nil {
			a.logger.Warn("Graylog disabled", "error", err, "address", addr)
		} else {
			logOpts = append(logOpts, logging.WithGraylog(w))
		}
	}

	a.logs.Setup(out, viper.GetString("logLevel"), a.otel.LoggerProvider(), logOpts...)
	a.logger = a.logs.Logger()
	slog.SetDefault(a.logger)
}

// newZerolog builds the secondary logger used by the database, InfluxDB and
// dispatcher components.
func (a *app) newZerolog(component string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(viper.GetString("logLevel"))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimestampFunc = func() time.Time {
		return time.Now().UTC()
	}

	writers := []io.Writer{zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}}
	if a.logFile != nil {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        a.logFile,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}

	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// setupInflux connects to InfluxDB when enabled. A failed connection falls
// back to the gzip backup file inside Connect.
func (a *app) setupInflux() error {
	if !viper.GetBool("influx.enabled") {
		return nil
	}
	m := influx.NewManager(a.newZerolog("influx"), viper.GetString("influx.backupPath"))
	if err := m.Connect(); err != nil {
		_ = m.Close()
		return err
	}
	a.influx = m
	return nil
}

// setupResults creates the results server client when uploads are enabled
// and logs whether the server is reachable.
func (a *app) setupResults(ctx context.Context) {
	cfg := config.GetAPIConfig()
	if !cfg.Upload {
		return
	}
	a.results = api.New(cfg.ServerURL, cfg.APIKey, cfg.Timeout)
	if err := a.results.Healthcheck(ctx); err != nil {
		a.logger.Info("Results server is offline", "url", cfg.ServerURL, "error", err)
	} else {
		a.logger.Info("Results server is online", "url", cfg.ServerURL)
	}
}

// wire starts the run record and connects the belt tasks to the event
// pipeline and the status monitor.
func (a *app) wire(beltCfg config.BeltConfig) error {
	actCfg := config.GetActuatorConfig()
	if err := actCfg.Validate(); err != nil {
		return err
	}
	act, err := newActuator(actCfg, a.logger)
	if err != nil {
		return err
	}

	a.run = &core.Run{
		ID:        uuid.NewString(),
		StartTime: a.start,
		Version:   Version,
		Actuator:  actCfg.Type,
		Settings:  config.Settings(),
	}
	if err := a.backend.StartRun(a.run); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}

	a.events, err = dispatcher.New(logging.NewDispatcherLogger(a.newZerolog("dispatcher")))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	handlerDeps := handlers.Dependencies{
		Backend: a.backend,
		Logger:  a.logger,
		RunID:   a.run.ID,
	}
	if a.influx != nil {
		handlerDeps.Metrics = a.influx
	}
	a.handlers = handlers.NewService(handlerDeps)
	a.handlers.RegisterHandlers(a.events)

	a.workers, err = worker.NewManager(worker.Dependencies{
		Table:    a.table,
		Failures: a.failures,
		Actuator: act,
		Clock:    clock.System{},
		Events:   a.events,
		Logger:   a.logger,
		Rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, beltCfg)
	if err != nil {
		return err
	}

	statusCfg := config.GetStatusConfig()
	statusDeps := monitor.Dependencies{
		Provider:   a.workers,
		Recorder:   a.backend,
		Logger:     a.logger,
		Interval:   statusCfg.Interval,
		StatusFile: statusCfg.File,
		RunID:      a.run.ID,
	}
	if a.influx != nil {
		statusDeps.Metrics = a.influx
	}
	a.status = monitor.NewService(statusDeps)

	a.logger.Info("Session started",
		"runID", a.run.ID,
		"actuator", actCfg.Type,
		"world", actCfg.World,
		"storage", config.GetStorageConfig().Type,
		"settings", a.run.Settings,
	)
	return nil
}

// newActuator builds the configured simulator channel, bounded by the
// per-call timeouts.
func newActuator(cfg config.ActuatorConfig, logger *slog.Logger) (actuator.Actuator, error) {
	var act actuator.Actuator
	switch cfg.Type {
	case "gz":
		act = actuator.NewGz(actuator.GzConfig{
			Binary: cfg.Binary,
			World:  cfg.World,
		}, nil)
	case "sim", "":
		act = actuator.NewSim(actuator.SimConfig{
			FailureRate: cfg.Sim.FailureRate,
			Latency:     cfg.Sim.Latency,
			Seed:        cfg.Sim.Seed,
		})
	default:
		return nil, fmt.Errorf("unknown actuator type %q", cfg.Type)
	}
	logger.Info("Actuator selected", "type", cfg.Type, "world", cfg.World)

	return actuator.WithTimeouts(act, actuator.Timeouts{
		Spawn:  cfg.SpawnTimeout,
		Move:   cfg.MoveTimeout,
		Delete: cfg.DeleteTimeout,
	}), nil
}

// shutdown stops the belt first, then drains every sink in dependency order.
func (a *app) shutdown() {
	if a.workers != nil {
		a.workers.Stop()
	}
	if a.status != nil {
		a.status.Stop()
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.backend != nil {
		if a.run != nil {
			if err := a.backend.EndRun(time.Now()); err != nil {
				a.logger.Error("Failed to end run", "error", err)
			}
		}
		if err := a.backend.Close(); err != nil {
			a.logger.Error("Failed to close storage", "error", err)
		}
		a.publish()
	}
	if a.handlers != nil {
		a.logger.Info("Lifecycle events recorded", "count", a.handlers.Recorded())
	}
	a.closeInflux()
}

// publish uploads every exported run file when a results client is set.
func (a *app) publish() {
	for _, u := range uploadables(a.backend) {
		path := u.GetExportedFilePath()
		if path == "" {
			continue
		}
		meta := u.GetExportMetadata()
		a.logger.Info("Run exported", "path", path, "events", meta.EventCount, "statuses", meta.StatusCount, "duration", meta.Duration)
		if a.results == nil {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := a.results.Upload(ctx, path, meta)
		cancel()
		if err != nil {
			a.logger.Error("Failed to upload run", "path", path, "error", err)
			continue
		}
		a.logger.Info("Uploaded run", "path", path, "runID", meta.RunID)
	}
}

// uploadables returns the backends, including Multi members, that export a file.
func uploadables(b storage.Backend) []storage.Uploadable {
	var out []storage.Uploadable
	if multi, ok := b.(storage.Multi); ok {
		for _, m := range multi {
			out = append(out, uploadables(m)...)
		}
		return out
	}
	if u, ok := b.(storage.Uploadable); ok {
		out = append(out, u)
	}
	return out
}

func (a *app) closeInflux() {
	if a.influx == nil {
		return
	}
	if err := a.influx.Close(); err != nil {
		a.logger.Warn("Failed to close InfluxDB manager", "error", err)
	}
	a.influx = nil
}

// closeLogging flushes OTel and closes the log file. It runs last.
func (a *app) closeLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.logs.Flush(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "failed to flush logs:", err)
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "failed to shut down OTel:", err)
		}
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}
