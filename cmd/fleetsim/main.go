// Command fleetsim runs the fleet simulation: it builds a session from the
// content directory (or resumes a saved one), serves the roster API and
// snapshot stream, replicates to other users and saves on exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"github.com/openrails-go/fleet/internal/ai"
	"github.com/openrails-go/fleet/internal/api"
	"github.com/openrails-go/fleet/internal/cache"
	"github.com/openrails-go/fleet/internal/config"
	"github.com/openrails-go/fleet/internal/dispatcher"
	"github.com/openrails-go/fleet/internal/influx"
	"github.com/openrails-go/fleet/internal/logging"
	"github.com/openrails-go/fleet/internal/monitor"
	intOtel "github.com/openrails-go/fleet/internal/otel"
	"github.com/openrails-go/fleet/internal/parser"
	"github.com/openrails-go/fleet/internal/replication"
	"github.com/openrails-go/fleet/internal/scheduler"
	"github.com/openrails-go/fleet/internal/session"
	"github.com/openrails-go/fleet/internal/signals"
	"github.com/openrails-go/fleet/internal/sim"
	"github.com/openrails-go/fleet/internal/snapshot"
	"github.com/openrails-go/fleet/internal/storage"
	"github.com/openrails-go/fleet/internal/track"
	"github.com/openrails-go/fleet/internal/worker"
)

const appName = "fleetsim"

var (
	// SlogManager handles all slog-based logging
	SlogManager = logging.NewSlogManager()

	// Logger is the slog logger (convenience reference)
	Logger = slog.Default()

	// ConnLogger is the zerolog logger for connections and the dispatcher
	ConnLogger = zerolog.Nop()

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Pipeline

	// GraylogWriter receives JSON records when Graylog is enabled
	GraylogWriter io.Writer

	SessionStartTime = time.Now()
)

func main() {
	configDir := "."
	resume := false
	for _, arg := range os.Args[1:] {
		switch strings.ToLower(arg) {
		case "resume":
			resume = true
		default:
			configDir = arg
		}
	}

	if err := run(configDir, resume); err != nil {
		Logger.Error("Fleet simulation failed", "error", err)
		_ = SlogManager.Flush(context.Background())
		os.Exit(1)
	}
}

func run(configDir string, resume bool) error {
	cfgErr := config.Load(configDir)

	logFile, err := setupLogging()
	if err != nil {
		return err
	}
	if logFile != nil {
		defer logFile.Close()
	}
	defer shutdownTelemetry()

	switch {
	case errors.Is(cfgErr, config.ErrNoConfigFile):
		Logger.Warn("No config file, using defaults", "dir", configDir)
	case cfgErr != nil:
		return cfgErr
	default:
		Logger.Info("Loaded config", "dir", configDir)
	}

	tc := config.GetTelemetryConfig()
	if tc.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: tc.SentryDSN, Release: appName}); err != nil {
			Logger.Error("Failed to initialize Sentry", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	simCfg := config.GetSimulationConfig()
	mpCfg := config.GetMultiplayerConfig()
	mode := sim.ParseMode(mpCfg.Role)

	p := parser.NewParser(Logger)
	route, err := parser.ReadFile(filepath.Join(simCfg.ContentDir, simCfg.RouteFile), p.ParseRoute)
	if err != nil {
		return fmt.Errorf("failed to read route: %w", err)
	}
	db, err := p.BuildTrack(route)
	if err != nil {
		return fmt.Errorf("failed to build track: %w", err)
	}
	Logger.Info("Track loaded", "nodes", db.Len())

	simCtx := newContext(db, mode, mpCfg.User, simCfg.SpeedMultiplier)

	catalog, err := newCatalog(config.GetStorageConfig(), ConnLogger)
	if err != nil {
		return err
	}
	defer func() {
		if err := catalog.Close(); err != nil {
			Logger.Error("Failed to close save catalog", "error", err)
		}
	}()
	slot := config.GetStorageConfig().Slot

	if err := populate(simCtx, p, simCfg, catalog, slot, resume); err != nil {
		return err
	}

	publisher := snapshot.NewPublisher(Logger)
	defer publisher.Close()

	monitorService, closeInflux := newMonitor(tc, mpCfg.Role)
	defer closeInflux()

	sched, err := scheduler.New(simCtx, nil, publisher, monitorService)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	SlogManager.Setup(loggingOptions(logFile, sched))
	Logger = SlogManager.Logger()
	simCtx.Logger = Logger

	eventDispatcher, err := dispatcher.New(logging.NewDispatcherLogger(ConnLogger))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}
	worker.NewManager(sched, Logger).RegisterHandlers(eventDispatcher, mode)

	var replicationHandler http.Handler
	switch mode {
	case sim.ModeServer:
		hub := replication.NewHub(eventDispatcher, mpCfg.Secret, ConnLogger)
		defer hub.Close()
		simCtx.Broadcaster = hub
		replicationHandler = hub
	case sim.ModeClient:
		client, err := replication.Dial(mpCfg.Address, mpCfg.Secret, mpCfg.User, eventDispatcher, ConnLogger)
		if err != nil {
			return fmt.Errorf("failed to join %s: %w", mpCfg.Address, err)
		}
		defer client.Close()
		simCtx.Broadcaster = client
		Logger.Info("Joined session", "address", mpCfg.Address, "user", mpCfg.User)
	}

	srv := &http.Server{
		Addr: config.GetString("api.listen"),
		Handler: api.NewRouter(api.Dependencies{
			Frames:         publisher,
			Commands:       sched,
			Switcher:       sched.Switcher(),
			Replication:    replicationHandler,
			Events:         publisher,
			AllowedOrigins: config.GetStringSlice("api.allowedOrigins"),
			Logger:         Logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		Logger.Info("API server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Error("API server failed", "error", err)
		}
	}()

	if err := monitorService.Start(); err != nil {
		Logger.Error("Failed to start status monitor", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	Logger.Info("Simulation running", "mode", mode.String(), "trains", simCtx.Roster.Len(), "tick", simCfg.TickInterval)
	runErr := sched.Run(ctx, simCfg.TickInterval)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		Logger.Warn("API server shutdown", "error", err)
	}
	monitorService.Stop()
	if err := eventDispatcher.Close(shutdownCtx); err != nil {
		Logger.Warn("Replicated events still queued at shutdown", "error", err)
	}

	if mode.Authority() {
		if err := save(catalog, slot, simCtx); err != nil {
			Logger.Error("Failed to save session", "slot", slot, "error", err)
		} else {
			Logger.Info("Session saved", "slot", slot)
		}
	}
	return runErr
}

func newContext(db *track.DB, mode sim.Mode, user string, speed float64) *sim.Context {
	ctx := sim.New(db,
		sim.WithMode(mode, user),
		sim.WithSignals(signals.New(db, Logger)),
		sim.WithAI(ai.New(db, Logger)),
		sim.WithLogger(Logger),
	)
	ctx.Clock.SpeedMultiplier = speed
	return ctx
}

// populate restores the saved slot when resuming, otherwise builds the
// configured session.
func populate(ctx *sim.Context, p *parser.Parser, cfg config.SimulationConfig, catalog storage.Backend, slot string, resume bool) error {
	if resume {
		if err := restore(catalog, slot, ctx); err != nil {
			return fmt.Errorf("failed to resume %q: %w", slot, err)
		}
		Logger.Info("Session resumed", "slot", slot, "trains", ctx.Roster.Len())
		return nil
	}

	def, err := parser.ReadFile(filepath.Join(cfg.ContentDir, cfg.SessionFile), p.ParseSession)
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if cfg.Timetable {
		def.Timetable = true
	}
	defs := cache.NewDefinitions(p, cfg.ContentDir)
	if err := session.NewBuilder(p, defs, cfg.ContentDir, Logger).Build(def, ctx); err != nil {
		return fmt.Errorf("failed to build session %q: %w", def.Name, err)
	}
	Logger.Info("Session built", "name", def.Name, "trains", ctx.Roster.Len(), "pending", len(ctx.Roster.Starts()))
	return nil
}

// setupLogging opens the session log file and configures slog, zerolog and
// the OTel provider.
func setupLogging() (*os.File, error) {
	logsDir := config.GetString("logsDir")
	level := config.GetString("logLevel")

	var logFile *os.File
	if logsDir != "" {
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create logs dir: %w", err)
		}
		path := logging.SessionLogPath(logsDir, appName, config.GetMultiplayerConfig().Role, SessionStartTime)
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logFile = f
	}

	var connOut io.Writer = os.Stdout
	if logFile != nil {
		connOut = logFile
	}
	ConnLogger = logging.NewZerolog(connOut, level)

	tc := config.GetTelemetryConfig()
	if tc.GraylogEnabled {
		w, err := logging.NewGraylogWriter(tc.GraylogAddress)
		if err != nil {
			ConnLogger.Error().Err(err).Str("address", tc.GraylogAddress).Msg("Failed to connect to Graylog")
		} else {
			GraylogWriter = w
		}
	}
	if tc.OTel.Enabled {
		mp := config.GetMultiplayerConfig()
		p, err := intOtel.Start(context.Background(), tc.OTel, intOtel.Identity{Role: mp.Role, User: mp.User}, connOut)
		if err != nil {
			ConnLogger.Error().Err(err).Msg("Failed to initialize OTel provider")
		} else {
			OTelProvider = p
		}
	}

	SlogManager.Setup(loggingOptions(logFile, nil))
	Logger = SlogManager.Logger()
	if logFile != nil {
		Logger.Info("Logging to file", "path", logFile.Name())
	}
	return logFile, nil
}

func loggingOptions(logFile *os.File, clock logging.Clock) logging.Options {
	opts := logging.Options{
		Level:   config.GetString("logLevel"),
		Graylog: GraylogWriter,
		Clock:   clock,
	}
	if logFile != nil {
		opts.File = logFile
	}
	if OTelProvider != nil {
		opts.Provider = OTelProvider.LoggerProvider()
	}
	return opts
}

func newMonitor(tc config.TelemetryConfig, role string) (*monitor.Service, func()) {
	deps := monitor.Dependencies{
		Logger:     Logger,
		StatusFile: filepath.Join(config.GetString("logsDir"), "status.json"),
		Interval:   tc.Influx.Interval,
		Role:       role,
	}
	if !tc.Influx.Enabled {
		return monitor.NewService(deps), func() {}
	}

	backup := filepath.Join(config.GetString("logsDir"), fmt.Sprintf("influx_backup_%s.lp.gz", SessionStartTime.Format("20060102_150405")))
	m := influx.NewManager(tc.Influx, ConnLogger, backup)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.Connect(ctx); err != nil {
		Logger.Error("Failed to set up InfluxDB telemetry", "error", err)
		return monitor.NewService(deps), func() {}
	}
	deps.Writer = m
	return monitor.NewService(deps), func() {
		if err := m.Close(); err != nil {
			Logger.Warn("Failed to close InfluxDB telemetry", "error", err)
		}
	}
}

func shutdownTelemetry() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := SlogManager.Flush(ctx); err != nil {
		ConnLogger.Warn().Err(err).Msg("Failed to flush logs")
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			ConnLogger.Warn().Err(err).Msg("Failed to shut down OTel provider")
		}
	}
}
