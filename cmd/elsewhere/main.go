package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/OCAP2/elsewhere/internal/config"
	"github.com/OCAP2/elsewhere/internal/influx"
	"github.com/OCAP2/elsewhere/internal/logging"
	"github.com/OCAP2/elsewhere/internal/monitor"
	"github.com/OCAP2/elsewhere/internal/outlet"
	intOtel "github.com/OCAP2/elsewhere/internal/otel"
	"github.com/OCAP2/elsewhere/internal/relay"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// build info - BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"

	AppName string = "elsewhere"
)

// global variables
var (
	// SlogManager handles all slog-based logging
	SlogManager *logging.SlogManager

	// Logger is the slog logger (convenience reference)
	Logger *slog.Logger

	// ZLogger backs the zerolog relay logger and the influx reporter
	ZLogger zerolog.Logger

	// OTelProvider handles OpenTelemetry
	OTelProvider *intOtel.Provider

	SessionStartTime time.Time = time.Now()

	LogFilePath string
	LogFile     *os.File

	// Services
	registry       *relay.Registry[outlet.Fragment]
	monitorService *monitor.Service
	influxReporter *influx.Reporter
	graylogWriter  io.WriteCloser
)

func main() {
	configDir := "."
	if len(os.Args) > 1 {
		configDir = os.Args[1]
	}

	if err := setup(configDir); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start %s: %v\n", AppName, err)
		os.Exit(1)
	}
	defer shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startGoroutines(ctx)

	m := newModel(registry, outletOptions()...)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		Logger.Error("UI exited with error", "error", err)
		fmt.Fprintf(os.Stderr, "%s: %v\n", AppName, err)
	}
}

// setup loads config and brings up logging, telemetry and the registry.
func setup(configDir string) error {
	// Logging goes to stdout until the session log file is open.
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "info", nil)
	Logger = SlogManager.Logger()

	if err := config.Load(configDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config", "dir", configDir)
	}

	logsDir := config.GetString("logsDir")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("creating logs dir %s: %w", logsDir, err)
	}

	LogFilePath = logging.LogFilePath(logsDir, AppName, SessionStartTime)
	var err error
	LogFile, err = os.OpenFile(LogFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	setupOTel()

	var setupOpts []logging.SetupOption
	if config.GetBool("graylog.enabled") {
		address := config.GetString("graylog.address")
		graylogWriter, err = logging.NewGraylogWriter(address, AppName)
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err, "address", address)
		} else {
			setupOpts = append(setupOpts, logging.WithGraylog(graylogWriter))
		}
	}

	// Counts are read lazily, so the registry may be created afterwards.
	setupOpts = append(setupOpts, logging.WithContextProvider(logging.CountsProvider(func() (int, int, bool) {
		if registry == nil {
			return 0, 0, false
		}
		return registry.Counts()
	})))

	var otelLogProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		otelLogProvider = OTelProvider.LoggerProvider()
	}
	SlogManager.Setup(LogFile, config.GetString("logLevel"), otelLogProvider, setupOpts...)
	Logger = SlogManager.Logger()
	Logger.Info("Logging to file", "path", LogFilePath, "version", CurrentVersion, "buildDate", BuildDate)

	zlvl, err := zerolog.ParseLevel(config.GetString("logLevel"))
	if err != nil {
		zlvl = zerolog.InfoLevel
	}
	ZLogger = zerolog.New(LogFile).Level(zlvl).With().Timestamp().Logger()

	relayCfg := config.GetRelayConfig()
	registry, err = relay.New[outlet.Fragment](
		relay.WithLogger(relayLogger()),
		relay.WithLockTimeout(relayCfg.LockTimeout),
	)
	if err != nil {
		return fmt.Errorf("creating relay registry: %w", err)
	}
	Logger.Info("Relay registry ready", "lockTimeout", relayCfg.LockTimeout, "backend", config.GetString("log.backend"))

	return nil
}

func setupOTel() {
	otelCfg := config.GetOTelConfig()
	if !otelCfg.Enabled {
		return
	}

	var err error
	OTelProvider, err = intOtel.New(intOtel.Config{
		Enabled:        otelCfg.Enabled,
		ServiceName:    otelCfg.ServiceName,
		BatchTimeout:   otelCfg.BatchTimeout,
		LogWriter:      LogFile,
		Endpoint:       otelCfg.Endpoint,
		Insecure:       otelCfg.Insecure,
		MetricWriter:   LogFile,
		MetricInterval: otelCfg.MetricInterval,
	})
	if err != nil {
		Logger.Error("Failed to initialize OTel provider", "error", err)
		OTelProvider = nil
		return
	}
	Logger.Info("OTel provider initialized", "file", LogFilePath, "endpoint", otelCfg.Endpoint)
}

// relayLogger picks the registry's logging backend from log.backend.
func relayLogger() relay.Logger {
	switch config.GetString("log.backend") {
	case "zerolog":
		return logging.NewZerologRelayLogger(ZLogger)
	default:
		return logging.NewRelayLogger(Logger)
	}
}

func outletOptions() []outlet.Option {
	return []outlet.Option{
		outlet.WithInboxSize(config.GetRelayConfig().InboxSize),
		outlet.WithLogger(relayLogger()),
	}
}

// startGoroutines starts the background senders.
func startGoroutines(ctx context.Context) {
	go runClock(ctx, registry, time.Second)

	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		influxReporter = influx.NewReporter(ZLogger, influxCfg,
			filepath.Join(config.GetString("logsDir"), "relay_stats.lp.gz"))
		if err := influxReporter.Connect(ctx); err != nil {
			Logger.Error("Failed to set up InfluxDB reporter", "error", err)
			influxReporter = nil
		}
	}

	interval := influxCfg.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	monitorService = monitor.NewService(monitor.Dependencies{
		Registry:   registry,
		Logger:     Logger,
		StatusFile: filepath.Join(config.GetString("logsDir"), "status.txt"),
	})
	err := monitorService.Start(ctx, interval, func(lines []string, stats relay.Stats) {
		registry.Send(channelStatus, statusFragment(stats))
		if influxReporter != nil {
			if err := influxReporter.Report(stats); err != nil {
				Logger.Warn("Failed to report relay stats", "error", err)
			}
		}
		Logger.Debug("Relay status", "status", lines[0])
	})
	if err != nil {
		Logger.Error("Failed to start status monitor", "error", err)
	}
}

func shutdown() {
	if monitorService != nil {
		monitorService.Stop()
	}
	if influxReporter != nil {
		if err := influxReporter.Close(); err != nil {
			Logger.Warn("Failed to close InfluxDB reporter", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := SlogManager.Flush(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to flush logs: %v\n", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "failed to shut down OTel: %v\n", err)
		}
	}
	if graylogWriter != nil {
		graylogWriter.Close()
	}
	if LogFile != nil {
		LogFile.Close()
	}
}
