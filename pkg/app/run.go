package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/small-frappuccino/soerbot/pkg/config"
	"github.com/small-frappuccino/soerbot/pkg/control"
	"github.com/small-frappuccino/soerbot/pkg/log"
	"github.com/small-frappuccino/soerbot/pkg/metrics"
	"github.com/small-frappuccino/soerbot/pkg/storage"
	"github.com/small-frappuccino/soerbot/pkg/util"
)

const envKey = "SOERBOT_KEY"

// RunOptions carries command line overrides. Empty fields fall back to the
// environment and the configuration file.
type RunOptions struct {
	AppName    string
	ConfigFile string
	LogLevel   string
	LogFormat  string
}

// Run bootstraps the bot and blocks until it stops, ctx is done or an
// interrupt signal arrives.
// Environment: SOERBOT_* variables are read from the process first; missing
// ones are filled from $HOME/.local/bin/.env.
func Run(ctx context.Context, opts RunOptions) error {
	started := time.Now()
	appName := opts.AppName
	if appName == "" {
		appName = util.AppName
	}
	util.SetAppName(appName)
	_, keyErr := util.LoadEnvWithLocalBinFallback(envKey)

	env, err := config.LoadEnvironment()
	if err != nil {
		return err
	}
	cfgFile := opts.ConfigFile
	if cfgFile == "" {
		cfgFile = env.ConfigFile
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	levelName := opts.LogLevel
	if levelName == "" {
		levelName = config.String(cfg, config.KeyLogLevel, "info")
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", levelName, err)
	}
	format := opts.LogFormat
	if format == "" {
		format = config.String(cfg, config.KeyLogFormat, "text")
	}
	if err := log.SetupLogger(log.Config{Dir: env.LogDir, Level: level, Format: format}); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer log.Sync()

	logger := log.ApplicationLogger()
	logger.Info(formatStartupMessage(appName, Version))
	if f := cfg.File(); f != "" {
		logger.Info("Configuration loaded", "file", f)
	}
	if keyErr != nil {
		logger.Debug("Bot key not found in the environment; expecting it in the configuration file", "error", keyErr)
	}

	store := storage.NewStore(env.DBPath)
	if err := store.Init(); err != nil {
		return fmt.Errorf("initialize SQLite store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.DatabaseLogger().Warn("Failed to close store", "error", err)
		}
	}()

	m := metrics.New()
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := m.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	runner, err := NewRunner(cfg, WithStore(store), WithMetrics(m), WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.Warn("Failed to close Discord client", "error", err)
		}
	}()

	srv := control.NewServer(config.String(cfg, config.KeyMetricsListen, ""), reg, runner.health)
	if err := srv.Start(); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return runner.Execute(gctx)
	})
	g.Go(func() error {
		util.WaitForInterruptContext(gctx, func() {
			logger.Info("Interrupt received; stopping")
			runner.Stop()
		})
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Stop(context.Background())
	})

	logger.Info("Bot initialized", "elapsed", time.Since(started).Round(time.Millisecond))
	err = g.Wait()
	logger.Info("Bot stopped")
	return err
}
