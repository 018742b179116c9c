// traced serves the Trace journaling API.
//
// With --cli it instead runs one journaling session on stdin and stdout
// against the same configuration.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/tracejournal/trace"
	"github.com/tracejournal/trace/analysis"
	"github.com/tracejournal/trace/compaction"
	"github.com/tracejournal/trace/config"
	"github.com/tracejournal/trace/hooks"
	"github.com/tracejournal/trace/leadership"
	"github.com/tracejournal/trace/maintenance"
	"github.com/tracejournal/trace/server"
	"github.com/tracejournal/trace/tool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		listen     string
		logLevel   string
		cliMode    bool
	)

	flagSet := pflag.NewFlagSet("traced", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	flagSet.StringVar(&listen, "listen", "", "HTTP listen address (overrides server.listen)")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides logging.level)")
	flagSet.BoolVar(&cliMode, "cli", false, "run an interactive session on the terminal instead of serving HTTP")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Logging, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	gw, err := newGateway(ctx, cfg.Provider)
	if err != nil {
		return err
	}

	registry := hooks.NewRegistry()
	hooks.NewLoggingHooks(logger).Register(registry)

	journalCfg := &trace.Config{
		Model:          cfg.Provider.Model,
		SkipValidation: cfg.Validation.Skip,
		Prompts:        cfg.Prompts.List,
		MaxToolRounds:  cfg.Prompts.MaxToolRounds,
		ToolTimeout:    cfg.Prompts.ToolTimeout,
		Compaction: &compaction.Config{
			TokenTrigger: cfg.Compaction.TokenTrigger,
			KeepCount:    cfg.Compaction.KeepCount,
		},
	}
	journalCfg.ApplyDefaults()

	journalOpts := []trace.Option{
		trace.WithLogger(logger),
		trace.WithHooks(registry),
	}
	if cfg.Prompts.DisableTool {
		journalOpts = append(journalOpts, trace.WithTools(tool.NewRegistry()))
	}
	journal, err := trace.New(store, gw, journalCfg, journalOpts...)
	if err != nil {
		return err
	}

	if cliMode {
		return runCLI(ctx, journal, os.Stdin, os.Stdout)
	}

	var analyzer server.PatternAnalyzer
	if cfg.Analysis.Enabled {
		opts := []analysis.AnalyzerOption{analysis.WithLogger(logger)}
		if cfg.Analysis.Window > 0 {
			opts = append(opts, analysis.WithWindow(cfg.Analysis.Window))
		}
		analyzer = analysis.NewAnalyzer(gw, journalCfg.Presets.Analysis, store, opts...)

		sweeper := maintenance.NewSweeper(store, analysis.NewClassifier(gw, journalCfg.Presets.Analysis), &maintenance.SweeperConfig{
			Interval:    cfg.Analysis.SweepInterval,
			BatchSize:   cfg.Analysis.BatchSize,
			Concurrency: cfg.Analysis.Concurrency,
			OnScored:    func(n int) { logger.Info("sentiment sweep", "scored", n) },
			OnError:     func(err error) { logger.Warn("sentiment sweep failed", "error", err) },
		})

		elector := leadership.NewElector(store, uuid.NewString(), &leadership.Config{
			OnError: func(err error) { logger.Warn("leader election failed", "error", err) },
		}, leadership.Callbacks{
			OnBecameLeader: func(ctx context.Context) {
				logger.Info("became leader, starting sentiment sweeper")
				if err := sweeper.Start(ctx); err != nil {
					logger.Warn("sweeper start failed", "error", err)
				}
			},
			OnLostLeadership: func(ctx context.Context) {
				logger.Info("lost leadership, stopping sentiment sweeper")
				if err := sweeper.Stop(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, maintenance.ErrNotStarted) {
					logger.Warn("sweeper stop failed", "error", err)
				}
			},
		})
		if err := elector.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := elector.Stop(context.Background()); err != nil {
				logger.Warn("elector stop failed", "error", err)
			}
		}()
	}

	handler := server.NewRouter(journal, store, analyzer, server.StaticAuthenticator(cfg.Server.Tokens), &server.Config{
		Logger:  logger,
		Prompts: journalCfg.Prompts,
	})
	return serve(ctx, cfg.Server, handler, logger)
}

func loadConfig(path string) (*config.File, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func serve(ctx context.Context, cfg config.Server, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
