package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"pwnrelay/internal/api"
	"pwnrelay/internal/config"
	"pwnrelay/internal/hostbridge"
	"pwnrelay/pkg/plugin"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	configPath string
	envFile    string
	autoload   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Read host callbacks from stdin and relay them",
	Long: `Run loads the configuration, creates the enabled plugins and reads the
host's callbacks from stdin until an unload callback, end of input, or
SIGINT/SIGTERM. Plugins are stopped, and their queues drained within the
configured drain timeout, before run exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), cmd.InOrStdin())
	},
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to pwnrelay.yaml (defaults and environment only when empty)")
	runCmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file read before applying environment overrides")
	runCmd.Flags().BoolVar(&autoload, "autoload", false, "start plugins without waiting for the host's loaded callback")
}

func run(parent context.Context, stdin io.Reader) error {
	bootstrap, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	cfg, err := config.NewLoader(configPath, bootstrap).WithEnvFile(envFile).Load()
	if err != nil {
		bootstrap.Error("Failed to load configuration", zap.Error(err))
		return err
	}
	_ = bootstrap.Sync()

	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting pwnrelay",
		zap.String("version", Version),
		zap.String("config", configPath))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	plugin.SetLogger(logger)
	logger.Debug("Registered plugins", zap.Strings("plugins", plugin.Registered()))
	plugins, err := plugin.CreateAll(plugin.NewContext(cfg, logger, reg, nil))
	if err != nil {
		logger.Error("Failed to create plugins", zap.Error(err))
		return err
	}
	if len(plugins) == 0 {
		logger.Warn("No plugin enabled, callbacks will be ignored")
	}

	host := plugin.NewHost(plugins, logger)
	if autoload {
		if err := host.Load(); err != nil {
			logger.Error("Plugins failed to load", zap.Error(err))
		}
	}

	var server *api.Server
	if cfg.API.Enabled {
		server = api.NewServer(host, reg, Version, logger)
		if err := server.Start(cfg.API.ListenAddr); err != nil {
			host.Unload()
			return err
		}
	}

	if parent == nil {
		parent = context.Background()
	}
	sigCtx, stopSignals := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return hostbridge.New(host, logger).Run(gctx, stdin)
	})
	g.Go(func() error {
		<-gctx.Done()
		if server == nil {
			return nil
		}
		return server.Stop()
	})

	if err := g.Wait(); err != nil {
		logger.Error("pwnrelay stopped with error", zap.Error(err))
		return err
	}

	logger.Info("pwnrelay stopped")
	return nil
}
