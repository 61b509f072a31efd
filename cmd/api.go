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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CameronXie/payment-lifecycle/internal/config"
	"github.com/CameronXie/payment-lifecycle/internal/version"
)

// loader returns the validated configuration selected by the --config flag.
type loader func() (*config.Config, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "paylife",
		Short:         "Order and payment lifecycle service",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}

	root.AddCommand(
		serveCommand(load),
		sweepCommand(load),
		migrateCommand(load),
		configCommand(load),
		tokenCommand(load),
		webhookCommand(load),
		eventsCommand(load),
		versionCommand(),
	)
	return root
}

func serveCommand(load loader) *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the reservation sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "create the store schema before serving")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, migrate bool) error {
	logger := newLogger(cfg)
	logger.Info("api_starting", "version", version.Version, "commit", version.Commit)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("app_init_failed", "error", err)
		return err
	}
	defer a.Close()

	if migrate {
		if err := a.migrate(ctx); err != nil {
			return err
		}
	}

	handler, err := a.router()
	if err != nil {
		logger.Error("router_init_failed", "error", err)
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("api_listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api_serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.sweeper().Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("api_shutting_down")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("api_stopped", "error", err)
		return err
	}
	logger.Info("api_stopped")
	return nil
}

// newLogger builds the JSON process logger at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	level, err := cfg.SlogLevel()
	if err != nil {
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})).With(
		slog.String("version", version.Version),
	)
}
