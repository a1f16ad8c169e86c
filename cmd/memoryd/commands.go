package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/entrhq/memoryd/pkg/config"
	"github.com/entrhq/memoryd/pkg/logging"
	"github.com/entrhq/memoryd/pkg/server"
	"github.com/entrhq/memoryd/pkg/store"
)

var debugLog = logging.NewLogger("main")

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "memoryd",
		Short:         "Session memory server for chat applications",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "ensure-index",
		Short: "Create the long-term memory search index if it does not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnsureIndex(cmd.Context(), configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "memoryd v%s\n", version)
		},
	})
	return root
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error:\n%w", err)
	}
	if err := logging.Configure(cfg.LoggingOptions()); err != nil {
		debugLog.Warnf("log file unavailable, writing to stderr: %v", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logging.Close()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := server.New(a.service, server.Options{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		MaxConnections: cfg.Server.MaxConnections,
	})
	if err := srv.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case sig := <-sigChan:
		debugLog.Infof("received %s, shutting down", sig)
	case serveErr = <-srv.Done():
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		debugLog.Errorf("http shutdown: %v", err)
	}
	// Let in-flight compaction and indexing commit before the store closes.
	a.service.Wait()
	return serveErr
}

func runEnsureIndex(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logging.Configure(cfg.LoggingOptions()); err != nil {
		debugLog.Warnf("log file unavailable, writing to stderr: %v", err)
	}
	defer logging.Close()

	client, err := store.NewRedis(cfg.StoreOptions())
	if err != nil {
		return err
	}
	defer client.Close()

	index, err := config.BuildVectorIndex(cfg, client)
	if err != nil {
		return err
	}
	if err := index.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}
	debugLog.Infof("index %s ready", cfg.LongTerm.IndexName)
	return nil
}
