package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/e7canasta/hifi-console/internal/config"
	"github.com/e7canasta/hifi-console/internal/core"
	"github.com/e7canasta/hifi-console/internal/panel"
)

const defaultConfigPath = "config/hificonsole.yaml"

var version = "dev"

var (
	configPath string
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:           "hificonsole",
	Short:         "Hi-fi media console",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runFunc,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the console on the terminal (default)",
	RunE:  runFunc,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		out, err := cfg.Dump()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file (empty for defaults)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(runCmd, configCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "hificonsole failed: %v\n", err)
		os.Exit(1)
	}
}

func runFunc(*cobra.Command, []string) error {
	// Logs go to stderr; stdout belongs to the front panel.
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting hifi console",
		"config", configPath,
		"debug", debug,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	term := panel.New(os.Stdin, os.Stdout)
	defer term.Close()

	console, err := core.NewConsole(cfg, term)
	if err != nil {
		return fmt.Errorf("failed to create console: %w", err)
	}

	if cfg.Health.Enabled {
		if err := console.StartHealthServer(cfg.Health.Port); err != nil {
			return fmt.Errorf("failed to start health check server: %w", err)
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- console.Run(ctx) // Always send, even if nil
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
		runErr = <-errChan
	case runErr = <-errChan:
	}

	switch {
	case runErr == nil:
		slog.Info("console stopped")
	case errors.Is(runErr, io.EOF):
		slog.Info("front panel input closed")
		runErr = nil
	default:
		slog.Error("console error", "error", runErr)
	}

	shutdownTimeout := console.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := console.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	slog.Info("hifi console stopped successfully")
	return runErr
}
