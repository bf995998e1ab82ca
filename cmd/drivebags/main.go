// Package main is the entrypoint for the drivebags server.
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
	"time"

	"github.com/spf13/cobra"

	"github.com/drivebags/drivebags-go/internal/app"
	"github.com/drivebags/drivebags-go/internal/components/vault"
	"github.com/drivebags/drivebags-go/internal/platform/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "drivebags",
	Short:         "Shared Google Drive folders with access workflows",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// serve flags. String flags are only applied when set on the command line.
var (
	configPath string
	modeFlag   string
	overrides  = map[string]*string{
		"listen":                  new(string),
		"public-origin":           new(string),
		"external-base-path":      new(string),
		"tls-mode":                new(string),
		"store-driver":            new(string),
		"data-dir":                new(string),
		"storage-driver":          new(string),
		"cache-driver":            new(string),
		"logging-level":           new(string),
		"logging-allow-sensitive": new(string),
	}
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Bootstrap logger for config loading errors (uses default level)
		bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

		cfg, err := config.Load(config.LoaderOptions{
			ConfigPath: configPath,
			ModeFlag:   modeFlag,
			FlagOverrides: config.FlagOverrides{
				ListenAddr:            changed(cmd, "listen"),
				PublicOrigin:          changed(cmd, "public-origin"),
				ExternalBasePath:      changed(cmd, "external-base-path"),
				TLSMode:               changed(cmd, "tls-mode"),
				StoreDriver:           changed(cmd, "store-driver"),
				DataDir:               changed(cmd, "data-dir"),
				StorageDriver:         changed(cmd, "storage-driver"),
				CacheDriver:           changed(cmd, "cache-driver"),
				LoggingLevel:          changed(cmd, "logging-level"),
				LoggingAllowSensitive: changed(cmd, "logging-allow-sensitive"),
			},
			Logger: bootstrapLogger,
		})
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.Logging.Level)}))
		slog.SetDefault(logger)
		logger.Info("effective configuration", "config", cfg.Redacted())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("initializing app: %w", err)
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- a.Start()
		}()
		logger.Info("server started, press Ctrl+C to stop")

		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server error", "error", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		logger.Info("server stopped")
		return nil
	},
}

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the credential vault",
}

var vaultKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new vault master key for [vault] master_key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := vault.GenerateMasterKey()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	f := serveCmd.Flags()
	f.StringVar(&configPath, "config", "", "Path to TOML config file (optional)")
	f.StringVar(&modeFlag, "mode", "", "Operating mode: strict or dev (overrides config)")
	f.StringVar(overrides["listen"], "listen", "", "Listen address (overrides config)")
	f.StringVar(overrides["public-origin"], "public-origin", "", "Public origin (overrides config)")
	f.StringVar(overrides["external-base-path"], "external-base-path", "", "External base path (overrides config)")
	f.StringVar(overrides["tls-mode"], "tls-mode", "", "TLS mode: off, static, selfsigned, or acme (overrides config)")
	f.StringVar(overrides["store-driver"], "store-driver", "", "Store driver: memory or sqlite (overrides config)")
	f.StringVar(overrides["data-dir"], "data-dir", "", "Store data directory (overrides config)")
	f.StringVar(overrides["storage-driver"], "storage-driver", "", "Storage driver: drive or memory (overrides config)")
	f.StringVar(overrides["cache-driver"], "cache-driver", "", "Cache driver: memory or redis (overrides config)")
	f.StringVar(overrides["logging-level"], "logging-level", "", "Log level: trace, debug, info, warn, error (overrides config)")
	f.StringVar(overrides["logging-allow-sensitive"], "logging-allow-sensitive", "", "Allow sensitive values in logs: true or false (overrides config)")

	vaultCmd.AddCommand(vaultKeygenCmd)
	rootCmd.AddCommand(serveCmd, vaultCmd)
}

func changed(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return overrides[name]
}

func logLevel(s string) slog.Level {
	switch s {
	case "trace":
		return slog.LevelDebug - 4 // slog has no trace
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
