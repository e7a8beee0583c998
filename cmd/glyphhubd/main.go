package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/typehaus/glyphhub/internal/config"
	"github.com/typehaus/glyphhub/internal/httpapi"
	"github.com/typehaus/glyphhub/internal/hub"
	"github.com/typehaus/glyphhub/internal/storage"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "glyphhubd",
		Short:        "Collaboration hub for shared glyph projects",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().String("addr", ":8090", "HTTP listen address")
	cmd.Flags().String("data-dir", "./data", "directory for persisted project state")
	cmd.Flags().String("allow-origin", "*", "CORS allowed origin, * for any")
	cmd.Flags().String("ui-dir", "", "directory of static UI files to serve at /")
	cmd.Flags().String("log-file", "", "log file path, empty for stderr only")
	cmd.Flags().String("log-level", "info", "log level: trace, debug, info, warn, error")

	return cmd
}

func setupLogging(cfg *config.Config) error {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stderr
	if os.Getenv("ENV") == "dev" || os.Getenv("ENV") == "" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	}
	if cfg.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     30, // days
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(out, rotator)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Str("service", "glyphhub").Logger()
	return nil
}

func run(cfg *config.Config) error {
	if err := setupLogging(cfg); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// A file lock keeps two server processes from interleaving writes to
	// the same data directory.
	lock := flock.New(filepath.Join(cfg.DataDir, "glyphhub.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("data dir %s is in use by another glyphhubd", cfg.DataDir)
	}
	defer lock.Unlock()

	h := hub.New(storage.New(cfg.DataDir))
	srv := &httpapi.Server{
		Hub:         h,
		AllowOrigin: cfg.AllowOrigin,
		UIDir:       cfg.UIDir,
	}

	// No WriteTimeout: the event stream holds connections open indefinitely.
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("dataDir", cfg.DataDir).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("glyphhubd exited with error")
		os.Exit(1)
	}
}
