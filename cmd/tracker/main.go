package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tracker"

	"github.com/spf13/cobra"
)

func corsMiddleware(next http.Handler, allowedOrigins map[string]bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	// Use TextHandler for development (more readable), JSONHandler for production
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	rootCmd := &cobra.Command{
		Use:   "tracker",
		Short: "Relay tracking payloads to the legacy analytics collector",
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			forceIP, _ := cmd.Flags().GetString("ip")
			origins, _ := cmd.Flags().GetStringSlice("allow-origin")

			var cfg tracker.Config
			var err error
			if configFile != "" {
				cfg, err = tracker.LoadConfigFile(configFile)
			} else {
				cfg, err = tracker.LoadConfig()
			}
			if err != nil {
				return err
			}
			if forceIP != "" {
				cfg.Server.ForceIP = forceIP
			}
			cfg.Logger = logger

			allowed := make(map[string]bool, len(origins))
			for _, o := range origins {
				allowed[o] = true
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return run(ctx, logger, cfg, allowed)
		},
	}
	rootCmd.Flags().String("config", "", "YAML config file (default: environment only)")
	rootCmd.Flags().String("ip", "", "force IP for request, useful in local")
	rootCmd.Flags().StringSlice("allow-origin", []string{"http://localhost:5173"}, "CORS origins allowed to post payloads")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg tracker.Config, allowed map[string]bool) error {
	var opts []tracker.Option

	// The hit log is optional; without ClickHouse hits are only relayed.
	var hitLog *tracker.HitLog
	if cfg.ClickHouse.Host != "" {
		hitLog = tracker.NewHitLog(cfg.ClickHouse, logger)
		if err := hitLog.Open(ctx); err != nil {
			logger.Error("Failed to connect to ClickHouse", slog.Any("error", err))
			return err
		}
		if err := hitLog.EnsureTable(ctx); err != nil {
			logger.Error("Failed to ensure ClickHouse table exists", slog.Any("error", err))
			return err
		}
		opts = append(opts, tracker.WithObserver(hitLog))
	}

	logCtx, logCancel := context.WithCancel(context.Background())
	if hitLog != nil {
		hitLog.Start(logCtx)
	}

	mux := http.NewServeMux()
	mux.Handle("/track", tracker.NewHandler(cfg, opts...))

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: corsMiddleware(mux, allowed),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Tracker server starting", slog.String("address", server.Addr), slog.String("account", cfg.Server.AccountID))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server failed to start", slog.Any("error", err))
			logCancel()
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", slog.Any("error", err))
	}

	logCancel()
	if hitLog != nil {
		hitLog.WaitFlush()
		logger.Info("Hit log stopped.")
	}

	logger.Info("Shutdown complete.")
	return nil
}
