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

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/weftworks/weft"
	"github.com/weftworks/weft/pkg/middleware"
)

func serveCmd() *cobra.Command {
	var (
		addr      string
		publicDir string
		devMode   bool
		metrics   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve registered server functions and public assets",
		Long: `Start a headless gateway: server functions registered by the linked
application are routed through the pinned worker pool, and the public
asset directory is served with fingerprint-aware cache headers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			cfg := weft.Config{
				Static:  weft.StaticConfig{PublicDir: publicDir},
				DevMode: devMode,
				Logger:  logger,
			}
			if metrics {
				cfg.Middleware = append(cfg.Middleware, middleware.Prometheus())
			}

			app := weft.Headless(cfg)
			defer app.Close()

			r := chi.NewRouter()
			r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			if metrics {
				r.Handle("/metrics", promhttp.Handler())
			}
			r.Handle("/*", app)

			server := &http.Server{Addr: addr, Handler: r}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("listening", "addr", addr, "dev", devMode)
				errCh <- server.ListenAndServe()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-stop:
				logger.Info("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return server.Shutdown(ctx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&publicDir, "public", "", "Public asset directory (default: $WEFT_PUBLIC_DIR or ./public next to the binary)")
	cmd.Flags().BoolVar(&devMode, "dev", false, "Development mode: live directory serving and reload endpoint")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "Expose Prometheus metrics at /metrics")

	return cmd
}
