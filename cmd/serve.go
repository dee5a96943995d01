package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/phonetrust/internal/api"
	"github.com/sells-group/phonetrust/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the phone trust HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Monitor.Enabled {
			collector := monitoring.NewCollector(env.Store, env.Breakers)
			gauges := monitoring.NewGauges(env.Registry)
			checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitor), gauges, cfg.Monitor)
			go checker.Run(ctx)
		}

		maxUpload := int64(cfg.Server.MaxUploadMB) << 20
		handler := api.NewHandler(env.Validator, env.Calc, cfg.Scoring.Weights, maxUpload)
		router := api.NewRouter(handler, api.RouterConfig{
			CORSOrigins: cfg.Server.CORSOrigins,
			Gatherer:    env.Registry,
			Health:      env.healthCheck,
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
