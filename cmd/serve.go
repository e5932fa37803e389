package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"drivingschool/server/internal/api"
	"drivingschool/server/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the live event feed and the gRPC health endpoint",
	Example: `  # Run with migrations
  invoice-server serve --migrate`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Bool("migrate", true, "Run database migrations before serving")
	serveCmd.Flags().Duration("shutdown-timeout", 15*time.Second, "Grace period for in-flight requests")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")
	migrate, _ := cmd.Flags().GetBool("migrate")
	shutdownTimeout, _ := cmd.Flags().GetDuration("shutdown-timeout")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	a, err := newApp(startCtx, cfg, appOptions{migrate: migrate, live: true})
	cancel()
	if err != nil {
		return err
	}
	defer a.Close()

	go a.hub.Run(ctx)

	health := api.NewHealthServer(a.store, 10*time.Second)
	go health.Run(ctx)

	grpcServer := grpc.NewServer()
	health.Register(grpcServer)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen gRPC: %w", err)
	}
	go func() {
		log.Info().Str("port", cfg.GRPCPort).Msg("gRPC health server starting")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC server stopped")
		}
	}()

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.RouterDeps{
		Invoices:  api.NewInvoiceController(a.service, cfg.Datev),
		Health:    a.store,
		WebSocket: a.hub.ServeWS,
	})
	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil {
			grpcServer.Stop()
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	grpcServer.GracefulStop()
	log.Info().Msg("Server stopped")
	return nil
}
