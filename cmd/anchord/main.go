// Command anchord is the flight-log anchoring daemon: it writes flight logs
// chunk by chunk to versioned object storage, anchors each chunk's rolling
// tip on the ledger and serves verification over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmerrifield20/uavledger/internal/api/handler"
	"github.com/jmerrifield20/uavledger/internal/config"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync() //nolint:errcheck

	if err := run(logger); err != nil {
		logger.Fatal("anchord exited with error", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	// ── Configuration ────────────────────────────────────────────────────────
	cfg, err := config.Load(viper.New(), "anchord", logger)
	if err != nil {
		return err
	}

	// ── Backends and pipeline ────────────────────────────────────────────────
	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	svc, err := build(startCtx, cfg, logger)
	startCancel()
	if err != nil {
		return err
	}
	defer svc.Close()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	healthQuit := make(chan os.Signal, 1)
	signal.Notify(healthQuit, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	defer close(done)

	// ── Dependency health ────────────────────────────────────────────────────
	grpcHealth := newGRPCHealth()
	svc.health.SetStatusUpdate(func(name string, healthy bool) {
		handler.SetDependencyUp(name, healthy)
		grpcHealth.set(name, healthy)
		grpcHealth.set(overallService, svc.health.Healthy())
	})
	svc.health.SetMetricsRecord(handler.RecordHealthCheck)
	go svc.health.Start(healthQuit)

	// ── gRPC health server ───────────────────────────────────────────────────
	var grpcServer *grpc.Server
	if cfg.Server.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			return fmt.Errorf("gRPC listen on :%d: %w", cfg.Server.GRPCPort, err)
		}
		grpcServer = newGRPCServer(grpcHealth, logger)
		go func() {
			logger.Info("anchord gRPC health listening", zap.Int("port", cfg.Server.GRPCPort))
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC serve error", zap.Error(err))
			}
		}()
	}

	// ── HTTP ─────────────────────────────────────────────────────────────────
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           newRouter(svc, cfg.Server, done, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("anchord HTTP listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("storage", cfg.Storage.Backend),
			zap.String("ledger", cfg.Ledger.Backend),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP listen error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	<-quit
	logger.Info("shutting down anchord...")
	grpcHealth.shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	logger.Info("anchord stopped")
	return nil
}
