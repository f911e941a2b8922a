package main

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// overallService is the health service name that aggregates every
// dependency; per-dependency names are "anchord.<dependency>".
const overallService = ""

type grpcHealth struct {
	server *health.Server
}

func newGRPCHealth() *grpcHealth {
	srv := health.NewServer()
	srv.SetServingStatus(overallService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return &grpcHealth{server: srv}
}

func (g *grpcHealth) set(name string, healthy bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if healthy {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	if name != overallService {
		name = "anchord." + name
	}
	g.server.SetServingStatus(name, st)
}

// shutdown marks every service NOT_SERVING so load balancers drain first.
func (g *grpcHealth) shutdown() {
	g.server.Shutdown()
}

func newGRPCServer(h *grpcHealth, logger *zap.Logger) *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger)))
	grpc_health_v1.RegisterHealthServer(srv, h.server)
	// reflection lets grpcurl discover the health service
	reflection.Register(srv)
	return srv
}

// loggingInterceptor returns a gRPC unary server interceptor that logs each call.
func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("latency", time.Since(start)),
		)
		return resp, err
	}
}
