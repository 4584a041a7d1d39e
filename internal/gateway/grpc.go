// ABOUTME: gRPC server exposing the standard grpc.health.v1 service for agentmix
// ABOUTME: Health status tracks gateway lifecycle so orchestrators can probe readiness over gRPC

package gateway

import (
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// RuntimeService is the health service name reported for the conversation runtime.
const RuntimeService = "agentmix.Runtime"

// createGRPCServer creates a gRPC server with the health service registered
// and both the overall and runtime services marked SERVING.
func createGRPCServer(logger *slog.Logger) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(RuntimeService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	logger.With("component", "grpc").Debug("gRPC health service registered", "service", RuntimeService)
	return server, hs
}
