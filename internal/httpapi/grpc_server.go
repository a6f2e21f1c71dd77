package httpapi

import (
	"context"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"orgmesh.io/internal/obs"
)

const grpcServiceName = "orgmesh.directory"

// GRPCHealthServer exposes the standard gRPC health-checking service so
// sidecar probes and load balancers can track readiness without HTTP.
type GRPCHealthServer struct {
	srv    *grpc.Server
	health *health.Server
	probe  ReadyProbe
}

// NewGRPCHealthServer builds the server; Serve starts it.
func NewGRPCHealthServer(probe ReadyProbe) *GRPCHealthServer {
	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &GRPCHealthServer{srv: srv, health: hs, probe: probe}
}

// Serve listens on addr and keeps the advertised status in sync with the
// readiness probe until ctx ends.
func (g *GRPCHealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			g.refresh(ctx)
			select {
			case <-ctx.Done():
				g.srv.GracefulStop()
				return
			case <-ticker.C:
			}
		}
	}()

	return g.srv.Serve(lis)
}

func (g *GRPCHealthServer) refresh(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := g.probe.Check(checkCtx); err != nil {
		obs.SetReady(false)
		g.health.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		return
	}
	obs.SetReady(true)
	g.health.SetServingStatus(grpcServiceName, healthpb.HealthCheckResponse_SERVING)
}
