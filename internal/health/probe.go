// ABOUTME: gRPC health endpoint mirroring whether the warden dispatcher is up
// ABOUTME: Serves grpc.health.v1 with the gateway's keepalive policy

package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ServiceName is the service reported by the probe alongside the overall
// ("") status.
const ServiceName = "coven.warden.v1.Warden"

// Probe is a gRPC server that only answers health checks.
type Probe struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *slog.Logger
}

// NewProbe creates a probe that reports NOT_SERVING until SetServing(true).
func NewProbe(logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}

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
	healthpb.RegisterHealthServer(server, hs)

	p := &Probe{
		grpcServer: server,
		health:     hs,
		logger:     logger.With("component", "health"),
	}
	p.SetServing(false)
	return p
}

// SetServing flips the reported status for both the overall and the
// warden service.
func (p *Probe) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	p.health.SetServingStatus("", status)
	p.health.SetServingStatus(ServiceName, status)
	p.logger.Debug("health status changed", "status", status.String())
}

// Serve answers health checks on ln until Shutdown. It returns nil after a
// clean shutdown.
func (p *Probe) Serve(ln net.Listener) error {
	p.logger.Info("health probe listening", "addr", ln.Addr().String())
	if err := p.grpcServer.Serve(ln); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("health probe: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server or force-stops on context cancel.
func (p *Probe) Shutdown(ctx context.Context) {
	p.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		p.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		p.grpcServer.Stop()
	}
}

// Check dials addr and asks for the warden service status.
func Check(ctx context.Context, addr string, opts ...grpc.DialOption) (healthpb.HealthCheckResponse_ServingStatus, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check: %w", err)
	}
	return resp.GetStatus(), nil
}
