// ABOUTME: Tests for the gRPC health probe over an in-memory listener
// ABOUTME: Uses bufconn so no real port is needed

package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

const bufSize = 1024 * 1024

func startProbe(t *testing.T) (*Probe, grpc.DialOption) {
	t.Helper()

	lis := bufconn.Listen(bufSize)
	probe := NewProbe(nil)
	go func() {
		_ = probe.Serve(lis)
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		probe.Shutdown(ctx)
	})

	dialer := grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	})
	return probe, dialer
}

func TestProbeReportsNotServingUntilEnabled(t *testing.T) {
	probe, dialer := startProbe(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := Check(ctx, "passthrough:///bufnet", dialer)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	probe.SetServing(true)
	status, err = Check(ctx, "passthrough:///bufnet", dialer)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)

	probe.SetServing(false)
	status, err = Check(ctx, "passthrough:///bufnet", dialer)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
}

func TestShutdownStopsServe(t *testing.T) {
	lis := bufconn.Listen(bufSize)
	probe := NewProbe(nil)

	done := make(chan error, 1)
	go func() { done <- probe.Serve(lis) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	probe.Shutdown(ctx)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}
