package connectivity

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var ErrNotServing = errors.New("backend not serving")

// GRPCHealthPinger probes a standard gRPC health endpoint exposed by the
// backend gateway.
type GRPCHealthPinger struct {
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
	service string
}

func NewGRPCHealthPinger(target, service string, opts ...grpc.DialOption) (*GRPCHealthPinger, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc client: %w", err)
	}

	return &GRPCHealthPinger{conn: conn, client: healthpb.NewHealthClient(conn), service: service}, nil
}

func (p *GRPCHealthPinger) PingContext(ctx context.Context) error {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrNotServing, resp.GetStatus())
	}
	return nil
}

func (p *GRPCHealthPinger) Close() error {
	return p.conn.Close()
}
