package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// RunMethod is the full gRPC method name of the engine's Run RPC. Request and
// response are google.protobuf.Struct values carrying the JSON wire format.
const RunMethod = "/companion.v1.PlaybookEngine/Run"

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GRPCConfig holds configuration for the gRPC engine client.
type GRPCConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	DialOptions      []grpc.DialOption
}

// DefaultGRPCConfig returns default configuration.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCEngine calls the playbook engine over gRPC.
type GRPCEngine struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// NewGRPCEngine connects to the engine and waits until the channel is ready.
func NewGRPCEngine(cfg GRPCConfig, logger *slog.Logger) (*GRPCEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine client for %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad endpoint instead of on the first student message.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("playbook engine at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to playbook engine", "address", cfg.Address)
	return &GRPCEngine{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Run sends req as a Struct and decodes the Struct envelope.
func (e *GRPCEngine) Run(ctx context.Context, req Request) (reply *Reply, err error) {
	defer observe(time.Now(), &err)

	in, err := toStruct(req)
	if err != nil {
		return nil, fmt.Errorf("encode engine request: %w", err)
	}
	out := &structpb.Struct{}
	if err := e.conn.Invoke(ctx, RunMethod, in, out); err != nil {
		return nil, fmt.Errorf("call playbook engine: %w", err)
	}

	raw, err := protojson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	return env.Decode()
}

// Health checks the engine's standard gRPC health service.
func (e *GRPCEngine) Health(ctx context.Context) error {
	resp, err := e.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("playbook engine status %s", resp.GetStatus())
	}
	return nil
}

// Close closes the gRPC connection.
func (e *GRPCEngine) Close() error {
	if e.conn == nil {
		return nil
	}
	if err := e.conn.Close(); err != nil {
		e.logger.Warn("failed to close gRPC connection", "error", err)
		return err
	}
	return nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, err
	}
	return s, nil
}
