package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"dipper/internal/backtest"
	"dipper/internal/store"
	"dipper/internal/strategy"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dipper.v1.Backtest"

// BacktestServer is the gRPC surface of the service. Messages are
// google.protobuf.Struct values carrying the same JSON documents the HTTP
// API exchanges.
type BacktestServer interface {
	Run(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRun(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRuns(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var backtestServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BacktestServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("Run", BacktestServer.Run),
		unaryMethod("GetRun", BacktestServer.GetRun),
		unaryMethod("ListRuns", BacktestServer.ListRuns),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dipper/v1/backtest.proto",
}

func unaryMethod(name string, call func(BacktestServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BacktestServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(BacktestServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// Compile-time interface check.
var _ BacktestServer = (*grpcService)(nil)

type grpcService struct {
	svc *Service
}

// RegisterGRPC registers the backtest and health services on gs.
func (s *Service) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&backtestServiceDesc, &grpcService{svc: s})

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
}

func (g *grpcService) Run(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req BacktestRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	resp, err := g.svc.Backtest(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(resp)
}

func (g *grpcService) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := in.GetFields()["id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	run, err := g.svc.GetRun(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(run)
}

func (g *grpcService) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	fields := in.GetFields()
	runs, err := g.svc.ListRuns(ctx, fields["symbol"].GetStringValue(), int(fields["limit"].GetNumberValue()))
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(map[string]any{"runs": runs})
}

// grpcError maps a service error onto a gRPC status.
func grpcError(err error) error {
	switch {
	case errors.Is(err, backtest.ErrInvalidRequest), errors.Is(err, strategy.ErrInvalidConfig):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toStruct converts v to a Struct through its JSON encoding.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encoding %T: %w", v, err)
	}
	return structpb.NewStruct(m)
}

// fromStruct decodes s into v through its JSON encoding.
func fromStruct(s *structpb.Struct, v any) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// GRPCClient calls a remote Backtest service.
type GRPCClient struct {
	cc grpc.ClientConnInterface
}

// NewGRPCClient creates a client over an established connection.
func NewGRPCClient(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{cc: cc}
}

func (c *GRPCClient) invoke(ctx context.Context, method string, req any, resp any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return err
	}
	return fromStruct(out, resp)
}

// Run executes a backtest remotely.
func (c *GRPCClient) Run(ctx context.Context, req BacktestRequest) (*BacktestResponse, error) {
	var resp BacktestResponse
	if err := c.invoke(ctx, "Run", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun fetches one persisted run.
func (c *GRPCClient) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	var resp RunDetail
	if err := c.invoke(ctx, "GetRun", map[string]string{"id": id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRuns lists persisted runs, newest first.
func (c *GRPCClient) ListRuns(ctx context.Context, symbol string, limit int) ([]store.RunRecord, error) {
	var resp struct {
		Runs []store.RunRecord `json:"runs"`
	}
	if err := c.invoke(ctx, "ListRuns", map[string]any{"symbol": symbol, "limit": limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}
