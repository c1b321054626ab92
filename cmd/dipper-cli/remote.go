package main

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/urfave/cli/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"dipper/internal/api"
	"dipper/internal/store"
	"dipper/pkg/dipper"
)

// backtestServer is a dipper-server reached over HTTP or gRPC.
type backtestServer interface {
	Run(ctx context.Context, req api.BacktestRequest) (*api.BacktestResponse, error)
	GetRun(ctx context.Context, id string) (*api.RunDetail, error)
	ListRuns(ctx context.Context, symbol string, limit int) ([]store.RunRecord, error)
	Close() error
}

// remoteFlags select a server for commands that can run remotely.
func remoteFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "server", Usage: "use the dipper-server HTTP API at this base `URL`"},
		&cli.StringFlag{Name: "grpc", Usage: "use the dipper-server gRPC API at this `host:port`"},
	}
}

// dialServer connects to the server named by --server or --grpc. It returns
// nil when neither is set.
func dialServer(cmd *cli.Command) (backtestServer, error) {
	httpURL, grpcAddr := cmd.String("server"), cmd.String("grpc")
	switch {
	case httpURL != "" && grpcAddr != "":
		return nil, errors.New("--server and --grpc are mutually exclusive")
	case grpcAddr != "":
		cc, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, err
		}
		return &grpcServer{GRPCClient: api.NewGRPCClient(cc), conn: cc}, nil
	case httpURL != "":
		return &httpServer{c: dipper.NewClient(httpURL)}, nil
	}
	return nil, nil
}

type grpcServer struct {
	*api.GRPCClient
	conn *grpc.ClientConn
}

func (g *grpcServer) Close() error { return g.conn.Close() }

// httpServer adapts the HTTP client, whose types mirror the server's JSON.
type httpServer struct {
	c *dipper.Client
}

func (h *httpServer) Run(ctx context.Context, req api.BacktestRequest) (*api.BacktestResponse, error) {
	out, err := h.c.RunBacktest(ctx, dipper.BacktestRequest{
		Symbol: req.Symbol,
		Market: req.Market,
		Start:  req.Start,
		End:    req.End,
		Preset: req.Preset,
		Params: req.Params,
		Save:   req.Save,
	})
	if err != nil {
		return nil, err
	}
	var resp api.BacktestResponse
	if err := rewire(out, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (h *httpServer) GetRun(ctx context.Context, id string) (*api.RunDetail, error) {
	out, err := h.c.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	var run api.RunDetail
	if err := rewire(out, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (h *httpServer) ListRuns(ctx context.Context, symbol string, limit int) ([]store.RunRecord, error) {
	out, err := h.c.ListRuns(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	var runs []store.RunRecord
	if err := rewire(out, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (h *httpServer) Close() error { return nil }

// rewire copies src into dst through their shared JSON encoding.
func rewire(src, dst any) error {
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
