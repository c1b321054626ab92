package api

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"dipper/internal/domain"
)

func dialBufconn(t *testing.T, svc *Service) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	svc.RegisterGRPC(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestGRPCRunAndFetch(t *testing.T) {
	conn := dialBufconn(t, newTestService(t, true))
	client := NewGRPCClient(conn)
	ctx := context.Background()
	p := scenarioParams(50)

	resp, err := client.Run(ctx, BacktestRequest{
		Symbol: testSymbol, Market: domain.MarketCN,
		Start: "2024-01-01", End: "2024-01-31",
		Params: &p, Save: true,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(resp.Positions) != 2 || resp.RunID == "" {
		t.Fatalf("resp = %+v", resp)
	}
	if !resp.Positions[0].BuyDate.Equal(d1.AddDate(0, 0, 2)) {
		t.Errorf("first buy date = %v", resp.Positions[0].BuyDate)
	}

	runs, err := client.ListRuns(ctx, testSymbol, 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != resp.RunID {
		t.Errorf("runs = %+v", runs)
	}

	run, err := client.GetRun(ctx, resp.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(run.Positions) != 2 || run.Params.LookbackWindow != 3 {
		t.Errorf("run = %+v", run)
	}
}

func TestGRPCErrorCodes(t *testing.T) {
	conn := dialBufconn(t, newTestService(t, true))
	client := NewGRPCClient(conn)
	ctx := context.Background()

	_, err := client.Run(ctx, BacktestRequest{Symbol: testSymbol, End: "2024-01-31", Preset: "nope"})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("unknown preset code = %v, want InvalidArgument", status.Code(err))
	}
	_, err = client.GetRun(ctx, "missing")
	if status.Code(err) != codes.NotFound {
		t.Errorf("missing run code = %v, want NotFound", status.Code(err))
	}
	_, err = client.GetRun(ctx, "")
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("empty id code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestGRPCHealth(t *testing.T) {
	conn := dialBufconn(t, newTestService(t, false))
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.GetStatus())
	}
}

func TestServerServeAndShutdown(t *testing.T) {
	srv := NewServer(newTestService(t, false), "", "")
	httpLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	grpcLn, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, httpLn, grpcLn) }()

	resp, err := http.Get("http://" + httpLn.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("/healthz status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
