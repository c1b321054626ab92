package main

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v3"
	"google.golang.org/grpc"

	"dipper/internal/api"
	"dipper/internal/backtest"
	"dipper/internal/domain"
	"dipper/internal/store"
)

var d1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// newBarStore writes closes 10,10,7,7,12 for 600519.SH and 9 for AAPL.
func newBarStore(t *testing.T) *store.ParquetStore {
	t.Helper()
	bars := store.NewParquetStore(filepath.Join(t.TempDir(), "data"))
	var series []domain.Bar
	for i, c := range []float64{10, 10, 7, 7, 12} {
		series = append(series, domain.Bar{Symbol: "600519.SH", Date: d1.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c})
	}
	ctx := context.Background()
	if err := bars.WriteBars(ctx, domain.MarketCN, series); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	if err := bars.WriteBars(ctx, domain.MarketUS, []domain.Bar{{Symbol: "AAPL", Date: d1, Close: 9}}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	return bars
}

func newService(t *testing.T) *api.Service {
	t.Helper()
	reg := testRegistry(t)
	runs, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { runs.Close() })
	return api.NewService(backtest.NewRunner(newBarStore(t), reg, nil), reg, runs, nil)
}

// dial parses args as remote flags and connects.
func dial(t *testing.T, args ...string) (backtestServer, error) {
	t.Helper()
	var srv backtestServer
	err := parse(t, remoteFlags(), args, func(cmd *cli.Command) error {
		var err error
		srv, err = dialServer(cmd)
		return err
	})
	return srv, err
}

func TestDialServerSelection(t *testing.T) {
	srv, err := dial(t)
	if err != nil || srv != nil {
		t.Errorf("no flags: srv = %v, err = %v, want local", srv, err)
	}
	if _, err := dial(t, "--server", "http://x", "--grpc", "x:1"); err == nil {
		t.Error("--server with --grpc accepted")
	}
	srv, err = dial(t, "--server", "http://x")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if _, ok := srv.(*httpServer); !ok {
		t.Errorf("--server gave %T", srv)
	}
}

func TestRemoteServers(t *testing.T) {
	svc := newService(t)

	hs := httptest.NewServer(svc.Handler())
	defer hs.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	gs := grpc.NewServer()
	svc.RegisterGRPC(gs)
	go gs.Serve(ln)
	defer gs.Stop()

	transports := []struct {
		name string
		args []string
	}{
		{"http", []string{"--server", hs.URL}},
		{"grpc", []string{"--grpc", ln.Addr().String()}},
	}
	for _, tr := range transports {
		t.Run(tr.name, func(t *testing.T) {
			srv, err := dial(t, tr.args...)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer srv.Close()
			ctx := context.Background()

			resp, err := srv.Run(ctx, api.BacktestRequest{
				Symbol: "600519.SH", Market: domain.MarketCN,
				Start: "2024-01-01", End: "2024-01-31",
				Preset: "dip-default", Save: true,
			})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if resp.RunID == "" || resp.Summary.Days != 5 || len(resp.Events) != len(resp.Positions)+resp.Summary.Closed+resp.Summary.Dropped {
				t.Errorf("resp = %+v", resp)
			}

			detail, err := srv.GetRun(ctx, resp.RunID)
			if err != nil {
				t.Fatalf("GetRun: %v", err)
			}
			if detail.ID != resp.RunID || detail.Preset != "dip-default" || len(detail.Positions) != len(resp.Positions) {
				t.Errorf("detail = %+v", detail)
			}

			runs, err := srv.ListRuns(ctx, "600519.SH", 0)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			found := false
			for _, r := range runs {
				found = found || r.ID == resp.RunID
			}
			if !found {
				t.Errorf("run %s missing from %+v", resp.RunID, runs)
			}
		})
	}
}

func TestWriteSymbols(t *testing.T) {
	bars := newBarStore(t)
	var buf bytes.Buffer
	if err := writeSymbols(context.Background(), &buf, bars, []domain.Market{domain.MarketCN, domain.MarketUS}); err != nil {
		t.Fatalf("writeSymbols: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"cn      600519.SH", "us      AAPL"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
