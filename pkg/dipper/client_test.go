package dipper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClient(t *testing.T) {
	c := NewClient("http://localhost:8080/")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want trailing slash trimmed", c.baseURL)
	}
	if c.httpClient == nil {
		t.Fatal("expected non-nil httpClient")
	}
}

func TestRunBacktest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/backtest" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var req BacktestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		if req.Symbol != "AAPL" || req.Preset != "dip-default" || !req.Save {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(`{"runId":"r1","params":{"symbol":"AAPL","lookbackWindow":5},"summary":{"closed":3,"realizedPnl":"12.5"},"positions":[],"events":[]}`))
	}))
	defer srv.Close()

	resp, err := NewClient(srv.URL).RunBacktest(context.Background(), BacktestRequest{
		Symbol: "AAPL", Market: "us", Preset: "dip-default", Save: true,
	})
	if err != nil {
		t.Fatalf("RunBacktest: %v", err)
	}
	if resp.RunID != "r1" || resp.Params.LookbackWindow != 5 || resp.Summary.Closed != 3 {
		t.Errorf("resp = %+v", resp)
	}
	if resp.Summary.RealizedPnL.String() != "12.5" {
		t.Errorf("RealizedPnL = %s", resp.Summary.RealizedPnL)
	}
}

func TestListRunsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "600519.SH" {
			t.Errorf("symbol = %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Errorf("limit = %q", got)
		}
		w.Write([]byte(`[{"id":"a","symbol":"600519.SH"},{"id":"b","symbol":"600519.SH"}]`))
	}))
	defer srv.Close()

	runs, err := NewClient(srv.URL).ListRuns(context.Background(), "600519.SH", 5)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 || runs[1].ID != "b" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/runs/missing":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"not found"}`))
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL)

	_, err := c.GetRun(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Errorf("GetRun err = %v, want not found", err)
	}
	var apiErr *APIError
	if _, err := c.Presets(context.Background()); err == nil {
		t.Fatal("Presets succeeded on 500")
	} else if !errors.As(err, &apiErr) || apiErr.StatusCode != 500 || apiErr.Message != "boom" {
		t.Errorf("Presets err = %#v", err)
	}
}
