package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"dipper/internal/domain"
)

const sampleYAML = `
storage:
  data_dir: "/tmp/dipper/data"
  sqlite_path: "/tmp/dipper/dipper.db"
server:
  host: "0.0.0.0"
  port: 8088
  grpc_port: 9099
logging:
  level: "debug"
  format: "text"
tushare:
  token: "file-token"
  rate_limit_per_min: 120
  timeout: 10s
alpaca:
  api_key: "test-key"
  api_secret: "test-secret"
gather:
  start_date: "2020-01-01"
  max_workers: 2
  symbols:
    - symbol: "600519.SH"
      market: cn
    - symbol: "AAPL"
      market: us
strategies:
  moutai-dip:
    total_capital: 1000000
    per_trade_capital: 200000
    profit_ceiling: 2000
    lookback_window: 10
    buy_threshold_pct: 6
    sell_threshold_pct: 10
sweep:
  workers: 8
  buy_thresholds: [2, 4, 6]
  sell_thresholds: [5, 10]
  lookbacks: [5, 10, 20]
`

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DATA_DIR", "SQLITE_PATH", "LOG_LEVEL", "DIPPER_HTTP_PORT",
		"TUSHARE_TOKEN", "TUSHARE_URL", "APCA_API_KEY_ID", "APCA_API_SECRET_KEY",
	} {
		t.Setenv(k, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dipper.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/dipper/data" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Storage.SQLitePath != "/tmp/dipper/dipper.db" {
		t.Errorf("Storage.SQLitePath = %q", cfg.Storage.SQLitePath)
	}

	// -- Server --
	if got := cfg.Server.HTTPAddr(); got != "0.0.0.0:8088" {
		t.Errorf("HTTPAddr() = %q", got)
	}
	if got := cfg.Server.GRPCAddr(); got != "0.0.0.0:9099" {
		t.Errorf("GRPCAddr() = %q", got)
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}

	// -- Tushare (explicit + defaults) --
	if cfg.Tushare.Token != "file-token" || cfg.Tushare.RateLimitPerMin != 120 {
		t.Errorf("Tushare = %+v", cfg.Tushare)
	}
	if cfg.Tushare.Timeout != 10*time.Second {
		t.Errorf("Tushare.Timeout = %v, want 10s", cfg.Tushare.Timeout)
	}
	if cfg.Tushare.URL != "http://api.tushare.pro" || cfg.Tushare.MaxAttempts != 3 {
		t.Errorf("Tushare defaults not applied: %+v", cfg.Tushare)
	}

	// -- Gather --
	if len(cfg.Gather.Symbols) != 2 {
		t.Fatalf("Gather.Symbols = %+v", cfg.Gather.Symbols)
	}
	if cfg.Gather.Symbols[0].Market != domain.MarketCN || cfg.Gather.Symbols[1].Symbol != "AAPL" {
		t.Errorf("Gather.Symbols = %+v", cfg.Gather.Symbols)
	}

	// -- Strategies --
	p, ok := cfg.Strategies["moutai-dip"]
	if !ok {
		t.Fatal("strategy moutai-dip missing")
	}
	if p.LookbackWindow != 10 || p.ProfitCeiling != 2000 || p.PerTradeCapital != 200000 {
		t.Errorf("moutai-dip = %+v", p)
	}

	// -- Sweep --
	if cfg.Sweep.Workers != 8 || len(cfg.Sweep.BuyThresholds) != 3 || len(cfg.Sweep.Lookbacks) != 3 {
		t.Errorf("Sweep = %+v", cfg.Sweep)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("TUSHARE_TOKEN", "env-token")
	t.Setenv("APCA_API_KEY_ID", "env-key")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DIPPER_HTTP_PORT", "7000")

	cfg, err := Load(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("DataDir = %q, want env override", cfg.Storage.DataDir)
	}
	if cfg.Tushare.Token != "env-token" {
		t.Errorf("Tushare.Token = %q, want env override", cfg.Tushare.Token)
	}
	if cfg.Alpaca.APIKey != "env-key" {
		t.Errorf("Alpaca.APIKey = %q, want env override", cfg.Alpaca.APIKey)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Storage.DataDir != "data" || cfg.Server.Port != 8080 || cfg.Server.GRPCPort != 9090 {
		t.Errorf("defaults not applied: %+v %+v", cfg.Storage, cfg.Server)
	}
	if cfg.Alpaca.Feed != "iex" || cfg.Gather.MaxWorkers != 4 {
		t.Errorf("defaults not applied: %+v %+v", cfg.Alpaca, cfg.Gather)
	}
}

func TestParseRejectsUnknownMarket(t *testing.T) {
	clearEnv(t)
	_, err := Parse([]byte("gather:\n  symbols:\n    - symbol: X\n      market: hk\n"))
	if err == nil {
		t.Fatal("Parse accepted unknown market")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load of missing file should fail")
	}
}

func TestRegistry(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	reg, err := cfg.Registry()
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if _, ok := reg.Get("moutai-dip"); !ok {
		t.Error("configured preset missing from registry")
	}
	if _, ok := reg.Get("dip-default"); !ok {
		t.Error("built-in preset missing from registry")
	}

	cfg.Strategies["broken"] = cfg.Strategies["moutai-dip"]
	broken := cfg.Strategies["broken"]
	broken.LookbackWindow = 0
	cfg.Strategies["broken"] = broken
	if _, err := cfg.Registry(); err == nil {
		t.Error("Registry accepted an invalid preset")
	}
}

func TestPath(t *testing.T) {
	t.Setenv("DIPPER_CONFIG", "")
	if got := Path(); got != "config/dipper.yaml" {
		t.Errorf("Path() = %q", got)
	}
	t.Setenv("DIPPER_CONFIG", "/etc/dipper.yaml")
	if got := Path(); got != "/etc/dipper.yaml" {
		t.Errorf("Path() = %q", got)
	}
}
