package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"dipper/internal/domain"
	"dipper/internal/strategy"
	"dipper/internal/strategy/builtins"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for dipper.
type Config struct {
	Storage    Storage                    `yaml:"storage"`
	Server     Server                     `yaml:"server"`
	Logging    Logging                    `yaml:"logging"`
	Tushare    Tushare                    `yaml:"tushare"`
	Alpaca     Alpaca                     `yaml:"alpaca"`
	Gather     GatherConfig               `yaml:"gather"`
	Strategies map[string]strategy.Params `yaml:"strategies"`
	Sweep      SweepConfig                `yaml:"sweep"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	GRPCPort int    `yaml:"grpc_port"`
}

// HTTPAddr returns the host:port of the HTTP listener.
func (s Server) HTTPAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// GRPCAddr returns the host:port of the gRPC listener.
func (s Server) GRPCAddr() string { return fmt.Sprintf("%s:%d", s.Host, s.GRPCPort) }

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Tushare holds credentials and limits for the CN daily-bar API.
type Tushare struct {
	Token           string        `yaml:"token"`
	URL             string        `yaml:"url"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"`
	MaxAttempts     int           `yaml:"max_attempts"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	DataURL   string `yaml:"data_url"`
	Feed      string `yaml:"feed"`
}

// GatherConfig controls which symbols are fetched into the bar store.
type GatherConfig struct {
	StartDate  string      `yaml:"start_date"`
	MaxWorkers int         `yaml:"max_workers"`
	Symbols    []SymbolRef `yaml:"symbols"`
}

// SymbolRef names a symbol together with its market.
type SymbolRef struct {
	Symbol string        `yaml:"symbol"`
	Market domain.Market `yaml:"market"`
}

// SweepConfig is the default parameter grid for sweeps.
type SweepConfig struct {
	Workers        int       `yaml:"workers"`
	BuyThresholds  []float64 `yaml:"buy_thresholds"`
	SellThresholds []float64 `yaml:"sell_thresholds"`
	Lookbacks      []int     `yaml:"lookbacks"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies defaults and then environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse is Load for in-memory YAML.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	for i, s := range cfg.Gather.Symbols {
		if s.Market != domain.MarketCN && s.Market != domain.MarketUS {
			return nil, fmt.Errorf("gather.symbols[%d] %s: unknown market %q", i, s.Symbol, s.Market)
		}
	}
	return cfg, nil
}

// Path returns the config file path from DIPPER_CONFIG, falling back to
// config/dipper.yaml.
func Path() string {
	if p := os.Getenv("DIPPER_CONFIG"); p != "" {
		return p
	}
	return "config/dipper.yaml"
}

// Registry builds a strategy registry holding the built-in presets plus the
// presets declared under strategies:, which override built-ins of the same
// name.
func (c *Config) Registry() (*strategy.Registry, error) {
	r := strategy.NewRegistry()
	if err := builtins.Register(r); err != nil {
		return nil, err
	}
	for name, p := range c.Strategies {
		if err := r.Register(name, p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/dipper.db"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.GRPCPort == 0 {
		cfg.Server.GRPCPort = 9090
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Tushare.URL == "" {
		cfg.Tushare.URL = "http://api.tushare.pro"
	}
	if cfg.Tushare.RateLimitPerMin == 0 {
		cfg.Tushare.RateLimitPerMin = 200
	}
	if cfg.Tushare.MaxAttempts == 0 {
		cfg.Tushare.MaxAttempts = 3
	}
	if cfg.Tushare.Timeout == 0 {
		cfg.Tushare.Timeout = 30 * time.Second
	}
	if cfg.Alpaca.Feed == "" {
		cfg.Alpaca.Feed = "iex"
	}
	if cfg.Gather.StartDate == "" {
		cfg.Gather.StartDate = "2015-01-01"
	}
	if cfg.Gather.MaxWorkers == 0 {
		cfg.Gather.MaxWorkers = 4
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DIPPER_HTTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("TUSHARE_TOKEN"); v != "" {
		cfg.Tushare.Token = v
	}
	if v := os.Getenv("TUSHARE_URL"); v != "" {
		cfg.Tushare.URL = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
