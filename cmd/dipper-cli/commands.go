package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"dipper/internal/api"
	"dipper/internal/backtest"
	"dipper/internal/config"
	"dipper/internal/domain"
	"dipper/internal/report"
	"dipper/internal/store"
	"dipper/internal/strategy"
	"dipper/internal/util"
)

// ---------------------------------------------------------------------------
// Shared setup
// ---------------------------------------------------------------------------

type env struct {
	cfg *config.Config
	log *slog.Logger
	reg *strategy.Registry
}

// loadEnv reads the config and builds the logger and preset registry. Logs go
// to stderr so command output can be piped.
func loadEnv() (*env, error) {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger := util.NewLoggerTo(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: logger, reg: reg}, nil
}

// paramFlags are the flags shared by run and sweep.
func paramFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "symbol to backtest", Required: true},
		&cli.StringFlag{Name: "market", Aliases: []string{"m"}, Usage: "market: cn or us", Value: string(domain.MarketCN)},
		&cli.StringFlag{Name: "start", Usage: "first trade date, `YYYY-MM-DD` (default: all history)"},
		&cli.StringFlag{Name: "end", Usage: "last trade date, `YYYY-MM-DD` (default: today)"},
		&cli.StringFlag{Name: "preset", Aliases: []string{"p"}, Usage: "parameter preset the flags below override", Value: "dip-default"},
		&cli.FloatFlag{Name: "total", Usage: "total capital"},
		&cli.FloatFlag{Name: "per-trade", Usage: "capital per position"},
		&cli.FloatFlag{Name: "ceiling", Usage: "reference closes at or above this never trigger a buy"},
		&cli.FloatFlag{Name: "buy", Usage: "buy threshold, percent drop"},
		&cli.FloatFlag{Name: "sell", Usage: "sell threshold, percent gain"},
		&cli.IntFlag{Name: "lookback", Usage: "lookback window in trading days"},
	}
}

// resolveParams looks up the preset and applies explicitly set overrides.
// overridden reports whether any override flag was given.
func resolveParams(cmd *cli.Command, reg *strategy.Registry) (p strategy.Params, overridden bool, err error) {
	name := cmd.String("preset")
	p, ok := reg.Get(name)
	if !ok {
		return p, false, fmt.Errorf("unknown preset %q (have %s)", name, strings.Join(reg.List(), ", "))
	}
	floats := []struct {
		flag string
		dst  *float64
	}{
		{"total", &p.TotalCapital},
		{"per-trade", &p.PerTradeCapital},
		{"ceiling", &p.ProfitCeiling},
		{"buy", &p.BuyThresholdPct},
		{"sell", &p.SellThresholdPct},
	}
	for _, f := range floats {
		if cmd.IsSet(f.flag) {
			*f.dst = cmd.Float(f.flag)
			overridden = true
		}
	}
	if cmd.IsSet("lookback") {
		p.LookbackWindow = cmd.Int("lookback")
		overridden = true
	}
	p.Symbol = cmd.String("symbol")
	return p, overridden, p.Validate()
}

// backtestRequest builds the store-backed request selected by the flags.
func backtestRequest(cmd *cli.Command, p *strategy.Params) (backtest.Request, error) {
	market := domain.Market(strings.ToLower(cmd.String("market")))
	if market != domain.MarketCN && market != domain.MarketUS {
		return backtest.Request{}, fmt.Errorf("unknown market %q", cmd.String("market"))
	}
	req := backtest.Request{
		Symbol: cmd.String("symbol"),
		Market: market,
		Preset: cmd.String("preset"),
		Params: p,
		End:    util.TradeDate(time.Now(), market),
	}
	var err error
	if v := cmd.String("start"); v != "" {
		if req.Start, err = util.ParseTradeDate(v); err != nil {
			return req, err
		}
	}
	if v := cmd.String("end"); v != "" {
		if req.End, err = util.ParseTradeDate(v); err != nil {
			return req, err
		}
	}
	return req, nil
}

// ---------------------------------------------------------------------------
// run
// ---------------------------------------------------------------------------

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Backtest one symbol",
		Flags: append(append(paramFlags(), remoteFlags()...),
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "output: text, json or csv (positions)", Value: "text"},
			&cli.BoolFlag{Name: "positions", Usage: "print the position table after the summary (text format)"},
			&cli.BoolFlag{Name: "save", Usage: "persist the run to the SQLite run store"},
		),
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	p, overridden, err := resolveParams(cmd, e.reg)
	if err != nil {
		return err
	}
	req, err := backtestRequest(cmd, &p)
	if err != nil {
		return err
	}
	srv, err := dialServer(cmd)
	if err != nil {
		return err
	}
	if srv != nil {
		defer srv.Close()
		return runRemote(ctx, cmd, srv, req, overridden)
	}

	runner := backtest.NewRunner(store.NewParquetStore(e.cfg.Storage.DataDir), e.reg, e.log)
	res, err := runner.Run(ctx, req)
	if err != nil {
		return err
	}
	if res.Days == 0 {
		e.log.Warn("no bars in range; run 'dipper-cli gather' first", "symbol", req.Symbol, "market", req.Market)
	}
	summary := report.Summarize(res)

	if cmd.Bool("save") {
		if err := saveRun(ctx, e, req, res, overridden); err != nil {
			return err
		}
	}

	switch cmd.String("format") {
	case "json":
		return report.WriteJSON(os.Stdout, res, summary)
	case "csv":
		return report.WritePositionsCSV(os.Stdout, res.Ledger.Positions())
	default:
		return writeText(summary, res.Ledger.Positions(), cmd.Bool("positions"))
	}
}

func saveRun(ctx context.Context, e *env, req backtest.Request, res *backtest.Result, overridden bool) error {
	runs, err := store.NewSQLiteStore(e.cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer runs.Close()

	rec := &store.RunRecord{
		Symbol:  req.Symbol,
		Market:  req.Market,
		Preset:  req.Preset,
		Params:  res.Params,
		Start:   req.Start,
		End:     req.End,
		Days:    res.Days,
		Closed:  res.ClosedCount(),
		Open:    res.OpenCount(),
		Dropped: res.DroppedSignals(),
	}
	if overridden {
		rec.Preset = ""
	}
	if err := runs.SaveRun(ctx, rec, res.Ledger.Positions()); err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	e.log.Info("run saved", "id", rec.ID)
	return nil
}

func runRemote(ctx context.Context, cmd *cli.Command, srv backtestServer, req backtest.Request, overridden bool) error {
	body := api.BacktestRequest{
		Symbol: req.Symbol,
		Market: req.Market,
		Start:  cmd.String("start"),
		End:    cmd.String("end"),
		Save:   cmd.Bool("save"),
	}
	if overridden {
		body.Params = req.Params
	} else {
		body.Preset = req.Preset
	}
	resp, err := srv.Run(ctx, body)
	if err != nil {
		return err
	}
	if resp.RunID != "" {
		fmt.Fprintf(os.Stderr, "run saved: %s\n", resp.RunID)
	}

	switch cmd.String("format") {
	case "json":
		return writeIndentedJSON(resp)
	case "csv":
		return report.WritePositionsCSV(os.Stdout, resp.Positions)
	default:
		return writeText(resp.Summary, resp.Positions, cmd.Bool("positions"))
	}
}

func writeText(summary report.Summary, positions []domain.Position, withPositions bool) error {
	if err := report.WriteSummary(os.Stdout, summary); err != nil {
		return err
	}
	if !withPositions {
		return nil
	}
	fmt.Println()
	return report.WritePositions(os.Stdout, positions)
}

func writeIndentedJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
