package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"dipper/internal/backtest"
	"dipper/internal/report"
	"dipper/internal/store"
)

func sweepCommand() *cli.Command {
	return &cli.Command{
		Name:  "sweep",
		Usage: "Backtest one symbol over a grid of thresholds and lookbacks",
		Flags: append(paramFlags(),
			&cli.FloatSliceFlag{Name: "buy-grid", Usage: "buy thresholds to try (default: sweep.buy_thresholds)"},
			&cli.FloatSliceFlag{Name: "sell-grid", Usage: "sell thresholds to try (default: sweep.sell_thresholds)"},
			&cli.IntSliceFlag{Name: "lookback-grid", Usage: "lookback windows to try (default: sweep.lookbacks)"},
			&cli.IntFlag{Name: "workers", Usage: "concurrent runs (default: sweep.workers, then GOMAXPROCS)"},
			&cli.IntFlag{Name: "top", Usage: "rows to print, 0 for all", Value: 20},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "output: text, json or csv", Value: "text"},
		),
		Action: sweepAction,
	}
}

func sweepAction(ctx context.Context, cmd *cli.Command) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	base, _, err := resolveParams(cmd, e.reg)
	if err != nil {
		return err
	}
	req, err := backtestRequest(cmd, &base)
	if err != nil {
		return err
	}

	grid := sweepGrid(cmd, e.cfg.Sweep.BuyThresholds, e.cfg.Sweep.SellThresholds, e.cfg.Sweep.Lookbacks)
	grid.Base = base
	params := grid.Expand()

	workers := e.cfg.Sweep.Workers
	if cmd.IsSet("workers") {
		workers = cmd.Int("workers")
	}

	runner := backtest.NewRunner(store.NewParquetStore(e.cfg.Storage.DataDir), e.reg, e.log)
	bars, err := runner.Bars(ctx, req)
	if err != nil {
		return err
	}
	e.log.Info("sweep starting", "symbol", req.Symbol, "bars", len(bars), "points", len(params), "workers", workers)

	results, err := backtest.Sweep(ctx, bars, params, workers)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	rows := report.RankSweep(results)

	switch cmd.String("format") {
	case "json":
		return writeIndentedJSON(rows)
	case "csv":
		return report.WriteSweepCSV(os.Stdout, rows)
	default:
		return report.WriteSweep(os.Stdout, rows, cmd.Int("top"))
	}
}

// sweepGrid takes each dimension from its flag when given, otherwise from the
// configured defaults.
func sweepGrid(cmd *cli.Command, buys, sells []float64, lookbacks []int) backtest.Grid {
	g := backtest.Grid{BuyThresholds: buys, SellThresholds: sells, Lookbacks: lookbacks}
	if cmd.IsSet("buy-grid") {
		g.BuyThresholds = cmd.FloatSlice("buy-grid")
	}
	if cmd.IsSet("sell-grid") {
		g.SellThresholds = cmd.FloatSlice("sell-grid")
	}
	if cmd.IsSet("lookback-grid") {
		g.Lookbacks = cmd.IntSlice("lookback-grid")
	}
	return g
}
