package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"dipper/internal/config"
	"dipper/internal/domain"
	"dipper/internal/gather"
	"dipper/internal/gather/cn"
	"dipper/internal/gather/us"
	"dipper/internal/store"
	"dipper/internal/util"
)

func gatherCommand() *cli.Command {
	return &cli.Command{
		Name:  "gather",
		Usage: "Fetch daily bars into the local bar store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "symbols", Usage: "comma-separated `SYMBOL:market` list (default: gather.symbols)"},
			&cli.StringFlag{Name: "start", Usage: "first date, `YYYY-MM-DD` (default: gather.start_date)"},
			&cli.StringFlag{Name: "end", Usage: "last date, `YYYY-MM-DD` (default: today)"},
			&cli.IntFlag{Name: "workers", Usage: "concurrent symbols (default: gather.max_workers)"},
		},
		Action: gatherAction,
	}
}

func gatherAction(ctx context.Context, cmd *cli.Command) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	targets, err := gatherTargets(cmd.String("symbols"), e.cfg.Gather.Symbols)
	if err != nil {
		return err
	}

	startStr := e.cfg.Gather.StartDate
	if v := cmd.String("start"); v != "" {
		startStr = v
	}
	start, err := util.ParseTradeDate(startStr)
	if err != nil {
		return err
	}
	end := util.TradeDate(time.Now(), domain.MarketCN)
	if v := cmd.String("end"); v != "" {
		if end, err = util.ParseTradeDate(v); err != nil {
			return err
		}
	}
	if end.Before(start) {
		return fmt.Errorf("end %s is before start %s", end.Format(time.DateOnly), start.Format(time.DateOnly))
	}

	workers := e.cfg.Gather.MaxWorkers
	if cmd.IsSet("workers") {
		workers = cmd.Int("workers")
	}

	var providers []gather.Provider
	if e.cfg.Tushare.Token != "" {
		providers = append(providers, cn.NewTushareClient(cn.Options{
			Token:           e.cfg.Tushare.Token,
			URL:             e.cfg.Tushare.URL,
			RateLimitPerMin: e.cfg.Tushare.RateLimitPerMin,
			MaxAttempts:     e.cfg.Tushare.MaxAttempts,
			HTTPClient:      &http.Client{Timeout: e.cfg.Tushare.Timeout},
			Logger:          e.log,
		}))
	} else {
		e.log.Warn("TUSHARE_TOKEN not set; cn symbols will fail")
	}
	if e.cfg.Alpaca.APIKey != "" {
		providers = append(providers, us.NewAlpacaProvider(
			e.cfg.Alpaca.APIKey, e.cfg.Alpaca.APISecret, e.cfg.Alpaca.DataURL, e.cfg.Alpaca.Feed, e.log))
	} else {
		e.log.Warn("APCA_API_KEY_ID not set; us symbols will fail")
	}

	g := gather.NewDailyBarGatherer(
		store.NewParquetStore(e.cfg.Storage.DataDir),
		targets,
		gather.DateRange{Start: start, End: end},
		workers,
		providers...,
	).WithLogger(e.log)
	return g.Run(ctx)
}

// gatherTargets parses a "SYM:market,..." list, falling back to the
// configured symbols when the list is empty.
func gatherTargets(list string, configured []config.SymbolRef) ([]gather.Target, error) {
	if strings.TrimSpace(list) == "" {
		out := make([]gather.Target, len(configured))
		for i, s := range configured {
			out[i] = gather.Target{Symbol: s.Symbol, Market: s.Market}
		}
		return out, nil
	}

	var out []gather.Target
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		sym, mkt, ok := strings.Cut(item, ":")
		if !ok || sym == "" {
			return nil, fmt.Errorf("symbol %q: want SYMBOL:market", item)
		}
		market := domain.Market(strings.ToLower(mkt))
		if market != domain.MarketCN && market != domain.MarketUS {
			return nil, fmt.Errorf("symbol %q: unknown market %q", item, mkt)
		}
		out = append(out, gather.Target{Symbol: sym, Market: market})
	}
	return out, nil
}
