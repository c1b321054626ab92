package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"dipper/internal/domain"
	"dipper/internal/store"
)

func symbolsCommand() *cli.Command {
	return &cli.Command{
		Name:  "symbols",
		Usage: "List symbols that have bars in the local bar store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "market", Aliases: []string{"m"}, Usage: "only this market: cn or us (default: both)"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			markets := []domain.Market{domain.MarketCN, domain.MarketUS}
			if v := cmd.String("market"); v != "" {
				m := domain.Market(strings.ToLower(v))
				if m != domain.MarketCN && m != domain.MarketUS {
					return fmt.Errorf("unknown market %q", v)
				}
				markets = []domain.Market{m}
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			return writeSymbols(ctx, os.Stdout, store.NewParquetStore(e.cfg.Storage.DataDir), markets)
		},
	}
}

func writeSymbols(ctx context.Context, w io.Writer, bars store.BarStore, markets []domain.Market) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MARKET\tSYMBOL")
	for _, m := range markets {
		syms, err := bars.ListSymbols(ctx, m)
		if err != nil {
			return fmt.Errorf("listing %s symbols: %w", m, err)
		}
		for _, s := range syms {
			fmt.Fprintf(tw, "%s\t%s\n", m, s)
		}
	}
	return tw.Flush()
}
