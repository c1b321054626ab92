package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"dipper/internal/domain"
	"dipper/internal/report"
	"dipper/internal/store"
	"dipper/internal/strategy"
	"dipper/pkg/dipper"
)

func runsCommand() *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List saved runs, or show one with --id",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "symbol", Aliases: []string{"s"}, Usage: "only runs of this symbol"},
			&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Usage: fmt.Sprintf("most recent runs to list; 0 or less lists %d", store.DefaultRunLimit), Value: 20},
			&cli.StringFlag{Name: "id", Usage: "show this run with its positions"},
		}, remoteFlags()...),
		Action: runsAction,
	}
}

func runsAction(ctx context.Context, cmd *cli.Command) error {
	srv, err := dialServer(cmd)
	if err != nil {
		return err
	}
	if srv != nil {
		defer srv.Close()
		return runsRemote(ctx, cmd, srv)
	}

	e, err := loadEnv()
	if err != nil {
		return err
	}
	runs, err := store.NewSQLiteStore(e.cfg.Storage.SQLitePath)
	if err != nil {
		return err
	}
	defer runs.Close()

	if id := cmd.String("id"); id != "" {
		rec, positions, err := runs.GetRun(ctx, id)
		if err != nil {
			return err
		}
		return writeRun(*rec, positions)
	}
	recs, err := runs.ListRuns(ctx, cmd.String("symbol"), cmd.Int("limit"))
	if err != nil {
		return err
	}
	return report.WriteRuns(os.Stdout, recs)
}

func runsRemote(ctx context.Context, cmd *cli.Command, srv backtestServer) error {
	if id := cmd.String("id"); id != "" {
		detail, err := srv.GetRun(ctx, id)
		if err != nil {
			return err
		}
		return writeRun(detail.RunRecord, detail.Positions)
	}
	recs, err := srv.ListRuns(ctx, cmd.String("symbol"), cmd.Int("limit"))
	if err != nil {
		return err
	}
	return report.WriteRuns(os.Stdout, recs)
}

func writeRun(rec store.RunRecord, positions []domain.Position) error {
	if err := report.WriteRuns(os.Stdout, []store.RunRecord{rec}); err != nil {
		return err
	}
	fmt.Println()
	return report.WritePositions(os.Stdout, positions)
}

func presetsCommand() *cli.Command {
	return &cli.Command{
		Name:  "presets",
		Usage: "List parameter presets",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Usage: "list the presets of a dipper-server at this base `URL`"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			var presets map[string]strategy.Params
			if server := cmd.String("server"); server != "" {
				var err error
				if presets, err = dipper.NewClient(server).Presets(ctx); err != nil {
					return err
				}
			} else {
				e, err := loadEnv()
				if err != nil {
					return err
				}
				presets = make(map[string]strategy.Params)
				for _, name := range e.reg.List() {
					presets[name], _ = e.reg.Get(name)
				}
			}
			return writePresets(presets)
		},
	}
}

func writePresets(presets map[string]strategy.Params) error {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTOTAL\tPER TRADE\tCEILING\tLOOKBACK\tBUY %\tSELL %")
	for _, name := range names {
		p := presets[name]
		fmt.Fprintf(tw, "%s\t%g\t%g\t%g\t%d\t%g\t%g\n",
			name, p.TotalCapital, p.PerTradeCapital, p.ProfitCeiling,
			p.LookbackWindow, p.BuyThresholdPct, p.SellThresholdPct)
	}
	return tw.Flush()
}
