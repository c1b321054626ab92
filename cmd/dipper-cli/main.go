package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

const version = "0.1.0"

func main() {
	cmd := &cli.Command{
		Name:    "dipper-cli",
		Usage:   "backtest dip-buying strategies over daily bars",
		Version: version,
		Commands: []*cli.Command{
			runCommand(),
			sweepCommand(),
			gatherCommand(),
			runsCommand(),
			symbolsCommand(),
			presetsCommand(),
			{
				Name:  "version",
				Usage: "Print the CLI version",
				Action: func(_ context.Context, _ *cli.Command) error {
					fmt.Printf("dipper-cli %s\n", version)
					return nil
				},
			},
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "dipper-cli: %v\n", err)
		os.Exit(1)
	}
}
