package backtest

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"dipper/internal/domain"
	"dipper/internal/strategy"
)

// Grid expands a base preset into the cartesian product of the listed
// thresholds and lookback windows. An empty dimension keeps the base value.
type Grid struct {
	Base           strategy.Params
	BuyThresholds  []float64
	SellThresholds []float64
	Lookbacks      []int
}

// Expand returns one Params per grid point, ordered lookback-major, then buy
// threshold, then sell threshold.
func (g Grid) Expand() []strategy.Params {
	buys := g.BuyThresholds
	if len(buys) == 0 {
		buys = []float64{g.Base.BuyThresholdPct}
	}
	sells := g.SellThresholds
	if len(sells) == 0 {
		sells = []float64{g.Base.SellThresholdPct}
	}
	looks := g.Lookbacks
	if len(looks) == 0 {
		looks = []int{g.Base.LookbackWindow}
	}

	out := make([]strategy.Params, 0, len(buys)*len(sells)*len(looks))
	for _, lb := range looks {
		for _, b := range buys {
			for _, s := range sells {
				p := g.Base
				p.LookbackWindow = lb
				p.BuyThresholdPct = b
				p.SellThresholdPct = s
				out = append(out, p)
			}
		}
	}
	return out
}

// Sweep runs every parameter set against the same bars on up to workers
// goroutines and returns the results in the order of params. bars is shared
// read-only by all runs. The first failing run cancels the rest.
func Sweep(ctx context.Context, bars []domain.Bar, params []strategy.Params, workers int, opts ...Option) ([]*Result, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([]*Result, len(params))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, p := range params {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := Run(bars, p, opts...)
			if err != nil {
				return fmt.Errorf("sweep run %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
