// Package gather fetches daily bars from remote providers and writes them to
// a bar store, where backtests read them from.
package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dipper/internal/domain"
	"dipper/internal/store"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass. It returns early when ctx is
	// cancelled.
	Run(ctx context.Context) error
}

// Provider adapts a remote price service into domain bars.
type Provider interface {
	// Market returns the market this provider serves.
	Market() domain.Market
	// DailyBars returns the daily bars of symbol within [start, end], sorted
	// ascending by date with one bar per date.
	DailyBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Target is one symbol to gather.
type Target struct {
	Symbol string
	Market domain.Market
}

// Compile-time interface check.
var _ Gatherer = (*DailyBarGatherer)(nil)

// DailyBarGatherer fetches daily bars for a fixed symbol list, routing each
// symbol to the provider of its market, and persists them to a BarStore.
type DailyBarGatherer struct {
	providers  map[domain.Market]Provider
	store      store.BarStore
	targets    []Target
	rng        DateRange
	maxWorkers int
	log        *slog.Logger
}

// NewDailyBarGatherer creates a DailyBarGatherer. Targets whose market has
// no provider fail individually at Run time.
func NewDailyBarGatherer(s store.BarStore, targets []Target, rng DateRange, maxWorkers int, providers ...Provider) *DailyBarGatherer {
	pm := make(map[domain.Market]Provider, len(providers))
	for _, p := range providers {
		pm[p.Market()] = p
	}
	return &DailyBarGatherer{
		providers:  pm,
		store:      s,
		targets:    targets,
		rng:        rng,
		maxWorkers: max(maxWorkers, 1),
		log:        slog.Default().With("gatherer", "daily"),
	}
}

// WithLogger replaces the gatherer's logger.
func (g *DailyBarGatherer) WithLogger(log *slog.Logger) *DailyBarGatherer {
	g.log = log.With("gatherer", "daily")
	return g
}

// Name returns the gatherer identifier.
func (g *DailyBarGatherer) Name() string { return "daily" }

// Run fetches every target on up to maxWorkers goroutines. Failures are
// logged per symbol and returned joined; successful symbols are persisted
// regardless.
func (g *DailyBarGatherer) Run(ctx context.Context) error {
	if len(g.targets) == 0 {
		g.log.Info("no symbols configured")
		return nil
	}

	targetCh := make(chan Target, len(g.targets))
	for _, t := range g.targets {
		targetCh <- t
	}
	close(targetCh)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		errs      []error
		totalBars atomic.Int64
		runStart  = time.Now()
	)

	workers := min(g.maxWorkers, len(g.targets))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range targetCh {
				if ctx.Err() != nil {
					return
				}
				n, err := g.gatherOne(ctx, t)
				if err != nil {
					g.log.Error("gather failed", "symbol", t.Symbol, "market", t.Market, "error", err)
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
					continue
				}
				totalBars.Add(int64(n))
				g.log.Info("gathered", "symbol", t.Symbol, "market", t.Market, "bars", n)
			}
		}()
	}
	wg.Wait()

	g.log.Info("gather complete",
		"symbols", len(g.targets),
		"failed", len(errs),
		"bars", totalBars.Load(),
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)

	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func (g *DailyBarGatherer) gatherOne(ctx context.Context, t Target) (int, error) {
	p, ok := g.providers[t.Market]
	if !ok {
		return 0, fmt.Errorf("%s: no provider for market %q", t.Symbol, t.Market)
	}
	bars, err := p.DailyBars(ctx, t.Symbol, g.rng.Start, g.rng.End)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", t.Symbol, err)
	}
	if err := g.store.WriteBars(ctx, t.Market, bars); err != nil {
		return 0, fmt.Errorf("%s: writing bars: %w", t.Symbol, err)
	}
	return len(bars), nil
}
