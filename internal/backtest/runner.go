package backtest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dipper/internal/domain"
	"dipper/internal/store"
	"dipper/internal/strategy"
)

// ErrInvalidRequest marks a Request that cannot be served as asked, as opposed
// to a failure reading its bars.
var ErrInvalidRequest = errors.New("invalid backtest request")

// Request selects the bars and parameters for a store-backed run.
type Request struct {
	Symbol string
	Market domain.Market
	Start  time.Time
	End    time.Time

	// Preset names a registry entry. Params, when set, takes precedence.
	Preset string
	Params *strategy.Params
}

// Runner reads bars from a BarStore, sorts them and replays them through the
// engine with either an explicit or a registered parameter set.
type Runner struct {
	store    store.BarStore
	registry *strategy.Registry
	log      *slog.Logger
}

// NewRunner creates a Runner that reads bars from barStore and resolves
// presets in registry. A nil log falls back to slog.Default.
func NewRunner(barStore store.BarStore, registry *strategy.Registry, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		store:    barStore,
		registry: registry,
		log:      log.With("component", "runner"),
	}
}

// Params resolves the parameter set for req, stamping req.Symbol onto it.
func (r *Runner) Params(req Request) (strategy.Params, error) {
	var p strategy.Params
	switch {
	case req.Params != nil:
		p = *req.Params
	case req.Preset != "":
		var ok bool
		p, ok = r.registry.Get(req.Preset)
		if !ok {
			return strategy.Params{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidRequest, req.Preset)
		}
	default:
		return strategy.Params{}, fmt.Errorf("%w: %s names neither preset nor params", ErrInvalidRequest, req.Symbol)
	}
	p.Symbol = req.Symbol
	return p, p.Validate()
}

// Bars loads and sorts the bars selected by req.
func (r *Runner) Bars(ctx context.Context, req Request) ([]domain.Bar, error) {
	if req.Symbol == "" {
		return nil, fmt.Errorf("%w: no symbol", ErrInvalidRequest)
	}
	if req.End.Before(req.Start) {
		return nil, fmt.Errorf("%w: end %s before start %s", ErrInvalidRequest, req.End.Format(time.DateOnly), req.Start.Format(time.DateOnly))
	}
	bars, err := r.store.ReadBars(ctx, req.Symbol, req.Market, req.Start, req.End)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", req.Symbol, err)
	}
	return SortBars(bars), nil
}

// Run executes a single backtest for req.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	p, err := r.Params(req)
	if err != nil {
		return nil, err
	}
	bars, err := r.Bars(ctx, req)
	if err != nil {
		return nil, err
	}
	r.log.Info("running backtest",
		"symbol", req.Symbol,
		"market", req.Market,
		"preset", req.Preset,
		"bars", len(bars),
	)
	return Run(bars, p, WithLogger(r.log))
}
