// Package api exposes the backtest runner over HTTP and gRPC.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"dipper/internal/backtest"
	"dipper/internal/domain"
	"dipper/internal/report"
	"dipper/internal/store"
	"dipper/internal/strategy"
	"dipper/internal/util"
)

// BacktestRequest is the wire form of a backtest request. Dates are
// YYYY-MM-DD or YYYYMMDD; an empty end means today on the symbol's exchange.
type BacktestRequest struct {
	Symbol string           `json:"symbol" validate:"required"`
	Market domain.Market    `json:"market" validate:"omitempty,oneof=cn us"`
	Start  string           `json:"start"`
	End    string           `json:"end"`
	Preset string           `json:"preset,omitempty" validate:"required_without=Params"`
	Params *strategy.Params `json:"params,omitempty" validate:"required_without=Preset"`
	Save   bool             `json:"save,omitempty"`
}

// BacktestResponse is the wire form of a finished backtest.
type BacktestResponse struct {
	RunID     string            `json:"runId,omitempty"`
	Params    strategy.Params   `json:"params"`
	Summary   report.Summary    `json:"summary"`
	Positions []domain.Position `json:"positions"`
	Events    []backtest.Event  `json:"events"`
}

// RunDetail is a persisted run together with its ledger.
type RunDetail struct {
	store.RunRecord
	Positions []domain.Position `json:"positions"`
}

// Service holds the transport-independent operations shared by the HTTP and
// gRPC front-ends.
type Service struct {
	runner   *backtest.Runner
	registry *strategy.Registry
	runs     store.RunStore // nil disables persistence
	validate *validator.Validate
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a Service. runs may be nil, in which case save requests
// are rejected and the run listing endpoints report nothing stored.
func NewService(runner *backtest.Runner, registry *strategy.Registry, runs store.RunStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		runner:   runner,
		registry: registry,
		runs:     runs,
		validate: validator.New(),
		log:      log.With("component", "api"),
		now:      time.Now,
	}
}

// Backtest runs req and, when req.Save is set, persists the result.
func (s *Service) Backtest(ctx context.Context, req BacktestRequest) (*BacktestResponse, error) {
	breq, err := s.toRequest(req)
	if err != nil {
		return nil, err
	}
	if req.Save && s.runs == nil {
		return nil, fmt.Errorf("%w: run persistence is not configured", backtest.ErrInvalidRequest)
	}

	res, err := s.runner.Run(ctx, breq)
	if err != nil {
		return nil, err
	}

	events := res.Events
	if events == nil {
		events = []backtest.Event{}
	}
	resp := &BacktestResponse{
		Params:    res.Params,
		Summary:   report.Summarize(res),
		Positions: res.Ledger.Positions(),
		Events:    events,
	}

	if req.Save {
		rec := &store.RunRecord{
			Symbol:  breq.Symbol,
			Market:  breq.Market,
			Params:  res.Params,
			Start:   breq.Start,
			End:     breq.End,
			Days:    res.Days,
			Closed:  res.ClosedCount(),
			Open:    res.OpenCount(),
			Dropped: res.DroppedSignals(),
		}
		// Explicit params win over a named preset, so the run is not that preset.
		if req.Params == nil {
			rec.Preset = breq.Preset
		}
		if err := s.runs.SaveRun(ctx, rec, resp.Positions); err != nil {
			return nil, fmt.Errorf("saving run: %w", err)
		}
		resp.RunID = rec.ID
	}

	s.log.Info("backtest served",
		"symbol", breq.Symbol,
		"days", res.Days,
		"closed", res.ClosedCount(),
		"open", res.OpenCount(),
		"runId", resp.RunID,
	)
	return resp, nil
}

// ListRuns returns the most recent persisted runs.
func (s *Service) ListRuns(ctx context.Context, symbol string, limit int) ([]store.RunRecord, error) {
	if s.runs == nil {
		return []store.RunRecord{}, nil
	}
	runs, err := s.runs.ListRuns(ctx, symbol, limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	return runs, nil
}

// GetRun returns one persisted run, or store.ErrNotFound.
func (s *Service) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	if s.runs == nil {
		return nil, store.ErrNotFound
	}
	rec, positions, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	return &RunDetail{RunRecord: *rec, Positions: positions}, nil
}

// Presets returns the registered parameter presets by name.
func (s *Service) Presets() map[string]strategy.Params {
	out := make(map[string]strategy.Params)
	for _, name := range s.registry.List() {
		p, _ := s.registry.Get(name)
		out[name] = p
	}
	return out
}

func (s *Service) toRequest(req BacktestRequest) (backtest.Request, error) {
	if err := s.validate.Struct(req); err != nil {
		return backtest.Request{}, fmt.Errorf("%w: %v", backtest.ErrInvalidRequest, err)
	}
	out := backtest.Request{
		Symbol: req.Symbol,
		Market: req.Market,
		Preset: req.Preset,
		Params: req.Params,
	}
	if out.Market == "" {
		out.Market = domain.MarketCN
	}

	var err error
	if req.Start != "" {
		if out.Start, err = util.ParseTradeDate(req.Start); err != nil {
			return out, fmt.Errorf("%w: start: %v", backtest.ErrInvalidRequest, err)
		}
	}
	if req.End == "" {
		out.End = util.TradeDate(s.now(), out.Market)
	} else if out.End, err = util.ParseTradeDate(req.End); err != nil {
		return out, fmt.Errorf("%w: end: %v", backtest.ErrInvalidRequest, err)
	}
	return out, nil
}
