// Package store defines storage interfaces for daily bars and for the
// persisted results of backtest runs.
package store

import (
	"context"
	"errors"
	"time"

	"dipper/internal/domain"
	"dipper/internal/strategy"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves daily bar data.
type BarStore interface {
	// WriteBars persists a batch of bars under the given market.
	WriteBars(ctx context.Context, market domain.Market, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market within
	// [start, end], sorted by date.
	ReadBars(ctx context.Context, symbol string, market domain.Market, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market domain.Market) ([]string, error)
}

// RunRecord is the summary row of one persisted backtest run.
type RunRecord struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Market    domain.Market   `json:"market"`
	Preset    string          `json:"preset,omitempty"`
	Params    strategy.Params `json:"params"`
	Start     time.Time       `json:"start"`
	End       time.Time       `json:"end"`
	Days      int             `json:"days"`
	Closed    int             `json:"closed"`
	Open      int             `json:"open"`
	Dropped   int             `json:"dropped"`
	CreatedAt time.Time       `json:"createdAt"`
}

// DefaultRunLimit is how many runs ListRuns returns for a non-positive limit.
const DefaultRunLimit = 50

// RunStore persists backtest runs together with their ledgers.
type RunStore interface {
	// SaveRun inserts rec and its positions. An empty rec.ID is filled in.
	SaveRun(ctx context.Context, rec *RunRecord, positions []domain.Position) error

	// GetRun returns a run and its positions in opening order, or
	// ErrNotFound.
	GetRun(ctx context.Context, id string) (*RunRecord, []domain.Position, error)

	// ListRuns returns the most recent runs, newest first, optionally
	// filtered by symbol, up to limit.
	ListRuns(ctx context.Context, symbol string, limit int) ([]RunRecord, error)
}
