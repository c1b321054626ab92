package dipper

import (
	"time"

	"github.com/shopspring/decimal"

	"dipper/internal/domain"
	"dipper/internal/strategy"
)

type (
	Params   = strategy.Params
	Position = domain.Position
	Market   = domain.Market
)

// BacktestRequest asks the server for one backtest. Dates are YYYY-MM-DD or
// YYYYMMDD; an empty End means today on the symbol's exchange. Params, when
// set, wins over Preset.
type BacktestRequest struct {
	Symbol string  `json:"symbol"`
	Market Market  `json:"market"`
	Start  string  `json:"start"`
	End    string  `json:"end"`
	Preset string  `json:"preset,omitempty"`
	Params *Params `json:"params,omitempty"`
	Save   bool    `json:"save,omitempty"`
}

// BacktestResponse is a finished backtest. RunID is set when the run was
// saved.
type BacktestResponse struct {
	RunID     string     `json:"runId,omitempty"`
	Params    Params     `json:"params"`
	Summary   Summary    `json:"summary"`
	Positions []Position `json:"positions"`
	Events    []Event    `json:"events"`
}

// Summary is the server's derived view of a run. Money fields are in the
// symbol's quote currency.
type Summary struct {
	Symbol    string     `json:"symbol"`
	Days      int        `json:"days"`
	Positions int        `json:"positions"`
	Closed    int        `json:"closed"`
	Open      int        `json:"open"`
	Dropped   int        `json:"droppedSignals"`
	Wins      int        `json:"wins"`
	FirstDate *time.Time `json:"firstDate,omitempty"`
	LastDate  *time.Time `json:"lastDate,omitempty"`

	RealizedPnL     decimal.Decimal `json:"realizedPnl"`
	RealizedPct     decimal.Decimal `json:"realizedPct"`
	UnrealizedPnL   decimal.Decimal `json:"unrealizedPnl"`
	AvgHoldingDays  float64         `json:"avgHoldingDays"`
	MaxConcurrent   int             `json:"maxConcurrent"`
	Capacity        int             `json:"capacity"`
	PeakCommitted   decimal.Decimal `json:"peakCommitted"`
	LastClose       float64         `json:"lastClose"`
	PerTradeCapital float64         `json:"perTradeCapital"`
}

// Event is one opened, closed or dropped-signal step of a run.
type Event struct {
	Kind      string    `json:"kind"` // "opened", "closed" or "signal_dropped"
	Day       int       `json:"day"`
	Date      time.Time `json:"date"`
	Price     float64   `json:"price"`
	RefOffset int       `json:"refOffset,omitempty"`
	Position  int       `json:"position"`
}

// RunRecord describes a saved run.
type RunRecord struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Market    Market    `json:"market"`
	Preset    string    `json:"preset,omitempty"`
	Params    Params    `json:"params"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Days      int       `json:"days"`
	Closed    int       `json:"closed"`
	Open      int       `json:"open"`
	Dropped   int       `json:"dropped"`
	CreatedAt time.Time `json:"createdAt"`
}

// RunDetail is a saved run together with its positions.
type RunDetail struct {
	RunRecord
	Positions []Position `json:"positions"`
}
