// Package report derives summaries from backtest results and renders them
// for people and spreadsheets.
package report

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"dipper/internal/backtest"
)

// Summary is the derived view of one run. Money fields are in the quote
// currency of the symbol and assume each position buys PerTradeCapital
// worth of shares at its buy price.
type Summary struct {
	Symbol    string     `json:"symbol"`
	Days      int        `json:"days"`
	Positions int        `json:"positions"`
	Closed    int        `json:"closed"`
	Open      int        `json:"open"`
	Dropped   int        `json:"droppedSignals"`
	Wins      int        `json:"wins"` // closed above the buy price
	FirstDate *time.Time `json:"firstDate,omitempty"`
	LastDate  *time.Time `json:"lastDate,omitempty"`

	RealizedPnL     decimal.Decimal `json:"realizedPnl"`
	RealizedPct     decimal.Decimal `json:"realizedPct"` // on capital of closed positions
	UnrealizedPnL   decimal.Decimal `json:"unrealizedPnl"`
	AvgHoldingDays  float64         `json:"avgHoldingDays"`
	MaxConcurrent   int             `json:"maxConcurrent"`
	Capacity        int             `json:"capacity"` // positions the capital allows at once
	PeakCommitted   decimal.Decimal `json:"peakCommitted"`
	LastClose       float64         `json:"lastClose"`
	PerTradeCapital float64         `json:"perTradeCapital"`
}

// Summarize builds the Summary of res. The last close of the replayed bars
// marks open positions to market.
func Summarize(res *backtest.Result) Summary {
	bars := res.Bars
	perTrade := decimal.NewFromFloat(res.Params.PerTradeCapital)
	s := Summary{
		Symbol:          res.Params.Symbol,
		Days:            res.Days,
		Positions:       res.Ledger.Len(),
		Closed:          res.ClosedCount(),
		Open:            res.OpenCount(),
		Dropped:         res.DroppedSignals(),
		PerTradeCapital: res.Params.PerTradeCapital,
		Capacity:        res.Params.MaxOpenPositions(),
		RealizedPnL:     decimal.Zero,
		RealizedPct:     decimal.Zero,
		UnrealizedPnL:   decimal.Zero,
		PeakCommitted:   decimal.Zero,
	}
	if len(bars) > 0 {
		first, last := bars[0].Date, bars[len(bars)-1].Date
		s.FirstDate, s.LastDate = &first, &last
		s.LastClose = bars[len(bars)-1].Close
	}

	holding := 0
	for _, p := range res.Ledger.Positions() {
		if p.Open {
			s.UnrealizedPnL = s.UnrealizedPnL.Add(pnl(perTrade, p.BuyPrice, s.LastClose))
			continue
		}
		s.RealizedPnL = s.RealizedPnL.Add(pnl(perTrade, p.BuyPrice, p.SellPrice))
		if p.SellPrice > p.BuyPrice {
			s.Wins++
		}
		holding += p.HoldingDays()
	}
	if s.Closed > 0 {
		invested := perTrade.Mul(decimal.NewFromInt(int64(s.Closed)))
		s.RealizedPct = s.RealizedPnL.Div(invested).Mul(decimal.NewFromInt(100)).Round(4)
		s.AvgHoldingDays = float64(holding) / float64(s.Closed)
	}

	open := 0
	for _, e := range res.Events {
		switch e.Kind {
		case backtest.EventOpened:
			open++
			s.MaxConcurrent = max(s.MaxConcurrent, open)
		case backtest.EventClosed:
			open--
		}
	}
	s.PeakCommitted = perTrade.Mul(decimal.NewFromInt(int64(s.MaxConcurrent)))
	return s
}

// pnl is the profit of buying capital worth at buy and selling at sell.
func pnl(capital decimal.Decimal, buy, sell float64) decimal.Decimal {
	if buy == 0 {
		return decimal.Zero
	}
	b := decimal.NewFromFloat(buy)
	return capital.Mul(decimal.NewFromFloat(sell).Sub(b)).Div(b).Round(4)
}

// SweepRow is one grid point of a sweep, summarised.
type SweepRow struct {
	LookbackWindow   int     `json:"lookbackWindow"`
	BuyThresholdPct  float64 `json:"buyThresholdPct"`
	SellThresholdPct float64 `json:"sellThresholdPct"`
	Summary          Summary `json:"summary"`
}

// RankSweep summarises every result and orders the rows by realized profit,
// best first. Ties keep grid order.
func RankSweep(results []*backtest.Result) []SweepRow {
	rows := make([]SweepRow, len(results))
	for i, r := range results {
		rows[i] = SweepRow{
			LookbackWindow:   r.Params.LookbackWindow,
			BuyThresholdPct:  r.Params.BuyThresholdPct,
			SellThresholdPct: r.Params.SellThresholdPct,
			Summary:          Summarize(r),
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Summary.RealizedPnL.GreaterThan(rows[j].Summary.RealizedPnL)
	})
	return rows
}
