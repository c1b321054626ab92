package report

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"dipper/internal/backtest"
	"dipper/internal/domain"
	"dipper/internal/strategy"
)

// Document is the JSON export of one run.
type Document struct {
	Params    strategy.Params   `json:"params"`
	Summary   Summary           `json:"summary"`
	Positions []domain.Position `json:"positions"`
	Events    []backtest.Event  `json:"events"`
}

// WriteJSON writes res, its summary and its event log as indented JSON.
func WriteJSON(w io.Writer, res *backtest.Result, s Summary) error {
	events := res.Events
	if events == nil {
		events = []backtest.Event{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(Document{
		Params:    res.Params,
		Summary:   s,
		Positions: res.Ledger.Positions(),
		Events:    events,
	})
}

var positionHeader = []string{"index", "symbol", "status", "buy_date", "buy_price", "sell_date", "sell_price", "return_pct", "holding_days"}

// WritePositionsCSV writes one CSV row per position, preceded by a header.
// Open positions leave the sell columns empty.
func WritePositionsCSV(w io.Writer, positions []domain.Position) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(positionHeader); err != nil {
		return err
	}
	for i, p := range positions {
		row := []string{
			strconv.Itoa(i),
			p.Symbol,
			"open",
			p.BuyDate.Format(time.DateOnly),
			ftoa(p.BuyPrice),
			"", "", "", "",
		}
		if !p.Open {
			row[2] = "closed"
			row[5] = p.SellDate.Format(time.DateOnly)
			row[6] = ftoa(p.SellPrice)
			row[7] = strconv.FormatFloat(p.ReturnPct(), 'f', 4, 64)
			row[8] = strconv.Itoa(p.HoldingDays())
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteSweepCSV writes ranked sweep rows as CSV.
func WriteSweepCSV(w io.Writer, rows []SweepRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"rank", "lookback_window", "buy_threshold_pct", "sell_threshold_pct", "closed", "open", "dropped", "realized_pnl", "realized_pct", "unrealized_pnl"}); err != nil {
		return err
	}
	for i, r := range rows {
		s := r.Summary
		if err := cw.Write([]string{
			strconv.Itoa(i + 1),
			strconv.Itoa(r.LookbackWindow),
			ftoa(r.BuyThresholdPct),
			ftoa(r.SellThresholdPct),
			strconv.Itoa(s.Closed),
			strconv.Itoa(s.Open),
			strconv.Itoa(s.Dropped),
			s.RealizedPnL.StringFixed(2),
			s.RealizedPct.StringFixed(4),
			s.UnrealizedPnL.StringFixed(2),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
