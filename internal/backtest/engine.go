// Package backtest replays a single symbol's daily bars through the
// dip-buying strategy and records the resulting trades.
package backtest

import (
	"log/slog"
	"sort"
	"time"

	"dipper/internal/domain"
	"dipper/internal/strategy"
)

// EventKind classifies an entry in a run's event log.
type EventKind string

const (
	EventOpened        EventKind = "opened"
	EventClosed        EventKind = "closed"
	EventSignalDropped EventKind = "signal_dropped"
)

// Event records one state change, or one dropped buy signal, during a run.
type Event struct {
	Kind  EventKind `json:"kind"`
	Day   int       `json:"day"` // index into the bar series
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`

	// RefOffset is how many days back the qualifying reference bar was.
	// Zero for close events.
	RefOffset int `json:"refOffset,omitempty"`

	// Position is the ledger index affected, or -1 for a dropped signal.
	Position int `json:"position"`
}

// Result is the outcome of one backtest run.
type Result struct {
	Params strategy.Params `json:"params"`
	Days   int             `json:"days"`
	Ledger *Ledger         `json:"ledger"`
	Events []Event         `json:"events"`

	// Bars is the series the run replayed, shared with the caller.
	Bars []domain.Bar `json:"-"`
}

// ClosedCount returns the number of closed positions in the ledger.
func (r *Result) ClosedCount() int { return r.Ledger.ClosedCount() }

// OpenCount returns the number of positions left open at the end of the run.
func (r *Result) OpenCount() int { return r.Ledger.OpenCount() }

// DroppedSignals returns the number of buy signals rejected for lack of
// capital.
func (r *Result) DroppedSignals() int {
	n := 0
	for _, e := range r.Events {
		if e.Kind == EventSignalDropped {
			n++
		}
	}
	return n
}

// Option configures a run.
type Option func(*runOptions)

type runOptions struct {
	log *slog.Logger
}

// WithLogger makes the run log every event at debug level.
func WithLogger(log *slog.Logger) Option {
	return func(o *runOptions) { o.log = log }
}

// Run replays bars, which must be sorted ascending by date with one bar per
// date, and returns the ledger of positions opened. Each day buy evaluation
// precedes sell evaluation, and sell evaluation covers every open position,
// including one opened the same day.
//
// Run never mutates bars. An invalid p is rejected before any bar is read.
func Run(bars []domain.Bar, p strategy.Params, opts ...Option) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var o runOptions
	for _, opt := range opts {
		opt(&o)
	}

	res := &Result{
		Params: p,
		Days:   len(bars),
		Ledger: &Ledger{},
		Bars:   bars,
	}
	led := res.Ledger

	record := func(e Event) {
		res.Events = append(res.Events, e)
		if o.log != nil {
			o.log.Debug("backtest event",
				"kind", e.Kind,
				"date", e.Date.Format(time.DateOnly),
				"price", e.Price,
				"refOffset", e.RefOffset,
				"position", e.Position,
			)
		}
	}

	for t := range bars {
		bar := bars[t]

		if off, ok := p.BuySignal(bars, t); ok {
			committed := float64(led.OpenCount()) * p.PerTradeCapital
			if committed < p.TotalCapital {
				symbol := p.Symbol
				if symbol == "" {
					symbol = bar.Symbol
				}
				idx := led.open(symbol, bar.Close, bar.Date)
				record(Event{Kind: EventOpened, Day: t, Date: bar.Date, Price: bar.Close, RefOffset: off, Position: idx})
			} else {
				record(Event{Kind: EventSignalDropped, Day: t, Date: bar.Date, Price: bar.Close, RefOffset: off, Position: -1})
			}
		}

		if led.OpenCount() == 0 {
			continue
		}
		for i := range led.positions {
			pos := &led.positions[i]
			if !pos.Open || !p.SellSignal(pos.BuyPrice, bar.Close) {
				continue
			}
			led.close(i, bar.Close, bar.Date)
			record(Event{Kind: EventClosed, Day: t, Date: bar.Date, Price: bar.Close, Position: i})
		}
	}

	if o.log != nil {
		o.log.Info("backtest complete",
			"symbol", p.Symbol,
			"days", res.Days,
			"closed", res.ClosedCount(),
			"open", res.OpenCount(),
			"dropped", res.DroppedSignals(),
		)
	}
	return res, nil
}

// SortBars returns a copy of bars sorted ascending by date. The input slice
// is left untouched.
func SortBars(bars []domain.Bar) []domain.Bar {
	out := make([]domain.Bar, len(bars))
	copy(out, bars)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}
