// Package domain defines the core value types shared across dipper: daily
// price bars and the positions a backtest opens against them.
package domain

import (
	"encoding/json"
	"time"
)

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Bar is one trading day's aggregated price and volume summary for a symbol.
// Date is the ordering key; within one backtest run there is exactly one bar
// per date.
type Bar struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
	Amount float64   `json:"amount"` // traded value in quote currency
}

// Position is a single long trade opened by the backtest engine. SellPrice
// and SellDate are zero while the position is open and are left out of its
// JSON encoding.
type Position struct {
	Symbol    string    `json:"symbol"`
	Open      bool      `json:"open"`
	BuyPrice  float64   `json:"buyPrice"`
	BuyDate   time.Time `json:"buyDate"`
	SellPrice float64   `json:"sellPrice,omitempty"`
	SellDate  time.Time `json:"sellDate,omitempty"`
}

// MarshalJSON encodes p, omitting sellPrice and sellDate while p is open.
func (p Position) MarshalJSON() ([]byte, error) {
	type wire struct {
		Symbol    string     `json:"symbol"`
		Open      bool       `json:"open"`
		BuyPrice  float64    `json:"buyPrice"`
		BuyDate   time.Time  `json:"buyDate"`
		SellPrice *float64   `json:"sellPrice,omitempty"`
		SellDate  *time.Time `json:"sellDate,omitempty"`
	}
	w := wire{Symbol: p.Symbol, Open: p.Open, BuyPrice: p.BuyPrice, BuyDate: p.BuyDate}
	if !p.Open {
		w.SellPrice, w.SellDate = &p.SellPrice, &p.SellDate
	}
	return json.Marshal(w)
}

// Close marks the position as closed at price on date. Closing an already
// closed position is a no-op and reports false.
func (p *Position) Close(price float64, date time.Time) bool {
	if !p.Open {
		return false
	}
	p.Open = false
	p.SellPrice = price
	p.SellDate = date
	return true
}

// ReturnPct is the percentage gain of a closed position over its buy price.
// It reports zero for open positions and for a zero buy price.
func (p *Position) ReturnPct() float64 {
	if p.Open || p.BuyPrice == 0 {
		return 0
	}
	return (p.SellPrice - p.BuyPrice) * 100 / p.BuyPrice
}

// HoldingDays is the number of calendar days between buy and sell. Open
// positions report zero.
func (p *Position) HoldingDays() int {
	if p.Open {
		return 0
	}
	return int(p.SellDate.Sub(p.BuyDate).Hours() / 24)
}
