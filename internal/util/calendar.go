package util

import (
	"fmt"
	"time"
	_ "time/tzdata" // exchange zones without a system tz database

	"dipper/internal/domain"
)

// CompactDate is the YYYYMMDD layout used by CN data vendors.
const CompactDate = "20060102"

var shanghai = time.FixedZone("CST", 8*3600)

// MarketLocation returns the exchange time zone for market.
func MarketLocation(market domain.Market) *time.Location {
	if market == domain.MarketCN {
		return shanghai
	}
	if loc, err := time.LoadLocation("America/New_York"); err == nil {
		return loc
	}
	return time.UTC
}

// ParseTradeDate accepts "2006-01-02" or "20060102" and returns midnight UTC
// of that calendar date. Trade dates are calendar labels, so they are kept
// zone-free.
func ParseTradeDate(s string) (time.Time, error) {
	for _, layout := range []string{time.DateOnly, CompactDate} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid trade date %q: want YYYY-MM-DD or YYYYMMDD", s)
}

// TradeDate returns the calendar date of t as seen on market's exchange,
// expressed as midnight UTC.
func TradeDate(t time.Time, market domain.Market) time.Time {
	y, m, d := t.In(MarketLocation(market)).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
