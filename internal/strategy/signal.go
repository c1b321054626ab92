package strategy

import "dipper/internal/domain"

// BuySignal scans reference offsets 1..min(LookbackWindow-1, t) nearest
// first and returns the first offset whose bar qualifies as a dip origin for
// bars[t]. The boolean is false when no offset qualifies or t is out of
// range.
func (p Params) BuySignal(bars []domain.Bar, t int) (int, bool) {
	if t < 0 || t >= len(bars) {
		return 0, false
	}
	last := min(p.LookbackWindow-1, t)
	cur := bars[t].Close
	for i := 1; i <= last; i++ {
		ref := bars[t-i].Close
		if ref >= p.ProfitCeiling || ref <= cur {
			continue
		}
		if dropPct(ref, cur) > p.BuyThresholdPct {
			return i, true
		}
	}
	return 0, false
}

// SellSignal reports whether a position bought at buyPrice should close at
// price.
func (p Params) SellSignal(buyPrice, price float64) bool {
	if price <= buyPrice || buyPrice == 0 {
		return false
	}
	return (price-buyPrice)*100/buyPrice > p.SellThresholdPct
}

// dropPct is the percentage fall from ref to cur. A zero ref yields zero so
// that unpriced days never satisfy a threshold.
func dropPct(ref, cur float64) float64 {
	if ref == 0 {
		return 0
	}
	return (ref - cur) * 100 / ref
}
