package backtest

import (
	"encoding/json"
	"time"

	"dipper/internal/domain"
)

// Ledger is the append-only record of every position opened during one run,
// in opening order. Positions are closed in place by flipping their Open
// flag; entries are never removed or reordered.
type Ledger struct {
	positions []domain.Position
	openCount int
}

// open appends a new open position and returns its index.
func (l *Ledger) open(symbol string, price float64, date time.Time) int {
	l.positions = append(l.positions, domain.Position{
		Symbol:   symbol,
		Open:     true,
		BuyPrice: price,
		BuyDate:  date,
	})
	l.openCount++
	return len(l.positions) - 1
}

// close closes the position at idx. It reports false when the position was
// already closed.
func (l *Ledger) close(idx int, price float64, date time.Time) bool {
	if !l.positions[idx].Close(price, date) {
		return false
	}
	l.openCount--
	return true
}

// Len returns the number of positions ever opened.
func (l *Ledger) Len() int { return len(l.positions) }

// At returns a copy of the position at index i.
func (l *Ledger) At(i int) domain.Position { return l.positions[i] }

// Positions returns a copy of all positions in opening order.
func (l *Ledger) Positions() []domain.Position {
	out := make([]domain.Position, len(l.positions))
	copy(out, l.positions)
	return out
}

// OpenCount returns the number of positions still open.
func (l *Ledger) OpenCount() int { return l.openCount }

// ClosedCount returns the number of closed positions.
func (l *Ledger) ClosedCount() int { return len(l.positions) - l.openCount }

// MarshalJSON encodes the ledger as its list of positions.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	if l.positions == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.positions)
}
