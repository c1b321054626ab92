package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"dipper/internal/domain"
	"dipper/internal/store"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	neg := n < 0
	if neg {
		n = -n
	}
	s := fmt.Sprintf("%d", n)
	if len(s) > 3 {
		var b strings.Builder
		start := len(s) % 3
		if start > 0 {
			b.WriteString(s[:start])
		}
		for i := start; i < len(s); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(s[i : i+3])
		}
		s = b.String()
	}
	if neg {
		return "-" + s
	}
	return s
}

// FormatMoney formats an amount with two decimals and an explicit sign.
func FormatMoney(d decimal.Decimal) string {
	sign := "+"
	if d.IsNegative() {
		sign = "-"
	}
	whole := d.Abs().Truncate(0)
	frac := d.Abs().Sub(whole).Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	w := whole.IntPart()
	if frac == 100 {
		w, frac = w+1, 0
	}
	return fmt.Sprintf("%s%s.%02d", sign, FormatInt(int(w)), frac)
}

// FormatPrice formats a price, or "-" for zero.
func FormatPrice(p float64) string {
	if p == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f", p)
}

// FormatPct formats a percentage as "+X.X%". Values of 100% or more drop the
// decimal to keep width compact.
func FormatPct(pct float64) string {
	if pct >= 100 || pct <= -100 {
		return fmt.Sprintf("%+.0f%%", pct)
	}
	return fmt.Sprintf("%+.1f%%", pct)
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.DateOnly)
}

// WriteSummary renders s as aligned key/value lines.
func WriteSummary(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	realized, _ := s.RealizedPct.Float64()
	lines := [][2]string{
		{"symbol", s.Symbol},
		{"period", formatDate(s.FirstDate) + " .. " + formatDate(s.LastDate)},
		{"days", FormatInt(s.Days)},
		{"positions", fmt.Sprintf("%d (closed %d, open %d)", s.Positions, s.Closed, s.Open)},
		{"wins", fmt.Sprintf("%d of %d closed", s.Wins, s.Closed)},
		{"dropped signals", FormatInt(s.Dropped)},
		{"max concurrent", fmt.Sprintf("%d of %d (peak committed %s)", s.MaxConcurrent, s.Capacity, FormatMoney(s.PeakCommitted))},
		{"realized pnl", FormatMoney(s.RealizedPnL) + " (" + FormatPct(realized) + ")"},
		{"unrealized pnl", FormatMoney(s.UnrealizedPnL) + " @ " + FormatPrice(s.LastClose)},
		{"avg holding days", fmt.Sprintf("%.1f", s.AvgHoldingDays)},
	}
	for _, l := range lines {
		fmt.Fprintf(tw, "%s:\t%s\n", l[0], l[1])
	}
	return tw.Flush()
}

// WritePositions renders the ledger in insertion order, one row per position.
func WritePositions(w io.Writer, positions []domain.Position) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tbuy date\tbuy\tsell date\tsell\treturn\tdays\t")
	for i, p := range positions {
		sellDate, sell, ret, days := "open", "-", "-", "-"
		if !p.Open {
			sellDate = p.SellDate.Format(time.DateOnly)
			sell = FormatPrice(p.SellPrice)
			ret = FormatPct(p.ReturnPct())
			days = FormatInt(p.HoldingDays())
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			i, p.BuyDate.Format(time.DateOnly), FormatPrice(p.BuyPrice), sellDate, sell, ret, days)
	}
	return tw.Flush()
}

// WriteSweep renders ranked sweep rows, at most limit of them when limit > 0.
func WriteSweep(w io.Writer, rows []SweepRow, limit int) error {
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "rank\tlookback\tbuy%\tsell%\tclosed\topen\tdropped\trealized\treturn\t")
	for i, r := range rows {
		pct, _ := r.Summary.RealizedPct.Float64()
		fmt.Fprintf(tw, "%d\t%d\t%.2f\t%.2f\t%d\t%d\t%d\t%s\t%s\t\n",
			i+1, r.LookbackWindow, r.BuyThresholdPct, r.SellThresholdPct,
			r.Summary.Closed, r.Summary.Open, r.Summary.Dropped,
			FormatMoney(r.Summary.RealizedPnL), FormatPct(pct))
	}
	return tw.Flush()
}

// WriteRuns renders persisted run records, one row each.
func WriteRuns(w io.Writer, runs []store.RunRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSYMBOL\tMARKET\tPRESET\tPERIOD\tDAYS\tCLOSED\tOPEN\tDROPPED")
	for _, r := range runs {
		preset := r.Preset
		if preset == "" {
			preset = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s..%s\t%d\t%d\t%d\t%d\n",
			r.ID, r.CreatedAt.Local().Format(time.DateTime), r.Symbol, r.Market, preset,
			r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly),
			r.Days, r.Closed, r.Open, r.Dropped)
	}
	return tw.Flush()
}
