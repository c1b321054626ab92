package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"dipper/internal/domain"
	"dipper/internal/strategy"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParquetStorePath(t *testing.T) {
	ps := NewParquetStore("/data")

	bp := ps.barPath("600519.sh", domain.MarketCN, 2024)
	want := filepath.Join("/data", "cn", "daily", "600519.SH", "2024.parquet")
	if bp != want {
		t.Errorf("barPath mismatch:\n  got  %s\n  want %s", bp, want)
	}
}

func TestParquetStoreWriteReadBars(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	bars := []domain.Bar{
		// Spans a year boundary and arrives out of order.
		{Symbol: "600519.SH", Date: day(2024, 1, 2), Open: 1700, High: 1720, Low: 1690, Close: 1710, Volume: 30000, Amount: 5.1e7},
		{Symbol: "600519.SH", Date: day(2023, 12, 29), Open: 1720, High: 1730, Low: 1700, Close: 1726, Volume: 28000, Amount: 4.8e7},
		{Symbol: "600519.SH", Date: day(2024, 1, 3), Open: 1710, High: 1712, Low: 1680, Close: 1685, Volume: 35000, Amount: 5.9e7},
	}

	if err := ps.WriteBars(ctx, domain.MarketCN, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	got, err := ps.ReadBars(ctx, "600519.SH", domain.MarketCN, day(2023, 12, 1), day(2024, 1, 31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadBars returned %d bars, want 3", len(got))
	}
	wantDates := []time.Time{day(2023, 12, 29), day(2024, 1, 2), day(2024, 1, 3)}
	for i, d := range wantDates {
		if !got[i].Date.Equal(d) {
			t.Errorf("bar %d date = %v, want %v", i, got[i].Date, d)
		}
	}
	if got[1].Close != 1710 || got[1].Amount != 5.1e7 || got[1].Volume != 30000 {
		t.Errorf("bar 1 = %+v, fields not round-tripped", got[1])
	}

	// Range filter is inclusive on both ends.
	got, err = ps.ReadBars(ctx, "600519.SH", domain.MarketCN, day(2024, 1, 2), day(2024, 1, 2))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("single-day ReadBars returned %d bars, want 1", len(got))
	}
}

func TestParquetStoreMergeOverwrites(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	first := []domain.Bar{{Symbol: "AAPL", Date: day(2024, 5, 1), Close: 100}}
	second := []domain.Bar{
		{Symbol: "AAPL", Date: day(2024, 5, 1), Close: 101},
		{Symbol: "AAPL", Date: day(2024, 5, 2), Close: 102},
	}
	if err := ps.WriteBars(ctx, domain.MarketUS, first); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}
	if err := ps.WriteBars(ctx, domain.MarketUS, second); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	got, err := ps.ReadBars(ctx, "AAPL", domain.MarketUS, day(2024, 1, 1), day(2024, 12, 31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d bars after merge, want 2", len(got))
	}
	if got[0].Close != 101 {
		t.Errorf("merged close = %v, want incoming value 101", got[0].Close)
	}
}

func TestParquetStoreWriteKeepsUnreadableFile(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	path := ps.barPath("AAPL", domain.MarketUS, 2024)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	corrupt := []byte("not a parquet file")
	if err := os.WriteFile(path, corrupt, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	bars := []domain.Bar{{Symbol: "AAPL", Date: day(2024, 5, 1), Close: 100}}
	if err := ps.WriteBars(context.Background(), domain.MarketUS, bars); err == nil {
		t.Fatal("WriteBars over an unreadable year file succeeded")
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(corrupt) {
		t.Error("unreadable year file was overwritten")
	}
}

func TestParquetStoreMissingSymbol(t *testing.T) {
	ps := NewParquetStore(t.TempDir())
	got, err := ps.ReadBars(context.Background(), "NOPE", domain.MarketUS, day(2024, 1, 1), day(2024, 12, 31))
	if err != nil {
		t.Fatalf("ReadBars: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ReadBars for unknown symbol returned %d bars", len(got))
	}
}

func TestParquetStoreListSymbols(t *testing.T) {
	dir := t.TempDir()
	ps := NewParquetStore(dir)
	ctx := context.Background()

	syms, err := ps.ListSymbols(ctx, domain.MarketCN)
	if err != nil {
		t.Fatalf("ListSymbols on empty dir: %v", err)
	}
	if len(syms) != 0 {
		t.Errorf("expected no symbols, got %v", syms)
	}

	bars := []domain.Bar{
		{Symbol: "000002.SZ", Date: day(2024, 1, 2), Close: 10},
		{Symbol: "000001.SZ", Date: day(2024, 1, 2), Close: 9},
	}
	if err := ps.WriteBars(ctx, domain.MarketCN, bars); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	syms, err = ps.ListSymbols(ctx, domain.MarketCN)
	if err != nil {
		t.Fatalf("ListSymbols: %v", err)
	}
	if len(syms) != 2 || syms[0] != "000001.SZ" || syms[1] != "000002.SZ" {
		t.Errorf("ListSymbols = %v, want [000001.SZ 000002.SZ]", syms)
	}
}

func TestSQLiteStoreSaveGetRun(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	params := strategy.Params{
		Symbol: "600519.SH", TotalCapital: 100, PerTradeCapital: 50,
		ProfitCeiling: 11, LookbackWindow: 3, SellThresholdPct: 50, BuyThresholdPct: 20,
	}
	rec := &RunRecord{
		Symbol: "600519.SH",
		Market: domain.MarketCN,
		Preset: "custom",
		Params: params,
		Start:  day(2024, 1, 1),
		End:    day(2024, 1, 5),
		Days:   5,
		Closed: 1,
		Open:   1,
	}
	positions := []domain.Position{
		{Symbol: "600519.SH", BuyPrice: 7, BuyDate: day(2024, 1, 3), SellPrice: 12, SellDate: day(2024, 1, 5)},
		{Symbol: "600519.SH", Open: true, BuyPrice: 7, BuyDate: day(2024, 1, 4)},
	}

	if err := s.SaveRun(ctx, rec, positions); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("SaveRun did not assign an ID")
	}

	got, gotPos, err := s.GetRun(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Symbol != rec.Symbol || got.Market != domain.MarketCN || got.Preset != "custom" {
		t.Errorf("GetRun record = %+v", got)
	}
	if got.Params != params {
		t.Errorf("params = %+v, want %+v", got.Params, params)
	}
	if !got.Start.Equal(rec.Start) || !got.End.Equal(rec.End) {
		t.Errorf("range = %v..%v, want %v..%v", got.Start, got.End, rec.Start, rec.End)
	}
	if len(gotPos) != 2 {
		t.Fatalf("GetRun returned %d positions, want 2", len(gotPos))
	}
	if gotPos[0].Open || gotPos[0].SellPrice != 12 || !gotPos[0].SellDate.Equal(day(2024, 1, 5)) {
		t.Errorf("closed position = %+v", gotPos[0])
	}
	if !gotPos[1].Open || !gotPos[1].SellDate.IsZero() || gotPos[1].SellPrice != 0 {
		t.Errorf("open position = %+v", gotPos[1])
	}
}

func TestSQLiteStoreGetRunNotFound(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()

	_, _, err = s.GetRun(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRun(missing) = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStoreListRuns(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, sym := range []string{"AAA", "BBB", "AAA"} {
		rec := &RunRecord{
			Symbol:    sym,
			Market:    domain.MarketUS,
			Params:    strategy.Params{TotalCapital: 1, PerTradeCapital: 1, LookbackWindow: 1},
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveRun(ctx, rec, nil); err != nil {
			t.Fatalf("SaveRun %d: %v", i, err)
		}
	}

	all, err := s.ListRuns(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListRuns returned %d runs, want 3", len(all))
	}
	if !all[0].CreatedAt.After(all[1].CreatedAt) {
		t.Errorf("ListRuns not newest first: %v then %v", all[0].CreatedAt, all[1].CreatedAt)
	}

	aaa, err := s.ListRuns(ctx, "AAA", 1)
	if err != nil {
		t.Fatalf("ListRuns(AAA): %v", err)
	}
	if len(aaa) != 1 || aaa[0].Symbol != "AAA" || !aaa[0].CreatedAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("ListRuns(AAA, 1) = %+v", aaa)
	}
}

func TestSQLiteStoreListRunsDefaultLimit(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < DefaultRunLimit+2; i++ {
		rec := &RunRecord{
			Symbol: "AAA",
			Market: domain.MarketUS,
			Params: strategy.Params{TotalCapital: 1, PerTradeCapital: 1, LookbackWindow: 1},
		}
		if err := s.SaveRun(ctx, rec, nil); err != nil {
			t.Fatalf("SaveRun %d: %v", i, err)
		}
	}
	for _, limit := range []int{0, -1} {
		runs, err := s.ListRuns(ctx, "", limit)
		if err != nil {
			t.Fatalf("ListRuns(%d): %v", limit, err)
		}
		if len(runs) != DefaultRunLimit {
			t.Errorf("ListRuns(%d) returned %d runs, want %d", limit, len(runs), DefaultRunLimit)
		}
	}
}

func TestSQLiteStoreSaveRunManyPositions(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	positions := make([]domain.Position, 2*positionBatch+7)
	for i := range positions {
		positions[i] = domain.Position{Symbol: "AAA", Open: true, BuyPrice: float64(i + 1), BuyDate: day(2024, 1, 1)}
	}
	rec := &RunRecord{Symbol: "AAA", Market: domain.MarketUS, Params: strategy.Params{TotalCapital: 1, PerTradeCapital: 1, LookbackWindow: 1}}
	if err := s.SaveRun(ctx, rec, positions); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	_, got, err := s.GetRun(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if len(got) != len(positions) {
		t.Fatalf("GetRun returned %d positions, want %d", len(got), len(positions))
	}
	for i, p := range got {
		if p.BuyPrice != float64(i+1) {
			t.Fatalf("position %d buy price = %v, want %v", i, p.BuyPrice, float64(i+1))
		}
	}
}
