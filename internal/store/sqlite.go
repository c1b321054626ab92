package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"dipper/internal/domain"
	"dipper/internal/strategy"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Compile-time interface check.
var _ RunStore = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	symbol     TEXT NOT NULL,
	market     TEXT NOT NULL,
	preset     TEXT NOT NULL DEFAULT '',
	params     TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date   TEXT NOT NULL,
	days       INTEGER NOT NULL,
	closed     INTEGER NOT NULL,
	open       INTEGER NOT NULL,
	dropped    INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_symbol_created ON runs (symbol, created_at);
CREATE TABLE IF NOT EXISTS positions (
	run_id     TEXT NOT NULL REFERENCES runs (id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	symbol     TEXT NOT NULL,
	open       INTEGER NOT NULL,
	buy_price  REAL NOT NULL,
	buy_date   TEXT NOT NULL,
	sell_price REAL,
	sell_date  TEXT,
	PRIMARY KEY (run_id, seq)
);
`

// positionBatch keeps multi-row inserts under SQLite's bound-variable limit.
const positionBatch = 500

var runColumns = []string{
	"id", "symbol", "market", "preset", "params", "start_date", "end_date",
	"days", "closed", "open", "dropped", "created_at",
}

// SQLiteStore implements RunStore backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
	sq squirrel.StatementBuilderType
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies the
// schema and returns a ready-to-use SQLiteStore.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLiteStore{
		db: db,
		sq: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun inserts rec and its positions in a single transaction.
func (s *SQLiteStore) SaveRun(ctx context.Context, rec *RunRecord, positions []domain.Position) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	params, err := json.Marshal(rec.Params)
	if err != nil {
		return fmt.Errorf("encoding params: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	query, args, err := s.sq.
		Insert("runs").
		Columns(runColumns...).
		Values(
			rec.ID, rec.Symbol, string(rec.Market), rec.Preset, string(params),
			formatDate(rec.Start), formatDate(rec.End),
			rec.Days, rec.Closed, rec.Open, rec.Dropped, rec.CreatedAt.UnixMilli(),
		).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting run %s: %w", rec.ID, err)
	}

	for lo := 0; lo < len(positions); lo += positionBatch {
		hi := min(lo+positionBatch, len(positions))
		insert := s.sq.
			Insert("positions").
			Columns("run_id", "seq", "symbol", "open", "buy_price", "buy_date", "sell_price", "sell_date")
		for i := lo; i < hi; i++ {
			p := positions[i]
			var sellPrice sql.NullFloat64
			var sellDate sql.NullString
			if !p.Open {
				sellPrice = sql.NullFloat64{Float64: p.SellPrice, Valid: true}
				sellDate = sql.NullString{String: formatDate(p.SellDate), Valid: true}
			}
			insert = insert.Values(rec.ID, i, p.Symbol, boolToInt(p.Open), p.BuyPrice, formatDate(p.BuyDate), sellPrice, sellDate)
		}
		query, args, err := insert.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("inserting positions %d-%d of run %s: %w", lo, hi-1, rec.ID, err)
		}
	}

	return tx.Commit()
}

// GetRun retrieves a run and its positions in opening order.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, []domain.Position, error) {
	query, args, err := s.sq.
		Select(runColumns...).
		From("runs").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, nil, err
	}
	rec, err := scanRun(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, nil, err
	}

	query, args, err = s.sq.
		Select("symbol", "open", "buy_price", "buy_date", "sell_price", "sell_date").
		From("positions").
		Where(squirrel.Eq{"run_id": id}).
		OrderBy("seq").
		ToSql()
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		var (
			p         domain.Position
			open      int
			buyDate   string
			sellPrice sql.NullFloat64
			sellDate  sql.NullString
		)
		if err := rows.Scan(&p.Symbol, &open, &p.BuyPrice, &buyDate, &sellPrice, &sellDate); err != nil {
			return nil, nil, err
		}
		p.Open = open != 0
		if p.BuyDate, err = parseDate(buyDate); err != nil {
			return nil, nil, err
		}
		if sellPrice.Valid {
			p.SellPrice = sellPrice.Float64
		}
		if sellDate.Valid {
			if p.SellDate, err = parseDate(sellDate.String); err != nil {
				return nil, nil, err
			}
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return rec, positions, nil
}

// ListRuns returns the most recent runs, newest first. An empty symbol
// matches every run; a non-positive limit defaults to 50.
func (s *SQLiteStore) ListRuns(ctx context.Context, symbol string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = DefaultRunLimit
	}

	sel := s.sq.
		Select(runColumns...).
		From("runs").
		OrderBy("created_at DESC", "id").
		Limit(uint64(limit))
	if symbol != "" {
		sel = sel.Where(squirrel.Eq{"symbol": symbol})
	}
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *rec)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*RunRecord, error) {
	var (
		rec        RunRecord
		market     string
		params     string
		start, end string
		createdAt  int64
	)
	err := sc.Scan(&rec.ID, &rec.Symbol, &market, &rec.Preset, &params, &start, &end,
		&rec.Days, &rec.Closed, &rec.Open, &rec.Dropped, &createdAt)
	if err != nil {
		return nil, err
	}
	rec.Market = domain.Market(market)
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()

	var p strategy.Params
	if err := json.Unmarshal([]byte(params), &p); err != nil {
		return nil, fmt.Errorf("decoding params of run %s: %w", rec.ID, err)
	}
	rec.Params = p

	if rec.Start, err = parseDate(start); err != nil {
		return nil, err
	}
	if rec.End, err = parseDate(end); err != nil {
		return nil, err
	}
	return &rec, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
