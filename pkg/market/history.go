package market

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const dayLayout = "2006-01-02"

// Point is one recorded daily price.
type Point struct {
	Day   time.Time
	Price float64
}

// PriceHistory keeps one gold price per calendar day (UTC).
type PriceHistory interface {
	Record(ctx context.Context, day time.Time, pricePerGram float64) error
	// Yesterday returns the latest price recorded before now's day, or nil.
	Yesterday(ctx context.Context, now time.Time) (*float64, error)
	Range(ctx context.Context, from, to time.Time) ([]Point, error)
}

type dialect struct {
	name      string
	schema    string
	upsert    string
	yesterday string
	between   string
}

var sqliteDialect = dialect{
	schema: `CREATE TABLE IF NOT EXISTS gold_prices (
		day TEXT PRIMARY KEY,
		price_myr_per_g REAL NOT NULL,
		recorded_at TEXT NOT NULL
	)`,
	upsert: `INSERT INTO gold_prices (day, price_myr_per_g, recorded_at) VALUES (?, ?, ?)
		ON CONFLICT (day) DO UPDATE SET price_myr_per_g = excluded.price_myr_per_g, recorded_at = excluded.recorded_at`,
	name:      "sqlite",
	yesterday: "SELECT price_myr_per_g FROM gold_prices WHERE day < ? ORDER BY day DESC LIMIT 1",
	between:   "SELECT day, price_myr_per_g FROM gold_prices WHERE day >= ? AND day <= ? ORDER BY day",
}

var postgresDialect = dialect{
	schema: `CREATE TABLE IF NOT EXISTS gold_prices (
		day TEXT PRIMARY KEY,
		price_myr_per_g DOUBLE PRECISION NOT NULL,
		recorded_at TEXT NOT NULL
	)`,
	upsert: `INSERT INTO gold_prices (day, price_myr_per_g, recorded_at) VALUES ($1, $2, $3)
		ON CONFLICT (day) DO UPDATE SET price_myr_per_g = EXCLUDED.price_myr_per_g, recorded_at = EXCLUDED.recorded_at`,
	name:      "postgres",
	yesterday: "SELECT price_myr_per_g FROM gold_prices WHERE day < $1 ORDER BY day DESC LIMIT 1",
	between:   "SELECT day, price_myr_per_g FROM gold_prices WHERE day >= $1 AND day <= $2 ORDER BY day",
}

// SQLHistory is a PriceHistory over database/sql. Days are stored as
// YYYY-MM-DD text so ordering is lexical in both dialects.
type SQLHistory struct {
	db    *sql.DB
	d     dialect
	clock func() time.Time
}

// NewSQLiteHistory wraps a modernc.org/sqlite handle.
func NewSQLiteHistory(db *sql.DB) *SQLHistory {
	return &SQLHistory{db: db, d: sqliteDialect, clock: time.Now}
}

// NewPostgresHistory wraps a lib/pq handle.
func NewPostgresHistory(db *sql.DB) *SQLHistory {
	return &SQLHistory{db: db, d: postgresDialect, clock: time.Now}
}

// OpenHistory opens a history store from a DSN: postgres:// or
// postgresql:// URLs use Postgres, sqlite:<path> or a bare path uses SQLite.
// The table is created if missing.
func OpenHistory(ctx context.Context, dsn string) (*SQLHistory, error) {
	var (
		h   *SQLHistory
		err error
		db  *sql.DB
	)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err = sql.Open("postgres", dsn)
		if err == nil {
			h = NewPostgresHistory(db)
		}
	case dsn == "":
		return nil, errors.New("market: empty history dsn")
	default:
		db, err = sql.Open("sqlite", strings.TrimPrefix(dsn, "sqlite:"))
		if err == nil {
			h = NewSQLiteHistory(db)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("market: open history: %w", err)
	}
	if err := h.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

// Migrate creates the price table.
func (h *SQLHistory) Migrate(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, h.d.schema); err != nil {
		return fmt.Errorf("market: migrate %s history: %w", h.d.name, err)
	}
	return nil
}

func (h *SQLHistory) Record(ctx context.Context, day time.Time, pricePerGram float64) error {
	_, err := h.db.ExecContext(ctx, h.d.upsert,
		day.UTC().Format(dayLayout), pricePerGram, h.clock().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("market: record price: %w", err)
	}
	return nil
}

func (h *SQLHistory) Yesterday(ctx context.Context, now time.Time) (*float64, error) {
	var price float64
	err := h.db.QueryRowContext(ctx, h.d.yesterday, now.UTC().Format(dayLayout)).Scan(&price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("market: yesterday price: %w", err)
	}
	return &price, nil
}

func (h *SQLHistory) Range(ctx context.Context, from, to time.Time) ([]Point, error) {
	rows, err := h.db.QueryContext(ctx, h.d.between, from.UTC().Format(dayLayout), to.UTC().Format(dayLayout))
	if err != nil {
		return nil, fmt.Errorf("market: price range: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Point
	for rows.Next() {
		var (
			day   string
			price float64
		)
		if err := rows.Scan(&day, &price); err != nil {
			return nil, fmt.Errorf("market: scan price: %w", err)
		}
		t, err := time.Parse(dayLayout, day)
		if err != nil {
			return nil, fmt.Errorf("market: bad day %q: %w", day, err)
		}
		out = append(out, Point{Day: t, Price: price})
	}
	return out, rows.Err()
}

func (h *SQLHistory) Close() error {
	return h.db.Close()
}
