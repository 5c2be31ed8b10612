package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/dlgusgh4608/arbitrage/internal/domain"
	"github.com/dlgusgh4608/arbitrage/pkg/quant"
)

// Store persists premium samples, positions and their closes in SQLite.
// Money and quantities are stored as their fixed-point integers, times as unix micros.
type Store struct {
	db *sql.DB
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS premium_samples (
		symbol TEXT NOT NULL,
		minute INTEGER NOT NULL,
		premium INTEGER NOT NULL,
		domestic_price INTEGER NOT NULL,
		overseas_price INTEGER NOT NULL,
		fx_rate INTEGER NOT NULL,
		domestic_trade_at INTEGER NOT NULL,
		overseas_trade_at INTEGER NOT NULL,
		PRIMARY KEY (symbol, minute)
	);`,
	`CREATE TABLE IF NOT EXISTS positions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		domestic_price INTEGER NOT NULL,
		domestic_qty INTEGER NOT NULL,
		domestic_commission INTEGER NOT NULL,
		overseas_price INTEGER NOT NULL,
		overseas_qty INTEGER NOT NULL,
		overseas_commission INTEGER NOT NULL,
		fx_rate INTEGER NOT NULL,
		opened_at INTEGER NOT NULL,
		is_closed INTEGER NOT NULL DEFAULT 0
	);`,
	`CREATE INDEX IF NOT EXISTS idx_positions_open ON positions (user_id, symbol, is_closed);`,
	`CREATE TABLE IF NOT EXISTS position_closes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id TEXT NOT NULL REFERENCES positions(id),
		order_id TEXT NOT NULL UNIQUE,
		domestic_price INTEGER NOT NULL,
		domestic_qty INTEGER NOT NULL,
		domestic_commission INTEGER NOT NULL,
		overseas_price INTEGER NOT NULL,
		overseas_qty INTEGER NOT NULL,
		overseas_commission INTEGER NOT NULL,
		fx_rate INTEGER NOT NULL,
		profit_rate INTEGER NOT NULL,
		net_profit_rate INTEGER NOT NULL,
		closed_at INTEGER NOT NULL
	);`,
}

// Open opens (or creates) the SQLite database with WAL mode enabled.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// one writer; engines serialize through the pool
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

// AppendSample stores one premium per (symbol, minute). Later samples for the same minute are ignored.
func (s *Store) AppendSample(ctx context.Context, p domain.PremiumSample) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO premium_samples
			(symbol, minute, premium, domestic_price, overseas_price, fx_rate, domestic_trade_at, overseas_trade_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Symbol, p.Minute.UnixMicro(), int64(p.Premium), int64(p.DomesticPrice), int64(p.OverseasPrice),
		int64(p.FxRate), p.DomesticTradeAt.UnixMicro(), p.OverseasTradeAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sample: %w", err)
	}
	return nil
}

// RecentSamples returns up to limit samples of symbol, newest first.
func (s *Store) RecentSamples(ctx context.Context, symbol string, limit int) ([]domain.PremiumSample, error) {
	return s.querySamples(ctx,
		`SELECT symbol, minute, premium, domestic_price, overseas_price, fx_rate, domestic_trade_at, overseas_trade_at
		FROM premium_samples WHERE symbol = ? ORDER BY minute DESC LIMIT ?`,
		symbol, limit)
}

// SamplesBetween returns the samples of symbol in [from, to), oldest first.
func (s *Store) SamplesBetween(ctx context.Context, symbol string, from, to time.Time) ([]domain.PremiumSample, error) {
	return s.querySamples(ctx,
		`SELECT symbol, minute, premium, domestic_price, overseas_price, fx_rate, domestic_trade_at, overseas_trade_at
		FROM premium_samples WHERE symbol = ? AND minute >= ? AND minute < ? ORDER BY minute ASC`,
		symbol, from.UnixMicro(), to.UnixMicro())
}

func (s *Store) querySamples(ctx context.Context, query string, args ...any) ([]domain.PremiumSample, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query samples: %w", err)
	}
	defer rows.Close()

	var out []domain.PremiumSample
	for rows.Next() {
		var (
			p                     domain.PremiumSample
			minute, domAt, ovsAt  int64
			premium, dom, ovs, fx int64
		)
		if err := rows.Scan(&p.Symbol, &minute, &premium, &dom, &ovs, &fx, &domAt, &ovsAt); err != nil {
			return nil, fmt.Errorf("failed to scan sample: %w", err)
		}
		p.Minute = time.UnixMicro(minute).UTC()
		p.Premium = quant.Pct(premium)
		p.DomesticPrice = quant.PriceMicros(dom)
		p.OverseasPrice = quant.PriceMicros(ovs)
		p.FxRate = quant.PriceMicros(fx)
		p.DomesticTradeAt = time.UnixMicro(domAt).UTC()
		p.OverseasTradeAt = time.UnixMicro(ovsAt).UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// PersistOpen inserts a new open position.
func (s *Store) PersistOpen(ctx context.Context, p domain.OpenPosition) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO positions
			(id, user_id, symbol, domestic_price, domestic_qty, domestic_commission,
			 overseas_price, overseas_qty, overseas_commission, fx_rate, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Symbol, int64(p.DomesticPrice), int64(p.DomesticQty), int64(p.DomesticCommission),
		int64(p.OverseasPrice), int64(p.OverseasQty), int64(p.OverseasCommission), int64(p.FxRateAtEntry),
		p.OpenedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert position %s: %w", p.ID, err)
	}
	return nil
}

// PersistClose records one unwind and flags the position closed when it is the last one.
func (s *Store) PersistClose(ctx context.Context, positionID string, rec domain.CloseRecord) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin close of %s: %w", positionID, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO position_closes
			(position_id, order_id, domestic_price, domestic_qty, domestic_commission,
			 overseas_price, overseas_qty, overseas_commission, fx_rate, profit_rate, net_profit_rate, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		positionID, rec.OrderID,
		int64(rec.Domestic.Price), int64(rec.Domestic.Qty), int64(rec.Domestic.Commission),
		int64(rec.Overseas.Price), int64(rec.Overseas.Qty), int64(rec.Overseas.Commission),
		int64(rec.FxRate), int64(rec.ProfitRate), int64(rec.NetProfitRate), rec.ClosedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert close of %s: %w", positionID, err)
	}

	if rec.FullyClosed {
		res, err := tx.ExecContext(ctx, "UPDATE positions SET is_closed = 1 WHERE id = ?", positionID)
		if err != nil {
			return fmt.Errorf("failed to close position %s: %w", positionID, err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return fmt.Errorf("failed to close position %s: %d rows", positionID, n)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit close of %s: %w", positionID, err)
	}
	return nil
}

// LoadOpenPositions returns the open positions of (userID, symbol) in insertion order,
// with sold quantities summed from their closes.
func (s *Store) LoadOpenPositions(ctx context.Context, userID, symbol string) ([]domain.OpenPosition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.id, p.user_id, p.symbol,
			p.domestic_price, p.domestic_qty, p.domestic_commission,
			p.overseas_price, p.overseas_qty, p.overseas_commission,
			p.fx_rate, p.opened_at,
			COALESCE(SUM(c.domestic_qty), 0), COALESCE(SUM(c.overseas_qty), 0)
		FROM positions p
		LEFT JOIN position_closes c ON c.position_id = p.id
		WHERE p.user_id = ? AND p.symbol = ? AND p.is_closed = 0
		GROUP BY p.seq
		ORDER BY p.seq ASC`,
		userID, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []domain.OpenPosition
	for rows.Next() {
		var (
			p                                    domain.OpenPosition
			domPrice, domQty, domFee             int64
			ovsPrice, ovsQty, ovsFee, fx, opened int64
			soldDom, soldOvs                     int64
		)
		if err := rows.Scan(&p.ID, &p.UserID, &p.Symbol, &domPrice, &domQty, &domFee,
			&ovsPrice, &ovsQty, &ovsFee, &fx, &opened, &soldDom, &soldOvs); err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		p.DomesticPrice = quant.PriceMicros(domPrice)
		p.DomesticQty = quant.QtySats(domQty)
		p.DomesticCommission = quant.PriceMicros(domFee)
		p.OverseasPrice = quant.PriceMicros(ovsPrice)
		p.OverseasQty = quant.QtySats(ovsQty)
		p.OverseasCommission = quant.PriceMicros(ovsFee)
		p.FxRateAtEntry = quant.PriceMicros(fx)
		p.OpenedAt = time.UnixMicro(opened).UTC()
		p.SoldDomesticQty = quant.QtySats(soldDom)
		p.SoldOverseasQty = quant.QtySats(soldOvs)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// UpsertMetadata saves a key-value pair to the metadata table.
func (s *Store) UpsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

// GetMetadata retrieves a value from the metadata table.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
