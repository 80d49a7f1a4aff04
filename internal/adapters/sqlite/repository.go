package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"simplebot/internal/domain"
	"simplebot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.FillRepository and ports.TradeRepository using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
// DBPath ":memory:" keeps everything in memory, which the tests rely on.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	ctx := context.Background()
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/paper_trades.db"
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
			cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
			return nil, err
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection also keeps an in-memory database alive and shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(ctx); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(ctx, err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(ctx, "SQLite database ready", map[string]interface{}{"path": dbPath})

	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS fills (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		side TEXT NOT NULL,
		units INTEGER NOT NULL,
		price REAL NOT NULL,
		stop_loss REAL NULL,
		take_profit REAL NULL,
		fill_time TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instrument TEXT NOT NULL,
		side TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		units INTEGER NOT NULL,
		pnl REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		close_reason TEXT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fills_instrument_time ON fills (instrument, fill_time);
	CREATE INDEX IF NOT EXISTS idx_trade_history_instrument_exit_time ON trade_history (instrument, exit_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// --- FillRepository Implementation ---

// CreateFill saves a new fill and returns its assigned ID.
func (r *Repository) CreateFill(ctx context.Context, fill *domain.Fill) (int64, error) {
	const query = `
	INSERT INTO fills (order_id, instrument, side, units, price, stop_loss, take_profit, fill_time)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		fill.OrderID, fill.Instrument, fill.Side, fill.Units, fill.Price,
		nullFloat(fill.StopLoss), nullFloat(fill.TakeProfit), fill.Time)
	if err != nil {
		return 0, fmt.Errorf("failed to insert fill for %s: %w: %w", fill.Instrument, ports.ErrUpdateFailed, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for fill %s: %w", fill.Instrument, err)
	}
	fill.ID = id
	r.logger.Debug(ctx, "Fill recorded", map[string]interface{}{"fillID": id, "orderID": fill.OrderID, "instrument": fill.Instrument})
	return id, nil
}

// FindFillsByInstrument retrieves the most recent fills for an instrument.
func (r *Repository) FindFillsByInstrument(ctx context.Context, instrument string, limit int) ([]*domain.Fill, error) {
	const query = `
	SELECT id, order_id, instrument, side, units, price, stop_loss, take_profit, fill_time
	FROM fills
	WHERE instrument = ? ORDER BY fill_time DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fills for %s: %w: %w", instrument, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	fills := make([]*domain.Fill, 0)
	for rows.Next() {
		fill, err := scanFill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fill: %w", err)
		}
		fills = append(fills, fill)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fill rows: %w", err)
	}
	return fills, nil
}

// --- TradeRepository Implementation ---

// CreateTrade saves a new trade record and returns its assigned ID.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trade_history (instrument, side, entry_price, exit_price, units, pnl,
	                           entry_time, exit_time, close_reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.Instrument, trade.Side, trade.EntryPrice, trade.ExitPrice, trade.Units, trade.PNL,
		trade.EntryTime, trade.ExitTime, trade.CloseReason)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade history for %s: %w: %w", trade.Instrument, ports.ErrUpdateFailed, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade history %s: %w", trade.Instrument, err)
	}
	trade.ID = id
	r.logger.Debug(ctx, "Trade history created", map[string]interface{}{"tradeID": id, "instrument": trade.Instrument, "pnl": trade.PNL})
	return id, nil
}

// FindByInstrument retrieves the most recent trades for an instrument, up to a limit.
func (r *Repository) FindByInstrument(ctx context.Context, instrument string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, instrument, side, entry_price, exit_price, units, pnl,
	       entry_time, exit_time, close_reason
	FROM trade_history
	WHERE instrument = ? ORDER BY exit_time DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade history for %s: %w: %w", instrument, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade history during FindByInstrument: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade history rows: %w", err)
	}
	return trades, nil
}

// GetTotalProfit calculates the sum of PNL over all recorded trades.
func (r *Repository) GetTotalProfit(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(pnl), 0) FROM trade_history`
	var totalProfit float64
	if err := r.db.QueryRowContext(ctx, query).Scan(&totalProfit); err != nil {
		return 0, fmt.Errorf("failed to calculate total profit: %w: %w", ports.ErrQueryFailed, err)
	}
	return totalProfit, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFill(s scanner) (*domain.Fill, error) {
	f := &domain.Fill{}
	var side string
	var stopLoss, takeProfit sql.NullFloat64
	err := s.Scan(&f.ID, &f.OrderID, &f.Instrument, &side, &f.Units, &f.Price, &stopLoss, &takeProfit, &f.Time)
	if err != nil {
		return nil, err
	}
	f.Side = domain.PositionSide(side)
	if stopLoss.Valid {
		f.StopLoss = &stopLoss.Float64
	}
	if takeProfit.Valid {
		f.TakeProfit = &takeProfit.Float64
	}
	return f, nil
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	th := &domain.Trade{}
	var side string
	var closeReason sql.NullString
	err := s.Scan(
		&th.ID, &th.Instrument, &side, &th.EntryPrice, &th.ExitPrice, &th.Units, &th.PNL,
		&th.EntryTime, &th.ExitTime, &closeReason)
	if err != nil {
		return nil, err
	}
	th.Side = domain.PositionSide(side)
	if closeReason.Valid {
		th.CloseReason = domain.CloseReason(closeReason.String)
	} else {
		th.CloseReason = domain.CloseReasonUnknown
	}
	return th, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
