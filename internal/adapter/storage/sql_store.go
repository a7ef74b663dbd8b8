package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"             // pure go sqlite driver

	"github.com/elixirhk/stockroom/internal/core/domain"
	"github.com/elixirhk/stockroom/internal/port"
)

var _ port.Database = (*Store)(nil)

// PoolConfig tunes the database/sql connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store implements port.Database on database/sql for MySQL, Postgres and SQLite.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, dialect Dialect, dsn string, pool PoolConfig) (*Store, error) {
	switch dialect {
	case MySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		dsn = cfg.FormatDSN()
	case SQLite:
		if !strings.Contains(dsn, "_pragma=") {
			sep := "?"
			if strings.Contains(dsn, "?") {
				sep = "&"
			}
			dsn += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
		}
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if dialect == SQLite {
		// one connection: transactions queue on the pool instead of failing busy
		db.SetMaxOpenConns(1)
	} else {
		if pool.MaxOpenConns > 0 {
			db.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.MaxIdleConns > 0 {
			db.SetMaxIdleConns(pool.MaxIdleConns)
		}
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}
	return &Store{db: db, dialect: dialect}, nil
}

// NewStore wraps an already opened database.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying sql.DB for tests and health checks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Dialect() Dialect { return s.dialect }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{tx: tx, dialect: s.dialect}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

const itemColumns = `id, name, quantity, updated_at`

func (s *Store) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	var it domain.Item
	err := s.queryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, itemID).
		Scan(&it.ID, &it.Name, &it.Quantity, &it.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Missing("item", itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("query item: %w", err)
	}
	return &it, nil
}

func (s *Store) ListItems(ctx context.Context, query string) ([]domain.Item, error) {
	q := `SELECT ` + itemColumns + ` FROM items`
	var args []any
	if query != "" {
		q += ` WHERE name ` + s.dialect.like() + ` ?`
		args = append(args, "%"+query+"%")
	}
	q += ` ORDER BY name ASC LIMIT 500`
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	return scanItems(rows)
}

const slipColumns = `s.id, s.requester, s.note, s.finished, s.created_at, s.finished_at`

func (s *Store) GetSlip(ctx context.Context, slipID int64) (*domain.WithdrawalSlip, error) {
	slip, err := scanSlip(s.queryRow(ctx, `SELECT `+slipColumns+` FROM withdrawal_slips s WHERE s.id = ?`, slipID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Missing("withdrawal slip", slipID)
	}
	if err != nil {
		return nil, fmt.Errorf("query slip: %w", err)
	}
	rows, err := s.query(ctx, withdrawalLinesQuery, slipID)
	if err != nil {
		return nil, fmt.Errorf("query withdrawal lines: %w", err)
	}
	if slip.Lines, err = scanWithdrawalLines(rows); err != nil {
		return nil, err
	}
	return slip, nil
}

func (s *Store) ListSlips(ctx context.Context, requester, query string) ([]domain.WithdrawalSlip, error) {
	q := `SELECT ` + slipColumns + ` FROM withdrawal_slips s WHERE s.requester = ?`
	args := []any{requester}
	if query != "" {
		exists := `EXISTS (SELECT 1 FROM withdrawal_lines wl JOIN items i ON i.id = wl.item_id
			WHERE wl.slip_id = s.id AND i.name ` + s.dialect.like() + ` ?)`
		if n, err := strconv.ParseInt(query, 10, 64); err == nil {
			q += ` AND (s.id = ? OR ` + exists + `)`
			args = append(args, n, "%"+query+"%")
		} else {
			q += ` AND ` + exists
			args = append(args, "%"+query+"%")
		}
	}
	q += ` ORDER BY s.created_at DESC, s.id DESC`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query slips: %w", err)
	}
	defer rows.Close()
	var slips []domain.WithdrawalSlip
	for rows.Next() {
		slip, err := scanSlip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slip: %w", err)
		}
		slips = append(slips, *slip)
	}
	return slips, rows.Err()
}

const requestColumns = `r.id, r.status, r.requester, r.approver, r.purchaser, r.created_at, r.last_modified`

func (s *Store) GetRequest(ctx context.Context, requestID int64) (*domain.Request, error) {
	req, err := scanRequest(s.queryRow(ctx, `SELECT `+requestColumns+` FROM requests r WHERE r.id = ?`, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Missing("request", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	rows, err := s.query(ctx, requestLinesQuery, requestID)
	if err != nil {
		return nil, fmt.Errorf("query request lines: %w", err)
	}
	if req.Lines, err = scanRequestLines(rows); err != nil {
		return nil, err
	}
	return req, nil
}

func (s *Store) ListRequests(ctx context.Context, filter port.RequestFilter) ([]domain.Request, error) {
	q := `SELECT ` + requestColumns + ` FROM requests r`
	var (
		where []string
		args  []any
	)
	if filter.Approver != "" {
		where = append(where, "r.approver = ?")
		args = append(args, filter.Approver)
	}
	if filter.Purchaser != "" {
		where = append(where, "r.purchaser = ?")
		args = append(args, filter.Purchaser)
	}
	if filter.Status != "" {
		where = append(where, "r.status = ?")
		args = append(args, string(filter.Status))
	}
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY r.id DESC`

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()
	var reqs []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		reqs = append(reqs, *req)
	}
	return reqs, rows.Err()
}

func (s *Store) GetRecord(ctx context.Context, recordID int64) (*domain.TransactionRecord, error) {
	var rec domain.TransactionRecord
	var kind string
	err := s.queryRow(ctx, `
		SELECT id, kind, note, actor, created_at
		FROM stock_transactions WHERE id = ?`, recordID,
	).Scan(&rec.ID, &kind, &rec.Note, &rec.Actor, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Missing("transaction record", recordID)
	}
	if err != nil {
		return nil, fmt.Errorf("query transaction record: %w", err)
	}
	rec.Kind = domain.RecordKind(kind)

	rows, err := s.query(ctx, `
		SELECT l.id, l.transaction_id, l.item_id, i.name, l.amount_changed, l.total_after_change
		FROM stock_transaction_lines l
		JOIN items i ON i.id = l.item_id
		WHERE l.transaction_id = ?
		ORDER BY l.id ASC`, recordID)
	if err != nil {
		return nil, fmt.Errorf("query transaction lines: %w", err)
	}
	if rec.Lines, err = scanTransactionLines(rows); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ItemLines(ctx context.Context, itemID int64) ([]domain.TransactionLine, error) {
	rows, err := s.query(ctx, `
		SELECT l.id, l.transaction_id, l.item_id, i.name, l.amount_changed, l.total_after_change
		FROM stock_transaction_lines l
		JOIN items i ON i.id = l.item_id
		WHERE l.item_id = ?
		ORDER BY l.id ASC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query item lines: %w", err)
	}
	return scanTransactionLines(rows)
}

func (s *Store) ListRequestRecords(ctx context.Context, requestID int64) ([]domain.RequestTransactionRecord, error) {
	rows, err := s.query(ctx, `
		SELECT id, request_id, note, actor, created_at
		FROM request_transactions
		WHERE request_id = ?
		ORDER BY id ASC`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query request transactions: %w", err)
	}
	defer rows.Close()
	var recs []domain.RequestTransactionRecord
	for rows.Next() {
		var r domain.RequestTransactionRecord
		if err := rows.Scan(&r.ID, &r.RequestID, &r.Note, &r.Actor, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan request transaction: %w", err)
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// History reads both audit tables separately and merges them; a UNION would
// lose the column types SQLite needs to decode timestamps.
func (s *Store) History(ctx context.Context, actor string) ([]domain.HistoryEntry, error) {
	var entries []domain.HistoryEntry
	sources := []struct {
		source domain.HistorySource
		query  string
	}{
		{domain.HistoryStock, `SELECT id, note, created_at FROM stock_transactions WHERE actor = ?`},
		{domain.HistoryRequest, `SELECT id, note, created_at FROM request_transactions WHERE actor = ?`},
	}
	for _, src := range sources {
		rows, err := s.query(ctx, src.query, actor)
		if err != nil {
			return nil, fmt.Errorf("query %s history: %w", src.source, err)
		}
		for rows.Next() {
			e := domain.HistoryEntry{Source: src.source}
			if err := rows.Scan(&e.ID, &e.Note, &e.CreatedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s history: %w", src.source, err)
			}
			entries = append(entries, e)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.After(entries[j].CreatedAt)
		}
		return entries[i].ID > entries[j].ID
	})
	return entries, nil
}
