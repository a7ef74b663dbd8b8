package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/elixirhk/stockroom/internal/core/domain"
	"github.com/elixirhk/stockroom/internal/port"
)

var _ port.Tx = (*sqlTx)(nil)

type sqlTx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.rebind(query), args...)
}

func (t *sqlTx) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.rebind(query), args...)
}

func (t *sqlTx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.rebind(query), args...)
}

// insert runs an INSERT and returns the generated id.
func (t *sqlTx) insert(ctx context.Context, query string, args ...any) (int64, error) {
	if t.dialect.returningID() {
		var id int64
		err := t.queryRow(ctx, query+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := t.exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (t *sqlTx) InsertItem(ctx context.Context, item *domain.Item) error {
	id, err := t.insert(ctx, `INSERT INTO items (name, quantity, updated_at) VALUES (?, 0, ?)`,
		item.Name, item.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %q", domain.ErrDuplicateItemName, item.Name)
	}
	if err != nil {
		return err
	}
	item.ID = id
	item.Quantity = 0
	return nil
}

func (t *sqlTx) FindItems(ctx context.Context, ids []int64) ([]domain.Item, error) {
	return t.selectItems(ctx, ids, "")
}

func (t *sqlTx) LockItems(ctx context.Context, ids []int64) ([]domain.Item, error) {
	return t.selectItems(ctx, ids, t.dialect.forUpdate())
}

func (t *sqlTx) selectItems(ctx context.Context, ids []int64, suffix string) ([]domain.Item, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := t.query(ctx, `SELECT `+itemColumns+` FROM items WHERE id IN (`+placeholders+`) ORDER BY id ASC`+suffix, args...)
	if err != nil {
		return nil, err
	}
	return scanItems(rows)
}

func (t *sqlTx) SetItemQuantity(ctx context.Context, itemID int64, quantity int, at time.Time) error {
	_, err := t.exec(ctx, `UPDATE items SET quantity = ?, updated_at = ? WHERE id = ?`, quantity, at, itemID)
	return err
}

func (t *sqlTx) InsertRecord(ctx context.Context, rec *domain.TransactionRecord) error {
	id, err := t.insert(ctx, `
		INSERT INTO stock_transactions (kind, note, actor, created_at)
		VALUES (?, ?, ?, ?)`,
		string(rec.Kind), rec.Note, rec.Actor, rec.CreatedAt,
	)
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

func (t *sqlTx) InsertRecordLine(ctx context.Context, line *domain.TransactionLine) error {
	id, err := t.insert(ctx, `
		INSERT INTO stock_transaction_lines (transaction_id, item_id, amount_changed, total_after_change)
		VALUES (?, ?, ?, ?)`,
		line.RecordID, line.ItemID, line.AmountChanged, line.TotalAfterChange,
	)
	if err != nil {
		return err
	}
	line.ID = id
	return nil
}

func (t *sqlTx) InsertSlip(ctx context.Context, slip *domain.WithdrawalSlip) error {
	id, err := t.insert(ctx, `
		INSERT INTO withdrawal_slips (requester, note, finished, created_at)
		VALUES (?, ?, ?, ?)`,
		slip.Requester, slip.Note, false, slip.CreatedAt,
	)
	if err != nil {
		return err
	}
	slip.ID = id
	return nil
}

func (t *sqlTx) InsertWithdrawalLine(ctx context.Context, line *domain.WithdrawalLine) error {
	id, err := t.insert(ctx, `
		INSERT INTO withdrawal_lines
			(slip_id, item_id, amount_withdrawn, amount_outstanding, amount_returned)
		VALUES (?, ?, ?, ?, ?)`,
		line.SlipID, line.ItemID, line.AmountWithdrawn, line.AmountOutstanding, line.AmountReturned,
	)
	if err != nil {
		return err
	}
	line.ID = id
	return nil
}

func (t *sqlTx) LockSlip(ctx context.Context, slipID int64) (*domain.WithdrawalSlip, error) {
	slip, err := scanSlip(t.queryRow(ctx,
		`SELECT `+slipColumns+` FROM withdrawal_slips s WHERE s.id = ?`+t.dialect.forUpdate(), slipID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Missing("withdrawal slip", slipID)
	}
	if err != nil {
		return nil, err
	}
	rows, err := t.query(ctx, withdrawalLinesQuery, slipID)
	if err != nil {
		return nil, err
	}
	if slip.Lines, err = scanWithdrawalLines(rows); err != nil {
		return nil, err
	}
	return slip, nil
}

func (t *sqlTx) UpdateWithdrawalLine(ctx context.Context, line domain.WithdrawalLine) error {
	_, err := t.exec(ctx, `
		UPDATE withdrawal_lines
		SET amount_outstanding = ?, amount_returned = ?
		WHERE id = ? AND slip_id = ?`,
		line.AmountOutstanding, line.AmountReturned, line.ID, line.SlipID,
	)
	return err
}

func (t *sqlTx) FinishSlip(ctx context.Context, slipID int64, at time.Time) error {
	_, err := t.exec(ctx, `UPDATE withdrawal_slips SET finished = ?, finished_at = ? WHERE id = ?`, true, at, slipID)
	return err
}

func (t *sqlTx) InsertRequest(ctx context.Context, req *domain.Request) error {
	id, err := t.insert(ctx, `
		INSERT INTO requests (status, requester, approver, purchaser, created_at, last_modified)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(req.Status), req.Requester, nullString(req.Approver), nullString(req.Purchaser),
		req.CreatedAt, req.LastModified,
	)
	if err != nil {
		return err
	}
	req.ID = id
	return nil
}

func (t *sqlTx) InsertRequestLine(ctx context.Context, line *domain.RequestLine) error {
	id, err := t.insert(ctx, `
		INSERT INTO request_lines (request_id, item_id, amount_requested)
		VALUES (?, ?, ?)`,
		line.RequestID, line.ItemID, line.AmountRequested,
	)
	if err != nil {
		return err
	}
	line.ID = id
	return nil
}

func (t *sqlTx) LockRequest(ctx context.Context, requestID int64) (*domain.Request, error) {
	req, err := scanRequest(t.queryRow(ctx,
		`SELECT `+requestColumns+` FROM requests r WHERE r.id = ?`+t.dialect.forUpdate(), requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Missing("request", requestID)
	}
	if err != nil {
		return nil, err
	}
	rows, err := t.query(ctx, requestLinesQuery, requestID)
	if err != nil {
		return nil, err
	}
	if req.Lines, err = scanRequestLines(rows); err != nil {
		return nil, err
	}
	return req, nil
}

func (t *sqlTx) UpdateRequest(ctx context.Context, req domain.Request) error {
	_, err := t.exec(ctx, `
		UPDATE requests
		SET status = ?, approver = ?, purchaser = ?, last_modified = ?
		WHERE id = ?`,
		string(req.Status), nullString(req.Approver), nullString(req.Purchaser), req.LastModified, req.ID,
	)
	return err
}

func (t *sqlTx) InsertRequestRecord(ctx context.Context, rec *domain.RequestTransactionRecord) error {
	id, err := t.insert(ctx, `
		INSERT INTO request_transactions (request_id, note, actor, created_at)
		VALUES (?, ?, ?, ?)`,
		rec.RequestID, rec.Note, rec.Actor, rec.CreatedAt,
	)
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}
