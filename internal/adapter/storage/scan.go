package storage

import (
	"database/sql"
	"fmt"

	"github.com/elixirhk/stockroom/internal/core/domain"
)

const withdrawalLinesQuery = `
	SELECT wl.id, wl.slip_id, wl.item_id, i.name,
		wl.amount_withdrawn, wl.amount_outstanding, wl.amount_returned
	FROM withdrawal_lines wl
	JOIN items i ON i.id = wl.item_id
	WHERE wl.slip_id = ?
	ORDER BY wl.id ASC`

const requestLinesQuery = `
	SELECT rl.id, rl.request_id, rl.item_id, i.name, rl.amount_requested
	FROM request_lines rl
	JOIN items i ON i.id = rl.item_id
	WHERE rl.request_id = ?
	ORDER BY rl.id ASC`

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func scanItems(rows *sql.Rows) ([]domain.Item, error) {
	defer rows.Close()
	var items []domain.Item
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Quantity, &it.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func scanSlip(row scanner) (*domain.WithdrawalSlip, error) {
	var (
		slip       domain.WithdrawalSlip
		finishedAt sql.NullTime
	)
	if err := row.Scan(&slip.ID, &slip.Requester, &slip.Note, &slip.Finished, &slip.CreatedAt, &finishedAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		slip.FinishedAt = &t
	}
	return &slip, nil
}

func scanWithdrawalLines(rows *sql.Rows) ([]domain.WithdrawalLine, error) {
	defer rows.Close()
	var lines []domain.WithdrawalLine
	for rows.Next() {
		var l domain.WithdrawalLine
		err := rows.Scan(&l.ID, &l.SlipID, &l.ItemID, &l.ItemName,
			&l.AmountWithdrawn, &l.AmountOutstanding, &l.AmountReturned)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanRequest(row scanner) (*domain.Request, error) {
	var (
		req                 domain.Request
		status              string
		approver, purchaser sql.NullString
	)
	err := row.Scan(&req.ID, &status, &req.Requester, &approver, &purchaser, &req.CreatedAt, &req.LastModified)
	if err != nil {
		return nil, err
	}
	req.Status = domain.RequestStatus(status)
	req.Approver = approver.String
	req.Purchaser = purchaser.String
	return &req, nil
}

func scanRequestLines(rows *sql.Rows) ([]domain.RequestLine, error) {
	defer rows.Close()
	var lines []domain.RequestLine
	for rows.Next() {
		var l domain.RequestLine
		if err := rows.Scan(&l.ID, &l.RequestID, &l.ItemID, &l.ItemName, &l.AmountRequested); err != nil {
			return nil, fmt.Errorf("scan request line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func scanTransactionLines(rows *sql.Rows) ([]domain.TransactionLine, error) {
	defer rows.Close()
	var lines []domain.TransactionLine
	for rows.Next() {
		var l domain.TransactionLine
		if err := rows.Scan(&l.ID, &l.RecordID, &l.ItemID, &l.ItemName, &l.AmountChanged, &l.TotalAfterChange); err != nil {
			return nil, fmt.Errorf("scan transaction line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
