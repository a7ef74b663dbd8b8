package service

import (
	"context"
	"fmt"

	"github.com/elixirhk/stockroom/internal/core/domain"
	"github.com/elixirhk/stockroom/internal/port"
)

// AuditTrail appends the immutable history of ledger mutations and request
// status changes. Its writers only run inside a transaction opened by one of
// the other components, so an audit row never commits without its mutation.
type AuditTrail struct {
	*base
}

func (a *AuditTrail) openRecord(ctx context.Context, tx port.Tx, kind domain.RecordKind, actor domain.Actor, note string) (*domain.TransactionRecord, error) {
	rec := &domain.TransactionRecord{
		Kind:      kind,
		Note:      note,
		Actor:     actor.SubjectID,
		CreatedAt: a.now(),
	}
	if err := tx.InsertRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert transaction record: %w", err)
	}
	return rec, nil
}

// appendLine returns the id of the new line, which versions the item's
// quantity for publishing.
func (a *AuditTrail) appendLine(ctx context.Context, tx port.Tx, rec *domain.TransactionRecord, item domain.Item, delta int) (int64, error) {
	line := domain.TransactionLine{
		RecordID:         rec.ID,
		ItemID:           item.ID,
		ItemName:         item.Name,
		AmountChanged:    delta,
		TotalAfterChange: item.Quantity,
	}
	if err := tx.InsertRecordLine(ctx, &line); err != nil {
		return 0, fmt.Errorf("insert transaction line: %w", err)
	}
	rec.Lines = append(rec.Lines, line)
	return line.ID, nil
}

func (a *AuditTrail) recordRequestChange(ctx context.Context, tx port.Tx, requestID int64, actor domain.Actor, note string) error {
	rec := &domain.RequestTransactionRecord{
		RequestID: requestID,
		Note:      note,
		Actor:     actor.SubjectID,
		CreatedAt: a.now(),
	}
	if err := tx.InsertRequestRecord(ctx, rec); err != nil {
		return fmt.Errorf("insert request transaction: %w", err)
	}
	return nil
}

// History merges stock and request audit rows written by actor, newest first.
func (a *AuditTrail) History(ctx context.Context, actor string) ([]domain.HistoryEntry, error) {
	if actor == "" {
		return nil, domain.Invalid("actor is required")
	}
	return a.db.History(ctx, actor)
}

// Record returns one stock transaction record with its lines.
func (a *AuditTrail) Record(ctx context.Context, recordID int64) (*domain.TransactionRecord, error) {
	return a.db.GetRecord(ctx, recordID)
}

// RequestRecords returns the status history of a request, oldest first.
func (a *AuditTrail) RequestRecords(ctx context.Context, requestID int64) ([]domain.RequestTransactionRecord, error) {
	if _, err := a.db.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return a.db.ListRequestRecords(ctx, requestID)
}

// ItemLines returns every ledger line written for an item, oldest first.
func (a *AuditTrail) ItemLines(ctx context.Context, itemID int64) ([]domain.TransactionLine, error) {
	if _, err := a.db.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return a.db.ItemLines(ctx, itemID)
}
