package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/elixirhk/stockroom/internal/core/domain"
	"github.com/elixirhk/stockroom/internal/port"
)

const maxItemNameLength = 100

// StockLedger is the only writer of item quantities. Every write is paired
// with a TransactionLine in the same transaction.
type StockLedger struct {
	*base
	audit *AuditTrail
}

// RegisterItem creates an item at zero and books initialQuantity as its first
// ledger delta, so an item's quantity always equals the sum of its lines.
func (l *StockLedger) RegisterItem(ctx context.Context, actor domain.Actor, name string, initialQuantity int) (*domain.Item, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > maxItemNameLength {
		return nil, domain.Invalid("item name must be 1..%d characters", maxItemNameLength)
	}
	if err := domain.CheckQuantity(initialQuantity); err != nil {
		return nil, err
	}

	item := &domain.Item{Name: name}
	var level domain.StockLevel
	err := l.run(ctx, "ledger.register_item", func(ctx context.Context, tx port.Tx) error {
		item.UpdatedAt = l.now()
		if err := tx.InsertItem(ctx, item); err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		if initialQuantity == 0 {
			return nil
		}
		locked, err := l.lockItems(ctx, tx, []int64{item.ID})
		if err != nil {
			return err
		}
		rec, err := l.audit.openRecord(ctx, tx, domain.RecordItemRegistered, actor, "initial stock")
		if err != nil {
			return err
		}
		if level, err = l.applyLocked(ctx, tx, rec, locked[item.ID], initialQuantity); err != nil {
			return err
		}
		item.Quantity = level.Quantity
		return nil
	})
	if err != nil {
		return nil, err
	}

	if level.Version > 0 {
		l.publish(ctx, []domain.StockLevel{level})
	}
	l.log.WithFields(logrus.Fields{
		"op":       "ledger.register_item",
		"actor":    actor.SubjectID,
		"item_id":  item.ID,
		"quantity": item.Quantity,
	}).Info("item registered")
	return item, nil
}

// ApplyDelta adds a signed amount to one item and returns the new quantity.
func (l *StockLedger) ApplyDelta(ctx context.Context, actor domain.Actor, itemID int64, amount int, note string) (int, error) {
	if err := actor.Validate(); err != nil {
		return 0, err
	}
	note, err := domain.CheckNote(note)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, domain.Invalid("amount must not be zero")
	}
	if amount > domain.MaxQuantity || amount < -domain.MaxQuantity {
		return 0, domain.Invalid("amount %d out of range", amount)
	}

	var level domain.StockLevel
	err = l.run(ctx, "ledger.apply_delta", func(ctx context.Context, tx port.Tx) error {
		locked, err := l.lockItems(ctx, tx, []int64{itemID})
		if err != nil {
			return err
		}
		rec, err := l.audit.openRecord(ctx, tx, domain.RecordAdjustment, actor, note)
		if err != nil {
			return err
		}
		level, err = l.applyLocked(ctx, tx, rec, locked[itemID], amount)
		return err
	})
	if err != nil {
		return 0, err
	}

	l.publish(ctx, []domain.StockLevel{level})
	l.log.WithFields(logrus.Fields{
		"op":       "ledger.apply_delta",
		"actor":    actor.SubjectID,
		"item_id":  itemID,
		"amount":   amount,
		"quantity": level.Quantity,
	}).Info("stock adjusted")
	return level.Quantity, nil
}

// ApplyBulkDelta sets several items to absolute quantities under one record.
func (l *StockLedger) ApplyBulkDelta(ctx context.Context, actor domain.Actor, lines []domain.BulkLine, note string) (int, error) {
	if err := actor.Validate(); err != nil {
		return 0, err
	}
	note, err := domain.CheckNote(note)
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, domain.Invalid("no items provided")
	}
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]bool, len(lines))
	for i, line := range lines {
		if line.ItemID <= 0 {
			return 0, domain.Invalid("line %d: item id must be positive", i)
		}
		if seen[line.ItemID] {
			return 0, domain.Invalid("line %d: item %d listed twice", i, line.ItemID)
		}
		seen[line.ItemID] = true
		if err := domain.CheckQuantity(line.NewQuantity); err != nil {
			return 0, fmt.Errorf("line %d: %w", i, err)
		}
		ids = append(ids, line.ItemID)
	}

	committed := make([]domain.StockLevel, 0, len(lines))
	err = l.run(ctx, "ledger.apply_bulk_delta", func(ctx context.Context, tx port.Tx) error {
		locked, err := l.lockItems(ctx, tx, ids)
		if err != nil {
			return err
		}
		rec, err := l.audit.openRecord(ctx, tx, domain.RecordBulkUpdate, actor, note)
		if err != nil {
			return err
		}
		for _, line := range lines {
			item := locked[line.ItemID]
			level, err := l.applyLocked(ctx, tx, rec, item, line.NewQuantity-item.Quantity)
			if err != nil {
				return err
			}
			committed = append(committed, level)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	l.publish(ctx, committed)
	l.log.WithFields(logrus.Fields{
		"op":    "ledger.apply_bulk_delta",
		"actor": actor.SubjectID,
		"items": len(lines),
	}).Info("stock bulk updated")
	return len(lines), nil
}

// GetItem reads one item without locking it.
func (l *StockLedger) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	return l.db.GetItem(ctx, itemID)
}

// ListItems returns items whose name contains query, ordered by name.
func (l *StockLedger) ListItems(ctx context.Context, query string) ([]domain.Item, error) {
	return l.db.ListItems(ctx, strings.TrimSpace(query))
}

// Stock returns the last committed quantity of an item, served from the cache
// when it has one.
func (l *StockLedger) Stock(ctx context.Context, itemID int64) (int, error) {
	if l.cache != nil {
		qty, ok, err := l.cache.GetStock(ctx, itemID)
		if err == nil && ok {
			return qty, nil
		}
		if err != nil {
			l.log.WithFields(logrus.Fields{"item_id": itemID}).WithError(err).Warn("stock cache read failed")
		}
	}
	item, err := l.db.GetItem(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return item.Quantity, nil
}

// lockItems locks every id in ascending order and fails if any is missing.
func (l *StockLedger) lockItems(ctx context.Context, tx port.Tx, ids []int64) (map[int64]*domain.Item, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	rows, err := tx.LockItems(ctx, sorted)
	if err != nil {
		return nil, fmt.Errorf("lock items: %w", err)
	}
	locked := make(map[int64]*domain.Item, len(rows))
	for i := range rows {
		locked[rows[i].ID] = &rows[i]
	}
	for _, id := range sorted {
		if _, ok := locked[id]; !ok {
			return nil, domain.Missing("item", id)
		}
	}
	return locked, nil
}

// applyLocked writes one delta to an item already locked by this transaction
// and appends its ledger line to rec. item is updated in place and the new
// level is versioned by the ledger line.
func (l *StockLedger) applyLocked(ctx context.Context, tx port.Tx, rec *domain.TransactionRecord, item *domain.Item, delta int) (domain.StockLevel, error) {
	next := item.Quantity + delta
	if next < 0 {
		return domain.StockLevel{}, fmt.Errorf("%w: item %d has %d, change %d", domain.ErrNegativeStock, item.ID, item.Quantity, delta)
	}
	if next > domain.MaxQuantity {
		return domain.StockLevel{}, domain.Invalid("item %d would exceed %d units", item.ID, domain.MaxQuantity)
	}
	now := l.now()
	if err := tx.SetItemQuantity(ctx, item.ID, next, now); err != nil {
		return domain.StockLevel{}, fmt.Errorf("update item %d: %w", item.ID, err)
	}
	item.Quantity = next
	item.UpdatedAt = now
	lineID, err := l.audit.appendLine(ctx, tx, rec, *item, delta)
	if err != nil {
		return domain.StockLevel{}, err
	}
	return domain.StockLevel{ItemID: item.ID, Quantity: next, Version: lineID}, nil
}
