package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/elixirhk/stockroom/internal/core/domain"
	"github.com/elixirhk/stockroom/internal/port"
)

const withdrawalNote = "withdrawal"

// WithdrawalManager opens withdrawal slips and takes their stock out of the
// ledger.
type WithdrawalManager struct {
	*base
	ledger *StockLedger
	audit  *AuditTrail
}

// CreateWithdrawal opens a slip for lines and decrements stock for each of
// them. Either every line is applied or none is.
func (m *WithdrawalManager) CreateWithdrawal(ctx context.Context, actor domain.Actor, lines []domain.ItemAmount, note string) (int64, error) {
	if err := actor.Validate(); err != nil {
		return 0, err
	}
	ids, err := checkItemAmounts(lines, domain.MaxQuantity)
	if err != nil {
		return 0, err
	}

	slip := &domain.WithdrawalSlip{
		Requester: actor.SubjectID,
		Note:      strings.TrimSpace(note),
	}
	committed := make([]domain.StockLevel, 0, len(lines))
	err = m.run(ctx, "withdrawal.create", func(ctx context.Context, tx port.Tx) error {
		locked, err := m.ledger.lockItems(ctx, tx, ids)
		if err != nil {
			return err
		}

		slip.CreatedAt = m.now()
		if err := tx.InsertSlip(ctx, slip); err != nil {
			return fmt.Errorf("insert slip: %w", err)
		}
		rec, err := m.audit.openRecord(ctx, tx, domain.RecordWithdrawal, actor, withdrawalNote)
		if err != nil {
			return err
		}

		for _, l := range lines {
			item := locked[l.ItemID]
			if item.Quantity < l.Amount {
				return fmt.Errorf("%w: item %d has %d, need %d", domain.ErrInsufficientStock, item.ID, item.Quantity, l.Amount)
			}
			level, err := m.ledger.applyLocked(ctx, tx, rec, item, -l.Amount)
			if err != nil {
				return err
			}
			line := domain.WithdrawalLine{
				SlipID:            slip.ID,
				ItemID:            item.ID,
				ItemName:          item.Name,
				AmountWithdrawn:   l.Amount,
				AmountOutstanding: l.Amount,
			}
			if err := tx.InsertWithdrawalLine(ctx, &line); err != nil {
				return fmt.Errorf("insert withdrawal line: %w", err)
			}
			slip.Lines = append(slip.Lines, line)
			committed = append(committed, level)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.publish(ctx, committed)
	m.log.WithFields(logrus.Fields{
		"op":      "withdrawal.create",
		"actor":   actor.SubjectID,
		"slip_id": slip.ID,
		"lines":   len(lines),
	}).Info("withdrawal created")
	return slip.ID, nil
}

// Get returns a slip with its lines.
func (m *WithdrawalManager) Get(ctx context.Context, slipID int64) (*domain.WithdrawalSlip, error) {
	return m.db.GetSlip(ctx, slipID)
}

// List returns the slips opened by requester, newest first. A non-empty query
// matches the slip number or the name of an item on the slip.
func (m *WithdrawalManager) List(ctx context.Context, requester, query string) ([]domain.WithdrawalSlip, error) {
	if requester == "" {
		return nil, domain.Invalid("requester is required")
	}
	return m.db.ListSlips(ctx, requester, strings.TrimSpace(query))
}

// checkItemAmounts validates item/amount lines and returns their item ids.
func checkItemAmounts(lines []domain.ItemAmount, maxAmount int) ([]int64, error) {
	if len(lines) == 0 {
		return nil, domain.Invalid("at least one line is required")
	}
	ids := make([]int64, 0, len(lines))
	seen := make(map[int64]bool, len(lines))
	for i, l := range lines {
		if l.ItemID <= 0 {
			return nil, domain.Invalid("line %d: item id must be positive", i)
		}
		if seen[l.ItemID] {
			return nil, domain.Invalid("line %d: item %d listed twice", i, l.ItemID)
		}
		seen[l.ItemID] = true
		if l.Amount <= 0 || l.Amount > maxAmount {
			return nil, domain.Invalid("line %d: amount must be between 1 and %d", i, maxAmount)
		}
		ids = append(ids, l.ItemID)
	}
	return ids, nil
}
