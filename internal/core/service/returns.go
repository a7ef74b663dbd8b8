package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/elixirhk/stockroom/internal/core/domain"
	"github.com/elixirhk/stockroom/internal/port"
)

// ReturnProcessor settles withdrawal lines and closes slips once nothing is
// outstanding.
type ReturnProcessor struct {
	*base
	ledger *StockLedger
	audit  *AuditTrail
}

// ProcessReturn applies returns against the lines of an open slip. A zero
// amount declares the rest of a line consumed. The slip closes in the same
// transaction when no line has anything outstanding.
func (p *ReturnProcessor) ProcessReturn(ctx context.Context, actor domain.Actor, slipID int64, lines []domain.ReturnLine) (*domain.ReturnResult, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, domain.Invalid("no items to return")
	}
	seen := make(map[int64]bool, len(lines))
	for i, l := range lines {
		if l.LineID <= 0 {
			return nil, domain.Invalid("line %d: line id must be positive", i)
		}
		if seen[l.LineID] {
			return nil, domain.Invalid("line %d: withdrawal line %d listed twice", i, l.LineID)
		}
		seen[l.LineID] = true
		if l.Amount < 0 {
			return nil, domain.Invalid("line %d: amount must not be negative", i)
		}
	}

	result := &domain.ReturnResult{SlipID: slipID}
	var committed []domain.StockLevel
	err := p.run(ctx, "return.process", func(ctx context.Context, tx port.Tx) error {
		slip, err := tx.LockSlip(ctx, slipID)
		if err != nil {
			return fmt.Errorf("lock slip: %w", err)
		}
		if slip.Finished {
			return fmt.Errorf("%w: slip %d", domain.ErrSlipFinished, slip.ID)
		}

		byID := make(map[int64]*domain.WithdrawalLine, len(slip.Lines))
		for i := range slip.Lines {
			byID[slip.Lines[i].ID] = &slip.Lines[i]
		}
		var restock []int64
		for _, r := range lines {
			wl, ok := byID[r.LineID]
			if !ok {
				return fmt.Errorf("%w: withdrawal line %d on slip %d", domain.ErrNotFound, r.LineID, slip.ID)
			}
			if r.Amount > wl.AmountOutstanding {
				return fmt.Errorf("%w: line %d has %d outstanding, got %d", domain.ErrReturnExceedsOutstanding, wl.ID, wl.AmountOutstanding, r.Amount)
			}
			if r.Amount > 0 {
				restock = append(restock, wl.ItemID)
			}
		}

		var (
			locked map[int64]*domain.Item
			rec    *domain.TransactionRecord
		)
		if len(restock) > 0 {
			if locked, err = p.ledger.lockItems(ctx, tx, restock); err != nil {
				return err
			}
			note := fmt.Sprintf("return for slip #%d", slip.ID)
			if rec, err = p.audit.openRecord(ctx, tx, domain.RecordReturn, actor, note); err != nil {
				return err
			}
		}

		for _, r := range lines {
			wl := byID[r.LineID]
			if r.Amount > 0 {
				level, err := p.ledger.applyLocked(ctx, tx, rec, locked[wl.ItemID], r.Amount)
				if err != nil {
					return err
				}
				committed = append(committed, level)
			}
			if err := wl.Settle(r.Amount); err != nil {
				return err
			}
			if err := tx.UpdateWithdrawalLine(ctx, *wl); err != nil {
				return fmt.Errorf("update withdrawal line %d: %w", wl.ID, err)
			}
		}

		outstanding := 0
		for _, wl := range slip.Lines {
			outstanding += wl.AmountOutstanding
		}
		if outstanding == 0 {
			if err := tx.FinishSlip(ctx, slip.ID, p.now()); err != nil {
				return fmt.Errorf("finish slip: %w", err)
			}
		}
		result.Closed = outstanding == 0
		result.Outstanding = outstanding
		result.Lines = slip.Lines
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.publish(ctx, committed)
	p.log.WithFields(logrus.Fields{
		"op":      "return.process",
		"actor":   actor.SubjectID,
		"slip_id": slipID,
		"closed":  result.Closed,
	}).Info("return processed")
	return result, nil
}
