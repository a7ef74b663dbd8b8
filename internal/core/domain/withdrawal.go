package domain

import "time"

type WithdrawalSlip struct {
	ID         int64
	Requester  string
	Note       string
	Finished   bool
	CreatedAt  time.Time
	FinishedAt *time.Time
	Lines      []WithdrawalLine
}

// WithdrawalLine tracks how much of one withdrawn item may still come back.
// Only outstanding and returned are stored. Whatever is neither was consumed.
type WithdrawalLine struct {
	ID                int64
	SlipID            int64
	ItemID            int64
	ItemName          string
	AmountWithdrawn   int
	AmountOutstanding int
	AmountReturned    int
}

// Consumed is the part of the withdrawal that will never come back.
func (l WithdrawalLine) Consumed() int {
	return l.AmountWithdrawn - l.AmountReturned - l.AmountOutstanding
}

// Settle applies a return of amount units. Zero declares the remainder consumed.
func (l *WithdrawalLine) Settle(amount int) error {
	if amount < 0 {
		return Invalid("return amount must not be negative")
	}
	if amount > l.AmountOutstanding {
		return ErrReturnExceedsOutstanding
	}
	if amount == 0 {
		l.AmountOutstanding = 0
		return nil
	}
	l.AmountOutstanding -= amount
	l.AmountReturned += amount
	return nil
}

// ItemAmount is one requested item/amount pair.
type ItemAmount struct {
	ItemID int64
	Amount int
}

type ReturnLine struct {
	LineID int64
	Amount int
}

type ReturnResult struct {
	SlipID      int64
	Closed      bool
	Outstanding int
	Lines       []WithdrawalLine
}
