package service

import (
	"context"
	"errors"
	"testing"

	"github.com/elixirhk/stockroom/internal/core/domain"
)

func withdraw(t *testing.T, core *Core, lines ...domain.ItemAmount) *domain.WithdrawalSlip {
	t.Helper()
	ctx := context.Background()
	id, err := core.Withdrawals.CreateWithdrawal(ctx, housekeeper, lines, "")
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	slip, err := core.Withdrawals.Get(ctx, id)
	if err != nil {
		t.Fatalf("get slip: %v", err)
	}
	return slip
}

func checkLineInvariant(t *testing.T, lines []domain.WithdrawalLine) {
	t.Helper()
	for _, l := range lines {
		if l.AmountReturned+l.AmountOutstanding > l.AmountWithdrawn || l.Consumed() < 0 {
			t.Errorf("line %d returned+outstanding exceeds withdrawn: %+v", l.ID, l)
		}
	}
}

// Scenario: return all 4 of the Mop slip.
func TestProcessReturn_FullReturnClosesSlip(t *testing.T) {
	core, db := newTestCore()
	ctx := context.Background()
	mop := db.seedItem("Mop", 10)
	slip := withdraw(t, core, domain.ItemAmount{ItemID: mop, Amount: 4})

	res, err := core.Returns.ProcessReturn(ctx, housekeeper, slip.ID, []domain.ReturnLine{{LineID: slip.Lines[0].ID, Amount: 4}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Closed || res.Outstanding != 0 {
		t.Errorf("expected closed slip, got %+v", res)
	}
	if db.quantity(mop) != 10 {
		t.Errorf("expected 10, got %d", db.quantity(mop))
	}

	got, _ := core.Withdrawals.Get(ctx, slip.ID)
	if !got.Finished || got.FinishedAt == nil || got.Lines[0].AmountOutstanding != 0 || got.Lines[0].AmountReturned != 4 {
		t.Errorf("unexpected slip after return: %+v", got)
	}
	checkLineInvariant(t, got.Lines)
}

func TestProcessReturn_Partial(t *testing.T) {
	core, db := newTestCore()
	ctx := context.Background()
	soap := db.seedItem("Soap", 10)
	towel := db.seedItem("Towel", 10)
	slip := withdraw(t, core, domain.ItemAmount{ItemID: soap, Amount: 4}, domain.ItemAmount{ItemID: towel, Amount: 2})

	res, err := core.Returns.ProcessReturn(ctx, housekeeper, slip.ID, []domain.ReturnLine{{LineID: slip.Lines[0].ID, Amount: 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Closed || res.Outstanding != 5 {
		t.Errorf("expected open slip with 5 outstanding, got %+v", res)
	}
	if db.quantity(soap) != 7 {
		t.Errorf("expected soap 7, got %d", db.quantity(soap))
	}
	checkLineInvariant(t, res.Lines)
}

func TestProcessReturn_ZeroDeclaresConsumed(t *testing.T) {
	core, db := newTestCore()
	ctx := context.Background()
	soap := db.seedItem("Soap", 10)
	slip := withdraw(t, core, domain.ItemAmount{ItemID: soap, Amount: 4})
	lineID := slip.Lines[0].ID

	if _, err := core.Returns.ProcessReturn(ctx, housekeeper, slip.ID, []domain.ReturnLine{{LineID: lineID, Amount: 1}}); err != nil {
		t.Fatalf("partial return: %v", err)
	}
	records := db.recordCount()

	res, err := core.Returns.ProcessReturn(ctx, housekeeper, slip.ID, []domain.ReturnLine{{LineID: lineID, Amount: 0}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Closed {
		t.Errorf("expected slip to close, got %+v", res)
	}
	l := res.Lines[0]
	if l.AmountReturned != 1 || l.Consumed() != 3 || l.AmountOutstanding != 0 {
		t.Errorf("unexpected line: %+v", l)
	}
	if db.quantity(soap) != 7 {
		t.Errorf("consumed units must not restock, got %d", db.quantity(soap))
	}
	if db.recordCount() != records {
		t.Errorf("a pure consumption writes no ledger record, got %d new", db.recordCount()-records)
	}
	checkLineInvariant(t, res.Lines)
}

func TestProcessReturn_FinishedSlipRejected(t *testing.T) {
	core, db := newTestCore()
	ctx := context.Background()
	mop := db.seedItem("Mop", 10)
	slip := withdraw(t, core, domain.ItemAmount{ItemID: mop, Amount: 4})
	lines := []domain.ReturnLine{{LineID: slip.Lines[0].ID, Amount: 4}}

	if _, err := core.Returns.ProcessReturn(ctx, housekeeper, slip.ID, lines); err != nil {
		t.Fatalf("first return: %v", err)
	}
	_, err := core.Returns.ProcessReturn(ctx, housekeeper, slip.ID, []domain.ReturnLine{{LineID: slip.Lines[0].ID, Amount: 0}})
	if !errors.Is(err, domain.ErrSlipFinished) {
		t.Errorf("expected ErrSlipFinished, got %v", err)
	}
	if db.quantity(mop) != 10 {
		t.Errorf("expected 10, got %d", db.quantity(mop))
	}
}

func TestProcessReturn_ExceedsOutstanding(t *testing.T) {
	core, db := newTestCore()
	mop := db.seedItem("Mop", 10)
	slip := withdraw(t, core, domain.ItemAmount{ItemID: mop, Amount: 4})

	_, err := core.Returns.ProcessReturn(context.Background(), housekeeper, slip.ID, []domain.ReturnLine{{LineID: slip.Lines[0].ID, Amount: 5}})
	if !errors.Is(err, domain.ErrReturnExceedsOutstanding) || domain.KindOf(err) != domain.KindConflict {
		t.Fatalf("expected ErrReturnExceedsOutstanding, got %v", err)
	}
	if db.quantity(mop) != 6 {
		t.Errorf("expected 6, got %d", db.quantity(mop))
	}
}

func TestProcessReturn_AllOrNothing(t *testing.T) {
	core, db := newTestCore()
	ctx := context.Background()
	soap := db.seedItem("Soap", 10)
	towel := db.seedItem("Towel", 10)
	slip := withdraw(t, core, domain.ItemAmount{ItemID: soap, Amount: 4}, domain.ItemAmount{ItemID: towel, Amount: 2})

	_, err := core.Returns.ProcessReturn(ctx, housekeeper, slip.ID, []domain.ReturnLine{
		{LineID: slip.Lines[0].ID, Amount: 4},
		{LineID: slip.Lines[1].ID, Amount: 3},
	})
	if !errors.Is(err, domain.ErrReturnExceedsOutstanding) {
		t.Fatalf("expected ErrReturnExceedsOutstanding, got %v", err)
	}
	got, _ := core.Withdrawals.Get(ctx, slip.ID)
	if got.Lines[0].AmountOutstanding != 4 || db.quantity(soap) != 6 {
		t.Errorf("expected first line untouched, got %+v soap=%d", got.Lines[0], db.quantity(soap))
	}
}

func TestProcessReturn_RollsBackOnWriteFailure(t *testing.T) {
	core, db := newTestCore()
	ctx := context.Background()
	soap := db.seedItem("Soap", 10)
	slip := withdraw(t, core, domain.ItemAmount{ItemID: soap, Amount: 4})
	db.failOn = "FinishSlip"

	_, err := core.Returns.ProcessReturn(ctx, housekeeper, slip.ID, []domain.ReturnLine{{LineID: slip.Lines[0].ID, Amount: 4}})
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected injected failure, got %v", err)
	}
	db.failOn = ""
	got, _ := core.Withdrawals.Get(ctx, slip.ID)
	if got.Finished || got.Lines[0].AmountOutstanding != 4 || db.quantity(soap) != 6 {
		t.Errorf("expected full rollback, got %+v soap=%d", got, db.quantity(soap))
	}
}

func TestProcessReturn_Validation(t *testing.T) {
	core, db := newTestCore()
	ctx := context.Background()
	soap := db.seedItem("Soap", 10)
	slip := withdraw(t, core, domain.ItemAmount{ItemID: soap, Amount: 4})
	lineID := slip.Lines[0].ID

	cases := map[string][]domain.ReturnLine{
		"empty":     nil,
		"negative":  {{LineID: lineID, Amount: -1}},
		"duplicate": {{LineID: lineID, Amount: 1}, {LineID: lineID, Amount: 1}},
		"bad id":    {{LineID: 0, Amount: 1}},
	}
	for name, lines := range cases {
		_, err := core.Returns.ProcessReturn(ctx, housekeeper, slip.ID, lines)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", name, err)
		}
	}

	_, err := core.Returns.ProcessReturn(ctx, housekeeper, 999, []domain.ReturnLine{{LineID: lineID, Amount: 1}})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown slip, got %v", err)
	}

	other := withdraw(t, core, domain.ItemAmount{ItemID: soap, Amount: 1})
	_, err = core.Returns.ProcessReturn(ctx, housekeeper, slip.ID, []domain.ReturnLine{{LineID: other.Lines[0].ID, Amount: 1}})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for a line of another slip, got %v", err)
	}
}

func TestConservation_AcrossWithdrawAndReturn(t *testing.T) {
	core, db := newTestCore()
	ctx := context.Background()
	item, err := core.Ledger.RegisterItem(ctx, housekeeper, "Gloves", 30)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	slip := withdraw(t, core, domain.ItemAmount{ItemID: item.ID, Amount: 12})
	core.Returns.ProcessReturn(ctx, housekeeper, slip.ID, []domain.ReturnLine{{LineID: slip.Lines[0].ID, Amount: 5}})
	core.Ledger.ApplyDelta(ctx, housekeeper, item.ID, 3, "found a box")
	core.Returns.ProcessReturn(ctx, housekeeper, slip.ID, []domain.ReturnLine{{LineID: slip.Lines[0].ID, Amount: 0}})

	if db.quantity(item.ID) != 26 {
		t.Errorf("expected 26, got %d", db.quantity(item.ID))
	}
	// registered at zero, so the lines alone must add up to the quantity
	if db.lineSum(item.ID) != db.quantity(item.ID) {
		t.Errorf("conservation broken: lines %d, quantity %d", db.lineSum(item.ID), db.quantity(item.ID))
	}
}
