package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/elixirhk/stockroom/internal/core/domain"
)

// Scenario: Mop = 10, withdraw 4.
func TestCreateWithdrawal_Success(t *testing.T) {
	core, db := newTestCore()
	ctx := context.Background()
	mop := db.seedItem("Mop", 10)

	slipID, err := core.Withdrawals.CreateWithdrawal(ctx, housekeeper, []domain.ItemAmount{{ItemID: mop, Amount: 4}}, "floor 3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.quantity(mop) != 6 {
		t.Errorf("expected 6, got %d", db.quantity(mop))
	}

	slip, err := core.Withdrawals.Get(ctx, slipID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if slip.Requester != "hk-1" || slip.Finished || slip.Note != "floor 3" {
		t.Errorf("unexpected slip: %+v", slip)
	}
	if len(slip.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(slip.Lines))
	}
	l := slip.Lines[0]
	if l.AmountWithdrawn != 4 || l.AmountOutstanding != 4 || l.AmountReturned != 0 {
		t.Errorf("unexpected line: %+v", l)
	}

	if db.recordCount() != 1 || db.state.records[0].Kind != domain.RecordWithdrawal {
		t.Errorf("expected one withdrawal record, got %+v", db.state.records)
	}
	if db.lineSum(mop) != -4 {
		t.Errorf("expected ledger delta -4, got %d", db.lineSum(mop))
	}
}

func TestCreateWithdrawal_MultipleLinesOneRecord(t *testing.T) {
	core, db := newTestCore()
	ctx := context.Background()
	soap := db.seedItem("Soap", 10)
	towel := db.seedItem("Towel", 5)

	_, err := core.Withdrawals.CreateWithdrawal(ctx, housekeeper, []domain.ItemAmount{
		{ItemID: towel, Amount: 5},
		{ItemID: soap, Amount: 2},
	}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.quantity(soap) != 8 || db.quantity(towel) != 0 {
		t.Errorf("unexpected quantities soap=%d towel=%d", db.quantity(soap), db.quantity(towel))
	}
	rec, _ := core.Audit.Record(ctx, db.state.records[0].ID)
	if db.recordCount() != 1 || len(rec.Lines) != 2 {
		t.Errorf("expected one record with two lines, got %d records, %+v", db.recordCount(), rec)
	}
}

// Scenario: qty 3, withdraw 5.
func TestCreateWithdrawal_InsufficientStock(t *testing.T) {
	core, db := newTestCore()
	mop := db.seedItem("Mop", 3)

	_, err := core.Withdrawals.CreateWithdrawal(context.Background(), housekeeper, []domain.ItemAmount{{ItemID: mop, Amount: 5}}, "")
	if !errors.Is(err, domain.ErrInsufficientStock) || domain.KindOf(err) != domain.KindConflict {
		t.Fatalf("expected ErrInsufficientStock conflict, got %v", err)
	}
	if db.quantity(mop) != 3 {
		t.Errorf("expected qty unchanged at 3, got %d", db.quantity(mop))
	}
}

func TestCreateWithdrawal_NoPartialLines(t *testing.T) {
	core, db := newTestCore()
	soap := db.seedItem("Soap", 10)
	towel := db.seedItem("Towel", 1)

	_, err := core.Withdrawals.CreateWithdrawal(context.Background(), housekeeper, []domain.ItemAmount{
		{ItemID: soap, Amount: 2},
		{ItemID: towel, Amount: 2},
	}, "")
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if db.quantity(soap) != 10 || db.recordCount() != 0 || len(db.state.slips) != 0 {
		t.Errorf("expected full rollback, soap=%d records=%d slips=%d", db.quantity(soap), db.recordCount(), len(db.state.slips))
	}
}

func TestCreateWithdrawal_Validation(t *testing.T) {
	core, db := newTestCore()
	ctx := context.Background()
	soap := db.seedItem("Soap", 10)

	cases := map[string][]domain.ItemAmount{
		"empty":     nil,
		"zero":      {{ItemID: soap, Amount: 0}},
		"negative":  {{ItemID: soap, Amount: -1}},
		"duplicate": {{ItemID: soap, Amount: 1}, {ItemID: soap, Amount: 1}},
		"bad id":    {{ItemID: -3, Amount: 1}},
	}
	for name, lines := range cases {
		_, err := core.Withdrawals.CreateWithdrawal(ctx, housekeeper, lines, "")
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%s: expected ErrValidation, got %v", name, err)
		}
	}

	_, err := core.Withdrawals.CreateWithdrawal(ctx, housekeeper, []domain.ItemAmount{{ItemID: 404, Amount: 1}}, "")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown item, got %v", err)
	}
}

func TestCreateWithdrawal_Concurrent(t *testing.T) {
	core, db := newTestCore()
	initialStock := 20
	totalRequests := 50
	mop := db.seedItem("Mop", initialStock)

	var successCount, conflictCount atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := core.Withdrawals.CreateWithdrawal(context.Background(), housekeeper, []domain.ItemAmount{{ItemID: mop, Amount: 1}}, "")
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				conflictCount.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}
	if conflictCount.Load() != int32(totalRequests-initialStock) {
		t.Errorf("expected %d conflicts, got %d", totalRequests-initialStock, conflictCount.Load())
	}
	if db.quantity(mop) != 0 {
		t.Errorf("expected stock 0, got %d", db.quantity(mop))
	}
	if initialStock+db.lineSum(mop) != db.quantity(mop) {
		t.Errorf("conservation broken: %d + %d != %d", initialStock, db.lineSum(mop), db.quantity(mop))
	}
}

func TestListWithdrawals(t *testing.T) {
	core, db := newTestCore()
	ctx := context.Background()
	soap := db.seedItem("Soap", 10)

	first, _ := core.Withdrawals.CreateWithdrawal(ctx, housekeeper, []domain.ItemAmount{{ItemID: soap, Amount: 1}}, "")
	second, _ := core.Withdrawals.CreateWithdrawal(ctx, housekeeper, []domain.ItemAmount{{ItemID: soap, Amount: 1}}, "")
	core.Withdrawals.CreateWithdrawal(ctx, admin, []domain.ItemAmount{{ItemID: soap, Amount: 1}}, "")

	slips, err := core.Withdrawals.List(ctx, "hk-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(slips) != 2 || slips[0].ID != second || slips[1].ID != first {
		t.Errorf("expected newest first [%d %d], got %+v", second, first, slips)
	}

	if _, err := core.Withdrawals.List(ctx, "", ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation without requester, got %v", err)
	}
}
