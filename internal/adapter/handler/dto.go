package handler

import (
	"time"

	"github.com/elixirhk/stockroom/internal/core/domain"
)

// Request bodies. The binding tags only reject malformed input; business
// rules are enforced by the core.

type RegisterItemRequest struct {
	Name     string `json:"name" binding:"required"`
	Quantity int    `json:"quantity" binding:"gte=0"`
}

type AdjustStockRequest struct {
	Amount int    `json:"amount"`
	Note   string `json:"note" binding:"required"`
}

type BulkLineRequest struct {
	ItemID      int64 `json:"item_id" binding:"required"`
	NewQuantity int   `json:"new_quantity"`
}

type BulkUpdateRequest struct {
	Note  string            `json:"note" binding:"required"`
	Items []BulkLineRequest `json:"items" binding:"required,min=1,dive"`
}

type ItemAmountRequest struct {
	ItemID int64 `json:"item_id" binding:"required"`
	Amount int   `json:"amount"`
}

type CreateWithdrawalRequest struct {
	Note           string              `json:"note"`
	Items          []ItemAmountRequest `json:"items" binding:"required,min=1,dive"`
	IdempotencyKey string              `json:"idempotency_key"`
}

// ReturnLineRequest.Amount is a pointer so a missing amount is rejected
// instead of binding to zero, which would settle the line as consumed.
type ReturnLineRequest struct {
	LineID int64 `json:"line_id" binding:"required"`
	Amount *int  `json:"amount" binding:"required,gte=0"`
}

type ProcessReturnRequest struct {
	Items          []ReturnLineRequest `json:"items" binding:"required,min=1,dive"`
	IdempotencyKey string              `json:"idempotency_key"`
}

type CreateRequestRequest struct {
	Approver       string              `json:"approver"`
	Items          []ItemAmountRequest `json:"items" binding:"required,min=1,dive"`
	IdempotencyKey string              `json:"idempotency_key"`
}

type TransitionRequest struct {
	Action    string `json:"action" binding:"required"`
	Purchaser string `json:"purchaser"`
}

func itemAmounts(in []ItemAmountRequest) []domain.ItemAmount {
	out := make([]domain.ItemAmount, len(in))
	for i, l := range in {
		out[i] = domain.ItemAmount{ItemID: l.ItemID, Amount: l.Amount}
	}
	return out
}

func bulkLines(in []BulkLineRequest) []domain.BulkLine {
	out := make([]domain.BulkLine, len(in))
	for i, l := range in {
		out[i] = domain.BulkLine{ItemID: l.ItemID, NewQuantity: l.NewQuantity}
	}
	return out
}

func returnLines(in []ReturnLineRequest) ([]domain.ReturnLine, error) {
	out := make([]domain.ReturnLine, len(in))
	for i, l := range in {
		if l.Amount == nil {
			return nil, domain.Invalid("return line %d: amount is required", l.LineID)
		}
		out[i] = domain.ReturnLine{LineID: l.LineID, Amount: *l.Amount}
	}
	return out, nil
}

// Response bodies.

type ItemResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

type StockResponse struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

type WithdrawalLineResponse struct {
	ID                int64  `json:"id"`
	ItemID            int64  `json:"item_id"`
	ItemName          string `json:"item_name"`
	AmountWithdrawn   int    `json:"amount_withdrawn"`
	AmountOutstanding int    `json:"amount_outstanding"`
	AmountReturned    int    `json:"amount_returned"`
	AmountConsumed    int    `json:"amount_consumed"`
}

type WithdrawalSlipResponse struct {
	ID         int64                    `json:"id"`
	Requester  string                   `json:"requester"`
	Note       string                   `json:"note"`
	Finished   bool                     `json:"finished"`
	CreatedAt  time.Time                `json:"created_at"`
	FinishedAt *time.Time               `json:"finished_at,omitempty"`
	Lines      []WithdrawalLineResponse `json:"lines,omitempty"`
}

type ReturnResponse struct {
	SlipID      int64                    `json:"slip_id"`
	Closed      bool                     `json:"closed"`
	Outstanding int                      `json:"outstanding"`
	Lines       []WithdrawalLineResponse `json:"lines"`
}

type RequestLineResponse struct {
	ID              int64  `json:"id"`
	ItemID          int64  `json:"item_id"`
	ItemName        string `json:"item_name"`
	AmountRequested int    `json:"amount_requested"`
}

type RequestResponse struct {
	ID           int64                 `json:"id"`
	Status       string                `json:"status"`
	Requester    string                `json:"requester"`
	Approver     string                `json:"approver,omitempty"`
	Purchaser    string                `json:"purchaser,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	LastModified time.Time             `json:"last_modified"`
	Lines        []RequestLineResponse `json:"lines,omitempty"`
}

type TransactionLineResponse struct {
	ID               int64  `json:"id"`
	RecordID         int64  `json:"transaction_id"`
	ItemID           int64  `json:"item_id"`
	ItemName         string `json:"item_name"`
	AmountChanged    int    `json:"amount_changed"`
	TotalAfterChange int    `json:"total_after_change"`
}

type TransactionResponse struct {
	ID        int64                     `json:"id"`
	Kind      string                    `json:"kind"`
	Note      string                    `json:"note"`
	Actor     string                    `json:"actor"`
	CreatedAt time.Time                 `json:"created_at"`
	Lines     []TransactionLineResponse `json:"lines"`
}

type RequestTransactionResponse struct {
	ID        int64     `json:"id"`
	RequestID int64     `json:"request_id"`
	Note      string    `json:"note"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"created_at"`
}

type HistoryResponse struct {
	Source    string    `json:"source"`
	ID        int64     `json:"id"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

func toItem(it domain.Item) ItemResponse {
	return ItemResponse{ID: it.ID, Name: it.Name, Quantity: it.Quantity, UpdatedAt: it.UpdatedAt}
}

func toWithdrawalLines(lines []domain.WithdrawalLine) []WithdrawalLineResponse {
	out := make([]WithdrawalLineResponse, len(lines))
	for i, l := range lines {
		out[i] = WithdrawalLineResponse{
			ID:                l.ID,
			ItemID:            l.ItemID,
			ItemName:          l.ItemName,
			AmountWithdrawn:   l.AmountWithdrawn,
			AmountOutstanding: l.AmountOutstanding,
			AmountReturned:    l.AmountReturned,
			AmountConsumed:    l.Consumed(),
		}
	}
	return out
}

func toSlip(s domain.WithdrawalSlip) WithdrawalSlipResponse {
	return WithdrawalSlipResponse{
		ID:         s.ID,
		Requester:  s.Requester,
		Note:       s.Note,
		Finished:   s.Finished,
		CreatedAt:  s.CreatedAt,
		FinishedAt: s.FinishedAt,
		Lines:      toWithdrawalLines(s.Lines),
	}
}

func toReturn(r *domain.ReturnResult) ReturnResponse {
	return ReturnResponse{
		SlipID:      r.SlipID,
		Closed:      r.Closed,
		Outstanding: r.Outstanding,
		Lines:       toWithdrawalLines(r.Lines),
	}
}

func toRequest(r domain.Request) RequestResponse {
	lines := make([]RequestLineResponse, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = RequestLineResponse{ID: l.ID, ItemID: l.ItemID, ItemName: l.ItemName, AmountRequested: l.AmountRequested}
	}
	return RequestResponse{
		ID:           r.ID,
		Status:       string(r.Status),
		Requester:    r.Requester,
		Approver:     r.Approver,
		Purchaser:    r.Purchaser,
		CreatedAt:    r.CreatedAt,
		LastModified: r.LastModified,
		Lines:        lines,
	}
}

func toTransactionLines(lines []domain.TransactionLine) []TransactionLineResponse {
	out := make([]TransactionLineResponse, len(lines))
	for i, l := range lines {
		out[i] = TransactionLineResponse{
			ID:               l.ID,
			RecordID:         l.RecordID,
			ItemID:           l.ItemID,
			ItemName:         l.ItemName,
			AmountChanged:    l.AmountChanged,
			TotalAfterChange: l.TotalAfterChange,
		}
	}
	return out
}

func toTransaction(r domain.TransactionRecord) TransactionResponse {
	return TransactionResponse{
		ID:        r.ID,
		Kind:      string(r.Kind),
		Note:      r.Note,
		Actor:     r.Actor,
		CreatedAt: r.CreatedAt,
		Lines:     toTransactionLines(r.Lines),
	}
}
