package port

import (
	"context"
	"time"

	"github.com/elixirhk/stockroom/internal/core/domain"
)

// Database is the persistence engine behind the core. Every mutation runs
// inside exactly one WithinTx call.
type Database interface {
	Reader

	// WithinTx runs fn in a single transaction. The transaction commits only
	// if fn returns nil; any error rolls back every write made through tx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write side of an open transaction. Lock* methods take exclusive
// row locks held until commit or rollback.
type Tx interface {
	InsertItem(ctx context.Context, item *domain.Item) error
	// FindItems reads items without locking them.
	FindItems(ctx context.Context, ids []int64) ([]domain.Item, error)
	// LockItems locks the rows in ascending id order and returns the ones
	// that exist, in that order.
	LockItems(ctx context.Context, ids []int64) ([]domain.Item, error)
	SetItemQuantity(ctx context.Context, itemID int64, quantity int, at time.Time) error

	InsertRecord(ctx context.Context, rec *domain.TransactionRecord) error
	InsertRecordLine(ctx context.Context, line *domain.TransactionLine) error

	InsertSlip(ctx context.Context, slip *domain.WithdrawalSlip) error
	InsertWithdrawalLine(ctx context.Context, line *domain.WithdrawalLine) error
	// LockSlip locks the slip header and returns it with all its lines.
	LockSlip(ctx context.Context, slipID int64) (*domain.WithdrawalSlip, error)
	UpdateWithdrawalLine(ctx context.Context, line domain.WithdrawalLine) error
	FinishSlip(ctx context.Context, slipID int64, at time.Time) error

	InsertRequest(ctx context.Context, req *domain.Request) error
	InsertRequestLine(ctx context.Context, line *domain.RequestLine) error
	// LockRequest locks the request header and returns it with all its lines.
	LockRequest(ctx context.Context, requestID int64) (*domain.Request, error)
	UpdateRequest(ctx context.Context, req domain.Request) error
	InsertRequestRecord(ctx context.Context, rec *domain.RequestTransactionRecord) error
}

// Reader serves the read paths. Reads take no locks.
type Reader interface {
	GetItem(ctx context.Context, itemID int64) (*domain.Item, error)
	ListItems(ctx context.Context, query string) ([]domain.Item, error)

	GetSlip(ctx context.Context, slipID int64) (*domain.WithdrawalSlip, error)
	ListSlips(ctx context.Context, requester, query string) ([]domain.WithdrawalSlip, error)

	GetRequest(ctx context.Context, requestID int64) (*domain.Request, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]domain.Request, error)

	GetRecord(ctx context.Context, recordID int64) (*domain.TransactionRecord, error)
	ListRequestRecords(ctx context.Context, requestID int64) ([]domain.RequestTransactionRecord, error)
	ItemLines(ctx context.Context, itemID int64) ([]domain.TransactionLine, error)
	History(ctx context.Context, actor string) ([]domain.HistoryEntry, error)
}

// RequestFilter narrows ListRequests. Empty fields do not filter.
type RequestFilter struct {
	Approver  string
	Purchaser string
	Status    domain.RequestStatus
}
