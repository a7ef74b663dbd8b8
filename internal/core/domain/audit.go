package domain

import "time"

type RecordKind string

const (
	RecordAdjustment     RecordKind = "adjustment"
	RecordBulkUpdate     RecordKind = "bulk_update"
	RecordWithdrawal     RecordKind = "withdrawal"
	RecordReturn         RecordKind = "return"
	RecordRestock        RecordKind = "restock"
	RecordItemRegistered RecordKind = "item_registered"
)

// TransactionRecord groups the ledger lines written by one operation.
type TransactionRecord struct {
	ID        int64
	Kind      RecordKind
	Note      string
	Actor     string
	CreatedAt time.Time
	Lines     []TransactionLine
}

type TransactionLine struct {
	ID               int64
	RecordID         int64
	ItemID           int64
	ItemName         string
	AmountChanged    int
	TotalAfterChange int
}

// RequestTransactionRecord is the audit row of one request status change.
type RequestTransactionRecord struct {
	ID        int64
	RequestID int64
	Note      string
	Actor     string
	CreatedAt time.Time
}

type HistorySource string

const (
	HistoryStock   HistorySource = "transaction"
	HistoryRequest HistorySource = "request_transaction"
)

// HistoryEntry is one row of an actor's merged audit history.
type HistoryEntry struct {
	Source    HistorySource
	ID        int64
	Note      string
	CreatedAt time.Time
}
