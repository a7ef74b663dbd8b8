package service

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/elixirhk/stockroom/internal/core/domain"
	"github.com/elixirhk/stockroom/internal/port"
)

// memState is everything mockDB persists. It is copied on begin and restored
// on rollback.
type memState struct {
	nextID     int64
	items      map[int64]domain.Item
	slips      map[int64]domain.WithdrawalSlip
	wlines     map[int64]domain.WithdrawalLine
	requests   map[int64]domain.Request
	rlines     map[int64]domain.RequestLine
	records    []domain.TransactionRecord
	tlines     []domain.TransactionLine
	reqRecords []domain.RequestTransactionRecord
}

func (s memState) clone() memState {
	return memState{
		nextID:     s.nextID,
		items:      maps.Clone(s.items),
		slips:      maps.Clone(s.slips),
		wlines:     maps.Clone(s.wlines),
		requests:   maps.Clone(s.requests),
		rlines:     maps.Clone(s.rlines),
		records:    slices.Clone(s.records),
		tlines:     slices.Clone(s.tlines),
		reqRecords: slices.Clone(s.reqRecords),
	}
}

// Mock Database. Transactions are fully serialized by txMu, which gives the
// same exclusivity as row locks.
type mockDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	state memState

	// failOn makes the named Tx method return errInjected.
	failOn string
	// lockCalls records the ids passed to every LockItems call.
	lockCalls [][]int64
	txCount   int
}

var errInjected = errors.New("injected failure")

var _ port.Database = (*mockDB)(nil)

func newMockDB() *mockDB {
	return &mockDB{state: memState{
		items:    make(map[int64]domain.Item),
		slips:    make(map[int64]domain.WithdrawalSlip),
		wlines:   make(map[int64]domain.WithdrawalLine),
		requests: make(map[int64]domain.Request),
		rlines:   make(map[int64]domain.RequestLine),
	}}
}

func (m *mockDB) id() int64 {
	m.state.nextID++
	return m.state.nextID
}

// seedItem inserts an item directly, bypassing the ledger.
func (m *mockDB) seedItem(name string, qty int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.state.items[id] = domain.Item{ID: id, Name: name, Quantity: qty}
	return id
}

// seedRequest inserts a request in the given status with one line per item.
func (m *mockDB) seedRequest(status domain.RequestStatus, approver, purchaser string, lines map[int64]int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.state.requests[id] = domain.Request{ID: id, Status: status, Requester: "hk-1", Approver: approver, Purchaser: purchaser}
	itemIDs := slices.Sorted(maps.Keys(lines))
	for _, itemID := range itemIDs {
		lid := m.id()
		m.state.rlines[lid] = domain.RequestLine{ID: lid, RequestID: id, ItemID: itemID, ItemName: m.state.items[itemID].Name, AmountRequested: lines[itemID]}
	}
	return id
}

func (m *mockDB) quantity(itemID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.items[itemID].Quantity
}

func (m *mockDB) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.state.records)
}

func (m *mockDB) requestRecordCount(requestID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.state.reqRecords {
		if r.RequestID == requestID {
			n++
		}
	}
	return n
}

// lineSum is the sum of ledger deltas booked for an item.
func (m *mockDB) lineSum(itemID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := 0
	for _, l := range m.state.tlines {
		if l.ItemID == itemID {
			sum += l.AmountChanged
		}
	}
	return sum
}

func (m *mockDB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	snapshot := m.state.clone()
	m.txCount++
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(ctx, &mockTx{db: m}); err != nil {
		m.mu.Lock()
		m.state = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

type mockTx struct {
	db *mockDB
}

func (t *mockTx) fail(method string) error {
	if t.db.failOn == method {
		return fmt.Errorf("%s: %w", method, errInjected)
	}
	return nil
}

func (t *mockTx) InsertItem(ctx context.Context, item *domain.Item) error {
	if err := t.fail("InsertItem"); err != nil {
		return err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	for _, it := range t.db.state.items {
		if it.Name == item.Name {
			return fmt.Errorf("%w: %q", domain.ErrDuplicateItemName, item.Name)
		}
	}
	item.ID = t.db.id()
	item.Quantity = 0
	t.db.state.items[item.ID] = *item
	return nil
}

func (t *mockTx) FindItems(ctx context.Context, ids []int64) ([]domain.Item, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	var out []domain.Item
	for _, id := range ids {
		if it, ok := t.db.state.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (t *mockTx) LockItems(ctx context.Context, ids []int64) ([]domain.Item, error) {
	if err := t.fail("LockItems"); err != nil {
		return nil, err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.lockCalls = append(t.db.lockCalls, slices.Clone(ids))
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	var out []domain.Item
	for _, id := range sorted {
		if it, ok := t.db.state.items[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

func (t *mockTx) SetItemQuantity(ctx context.Context, itemID int64, quantity int, at time.Time) error {
	if err := t.fail("SetItemQuantity"); err != nil {
		return err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	it := t.db.state.items[itemID]
	if quantity < 0 {
		return fmt.Errorf("check constraint: quantity %d", quantity)
	}
	it.Quantity = quantity
	it.UpdatedAt = at
	t.db.state.items[itemID] = it
	return nil
}

func (t *mockTx) InsertRecord(ctx context.Context, rec *domain.TransactionRecord) error {
	if err := t.fail("InsertRecord"); err != nil {
		return err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	rec.ID = t.db.id()
	stored := *rec
	stored.Lines = nil
	t.db.state.records = append(t.db.state.records, stored)
	return nil
}

func (t *mockTx) InsertRecordLine(ctx context.Context, line *domain.TransactionLine) error {
	if err := t.fail("InsertRecordLine"); err != nil {
		return err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	line.ID = t.db.id()
	t.db.state.tlines = append(t.db.state.tlines, *line)
	return nil
}

func (t *mockTx) InsertSlip(ctx context.Context, slip *domain.WithdrawalSlip) error {
	if err := t.fail("InsertSlip"); err != nil {
		return err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	slip.ID = t.db.id()
	stored := *slip
	stored.Lines = nil
	t.db.state.slips[slip.ID] = stored
	return nil
}

func (t *mockTx) InsertWithdrawalLine(ctx context.Context, line *domain.WithdrawalLine) error {
	if err := t.fail("InsertWithdrawalLine"); err != nil {
		return err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	line.ID = t.db.id()
	t.db.state.wlines[line.ID] = *line
	return nil
}

func (t *mockTx) LockSlip(ctx context.Context, slipID int64) (*domain.WithdrawalSlip, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	return t.db.slipLocked(slipID)
}

func (m *mockDB) slipLocked(slipID int64) (*domain.WithdrawalSlip, error) {
	slip, ok := m.state.slips[slipID]
	if !ok {
		return nil, domain.Missing("withdrawal slip", slipID)
	}
	for _, id := range slices.Sorted(maps.Keys(m.state.wlines)) {
		if l := m.state.wlines[id]; l.SlipID == slipID {
			slip.Lines = append(slip.Lines, l)
		}
	}
	return &slip, nil
}

func (t *mockTx) UpdateWithdrawalLine(ctx context.Context, line domain.WithdrawalLine) error {
	if err := t.fail("UpdateWithdrawalLine"); err != nil {
		return err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	t.db.state.wlines[line.ID] = line
	return nil
}

func (t *mockTx) FinishSlip(ctx context.Context, slipID int64, at time.Time) error {
	if err := t.fail("FinishSlip"); err != nil {
		return err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	slip := t.db.state.slips[slipID]
	slip.Finished = true
	slip.FinishedAt = &at
	t.db.state.slips[slipID] = slip
	return nil
}

func (t *mockTx) InsertRequest(ctx context.Context, req *domain.Request) error {
	if err := t.fail("InsertRequest"); err != nil {
		return err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	req.ID = t.db.id()
	stored := *req
	stored.Lines = nil
	t.db.state.requests[req.ID] = stored
	return nil
}

func (t *mockTx) InsertRequestLine(ctx context.Context, line *domain.RequestLine) error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	line.ID = t.db.id()
	t.db.state.rlines[line.ID] = *line
	return nil
}

func (t *mockTx) LockRequest(ctx context.Context, requestID int64) (*domain.Request, error) {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	return t.db.requestLocked(requestID)
}

func (m *mockDB) requestLocked(requestID int64) (*domain.Request, error) {
	req, ok := m.state.requests[requestID]
	if !ok {
		return nil, domain.Missing("request", requestID)
	}
	for _, id := range slices.Sorted(maps.Keys(m.state.rlines)) {
		if l := m.state.rlines[id]; l.RequestID == requestID {
			req.Lines = append(req.Lines, l)
		}
	}
	return &req, nil
}

func (t *mockTx) UpdateRequest(ctx context.Context, req domain.Request) error {
	if err := t.fail("UpdateRequest"); err != nil {
		return err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	req.Lines = nil
	t.db.state.requests[req.ID] = req
	return nil
}

func (t *mockTx) InsertRequestRecord(ctx context.Context, rec *domain.RequestTransactionRecord) error {
	if err := t.fail("InsertRequestRecord"); err != nil {
		return err
	}
	t.db.mu.Lock()
	defer t.db.mu.Unlock()
	rec.ID = t.db.id()
	t.db.state.reqRecords = append(t.db.state.reqRecords, *rec)
	return nil
}

func (m *mockDB) GetItem(ctx context.Context, itemID int64) (*domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.state.items[itemID]
	if !ok {
		return nil, domain.Missing("item", itemID)
	}
	return &it, nil
}

func (m *mockDB) ListItems(ctx context.Context, query string) ([]domain.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Item
	for _, it := range m.state.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockDB) GetSlip(ctx context.Context, slipID int64) (*domain.WithdrawalSlip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slipLocked(slipID)
}

func (m *mockDB) ListSlips(ctx context.Context, requester, query string) ([]domain.WithdrawalSlip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WithdrawalSlip
	for _, id := range slices.Sorted(maps.Keys(m.state.slips)) {
		if s := m.state.slips[id]; s.Requester == requester {
			out = append(out, s)
		}
	}
	slices.Reverse(out)
	return out, nil
}

func (m *mockDB) GetRequest(ctx context.Context, requestID int64) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestLocked(requestID)
}

func (m *mockDB) ListRequests(ctx context.Context, filter port.RequestFilter) ([]domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Request
	for _, id := range slices.Sorted(maps.Keys(m.state.requests)) {
		r := m.state.requests[id]
		if filter.Approver != "" && r.Approver != filter.Approver {
			continue
		}
		if filter.Purchaser != "" && r.Purchaser != filter.Purchaser {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, r)
	}
	slices.Reverse(out)
	return out, nil
}

func (m *mockDB) GetRecord(ctx context.Context, recordID int64) (*domain.TransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.state.records {
		if r.ID != recordID {
			continue
		}
		for _, l := range m.state.tlines {
			if l.RecordID == recordID {
				r.Lines = append(r.Lines, l)
			}
		}
		return &r, nil
	}
	return nil, domain.Missing("transaction record", recordID)
}

func (m *mockDB) ListRequestRecords(ctx context.Context, requestID int64) ([]domain.RequestTransactionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.RequestTransactionRecord
	for _, r := range m.state.reqRecords {
		if r.RequestID == requestID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockDB) ItemLines(ctx context.Context, itemID int64) ([]domain.TransactionLine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TransactionLine
	for _, l := range m.state.tlines {
		if l.ItemID == itemID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockDB) History(ctx context.Context, actor string) ([]domain.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.HistoryEntry
	for _, r := range m.state.records {
		if r.Actor == actor {
			out = append(out, domain.HistoryEntry{Source: domain.HistoryStock, ID: r.ID, Note: r.Note, CreatedAt: r.CreatedAt})
		}
	}
	for _, r := range m.state.reqRecords {
		if r.Actor == actor {
			out = append(out, domain.HistoryEntry{Source: domain.HistoryRequest, ID: r.ID, Note: r.Note, CreatedAt: r.CreatedAt})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Mock CacheRepository. SetStock keeps only the newest version per item, like
// the Redis script.
type mockCacheRepo struct {
	mu             sync.Mutex
	stock          map[int64]int
	versions       map[int64]int64
	idempotencySet map[string]bool
	released       []string

	// beforeSet runs ahead of every SetStock, outside mu.
	beforeSet func(domain.StockLevel)
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{
		stock:          make(map[int64]int),
		versions:       make(map[int64]int64),
		idempotencySet: make(map[string]bool),
	}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	m.released = append(m.released, key)
	return nil
}

func (m *mockCacheRepo) SetStock(ctx context.Context, level domain.StockLevel) (bool, error) {
	if m.beforeSet != nil {
		m.beforeSet(level)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if level.Version <= m.versions[level.ItemID] {
		return false, nil
	}
	m.stock[level.ItemID] = level.Quantity
	m.versions[level.ItemID] = level.Version
	return true, nil
}

func (m *mockCacheRepo) GetStock(ctx context.Context, itemID int64) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.stock[itemID]
	return q, ok, nil
}

// Mock Metrics
type mockMetrics struct {
	mu       sync.Mutex
	outcomes map[string][]error
	stock    map[int64]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{outcomes: make(map[string][]error), stock: make(map[int64]int)}
}

func (m *mockMetrics) ObserveOperation(op string, took time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes[op] = append(m.outcomes[op], err)
}

func (m *mockMetrics) SetStock(itemID int64, quantity int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[itemID] = quantity
}

var (
	housekeeper = domain.Actor{SubjectID: "hk-1", Role: domain.RoleHousekeeper}
	head        = domain.Actor{SubjectID: "head-1", Role: domain.RoleHead}
	purchasing  = domain.Actor{SubjectID: "buyer-1", Role: domain.RolePurchasing}
	admin       = domain.Actor{SubjectID: "admin-1", Role: domain.RoleAdmin}
)

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestCore() (*Core, *mockDB) {
	db := newMockDB()
	return New(db, WithClock(func() time.Time { return fixedNow })), db
}
