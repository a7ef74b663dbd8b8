package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/elixirhk/stockroom/internal/core/domain"
	"github.com/elixirhk/stockroom/internal/port"
)

// Option configures the shared runtime of the core services.
type Option func(*base)

// WithLogger sets the logger used for committed and failed operations.
func WithLogger(log logrus.FieldLogger) Option {
	return func(r *base) { r.log = log }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m port.Metrics) Option {
	return func(r *base) { r.metrics = m }
}

// WithCache sets the cache that receives committed stock quantities.
func WithCache(c port.CacheRepository) Option {
	return func(r *base) { r.cache = c }
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *base) { r.now = now }
}

// base is shared by every component built from the same options.
type base struct {
	db      port.Database
	log     logrus.FieldLogger
	metrics port.Metrics
	cache   port.CacheRepository
	now     func() time.Time

	mu        sync.Mutex
	published map[int64]int64 // item id -> last published version
}

func newBase(db port.Database, opts []Option) *base {
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	r := &base{
		db:  db,
		log:       discard,
		now:       func() time.Time { return time.Now().UTC() },
		published: make(map[int64]int64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run executes fn as one transaction and records its outcome.
func (r *base) run(ctx context.Context, op string, fn func(ctx context.Context, tx port.Tx) error) error {
	start := time.Now()
	err := r.db.WithinTx(ctx, fn)
	if r.metrics != nil {
		r.metrics.ObserveOperation(op, time.Since(start), err)
	}
	if err != nil {
		entry := r.log.WithFields(logrus.Fields{"op": op, "kind": domain.KindOf(err).String()})
		if domain.KindOf(err) == domain.KindUnknown {
			entry.WithError(err).Error("operation failed")
		} else {
			entry.WithError(err).Warn("operation rejected")
		}
	}
	return err
}

// publish pushes committed levels to metrics and the cache after commit.
// Publishing runs outside the row locks, so levels can arrive out of order:
// a level older than one already published is dropped here, and the cache
// applies the same rule across processes. Failures are logged only; the
// database stays authoritative.
func (r *base) publish(ctx context.Context, levels []domain.StockLevel) {
	for _, lv := range levels {
		if !r.advance(lv) {
			continue
		}
		if r.cache == nil {
			continue
		}
		if _, err := r.cache.SetStock(ctx, lv); err != nil {
			r.log.WithFields(logrus.Fields{"item_id": lv.ItemID}).WithError(err).Warn("stock cache update failed")
		}
	}
}

// advance records lv as the newest level of its item and updates the gauge.
// It reports false when a newer level was already published.
func (r *base) advance(lv domain.StockLevel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lv.Version <= r.published[lv.ItemID] {
		return false
	}
	r.published[lv.ItemID] = lv.Version
	if r.metrics != nil {
		r.metrics.SetStock(lv.ItemID, lv.Quantity)
	}
	return true
}

// Core bundles the five core components over one database.
type Core struct {
	*base

	Ledger      *StockLedger
	Audit       *AuditTrail
	Withdrawals *WithdrawalManager
	Returns     *ReturnProcessor
	Requests    *RequestWorkflow
}

func New(db port.Database, opts ...Option) *Core {
	rt := newBase(db, opts)
	audit := &AuditTrail{base: rt}
	ledger := &StockLedger{base: rt, audit: audit}
	return &Core{
		base:        rt,
		Ledger:      ledger,
		Audit:       audit,
		Withdrawals: &WithdrawalManager{base: rt, ledger: ledger, audit: audit},
		Returns:     &ReturnProcessor{base: rt, ledger: ledger, audit: audit},
		Requests:    &RequestWorkflow{base: rt, ledger: ledger, audit: audit},
	}
}
