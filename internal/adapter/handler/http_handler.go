package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/elixirhk/stockroom/internal/core/domain"
	"github.com/elixirhk/stockroom/internal/core/service"
)

// HTTPHandler exposes the core over a gin router.
type HTTPHandler struct {
	core    *service.Core
	log     logrus.FieldLogger
	secret  []byte
	metrics http.Handler
}

// NewHTTPHandler builds the handler. metrics may be nil, in which case
// /metrics is not routed.
func NewHTTPHandler(core *service.Core, log logrus.FieldLogger, secret []byte, metrics http.Handler) *HTTPHandler {
	return &HTTPHandler{core: core, log: log, secret: secret, metrics: metrics}
}

func (h *HTTPHandler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger(h.log))

	r.GET("/health", h.HealthCheck)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics))
	}

	api := r.Group("/api", authenticate(h.secret))

	items := api.Group("/items")
	items.GET("", h.ListItems)
	items.POST("", requireAction(domain.ActionRegisterItem), h.RegisterItem)
	items.PUT("/bulk", requireAction(domain.ActionBulkUpdate), h.BulkUpdate)
	items.GET("/:id", h.GetItem)
	items.GET("/:id/stock", h.GetStock)
	items.GET("/:id/lines", h.ItemLines)
	items.POST("/:id/adjust", requireAction(domain.ActionAdjustStock), h.AdjustStock)

	withdrawals := api.Group("/withdrawals")
	withdrawals.GET("", h.ListWithdrawals)
	withdrawals.POST("", requireAction(domain.ActionCreateWithdrawal), h.CreateWithdrawal)
	withdrawals.GET("/:id", h.GetWithdrawal)
	withdrawals.PATCH("/:id/return", requireAction(domain.ActionProcessReturn), h.ProcessReturn)

	requests := api.Group("/requests")
	requests.GET("", h.ListRequests)
	requests.POST("", h.CreateRequest)
	requests.GET("/:id", h.GetRequest)
	requests.PATCH("/:id", h.TransitionRequest)
	requests.GET("/:id/transactions", h.RequestTransactions)

	api.GET("/transactions", h.History)
	api.GET("/transactions/:id", h.GetTransaction)

	return r
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func success(c *gin.Context, status int, message string, data any) {
	c.JSON(status, gin.H{"message": message, "data": data})
}

// fail writes err with the status of its kind. Internal errors keep their
// message out of the response.
func (h *HTTPHandler) fail(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	status := httpStatus(err)
	if kind == domain.KindConcurrency {
		c.Header("Retry-After", retryAfterSeconds)
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.log.WithField("request_id", c.GetString(ctxRequestID)).WithError(err).Error("unhandled error")
		message = "internal error"
	}
	c.JSON(status, gin.H{"message": message, "kind": kind.String()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body", "error": err.Error()})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid id"})
		return 0, false
	}
	return id, true
}

func idempotencyKey(c *gin.Context, body string) string {
	if key := c.GetHeader(headerIdempotency); key != "" {
		return key
	}
	return body
}

func mustActor(c *gin.Context) domain.Actor {
	actor, _ := actorFrom(c)
	return actor
}

// Items

func (h *HTTPHandler) ListItems(c *gin.Context) {
	items, err := h.core.Ledger.ListItems(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]ItemResponse, len(items))
	for i, it := range items {
		out[i] = toItem(it)
	}
	success(c, http.StatusOK, "items", out)
}

func (h *HTTPHandler) RegisterItem(c *gin.Context) {
	var req RegisterItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	item, err := h.core.Ledger.RegisterItem(c.Request.Context(), mustActor(c), req.Name, req.Quantity)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusCreated, "item registered", toItem(*item))
}

func (h *HTTPHandler) GetItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	item, err := h.core.Ledger.GetItem(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, "item", toItem(*item))
}

// GetStock serves the last committed quantity, from the stock cache when one
// is configured.
func (h *HTTPHandler) GetStock(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	qty, err := h.core.Ledger.Stock(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, "stock", StockResponse{ItemID: id, Quantity: qty})
}

func (h *HTTPHandler) ItemLines(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	lines, err := h.core.Audit.ItemLines(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, "item transaction lines", toTransactionLines(lines))
}

func (h *HTTPHandler) AdjustStock(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req AdjustStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	qty, err := h.core.Ledger.ApplyDelta(c.Request.Context(), mustActor(c), id, req.Amount, req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, "stock adjusted", gin.H{"item_id": id, "quantity": qty})
}

func (h *HTTPHandler) BulkUpdate(c *gin.Context) {
	var req BulkUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.core.Ledger.ApplyBulkDelta(c.Request.Context(), mustActor(c), bulkLines(req.Items), req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, "stock updated", gin.H{"updated": n})
}

// Withdrawals

// ListWithdrawals lists the caller's slips. Admins may pass ?requester= to
// list someone else's.
func (h *HTTPHandler) ListWithdrawals(c *gin.Context) {
	actor := mustActor(c)
	requester := actor.SubjectID
	if other := c.Query("requester"); other != "" && actor.Role == domain.RoleAdmin {
		requester = other
	}
	slips, err := h.core.Withdrawals.List(c.Request.Context(), requester, c.Query("q"))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]WithdrawalSlipResponse, len(slips))
	for i, s := range slips {
		out[i] = toSlip(s)
	}
	success(c, http.StatusOK, "withdrawals", out)
}

func (h *HTTPHandler) CreateWithdrawal(c *gin.Context) {
	var req CreateWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	actor := mustActor(c)
	ctx := c.Request.Context()

	var id int64
	err := h.core.Once(ctx, "withdrawal", actor, idempotencyKey(c, req.IdempotencyKey), func(ctx context.Context) error {
		var err error
		id, err = h.core.Withdrawals.CreateWithdrawal(ctx, actor, itemAmounts(req.Items), req.Note)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	slip, err := h.core.Withdrawals.Get(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusCreated, "withdrawal created", toSlip(*slip))
}

func (h *HTTPHandler) GetWithdrawal(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	slip, err := h.core.Withdrawals.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, "withdrawal", toSlip(*slip))
}

func (h *HTTPHandler) ProcessReturn(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req ProcessReturnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	lines, err := returnLines(req.Items)
	if err != nil {
		h.fail(c, err)
		return
	}
	actor := mustActor(c)
	ctx := c.Request.Context()

	var result *domain.ReturnResult
	err = h.core.Once(ctx, "return", actor, idempotencyKey(c, req.IdempotencyKey), func(ctx context.Context) error {
		var err error
		result, err = h.core.Returns.ProcessReturn(ctx, actor, id, lines)
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, "return processed", toReturn(result))
}

// Requests

func (h *HTTPHandler) ListRequests(c *gin.Context) {
	reqs, err := h.core.Requests.List(c.Request.Context(), mustActor(c), domain.RequestStatus(c.Query("status")))
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]RequestResponse, len(reqs))
	for i, r := range reqs {
		out[i] = toRequest(r)
	}
	success(c, http.StatusOK, "requests", out)
}

func (h *HTTPHandler) CreateRequest(c *gin.Context) {
	var req CreateRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	actor := mustActor(c)
	ctx := c.Request.Context()

	var id int64
	err := h.core.Once(ctx, "request", actor, idempotencyKey(c, req.IdempotencyKey), func(ctx context.Context) error {
		var err error
		id, err = h.core.Requests.Create(ctx, actor, req.Approver, itemAmounts(req.Items))
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	created, err := h.core.Requests.Get(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusCreated, "request created", toRequest(*created))
}

func (h *HTTPHandler) GetRequest(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	req, err := h.core.Requests.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, "request", toRequest(*req))
}

func (h *HTTPHandler) TransitionRequest(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	action, ok := domain.ParseAction(req.Action)
	if !ok {
		h.fail(c, domain.Invalid("unknown action %q", req.Action))
		return
	}
	status, err := h.core.Requests.Transition(c.Request.Context(), mustActor(c), id, action,
		domain.TransitionPayload{Purchaser: req.Purchaser})
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, "request updated", gin.H{"id": id, "status": string(status)})
}

func (h *HTTPHandler) RequestTransactions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	recs, err := h.core.Audit.RequestRecords(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]RequestTransactionResponse, len(recs))
	for i, r := range recs {
		out[i] = RequestTransactionResponse{ID: r.ID, RequestID: r.RequestID, Note: r.Note, Actor: r.Actor, CreatedAt: r.CreatedAt}
	}
	success(c, http.StatusOK, "request transactions", out)
}

// Audit

// History returns the caller's merged history. Admins may pass ?actor= to
// read someone else's.
func (h *HTTPHandler) History(c *gin.Context) {
	actor := mustActor(c)
	subject := actor.SubjectID
	if other := c.Query("actor"); other != "" {
		if actor.Role != domain.RoleAdmin {
			h.fail(c, fmt.Errorf("%w: only admins may read another actor's history", domain.ErrPermission))
			return
		}
		subject = other
	}
	entries, err := h.core.Audit.History(c.Request.Context(), subject)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]HistoryResponse, len(entries))
	for i, e := range entries {
		out[i] = HistoryResponse{Source: string(e.Source), ID: e.ID, Note: e.Note, CreatedAt: e.CreatedAt}
	}
	success(c, http.StatusOK, "history", out)
}

func (h *HTTPHandler) GetTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	rec, err := h.core.Audit.Record(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	success(c, http.StatusOK, "transaction", toTransaction(*rec))
}
