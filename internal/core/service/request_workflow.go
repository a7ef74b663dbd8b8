package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/elixirhk/stockroom/internal/core/domain"
	"github.com/elixirhk/stockroom/internal/port"
)

// RequestWorkflow drives procurement requests through their status machine:
//
//	Waiting --approve--> Approved --startPurchasing--> Purchasing
//	        --reject---> Rejected                      --markReceived--> Received
//	                                                   --markCompleted--> Completed
//
// Completion restocks every requested line through the ledger.
type RequestWorkflow struct {
	*base
	ledger *StockLedger
	audit  *AuditTrail
}

// Create opens a Waiting request on behalf of a housekeeper. approver names the
// head expected to decide on it and may be empty.
func (w *RequestWorkflow) Create(ctx context.Context, actor domain.Actor, approver string, lines []domain.ItemAmount) (int64, error) {
	if err := actor.Validate(); err != nil {
		return 0, err
	}
	if err := domain.Authorize(domain.ActionCreateRequest, actor.Role); err != nil {
		return 0, err
	}
	ids, err := checkItemAmounts(lines, domain.MaxRequestAmount)
	if err != nil {
		return 0, err
	}

	req := &domain.Request{
		Status:    domain.StatusWaiting,
		Requester: actor.SubjectID,
		Approver:  strings.TrimSpace(approver),
	}
	err = w.run(ctx, "request.create", func(ctx context.Context, tx port.Tx) error {
		found, err := tx.FindItems(ctx, ids)
		if err != nil {
			return fmt.Errorf("find items: %w", err)
		}
		names := make(map[int64]string, len(found))
		for _, it := range found {
			names[it.ID] = it.Name
		}
		for _, id := range ids {
			if _, ok := names[id]; !ok {
				return domain.Missing("item", id)
			}
		}

		req.CreatedAt = w.now()
		req.LastModified = req.CreatedAt
		if err := tx.InsertRequest(ctx, req); err != nil {
			return fmt.Errorf("insert request: %w", err)
		}
		for _, l := range lines {
			line := domain.RequestLine{
				RequestID:       req.ID,
				ItemID:          l.ItemID,
				ItemName:        names[l.ItemID],
				AmountRequested: l.Amount,
			}
			if err := tx.InsertRequestLine(ctx, &line); err != nil {
				return fmt.Errorf("insert request line: %w", err)
			}
			req.Lines = append(req.Lines, line)
		}
		return w.audit.recordRequestChange(ctx, tx, req.ID, actor, "request created")
	})
	if err != nil {
		return 0, err
	}

	w.log.WithFields(logrus.Fields{
		"op":         "request.create",
		"actor":      actor.SubjectID,
		"request_id": req.ID,
		"lines":      len(lines),
	}).Info("request created")
	return req.ID, nil
}

// Transition applies action to a request. The role guard runs before any
// database access and the status guard runs against the locked row, so a
// rejected transition writes nothing.
func (w *RequestWorkflow) Transition(ctx context.Context, actor domain.Actor, requestID int64, action domain.Action, payload domain.TransitionPayload) (domain.RequestStatus, error) {
	if err := actor.Validate(); err != nil {
		return "", err
	}
	if !domain.IsTransition(action) {
		return "", domain.Invalid("unknown action %q", action)
	}
	if err := domain.Authorize(action, actor.Role); err != nil {
		return "", err
	}
	purchaser := strings.TrimSpace(payload.Purchaser)
	if action == domain.ActionApprove && purchaser == "" {
		return "", domain.Invalid("approve requires a purchaser")
	}

	var next domain.RequestStatus
	var committed []domain.StockLevel
	op := "request." + string(action)
	err := w.run(ctx, op, func(ctx context.Context, tx port.Tx) error {
		req, err := tx.LockRequest(ctx, requestID)
		if err != nil {
			return fmt.Errorf("lock request: %w", err)
		}
		if next, err = domain.NextStatus(req.Status, action); err != nil {
			return fmt.Errorf("request %d: %w", req.ID, err)
		}

		var note string
		switch action {
		case domain.ActionApprove:
			req.Approver = actor.SubjectID
			req.Purchaser = purchaser
			note = fmt.Sprintf("approved, purchaser assigned: %s", purchaser)
		case domain.ActionReject:
			req.Approver = actor.SubjectID
			note = "rejected"
		case domain.ActionStartPurchasing:
			req.Purchaser = actor.SubjectID
			note = "purchasing started"
		case domain.ActionMarkReceived:
			if req.Purchaser == "" {
				req.Purchaser = actor.SubjectID
			}
			note = "goods received by purchasing"
		case domain.ActionMarkCompleted:
			if committed, err = w.restock(ctx, tx, actor, req); err != nil {
				return err
			}
			note = fmt.Sprintf("completed by %s, goods stocked", strings.ToLower(string(actor.Role)))
		}

		req.Status = next
		req.LastModified = w.now()
		if err := tx.UpdateRequest(ctx, *req); err != nil {
			return fmt.Errorf("update request: %w", err)
		}
		return w.audit.recordRequestChange(ctx, tx, req.ID, actor, note)
	})
	if err != nil {
		return "", err
	}

	w.publish(ctx, committed)
	w.log.WithFields(logrus.Fields{
		"op":         op,
		"actor":      actor.SubjectID,
		"request_id": requestID,
		"status":     next,
	}).Info("request transitioned")
	return next, nil
}

// restock books every requested line back into the ledger under one record.
func (w *RequestWorkflow) restock(ctx context.Context, tx port.Tx, actor domain.Actor, req *domain.Request) ([]domain.StockLevel, error) {
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("%w: request %d has no lines", domain.ErrConflict, req.ID)
	}
	ids := make([]int64, 0, len(req.Lines))
	for _, l := range req.Lines {
		ids = append(ids, l.ItemID)
	}
	locked, err := w.ledger.lockItems(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	rec, err := w.audit.openRecord(ctx, tx, domain.RecordRestock, actor, fmt.Sprintf("restock for request #%d", req.ID))
	if err != nil {
		return nil, err
	}
	levels := make([]domain.StockLevel, 0, len(req.Lines))
	for _, l := range req.Lines {
		level, err := w.ledger.applyLocked(ctx, tx, rec, locked[l.ItemID], l.AmountRequested)
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, nil
}

// Get returns a request with its lines ordered by line id.
func (w *RequestWorkflow) Get(ctx context.Context, requestID int64) (*domain.Request, error) {
	return w.db.GetRequest(ctx, requestID)
}

// List returns the requests visible to actor, newest first: heads see the
// requests they decide on, purchasing sees the ones assigned to it,
// housekeepers and admins see everything.
func (w *RequestWorkflow) List(ctx context.Context, actor domain.Actor, status domain.RequestStatus) ([]domain.Request, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	filter := port.RequestFilter{Status: status}
	switch actor.Role {
	case domain.RoleHead:
		filter.Approver = actor.SubjectID
	case domain.RolePurchasing:
		filter.Purchaser = actor.SubjectID
	case domain.RoleHousekeeper, domain.RoleAdmin:
	default:
		return nil, fmt.Errorf("%w: role %q may not list requests", domain.ErrPermission, actor.Role)
	}
	return w.db.ListRequests(ctx, filter)
}
