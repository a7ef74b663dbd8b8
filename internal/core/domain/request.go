package domain

import (
	"fmt"
	"time"
)

type RequestStatus string

const (
	StatusWaiting    RequestStatus = "Waiting"
	StatusApproved   RequestStatus = "Approved"
	StatusRejected   RequestStatus = "Rejected"
	StatusPurchasing RequestStatus = "Purchasing"
	StatusReceived   RequestStatus = "Received"
	StatusCompleted  RequestStatus = "Completed"

	// StatusAccepted is written by older clients and behaves like Approved.
	StatusAccepted RequestStatus = "Accepted"
)

func (s RequestStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

type Request struct {
	ID           int64
	Status       RequestStatus
	Requester    string
	Approver     string
	Purchaser    string
	CreatedAt    time.Time
	LastModified time.Time
	Lines        []RequestLine
}

type RequestLine struct {
	ID              int64
	RequestID       int64
	ItemID          int64
	ItemName        string
	AmountRequested int
}

// TransitionPayload carries action-specific input.
type TransitionPayload struct {
	Purchaser string
}

type edge struct {
	from []RequestStatus
	to   RequestStatus
}

var transitions = map[Action]edge{
	ActionApprove:         {from: []RequestStatus{StatusWaiting}, to: StatusApproved},
	ActionReject:          {from: []RequestStatus{StatusWaiting}, to: StatusRejected},
	ActionStartPurchasing: {from: []RequestStatus{StatusApproved, StatusAccepted}, to: StatusPurchasing},
	ActionMarkReceived:    {from: []RequestStatus{StatusPurchasing}, to: StatusReceived},
	ActionMarkCompleted:   {from: []RequestStatus{StatusReceived}, to: StatusCompleted},
}

// IsTransition reports whether action drives the request state machine.
func IsTransition(action Action) bool {
	_, ok := transitions[action]
	return ok
}

// NextStatus returns the status reached by applying action to current.
func NextStatus(current RequestStatus, action Action) (RequestStatus, error) {
	e, ok := transitions[action]
	if !ok {
		return "", Invalid("unknown action %q", action)
	}
	for _, from := range e.from {
		if from == current {
			return e.to, nil
		}
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, e.to)
}
