package domain

import (
	"fmt"
	"strings"
)

// Action names every operation a role can be granted.
type Action string

const (
	ActionRegisterItem     Action = "registerItem"
	ActionAdjustStock      Action = "adjustStock"
	ActionBulkUpdate       Action = "bulkUpdate"
	ActionCreateWithdrawal Action = "createWithdrawal"
	ActionProcessReturn    Action = "processReturn"
	ActionCreateRequest    Action = "createRequest"

	ActionApprove         Action = "approve"
	ActionReject          Action = "reject"
	ActionStartPurchasing Action = "startPurchasing"
	ActionMarkReceived    Action = "markReceived"
	ActionMarkCompleted   Action = "markCompleted"
)

var capabilities = map[Action][]Role{
	ActionRegisterItem:     {RoleHousekeeper, RoleAdmin},
	ActionAdjustStock:      {RoleHousekeeper, RoleAdmin},
	ActionBulkUpdate:       {RoleHousekeeper, RoleAdmin},
	ActionCreateWithdrawal: {RoleHousekeeper, RoleAdmin},
	ActionProcessReturn:    {RoleHousekeeper, RoleAdmin},
	ActionCreateRequest:    {RoleHousekeeper},

	ActionApprove:         {RoleHead},
	ActionReject:          {RoleHead},
	ActionStartPurchasing: {RolePurchasing},
	ActionMarkReceived:    {RolePurchasing},
	ActionMarkCompleted:   {RoleHousekeeper, RolePurchasing},
}

// Allowed reports whether role may perform action. Unknown actions are denied.
func Allowed(action Action, role Role) bool {
	for _, r := range capabilities[action] {
		if r == role {
			return true
		}
	}
	return false
}

// Authorize returns a permission error when role may not perform action.
func Authorize(action Action, role Role) error {
	if !Allowed(action, role) {
		return fmt.Errorf("%w: role %q may not %s", ErrPermission, role, action)
	}
	return nil
}

// ParseAction matches a transition action name case-insensitively.
func ParseAction(s string) (Action, bool) {
	for a := range transitions {
		if strings.EqualFold(string(a), strings.TrimSpace(s)) {
			return a, true
		}
	}
	return "", false
}
