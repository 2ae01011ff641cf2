package listing

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusSold     Status = "SOLD"
	StatusExpired  Status = "EXPIRED"
)

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusApproved, StatusRejected, StatusSold, StatusExpired}
}

// ParseStatus accepts any casing of a known status.
func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case StatusPending, StatusApproved, StatusRejected, StatusSold, StatusExpired:
		return status, nil
	default:
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidInput, raw)
	}
}

// Action drives a status transition.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionRenew   Action = "renew"
	ActionExpire  Action = "expire"
	ActionSell    Action = "sell"
)

// transitions is the only place listing status changes are defined.
var transitions = map[Status]map[Action]Status{
	StatusPending: {
		ActionApprove: StatusApproved,
		ActionReject:  StatusRejected,
	},
	StatusApproved: {
		ActionRenew:  StatusApproved,
		ActionExpire: StatusExpired,
		ActionSell:   StatusSold,
	},
}

// Transition returns the status reached by applying action to from.
func Transition(from Status, action Action) (Status, error) {
	if next, ok := transitions[from][action]; ok {
		return next, nil
	}
	return "", fmt.Errorf("%w: cannot %s a %s listing", ErrInvalidState, action, from)
}
