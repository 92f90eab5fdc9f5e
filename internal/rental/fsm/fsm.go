package fsm

import "fmt"

// Status constants used by the booking state machine.
const (
	StatusPending             = "pending"
	StatusApproved            = "approved"
	StatusRejected            = "rejected"
	StatusPaidPendingHandover = "paid_pending_handover"
	StatusRented              = "rented"
	StatusClosed              = "closed"
)

var transitions = map[string]map[string]struct{}{
	StatusPending: {
		StatusApproved:            {},
		StatusRejected:            {},
		StatusPaidPendingHandover: {},
	},
	StatusApproved: {
		StatusPaidPendingHandover: {},
		StatusRented:              {},
		StatusRejected:            {},
	},
	StatusPaidPendingHandover: {StatusRented: {}},
	StatusRented:              {StatusClosed: {}},
	StatusRejected:            {},
	StatusClosed:              {},
}

// order ranks statuses along the happy path so callers can ask whether a
// booking has already progressed past a point.
var order = map[string]int{
	StatusPending:             0,
	StatusApproved:            1,
	StatusPaidPendingHandover: 2,
	StatusRented:              3,
	StatusClosed:              4,
}

// Known reports whether status belongs to the machine.
func Known(status string) bool {
	_, ok := transitions[status]
	return ok
}

// CanTransition returns whether a booking may move from one status to another.
// Staying in the same status is not a transition.
func CanTransition(from, to string) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Check is CanTransition returning a typed error.
func Check(from, to string) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// IsActive reports whether a booking in status holds its laptop.
func IsActive(status string) bool {
	switch status {
	case StatusApproved, StatusRented, StatusPaidPendingHandover:
		return true
	}
	return false
}

// ActiveStatuses returns the statuses for which IsActive is true.
func ActiveStatuses() []string {
	return []string{StatusApproved, StatusPaidPendingHandover, StatusRented}
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status string) bool {
	return status == StatusRejected || status == StatusClosed
}

// PaidOrLater reports whether payment has already been confirmed for status.
func PaidOrLater(status string) bool {
	return Reached(status, StatusPaidPendingHandover)
}

// Reached reports whether status is at or beyond target on the happy path.
// Rejected never reaches anything.
func Reached(status, target string) bool {
	s, ok := order[status]
	if !ok {
		return false
	}
	t, ok := order[target]
	if !ok {
		return false
	}
	return s >= t
}

// InvalidTransitionError is returned for a transition the machine does not allow.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}
