package models

// OrderStatus is the lifecycle position of an order
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusExecuting  OrderStatus = "executing"
	StatusExecuted   OrderStatus = "executed"
	StatusPostFilled OrderStatus = "post_filled"
	StatusSettled    OrderStatus = "settled"
	StatusPreClaimed OrderStatus = "pre_claimed"
	StatusFinalized  OrderStatus = "finalized"
	StatusFailed     OrderStatus = "failed"
)

// ReasonTimedOut is the failure reason recorded when settlement monitoring runs out of time
const ReasonTimedOut = "TimedOut"

// statusRank is the position of each non-failed status in the forward order
var statusRank = map[OrderStatus]int{
	StatusPending:    0,
	StatusExecuting:  1,
	StatusExecuted:   2,
	StatusPostFilled: 3,
	StatusSettled:    4,
	StatusPreClaimed: 5,
	StatusFinalized:  6,
}

// AllStatuses lists every status in lifecycle order, failed last
var AllStatuses = []OrderStatus{
	StatusPending,
	StatusExecuting,
	StatusExecuted,
	StatusPostFilled,
	StatusSettled,
	StatusPreClaimed,
	StatusFinalized,
	StatusFailed,
}

// IsValid reports whether s is a known status
func (s OrderStatus) IsValid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// IsTerminal reports whether no further transition is possible
func (s OrderStatus) IsTerminal() bool {
	return s == StatusFinalized || s == StatusFailed
}

// CanTransitionTo reports whether next is a legal successor of s.
// Orders move one step forward at a time, or to failed from any non-terminal status.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.IsTerminal() || !s.IsValid() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	return nxt == cur+1
}

// Next returns the forward successor of s, if any
func (s OrderStatus) Next() (OrderStatus, bool) {
	cur, ok := statusRank[s]
	if !ok || s == StatusFinalized {
		return "", false
	}
	for status, rank := range statusRank {
		if rank == cur+1 {
			return status, true
		}
	}
	return "", false
}
