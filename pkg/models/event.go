package models

import (
	"time"

	"github.com/google/uuid"
)

// EventCategory groups lifecycle events by the component that emits them
type EventCategory string

const (
	CategoryDiscovery  EventCategory = "discovery"
	CategoryOrder      EventCategory = "order"
	CategoryDelivery   EventCategory = "delivery"
	CategorySettlement EventCategory = "settlement"
)

// EventKind names a lifecycle fact
type EventKind string

const (
	EventIntentDiscovered EventKind = "intent_discovered"
	EventIntentValidated  EventKind = "intent_validated"
	EventIntentRejected   EventKind = "intent_rejected"
	EventIntentSkipped    EventKind = "intent_skipped"
	EventIntentDeferred   EventKind = "intent_deferred"

	EventExecutionApproved EventKind = "execution_approved"
	EventExecutionStarted  EventKind = "execution_started"
	EventOrderFailed       EventKind = "order_failed"
	EventOrderCompleted    EventKind = "order_completed"

	EventTxSubmitted EventKind = "tx_submitted"
	EventTxConfirmed EventKind = "tx_confirmed"
	EventTxFailed    EventKind = "tx_failed"

	EventPostFillReady     EventKind = "post_fill_ready"
	EventMonitoringStarted EventKind = "monitoring_started"
	EventClaimReady        EventKind = "claim_ready"
	EventMonitoringTimeout EventKind = "monitoring_timeout"
)

var eventCategories = map[EventKind]EventCategory{
	EventIntentDiscovered:  CategoryDiscovery,
	EventIntentValidated:   CategoryDiscovery,
	EventIntentRejected:    CategoryDiscovery,
	EventIntentSkipped:     CategoryDiscovery,
	EventIntentDeferred:    CategoryDiscovery,
	EventExecutionApproved: CategoryOrder,
	EventExecutionStarted:  CategoryOrder,
	EventOrderFailed:       CategoryOrder,
	EventOrderCompleted:    CategoryOrder,
	EventTxSubmitted:       CategoryDelivery,
	EventTxConfirmed:       CategoryDelivery,
	EventTxFailed:          CategoryDelivery,
	EventPostFillReady:     CategorySettlement,
	EventMonitoringStarted: CategorySettlement,
	EventClaimReady:        CategorySettlement,
	EventMonitoringTimeout: CategorySettlement,
}

// Category returns the category a kind belongs to
func (k EventKind) Category() EventCategory {
	return eventCategories[k]
}

// Event is an immutable, timestamped lifecycle fact broadcast on the event bus.
// Only the payload fields relevant to Kind are set.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	OrderID   string    `json:"order_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	Intent  *Intent             `json:"intent,omitempty"`
	Params  *ExecutionParams    `json:"params,omitempty"`
	Stage   TxStage             `json:"stage,omitempty"`
	TxHash  string              `json:"tx_hash,omitempty"`
	ChainID uint64              `json:"chain_id,omitempty"`
	Receipt *TransactionReceipt `json:"receipt,omitempty"`
	Reason  string              `json:"reason,omitempty"`
	Delay   time.Duration       `json:"delay,omitempty"`
}

// NewEvent stamps a new event with a fresh id and the current time
func NewEvent(kind EventKind, orderID string) Event {
	return Event{
		ID:        uuid.New().String(),
		Kind:      kind,
		OrderID:   orderID,
		Timestamp: time.Now(),
	}
}

// Category returns the category of the event's kind
func (e Event) Category() EventCategory {
	return e.Kind.Category()
}
