package models

import (
	"encoding/json"
	"time"
)

// IntentMetadata carries discovery-time hints about an intent
type IntentMetadata struct {
	RequiresAuction bool       `json:"requires_auction"`
	ExclusiveUntil  *time.Time `json:"exclusive_until,omitempty"`
	DiscoveredAt    time.Time  `json:"discovered_at"`
}

// Intent is a normalized, protocol-agnostic cross-chain trade request.
// It is created by a discovery source and never mutated afterwards.
type Intent struct {
	ID         string          `json:"id"`
	Source     string          `json:"source"`
	Standard   string          `json:"standard"`
	Metadata   IntentMetadata  `json:"metadata"`
	Data       json.RawMessage `json:"data"`
	OrderBytes []byte          `json:"order_bytes"`
	QuoteID    *string         `json:"quote_id,omitempty"`
	LockType   string          `json:"lock_type"`
}

// IsExclusive reports whether another solver holds exclusivity at t
func (i Intent) IsExclusive(t time.Time) bool {
	return i.Metadata.ExclusiveUntil != nil && t.Before(*i.Metadata.ExclusiveUntil)
}

// SpeedrunIntent represents a pending intent as returned by the Speedrun API
type SpeedrunIntent struct {
	ID               string    `json:"id"`
	SourceChain      uint64    `json:"source_chain"`
	DestinationChain uint64    `json:"destination_chain"`
	Token            string    `json:"token"`
	Amount           string    `json:"amount"`
	Recipient        string    `json:"recipient"`
	IntentFee        string    `json:"intent_fee"`
	Salt             string    `json:"salt,omitempty"` // derives the id on-chain when ID is empty
	TokenType        string    `json:"token_type,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
