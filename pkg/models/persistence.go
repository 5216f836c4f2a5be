package models

import "time"

// StatusMeta carries the auxiliary fields of a transition to the persistence
// collaborator, including the timeline entry that was appended locally so the
// durable record matches the store exactly.
type StatusMeta struct {
	Intent       string        `json:"intent,omitempty"`
	EscrowStatus EscrowStatus  `json:"escrowStatus"`
	TrackingInfo *string       `json:"trackingInfo,omitempty"`
	CancelReason *string       `json:"cancelReason,omitempty"`
	RefundReason *string       `json:"refundReason,omitempty"`
	Issue        *Issue        `json:"issue,omitempty"`
	Override     string        `json:"override,omitempty"`
	Entry        TimelineEntry `json:"entry"`
}

// UpdatedAt is the time the transition took effect.
func (m StatusMeta) UpdatedAt() time.Time {
	return m.Entry.Timestamp
}

type RefundRequest struct {
	Reason   string   `json:"reason"`
	Evidence []string `json:"evidence,omitempty"`
}

// ListFilter selects orders from the persistence collaborator.
type ListFilter struct {
	Status  Status `json:"status,omitempty"`
	Role    Role   `json:"role,omitempty"`
	ActorID string `json:"actorId,omitempty"`
	Page    int    `json:"page"`
	Limit   int    `json:"limit"`
}

type ListResult struct {
	Orders []*Order `json:"orders"`
	Total  int64    `json:"total"`
}
