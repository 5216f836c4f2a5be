package models

import (
	"time"
)

type Status string

const (
	StatusPendingPayment  Status = "pending_payment"
	StatusPaid            Status = "paid"
	StatusAccepted        Status = "accepted"
	StatusProcessing      Status = "processing"
	StatusShipped         Status = "shipped"
	StatusDelivered       Status = "delivered"
	StatusCompleted       Status = "completed"
	StatusCancelled       Status = "cancelled"
	StatusDisputed        Status = "disputed"
	StatusRefundRequested Status = "refund_requested"
	StatusRefunded        Status = "refunded"
)

// Terminal reports whether no further status transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

type EscrowStatus string

const (
	EscrowPending  EscrowStatus = "pending"
	EscrowHeld     EscrowStatus = "held"
	EscrowFrozen   EscrowStatus = "frozen"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
	// RoleSystem is used by payment and carrier collaborators.
	RoleSystem Role = "system"
)

// Actor identifies who issues an intent. Authentication happens upstream.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

type OrderItem struct {
	ProductID string `json:"productId" bson:"productId"`
	Title     string `json:"title" bson:"title"`
	Quantity  int32  `json:"quantity" bson:"quantity"`
	UnitPrice int64  `json:"unitPrice" bson:"unitPrice"`
	Category  string `json:"category" bson:"category"`
}

type Address struct {
	Recipient  string `json:"recipient" bson:"recipient"`
	Line1      string `json:"line1" bson:"line1"`
	Line2      string `json:"line2,omitempty" bson:"line2,omitempty"`
	City       string `json:"city" bson:"city"`
	Region     string `json:"region,omitempty" bson:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty" bson:"postalCode,omitempty"`
	Country    string `json:"country" bson:"country"`
	Phone      string `json:"phone,omitempty" bson:"phone,omitempty"`
}

// Issue is a problem reported by the buyer after delivery.
type Issue struct {
	Type        string   `json:"type" bson:"type"`
	Description string   `json:"description" bson:"description"`
	Photos      []string `json:"photos,omitempty" bson:"photos,omitempty"`
}

type TimelineEntry struct {
	Status    Status    `json:"status" bson:"status"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Order is one purchase transaction. Monetary values are in minor units.
type Order struct {
	ID             string          `json:"id"`
	Ref            string          `json:"ref"`
	BuyerID        string          `json:"buyerId"`
	BuyerName      string          `json:"buyerName"`
	SellerID       string          `json:"sellerId"`
	SellerName     string          `json:"sellerName"`
	Items          []OrderItem     `json:"items"`
	Subtotal       int64           `json:"subtotal"`
	DeliveryFee    int64           `json:"deliveryFee"`
	ServiceFee     int64           `json:"serviceFee"`
	Total          int64           `json:"total"`
	Status         Status          `json:"status"`
	EscrowStatus   EscrowStatus    `json:"escrowStatus"`
	DeliveryChoice string          `json:"deliveryChoice"`
	Address        *Address        `json:"address"`
	TrackingInfo   *string         `json:"trackingInfo"`
	CancelReason   *string         `json:"cancelReason"`
	RefundReason   *string         `json:"refundReason"`
	Issue          *Issue          `json:"issue"`
	Timeline       []TimelineEntry `json:"timeline"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share slices or pointers with the store.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.Timeline = append([]TimelineEntry(nil), o.Timeline...)
	if o.Address != nil {
		addr := *o.Address
		c.Address = &addr
	}
	c.TrackingInfo = cloneString(o.TrackingInfo)
	c.CancelReason = cloneString(o.CancelReason)
	c.RefundReason = cloneString(o.RefundReason)
	if o.Issue != nil {
		issue := *o.Issue
		issue.Photos = append([]string(nil), o.Issue.Photos...)
		c.Issue = &issue
	}
	return &c
}

// LastStatus returns the status of the most recent timeline entry.
func (o *Order) LastStatus() Status {
	if len(o.Timeline) == 0 {
		return ""
	}
	return o.Timeline[len(o.Timeline)-1].Status
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr is a helper for the nullable string fields.
func StringPtr(s string) *string {
	return &s
}
