package repository

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/marketplace/pkg/models"
)

// OrderRecord is the flat, durable layout of an order. Nested values are
// stored as JSON text; the timeline keeps insertion order.
type OrderRecord struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)"`
	Ref            string    `gorm:"type:varchar(32);uniqueIndex;not null"`
	BuyerID        string    `gorm:"type:varchar(36);not null;index"`
	BuyerName      string    `gorm:"type:varchar(100)"`
	SellerID       string    `gorm:"type:varchar(36);not null;index"`
	SellerName     string    `gorm:"type:varchar(100)"`
	Items          string    `gorm:"type:text"`
	Subtotal       int64     `gorm:"not null"`
	DeliveryFee    int64     `gorm:"not null"`
	ServiceFee     int64     `gorm:"not null"`
	Total          int64     `gorm:"not null"`
	Status         string    `gorm:"type:varchar(20);not null;index"`
	EscrowStatus   string    `gorm:"type:varchar(20);not null"`
	DeliveryChoice string    `gorm:"type:varchar(50)"`
	Address        *string   `gorm:"type:text"`
	TrackingInfo   *string   `gorm:"type:varchar(255)"`
	CancelReason   *string   `gorm:"type:text"`
	RefundReason   *string   `gorm:"type:text"`
	Issue          *string   `gorm:"type:text"`
	Timeline       string    `gorm:"type:text"`
	CreatedAt      time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false"`
}

func (OrderRecord) TableName() string {
	return "orders"
}

// ToRecord flattens an order for storage.
func ToRecord(o *models.Order) (*OrderRecord, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize items: %w", err)
	}
	timeline, err := json.Marshal(o.Timeline)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize timeline: %w", err)
	}
	rec := &OrderRecord{
		ID:             o.ID,
		Ref:            o.Ref,
		BuyerID:        o.BuyerID,
		BuyerName:      o.BuyerName,
		SellerID:       o.SellerID,
		SellerName:     o.SellerName,
		Items:          string(items),
		Subtotal:       o.Subtotal,
		DeliveryFee:    o.DeliveryFee,
		ServiceFee:     o.ServiceFee,
		Total:          o.Total,
		Status:         string(o.Status),
		EscrowStatus:   string(o.EscrowStatus),
		DeliveryChoice: o.DeliveryChoice,
		TrackingInfo:   o.TrackingInfo,
		CancelReason:   o.CancelReason,
		RefundReason:   o.RefundReason,
		Timeline:       string(timeline),
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if rec.Address, err = marshalOptional(o.Address); err != nil {
		return nil, fmt.Errorf("failed to serialize address: %w", err)
	}
	if rec.Issue, err = marshalOptional(o.Issue); err != nil {
		return nil, fmt.Errorf("failed to serialize issue: %w", err)
	}
	return rec, nil
}

// Order rebuilds the domain order from its record.
func (r *OrderRecord) Order() (*models.Order, error) {
	o := &models.Order{
		ID:             r.ID,
		Ref:            r.Ref,
		BuyerID:        r.BuyerID,
		BuyerName:      r.BuyerName,
		SellerID:       r.SellerID,
		SellerName:     r.SellerName,
		Subtotal:       r.Subtotal,
		DeliveryFee:    r.DeliveryFee,
		ServiceFee:     r.ServiceFee,
		Total:          r.Total,
		Status:         models.Status(r.Status),
		EscrowStatus:   models.EscrowStatus(r.EscrowStatus),
		DeliveryChoice: r.DeliveryChoice,
		TrackingInfo:   r.TrackingInfo,
		CancelReason:   r.CancelReason,
		RefundReason:   r.RefundReason,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Items), &o.Items); err != nil {
		return nil, fmt.Errorf("failed to parse items: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Timeline), &o.Timeline); err != nil {
		return nil, fmt.Errorf("failed to parse timeline: %w", err)
	}
	if r.Address != nil {
		o.Address = &models.Address{}
		if err := json.Unmarshal([]byte(*r.Address), o.Address); err != nil {
			return nil, fmt.Errorf("failed to parse address: %w", err)
		}
	}
	if r.Issue != nil {
		o.Issue = &models.Issue{}
		if err := json.Unmarshal([]byte(*r.Issue), o.Issue); err != nil {
			return nil, fmt.Errorf("failed to parse issue: %w", err)
		}
	}
	return o, nil
}

func marshalOptional[T any](v *T) (*string, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

// applyMeta writes a confirmed transition onto the record.
func (r *OrderRecord) applyMeta(status models.Status, meta models.StatusMeta) error {
	var timeline []models.TimelineEntry
	if err := json.Unmarshal([]byte(r.Timeline), &timeline); err != nil {
		return fmt.Errorf("failed to parse timeline: %w", err)
	}
	if meta.Entry.Status != status {
		return fmt.Errorf("timeline entry %q does not match status %q", meta.Entry.Status, status)
	}
	timeline = append(timeline, meta.Entry)
	data, err := json.Marshal(timeline)
	if err != nil {
		return fmt.Errorf("failed to serialize timeline: %w", err)
	}
	r.Timeline = string(data)
	r.Status = string(status)
	r.EscrowStatus = string(meta.EscrowStatus)
	r.UpdatedAt = meta.UpdatedAt()
	if meta.TrackingInfo != nil {
		r.TrackingInfo = meta.TrackingInfo
	}
	if meta.CancelReason != nil {
		r.CancelReason = meta.CancelReason
	}
	if meta.RefundReason != nil {
		r.RefundReason = meta.RefundReason
	}
	if meta.Issue != nil {
		if r.Issue, err = marshalOptional(meta.Issue); err != nil {
			return fmt.Errorf("failed to serialize issue: %w", err)
		}
	}
	return nil
}
