package views

import (
	"strings"

	"github.com/example/marketplace/pkg/models"
)

// Group is a status grouping shared by the buyer and admin views.
type Group string

const (
	GroupAll       Group = "all"
	GroupActive    Group = "active"
	GroupCompleted Group = "completed"
	GroupCancelled Group = "cancelled"
	GroupDisputed  Group = "disputed"
)

// GroupOf returns the status group an order status belongs to.
func GroupOf(s models.Status) Group {
	switch s {
	case models.StatusPendingPayment, models.StatusPaid, models.StatusAccepted,
		models.StatusProcessing, models.StatusShipped, models.StatusDelivered:
		return GroupActive
	case models.StatusCompleted, models.StatusRefunded:
		return GroupCompleted
	case models.StatusCancelled:
		return GroupCancelled
	case models.StatusDisputed, models.StatusRefundRequested:
		return GroupDisputed
	}
	return ""
}

// Predicate selects orders.
type Predicate func(*models.Order) bool

func Filter(orders []*models.Order, preds ...Predicate) []*models.Order {
	out := make([]*models.Order, 0)
	for _, o := range orders {
		if matchAll(o, preds) {
			out = append(out, o)
		}
	}
	return out
}

func Count(orders []*models.Order, preds ...Predicate) int {
	var n int
	for _, o := range orders {
		if matchAll(o, preds) {
			n++
		}
	}
	return n
}

// SumTotal adds up order totals of the matching orders.
func SumTotal(orders []*models.Order, preds ...Predicate) int64 {
	var sum int64
	for _, o := range orders {
		if matchAll(o, preds) {
			sum += o.Total
		}
	}
	return sum
}

func matchAll(o *models.Order, preds []Predicate) bool {
	for _, p := range preds {
		if !p(o) {
			return false
		}
	}
	return true
}

func InGroup(g Group) Predicate {
	return func(o *models.Order) bool {
		return g == GroupAll || g == "" || GroupOf(o.Status) == g
	}
}

func HasStatus(statuses ...models.Status) Predicate {
	return func(o *models.Order) bool {
		for _, s := range statuses {
			if o.Status == s {
				return true
			}
		}
		return false
	}
}

func BoughtBy(buyerID string) Predicate {
	return func(o *models.Order) bool {
		return o.BuyerID == buyerID
	}
}

func SoldBy(sellerID string) Predicate {
	return func(o *models.Order) bool {
		return o.SellerID == sellerID
	}
}

// Matches is a case-insensitive substring match on ref, buyer name and seller name.
func Matches(query string) Predicate {
	q := strings.ToLower(strings.TrimSpace(query))
	return func(o *models.Order) bool {
		if q == "" {
			return true
		}
		return strings.Contains(strings.ToLower(o.Ref), q) ||
			strings.Contains(strings.ToLower(o.BuyerName), q) ||
			strings.Contains(strings.ToLower(o.SellerName), q)
	}
}
