// Package views derives the buyer, seller and admin projections of the order
// set. Views are read-only and only see committed state.
package views

import (
	"github.com/example/marketplace/pkg/models"
)

// Source is the read side of the order store.
type Source interface {
	Snapshot() []*models.Order
}

type Views struct {
	source Source
}

func New(source Source) *Views {
	return &Views{source: source}
}

type BuyerView struct {
	Active    []*models.Order `json:"active"`
	Completed []*models.Order `json:"completed"`
	Cancelled []*models.Order `json:"cancelled"`
	Disputed  []*models.Order `json:"disputed"`
}

func (v *Views) Buyer(buyerID string) BuyerView {
	mine := Filter(v.source.Snapshot(), BoughtBy(buyerID))
	return BuyerView{
		Active:    Filter(mine, InGroup(GroupActive)),
		Completed: Filter(mine, InGroup(GroupCompleted)),
		Cancelled: Filter(mine, InGroup(GroupCancelled)),
		Disputed:  Filter(mine, InGroup(GroupDisputed)),
	}
}

type Bucket string

const (
	BucketNew        Bucket = "new"
	BucketProcessing Bucket = "processing"
	BucketShipped    Bucket = "shipped"
	BucketCompleted  Bucket = "completed"
)

var bucketStatuses = map[Bucket][]models.Status{
	BucketNew:        {models.StatusPaid},
	BucketProcessing: {models.StatusAccepted, models.StatusProcessing},
	BucketShipped:    {models.StatusShipped},
	BucketCompleted:  {models.StatusDelivered, models.StatusCompleted},
}

type SellerView struct {
	Queues map[Bucket][]*models.Order `json:"queues"`
	Counts map[Bucket]int             `json:"counts"`
}

func (v *Views) Seller(sellerID string) SellerView {
	mine := Filter(v.source.Snapshot(), SoldBy(sellerID))
	view := SellerView{
		Queues: make(map[Bucket][]*models.Order, len(bucketStatuses)),
		Counts: make(map[Bucket]int, len(bucketStatuses)),
	}
	for bucket, statuses := range bucketStatuses {
		orders := Filter(mine, HasStatus(statuses...))
		view.Queues[bucket] = orders
		view.Counts[bucket] = len(orders)
	}
	return view
}

type AdminQuery struct {
	Search string `form:"q"`
	Tab    Group  `form:"tab"`
}

// Admin lists every order matching the query, oldest first.
func (v *Views) Admin(q AdminQuery) []*models.Order {
	return Filter(v.source.Snapshot(), Matches(q.Search), InGroup(q.Tab))
}

type Stats struct {
	Total            int   `json:"total"`
	Active           int   `json:"active"`
	Disputed         int   `json:"disputed"`
	CompletedRevenue int64 `json:"completedRevenue"`
}

func (v *Views) Stats() Stats {
	all := v.source.Snapshot()
	return Stats{
		Total:            len(all),
		Active:           Count(all, InGroup(GroupActive)),
		Disputed:         Count(all, InGroup(GroupDisputed)),
		CompletedRevenue: SumTotal(all, HasStatus(models.StatusCompleted)),
	}
}
