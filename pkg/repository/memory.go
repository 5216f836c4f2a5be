package repository

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/example/marketplace/pkg/models"
)

// MemoryRepository is an in-process persistence collaborator holding the same
// flat records as MySQL. It backs local runs without a database and tests.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]*OrderRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]*OrderRecord)}
}

func (r *MemoryRepository) Ping(context.Context) error {
	return nil
}

func (r *MemoryRepository) Close() error {
	return nil
}

func (r *MemoryRepository) CreateOrder(_ context.Context, order *models.Order) (*models.Order, error) {
	rec, err := ToRecord(order)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[rec.ID]; ok {
		return nil, models.NewError(models.KindValidation, rec.ID, "order already exists")
	}
	r.records[rec.ID] = rec
	return rec.Order()
}

func (r *MemoryRepository) GetOrder(_ context.Context, id string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, models.NewError(models.KindNotFound, id, "order not found")
	}
	return rec.Order()
}

// Record returns a copy of the stored record.
func (r *MemoryRepository) Record(id string) (OrderRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return OrderRecord{}, false
	}
	return *rec, true
}

func (r *MemoryRepository) ListOrders(_ context.Context, filter models.ListFilter) (*models.ListResult, error) {
	r.mu.Lock()
	recs := make([]*OrderRecord, 0, len(r.records))
	for _, rec := range r.records {
		if filter.Status != "" && rec.Status != string(filter.Status) {
			continue
		}
		if filter.ActorID != "" {
			if filter.Role == models.RoleBuyer && rec.BuyerID != filter.ActorID {
				continue
			}
			if filter.Role == models.RoleSeller && rec.SellerID != filter.ActorID {
				continue
			}
		}
		cp := *rec
		recs = append(recs, &cp)
	}
	r.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return strings.Compare(recs[i].ID, recs[j].ID) < 0
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})

	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	result := &models.ListResult{Orders: make([]*models.Order, 0), Total: int64(len(recs))}
	start := (page - 1) * limit
	if start >= len(recs) {
		return result, nil
	}
	end := min(start+limit, len(recs))
	for _, rec := range recs[start:end] {
		o, err := rec.Order()
		if err != nil {
			return nil, err
		}
		result.Orders = append(result.Orders, o)
	}
	return result, nil
}

func (r *MemoryRepository) UpdateOrderStatus(_ context.Context, id string, status models.Status, meta models.StatusMeta) (*models.Order, error) {
	return r.transition(id, status, meta)
}

func (r *MemoryRepository) CancelOrder(_ context.Context, id, reason string, meta models.StatusMeta) (*models.Order, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, models.NewError(models.KindValidation, id, "cancel reason is required")
	}
	meta.CancelReason = &reason
	return r.transition(id, models.StatusCancelled, meta)
}

func (r *MemoryRepository) ConfirmDelivery(_ context.Context, id string, meta models.StatusMeta) (*models.Order, error) {
	return r.transition(id, models.StatusCompleted, meta)
}

func (r *MemoryRepository) RequestRefund(_ context.Context, id string, req models.RefundRequest, meta models.StatusMeta) (*models.Order, error) {
	meta.RefundReason = &req.Reason
	return r.transition(id, models.StatusRefundRequested, meta)
}

func (r *MemoryRepository) ReportIssue(_ context.Context, id string, issue models.Issue, meta models.StatusMeta) (*models.Order, error) {
	meta.Issue = &issue
	return r.transition(id, models.StatusRefundRequested, meta)
}

func (r *MemoryRepository) transition(id string, status models.Status, meta models.StatusMeta) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, models.NewError(models.KindNotFound, id, "order not found")
	}
	next := *rec
	if err := next.applyMeta(status, meta); err != nil {
		return nil, err
	}
	r.records[id] = &next
	return next.Order()
}
