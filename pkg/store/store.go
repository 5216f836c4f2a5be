package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/marketplace/pkg/escrow"
	"github.com/example/marketplace/pkg/models"
	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"
)

// Store is the authoritative in-process collection of orders.
//
// Each entry keeps the committed order and, while a reconciliation is in
// flight, the optimistic copy staged on top of it. Get returns what the actor
// sees (optimistic when present); Committed and Snapshot only ever return
// confirmed state. Writers must be serialized per order by the caller; the
// store only guarantees that readers never see a half-applied write.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	ids     []string
	refs    map[string]string
	now     func() time.Time
	newRef  func() string
}

type entry struct {
	mu        sync.RWMutex
	committed *models.Order
	pending   *models.Order
}

type Option func(*Store)

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		refs:    make(map[string]string),
		now:     time.Now,
		newRef:  newRef,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newRef() string {
	return "ORD-" + shortuuid.New()[:8]
}

// maxRefAttempts bounds how often Prepare redraws a reference that is taken.
const maxRefAttempts = 5

// addAmount adds two non-negative minor-unit amounts, reporting overflow.
func addAmount(a, b int64) (int64, bool) {
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// Now returns the store clock reading in UTC.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

type CreateInput struct {
	BuyerID        string             `json:"buyerId"`
	BuyerName      string             `json:"buyerName"`
	SellerID       string             `json:"sellerId"`
	SellerName     string             `json:"sellerName"`
	Items          []models.OrderItem `json:"items"`
	Subtotal       int64              `json:"subtotal"`
	DeliveryFee    int64              `json:"deliveryFee"`
	ServiceFee     int64              `json:"serviceFee"`
	DeliveryChoice string             `json:"deliveryChoice"`
	Address        *models.Address    `json:"address"`
}

// Prepare validates a checkout payload and builds a new pending_payment order.
// The order is not stored until Insert.
func (s *Store) Prepare(in CreateInput) (*models.Order, error) {
	if strings.TrimSpace(in.BuyerID) == "" || strings.TrimSpace(in.SellerID) == "" {
		return nil, models.NewError(models.KindValidation, "", "buyer and seller are required")
	}
	if len(in.Items) == 0 {
		return nil, models.NewError(models.KindValidation, "", "order must contain at least one item")
	}
	var itemsTotal int64
	for i, item := range in.Items {
		if item.Quantity < 1 {
			return nil, models.NewError(models.KindValidation, "", "item %d: quantity must be at least 1", i)
		}
		if item.UnitPrice < 0 {
			return nil, models.NewError(models.KindValidation, "", "item %d: unit price must not be negative", i)
		}
		if item.UnitPrice > 0 && int64(item.Quantity) > math.MaxInt64/item.UnitPrice {
			return nil, models.NewError(models.KindValidation, "", "item %d: amount out of range", i)
		}
		var ok bool
		if itemsTotal, ok = addAmount(itemsTotal, int64(item.Quantity)*item.UnitPrice); !ok {
			return nil, models.NewError(models.KindValidation, "", "items total out of range")
		}
	}
	if in.Subtotal < 0 || in.DeliveryFee < 0 || in.ServiceFee < 0 {
		return nil, models.NewError(models.KindValidation, "", "amounts must not be negative")
	}
	subtotal := in.Subtotal
	if subtotal == 0 {
		subtotal = itemsTotal
	}
	total, ok := addAmount(subtotal, in.DeliveryFee)
	if ok {
		total, ok = addAmount(total, in.ServiceFee)
	}
	if !ok {
		return nil, models.NewError(models.KindValidation, "", "order total out of range")
	}
	ref, err := s.uniqueRef()
	if err != nil {
		return nil, err
	}

	now := s.Now()
	order := &models.Order{
		ID:             uuid.NewString(),
		Ref:            ref,
		BuyerID:        in.BuyerID,
		BuyerName:      in.BuyerName,
		SellerID:       in.SellerID,
		SellerName:     in.SellerName,
		Items:          append([]models.OrderItem(nil), in.Items...),
		Subtotal:       subtotal,
		DeliveryFee:    in.DeliveryFee,
		ServiceFee:     in.ServiceFee,
		Total:          total,
		Status:         models.StatusPendingPayment,
		EscrowStatus:   models.EscrowPending,
		DeliveryChoice: in.DeliveryChoice,
		Timeline:       []models.TimelineEntry{{Status: models.StatusPendingPayment, Timestamp: now}},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if in.Address != nil {
		addr := *in.Address
		order.Address = &addr
	}
	return order, nil
}

func (s *Store) uniqueRef() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for range maxRefAttempts {
		ref := s.newRef()
		if _, taken := s.refs[ref]; !taken {
			return ref, nil
		}
	}
	return "", models.NewError(models.KindValidation, "", "could not allocate a unique order reference")
}

// Insert adds a committed order. Orders are never removed.
func (s *Store) Insert(order *models.Order) error {
	if err := Verify(order); err != nil {
		return models.NewError(models.KindValidation, order.ID, "%v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[order.ID]; ok {
		return models.NewError(models.KindValidation, order.ID, "order already exists")
	}
	if owner, ok := s.refs[order.Ref]; ok {
		return models.NewError(models.KindValidation, order.ID, "reference %s already used by order %s", order.Ref, owner)
	}
	s.entries[order.ID] = &entry{committed: order.Clone()}
	s.ids = append(s.ids, order.ID)
	s.refs[order.Ref] = order.ID
	return nil
}

// Load inserts orders fetched from the persistence collaborator, skipping ids
// already present. It returns the number inserted.
func (s *Store) Load(orders []*models.Order) (int, error) {
	var n int
	for _, o := range orders {
		if _, err := s.lookup(o.ID); err == nil {
			continue
		}
		if err := s.Insert(o); err != nil {
			return n, fmt.Errorf("load order %s: %w", o.ID, err)
		}
		n++
	}
	return n, nil
}

// Lister pages through durable orders.
type Lister interface {
	ListOrders(ctx context.Context, filter models.ListFilter) (*models.ListResult, error)
}

// Hydrate loads every order the lister reports, pageSize at a time. It fails
// when fewer orders arrive than the lister's total, so the store is never
// left holding a partial order set.
func (s *Store) Hydrate(ctx context.Context, src Lister, pageSize int) (int, error) {
	if pageSize < 1 {
		pageSize = 500
	}
	var loaded, seen int
	for page := 1; ; page++ {
		res, err := src.ListOrders(ctx, models.ListFilter{Page: page, Limit: pageSize})
		if err != nil {
			return loaded, fmt.Errorf("list orders page %d: %w", page, err)
		}
		n, err := s.Load(res.Orders)
		loaded += n
		if err != nil {
			return loaded, err
		}
		seen += len(res.Orders)
		if int64(seen) >= res.Total {
			return loaded, nil
		}
		if len(res.Orders) == 0 {
			return loaded, fmt.Errorf("hydrated %d of %d orders", seen, res.Total)
		}
	}
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, models.NewError(models.KindNotFound, id, "order not found")
	}
	return e, nil
}

// Get returns the latest visible state of an order, including an in-flight
// optimistic write.
func (s *Store) Get(id string) (*models.Order, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.pending != nil {
		return e.pending.Clone(), nil
	}
	return e.committed.Clone(), nil
}

// Committed returns the last confirmed state of an order.
func (s *Store) Committed(id string) (*models.Order, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.committed.Clone(), nil
}

// Snapshot returns copies of every committed order, oldest first.
func (s *Store) Snapshot() []*models.Order {
	s.mu.RLock()
	ids := append([]string(nil), s.ids...)
	entries := make([]*entry, len(ids))
	for i, id := range ids {
		entries[i] = s.entries[id]
	}
	s.mu.RUnlock()

	out := make([]*models.Order, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		out = append(out, e.committed.Clone())
		e.mu.RUnlock()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of orders.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Stage applies mutate to a copy of the committed order, appends a timeline
// entry for the resulting status and publishes it as the optimistic state.
// It returns the pre-mutation snapshot and the staged order.
func (s *Store) Stage(id string, mutate func(*models.Order) error) (prior, staged *models.Order, err error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		return nil, nil, models.NewError(models.KindInvalidTransition, id, "another mutation is in flight")
	}

	prior = e.committed.Clone()
	next := e.committed.Clone()
	if err := mutate(next); err != nil {
		return nil, nil, err
	}
	now := s.Now()
	if last := next.Timeline[len(next.Timeline)-1].Timestamp; now.Before(last) {
		now = last
	}
	next.Timeline = append(next.Timeline, models.TimelineEntry{Status: next.Status, Timestamp: now})
	next.UpdatedAt = now
	escrow.Repair(next)
	if err := Verify(next); err != nil {
		return nil, nil, err
	}
	e.pending = next
	return prior, next.Clone(), nil
}

// Commit promotes the optimistic state to committed.
func (s *Store) Commit(id string) (*models.Order, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil, models.NewError(models.KindPersistenceFailure, id, "no pending mutation to commit")
	}
	e.committed = e.pending
	e.pending = nil
	return e.committed.Clone(), nil
}

// Rollback discards the optimistic state, restoring the committed snapshot
// exactly. It returns the restored order.
func (s *Store) Rollback(id string) (*models.Order, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = nil
	return e.committed.Clone(), nil
}
