package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/metrics"
	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/reconcile"
	"github.com/example/marketplace/pkg/repository"
	"github.com/example/marketplace/pkg/store"
	"github.com/example/marketplace/pkg/views"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// gatedRepository holds status updates until released and can reject them.
type gatedRepository struct {
	*repository.MemoryRepository

	mu   sync.Mutex
	gate chan struct{}
	err  error
}

func (r *gatedRepository) UpdateOrderStatus(ctx context.Context, id string, status models.Status, meta models.StatusMeta) (*models.Order, error) {
	r.mu.Lock()
	gate, err := r.gate, r.err
	r.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return r.MemoryRepository.UpdateOrderStatus(ctx, id, status, meta)
}

func (r *gatedRepository) hold() {
	r.mu.Lock()
	r.gate = make(chan struct{})
	r.mu.Unlock()
}

func (r *gatedRepository) release() {
	r.mu.Lock()
	if r.gate != nil {
		close(r.gate)
		r.gate = nil
	}
	r.mu.Unlock()
}

func (r *gatedRepository) reject(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

type testServer struct {
	gateway *Gateway
	handler http.Handler
	store   *store.Store
	repo    *gatedRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Reconcile.WaitTimeout = 5 * time.Second

	st := store.New()
	repo := &gatedRepository{MemoryRepository: repository.NewMemoryRepository()}
	coord := reconcile.NewCoordinator(actor.NewActorSystem(), st, repo)
	t.Cleanup(func() {
		repo.release()
		require.NoError(t, coord.Close())
	})

	gw := NewGateway(cfg, zap.NewNop(), st, coord, metrics.New())
	gw.SetupRoutes()
	return &testServer{gateway: gw, handler: gw.Handler(), store: st, repo: repo}
}

func (s *testServer) do(t *testing.T, method, path string, who models.Actor, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if who.ID != "" {
		req.Header.Set(headerActorID, who.ID)
		req.Header.Set(headerActorRole, string(who.Role))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

var (
	buyer       = models.Actor{ID: "buyer-1", Role: models.RoleBuyer}
	otherBuyer  = models.Actor{ID: "buyer-2", Role: models.RoleBuyer}
	seller      = models.Actor{ID: "seller-1", Role: models.RoleSeller}
	otherSeller = models.Actor{ID: "seller-2", Role: models.RoleSeller}
	admin       = models.Actor{ID: "admin-1", Role: models.RoleAdmin}
	payments    = models.Actor{ID: "payments", Role: models.RoleSystem}
)

func checkout() gin.H {
	return gin.H{
		"buyerName":  "Ada Buyer",
		"sellerId":   seller.ID,
		"sellerName": "Sam Seller",
		"items": []gin.H{
			{"productId": "p-1", "title": "Rice 50kg", "quantity": 2, "unitPrice": 74000, "category": "grains"},
		},
		"subtotal":       148000,
		"deliveryFee":    5000,
		"serviceFee":     2220,
		"deliveryChoice": "delivery",
	}
}

func (s *testServer) createOrder(t *testing.T) *models.Order {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/orders", buyer, checkout())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[*models.Order](t, rec)
}

func (s *testServer) transition(t *testing.T, id string, who models.Actor, body gin.H) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, http.MethodPost, "/api/v1/orders/"+id+"/transitions", who, body)
}

func TestCreateOrder(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	order := s.createOrder(t)
	require.Equal(t, models.StatusPendingPayment, order.Status)
	require.Equal(t, models.EscrowPending, order.EscrowStatus)
	require.Equal(t, int64(155220), order.Total)
	require.Equal(t, buyer.ID, order.BuyerID)
	require.Len(t, order.Timeline, 1)

	stored, ok := s.repo.Record(order.ID)
	require.True(t, ok)
	require.Equal(t, order.Ref, stored.Ref)
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/orders", seller, checkout())
	require.Equal(t, http.StatusForbidden, rec.Code)

	body := checkout()
	delete(body, "items")
	rec = s.do(t, http.MethodPost, "/api/v1/orders", buyer, body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, s.store.Len())
}

func TestActorHeadersRequired(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/buyer/orders", models.Actor{}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/buyer/orders", models.Actor{ID: "x", Role: "courier"}, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/health", models.Actor{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTransitionErrorMapping(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	order := s.createOrder(t)

	rec := s.transition(t, order.ID, payments, gin.H{"intent": "mark_paid"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, models.StatusPaid, decode[*models.Order](t, rec).Status)

	rec = s.transition(t, order.ID, seller, gin.H{"intent": "ship", "trackingInfo": "Driver en route"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, string(models.KindInvalidTransition), decode[gin.H](t, rec)["kind"])

	rec = s.transition(t, order.ID, otherSeller, gin.H{"intent": "accept"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.transition(t, order.ID, buyer, gin.H{"intent": "accept"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.transition(t, order.ID, buyer, gin.H{"intent": "cancel"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.transition(t, "missing", buyer, gin.H{"intent": "cancel", "reason": "x"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.transition(t, order.ID, seller, gin.H{"intent": "accept"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/"+order.ID+"/transitions", seller, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	allowed := decode[gin.H](t, rec)
	require.Equal(t, "accepted", allowed["status"])
	require.Equal(t, []any{"begin_processing"}, allowed["intents"])

	committed, err := s.store.Committed(order.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusAccepted, committed.Status)
	require.Len(t, committed.Timeline, 3)
}

func TestGetOrderScopedToParticipants(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	order := s.createOrder(t)

	for _, who := range []models.Actor{buyer, seller, admin} {
		rec := s.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, who, nil)
		require.Equal(t, http.StatusOK, rec.Code, who.ID)
		require.Equal(t, order.ID, decode[*models.Order](t, rec).ID)
	}
	for _, who := range []models.Actor{otherBuyer, otherSeller} {
		rec := s.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, who, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, who.ID)
	}
}

func TestEscrowOverride(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	order := s.createOrder(t)
	require.Equal(t, http.StatusOK, s.transition(t, order.ID, payments, gin.H{"intent": "mark_paid"}).Code)

	rec := s.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/escrow/freeze", buyer, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/escrow/freeze", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	frozen := decode[*models.Order](t, rec)
	require.Equal(t, models.StatusDisputed, frozen.Status)
	require.Equal(t, models.EscrowFrozen, frozen.EscrowStatus)

	rec = s.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/escrow/release", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, models.StatusCompleted, decode[*models.Order](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/escrow/release", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	released := decode[*models.Order](t, rec)
	require.Len(t, released.Timeline, 4)

	rec = s.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/escrow/refund", admin, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestPersistenceFailureReturnsRestoredOrder(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	order := s.createOrder(t)
	require.Equal(t, http.StatusOK, s.transition(t, order.ID, payments, gin.H{"intent": "mark_paid"}).Code)

	s.repo.reject(errors.New("ledger unavailable"))
	rec := s.transition(t, order.ID, seller, gin.H{"intent": "accept"})
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body struct {
		Kind  models.ErrorKind `json:"kind"`
		Order *models.Order    `json:"order"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, models.KindPersistenceFailure, body.Kind)
	require.Equal(t, models.StatusPaid, body.Order.Status)
	require.Len(t, body.Order.Timeline, 2)

	current, err := s.store.Get(order.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPaid, current.Status)
}

func TestAsyncTransitionReturnsStagedOrder(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	order := s.createOrder(t)
	require.Equal(t, http.StatusOK, s.transition(t, order.ID, payments, gin.H{"intent": "mark_paid"}).Code)

	s.repo.hold()
	rec := s.do(t, http.MethodPost, "/api/v1/orders/"+order.ID+"/transitions?async=true", seller, gin.H{"intent": "accept"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Equal(t, models.StatusAccepted, decode[*models.Order](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, seller, nil)
	require.Equal(t, models.StatusPaid, decode[*models.Order](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/api/v1/seller/queues", seller, nil)
	queues := decode[views.SellerView](t, rec)
	require.Len(t, queues.Queues[views.BucketNew], 1)

	s.repo.release()
	require.Eventually(t, func() bool {
		o, err := s.store.Committed(order.ID)
		return err == nil && o.Status == models.StatusAccepted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRoleViews(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	first := s.createOrder(t)
	s.createOrder(t)
	require.Equal(t, http.StatusOK, s.transition(t, first.ID, payments, gin.H{"intent": "mark_paid"}).Code)

	rec := s.do(t, http.MethodGet, "/api/v1/buyer/orders", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[views.BuyerView](t, rec).Active, 2)

	rec = s.do(t, http.MethodGet, "/api/v1/buyer/orders", seller, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/seller/queues", seller, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decode[views.SellerView](t, rec).Counts[views.BucketNew])

	rec = s.do(t, http.MethodGet, "/api/v1/admin/orders?q="+first.Ref+"&tab=active", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Orders []*models.Order `json:"orders"`
		Total  int             `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Equal(t, 1, listing.Total)
	require.Equal(t, first.ID, listing.Orders[0].ID)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/stats", seller, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/stats", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, views.Stats{Total: 2, Active: 2}, decode[views.Stats](t, rec))
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []*repository.AuditLog
	limit   int64
	err     error
}

func (f *fakeAudit) GetAuditLogs(_ context.Context, orderID string, limit int64) ([]*repository.AuditLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*repository.AuditLog, 0)
	for _, e := range f.entries {
		if e.EntityID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestAdminOrderAudit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	order := s.createOrder(t)
	path := "/api/v1/admin/orders/" + order.ID + "/audit"

	rec := s.do(t, http.MethodGet, path, admin, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	audit := &fakeAudit{entries: []*repository.AuditLog{
		{EntityID: order.ID, Action: "mark_paid", Outcome: "committed", From: "pending_payment", To: "paid"},
		{EntityID: "other", Action: "accept", Outcome: "committed"},
	}}
	s.gateway.SetAuditReader(audit)

	rec = s.do(t, http.MethodGet, path, seller, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/admin/orders/missing/audit", admin, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, path+"?limit=0", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 50, audit.limit)

	rec = s.do(t, http.MethodGet, path+"?limit=1000", admin, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, path+"?limit=5", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 5, audit.limit)
	var body struct {
		OrderID string                 `json:"orderId"`
		Entries []*repository.AuditLog `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, order.ID, body.OrderID)
	require.Len(t, body.Entries, 1)
	require.Equal(t, "mark_paid", body.Entries[0].Action)
	require.Equal(t, "paid", body.Entries[0].To)

	audit.mu.Lock()
	audit.err = errors.New("mongo down")
	audit.mu.Unlock()
	rec = s.do(t, http.MethodGet, path, admin, nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)
}
