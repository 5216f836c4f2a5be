package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/example/marketplace/pkg/escrow"
	"github.com/example/marketplace/pkg/lifecycle"
	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/reconcile"
	"github.com/example/marketplace/pkg/repository"
	"github.com/example/marketplace/pkg/store"
	"github.com/example/marketplace/pkg/views"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerActorID   = "X-Actor-ID"
	headerActorRole = "X-Actor-Role"
	actorKey        = "actor"
)

// actorMiddleware trusts identity headers set by the upstream auth proxy.
func actorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		who := models.Actor{
			ID:   strings.TrimSpace(c.GetHeader(headerActorID)),
			Role: models.Role(strings.ToLower(strings.TrimSpace(c.GetHeader(headerActorRole)))),
		}
		switch who.Role {
		case models.RoleBuyer, models.RoleSeller, models.RoleAdmin, models.RoleSystem:
		default:
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or unknown actor role"})
			return
		}
		if who.ID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing actor id"})
			return
		}
		c.Set(actorKey, who)
		c.Next()
	}
}

func actorFrom(c *gin.Context) models.Actor {
	return c.MustGet(actorKey).(models.Actor)
}

func contextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

var statusByKind = map[models.ErrorKind]int{
	models.KindInvalidTransition:  http.StatusConflict,
	models.KindPermissionDenied:   http.StatusForbidden,
	models.KindValidation:         http.StatusBadRequest,
	models.KindNotFound:           http.StatusNotFound,
	models.KindPersistenceFailure: http.StatusBadGateway,
}

func (g *Gateway) writeError(c *gin.Context, err error) {
	var e *models.Error
	if errors.As(err, &e) {
		body := gin.H{"error": e.Error(), "kind": e.Kind}
		if e.Prior != nil {
			body["order"] = e.Prior
		}
		c.JSON(statusByKind[e.Kind], body)
		return
	}
	g.logger.Error("Unexpected error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// canSee reports whether the actor may read the order.
func canSee(who models.Actor, o *models.Order) bool {
	switch who.Role {
	case models.RoleAdmin, models.RoleSystem:
		return true
	case models.RoleBuyer:
		return o.BuyerID == who.ID
	case models.RoleSeller:
		return o.SellerID == who.ID
	}
	return false
}

type createOrderRequest struct {
	BuyerName      string             `json:"buyerName"`
	SellerID       string             `json:"sellerId" binding:"required"`
	SellerName     string             `json:"sellerName"`
	Items          []models.OrderItem `json:"items" binding:"required,min=1"`
	Subtotal       int64              `json:"subtotal" binding:"min=0"`
	DeliveryFee    int64              `json:"deliveryFee" binding:"min=0"`
	ServiceFee     int64              `json:"serviceFee" binding:"min=0"`
	DeliveryChoice string             `json:"deliveryChoice"`
	Address        *models.Address    `json:"address"`
}

func (g *Gateway) createOrder(c *gin.Context) {
	who := actorFrom(c)
	if who.Role != models.RoleBuyer {
		g.writeError(c, models.NewError(models.KindPermissionDenied, "", "only buyers can place orders"))
		return
	}
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": models.KindValidation})
		return
	}

	order, err := g.coordinator.Create(c.Request.Context(), store.CreateInput{
		BuyerID:        who.ID,
		BuyerName:      req.BuyerName,
		SellerID:       req.SellerID,
		SellerName:     req.SellerName,
		Items:          req.Items,
		Subtotal:       req.Subtotal,
		DeliveryFee:    req.DeliveryFee,
		ServiceFee:     req.ServiceFee,
		DeliveryChoice: req.DeliveryChoice,
		Address:        req.Address,
	})
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (g *Gateway) getOrder(c *gin.Context) {
	order, err := g.store.Committed(c.Param("id"))
	if err == nil && !canSee(actorFrom(c), order) {
		err = models.NewError(models.KindNotFound, c.Param("id"), "order not found")
	}
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (g *Gateway) allowedTransitions(c *gin.Context) {
	who := actorFrom(c)
	order, err := g.store.Committed(c.Param("id"))
	if err == nil && !canSee(who, order) {
		err = models.NewError(models.KindNotFound, c.Param("id"), "order not found")
	}
	if err != nil {
		g.writeError(c, err)
		return
	}
	intents := lifecycle.Allowed(order.Status, who.Role)
	if intents == nil {
		intents = []lifecycle.Intent{}
	}
	c.JSON(http.StatusOK, gin.H{"status": order.Status, "intents": intents})
}

// transition applies an intent. With ?async=true it answers 202 with the
// optimistic order as soon as it is staged; otherwise it waits for
// confirmation.
func (g *Gateway) transition(c *gin.Context) {
	var req lifecycle.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": models.KindValidation})
		return
	}
	pending, err := g.coordinator.Submit(c.Request.Context(), c.Param("id"), actorFrom(c), req)
	if err != nil {
		g.writeError(c, err)
		return
	}
	g.respondPending(c, pending)
}

func (g *Gateway) escrowOverride(c *gin.Context) {
	action := escrow.Action(c.Param("action"))
	pending, err := g.coordinator.Override(c.Request.Context(), c.Param("id"), actorFrom(c), action)
	if err != nil {
		g.writeError(c, err)
		return
	}
	g.respondPending(c, pending)
}

func (g *Gateway) respondPending(c *gin.Context, pending *reconcile.Pending) {
	if c.Query("async") == "true" {
		g.respondStaged(c, pending.OrderID())
		return
	}
	ctx := c.Request.Context()
	if timeout := g.config.Reconcile.WaitTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	result := pending.Wait(ctx)
	if errors.Is(result.Err, context.DeadlineExceeded) {
		g.respondStaged(c, pending.OrderID())
		return
	}
	if result.Err != nil {
		g.writeError(c, result.Err)
		return
	}
	c.JSON(http.StatusOK, result.Order)
}

func (g *Gateway) respondStaged(c *gin.Context, orderID string) {
	order, err := g.store.Get(orderID)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, order)
}

func (g *Gateway) buyerOrders(c *gin.Context) {
	who := actorFrom(c)
	if who.Role != models.RoleBuyer {
		g.writeError(c, models.NewError(models.KindPermissionDenied, "", "buyer view requires the buyer role"))
		return
	}
	c.JSON(http.StatusOK, g.views.Buyer(who.ID))
}

func (g *Gateway) sellerQueues(c *gin.Context) {
	who := actorFrom(c)
	if who.Role != models.RoleSeller {
		g.writeError(c, models.NewError(models.KindPermissionDenied, "", "seller view requires the seller role"))
		return
	}
	c.JSON(http.StatusOK, g.views.Seller(who.ID))
}

func (g *Gateway) adminOrders(c *gin.Context) {
	if actorFrom(c).Role != models.RoleAdmin {
		g.writeError(c, models.NewError(models.KindPermissionDenied, "", "admin view requires the admin role"))
		return
	}
	var q views.AdminQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": models.KindValidation})
		return
	}
	orders := g.views.Admin(q)
	c.JSON(http.StatusOK, gin.H{"orders": orders, "total": len(orders)})
}

// AuditReader lists the recorded mutation outcomes of an order.
type AuditReader interface {
	GetAuditLogs(ctx context.Context, orderID string, limit int64) ([]*repository.AuditLog, error)
}

type auditQuery struct {
	Limit int64 `form:"limit" binding:"omitempty,min=1,max=500"`
}

func (g *Gateway) adminOrderAudit(c *gin.Context) {
	if actorFrom(c).Role != models.RoleAdmin {
		g.writeError(c, models.NewError(models.KindPermissionDenied, "", "audit trail requires the admin role"))
		return
	}
	if g.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log is disabled"})
		return
	}
	id := c.Param("id")
	if _, err := g.store.Committed(id); err != nil {
		g.writeError(c, err)
		return
	}
	var q auditQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": models.KindValidation})
		return
	}
	if q.Limit == 0 {
		q.Limit = 50
	}
	entries, err := g.audit.GetAuditLogs(c.Request.Context(), id, q.Limit)
	if err != nil {
		g.logger.Error("Failed to read audit log", zap.String("order_id", id), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "audit log unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orderId": id, "entries": entries})
}

func (g *Gateway) adminStats(c *gin.Context) {
	if actorFrom(c).Role != models.RoleAdmin {
		g.writeError(c, models.NewError(models.KindPermissionDenied, "", "admin view requires the admin role"))
		return
	}
	c.JSON(http.StatusOK, g.views.Stats())
}
