package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/reconcile"
	"github.com/stretchr/testify/require"
)

func TestNewAuditLogCommitted(t *testing.T) {
	order := sampleOrder()
	order.Status = models.StatusPaid
	order.EscrowStatus = models.EscrowHeld

	entry := NewAuditLog(reconcile.Event{
		Kind:     reconcile.EventCommitted,
		OrderID:  order.ID,
		Action:   "mark_paid",
		Actor:    models.Actor{ID: "payments", Role: models.RoleSystem},
		From:     models.StatusPendingPayment,
		To:       models.StatusPaid,
		Order:    order,
		Duration: 42 * time.Millisecond,
	})

	require.Equal(t, "order-service", entry.Service)
	require.Equal(t, "mark_paid", entry.Action)
	require.Equal(t, "committed", entry.Outcome)
	require.Equal(t, order.ID, entry.EntityID)
	require.Equal(t, "payments", entry.ActorID)
	require.Equal(t, string(models.RoleSystem), entry.ActorRole)
	require.Equal(t, "pending_payment", entry.From)
	require.Equal(t, "paid", entry.To)
	require.Empty(t, entry.Error)
	require.EqualValues(t, 42, entry.DurationMS)
	require.Equal(t, order.Ref, entry.Data["ref"])
	require.Equal(t, "paid", entry.Data["status"])
	require.Equal(t, "held", entry.Data["escrow_status"])
	require.Equal(t, order.Total, entry.Data["total"])
}

func TestNewAuditLogRolledBack(t *testing.T) {
	order := sampleOrder()
	cause := models.NewError(models.KindPersistenceFailure, order.ID, "database unavailable")

	entry := NewAuditLog(reconcile.Event{
		Kind:    reconcile.EventRolledBack,
		OrderID: order.ID,
		Action:  "accept",
		Actor:   models.Actor{ID: "seller-1", Role: models.RoleSeller},
		From:    models.StatusPaid,
		To:      models.StatusAccepted,
		Order:   order,
		Err:     cause,
	})

	require.Equal(t, "rolled_back", entry.Outcome)
	require.Equal(t, "paid", entry.From)
	require.Equal(t, "accepted", entry.To)
	require.Equal(t, cause.Error(), entry.Error)
	require.Contains(t, entry.Error, "database unavailable")
	require.NotNil(t, entry.Data)
}

func TestNewAuditLogRejectedWithoutOrder(t *testing.T) {
	entry := NewAuditLog(reconcile.Event{
		Kind:    reconcile.EventRejected,
		OrderID: "missing",
		Action:  "ship",
		Actor:   models.Actor{ID: "seller-2", Role: models.RoleSeller},
		Err:     errors.New("order not found"),
	})

	require.Equal(t, "rejected", entry.Outcome)
	require.Equal(t, "missing", entry.EntityID)
	require.Equal(t, "seller-2", entry.ActorID)
	require.Empty(t, entry.From)
	require.Empty(t, entry.To)
	require.Equal(t, "order not found", entry.Error)
	require.Nil(t, entry.Data)
	require.Zero(t, entry.DurationMS)
}
