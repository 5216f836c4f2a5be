package escrow

import (
	"testing"

	"github.com/example/marketplace/pkg/models"
	"github.com/stretchr/testify/require"
)

func TestForCouplingTable(t *testing.T) {
	t.Parallel()

	cases := map[models.Status]models.EscrowStatus{
		models.StatusPendingPayment:  models.EscrowPending,
		models.StatusPaid:            models.EscrowHeld,
		models.StatusAccepted:        models.EscrowHeld,
		models.StatusProcessing:      models.EscrowHeld,
		models.StatusShipped:         models.EscrowHeld,
		models.StatusDelivered:       models.EscrowHeld,
		models.StatusDisputed:        models.EscrowFrozen,
		models.StatusRefundRequested: models.EscrowFrozen,
		models.StatusCompleted:       models.EscrowReleased,
		models.StatusCancelled:       models.EscrowRefunded,
		models.StatusRefunded:        models.EscrowRefunded,
	}
	for status, want := range cases {
		require.Equal(t, want, For(status), string(status))
	}
	require.Empty(t, For("bogus"))
}

func TestCheckAndRepair(t *testing.T) {
	t.Parallel()

	order := &models.Order{Status: models.StatusShipped, EscrowStatus: models.EscrowFrozen}
	require.Error(t, Check(order))
	require.True(t, Repair(order))
	require.Equal(t, models.EscrowHeld, order.EscrowStatus)
	require.NoError(t, Check(order))
	require.False(t, Repair(order))

	require.Error(t, Check(&models.Order{Status: "bogus"}))
}

func TestOverrideRequiresAdmin(t *testing.T) {
	t.Parallel()

	order := &models.Order{ID: "o1", Status: models.StatusDelivered, EscrowStatus: models.EscrowHeld}
	for _, role := range []models.Role{models.RoleBuyer, models.RoleSeller, models.RoleSystem} {
		_, err := Override(order, role, ActionRelease)
		require.ErrorIs(t, err, models.ErrPermissionDenied)
	}
}

func TestOverrideTargets(t *testing.T) {
	t.Parallel()

	cases := []struct {
		action Action
		from   models.Status
		status models.Status
		escrow models.EscrowStatus
	}{
		{ActionFreeze, models.StatusShipped, models.StatusDisputed, models.EscrowFrozen},
		{ActionRelease, models.StatusDisputed, models.StatusCompleted, models.EscrowReleased},
		{ActionRefund, models.StatusRefundRequested, models.StatusRefunded, models.EscrowRefunded},
		{ActionRefund, models.StatusPendingPayment, models.StatusRefunded, models.EscrowRefunded},
		{ActionRelease, models.StatusProcessing, models.StatusCompleted, models.EscrowReleased},
	}
	for _, tc := range cases {
		order := &models.Order{ID: "o1", Status: tc.from, EscrowStatus: For(tc.from)}
		d, err := Override(order, models.RoleAdmin, tc.action)
		require.NoError(t, err, "%s from %s", tc.action, tc.from)
		require.False(t, d.NoOp)
		require.Equal(t, tc.status, d.Status)
		require.Equal(t, tc.escrow, d.Escrow)
	}
}

func TestOverrideIdempotentAtTarget(t *testing.T) {
	t.Parallel()

	order := &models.Order{ID: "o1", Status: models.StatusCompleted, EscrowStatus: models.EscrowReleased}
	d, err := Override(order, models.RoleAdmin, ActionRelease)
	require.NoError(t, err)
	require.True(t, d.NoOp)
	require.Equal(t, models.StatusCompleted, d.Status)

	frozen := &models.Order{ID: "o2", Status: models.StatusRefundRequested, EscrowStatus: models.EscrowFrozen}
	d, err = Override(frozen, models.RoleAdmin, ActionFreeze)
	require.NoError(t, err)
	require.True(t, d.NoOp)
	require.Equal(t, models.StatusRefundRequested, d.Status)
}

func TestOverrideTerminalIsClosed(t *testing.T) {
	t.Parallel()

	completed := &models.Order{ID: "o1", Status: models.StatusCompleted, EscrowStatus: models.EscrowReleased}
	_, err := Override(completed, models.RoleAdmin, ActionFreeze)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	refunded := &models.Order{ID: "o2", Status: models.StatusRefunded, EscrowStatus: models.EscrowRefunded}
	_, err = Override(refunded, models.RoleAdmin, ActionRelease)
	require.ErrorIs(t, err, models.ErrInvalidTransition)

	pending := &models.Order{ID: "o3", Status: models.StatusPendingPayment, EscrowStatus: models.EscrowPending}
	_, err = Override(pending, models.RoleAdmin, ActionRelease)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = Override(pending, models.RoleAdmin, ActionFreeze)
	require.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestOverrideUnknownAction(t *testing.T) {
	t.Parallel()

	order := &models.Order{ID: "o1", Status: models.StatusShipped, EscrowStatus: models.EscrowHeld}
	_, err := Override(order, models.RoleAdmin, "seize")
	require.ErrorIs(t, err, models.ErrValidation)
}
