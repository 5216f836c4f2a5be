package escrow

import (
	"fmt"

	"github.com/example/marketplace/pkg/models"
)

type Action string

const (
	ActionFreeze  Action = "freeze"
	ActionRelease Action = "release"
	ActionRefund  Action = "refund"
)

// For returns the escrow status an order in the given status must carry.
func For(status models.Status) models.EscrowStatus {
	switch status {
	case models.StatusPendingPayment:
		return models.EscrowPending
	case models.StatusPaid, models.StatusAccepted, models.StatusProcessing, models.StatusShipped, models.StatusDelivered:
		return models.EscrowHeld
	case models.StatusDisputed, models.StatusRefundRequested:
		return models.EscrowFrozen
	case models.StatusCompleted:
		return models.EscrowReleased
	case models.StatusCancelled, models.StatusRefunded:
		return models.EscrowRefunded
	}
	return ""
}

// Check returns an error describing the first coupling violation on order.
func Check(order *models.Order) error {
	want := For(order.Status)
	if want == "" {
		return fmt.Errorf("unknown order status %q", order.Status)
	}
	if order.EscrowStatus != want {
		return fmt.Errorf("escrow %q does not match order status %q (want %q)", order.EscrowStatus, order.Status, want)
	}
	return nil
}

// Repair forces the coupled escrow status onto order and reports whether it changed.
func Repair(order *models.Order) bool {
	want := For(order.Status)
	if want == "" || order.EscrowStatus == want {
		return false
	}
	order.EscrowStatus = want
	return true
}

// Decision is the outcome of an admin override.
type Decision struct {
	Status models.Status
	Escrow models.EscrowStatus
	// NoOp is set when escrow is already at the target; nothing should change.
	NoOp bool
}

var overrides = map[Action]Decision{
	ActionFreeze:  {Status: models.StatusDisputed, Escrow: models.EscrowFrozen},
	ActionRelease: {Status: models.StatusCompleted, Escrow: models.EscrowReleased},
	ActionRefund:  {Status: models.StatusRefunded, Escrow: models.EscrowRefunded},
}

// Override decides an admin escrow override. It bypasses the role table but
// treats terminal orders as closed: only a repeat of the override that produced
// the current escrow state succeeds, as a no-op.
func Override(order *models.Order, role models.Role, action Action) (Decision, error) {
	if role != models.RoleAdmin {
		return Decision{}, models.NewError(models.KindPermissionDenied, order.ID, "escrow %s requires admin", action)
	}
	d, ok := overrides[action]
	if !ok {
		return Decision{}, models.NewError(models.KindValidation, order.ID, "unknown escrow action %q", action)
	}
	if order.EscrowStatus == d.Escrow {
		return Decision{Status: order.Status, Escrow: order.EscrowStatus, NoOp: true}, nil
	}
	if order.Status.Terminal() {
		return Decision{}, models.NewError(models.KindInvalidTransition, order.ID, "cannot %s escrow of %s order", action, order.Status)
	}
	// Nothing is held before payment, so only a refund (voiding the order) applies.
	if order.Status == models.StatusPendingPayment && action != ActionRefund {
		return Decision{}, models.NewError(models.KindInvalidTransition, order.ID, "cannot %s escrow before payment", action)
	}
	return d, nil
}
