package reconcile

import (
	"context"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/marketplace/pkg/escrow"
	"github.com/example/marketplace/pkg/lifecycle"
	"github.com/example/marketplace/pkg/models"
	"go.uber.org/zap"
)

// command is the message an order actor receives. Exactly one of request and
// override is set.
type command struct {
	orderID  string
	actor    models.Actor
	request  lifecycle.Request
	override escrow.Action

	applied chan error
	done    chan Result
}

func (c *command) action() string {
	if c.override != "" {
		return "escrow_" + string(c.override)
	}
	return string(c.request.Intent)
}

// orderActor owns all writes to one order. Its mailbox serializes the
// snapshot, apply and confirm-or-revert sequence, so a rollback can never
// erase a write made by another command on the same order.
type orderActor struct {
	coordinator *Coordinator
	orderID     string
	logger      *zap.Logger
}

func (a *orderActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		a.logger = a.coordinator.logger.Named("order-actor").With(zap.String("order_id", a.orderID))
		a.logger.Debug("Order actor started")

	case *command:
		a.handle(msg)

	case *actor.Stopped:
		a.logger.Debug("Order actor stopped")
	}
}

func (a *orderActor) handle(cmd *command) {
	c := a.coordinator
	bg := context.Background()
	start := time.Now()

	current, err := c.store.Committed(cmd.orderID)
	if err != nil {
		a.reject(bg, cmd, nil, err)
		return
	}

	target, escrowTarget, noop, err := decide(current, cmd)
	if err != nil {
		a.reject(bg, cmd, current, err)
		return
	}
	if noop {
		cmd.applied <- nil
		cmd.done <- Result{Order: current, Prior: current}
		return
	}

	prior, staged, err := c.store.Stage(cmd.orderID, func(o *models.Order) error {
		if cmd.override == "" {
			lifecycle.ApplyFields(o, cmd.request)
		}
		o.Status = target
		o.EscrowStatus = escrowTarget
		return nil
	})
	if err != nil {
		a.reject(bg, cmd, current, err)
		return
	}
	cmd.applied <- nil

	meta := metaFor(staged, cmd.action(), string(cmd.override))
	var perr error
	if cmd.override != "" {
		_, perr = c.persister.UpdateOrderStatus(bg, staged.ID, staged.Status, meta)
	} else {
		perr = persist(bg, c.persister, staged, cmd.request, meta)
	}

	if perr != nil {
		restored, rerr := c.store.Rollback(cmd.orderID)
		if rerr != nil {
			restored = prior
		}
		failure := &models.Error{
			Kind:    models.KindPersistenceFailure,
			OrderID: cmd.orderID,
			Message: cmd.action() + " was not confirmed",
			Prior:   restored,
			Err:     perr,
		}
		a.logger.Warn("Mutation rolled back",
			zap.String("action", cmd.action()),
			zap.String("from", string(prior.Status)),
			zap.String("to", string(staged.Status)),
			zap.Error(perr))
		c.notify(bg, Event{
			Kind: EventRolledBack, OrderID: cmd.orderID, Action: cmd.action(), Actor: cmd.actor,
			From: prior.Status, To: staged.Status, Order: restored, Err: failure, Duration: time.Since(start),
		})
		cmd.done <- Result{Order: restored, Prior: prior, Err: failure}
		return
	}

	committed, err := c.store.Commit(cmd.orderID)
	if err != nil {
		cmd.done <- Result{Order: prior, Prior: prior, Err: err}
		return
	}
	a.logger.Info("Mutation committed",
		zap.String("action", cmd.action()),
		zap.String("from", string(prior.Status)),
		zap.String("to", string(committed.Status)),
		zap.String("escrow", string(committed.EscrowStatus)))
	c.notify(bg, Event{
		Kind: EventCommitted, OrderID: cmd.orderID, Action: cmd.action(), Actor: cmd.actor,
		From: prior.Status, To: committed.Status, Order: committed, Duration: time.Since(start),
	})
	cmd.done <- Result{Order: committed, Prior: prior}
}

func (a *orderActor) reject(ctx context.Context, cmd *command, current *models.Order, err error) {
	if e, ok := err.(*models.Error); ok && e.OrderID == "" {
		e.OrderID = cmd.orderID
	}
	ev := Event{Kind: EventRejected, OrderID: cmd.orderID, Action: cmd.action(), Actor: cmd.actor, Order: current, Err: err}
	if current != nil {
		ev.From = current.Status
	}
	a.coordinator.notify(ctx, ev)
	cmd.applied <- err
	cmd.done <- Result{Order: current, Err: err}
}

// decide validates cmd against the committed order and returns the target
// status and escrow.
func decide(current *models.Order, cmd *command) (models.Status, models.EscrowStatus, bool, error) {
	if cmd.override != "" {
		d, err := escrow.Override(current, cmd.actor.Role, cmd.override)
		if err != nil {
			return "", "", false, err
		}
		return d.Status, d.Escrow, d.NoOp, nil
	}
	if err := checkOwnership(current, cmd.actor); err != nil {
		return "", "", false, err
	}
	target, err := lifecycle.Validate(current.Status, cmd.actor.Role, cmd.request)
	if err != nil {
		return "", "", false, err
	}
	return target, escrow.For(target), false, nil
}

func checkOwnership(order *models.Order, who models.Actor) error {
	switch who.Role {
	case models.RoleBuyer:
		if who.ID != order.BuyerID {
			return models.NewError(models.KindPermissionDenied, order.ID, "order belongs to another buyer")
		}
	case models.RoleSeller:
		if who.ID != order.SellerID {
			return models.NewError(models.KindPermissionDenied, order.ID, "order belongs to another seller")
		}
	}
	return nil
}
