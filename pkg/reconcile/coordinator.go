// Package reconcile applies order mutations optimistically and reconciles them
// with the persistence collaborator, rolling back on rejection.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/marketplace/pkg/escrow"
	"github.com/example/marketplace/pkg/lifecycle"
	"github.com/example/marketplace/pkg/models"
	"github.com/example/marketplace/pkg/store"
	"go.uber.org/zap"
)

// Result is the final outcome of a mutation. On PersistenceFailure, Order is
// the restored pre-mutation state.
type Result struct {
	Order *models.Order
	Prior *models.Order
	Err   error
}

// Pending is a mutation that has been applied optimistically and is awaiting
// confirmation.
type Pending struct {
	orderID string
	done    chan Result
}

func (p *Pending) OrderID() string {
	return p.orderID
}

// Wait blocks until the mutation is confirmed or rolled back, or ctx ends.
// Ending ctx stops the wait only; the reconciliation still completes. Wait
// may be called any number of times.
func (p *Pending) Wait(ctx context.Context) Result {
	select {
	case r := <-p.done:
		p.done <- r
		return r
	case <-ctx.Done():
		return Result{Err: ctx.Err()}
	}
}

type Coordinator struct {
	system    *actor.ActorSystem
	store     *store.Store
	persister Persister
	observers []Observer
	logger    *zap.Logger

	mu     sync.Mutex
	pids   map[string]*actor.PID
	closed bool
}

type Option func(*Coordinator)

func WithObservers(observers ...Observer) Option {
	return func(c *Coordinator) {
		c.observers = append(c.observers, observers...)
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

func NewCoordinator(system *actor.ActorSystem, st *store.Store, p Persister, opts ...Option) *Coordinator {
	c := &Coordinator{
		system:    system,
		store:     st,
		persister: p,
		logger:    zap.NewNop(),
		pids:      make(map[string]*actor.PID),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create persists a new order through the collaborator and inserts it into
// the store once confirmed.
func (c *Coordinator) Create(ctx context.Context, in store.CreateInput) (*models.Order, error) {
	order, err := c.store.Prepare(in)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if _, err := c.persister.CreateOrder(ctx, order.Clone()); err != nil {
		return nil, &models.Error{Kind: models.KindPersistenceFailure, OrderID: order.ID, Message: "create rejected", Err: err}
	}
	if err := c.store.Insert(order); err != nil {
		return nil, err
	}
	c.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("ref", order.Ref),
		zap.String("buyer_id", order.BuyerID),
		zap.Int64("total", order.Total))
	c.notify(ctx, Event{
		Kind:     EventCreated,
		OrderID:  order.ID,
		Action:   "create",
		Actor:    models.Actor{ID: order.BuyerID, Role: models.RoleBuyer},
		To:       order.Status,
		Order:    order.Clone(),
		Duration: time.Since(start),
	})
	return order.Clone(), nil
}

// Submit validates and optimistically applies a lifecycle transition. It
// returns once the optimistic state is visible in the store; validation
// errors are returned directly and leave the order untouched.
func (c *Coordinator) Submit(ctx context.Context, orderID string, who models.Actor, req lifecycle.Request) (*Pending, error) {
	return c.submit(ctx, &command{orderID: orderID, actor: who, request: req})
}

// Override submits an admin escrow override on the order's behalf.
func (c *Coordinator) Override(ctx context.Context, orderID string, who models.Actor, action escrow.Action) (*Pending, error) {
	return c.submit(ctx, &command{orderID: orderID, actor: who, override: action})
}

// Apply submits a transition and waits for reconciliation.
func (c *Coordinator) Apply(ctx context.Context, orderID string, who models.Actor, req lifecycle.Request) (*models.Order, error) {
	p, err := c.Submit(ctx, orderID, who, req)
	if err != nil {
		return nil, err
	}
	r := p.Wait(ctx)
	return r.Order, r.Err
}

// ApplyOverride submits an escrow override and waits for reconciliation.
func (c *Coordinator) ApplyOverride(ctx context.Context, orderID string, who models.Actor, action escrow.Action) (*models.Order, error) {
	p, err := c.Override(ctx, orderID, who, action)
	if err != nil {
		return nil, err
	}
	r := p.Wait(ctx)
	return r.Order, r.Err
}

func (c *Coordinator) submit(ctx context.Context, cmd *command) (*Pending, error) {
	if _, err := c.store.Committed(cmd.orderID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cmd.applied = make(chan error, 1)
	cmd.done = make(chan Result, 1)
	if err := c.send(cmd); err != nil {
		return nil, err
	}

	// The actor answers applied right after validation and staging. Once the
	// command is sent the caller must learn its outcome, so ctx is not
	// consulted here.
	if err := <-cmd.applied; err != nil {
		return nil, err
	}
	return &Pending{orderID: cmd.orderID, done: cmd.done}, nil
}

// send delivers cmd to the order's actor. It holds the lock across Send so
// Close cannot poison the actor between the closed check and delivery.
func (c *Coordinator) send(cmd *command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return models.NewError(models.KindPersistenceFailure, cmd.orderID, "coordinator is shutting down")
	}
	pid, ok := c.pids[cmd.orderID]
	if !ok {
		props := actor.PropsFromProducer(func() actor.Actor {
			return &orderActor{coordinator: c, orderID: cmd.orderID}
		})
		var err error
		pid, err = c.system.Root.SpawnNamed(props, "order-"+cmd.orderID)
		if err != nil {
			return fmt.Errorf("failed to spawn order actor: %w", err)
		}
		c.pids[cmd.orderID] = pid
	}
	c.system.Root.Send(pid, cmd)
	return nil
}

// Close stops every order actor after its queued mutations have drained.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	c.closed = true
	pids := make([]*actor.PID, 0, len(c.pids))
	for _, pid := range c.pids {
		pids = append(pids, pid)
	}
	c.pids = make(map[string]*actor.PID)
	c.mu.Unlock()

	var errs []error
	for _, pid := range pids {
		if err := c.system.Root.PoisonFuture(pid).Wait(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", pid.Id, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) notify(ctx context.Context, ev Event) {
	for _, o := range c.observers {
		o.Observe(ctx, ev)
	}
}
