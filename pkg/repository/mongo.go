package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/reconcile"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoRepository stores the audit trail of every mutation attempt,
// including rejected and rolled back ones.
type MongoRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     *zap.Logger
}

func NewMongoRepository(cfg *config.MongoDBConfig, logger *zap.Logger) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}

	return &MongoRepository{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		logger:     logger,
	}, nil
}

func (m *MongoRepository) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// AuditLog is one recorded mutation outcome of an order.
type AuditLog struct {
	ID         string    `json:"-" bson:"_id,omitempty"`
	Service    string    `json:"service" bson:"service"`
	Action     string    `json:"action" bson:"action"`
	Outcome    string    `json:"outcome" bson:"outcome"`
	EntityID   string    `json:"orderId" bson:"entity_id"`
	ActorID    string    `json:"actorId" bson:"actor_id"`
	ActorRole  string    `json:"actorRole" bson:"actor_role"`
	From       string    `json:"from,omitempty" bson:"from,omitempty"`
	To         string    `json:"to,omitempty" bson:"to,omitempty"`
	Error      string    `json:"error,omitempty" bson:"error,omitempty"`
	DurationMS int64     `json:"durationMs" bson:"duration_ms"`
	Data       bson.M    `json:"data,omitempty" bson:"data,omitempty"`
	CreatedAt  time.Time `json:"createdAt" bson:"created_at"`
}

// NewAuditLog converts a reconciliation event into an audit entry.
func NewAuditLog(ev reconcile.Event) *AuditLog {
	entry := &AuditLog{
		Service:    "order-service",
		Action:     ev.Action,
		Outcome:    string(ev.Kind),
		EntityID:   ev.OrderID,
		ActorID:    ev.Actor.ID,
		ActorRole:  string(ev.Actor.Role),
		From:       string(ev.From),
		To:         string(ev.To),
		DurationMS: ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}
	if ev.Order != nil {
		entry.Data = bson.M{
			"ref":           ev.Order.Ref,
			"status":        string(ev.Order.Status),
			"escrow_status": string(ev.Order.EscrowStatus),
			"total":         ev.Order.Total,
		}
	}
	return entry
}

func (m *MongoRepository) CreateAuditLog(ctx context.Context, log *AuditLog) error {
	log.CreatedAt = time.Now().UTC()
	_, err := m.collection.InsertOne(ctx, log)
	return err
}

// GetAuditLogs returns the newest entries recorded for an order, newest first.
func (m *MongoRepository) GetAuditLogs(ctx context.Context, orderID string, limit int64) ([]*AuditLog, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit)
	cursor, err := m.collection.Find(ctx, bson.M{"entity_id": orderID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log of %s: %w", orderID, err)
	}
	defer cursor.Close(ctx)

	logs := make([]*AuditLog, 0)
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("failed to decode audit log of %s: %w", orderID, err)
	}
	return logs, nil
}

// Observe writes the audit entry off the order actor so a slow Mongo never
// delays the next mutation.
func (m *MongoRepository) Observe(_ context.Context, ev reconcile.Event) {
	entry := NewAuditLog(ev)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.CreateAuditLog(ctx, entry); err != nil {
			m.logger.Warn("Failed to write audit log", zap.String("order_id", entry.EntityID), zap.Error(err))
		}
	}()
}
