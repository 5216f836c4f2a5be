package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/marketplace/pkg/config"
	"github.com/example/marketplace/pkg/models"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository is the durable persistence collaborator backed by MySQL.
type OrderRepository struct {
	db *gorm.DB
}

func NewMySQLRepository(cfg *config.MySQLConfig) (*OrderRepository, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql db: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	// Auto migrate
	if err := db.AutoMigrate(&OrderRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return NewOrderRepository(db), nil
}

// NewOrderRepository wraps an open gorm handle.
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *OrderRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	rec, err := ToRecord(order)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return rec.Order()
}

func (r *OrderRepository) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var rec OrderRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.NewError(models.KindNotFound, id, "order not found")
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return rec.Order()
}

func (r *OrderRepository) ListOrders(ctx context.Context, filter models.ListFilter) (*models.ListResult, error) {
	query := r.db.WithContext(ctx).Model(&OrderRecord{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.ActorID != "" {
		switch filter.Role {
		case models.RoleBuyer:
			query = query.Where("buyer_id = ?", filter.ActorID)
		case models.RoleSeller:
			query = query.Where("seller_id = ?", filter.ActorID)
		}
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	var recs []OrderRecord
	if err := query.Order("created_at ASC, id ASC").Offset((page - 1) * limit).Limit(limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	result := &models.ListResult{Orders: make([]*models.Order, 0, len(recs)), Total: total}
	for i := range recs {
		o, err := recs[i].Order()
		if err != nil {
			return nil, fmt.Errorf("order %s: %w", recs[i].ID, err)
		}
		result.Orders = append(result.Orders, o)
	}
	return result, nil
}

func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, id string, status models.Status, meta models.StatusMeta) (*models.Order, error) {
	return r.transition(ctx, id, status, meta)
}

func (r *OrderRepository) CancelOrder(ctx context.Context, id, reason string, meta models.StatusMeta) (*models.Order, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, models.NewError(models.KindValidation, id, "cancel reason is required")
	}
	meta.CancelReason = &reason
	return r.transition(ctx, id, models.StatusCancelled, meta)
}

func (r *OrderRepository) ConfirmDelivery(ctx context.Context, id string, meta models.StatusMeta) (*models.Order, error) {
	return r.transition(ctx, id, models.StatusCompleted, meta)
}

func (r *OrderRepository) RequestRefund(ctx context.Context, id string, req models.RefundRequest, meta models.StatusMeta) (*models.Order, error) {
	meta.RefundReason = &req.Reason
	return r.transition(ctx, id, models.StatusRefundRequested, meta)
}

func (r *OrderRepository) ReportIssue(ctx context.Context, id string, issue models.Issue, meta models.StatusMeta) (*models.Order, error) {
	meta.Issue = &issue
	return r.transition(ctx, id, models.StatusRefundRequested, meta)
}

// transition locks the row, appends the confirmed timeline entry and saves
// the record in one transaction.
func (r *OrderRepository) transition(ctx context.Context, id string, status models.Status, meta models.StatusMeta) (*models.Order, error) {
	var out *models.Order
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec OrderRecord
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&rec).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return models.NewError(models.KindNotFound, id, "order not found")
			}
			return err
		}
		if err := rec.applyMeta(status, meta); err != nil {
			return err
		}
		if err := tx.Save(&rec).Error; err != nil {
			return err
		}
		o, err := rec.Order()
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update order %s: %w", id, err)
	}
	return out, nil
}
