package reconcile

import (
	"context"

	"github.com/example/marketplace/pkg/lifecycle"
	"github.com/example/marketplace/pkg/models"
)

// Persister is the remote authority that confirms mutations. Any error is
// treated as a rejection and rolls the optimistic write back.
type Persister interface {
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	UpdateOrderStatus(ctx context.Context, id string, status models.Status, meta models.StatusMeta) (*models.Order, error)
	CancelOrder(ctx context.Context, id, reason string, meta models.StatusMeta) (*models.Order, error)
	ConfirmDelivery(ctx context.Context, id string, meta models.StatusMeta) (*models.Order, error)
	RequestRefund(ctx context.Context, id string, req models.RefundRequest, meta models.StatusMeta) (*models.Order, error)
	ReportIssue(ctx context.Context, id string, issue models.Issue, meta models.StatusMeta) (*models.Order, error)
}

// persist routes a staged mutation to the matching collaborator call.
func persist(ctx context.Context, p Persister, staged *models.Order, req lifecycle.Request, meta models.StatusMeta) error {
	var err error
	switch req.Intent {
	case lifecycle.IntentCancel:
		_, err = p.CancelOrder(ctx, staged.ID, *staged.CancelReason, meta)
	case lifecycle.IntentConfirmDelivery:
		_, err = p.ConfirmDelivery(ctx, staged.ID, meta)
	case lifecycle.IntentRequestRefund:
		_, err = p.RequestRefund(ctx, staged.ID, models.RefundRequest{Reason: req.Reason, Evidence: req.Evidence}, meta)
	case lifecycle.IntentReportIssue:
		_, err = p.ReportIssue(ctx, staged.ID, *staged.Issue, meta)
	default:
		_, err = p.UpdateOrderStatus(ctx, staged.ID, staged.Status, meta)
	}
	return err
}

func metaFor(staged *models.Order, intent string, override string) models.StatusMeta {
	return models.StatusMeta{
		Intent:       intent,
		EscrowStatus: staged.EscrowStatus,
		TrackingInfo: staged.TrackingInfo,
		CancelReason: staged.CancelReason,
		RefundReason: staged.RefundReason,
		Issue:        staged.Issue,
		Override:     override,
		Entry:        staged.Timeline[len(staged.Timeline)-1],
	}
}
