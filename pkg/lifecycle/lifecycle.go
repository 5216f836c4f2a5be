// Package lifecycle holds the order transition table. Everything here is pure:
// functions take the current status and a request and never touch shared state.
package lifecycle

import (
	"strings"

	"github.com/example/marketplace/pkg/models"
)

type Intent string

const (
	IntentCancel          Intent = "cancel"
	IntentConfirmDelivery Intent = "confirm_delivery"
	IntentRequestRefund   Intent = "request_refund"
	IntentReportIssue     Intent = "report_issue"
	IntentAccept          Intent = "accept"
	IntentDecline         Intent = "decline"
	IntentBeginProcessing Intent = "begin_processing"
	IntentShip            Intent = "ship"
	IntentMarkPaid        Intent = "mark_paid"
	IntentMarkDelivered   Intent = "mark_delivered"
)

// Request is an actor's intent plus the auxiliary fields some transitions need.
type Request struct {
	Intent       Intent        `json:"intent"`
	Reason       string        `json:"reason,omitempty"`
	Evidence     []string      `json:"evidence,omitempty"`
	TrackingInfo string        `json:"trackingInfo,omitempty"`
	Issue        *models.Issue `json:"issue,omitempty"`
}

type requirement int

const (
	requiresNothing requirement = iota
	requiresReason
	requiresTracking
	requiresIssue
)

type rule struct {
	role     models.Role
	from     []models.Status
	to       models.Status
	requires requirement
}

var transitions = map[Intent]rule{
	IntentCancel: {
		role:     models.RoleBuyer,
		from:     []models.Status{models.StatusPendingPayment, models.StatusPaid, models.StatusAccepted, models.StatusProcessing},
		to:       models.StatusCancelled,
		requires: requiresReason,
	},
	IntentConfirmDelivery: {
		role: models.RoleBuyer,
		from: []models.Status{models.StatusDelivered},
		to:   models.StatusCompleted,
	},
	IntentRequestRefund: {
		role:     models.RoleBuyer,
		from:     []models.Status{models.StatusDelivered},
		to:       models.StatusRefundRequested,
		requires: requiresReason,
	},
	IntentReportIssue: {
		role:     models.RoleBuyer,
		from:     []models.Status{models.StatusDelivered},
		to:       models.StatusRefundRequested,
		requires: requiresIssue,
	},
	IntentAccept: {
		role: models.RoleSeller,
		from: []models.Status{models.StatusPaid},
		to:   models.StatusAccepted,
	},
	IntentDecline: {
		role: models.RoleSeller,
		from: []models.Status{models.StatusPaid},
		to:   models.StatusCancelled,
	},
	IntentBeginProcessing: {
		role: models.RoleSeller,
		from: []models.Status{models.StatusAccepted},
		to:   models.StatusProcessing,
	},
	IntentShip: {
		role:     models.RoleSeller,
		from:     []models.Status{models.StatusProcessing},
		to:       models.StatusShipped,
		requires: requiresTracking,
	},
	IntentMarkPaid: {
		role: models.RoleSystem,
		from: []models.Status{models.StatusPendingPayment},
		to:   models.StatusPaid,
	},
	IntentMarkDelivered: {
		role: models.RoleSystem,
		from: []models.Status{models.StatusShipped},
		to:   models.StatusDelivered,
	},
}

// Validate returns the status the request leads to from the given status, or an
// InvalidTransition, PermissionDenied or ValidationError.
func Validate(from models.Status, role models.Role, req Request) (models.Status, error) {
	r, ok := transitions[req.Intent]
	if !ok {
		return "", models.NewError(models.KindInvalidTransition, "", "unknown intent %q", req.Intent)
	}
	if role != r.role {
		return "", models.NewError(models.KindPermissionDenied, "", "role %q cannot %s", role, req.Intent)
	}
	if !contains(r.from, from) {
		return "", models.NewError(models.KindInvalidTransition, "", "cannot %s from %s", req.Intent, from)
	}
	switch r.requires {
	case requiresReason:
		if strings.TrimSpace(req.Reason) == "" {
			return "", models.NewError(models.KindValidation, "", "%s requires a reason", req.Intent)
		}
	case requiresTracking:
		if strings.TrimSpace(req.TrackingInfo) == "" {
			return "", models.NewError(models.KindValidation, "", "%s requires tracking info", req.Intent)
		}
	case requiresIssue:
		if req.Issue == nil || strings.TrimSpace(req.Issue.Description) == "" {
			return "", models.NewError(models.KindValidation, "", "%s requires an issue description", req.Intent)
		}
	}
	return r.to, nil
}

// Allowed lists the intents the role may issue from the given status.
func Allowed(from models.Status, role models.Role) []Intent {
	var out []Intent
	for _, intent := range intentOrder {
		r := transitions[intent]
		if r.role == role && contains(r.from, from) {
			out = append(out, intent)
		}
	}
	return out
}

var intentOrder = []Intent{
	IntentMarkPaid,
	IntentAccept,
	IntentDecline,
	IntentBeginProcessing,
	IntentShip,
	IntentMarkDelivered,
	IntentConfirmDelivery,
	IntentRequestRefund,
	IntentReportIssue,
	IntentCancel,
}

// ApplyFields copies the request's auxiliary fields onto order for the given intent.
// The caller owns order; it must be a private copy.
func ApplyFields(order *models.Order, req Request) {
	switch req.Intent {
	case IntentCancel:
		order.CancelReason = models.StringPtr(strings.TrimSpace(req.Reason))
	case IntentDecline:
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			reason = "declined by seller"
		}
		order.CancelReason = models.StringPtr(reason)
	case IntentRequestRefund:
		order.RefundReason = models.StringPtr(strings.TrimSpace(req.Reason))
	case IntentReportIssue:
		issue := *req.Issue
		issue.Photos = append([]string(nil), req.Issue.Photos...)
		order.Issue = &issue
		order.RefundReason = models.StringPtr(strings.TrimSpace(issue.Description))
	case IntentShip:
		order.TrackingInfo = models.StringPtr(strings.TrimSpace(req.TrackingInfo))
	}
}

func contains(statuses []models.Status, s models.Status) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}
