package notifier

import (
	"context"

	"github.com/example/notification-pipeline/internal/models"
)

// SendOrderConfirmation notifies the customer that order was placed.
func (n *Notifier) SendOrderConfirmation(ctx context.Context, order models.Order) (Outcome, error) {
	return n.sendOrder(ctx, models.EmailTypeOrderConfirmation, order, nil)
}

// SendOrderShipped notifies the customer that order left the warehouse.
func (n *Notifier) SendOrderShipped(ctx context.Context, order models.Order) (Outcome, error) {
	return n.sendOrder(ctx, models.EmailTypeOrderShipped, order, nil)
}

// SendOrderDelivered notifies the customer that order arrived.
func (n *Notifier) SendOrderDelivered(ctx context.Context, order models.Order) (Outcome, error) {
	return n.sendOrder(ctx, models.EmailTypeOrderDelivered, order, nil)
}

// SendOrderCancelled notifies the customer that order was cancelled.
func (n *Notifier) SendOrderCancelled(ctx context.Context, order models.Order) (Outcome, error) {
	return n.sendOrder(ctx, models.EmailTypeOrderCancelled, order, nil)
}

// SendPaymentSuccess confirms payment for order.
func (n *Notifier) SendPaymentSuccess(ctx context.Context, order models.Order) (Outcome, error) {
	return n.sendOrder(ctx, models.EmailTypePaymentSuccess, order, nil)
}

// SendPaymentFailed tells the customer payment for order did not go through.
func (n *Notifier) SendPaymentFailed(ctx context.Context, order models.Order) (Outcome, error) {
	return n.sendOrder(ctx, models.EmailTypePaymentFailed, order, nil)
}

// SendRefundRequested acknowledges a refund request for order.
func (n *Notifier) SendRefundRequested(ctx context.Context, order models.Order, reason string) (Outcome, error) {
	return n.sendOrder(ctx, models.EmailTypeRefundRequested, order, map[string]any{"reason": reason})
}

// SendRefundApproved tells the customer their refund is on its way.
func (n *Notifier) SendRefundApproved(ctx context.Context, refund models.RefundApproval) (Outcome, error) {
	return n.sendOrder(ctx, models.EmailTypeRefundApproved, refund.Order, map[string]any{
		"refund_amount": refund.Amount,
		"refund_method": refund.RefundMethod,
	})
}

// SendRefundRejected tells the customer their refund was declined.
func (n *Notifier) SendRefundRejected(ctx context.Context, refund models.RefundRejection) (Outcome, error) {
	return n.sendOrder(ctx, models.EmailTypeRefundRejected, refund.Order, map[string]any{"reason": refund.Reason})
}

// SendWelcome greets a newly registered account.
func (n *Notifier) SendWelcome(ctx context.Context, account models.Account) (Outcome, error) {
	return n.sendAccount(ctx, models.EmailTypeWelcome, account)
}

// SendPasswordReset sends the reset link for account.
func (n *Notifier) SendPasswordReset(ctx context.Context, account models.Account) (Outcome, error) {
	return n.sendAccount(ctx, models.EmailTypePasswordReset, account)
}

// SendMemberInvitation invites a prospective member to an organization.
func (n *Notifier) SendMemberInvitation(ctx context.Context, inv models.Invitation) (Outcome, error) {
	data, err := toData(inv)
	if err != nil {
		return Outcome{}, err
	}
	return n.SendTransactional(ctx, Request{
		Type:           models.EmailTypeMemberInvitation,
		RecipientEmail: inv.Email,
		RecipientName:  inv.Name,
		Data:           data,
		LogData:        map[string]any{"organization": inv.Organization},
	})
}

// SendInviteAccepted tells the inviter that inv was accepted.
func (n *Notifier) SendInviteAccepted(ctx context.Context, inviter models.Account, inv models.Invitation) (Outcome, error) {
	member := inv.Name
	if member == "" {
		member = inv.Email
	}
	return n.SendTransactional(ctx, Request{
		Type:           models.EmailTypeInviteAccepted,
		RecipientEmail: inviter.Email,
		RecipientName:  inviter.Name,
		Data: map[string]any{
			"member_name":  member,
			"member_email": inv.Email,
			"organization": inv.Organization,
			"role":         inv.Role,
		},
		LogData: map[string]any{"organization": inv.Organization},
	})
}

// SendSubscriptionExpiring reminds the customer to renew sub.
func (n *Notifier) SendSubscriptionExpiring(ctx context.Context, sub models.Subscription) (Outcome, error) {
	return n.sendSubscription(ctx, models.EmailTypeSubscriptionExpiring, sub)
}

// SendSubscriptionRenewed confirms that sub was renewed.
func (n *Notifier) SendSubscriptionRenewed(ctx context.Context, sub models.Subscription) (Outcome, error) {
	return n.sendSubscription(ctx, models.EmailTypeSubscriptionRenewed, sub)
}

// SendAbandonedCart nudges the customer about items left in order's cart.
func (n *Notifier) SendAbandonedCart(ctx context.Context, cart models.Order, cartURL string) (Outcome, error) {
	data, err := orderData(cart)
	if err != nil {
		return Outcome{}, err
	}
	data["cart_url"] = cartURL
	return n.SendMarketing(ctx, Request{
		Type:           models.EmailTypeAbandonedCart,
		RecipientEmail: cart.CustomerEmail,
		RecipientName:  cart.CustomerName,
		Data:           data,
	})
}

// SendReviewRequest asks the customer to review a delivered order.
func (n *Notifier) SendReviewRequest(ctx context.Context, order models.Order, reviewURL string) (Outcome, error) {
	data, err := orderData(order)
	if err != nil {
		return Outcome{}, err
	}
	data["review_url"] = reviewURL
	return n.SendMarketing(ctx, Request{
		Type:           models.EmailTypeReviewRequest,
		RecipientEmail: order.CustomerEmail,
		RecipientName:  order.CustomerName,
		Data:           data,
		LogData:        orderLogData(order),
	})
}

func (n *Notifier) sendOrder(ctx context.Context, emailType string, order models.Order, extra map[string]any) (Outcome, error) {
	data, err := orderData(order)
	if err != nil {
		return Outcome{}, err
	}
	for k, v := range extra {
		if v != nil && v != "" {
			data[k] = v
		}
	}
	return n.SendTransactional(ctx, Request{
		Type:           emailType,
		RecipientEmail: order.CustomerEmail,
		RecipientName:  order.CustomerName,
		Data:           data,
		LogData:        orderLogData(order),
	})
}

func (n *Notifier) sendAccount(ctx context.Context, emailType string, account models.Account) (Outcome, error) {
	data, err := toData(account)
	if err != nil {
		return Outcome{}, err
	}
	return n.SendTransactional(ctx, Request{
		Type:           emailType,
		RecipientEmail: account.Email,
		RecipientName:  account.Name,
		Data:           data,
	})
}

func (n *Notifier) sendSubscription(ctx context.Context, emailType string, sub models.Subscription) (Outcome, error) {
	data, err := toData(sub)
	if err != nil {
		return Outcome{}, err
	}
	return n.SendTransactional(ctx, Request{
		Type:           emailType,
		RecipientEmail: sub.CustomerEmail,
		RecipientName:  sub.CustomerName,
		Data:           data,
		LogData:        map[string]any{"plan_name": sub.PlanName},
	})
}

func orderData(order models.Order) (map[string]any, error) {
	data, err := toData(order)
	if err != nil {
		return nil, err
	}
	if order.ID != "" {
		data["order_id"] = order.ID
	}
	return data, nil
}

func orderLogData(order models.Order) map[string]any {
	return map[string]any{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
	}
}
