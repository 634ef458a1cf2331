package models

// Email type tags select the template and variable set for a message.
const (
	EmailTypeOrderConfirmation    = "order_confirmation"
	EmailTypeOrderShipped         = "order_shipped"
	EmailTypeOrderDelivered       = "order_delivered"
	EmailTypeOrderCancelled       = "order_cancelled"
	EmailTypePaymentSuccess       = "payment_success"
	EmailTypePaymentFailed        = "payment_failed"
	EmailTypeRefundRequested      = "refund_requested"
	EmailTypeRefundApproved       = "refund_approved"
	EmailTypeRefundRejected       = "refund_rejected"
	EmailTypeWelcome              = "welcome"
	EmailTypePasswordReset        = "password_reset"
	EmailTypeMemberInvitation     = "member_invitation"
	EmailTypeInviteAccepted       = "invite_accepted"
	EmailTypeSubscriptionExpiring = "subscription_expiring"
	EmailTypeSubscriptionRenewed  = "subscription_renewed"
	EmailTypeAbandonedCart        = "abandoned_cart"
	EmailTypeReviewRequest        = "review_request"
	EmailTypeNewsletter           = "newsletter"
	EmailTypePromotional          = "promotional"
	EmailTypeCustom               = "custom"
)

// Domain event names delivered through the event bus.
const (
	EventOrderPlaced            = "ORDER_PLACED"
	EventOrderConfirmed         = "ORDER_CONFIRMED"
	EventOrderShipped           = "ORDER_SHIPPED"
	EventOrderDelivered         = "ORDER_DELIVERED"
	EventOrderCancelled         = "ORDER_CANCELLED"
	EventPaymentSucceeded       = "PAYMENT_SUCCEEDED"
	EventPaymentFailed          = "PAYMENT_FAILED"
	EventRefundRequested        = "REFUND_REQUESTED"
	EventRefundApproved         = "REFUND_APPROVED"
	EventRefundRejected         = "REFUND_REJECTED"
	EventUserRegistered         = "USER_REGISTERED"
	EventPasswordResetRequested = "PASSWORD_RESET_REQUESTED"
	EventMemberInvited          = "MEMBER_INVITED"
	EventInviteAccepted         = "INVITE_ACCEPTED"
	EventSubscriptionExpiring   = "SUBSCRIPTION_EXPIRING"
	EventSubscriptionRenewed    = "SUBSCRIPTION_RENEWED"
	EventCartAbandoned          = "CART_ABANDONED"
	EventReviewRequested        = "REVIEW_REQUESTED"
	EventNewsletterScheduled    = "NEWSLETTER_SCHEDULED"
	EventPromotionLaunched      = "PROMOTION_LAUNCHED"
)

var eventEmailTypes = map[string]string{
	EventOrderPlaced:            EmailTypeOrderConfirmation,
	EventOrderConfirmed:         EmailTypeOrderConfirmation,
	EventOrderShipped:           EmailTypeOrderShipped,
	EventOrderDelivered:         EmailTypeOrderDelivered,
	EventOrderCancelled:         EmailTypeOrderCancelled,
	EventPaymentSucceeded:       EmailTypePaymentSuccess,
	EventPaymentFailed:          EmailTypePaymentFailed,
	EventRefundRequested:        EmailTypeRefundRequested,
	EventRefundApproved:         EmailTypeRefundApproved,
	EventRefundRejected:         EmailTypeRefundRejected,
	EventUserRegistered:         EmailTypeWelcome,
	EventPasswordResetRequested: EmailTypePasswordReset,
	EventMemberInvited:          EmailTypeMemberInvitation,
	EventInviteAccepted:         EmailTypeInviteAccepted,
	EventSubscriptionExpiring:   EmailTypeSubscriptionExpiring,
	EventSubscriptionRenewed:    EmailTypeSubscriptionRenewed,
	EventCartAbandoned:          EmailTypeAbandonedCart,
	EventReviewRequested:        EmailTypeReviewRequest,
	EventNewsletterScheduled:    EmailTypeNewsletter,
	EventPromotionLaunched:      EmailTypePromotional,
}

var knownEmailTypes = func() map[string]struct{} {
	out := map[string]struct{}{EmailTypeCustom: {}}
	for _, t := range eventEmailTypes {
		out[t] = struct{}{}
	}
	return out
}()

var highPriorityTypes = map[string]struct{}{
	EmailTypeOrderConfirmation: {},
	EmailTypeOrderCancelled:    {},
	EmailTypePaymentSuccess:    {},
	EmailTypePaymentFailed:     {},
	EmailTypeRefundApproved:    {},
	EmailTypeRefundRejected:    {},
	EmailTypePasswordReset:     {},
}

var lowPriorityTypes = map[string]struct{}{
	EmailTypeNewsletter:    {},
	EmailTypePromotional:   {},
	EmailTypeAbandonedCart: {},
	EmailTypeReviewRequest: {},
}

// EventNames lists every event the registry maps, in no particular order.
func EventNames() []string {
	out := make([]string, 0, len(eventEmailTypes))
	for name := range eventEmailTypes {
		out = append(out, name)
	}
	return out
}

// EmailTypeForEvent resolves an event name (or an email type passed through
// directly) to an email type. Unrecognized values resolve to custom.
func EmailTypeForEvent(eventType string) string {
	if t, ok := eventEmailTypes[eventType]; ok {
		return t
	}
	if IsKnownEmailType(eventType) {
		return eventType
	}
	return EmailTypeCustom
}

// IsKnownEmailType reports whether t is one of the registered email types.
func IsKnownEmailType(t string) bool {
	_, ok := knownEmailTypes[t]
	return ok
}

// DefaultPriority derives the priority tier of an email type.
func DefaultPriority(emailType string) Priority {
	if _, ok := highPriorityTypes[emailType]; ok {
		return PriorityHigh
	}
	if _, ok := lowPriorityTypes[emailType]; ok {
		return PriorityLow
	}
	return PriorityNormal
}

// IsMarketingType reports whether the type belongs to the marketing tier.
func IsMarketingType(emailType string) bool {
	_, ok := lowPriorityTypes[emailType]
	return ok
}
