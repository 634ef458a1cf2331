package models

import "time"

// OrderItem is a single line of an order.
type OrderItem struct {
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
	Variant     string  `json:"variant,omitempty"`
}

// Order is the order shape the facade accepts from the storefront.
type Order struct {
	ID              string      `json:"id"`
	OrderNumber     string      `json:"order_number"`
	CustomerEmail   string      `json:"customer_email"`
	CustomerName    string      `json:"customer_name"`
	TotalAmount     float64     `json:"total_amount"`
	Subtotal        float64     `json:"subtotal,omitempty"`
	ShippingFee     float64     `json:"shipping_fee,omitempty"`
	Discount        float64     `json:"discount,omitempty"`
	Items           []OrderItem `json:"items,omitempty"`
	PaymentMethod   string      `json:"payment_method,omitempty"`
	ShippingAddress string      `json:"shipping_address,omitempty"`
	TrackingNumber  string      `json:"tracking_number,omitempty"`
	Carrier         string      `json:"carrier,omitempty"`
	Status          string      `json:"status,omitempty"`
	CancelReason    string      `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time   `json:"created_at,omitempty"`
}

// RefundApproval carries an approved refund for an order.
type RefundApproval struct {
	Order        Order   `json:"order"`
	Amount       float64 `json:"amount"`
	RefundMethod string  `json:"refund_method"`
}

// RefundRejection carries a rejected refund for an order.
type RefundRejection struct {
	Order  Order  `json:"order"`
	Reason string `json:"reason"`
}

// Invitation describes a membership invite sent to a prospective member.
type Invitation struct {
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	InviterName  string    `json:"inviter_name"`
	Organization string    `json:"organization"`
	Role         string    `json:"role,omitempty"`
	InviteURL    string    `json:"invite_url"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Subscription describes a subscription nearing or past renewal.
type Subscription struct {
	CustomerEmail string    `json:"customer_email"`
	CustomerName  string    `json:"customer_name"`
	PlanName      string    `json:"plan_name"`
	Amount        float64   `json:"amount"`
	ExpiresAt     time.Time `json:"expires_at"`
	RenewURL      string    `json:"renew_url,omitempty"`
}

// Account describes a user account for welcome and password reset mail.
type Account struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	ResetURL string `json:"reset_url,omitempty"`
}
