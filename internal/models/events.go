package models

import "time"

// Event types
const (
	EventTypeCartCompleted      = "CART_COMPLETED"
	EventTypeCreditsGranted     = "CREDITS_GRANTED"
	EventTypeCreditsDeducted    = "CREDITS_DEDUCTED"
	EventTypeClientNeedsPayment = "CLIENT_NEEDS_PAYMENT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// CartCompletedEvent is published by the checkout collaborator once the
// gateway confirms charge capture. Consuming it is what triggers the
// automatic grant pipeline.
type CartCompletedEvent struct {
	BaseEvent
	CartID      int64  `json:"cart_id"`
	ClientID    int64  `json:"client_id"`
	TotalCents  int64  `json:"total_cents"`
	CheckoutRef string `json:"checkout_ref,omitempty"`
}

// CreditsGrantedEvent is published after a grant transaction commits.
type CreditsGrantedEvent struct {
	BaseEvent
	ClientID      int64  `json:"client_id"`
	OrderID       int64  `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	SessionsAdded int    `json:"sessions_added"`
	NewBalance    int    `json:"new_balance"`
	Source        string `json:"source"`
}

// Grant sources carried on CreditsGrantedEvent
const (
	GrantSourceCheckout = "checkout"
	GrantSourceAdmin    = "admin"
	GrantSourceRecovery = "recovery"
)

// CreditsDeductedEvent is published after a deduction batch run commits.
type CreditsDeductedEvent struct {
	BaseEvent
	Processed int `json:"processed"`
	Deducted  int `json:"deducted"`
	NoCredits int `json:"no_credits"`
}

// ClientNeedsPaymentEvent flags a client whose session was consumed at zero
// balance, for downstream notification consumers.
type ClientNeedsPaymentEvent struct {
	BaseEvent
	ClientID  int64 `json:"client_id"`
	SessionID int64 `json:"session_id"`
}
