package models

import (
	"encoding/json"
	"time"
)

// Client owns a session credit balance. Identity fields belong to the
// account system; the ledger only ever mutates SessionCredits.
type Client struct {
	ID             int64     `db:"id" json:"id"`
	FirstName      string    `db:"first_name" json:"first_name"`
	LastName       string    `db:"last_name" json:"last_name"`
	Email          string    `db:"email" json:"email"`
	Phone          string    `db:"phone" json:"phone,omitempty"`
	Role           string    `db:"role" json:"role"`
	SessionCredits int       `db:"session_credits" json:"session_credits"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Session is a scheduled training session. A credit leaves the balance only
// when the session is consumed, never when it is merely booked.
type Session struct {
	ID             int64      `db:"id" json:"id"`
	ClientID       *int64     `db:"client_id" json:"client_id,omitempty"`
	TrainerID      *int64     `db:"trainer_id" json:"trainer_id,omitempty"`
	SessionDate    time.Time  `db:"session_date" json:"session_date"`
	Status         string     `db:"status" json:"status"`
	CreditDeducted bool       `db:"credit_deducted" json:"credit_deducted"`
	DeductionDate  *time.Time `db:"deduction_date" json:"deduction_date,omitempty"`
	Notes          string     `db:"notes" json:"notes,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// ShoppingCart is one checkout attempt. SessionsGranted flips true exactly
// once, by the grant service; the gap between Status=completed and
// SessionsGranted=false is what the reconciliation report measures.
type ShoppingCart struct {
	ID              int64      `db:"id" json:"id"`
	ClientID        int64      `db:"client_id" json:"client_id"`
	Status          string     `db:"status" json:"status"`
	PaymentStatus   string     `db:"payment_status" json:"payment_status"`
	SubtotalCents   int64      `db:"subtotal_cents" json:"subtotal_cents"`
	TaxCents        int64      `db:"tax_cents" json:"tax_cents"`
	TotalCents      int64      `db:"total_cents" json:"total_cents"`
	SessionsGranted bool       `db:"sessions_granted" json:"sessions_granted"`
	CheckoutRef     string     `db:"checkout_ref" json:"checkout_ref,omitempty"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// CartItem links a cart to a storefront item with a quantity.
type CartItem struct {
	ID               int64 `db:"id" json:"id"`
	CartID           int64 `db:"cart_id" json:"cart_id"`
	StorefrontItemID int64 `db:"storefront_item_id" json:"storefront_item_id"`
	Quantity         int   `db:"quantity" json:"quantity"`
	PriceCents       int64 `db:"price_cents" json:"price_cents"`
}

// StorefrontItem is a purchasable session package.
type StorefrontItem struct {
	ID                   int64     `db:"id" json:"id"`
	Name                 string    `db:"name" json:"name"`
	PackageType          string    `db:"package_type" json:"package_type"`
	Sessions             int       `db:"sessions" json:"sessions"`
	PriceCents           int64     `db:"price_cents" json:"price_cents"`
	PricePerSessionCents int64     `db:"price_per_session_cents" json:"price_per_session_cents"`
	IsActive             bool      `db:"is_active" json:"is_active"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

// Order is an immutable audit row produced by every credit grant.
type Order struct {
	ID               int64      `db:"id" json:"id"`
	ClientID         int64      `db:"client_id" json:"client_id"`
	CartID           *int64     `db:"cart_id" json:"cart_id,omitempty"`
	OrderNumber      string     `db:"order_number" json:"order_number"`
	TotalCents       int64      `db:"total_cents" json:"total_cents"`
	Status           string     `db:"status" json:"status"`
	PaymentMethod    string     `db:"payment_method" json:"payment_method"`
	PaymentReference string     `db:"payment_reference" json:"payment_reference,omitempty"`
	IdempotencyToken *string    `db:"idempotency_token" json:"idempotency_token,omitempty"`
	Notes            string     `db:"notes" json:"notes,omitempty"`
	AppliedBy        *int64     `db:"applied_by" json:"applied_by,omitempty"`
	SessionsGranted  int        `db:"sessions_granted" json:"sessions_granted"`
	CompletedAt      *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// OrderItem snapshots the purchased package at grant time.
type OrderItem struct {
	ID               int64  `db:"id" json:"id"`
	OrderID          int64  `db:"order_id" json:"order_id"`
	StorefrontItemID int64  `db:"storefront_item_id" json:"storefront_item_id"`
	Name             string `db:"name" json:"name"`
	Quantity         int    `db:"quantity" json:"quantity"`
	PriceCents       int64  `db:"price_cents" json:"price_cents"`
	SessionsGranted  int    `db:"sessions_granted" json:"sessions_granted"`
}

// FinancialTransaction records one payment attempt for a grant. Exactly one
// exists per grant; the idempotency token's uniqueness constraint lives here
// and on orders.
type FinancialTransaction struct {
	ID               int64           `db:"id" json:"id"`
	ClientID         int64           `db:"client_id" json:"client_id"`
	OrderID          *int64          `db:"order_id" json:"order_id,omitempty"`
	CartID           *int64          `db:"cart_id" json:"cart_id,omitempty"`
	AmountCents      int64           `db:"amount_cents" json:"amount_cents"`
	Currency         string          `db:"currency" json:"currency"`
	Status           string          `db:"status" json:"status"`
	PaymentMethod    string          `db:"payment_method" json:"payment_method"`
	PaymentReference string          `db:"payment_reference" json:"payment_reference,omitempty"`
	IdempotencyToken *string         `db:"idempotency_token" json:"idempotency_token,omitempty"`
	Description      string          `db:"description" json:"description"`
	Metadata         json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	ProcessedAt      *time.Time      `db:"processed_at" json:"processed_at,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
}

// Session statuses
const (
	SessionStatusAvailable = "available"
	SessionStatusScheduled = "scheduled"
	SessionStatusConfirmed = "confirmed"
	SessionStatusCompleted = "completed"
	SessionStatusCancelled = "cancelled"
)

// Cart statuses
const (
	CartStatusOpen      = "open"
	CartStatusCompleted = "completed"
	CartStatusFailed    = "failed"
)

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusCompleted = "completed"
	OrderStatusRefunded  = "refunded"
)

// Transaction statuses
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
)

// Client roles eligible to hold credits
const (
	RoleClient = "client"
	RoleUser   = "user"
)

// SessionDueForDeduction reports whether a session should be swept by the
// deduction batch: it occurred in the past, was actually booked, and has not
// already been deducted. Kept as a pure predicate so the scan can be tested
// without a scheduler; the SQL scan mirrors it exactly.
func SessionDueForDeduction(s *Session, now time.Time) bool {
	if s.CreditDeducted {
		return false
	}
	if s.Status != SessionStatusScheduled && s.Status != SessionStatusConfirmed {
		return false
	}
	return s.SessionDate.Before(now)
}

// CartSessionsOwed computes how many credits a cart is worth.
func CartSessionsOwed(items []CartItemDetail) int {
	total := 0
	for _, it := range items {
		total += it.Sessions * it.Quantity
	}
	return total
}

// CartItemDetail is a cart item joined to its storefront package.
type CartItemDetail struct {
	CartItem
	ItemName string `db:"item_name" json:"item_name"`
	Sessions int    `db:"sessions" json:"sessions"`
}

// Grant is the unit of work for one credit grant. The store executes it as a
// single transaction: balance row lock, audit rows, balance increment, and
// (when CartID is set) the one-shot sessions_granted flip.
type Grant struct {
	ClientID           int64
	StorefrontItemID   int64
	ItemName           string
	PackageType        string
	Quantity           int
	SessionsToAdd      int
	TotalCents         int64
	OrderNumber        string
	OrderStatus        string
	TransactionStatus  string
	PaymentMethod      string
	PaymentReference   string
	IdempotencyToken   string
	Notes              string
	AppliedBy          int64
	CartID             int64
	CreateRecoveryCart bool
	Metadata           json.RawMessage
}

// GrantResult reports a committed grant.
type GrantResult struct {
	Order           *Order
	PreviousBalance int
	NewBalance      int
}

// CreditAdjustment reports an ad hoc credit correction.
type CreditAdjustment struct {
	ClientID        int64  `json:"client_id"`
	Name            string `json:"name"`
	PreviousCredits int    `json:"previous_credits"`
	CreditsAdded    int    `json:"credits_added"`
	NewBalance      int    `json:"new_balance"`
	PaymentNote     string `json:"payment_note,omitempty"`
}

// ClientNeedingPayment is one worklist row for the recovery workflow:
// a zero-balance client with future booked sessions.
type ClientNeedingPayment struct {
	ClientID         int64      `db:"client_id" json:"client_id"`
	Name             string     `db:"name" json:"name"`
	Email            string     `db:"email" json:"email"`
	Phone            string     `db:"phone" json:"phone,omitempty"`
	Balance          int        `db:"balance" json:"balance"`
	UpcomingSessions int        `db:"upcoming_sessions" json:"upcoming_sessions"`
	NextSession      *time.Time `db:"next_session" json:"next_session,omitempty"`
}

// LastPackage summarizes the most recent completed purchase for a client.
type LastPackage struct {
	PackageID            int64  `db:"package_id" json:"package_id"`
	PackageName          string `db:"package_name" json:"package_name"`
	PackageType          string `db:"package_type" json:"package_type"`
	Sessions             int    `db:"sessions" json:"sessions"`
	PriceCents           int64  `db:"price_cents" json:"price_cents"`
	PricePerSessionCents int64  `db:"price_per_session_cents" json:"price_per_session_cents"`
	OrderID              int64  `db:"order_id" json:"order_id"`
}

// DueSession is one row from the deduction scan.
type DueSession struct {
	SessionID int64  `db:"session_id"`
	ClientID  *int64 `db:"client_id"`
}

// ClientDeduction reports one client's slice of a deduction run.
type ClientDeduction struct {
	Completed int
	Deducted  int
	NoCredit  []int64
}

// DeductionError records a session the batch could not process.
type DeductionError struct {
	SessionID int64  `json:"session_id"`
	Reason    string `json:"reason"`
}

// NoCreditSession records a consumed session that could not be deducted
// because the client's balance was already zero.
type NoCreditSession struct {
	SessionID int64 `json:"session_id"`
	ClientID  int64 `json:"client_id"`
}

// DeductionRunResult aggregates one batch run.
type DeductionRunResult struct {
	Processed int               `json:"processed"`
	Deducted  int               `json:"deducted"`
	NoCredits []NoCreditSession `json:"no_credits,omitempty"`
	Errors    []DeductionError  `json:"errors,omitempty"`
}

// UngrantedCart is one drift row in the reconciliation report.
type UngrantedCart struct {
	CartID       int64            `json:"cart_id"`
	ClientID     int64            `json:"client_id"`
	ClientName   string           `json:"client_name"`
	ClientEmail  string           `json:"client_email"`
	CompletedAt  *time.Time       `json:"completed_at,omitempty"`
	TotalCents   int64            `json:"total_cents"`
	SessionsOwed int              `json:"sessions_owed"`
	Items        []CartItemDetail `json:"items"`
}

// ReconciliationReport is the advisory drift summary. Point-in-time, never
// a consistent multi-query view.
type ReconciliationReport struct {
	UngrantedCarts    int             `json:"ungranted_carts"`
	GrantedCarts      int             `json:"granted_carts"`
	TotalSessionsOwed int             `json:"total_sessions_owed"`
	UngrantedDetails  []UngrantedCart `json:"ungranted_details"`
}

// ChargeStatus is the gateway's verdict on a charge reference.
type ChargeStatus struct {
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// Gateway charge statuses
const (
	ChargeStatusSucceeded = "succeeded"
	ChargeStatusRefunded  = "refunded"
	ChargeStatusFailed    = "failed"
)

// ProcessedEvent for consumer-side idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
