package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"credit-ledger/internal/ledgererr"
	"credit-ledger/internal/models"
	"credit-ledger/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LedgerStore is the storage surface the engine's services need. *store.Store
// implements it; tests substitute an in-memory fake.
type LedgerStore interface {
	GetClientByID(ctx context.Context, id int64) (*models.Client, error)
	GetStorefrontItemByID(ctx context.Context, id int64) (*models.StorefrontItem, error)
	IsTrainerAssigned(ctx context.Context, trainerID, clientID int64) (bool, error)
	GetOrderByIdempotencyToken(ctx context.Context, token string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	FindRecentPackageOrder(ctx context.Context, clientID, storefrontItemID int64, since time.Time) (*models.Order, error)
	CreateGrant(ctx context.Context, g *models.Grant) (*models.GrantResult, error)
	ApplyCredits(ctx context.Context, clientID int64, sessionsToAdd int, note string) (*models.CreditAdjustment, error)
	GetLastPackage(ctx context.Context, clientID int64) (*models.LastPackage, error)
	ListClientsNeedingPayment(ctx context.Context, now time.Time) ([]models.ClientNeedingPayment, error)
	GetCartForGrant(ctx context.Context, cartID int64) (*models.ShoppingCart, []models.CartItemDetail, error)
	ListDueSessions(ctx context.Context, now time.Time, limit int) ([]models.DueSession, error)
	DeductForClient(ctx context.Context, clientID int64, sessionIDs []int64, now time.Time) (*models.ClientDeduction, error)
	CompleteOrphanSession(ctx context.Context, sessionID int64, now time.Time) error
	ListUngrantedCarts(ctx context.Context) ([]models.UngrantedCart, error)
	CountGrantedCarts(ctx context.Context) (int, error)
}

// EventPublisher publishes ledger events after a transaction commits.
// Publishing is best-effort; a committed grant is never rolled back because
// the broker was unavailable.
type EventPublisher interface {
	PublishCreditsGranted(ctx context.Context, event *models.CreditsGrantedEvent) error
	PublishCreditsDeducted(ctx context.Context, event *models.CreditsDeductedEvent) error
	PublishClientNeedsPayment(ctx context.Context, event *models.ClientNeedsPaymentEvent) error
}

// IdempotencyCache is the Redis fast path in front of the token lookup.
type IdempotencyCache interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// PaymentGateway reports final charge status on request. It is authoritative;
// the engine never second-guesses it, only records its outcome. Status is
// always resolved before a storage transaction begins.
type PaymentGateway interface {
	ChargeStatus(ctx context.Context, reference string) (*models.ChargeStatus, error)
}

const idempotencyCacheTTL = 24 * time.Hour

// GrantService converts payment events into credit increases with a full
// audit trail.
type GrantService struct {
	store           LedgerStore
	cache           IdempotencyCache
	gateway         PaymentGateway
	eventPublisher  EventPublisher
	duplicateWindow time.Duration
	verifyCharges   bool
	logger          *zap.Logger
}

// NewGrantService creates a new grant service
func NewGrantService(
	store LedgerStore,
	cache IdempotencyCache,
	gateway PaymentGateway,
	eventPublisher EventPublisher,
	duplicateWindow time.Duration,
	verifyCharges bool,
) *GrantService {
	return &GrantService{
		store:           store,
		cache:           cache,
		gateway:         gateway,
		eventPublisher:  eventPublisher,
		duplicateWindow: duplicateWindow,
		verifyCharges:   verifyCharges,
		logger:          util.GetLogger(),
	}
}

// PurchaseAndGrantRequest is the admin/trainer instant grant: credits now,
// payment collected out-of-band.
type PurchaseAndGrantRequest struct {
	ClientID         int64  `json:"clientId" binding:"required,min=1"`
	StorefrontItemID int64  `json:"storefrontItemId" binding:"required,min=1"`
	Quantity         int    `json:"quantity" binding:"required,min=1"`
	TrainerID        int64  `json:"trainerId,omitempty"`
	LeadSource       string `json:"leadSource,omitempty"`
	ClientState      string `json:"clientState,omitempty"`
	AbsorbTax        bool   `json:"absorbTax,omitempty"`
	AppliedBy        int64  `json:"-"`
}

// GrantResponse reports a committed grant.
type GrantResponse struct {
	OrderID         int64  `json:"orderId"`
	OrderNumber     string `json:"orderNumber"`
	SessionsAdded   int    `json:"sessionsAdded"`
	PackageName     string `json:"packageName"`
	PreviousBalance int    `json:"previousBalance"`
	NewBalance      int    `json:"newBalance"`
	Replayed        bool   `json:"replayed,omitempty"`
}

// PurchaseAndGrant creates an Order with a pending FinancialTransaction and
// increments the client's balance, all in one storage transaction. Used when
// the money is still being collected (invoice, cash) but the client should
// train now.
func (gs *GrantService) PurchaseAndGrant(ctx context.Context, req *PurchaseAndGrantRequest) (*GrantResponse, error) {
	ctx, span := util.StartSpan(ctx, "GrantService.PurchaseAndGrant")
	defer span.End()

	if req.ClientID <= 0 {
		return nil, ledgererr.New(ledgererr.CodeInvalidClientID, "clientId must be a positive integer")
	}
	if req.StorefrontItemID <= 0 {
		return nil, ledgererr.New(ledgererr.CodeInvalidStorefrontItemID, "storefrontItemId must be a positive integer")
	}
	if req.Quantity < 1 {
		return nil, ledgererr.New(ledgererr.CodeInvalidRequest, "quantity must be at least 1")
	}

	item, err := gs.validateItem(ctx, req.StorefrontItemID)
	if err != nil {
		util.GrantsFailedTotal.WithLabelValues("invalid_item").Inc()
		return nil, err
	}

	client, err := gs.store.GetClientByID(ctx, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	if client == nil {
		util.GrantsFailedTotal.WithLabelValues("invalid_client").Inc()
		return nil, ledgererr.Newf(ledgererr.CodeInvalidClient, "client %d not found", req.ClientID)
	}

	if req.TrainerID > 0 {
		assigned, err := gs.store.IsTrainerAssigned(ctx, req.TrainerID, req.ClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to check trainer assignment: %w", err)
		}
		if !assigned {
			util.GrantsFailedTotal.WithLabelValues("unassigned_client").Inc()
			return nil, ledgererr.Newf(ledgererr.CodeInvalidClient,
				"client %d is not assigned to trainer %d", req.ClientID, req.TrainerID)
		}
	}

	sessionsToAdd := req.Quantity * item.Sessions
	totalCents := int64(req.Quantity) * item.PriceCents

	metadata, _ := json.Marshal(map[string]interface{}{
		"lead_source":  req.LeadSource,
		"client_state": req.ClientState,
		"absorb_tax":   req.AbsorbTax,
		"trainer_id":   req.TrainerID,
	})

	result, err := gs.store.CreateGrant(ctx, &models.Grant{
		ClientID:          req.ClientID,
		StorefrontItemID:  item.ID,
		ItemName:          item.Name,
		PackageType:       item.PackageType,
		Quantity:          req.Quantity,
		SessionsToAdd:     sessionsToAdd,
		TotalCents:        totalCents,
		OrderNumber:       newOrderNumber("ORD"),
		OrderStatus:       models.OrderStatusCompleted,
		TransactionStatus: models.TransactionStatusPending,
		PaymentMethod:     "invoice",
		Notes:             fmt.Sprintf("instant grant: %s x%d, payment pending", item.Name, req.Quantity),
		AppliedBy:         req.AppliedBy,
		Metadata:          metadata,
	})
	if err != nil {
		util.GrantsFailedTotal.WithLabelValues("storage").Inc()
		return nil, err
	}

	util.CreditsGrantedTotal.Add(float64(sessionsToAdd))
	gs.logger.Info("Credits granted",
		zap.Int64("client_id", req.ClientID),
		zap.Int64("order_id", result.Order.ID),
		zap.Int("sessions_added", sessionsToAdd),
		zap.Int("new_balance", result.NewBalance))

	gs.publishGranted(ctx, result, sessionsToAdd, models.GrantSourceAdmin)

	return &GrantResponse{
		OrderID:         result.Order.ID,
		OrderNumber:     result.Order.OrderNumber,
		SessionsAdded:   sessionsToAdd,
		PackageName:     item.Name,
		PreviousBalance: result.PreviousBalance,
		NewBalance:      result.NewBalance,
	}, nil
}

// ApplyPackagePaymentRequest is the manual recovery grant: a real charge
// happened but automatic attribution failed.
type ApplyPackagePaymentRequest struct {
	ClientID         int64  `json:"clientId" binding:"required,min=1"`
	StorefrontItemID int64  `json:"storefrontItemId" binding:"required,min=1"`
	PaymentMethod    string `json:"paymentMethod" binding:"required"`
	PaymentReference string `json:"paymentReference,omitempty"`
	IdempotencyToken string `json:"idempotencyToken" binding:"required"`
	CartID           int64  `json:"cartId,omitempty"`
	Force            bool   `json:"force,omitempty"`
	ForceReason      string `json:"forceReason,omitempty"`
	AppliedBy        int64  `json:"-"`
}

// ApplyPackagePayment grants the credits for a package that was paid for
// outside the normal checkout flow. Safe to retry: the idempotency token is
// unique at the storage layer, so a retried request replays the first result
// instead of granting twice.
func (gs *GrantService) ApplyPackagePayment(ctx context.Context, req *ApplyPackagePaymentRequest) (*GrantResponse, error) {
	ctx, span := util.StartSpan(ctx, "GrantService.ApplyPackagePayment")
	defer span.End()

	if err := gs.validateRecoveryRequest(req); err != nil {
		return nil, err
	}

	// Fast path: a cached token means this is almost certainly a retry.
	// The database lookup below stays authoritative either way.
	if gs.cache != nil {
		if seen, err := gs.cache.CheckIdempotencyKey(ctx, req.IdempotencyToken); err == nil && seen {
			gs.logger.Info("Idempotency token seen in cache",
				zap.String("token", req.IdempotencyToken))
		}
	}

	if prior, err := gs.store.GetOrderByIdempotencyToken(ctx, req.IdempotencyToken); err != nil {
		return nil, fmt.Errorf("failed to check idempotency token: %w", err)
	} else if prior != nil {
		return gs.replayGrant(ctx, prior)
	}

	// Gateway status is resolved before the transaction begins so the
	// transaction stays short-lived.
	if gs.verifyCharges && gs.gateway != nil && req.PaymentReference != "" {
		status, err := gs.gateway.ChargeStatus(ctx, req.PaymentReference)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve charge status: %w", err)
		}
		if status.Status != models.ChargeStatusSucceeded {
			util.GrantsFailedTotal.WithLabelValues("charge_not_confirmed").Inc()
			return nil, ledgererr.Newf(ledgererr.CodeChargeNotConfirmed,
				"gateway reports charge %s as %s", req.PaymentReference, status.Status)
		}
	}

	client, err := gs.store.GetClientByID(ctx, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	if client == nil {
		util.GrantsFailedTotal.WithLabelValues("invalid_client").Inc()
		return nil, ledgererr.Newf(ledgererr.CodeInvalidClient, "client %d not found", req.ClientID)
	}

	item, err := gs.validateItem(ctx, req.StorefrontItemID)
	if err != nil {
		util.GrantsFailedTotal.WithLabelValues("invalid_item").Inc()
		return nil, err
	}

	if !req.Force {
		since := time.Now().Add(-gs.duplicateWindow)
		recent, err := gs.store.FindRecentPackageOrder(ctx, req.ClientID, req.StorefrontItemID, since)
		if err != nil {
			return nil, fmt.Errorf("failed to check for duplicate grant: %w", err)
		}
		if recent != nil {
			util.DuplicateGrantsRejectedTotal.Inc()
			secondsAgo := int(time.Since(recent.CreatedAt).Seconds())
			return nil, ledgererr.Newf(ledgererr.CodePossibleDuplicate,
				"order %s granted this package to client %d %ds ago; pass force with a forceReason to override",
				recent.OrderNumber, req.ClientID, secondsAgo).
				WithData(map[string]interface{}{
					"order_number": recent.OrderNumber,
					"order_id":     recent.ID,
					"seconds_ago":  secondsAgo,
				})
		}
	}

	notes := fmt.Sprintf("manual recovery: %s via %s", item.Name, req.PaymentMethod)
	if req.Force {
		// The override justification is audited verbatim.
		notes += fmt.Sprintf(" [force override: %s]", req.ForceReason)
		gs.logger.Warn("Duplicate check overridden",
			zap.Int64("client_id", req.ClientID),
			zap.String("force_reason", req.ForceReason))
	}

	metadata, _ := json.Marshal(map[string]interface{}{
		"type":              "manual_recovery",
		"payment_reference": req.PaymentReference,
		"applied_by":        req.AppliedBy,
		"force":             req.Force,
		"force_reason":      req.ForceReason,
	})

	// When the admin is clearing a specific drifted cart out of the
	// reconciliation report, flip that cart instead of synthesizing one.
	result, err := gs.store.CreateGrant(ctx, &models.Grant{
		ClientID:           req.ClientID,
		StorefrontItemID:   item.ID,
		ItemName:           item.Name,
		PackageType:        item.PackageType,
		Quantity:           1,
		SessionsToAdd:      item.Sessions,
		TotalCents:         item.PriceCents,
		OrderNumber:        newOrderNumber("REC"),
		OrderStatus:        models.OrderStatusCompleted,
		TransactionStatus:  models.TransactionStatusCompleted,
		PaymentMethod:      req.PaymentMethod,
		PaymentReference:   req.PaymentReference,
		IdempotencyToken:   req.IdempotencyToken,
		Notes:              notes,
		AppliedBy:          req.AppliedBy,
		CartID:             req.CartID,
		CreateRecoveryCart: req.CartID == 0,
		Metadata:           metadata,
	})
	if err != nil {
		// A concurrent request with the same token won the race. That is a
		// successful retry, not a failure.
		if ledgererr.CodeOf(err) == ledgererr.CodeDuplicateIdempotencyKey {
			if prior, lookupErr := gs.store.GetOrderByIdempotencyToken(ctx, req.IdempotencyToken); lookupErr == nil && prior != nil {
				return gs.replayGrant(ctx, prior)
			}
		}
		util.GrantsFailedTotal.WithLabelValues("storage").Inc()
		return nil, err
	}

	if gs.cache != nil {
		if err := gs.cache.SetIdempotencyKey(ctx, req.IdempotencyToken, result.Order.ID, idempotencyCacheTTL); err != nil {
			gs.logger.Warn("Failed to cache idempotency token", zap.Error(err))
		}
	}

	util.CreditsGrantedTotal.Add(float64(item.Sessions))
	util.RecoveryGrantsTotal.Inc()
	gs.logger.Info("Recovery grant applied",
		zap.Int64("client_id", req.ClientID),
		zap.Int64("order_id", result.Order.ID),
		zap.String("payment_method", req.PaymentMethod),
		zap.Int("sessions_added", item.Sessions))

	gs.publishGranted(ctx, result, item.Sessions, models.GrantSourceRecovery)

	return &GrantResponse{
		OrderID:         result.Order.ID,
		OrderNumber:     result.Order.OrderNumber,
		SessionsAdded:   item.Sessions,
		PackageName:     item.Name,
		PreviousBalance: result.PreviousBalance,
		NewBalance:      result.NewBalance,
	}, nil
}

func (gs *GrantService) validateRecoveryRequest(req *ApplyPackagePaymentRequest) error {
	if req.ClientID <= 0 {
		return ledgererr.New(ledgererr.CodeInvalidClientID, "clientId must be a positive integer")
	}
	if req.StorefrontItemID <= 0 {
		return ledgererr.New(ledgererr.CodeInvalidStorefrontItemID, "storefrontItemId must be a positive integer")
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return ledgererr.New(ledgererr.CodeMissingPaymentMethod, "paymentMethod is required")
	}
	if req.IdempotencyToken == "" {
		return ledgererr.New(ledgererr.CodeMissingIdempotencyToken, "idempotencyToken is required")
	}
	if parsed, err := uuid.Parse(req.IdempotencyToken); err != nil || parsed.Version() != 4 {
		return ledgererr.New(ledgererr.CodeMissingIdempotencyToken, "idempotencyToken must be a UUID v4")
	}
	if req.Force && strings.TrimSpace(req.ForceReason) == "" {
		return ledgererr.New(ledgererr.CodePossibleDuplicate, "force override requires a forceReason")
	}
	return nil
}

// replayGrant rebuilds the original response for a retried token.
func (gs *GrantService) replayGrant(ctx context.Context, order *models.Order) (*GrantResponse, error) {
	util.IdempotentReplaysTotal.Inc()
	gs.logger.Info("Idempotent retry detected, replaying prior grant",
		zap.Int64("order_id", order.ID),
		zap.String("order_number", order.OrderNumber))

	packageName := ""
	if items, err := gs.store.GetOrderItemsByOrderID(ctx, order.ID); err == nil && len(items) > 0 {
		packageName = items[0].Name
	}

	resp := &GrantResponse{
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		SessionsAdded: order.SessionsGranted,
		PackageName:   packageName,
		Replayed:      true,
	}

	// The replay reports the client's current balance, not the one at
	// grant time
	if client, err := gs.store.GetClientByID(ctx, order.ClientID); err == nil && client != nil {
		resp.NewBalance = client.SessionCredits
	}

	return resp, nil
}

// ApplyPaymentCredits applies a raw credit count with a free-text note.
// Lighter-weight than ApplyPackagePayment: a FinancialTransaction is written
// but no Order, keeping corrections distinguishable from purchases.
func (gs *GrantService) ApplyPaymentCredits(ctx context.Context, clientID int64, sessionsToAdd int, paymentNote string) (*models.CreditAdjustment, error) {
	ctx, span := util.StartSpan(ctx, "GrantService.ApplyPaymentCredits")
	defer span.End()

	if clientID <= 0 {
		return nil, ledgererr.New(ledgererr.CodeInvalidClientID, "clientId must be a positive integer")
	}
	if sessionsToAdd <= 0 {
		return nil, ledgererr.New(ledgererr.CodeInvalidClientID, "sessionsToAdd must be at least 1")
	}

	adj, err := gs.store.ApplyCredits(ctx, clientID, sessionsToAdd, paymentNote)
	if err != nil {
		return nil, err
	}

	util.CreditsGrantedTotal.Add(float64(sessionsToAdd))
	gs.logger.Info("Ad hoc credits applied",
		zap.Int64("client_id", clientID),
		zap.Int("credits_added", sessionsToAdd),
		zap.Int("new_balance", adj.NewBalance))
	return adj, nil
}

// GrantCartSessions is the automatic checkout-to-grant pipeline: it converts
// a completed cart into credits exactly once. Called by the cart worker when
// the checkout collaborator reports a captured charge.
func (gs *GrantService) GrantCartSessions(ctx context.Context, cartID int64) (*GrantResponse, error) {
	ctx, span := util.StartSpan(ctx, "GrantService.GrantCartSessions")
	defer span.End()

	cart, items, err := gs.store.GetCartForGrant(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart == nil {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidItem, "cart %d not found", cartID)
	}
	if cart.Status != models.CartStatusCompleted {
		return nil, ledgererr.Newf(ledgererr.CodeCartNotCompleted, "cart %d has status %s", cartID, cart.Status)
	}
	if cart.SessionsGranted {
		return nil, ledgererr.Newf(ledgererr.CodeCartAlreadyGranted, "cart %d already granted", cartID)
	}

	sessionsToAdd := models.CartSessionsOwed(items)
	if sessionsToAdd <= 0 {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidItem, "cart %d grants no sessions", cartID)
	}

	name := items[0].ItemName
	if len(items) > 1 {
		name = fmt.Sprintf("%s +%d more", name, len(items)-1)
	}

	result, err := gs.store.CreateGrant(ctx, &models.Grant{
		ClientID:          cart.ClientID,
		StorefrontItemID:  items[0].StorefrontItemID,
		ItemName:          name,
		Quantity:          items[0].Quantity,
		SessionsToAdd:     sessionsToAdd,
		TotalCents:        cart.TotalCents,
		OrderNumber:       newOrderNumber("ORD"),
		OrderStatus:       models.OrderStatusCompleted,
		TransactionStatus: models.TransactionStatusCompleted,
		PaymentMethod:     "card",
		PaymentReference:  cart.CheckoutRef,
		Notes:             fmt.Sprintf("checkout grant for cart %d", cartID),
		CartID:            cartID,
	})
	if err != nil {
		util.GrantsFailedTotal.WithLabelValues("storage").Inc()
		return nil, err
	}

	util.CreditsGrantedTotal.Add(float64(sessionsToAdd))
	gs.logger.Info("Cart credits granted",
		zap.Int64("cart_id", cartID),
		zap.Int64("client_id", cart.ClientID),
		zap.Int("sessions_added", sessionsToAdd))

	gs.publishGranted(ctx, result, sessionsToAdd, models.GrantSourceCheckout)

	return &GrantResponse{
		OrderID:         result.Order.ID,
		OrderNumber:     result.Order.OrderNumber,
		SessionsAdded:   sessionsToAdd,
		PackageName:     name,
		PreviousBalance: result.PreviousBalance,
		NewBalance:      result.NewBalance,
	}, nil
}

// GetClientLastPackage returns the package from the client's most recent
// completed purchase, or nil when there is none.
func (gs *GrantService) GetClientLastPackage(ctx context.Context, clientID int64) (*models.LastPackage, error) {
	if clientID <= 0 {
		return nil, ledgererr.New(ledgererr.CodeInvalidClientID, "clientId must be a positive integer")
	}
	return gs.store.GetLastPackage(ctx, clientID)
}

// GetClientsNeedingPayment returns the recovery worklist: zero-balance
// clients with future booked sessions.
func (gs *GrantService) GetClientsNeedingPayment(ctx context.Context) ([]models.ClientNeedingPayment, error) {
	clients, err := gs.store.ListClientsNeedingPayment(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	util.ClientsNeedingPayment.Set(float64(len(clients)))
	return clients, nil
}

func (gs *GrantService) validateItem(ctx context.Context, storefrontItemID int64) (*models.StorefrontItem, error) {
	item, err := gs.store.GetStorefrontItemByID(ctx, storefrontItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load storefront item: %w", err)
	}
	if item == nil {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidItem, "storefront item %d not found", storefrontItemID)
	}
	if !item.IsActive {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidItem, "storefront item %d is inactive", storefrontItemID)
	}
	if item.Sessions <= 0 {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidItem, "storefront item %d grants no sessions", storefrontItemID)
	}
	return item, nil
}

func (gs *GrantService) publishGranted(ctx context.Context, result *models.GrantResult, sessionsAdded int, source string) {
	if gs.eventPublisher == nil {
		return
	}
	event := &models.CreditsGrantedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeCreditsGranted,
			Timestamp: time.Now(),
		},
		ClientID:      result.Order.ClientID,
		OrderID:       result.Order.ID,
		OrderNumber:   result.Order.OrderNumber,
		SessionsAdded: sessionsAdded,
		NewBalance:    result.NewBalance,
		Source:        source,
	}
	if err := gs.eventPublisher.PublishCreditsGranted(ctx, event); err != nil {
		gs.logger.Error("Failed to publish CreditsGranted event", zap.Error(err))
	}
}

// newOrderNumber generates an order number like REC-ABC123-9F2E.
func newOrderNumber(prefix string) string {
	ts := strings.ToUpper(strconv.FormatInt(time.Now().UnixMilli(), 36))
	suffix := strings.ToUpper(uuid.New().String()[:4])
	return fmt.Sprintf("%s-%s-%s", prefix, ts, suffix)
}
