package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"credit-ledger/internal/ledgererr"
	"credit-ledger/internal/models"
)

// nullToken converts an optional idempotency token to its column value.
// Empty tokens must be NULL, never '', or the uniqueness constraint would
// collide unrelated grants.
func nullToken(token string) sql.NullString {
	if token == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: token, Valid: true}
}

// CreateGrant executes one credit grant as a single transaction: lock the
// client's balance row, flip or create the cart, write the Order/OrderItem/
// FinancialTransaction audit rows, and increment the balance. Any failure
// rolls the whole grant back.
func (s *Store) CreateGrant(ctx context.Context, g *models.Grant) (*models.GrantResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var client models.Client
	err = tx.GetContext(ctx, &client, "SELECT * FROM clients WHERE id = $1 FOR UPDATE", g.ClientID)
	if err == sql.ErrNoRows {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidClient, "client %d not found", g.ClientID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock client row: %w", err)
	}
	if client.Role != models.RoleClient && client.Role != models.RoleUser {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidClient, "user %d cannot hold session credits", g.ClientID)
	}

	now := time.Now()

	var cartID sql.NullInt64
	switch {
	case g.CartID > 0:
		// One-shot flip: the conditional update is what guarantees a cart's
		// credits are granted at most once, even under concurrent grants.
		// The client_id predicate keeps a grant from clearing another
		// client's cart out of the reconciliation report.
		res, err := tx.ExecContext(ctx,
			"UPDATE shopping_carts SET sessions_granted = TRUE WHERE id = $1 AND client_id = $2 AND status = $3 AND sessions_granted = FALSE",
			g.CartID, g.ClientID, models.CartStatusCompleted)
		if err != nil {
			return nil, fmt.Errorf("failed to mark cart granted: %w", err)
		}
		rows, _ := res.RowsAffected()
		if rows == 0 {
			return nil, s.classifyCartConflict(ctx, tx, g.CartID, g.ClientID)
		}
		cartID = sql.NullInt64{Int64: g.CartID, Valid: true}

	case g.CreateRecoveryCart:
		// Recovery grants synthesize a completed cart so every order has a
		// cart and the grant never shows up as drift in reconciliation.
		var id int64
		err = tx.GetContext(ctx, &id, `
			INSERT INTO shopping_carts (client_id, status, payment_status, subtotal_cents, tax_cents, total_cents, sessions_granted, completed_at)
			VALUES ($1, $2, 'paid', $3, 0, $3, TRUE, $4)
			RETURNING id`,
			g.ClientID, models.CartStatusCompleted, g.TotalCents, now)
		if err != nil {
			return nil, fmt.Errorf("failed to create recovery cart: %w", err)
		}
		cartID = sql.NullInt64{Int64: id, Valid: true}
	}

	var completedAt sql.NullTime
	if g.OrderStatus == models.OrderStatusCompleted {
		completedAt = sql.NullTime{Time: now, Valid: true}
	}
	var appliedBy sql.NullInt64
	if g.AppliedBy > 0 {
		appliedBy = sql.NullInt64{Int64: g.AppliedBy, Valid: true}
	}

	var order models.Order
	err = tx.GetContext(ctx, &order, `
		INSERT INTO orders (client_id, cart_id, order_number, total_cents, status, payment_method, payment_reference, idempotency_token, notes, applied_by, sessions_granted, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING *`,
		g.ClientID, cartID, g.OrderNumber, g.TotalCents, g.OrderStatus,
		g.PaymentMethod, g.PaymentReference, nullToken(g.IdempotencyToken),
		g.Notes, appliedBy, g.SessionsToAdd, completedAt)
	if err != nil {
		return nil, ledgererr.NormalizeStorage(err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO order_items (order_id, storefront_item_id, name, quantity, price_cents, sessions_granted)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		order.ID, g.StorefrontItemID, g.ItemName, g.Quantity, g.TotalCents, g.SessionsToAdd)
	if err != nil {
		return nil, fmt.Errorf("failed to create order item: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO financial_transactions (client_id, order_id, cart_id, amount_cents, currency, status, payment_method, payment_reference, idempotency_token, description, metadata, processed_at)
		VALUES ($1, $2, $3, $4, 'USD', $5, $6, $7, $8, $9, $10, $11)`,
		g.ClientID, order.ID, cartID, g.TotalCents, g.TransactionStatus,
		g.PaymentMethod, g.PaymentReference, nullToken(g.IdempotencyToken),
		g.Notes, g.Metadata, now)
	if err != nil {
		return nil, ledgererr.NormalizeStorage(err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE clients SET session_credits = session_credits + $1, role = $2, updated_at = NOW() WHERE id = $3",
		g.SessionsToAdd, models.RoleClient, g.ClientID)
	if err != nil {
		return nil, fmt.Errorf("failed to increment session credits: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.GrantResult{
		Order:           &order,
		PreviousBalance: client.SessionCredits,
		NewBalance:      client.SessionCredits + g.SessionsToAdd,
	}, nil
}

// classifyCartConflict explains why the sessions_granted flip matched no row.
func (s *Store) classifyCartConflict(ctx context.Context, q interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}, cartID, clientID int64) error {
	var cart models.ShoppingCart
	err := q.GetContext(ctx, &cart, "SELECT * FROM shopping_carts WHERE id = $1", cartID)
	if err == sql.ErrNoRows {
		return ledgererr.Newf(ledgererr.CodeInvalidItem, "cart %d not found", cartID)
	}
	if err != nil {
		return err
	}
	if cart.ClientID != clientID {
		return ledgererr.Newf(ledgererr.CodeInvalidItem, "cart %d does not belong to client %d", cartID, clientID)
	}
	if cart.SessionsGranted {
		return ledgererr.Newf(ledgererr.CodeCartAlreadyGranted, "cart %d already granted", cartID)
	}
	return ledgererr.Newf(ledgererr.CodeCartNotCompleted, "cart %d has status %s", cartID, cart.Status)
}

// ApplyCredits performs the lighter-weight ad hoc correction: row-locked
// balance increment plus a FinancialTransaction, no Order. Corrections stay
// distinguishable from purchases in reporting.
func (s *Store) ApplyCredits(ctx context.Context, clientID int64, sessionsToAdd int, note string) (*models.CreditAdjustment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var client models.Client
	err = tx.GetContext(ctx, &client, "SELECT * FROM clients WHERE id = $1 FOR UPDATE", clientID)
	if err == sql.ErrNoRows {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidClient, "client %d not found", clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock client row: %w", err)
	}
	if client.Role != models.RoleClient && client.Role != models.RoleUser {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidClient, "user %d cannot hold session credits", clientID)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE clients SET session_credits = session_credits + $1, updated_at = NOW() WHERE id = $2",
		sessionsToAdd, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to increment session credits: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO financial_transactions (client_id, amount_cents, currency, status, payment_method, description, processed_at)
		VALUES ($1, 0, 'USD', $2, 'manual', $3, NOW())`,
		clientID, models.TransactionStatusCompleted, note)
	if err != nil {
		return nil, fmt.Errorf("failed to record adjustment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &models.CreditAdjustment{
		ClientID:        client.ID,
		Name:            client.FirstName + " " + client.LastName,
		PreviousCredits: client.SessionCredits,
		CreditsAdded:    sessionsToAdd,
		NewBalance:      client.SessionCredits + sessionsToAdd,
		PaymentNote:     note,
	}, nil
}

// GetOrderByIdempotencyToken retrieves a prior grant by its token.
// Returns (nil, nil) when no grant carries the token.
func (s *Store) GetOrderByIdempotencyToken(ctx context.Context, token string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_token = $1", token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// FindRecentPackageOrder looks for a completed order for the same client and
// package newer than since. This is the business-level duplicate heuristic,
// separate from token idempotency.
func (s *Store) FindRecentPackageOrder(ctx context.Context, clientID, storefrontItemID int64, since time.Time) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		SELECT o.* FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		WHERE o.client_id = $1
		  AND oi.storefront_item_id = $2
		  AND o.status = $3
		  AND o.created_at >= $4
		ORDER BY o.created_at DESC
		LIMIT 1`,
		clientID, storefrontItemID, models.OrderStatusCompleted, since)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetLastPackage returns the package from the client's most recent completed
// order, or (nil, nil) when the client never completed a purchase.
func (s *Store) GetLastPackage(ctx context.Context, clientID int64) (*models.LastPackage, error) {
	var pkg models.LastPackage
	err := s.db.GetContext(ctx, &pkg, `
		SELECT si.id AS package_id, si.name AS package_name, si.package_type,
		       si.sessions, si.price_cents,
		       si.price_per_session_cents,
		       o.id AS order_id
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		JOIN storefront_items si ON si.id = oi.storefront_item_id
		WHERE o.client_id = $1 AND o.status = $2
		ORDER BY o.created_at DESC
		LIMIT 1`,
		clientID, models.OrderStatusCompleted)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &pkg, nil
}

// GetCartForGrant loads a cart with its items joined to storefront packages.
func (s *Store) GetCartForGrant(ctx context.Context, cartID int64) (*models.ShoppingCart, []models.CartItemDetail, error) {
	var cart models.ShoppingCart
	err := s.db.GetContext(ctx, &cart, "SELECT * FROM shopping_carts WHERE id = $1", cartID)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	items := []models.CartItemDetail{}
	err = s.db.SelectContext(ctx, &items, `
		SELECT ci.*, si.name AS item_name, si.sessions
		FROM cart_items ci
		JOIN storefront_items si ON si.id = ci.storefront_item_id
		WHERE ci.cart_id = $1
		ORDER BY ci.id`, cartID)
	if err != nil {
		return nil, nil, err
	}
	return &cart, items, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1", orderID)
	return items, err
}

// ListUngrantedCarts finds completed carts whose credits were never granted,
// with enough joined detail to drive the recovery workflow. Read-only.
func (s *Store) ListUngrantedCarts(ctx context.Context) ([]models.UngrantedCart, error) {
	type ungrantedRow struct {
		CartID      int64      `db:"cart_id"`
		ClientID    int64      `db:"client_id"`
		ClientName  string     `db:"client_name"`
		ClientEmail string     `db:"client_email"`
		CompletedAt *time.Time `db:"completed_at"`
		TotalCents  int64      `db:"total_cents"`
	}

	rows := []ungrantedRow{}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT sc.id AS cart_id, sc.client_id,
		       c.first_name || ' ' || c.last_name AS client_name,
		       c.email AS client_email,
		       sc.completed_at, sc.total_cents
		FROM shopping_carts sc
		JOIN clients c ON c.id = sc.client_id
		WHERE sc.status = $1 AND sc.sessions_granted = FALSE
		ORDER BY sc.completed_at ASC`,
		models.CartStatusCompleted)
	if err != nil {
		return nil, err
	}

	carts := make([]models.UngrantedCart, 0, len(rows))
	for _, r := range rows {
		items := []models.CartItemDetail{}
		err = s.db.SelectContext(ctx, &items, `
			SELECT ci.*, si.name AS item_name, si.sessions
			FROM cart_items ci
			JOIN storefront_items si ON si.id = ci.storefront_item_id
			WHERE ci.cart_id = $1
			ORDER BY ci.id`, r.CartID)
		if err != nil {
			return nil, err
		}
		carts = append(carts, models.UngrantedCart{
			CartID:       r.CartID,
			ClientID:     r.ClientID,
			ClientName:   r.ClientName,
			ClientEmail:  r.ClientEmail,
			CompletedAt:  r.CompletedAt,
			TotalCents:   r.TotalCents,
			SessionsOwed: models.CartSessionsOwed(items),
			Items:        items,
		})
	}
	return carts, nil
}

// CountGrantedCarts counts completed carts already reconciled.
func (s *Store) CountGrantedCarts(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM shopping_carts WHERE status = $1 AND sessions_granted = TRUE",
		models.CartStatusCompleted)
	return count, err
}
