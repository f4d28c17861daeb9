package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"credit-ledger/internal/ledgererr"
	"credit-ledger/internal/models"
)

// memStore is an in-memory LedgerStore for service tests. It mirrors the
// storage semantics that matter to the services: the idempotency token
// unique constraint, the one-shot cart flip, the deduction clamp, and the
// role upgrade on first grant.
type memStore struct {
	mu sync.Mutex

	clients     map[int64]*models.Client
	items       map[int64]*models.StorefrontItem
	sessions    map[int64]*models.Session
	carts       map[int64]*models.ShoppingCart
	cartItems   map[int64][]models.CartItemDetail
	orders      map[int64]*models.Order
	orderItems  map[int64][]models.OrderItem
	assignments map[[2]int64]bool
	adjustments []models.CreditAdjustment

	nextID int64
}

func newMemStore() *memStore {
	return &memStore{
		clients:     make(map[int64]*models.Client),
		items:       make(map[int64]*models.StorefrontItem),
		sessions:    make(map[int64]*models.Session),
		carts:       make(map[int64]*models.ShoppingCart),
		cartItems:   make(map[int64][]models.CartItemDetail),
		orders:      make(map[int64]*models.Order),
		orderItems:  make(map[int64][]models.OrderItem),
		assignments: make(map[[2]int64]bool),
		nextID:      1000,
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) addClient(id int64, role string, credits int) *models.Client {
	c := &models.Client{ID: id, FirstName: "Test", LastName: "Client", Email: "c@example.com", Role: role, SessionCredits: credits}
	m.clients[id] = c
	return c
}

func (m *memStore) addItem(id int64, name string, sessions int, priceCents int64) *models.StorefrontItem {
	it := &models.StorefrontItem{ID: id, Name: name, PackageType: "standard", Sessions: sessions, PriceCents: priceCents, IsActive: true}
	m.items[id] = it
	return it
}

func (m *memStore) addSession(id int64, clientID *int64, date time.Time, status string) *models.Session {
	s := &models.Session{ID: id, ClientID: clientID, SessionDate: date, Status: status}
	m.sessions[id] = s
	return s
}

func (m *memStore) addCart(id, clientID int64, status string, items []models.CartItemDetail) *models.ShoppingCart {
	total := int64(0)
	for _, it := range items {
		total += it.PriceCents * int64(it.Quantity)
	}
	cart := &models.ShoppingCart{ID: id, ClientID: clientID, Status: status, TotalCents: total}
	if status == models.CartStatusCompleted {
		now := time.Now()
		cart.CompletedAt = &now
	}
	m.carts[id] = cart
	m.cartItems[id] = items
	return cart
}

func (m *memStore) GetClientByID(ctx context.Context, id int64) (*models.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) GetStorefrontItemByID(ctx context.Context, id int64) (*models.StorefrontItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	cp := *it
	return &cp, nil
}

func (m *memStore) IsTrainerAssigned(ctx context.Context, trainerID, clientID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assignments[[2]int64{trainerID, clientID}], nil
}

func (m *memStore) GetOrderByIdempotencyToken(ctx context.Context, token string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.IdempotencyToken != nil && *o.IdempotencyToken == token {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.OrderItem(nil), m.orderItems[orderID]...), nil
}

func (m *memStore) FindRecentPackageOrder(ctx context.Context, clientID, storefrontItemID int64, since time.Time) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ClientID != clientID || o.Status != models.OrderStatusCompleted || o.CreatedAt.Before(since) {
			continue
		}
		for _, oi := range m.orderItems[o.ID] {
			if oi.StorefrontItemID == storefrontItemID {
				cp := *o
				return &cp, nil
			}
		}
	}
	return nil, nil
}

func (m *memStore) CreateGrant(ctx context.Context, g *models.Grant) (*models.GrantResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, ok := m.clients[g.ClientID]
	if !ok {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidClient, "client %d not found", g.ClientID)
	}

	if g.IdempotencyToken != "" {
		for _, o := range m.orders {
			if o.IdempotencyToken != nil && *o.IdempotencyToken == g.IdempotencyToken {
				return nil, ledgererr.New(ledgererr.CodeDuplicateIdempotencyKey,
					"a grant with this idempotency token already exists")
			}
		}
	}

	cartID := g.CartID
	if cartID != 0 {
		cart, ok := m.carts[cartID]
		if !ok || cart.Status != models.CartStatusCompleted {
			return nil, ledgererr.Newf(ledgererr.CodeCartNotCompleted, "cart %d is not completed", cartID)
		}
		if cart.ClientID != g.ClientID {
			return nil, ledgererr.Newf(ledgererr.CodeInvalidItem, "cart %d does not belong to client %d", cartID, g.ClientID)
		}
		if cart.SessionsGranted {
			return nil, ledgererr.Newf(ledgererr.CodeCartAlreadyGranted, "cart %d already granted", cartID)
		}
		cart.SessionsGranted = true
	} else if g.CreateRecoveryCart {
		cartID = m.id()
		now := time.Now()
		m.carts[cartID] = &models.ShoppingCart{
			ID:              cartID,
			ClientID:        g.ClientID,
			Status:          models.CartStatusCompleted,
			TotalCents:      g.TotalCents,
			SessionsGranted: true,
			CompletedAt:     &now,
		}
	}

	order := &models.Order{
		ID:              m.id(),
		ClientID:        g.ClientID,
		OrderNumber:     g.OrderNumber,
		TotalCents:      g.TotalCents,
		Status:          g.OrderStatus,
		PaymentMethod:   g.PaymentMethod,
		Notes:           g.Notes,
		SessionsGranted: g.SessionsToAdd,
		CreatedAt:       time.Now(),
	}
	if cartID != 0 {
		order.CartID = &cartID
	}
	if g.IdempotencyToken != "" {
		token := g.IdempotencyToken
		order.IdempotencyToken = &token
	}
	m.orders[order.ID] = order
	m.orderItems[order.ID] = []models.OrderItem{{
		ID:               m.id(),
		OrderID:          order.ID,
		StorefrontItemID: g.StorefrontItemID,
		Name:             g.ItemName,
		Quantity:         g.Quantity,
		PriceCents:       g.TotalCents,
		SessionsGranted:  g.SessionsToAdd,
	}}

	prev := client.SessionCredits
	client.SessionCredits += g.SessionsToAdd
	client.Role = models.RoleClient

	cp := *order
	return &models.GrantResult{Order: &cp, PreviousBalance: prev, NewBalance: client.SessionCredits}, nil
}

func (m *memStore) ApplyCredits(ctx context.Context, clientID int64, sessionsToAdd int, note string) (*models.CreditAdjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.clients[clientID]
	if !ok {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidClient, "client %d not found", clientID)
	}
	prev := client.SessionCredits
	client.SessionCredits += sessionsToAdd
	adj := models.CreditAdjustment{
		ClientID:        clientID,
		Name:            client.FirstName + " " + client.LastName,
		PreviousCredits: prev,
		CreditsAdded:    sessionsToAdd,
		NewBalance:      client.SessionCredits,
		PaymentNote:     note,
	}
	m.adjustments = append(m.adjustments, adj)
	return &adj, nil
}

func (m *memStore) GetLastPackage(ctx context.Context, clientID int64) (*models.LastPackage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Order
	for _, o := range m.orders {
		if o.ClientID != clientID || o.Status != models.OrderStatusCompleted {
			continue
		}
		if latest == nil || o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	if latest == nil {
		return nil, nil
	}
	oi := m.orderItems[latest.ID][0]
	item := m.items[oi.StorefrontItemID]
	if item == nil {
		return nil, nil
	}
	return &models.LastPackage{
		PackageID:   item.ID,
		PackageName: item.Name,
		PackageType: item.PackageType,
		Sessions:    item.Sessions,
		PriceCents:  item.PriceCents,
		OrderID:     latest.ID,
	}, nil
}

func (m *memStore) ListClientsNeedingPayment(ctx context.Context, now time.Time) ([]models.ClientNeedingPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ClientNeedingPayment{}
	for _, c := range m.clients {
		if c.SessionCredits > 0 || (c.Role != models.RoleClient && c.Role != models.RoleUser) {
			continue
		}
		upcoming := 0
		var next *time.Time
		for _, s := range m.sessions {
			if s.ClientID == nil || *s.ClientID != c.ID {
				continue
			}
			if s.SessionDate.After(now) && (s.Status == models.SessionStatusScheduled || s.Status == models.SessionStatusConfirmed) {
				upcoming++
				if next == nil || s.SessionDate.Before(*next) {
					d := s.SessionDate
					next = &d
				}
			}
		}
		if upcoming > 0 {
			out = append(out, models.ClientNeedingPayment{
				ClientID:         c.ID,
				Name:             c.FirstName + " " + c.LastName,
				Email:            c.Email,
				Balance:          c.SessionCredits,
				UpcomingSessions: upcoming,
				NextSession:      next,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out, nil
}

func (m *memStore) GetCartForGrant(ctx context.Context, cartID int64) (*models.ShoppingCart, []models.CartItemDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[cartID]
	if !ok {
		return nil, nil, nil
	}
	cp := *cart
	return &cp, append([]models.CartItemDetail(nil), m.cartItems[cartID]...), nil
}

func (m *memStore) ListDueSessions(ctx context.Context, now time.Time, limit int) ([]models.DueSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.DueSession{}
	for _, s := range m.sessions {
		if models.SessionDueForDeduction(s, now) {
			out = append(out, models.DueSession{SessionID: s.ID, ClientID: s.ClientID})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.ClientID == nil) != (b.ClientID == nil) {
			return a.ClientID == nil
		}
		if a.ClientID != nil && *a.ClientID != *b.ClientID {
			return *a.ClientID < *b.ClientID
		}
		return a.SessionID < b.SessionID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) DeductForClient(ctx context.Context, clientID int64, sessionIDs []int64, now time.Time) (*models.ClientDeduction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	client, ok := m.clients[clientID]
	if !ok {
		return nil, ledgererr.Newf(ledgererr.CodeInvalidClient, "client %d not found", clientID)
	}

	result := &models.ClientDeduction{}
	for _, sid := range sessionIDs {
		s, ok := m.sessions[sid]
		if !ok || s.CreditDeducted || (s.Status != models.SessionStatusScheduled && s.Status != models.SessionStatusConfirmed) {
			continue
		}
		deduct := client.SessionCredits-result.Deducted > 0
		s.Status = models.SessionStatusCompleted
		s.CreditDeducted = deduct
		if deduct {
			d := now
			s.DeductionDate = &d
			result.Deducted++
		} else {
			result.NoCredit = append(result.NoCredit, sid)
		}
		result.Completed++
	}
	client.SessionCredits -= result.Deducted
	return result, nil
}

func (m *memStore) CompleteOrphanSession(ctx context.Context, sessionID int64, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.Status = models.SessionStatusCompleted
	}
	return nil
}

func (m *memStore) ListUngrantedCarts(ctx context.Context) ([]models.UngrantedCart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.UngrantedCart{}
	for _, cart := range m.carts {
		if cart.Status != models.CartStatusCompleted || cart.SessionsGranted {
			continue
		}
		items := m.cartItems[cart.ID]
		out = append(out, models.UngrantedCart{
			CartID:       cart.ID,
			ClientID:     cart.ClientID,
			CompletedAt:  cart.CompletedAt,
			TotalCents:   cart.TotalCents,
			SessionsOwed: models.CartSessionsOwed(items),
			Items:        append([]models.CartItemDetail(nil), items...),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CartID < out[j].CartID })
	return out, nil
}

func (m *memStore) CountGrantedCarts(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, cart := range m.carts {
		if cart.Status == models.CartStatusCompleted && cart.SessionsGranted {
			n++
		}
	}
	return n, nil
}

// memPublisher records published events.
type memPublisher struct {
	mu       sync.Mutex
	granted  []*models.CreditsGrantedEvent
	deducted []*models.CreditsDeductedEvent
	needsPay []*models.ClientNeedsPaymentEvent
}

func (p *memPublisher) PublishCreditsGranted(ctx context.Context, event *models.CreditsGrantedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted = append(p.granted, event)
	return nil
}

func (p *memPublisher) PublishCreditsDeducted(ctx context.Context, event *models.CreditsDeductedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deducted = append(p.deducted, event)
	return nil
}

func (p *memPublisher) PublishClientNeedsPayment(ctx context.Context, event *models.ClientNeedsPaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.needsPay = append(p.needsPay, event)
	return nil
}

// memCache is a map-backed IdempotencyCache.
type memCache struct {
	mu   sync.Mutex
	keys map[string]interface{}
}

func newMemCache() *memCache {
	return &memCache{keys: make(map[string]interface{})}
}

func (c *memCache) CheckIdempotencyKey(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.keys[key]
	return ok, nil
}

func (c *memCache) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[key] = value
	return nil
}

// stubGateway returns a fixed status for every reference.
type stubGateway struct {
	status string
}

func (g *stubGateway) ChargeStatus(ctx context.Context, reference string) (*models.ChargeStatus, error) {
	return &models.ChargeStatus{Reference: reference, Status: g.status}, nil
}
