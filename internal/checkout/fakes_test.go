package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/payment"
	"github.com/safar/storefront/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryCoupons mirrors the coupon table, including the one-active-per-user
// unique index.
type memoryCoupons struct {
	mu        sync.Mutex
	coupons   []*models.Coupon
	nextID    int64
	createErr error
	lookupErr error
	creates   atomic.Int64
}

func (m *memoryCoupons) add(c models.Coupon) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c.ID = m.nextID
	m.coupons = append(m.coupons, &c)
}

func (m *memoryCoupons) CreateCoupon(_ context.Context, req store.CreateCouponRequest) (*models.Coupon, error) {
	m.creates.Add(1)
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.coupons {
		if c.UserID == req.UserID && c.IsActive {
			return nil, database.ErrActiveCouponExists
		}
	}
	m.nextID++
	c := &models.Coupon{
		ID:                 m.nextID,
		Code:               req.Code,
		DiscountPercentage: req.DiscountPercentage,
		ExpirationDate:     req.ExpirationDate,
		UserID:             req.UserID,
		IsActive:           true,
	}
	m.coupons = append(m.coupons, c)
	cp := *c
	return &cp, nil
}

func (m *memoryCoupons) GetActiveCouponForUser(_ context.Context, userID string) (*models.Coupon, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.coupons {
		if c.UserID == userID && c.IsActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, database.ErrCouponNotFound
}

func (m *memoryCoupons) FindActiveCoupon(_ context.Context, code, userID string) (*models.Coupon, error) {
	if m.lookupErr != nil {
		return nil, m.lookupErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.coupons {
		if c.Code == code && c.UserID == userID && c.IsActive {
			cp := *c
			return &cp, nil
		}
	}
	return nil, database.ErrCouponNotFound
}

func (m *memoryCoupons) DeactivateCoupon(_ context.Context, code, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.coupons {
		if c.Code == code && c.UserID == userID && c.IsActive {
			c.IsActive = false
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryCoupons) activeFor(userID string) []models.Coupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Coupon
	for _, c := range m.coupons {
		if c.UserID == userID && c.IsActive {
			out = append(out, *c)
		}
	}
	return out
}

// memoryOrders enforces uniqueness on the session id the way the orders
// table does. When gate is set, GetOrderBySessionID reports on arrived and
// blocks until gate is closed, so concurrent finalizers can all be held
// inside the idempotency check.
type memoryOrders struct {
	mu        sync.Mutex
	bySession map[string]*models.Order
	nextID    int64
	items     map[int64][]store.OrderItemRequest
	inserts   atomic.Int64
	lookups   atomic.Int64
	arrived   chan struct{}
	gate      chan struct{}
	createErr error
}

func newMemoryOrders() *memoryOrders {
	return &memoryOrders{
		bySession: make(map[string]*models.Order),
		items:     make(map[int64][]store.OrderItemRequest),
	}
}

func (m *memoryOrders) CreateOrder(_ context.Context, req store.CreateOrderRequest) (*models.Order, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bySession[req.StripeSessionID]; ok {
		return nil, database.ErrDuplicateSession
	}
	m.inserts.Add(1)
	m.nextID++
	o := &models.Order{
		ID:              m.nextID,
		OrderNumber:     fmt.Sprintf("ORD-%d", m.nextID),
		UserID:          req.UserID,
		TotalAmount:     req.TotalAmount,
		StripeSessionID: req.StripeSessionID,
	}
	m.bySession[req.StripeSessionID] = o
	m.items[o.ID] = req.Items
	cp := *o
	return &cp, nil
}

func (m *memoryOrders) GetOrderBySessionID(_ context.Context, sessionID string) (*models.Order, error) {
	m.lookups.Add(1)
	if m.arrived != nil {
		m.arrived <- struct{}{}
	}
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.bySession[sessionID]
	if !ok {
		return nil, database.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memoryOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bySession)
}

type fakeGateway struct {
	mu             sync.Mutex
	sessions       map[string]*payment.Session
	created        []payment.SessionRequest
	couponPercents []int
	createCalls    atomic.Int64
	retrieveCalls  atomic.Int64
	createErr      error
	retrieveErr    error
	couponErr      error
	nextID         int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{sessions: make(map[string]*payment.Session)}
}

func (g *fakeGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	g.createCalls.Add(1)
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	id := fmt.Sprintf("cs_test_%d", g.nextID)
	var total int64
	for _, li := range req.LineItems {
		total += li.UnitAmount * li.Quantity
	}
	s := &payment.Session{
		ID:            id,
		URL:           "https://checkout.example/" + id,
		PaymentStatus: "unpaid",
		AmountTotal:   total,
		Metadata:      req.Metadata,
	}
	g.sessions[id] = s
	g.created = append(g.created, req)
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) RetrieveSession(_ context.Context, id string) (*payment.Session, error) {
	g.retrieveCalls.Add(1)
	if g.retrieveErr != nil {
		return nil, g.retrieveErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[id]
	if !ok {
		return nil, errors.New("no such checkout session")
	}
	cp := *s
	return &cp, nil
}

func (g *fakeGateway) CreatePercentOffCoupon(_ context.Context, percent int) (string, error) {
	if g.couponErr != nil {
		return "", g.couponErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.couponPercents = append(g.couponPercents, percent)
	return fmt.Sprintf("coupon_%d", percent), nil
}

// pay marks a session as settled, optionally with the discounted amount the
// gateway actually charged.
func (g *fakeGateway) pay(id string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.sessions[id]
	s.PaymentStatus = payment.StatusPaid
	if amount > 0 {
		s.AmountTotal = amount
	}
}

func (g *fakeGateway) put(s *payment.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[s.ID] = s
}
