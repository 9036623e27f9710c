package services_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/BinodLamichhane31/kix-sub000/models"
	"github.com/BinodLamichhane31/kix-sub000/repository"
)

// --- Mock order repository ---
//
// The mock mirrors the conditional-update semantics of the Mongo
// implementation: condition evaluation and mutation happen under one lock,
// so concurrent callers observe real compare-and-swap behaviour.

type mockOrderRepo struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order
	// collisions makes the first n order-number checks report a duplicate.
	collisions int
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[uuid.UUID]*models.Order)}
}

func (m *mockOrderRepo) put(o *models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
}

func (m *mockOrderRepo) get(id uuid.UUID) *models.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.orders[id]
	return &cp
}

func (m *mockOrderRepo) Create(_ context.Context, order *models.Order) error {
	order.CreatedAt = time.Now().UTC()
	m.put(order)
	return nil
}

func (m *mockOrderRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) FindByIDAndUserID(ctx context.Context, id, userID uuid.UUID) (*models.Order, error) {
	o, err := m.FindByID(ctx, id)
	if err != nil || o.UserID != userID {
		return nil, repository.ErrOrderNotFound
	}
	return o, nil
}

func (m *mockOrderRepo) FindByTransactionID(_ context.Context, transactionID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Payment.TransactionID == transactionID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (m *mockOrderRepo) FindByUserID(_ context.Context, userID uuid.UUID, _, _ int) ([]models.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, int64(len(out)), nil
}

func (m *mockOrderRepo) FindAll(_ context.Context, _, _ int) ([]models.Order, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Order
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out, int64(len(out)), nil
}

func (m *mockOrderRepo) OrderNumberExists(_ context.Context, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collisions > 0 {
		m.collisions--
		return true, nil
	}
	return false, nil
}

func (m *mockOrderRepo) ConditionalUpdate(_ context.Context, id uuid.UUID, cond bson.M, set bson.M) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, nil
	}
	if !matchCond(o, cond) {
		return false, nil
	}
	applySet(o, set)
	o.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *mockOrderRepo) RecordVerifyAttempt(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[id]; ok {
		o.Payment.VerifyAttempts++
		now := time.Now().UTC()
		o.Payment.LastAttemptAt = &now
	}
	return nil
}

func (m *mockOrderRepo) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func matchCond(o *models.Order, cond bson.M) bool {
	for key, want := range cond {
		var actual interface{}
		switch key {
		case "payment_status":
			actual = string(o.PaymentStatus)
		case "status":
			actual = string(o.Status)
		case "stock_deducted":
			actual = o.StockDeducted
		case "payment.transaction_id":
			actual = o.Payment.TransactionID
		default:
			panic("mockOrderRepo: unsupported condition key " + key)
		}
		if !matchValue(actual, want) {
			return false
		}
	}
	return true
}

func matchValue(actual, want interface{}) bool {
	switch w := want.(type) {
	case bson.M:
		if ne, ok := w["$ne"]; ok {
			return fmt.Sprint(actual) != fmt.Sprint(ne)
		}
		if in, ok := w["$in"]; ok {
			for _, candidate := range toSlice(in) {
				if candidate == nil {
					if actual == "" {
						return true
					}
					continue
				}
				if fmt.Sprint(actual) == fmt.Sprint(candidate) {
					return true
				}
			}
			return false
		}
		panic("mockOrderRepo: unsupported operator")
	case bool:
		return actual == w
	default:
		return fmt.Sprint(actual) == fmt.Sprint(w)
	}
}

func toSlice(v interface{}) []interface{} {
	switch s := v.(type) {
	case bson.A:
		return s
	case []interface{}:
		return s
	case []models.OrderStatus:
		out := make([]interface{}, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	case []models.PaymentStatus:
		out := make([]interface{}, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	}
	panic("mockOrderRepo: unsupported $in operand")
}

func applySet(o *models.Order, set bson.M) {
	for key, val := range set {
		switch key {
		case "payment_status":
			o.PaymentStatus = models.PaymentStatus(fmt.Sprint(val))
		case "status":
			o.Status = models.OrderStatus(fmt.Sprint(val))
		case "stock_deducted":
			o.StockDeducted = val.(bool)
		case "tracking_number":
			o.TrackingNumber = fmt.Sprint(val)
		case "payment.transaction_id":
			o.Payment.TransactionID = fmt.Sprint(val)
		case "payment.product_code":
			o.Payment.ProductCode = fmt.Sprint(val)
		case "payment.locked_amount":
			o.Payment.LockedAmount = val.(int64)
		case "payment.ref_id":
			o.Payment.RefID = fmt.Sprint(val)
		case "payment.verified_at":
			t := val.(time.Time)
			o.Payment.VerifiedAt = &t
		case "delivered_at":
			t := val.(time.Time)
			o.DeliveredAt = &t
		case "cancelled_at":
			t := val.(time.Time)
			o.CancelledAt = &t
		case "updated_at":
			// set by the mock itself
		default:
			panic("mockOrderRepo: unsupported set key " + key)
		}
	}
}

// --- Mock product repository ---

type mockProductRepo struct {
	mu         sync.Mutex
	products   map[uuid.UUID]*models.Product
	decrements map[uuid.UUID]int
	increments map[uuid.UUID]int
}

func newMockProductRepo() *mockProductRepo {
	return &mockProductRepo{
		products:   make(map[uuid.UUID]*models.Product),
		decrements: make(map[uuid.UUID]int),
		increments: make(map[uuid.UUID]int),
	}
}

func (m *mockProductRepo) add(p *models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

func (m *mockProductRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockProductRepo) DecrementStock(_ context.Context, id uuid.UUID, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok || p.Stock < qty {
		return repository.ErrInsufficientStock
	}
	p.Stock -= qty
	if p.Stock <= 0 {
		p.InStock = false
	}
	m.decrements[id] += qty
	return nil
}

func (m *mockProductRepo) IncrementStock(_ context.Context, id uuid.UUID, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.products[id]; ok {
		p.Stock += qty
		p.InStock = true
	}
	m.increments[id] += qty
	return nil
}

func (m *mockProductRepo) decremented(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decrements[id]
}

// --- Mock cart repository ---

type mockCartRepo struct {
	mu      sync.Mutex
	carts   map[string]*models.Cart
	deletes int
}

func newMockCartRepo() *mockCartRepo {
	return &mockCartRepo{carts: make(map[string]*models.Cart)}
}

func (m *mockCartRepo) GetCart(_ context.Context, userID string) (*models.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil, nil
	}
	return c, nil
}

func (m *mockCartRepo) DeleteCart(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, userID)
	m.deletes++
	return nil
}

func (m *mockCartRepo) has(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.carts[userID]
	return ok
}

// --- Capture recorder ---

type captureRecorder struct {
	mu      sync.Mutex
	entries []*models.AuditLogEntry
}

func (r *captureRecorder) Record(entry *models.AuditLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
}

func (r *captureRecorder) byAction(action models.AuditAction) []*models.AuditLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.AuditLogEntry
	for _, e := range r.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func (r *captureRecorder) countAlreadyPaid() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Metadata["already_paid"] == "true" {
			n++
		}
	}
	return n
}
