package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/google/uuid"
)

// state is everything a transaction may change. WithTx works on a copy and
// swaps it in on success. Addresses are read-only inside transactions and
// are shared between copies.
type state struct {
	products   map[int64]domain.Product
	cartLines  map[int64]domain.CartLine
	addresses  map[int64]domain.Address
	orders     map[uuid.UUID]domain.Order
	orderSeq   []uuid.UUID
	nextLineID int64
	nextItemID int64
}

func (s *state) clone() *state {
	c := &state{
		products:   make(map[int64]domain.Product, len(s.products)),
		cartLines:  make(map[int64]domain.CartLine, len(s.cartLines)),
		addresses:  s.addresses,
		orders:     make(map[uuid.UUID]domain.Order, len(s.orders)),
		orderSeq:   append([]uuid.UUID(nil), s.orderSeq...),
		nextLineID: s.nextLineID,
		nextItemID: s.nextItemID,
	}
	for id, p := range s.products {
		c.products[id] = copyProduct(p)
	}
	for id, l := range s.cartLines {
		c.cartLines[id] = l
	}
	for id, o := range s.orders {
		o.Lines = append([]domain.OrderLine(nil), o.Lines...)
		c.orders[id] = o
	}
	return c
}

func copyProduct(p domain.Product) domain.Product {
	if p.StockQuantity != nil {
		v := *p.StockQuantity
		p.StockQuantity = &v
	}
	return p
}

// MemoryStore implements repository.Store, SettingsReader and
// OutboxRepository in process memory. Transactions are serialized by a
// single lock.
type MemoryStore struct {
	mu       sync.RWMutex
	st       *state
	settings map[string]string
	outbox   []*r.OutboxEvent
	nextOID  int64
	now      func() time.Time
}

var (
	_ r.Store            = (*MemoryStore)(nil)
	_ r.SettingsReader   = (*MemoryStore)(nil)
	_ r.SettingsWriter   = (*MemoryStore)(nil)
	_ r.OutboxRepository = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		st: &state{
			products:  make(map[int64]domain.Product),
			cartLines: make(map[int64]domain.CartLine),
			addresses: make(map[int64]domain.Address),
			orders:    make(map[uuid.UUID]domain.Order),
		},
		settings: make(map[string]string),
		now:      time.Now,
	}
}

// PutProduct inserts or replaces a catalog row.
func (s *MemoryStore) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.st.products[p.ID] = copyProduct(p)
}

// PutAddress inserts or replaces an address book entry.
func (s *MemoryStore) PutAddress(a domain.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st.addresses[a.ID] = a
}

func (s *MemoryStore) SaveSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = value
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// WithTx runs fn against a private copy of the store. The copy replaces the
// live state only when fn returns nil.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx r.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{view: view{st: s.st.clone(), now: s.now}}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

func (s *MemoryStore) read() view {
	return view{st: s.st, now: s.now}
}

func (s *MemoryStore) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetProduct(ctx, productID)
}

func (s *MemoryStore) ListCartLines(ctx context.Context, userID int64) ([]domain.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListCartLines(ctx, userID)
}

func (s *MemoryStore) GetCartLine(ctx context.Context, userID, lineID int64) (*domain.CartLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetCartLine(ctx, userID, lineID)
}

func (s *MemoryStore) CountCartItems(ctx context.Context, userID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().CountCartItems(ctx, userID)
}

func (s *MemoryStore) GetAddress(ctx context.Context, userID, addressID int64) (*domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetAddress(ctx, userID, addressID)
}

func (s *MemoryStore) ListAddresses(ctx context.Context, userID int64) ([]domain.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListAddresses(ctx, userID)
}

func (s *MemoryStore) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetOrder(ctx, orderID)
}

func (s *MemoryStore) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetOrderByIdempotencyKey(ctx, userID, key)
}

func (s *MemoryStore) ListOrders(ctx context.Context, userID int64) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListOrders(ctx, userID)
}

func (s *MemoryStore) LoadSettings(context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) InsertOutboxEvent(_ context.Context, event *r.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextOID++
	event.ID = s.nextOID
	event.CreatedAt = s.now()
	stored := *event
	s.outbox = append(s.outbox, &stored)
	return nil
}

func (s *MemoryStore) GetUnprocessedEvents(_ context.Context, limit int) ([]*r.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*r.OutboxEvent
	for _, e := range s.outbox {
		if len(events) == limit {
			break
		}
		if e.ProcessedAt == nil {
			c := *e
			events = append(events, &c)
		}
	}
	return events, nil
}

func (s *MemoryStore) MarkEventAsProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.outbox {
		if e.ID == id && e.ProcessedAt == nil {
			now := s.now()
			e.ProcessedAt = &now
		}
	}
	return nil
}

func (s *MemoryStore) DeleteProcessedEvents(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.outbox[:0]
	var deleted int64
	for _, e := range s.outbox {
		if e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.outbox = kept
	return deleted, nil
}

// view answers queries against one state snapshot.
type view struct {
	st  *state
	now func() time.Time
}

func (v view) GetProduct(_ context.Context, productID int64) (*domain.Product, error) {
	p, ok := v.st.products[productID]
	if !ok {
		return nil, r.ErrProductNotFound
	}
	p = copyProduct(p)
	return &p, nil
}

func (v view) joined(l domain.CartLine) domain.CartLine {
	l.Product = copyProduct(v.st.products[l.ProductID])
	return l
}

func (v view) ListCartLines(_ context.Context, userID int64) ([]domain.CartLine, error) {
	var lines []domain.CartLine
	for _, l := range v.st.cartLines {
		if l.UserID == userID {
			lines = append(lines, v.joined(l))
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		if !lines[i].CreatedAt.Equal(lines[j].CreatedAt) {
			return lines[i].CreatedAt.Before(lines[j].CreatedAt)
		}
		return lines[i].ID < lines[j].ID
	})
	return lines, nil
}

func (v view) GetCartLine(_ context.Context, userID, lineID int64) (*domain.CartLine, error) {
	l, ok := v.st.cartLines[lineID]
	if !ok || l.UserID != userID {
		return nil, r.ErrCartLineNotFound
	}
	l = v.joined(l)
	return &l, nil
}

func (v view) CountCartItems(_ context.Context, userID int64) (int, error) {
	count := 0
	for _, l := range v.st.cartLines {
		if l.UserID == userID {
			count += l.Quantity
		}
	}
	return count, nil
}

func (v view) GetAddress(_ context.Context, userID, addressID int64) (*domain.Address, error) {
	a, ok := v.st.addresses[addressID]
	if !ok || a.UserID != userID {
		return nil, r.ErrAddressNotFound
	}
	return &a, nil
}

func (v view) ListAddresses(_ context.Context, userID int64) ([]domain.Address, error) {
	var out []domain.Address
	for _, a := range v.st.addresses {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v view) GetOrder(_ context.Context, orderID uuid.UUID) (*domain.Order, error) {
	o, ok := v.st.orders[orderID]
	if !ok {
		return nil, r.ErrOrderNotFound
	}
	o.Lines = append([]domain.OrderLine(nil), o.Lines...)
	return &o, nil
}

func (v view) GetOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error) {
	for _, o := range v.st.orders {
		if o.UserID == userID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return v.GetOrder(ctx, o.ID)
		}
	}
	return nil, r.ErrOrderNotFound
}

func (v view) ListOrders(ctx context.Context, userID int64) ([]*domain.Order, error) {
	var out []*domain.Order
	for i := len(v.st.orderSeq) - 1; i >= 0; i-- {
		id := v.st.orderSeq[i]
		if v.st.orders[id].UserID != userID {
			continue
		}
		o, err := v.GetOrder(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
