package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sakashimaa/go-order-management/pkg/db"
	"github.com/sakashimaa/go-order-management/pkg/events"
	outboxDomain "github.com/sakashimaa/go-order-management/pkg/outbox/domain"
	"github.com/sakashimaa/go-order-management/services/order/internal/domain"
	"github.com/sakashimaa/go-order-management/services/order/internal/repository"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (t *fakeTx) Commit(_ context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	t.rolledBack = true
	return nil
}

type fakePool struct {
	mu  sync.Mutex
	txs []*fakeTx
}

func (p *fakePool) Begin(_ context.Context) (pgx.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tx := &fakeTx{}
	p.txs = append(p.txs, tx)
	return tx, nil
}

func (p *fakePool) Exec(_ context.Context, _ string, _ ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (p *fakePool) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, nil
}

func (p *fakePool) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return nil
}

func (p *fakePool) begins() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}

// fakeProductRepo applies decrements immediately; onDecrement can inject a
// conflict or simulate a concurrent writer.
type fakeProductRepo struct {
	mu          sync.Mutex
	products    map[uuid.UUID]*domain.Product
	findCalls   int
	decrements  []uuid.UUID
	onDecrement func(id uuid.UUID, amount int64) error
}

func newFakeProductRepo(products ...domain.Product) *fakeProductRepo {
	r := &fakeProductRepo{products: make(map[uuid.UUID]*domain.Product)}
	for i := range products {
		p := products[i]
		r.products[p.ID] = &p
	}
	return r
}

func (r *fakeProductRepo) stock(id uuid.UUID) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[id].Stock
}

func (r *fakeProductRepo) Create(_ context.Context, _ db.DBTX, product *domain.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	product.ID = uuid.New()
	p := *product
	r.products[p.ID] = &p
	return nil
}

func (r *fakeProductRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.products[id]
	if !ok {
		return nil, repository.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeProductRepo) FindByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.findCalls++
	res := make(map[uuid.UUID]*domain.Product)
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			cp := *p
			res[id] = &cp
		}
	}
	return res, nil
}

func (r *fakeProductRepo) List(_ context.Context, _, _ int64, _ string) ([]domain.Product, int64, error) {
	return nil, 0, nil
}

func (r *fakeProductRepo) Update(_ context.Context, id uuid.UUID, _ *domain.UpdateProductInput) (*domain.Product, error) {
	return r.GetByID(context.Background(), id)
}

func (r *fakeProductRepo) DeleteByID(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.products[id]; !ok {
		return repository.ErrProductNotFound
	}
	delete(r.products, id)
	return nil
}

func (r *fakeProductRepo) DecrementStock(_ context.Context, _ pgx.Tx, id uuid.UUID, amount int64) error {
	r.mu.Lock()
	hook := r.onDecrement
	r.decrements = append(r.decrements, id)
	r.mu.Unlock()

	if hook != nil {
		if err := hook(id, amount); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.products[id]
	if p == nil || p.Stock < amount {
		return repository.ErrStockConflict
	}
	p.Stock -= amount
	return nil
}

type fakeCustomerRepo struct {
	customers map[uuid.UUID]*domain.Customer
}

func newFakeCustomerRepo(customers ...domain.Customer) *fakeCustomerRepo {
	r := &fakeCustomerRepo{customers: make(map[uuid.UUID]*domain.Customer)}
	for i := range customers {
		c := customers[i]
		r.customers[c.ID] = &c
	}
	return r
}

func (r *fakeCustomerRepo) Create(_ context.Context, customer *domain.Customer) error {
	for _, c := range r.customers {
		if c.Email == customer.Email {
			return repository.ErrCustomerEmailTaken
		}
	}
	customer.ID = uuid.New()
	customer.CreatedAt = time.Now()
	c := *customer
	r.customers[c.ID] = &c
	return nil
}

func (r *fakeCustomerRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Customer, error) {
	c, ok := r.customers[id]
	if !ok {
		return nil, repository.ErrCustomerNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCustomerRepo) List(_ context.Context, _, _ int64) ([]domain.Customer, int64, error) {
	return nil, 0, nil
}

type fakeOrderRepo struct {
	orders map[uuid.UUID]*domain.Order
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[uuid.UUID]*domain.Order)}
}

func (r *fakeOrderRepo) CreateOrder(_ context.Context, _ pgx.Tx, order *domain.Order) error {
	order.ID = uuid.New()
	order.OrderDate = time.Now().UTC()
	for i := range order.Lines {
		order.Lines[i].ID = uuid.New()
		order.Lines[i].OrderID = order.ID
	}
	r.orders[order.ID] = order
	return nil
}

func (r *fakeOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return nil, repository.ErrOrderNotFound
	}
	return o, nil
}

func (r *fakeOrderRepo) List(_ context.Context, _, _ int64) ([]domain.Order, int64, error) {
	res := make([]domain.Order, 0, len(r.orders))
	for _, o := range r.orders {
		res = append(res, *o)
	}
	return res, int64(len(res)), nil
}

type fakeOutboxRepo struct {
	mu        sync.Mutex
	saved     []*outboxDomain.OutboxEvent
	published []int64
	nextID    int64
}

func (r *fakeOutboxRepo) SaveOutboxEvent(_ context.Context, _ db.DBTX, event *outboxDomain.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	event.Id = r.nextID
	event.CreatedAt = time.Now()
	r.saved = append(r.saved, event)
	return nil
}

func (r *fakeOutboxRepo) GetUnpublishedEvents(_ context.Context, _ db.DBTX, _ int, _ time.Time) ([]*outboxDomain.OutboxEvent, error) {
	return nil, nil
}

func (r *fakeOutboxRepo) MarkEventPublished(_ context.Context, _ db.DBTX, eventID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.published = append(r.published, eventID)
	return nil
}

func (r *fakeOutboxRepo) MarkEventFailed(_ context.Context, _ db.DBTX, _ int64, _ string) error {
	return nil
}

type publishCall struct {
	key       string
	event     events.OrderCreatedEvent
	eventType string
}

type fakePublisher struct {
	err   error
	calls []publishCall
}

func (p *fakePublisher) Publish(_ context.Context, key string, event events.OrderCreatedEvent, eventType string) error {
	p.calls = append(p.calls, publishCall{key: key, event: event, eventType: eventType})
	return p.err
}

type fakeCache struct {
	invalidated []uuid.UUID
}

func (c *fakeCache) Invalidate(_ context.Context, ids ...uuid.UUID) {
	c.invalidated = append(c.invalidated, ids...)
}

type fakeValidator struct {
	err error
}

func (v fakeValidator) ValidateStruct(_ any) error { return v.err }
