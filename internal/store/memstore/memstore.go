// Package memstore is an in-process implementation of store.TxStore.
// Transactions run against a private copy of the data set that replaces the
// shared one only when the callback succeeds, so a failed transaction leaves
// nothing behind. Transactions are serialized.
package memstore

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"marketplace-service/internal/models"
	"marketplace-service/internal/store"

	"github.com/google/uuid"
)

type productRow struct {
	models.Product
	seq int64
}

type orderRow struct {
	models.Order
	seq int64
}

type lineRow struct {
	models.OrderLine
	seq int64
}

type state struct {
	products map[uuid.UUID]productRow
	files    map[uuid.UUID]models.ProductFile
	orders   map[uuid.UUID]orderRow
	lines    map[uuid.UUID]lineRow
	events   map[string]string
	seq      int64
}

func newState() *state {
	return &state{
		products: map[uuid.UUID]productRow{},
		files:    map[uuid.UUID]models.ProductFile{},
		orders:   map[uuid.UUID]orderRow{},
		lines:    map[uuid.UUID]lineRow{},
		events:   map[string]string{},
	}
}

func (s *state) clone() *state {
	c := &state{
		products: make(map[uuid.UUID]productRow, len(s.products)),
		files:    make(map[uuid.UUID]models.ProductFile, len(s.files)),
		orders:   make(map[uuid.UUID]orderRow, len(s.orders)),
		lines:    make(map[uuid.UUID]lineRow, len(s.lines)),
		events:   make(map[string]string, len(s.events)),
		seq:      s.seq,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.files {
		c.files[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	return c
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

// Store is an in-memory TxStore
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

var _ store.TxStore = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{state: newState(), now: func() time.Time { return time.Now().UTC() }}
}

// WithTx runs fn against a copy of the data and publishes the copy on success
func (s *Store) WithTx(ctx context.Context, fn func(store.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := s.state.clone()
	if err := fn(&repo{st: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = work
	return nil
}

// WithReadTx runs fn against a copy that is always discarded
func (s *Store) WithReadTx(ctx context.Context, fn func(store.Repository) error) error {
	s.mu.Lock()
	snapshot := s.state.clone()
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&repo{st: snapshot, now: s.now})
}

func autocommit[T any](ctx context.Context, s *Store, fn func(r store.Repository) (T, error)) (T, error) {
	var out T
	err := s.WithTx(ctx, func(r store.Repository) error {
		var err error
		out, err = fn(r)
		return err
	})
	return out, err
}

func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	return s.WithTx(ctx, func(r store.Repository) error { return r.CreateProduct(ctx, product) })
}

func (s *Store) CreateProductFile(ctx context.Context, file *models.ProductFile) error {
	return s.WithTx(ctx, func(r store.Repository) error { return r.CreateProductFile(ctx, file) })
}

func (s *Store) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	return autocommit(ctx, s, func(r store.Repository) (*models.Product, error) { return r.GetProductByID(ctx, id) })
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	return autocommit(ctx, s, func(r store.Repository) ([]models.Product, error) { return r.GetProductsByIDs(ctx, ids) })
}

func (s *Store) ListProducts(ctx context.Context, filter models.ProductFilter, page models.Page) ([]models.Product, error) {
	return autocommit(ctx, s, func(r store.Repository) ([]models.Product, error) { return r.ListProducts(ctx, filter, page) })
}

func (s *Store) CountProducts(ctx context.Context, filter models.ProductFilter) (int64, error) {
	return autocommit(ctx, s, func(r store.Repository) (int64, error) { return r.CountProducts(ctx, filter) })
}

func (s *Store) UpdateProduct(ctx context.Context, product *models.Product) error {
	return s.WithTx(ctx, func(r store.Repository) error { return r.UpdateProduct(ctx, product) })
}

func (s *Store) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	return s.WithTx(ctx, func(r store.Repository) error { return r.DeleteProduct(ctx, id) })
}

func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	return s.WithTx(ctx, func(r store.Repository) error { return r.CreateOrder(ctx, order) })
}

func (s *Store) CreateOrderLines(ctx context.Context, lines []models.OrderLine) error {
	return s.WithTx(ctx, func(r store.Repository) error { return r.CreateOrderLines(ctx, lines) })
}

func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return autocommit(ctx, s, func(r store.Repository) (*models.Order, error) { return r.GetOrderByID(ctx, id) })
}

func (s *Store) LockOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return autocommit(ctx, s, func(r store.Repository) (*models.Order, error) { return r.LockOrderByID(ctx, id) })
}

func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	return autocommit(ctx, s, func(r store.Repository) (*models.Order, error) { return r.GetOrderByIdempotencyKey(ctx, key) })
}

func (s *Store) GetOrderLinesByOrderIDs(ctx context.Context, orderIDs []uuid.UUID) ([]models.OrderLine, error) {
	return autocommit(ctx, s, func(r store.Repository) ([]models.OrderLine, error) {
		return r.GetOrderLinesByOrderIDs(ctx, orderIDs)
	})
}

func (s *Store) ListOrders(ctx context.Context, filter models.OrderFilter, page models.Page) ([]models.Order, error) {
	return autocommit(ctx, s, func(r store.Repository) ([]models.Order, error) { return r.ListOrders(ctx, filter, page) })
}

func (s *Store) CountOrders(ctx context.Context, filter models.OrderFilter) (int64, error) {
	return autocommit(ctx, s, func(r store.Repository) (int64, error) { return r.CountOrders(ctx, filter) })
}

func (s *Store) UpdateOrder(ctx context.Context, order *models.Order) error {
	return s.WithTx(ctx, func(r store.Repository) error { return r.UpdateOrder(ctx, order) })
}

func (s *Store) DeleteOrder(ctx context.Context, id uuid.UUID) error {
	return s.WithTx(ctx, func(r store.Repository) error { return r.DeleteOrder(ctx, id) })
}

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	return autocommit(ctx, s, func(r store.Repository) (bool, error) { return r.IsEventProcessed(ctx, eventID) })
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	return s.WithTx(ctx, func(r store.Repository) error { return r.MarkEventProcessed(ctx, eventID, eventType) })
}

// repo applies operations to one working copy
type repo struct {
	st  *state
	now func() time.Time
}

func (r *repo) CreateProduct(_ context.Context, product *models.Product) error {
	if _, ok := r.st.products[product.ID]; ok {
		return store.ErrConflict
	}
	now := r.now()
	product.CreatedAt, product.UpdatedAt = now, now
	r.st.products[product.ID] = productRow{Product: *product, seq: r.st.next()}
	return nil
}

func (r *repo) CreateProductFile(_ context.Context, file *models.ProductFile) error {
	if _, ok := r.st.files[file.ID]; ok {
		return store.ErrConflict
	}
	if _, ok := r.st.products[file.ProductID]; !ok {
		return store.ErrConflict
	}
	file.CreatedAt = r.now()
	r.st.files[file.ID] = *file
	return nil
}

func (r *repo) GetProductByID(_ context.Context, id uuid.UUID) (*models.Product, error) {
	row, ok := r.st.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	p := row.Product
	return &p, nil
}

func (r *repo) GetProductsByIDs(_ context.Context, ids []uuid.UUID) ([]models.Product, error) {
	out := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if row, ok := r.st.products[id]; ok {
			out = append(out, row.Product)
		}
	}
	return out, nil
}

func (r *repo) filteredProducts(filter models.ProductFilter) []productRow {
	rows := make([]productRow, 0, len(r.st.products))
	for _, row := range r.st.products {
		if filter.UserID != nil && row.UserID != *filter.UserID {
			continue
		}
		if filter.CategoryID != nil && row.CategoryID != *filter.CategoryID {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })
	return rows
}

func (r *repo) ListProducts(_ context.Context, filter models.ProductFilter, page models.Page) ([]models.Product, error) {
	rows := r.filteredProducts(filter)
	start, end := window(len(rows), page)
	out := make([]models.Product, 0, end-start)
	for _, row := range rows[start:end] {
		out = append(out, row.Product)
	}
	return out, nil
}

func (r *repo) CountProducts(_ context.Context, filter models.ProductFilter) (int64, error) {
	return int64(len(r.filteredProducts(filter))), nil
}

func (r *repo) UpdateProduct(_ context.Context, product *models.Product) error {
	row, ok := r.st.products[product.ID]
	if !ok {
		return store.ErrNotFound
	}
	row.CategoryID = product.CategoryID
	row.Name = product.Name
	row.UnitPrice = product.UnitPrice
	row.Amount = product.Amount
	row.SubTotal = product.SubTotal
	row.IsPurchased = product.IsPurchased
	row.UpdatedAt = r.now()
	product.UpdatedAt = row.UpdatedAt
	r.st.products[product.ID] = row
	return nil
}

func (r *repo) DeleteProduct(_ context.Context, id uuid.UUID) error {
	if _, ok := r.st.products[id]; !ok {
		return store.ErrNotFound
	}
	for _, line := range r.st.lines {
		if line.ProductID == id {
			return store.ErrConflict
		}
	}
	for fid, f := range r.st.files {
		if f.ProductID == id {
			delete(r.st.files, fid)
		}
	}
	delete(r.st.products, id)
	return nil
}

func (r *repo) CreateOrder(_ context.Context, order *models.Order) error {
	if _, ok := r.st.orders[order.ID]; ok {
		return store.ErrConflict
	}
	if order.IdempotencyKey != nil {
		for _, row := range r.st.orders {
			if row.IdempotencyKey != nil && *row.IdempotencyKey == *order.IdempotencyKey {
				return store.ErrConflict
			}
		}
	}
	now := r.now()
	order.CreatedAt, order.UpdatedAt = now, now
	row := orderRow{Order: *order, seq: r.st.next()}
	row.Lines = nil
	r.st.orders[order.ID] = row
	return nil
}

func (r *repo) CreateOrderLines(_ context.Context, lines []models.OrderLine) error {
	for _, line := range lines {
		if _, ok := r.st.lines[line.ID]; ok {
			return store.ErrConflict
		}
		if _, ok := r.st.orders[line.OrderID]; !ok {
			return store.ErrConflict
		}
		if _, ok := r.st.products[line.ProductID]; !ok {
			return store.ErrConflict
		}
		r.st.lines[line.ID] = lineRow{OrderLine: line, seq: r.st.next()}
	}
	return nil
}

func (r *repo) GetOrderByID(_ context.Context, id uuid.UUID) (*models.Order, error) {
	row, ok := r.st.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	o := row.Order
	return &o, nil
}

// LockOrderByID is GetOrderByID; transactions are already serialized
func (r *repo) LockOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return r.GetOrderByID(ctx, id)
}

func (r *repo) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	for _, row := range r.st.orders {
		if row.IdempotencyKey != nil && *row.IdempotencyKey == key {
			o := row.Order
			return &o, nil
		}
	}
	return nil, store.ErrNotFound
}

func (r *repo) GetOrderLinesByOrderIDs(_ context.Context, orderIDs []uuid.UUID) ([]models.OrderLine, error) {
	wanted := make(map[uuid.UUID]struct{}, len(orderIDs))
	for _, id := range orderIDs {
		wanted[id] = struct{}{}
	}
	rows := make([]lineRow, 0)
	for _, row := range r.st.lines {
		if _, ok := wanted[row.OrderID]; ok {
			rows = append(rows, row)
		}
	}
	// same order as the SQL store: order_id, then insertion
	sort.Slice(rows, func(i, j int) bool {
		if c := bytes.Compare(rows[i].OrderID[:], rows[j].OrderID[:]); c != 0 {
			return c < 0
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]models.OrderLine, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.OrderLine)
	}
	return out, nil
}

func (r *repo) filteredOrders(filter models.OrderFilter) []orderRow {
	rows := make([]orderRow, 0, len(r.st.orders))
	for _, row := range r.st.orders {
		if filter.UserID != nil && row.UserID != *filter.UserID {
			continue
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq > rows[j].seq })
	return rows
}

func (r *repo) ListOrders(_ context.Context, filter models.OrderFilter, page models.Page) ([]models.Order, error) {
	rows := r.filteredOrders(filter)
	start, end := window(len(rows), page)
	out := make([]models.Order, 0, end-start)
	for _, row := range rows[start:end] {
		out = append(out, row.Order)
	}
	return out, nil
}

func (r *repo) CountOrders(_ context.Context, filter models.OrderFilter) (int64, error) {
	return int64(len(r.filteredOrders(filter))), nil
}

func (r *repo) UpdateOrder(_ context.Context, order *models.Order) error {
	row, ok := r.st.orders[order.ID]
	if !ok {
		return store.ErrNotFound
	}
	row.Status = order.Status
	row.ShippingFee = order.ShippingFee
	row.ShippingMethod = order.ShippingMethod
	row.PaymentID = order.PaymentID
	row.UpdatedAt = r.now()
	order.UpdatedAt = row.UpdatedAt
	r.st.orders[order.ID] = row
	return nil
}

func (r *repo) DeleteOrder(_ context.Context, id uuid.UUID) error {
	if _, ok := r.st.orders[id]; !ok {
		return store.ErrNotFound
	}
	for lid, line := range r.st.lines {
		if line.OrderID == id {
			delete(r.st.lines, lid)
		}
	}
	delete(r.st.orders, id)
	return nil
}

func (r *repo) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	_, ok := r.st.events[eventID]
	return ok, nil
}

func (r *repo) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	if _, ok := r.st.events[eventID]; !ok {
		r.st.events[eventID] = eventType
	}
	return nil
}

func window(n int, page models.Page) (int, int) {
	if page.Limit < 1 {
		return 0, 0
	}
	start := page.Offset()
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	if page.Limit > n-start {
		return start, n
	}
	return start, start + page.Limit
}
