// Package memory provides the in-memory transactional gateway store the
// durable backends build upon. Transactions run against a cloned state that
// replaces the committed state only after the rules engine accepts it.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tillcore/pkg/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Aliases keep method signatures concise while still exposing domain types
// from this infra package.
type (
	// Product is an alias of domain.Product.
	Product = domain.Product
	// Customer is an alias of domain.Customer.
	Customer = domain.Customer
	// Sale is an alias of domain.Sale.
	Sale = domain.Sale
	// SaleItem is an alias of domain.SaleItem.
	SaleItem = domain.SaleItem
	// SalePayment is an alias of domain.SalePayment.
	SalePayment = domain.SalePayment
	// Debtor is an alias of domain.Debtor.
	Debtor = domain.Debtor
	// Change is an alias of domain.Change.
	Change = domain.Change
	// Result is an alias of domain.Result.
	Result = domain.Result
	// RulesEngine is an alias of domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Transaction is an alias of domain.Transaction.
	Transaction = domain.Transaction
	// TransactionView is an alias of domain.TransactionView.
	TransactionView = domain.TransactionView
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

type state struct {
	products     map[string]Product
	customers    map[string]Customer
	sales        map[string]Sale
	saleItems    map[string][]SaleItem
	salePayments map[string][]SalePayment
	debtors      map[string]Debtor
}

func newState() state {
	return state{
		products:     make(map[string]Product),
		customers:    make(map[string]Customer),
		sales:        make(map[string]Sale),
		saleItems:    make(map[string][]SaleItem),
		salePayments: make(map[string][]SalePayment),
		debtors:      make(map[string]Debtor),
	}
}

func (s state) clone() state {
	cloned := newState()
	for k, v := range s.products {
		cloned.products[k] = v
	}
	for k, v := range s.customers {
		cloned.customers[k] = v
	}
	for k, v := range s.sales {
		cloned.sales[k] = v
	}
	for k, v := range s.saleItems {
		cloned.saleItems[k] = append([]SaleItem(nil), v...)
	}
	for k, v := range s.salePayments {
		cloned.salePayments[k] = append([]SalePayment(nil), v...)
	}
	for k, v := range s.debtors {
		cloned.debtors[k] = v
	}
	return cloned
}

// Store provides an in-memory transactional gateway for the till domain.
type Store struct {
	mu     sync.RWMutex
	state  state
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func newID() string { return uuid.NewString() }

// transaction is the mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   *state
	changes []Change
	now     time.Time
}

var _ Transaction = (*transaction)(nil)

// txView exposes a read-only snapshot of the transactional state to rules.
type txView struct {
	state *state
}

var _ TransactionView = txView{}

// ListProducts returns all products within the snapshot, sorted by name.
func (v txView) ListProducts() []Product {
	out := make([]Product, 0, len(v.state.products))
	for _, p := range v.state.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListCustomers returns all customers within the snapshot, sorted by name.
func (v txView) ListCustomers() []Customer {
	out := make([]Customer, 0, len(v.state.customers))
	for _, c := range v.state.customers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListSales returns all sale headers, newest first.
func (v txView) ListSales() []Sale {
	out := make([]Sale, 0, len(v.state.sales))
	for _, s := range v.state.sales {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ListSaleItems returns the lines persisted for a sale.
func (v txView) ListSaleItems(saleID string) []SaleItem {
	return append([]SaleItem(nil), v.state.saleItems[saleID]...)
}

// ListSalePayments returns the settlement entries persisted for a sale.
func (v txView) ListSalePayments(saleID string) []SalePayment {
	return append([]SalePayment(nil), v.state.salePayments[saleID]...)
}

// ListDebtors returns all debtor records.
func (v txView) ListDebtors() []Debtor {
	out := make([]Debtor, 0, len(v.state.debtors))
	for _, d := range v.state.debtors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// FindProduct retrieves a product by ID from the snapshot.
func (v txView) FindProduct(id string) (Product, bool) {
	p, ok := v.state.products[id]
	return p, ok
}

// FindCustomer retrieves a customer by ID from the snapshot.
func (v txView) FindCustomer(id string) (Customer, bool) {
	c, ok := v.state.customers[id]
	return c, ok
}

// FindSale retrieves a sale header by ID from the snapshot.
func (v txView) FindSale(id string) (Sale, bool) {
	s, ok := v.state.sales[id]
	return s, ok
}

// FindOpenDebtor retrieves the unpaid debtor record for a customer, if any.
func (v txView) FindOpenDebtor(customerID string) (Debtor, bool) {
	best := Debtor{}
	found := false
	for _, d := range v.state.debtors {
		if d.CustomerID != customerID || d.IsPaid {
			continue
		}
		if !found || d.CreatedAt.Before(best.CreatedAt) {
			best = d
			found = true
		}
	}
	return best, found
}

// RunInTransaction executes fn within a transactional copy of the store
// state. The copy replaces the committed state only when fn succeeds and no
// registered rule reports a blocking violation.
func (s *Store) RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	tx := &transaction{
		store: s,
		state: &next,
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := txView{state: &next}
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = next
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(ctx context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(txView{state: &snapshot})
}

// EnsureWalkInCustomer guarantees the sentinel walk-in customer exists.
// Idempotent.
func (s *Store) EnsureWalkInCustomer(ctx context.Context) error {
	_, err := s.RunInTransaction(ctx, func(tx Transaction) error {
		if _, ok := tx.FindCustomer(domain.WalkInCustomerID); ok {
			return nil
		}
		_, err := tx.CreateCustomer(Customer{
			ID:   domain.WalkInCustomerID,
			Name: domain.WalkInCustomerName,
		})
		return err
	})
	return err
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot exposes the transactional state for reads within fn.
func (tx *transaction) Snapshot() TransactionView {
	return txView{state: tx.state}
}

// CreateProduct stores a new product within the transaction.
func (tx *transaction) CreateProduct(p Product) (Product, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	if _, exists := tx.state.products[p.ID]; exists {
		return Product{}, fmt.Errorf("product %q already exists", p.ID)
	}
	if p.Name == "" {
		return Product{}, errors.New("product name required")
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.products[p.ID] = p
	tx.recordChange(Change{Entity: domain.EntityProduct, Action: domain.ActionCreate, After: p})
	return p, nil
}

// UpdateProduct mutates a product using the provided mutator function.
func (tx *transaction) UpdateProduct(id string, mutator func(*Product) error) (Product, error) {
	current, ok := tx.state.products[id]
	if !ok {
		return Product{}, domain.ErrNotFound{Entity: domain.EntityProduct, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Product{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.products[id] = current
	tx.recordChange(Change{Entity: domain.EntityProduct, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteProduct removes a product from the transaction state.
func (tx *transaction) DeleteProduct(id string) error {
	current, ok := tx.state.products[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityProduct, ID: id}
	}
	delete(tx.state.products, id)
	tx.recordChange(Change{Entity: domain.EntityProduct, Action: domain.ActionDelete, Before: current})
	return nil
}

// AdjustStock shifts a product's quantity-on-hand by delta (negative to
// decrement). The stock-floor rule blocks commits that go negative.
func (tx *transaction) AdjustStock(productID string, delta decimal.Decimal) (Product, error) {
	return tx.UpdateProduct(productID, func(p *Product) error {
		p.QuantityOnHand = p.QuantityOnHand.Add(delta)
		return nil
	})
}

// CreateCustomer stores a new customer.
func (tx *transaction) CreateCustomer(c Customer) (Customer, error) {
	if c.ID == "" {
		c.ID = newID()
	}
	if _, exists := tx.state.customers[c.ID]; exists {
		return Customer{}, fmt.Errorf("customer %q already exists", c.ID)
	}
	if c.Name == "" {
		return Customer{}, errors.New("customer name required")
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.customers[c.ID] = c
	tx.recordChange(Change{Entity: domain.EntityCustomer, Action: domain.ActionCreate, After: c})
	return c, nil
}

// UpdateCustomer mutates an existing customer.
func (tx *transaction) UpdateCustomer(id string, mutator func(*Customer) error) (Customer, error) {
	current, ok := tx.state.customers[id]
	if !ok {
		return Customer{}, domain.ErrNotFound{Entity: domain.EntityCustomer, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Customer{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.customers[id] = current
	tx.recordChange(Change{Entity: domain.EntityCustomer, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// CreateSale persists a sale header, its items, and its payments, and
// decrements each item's product stock. All of it commits or none of it
// does; the caller composes debt handling in the same transaction.
func (tx *transaction) CreateSale(header Sale, items []SaleItem, payments []SalePayment) (Sale, error) {
	if len(items) == 0 {
		return Sale{}, domain.ValidationError{Reason: "sale requires at least one item"}
	}
	if _, ok := tx.state.customers[header.CustomerID]; !ok {
		return Sale{}, domain.ErrNotFound{Entity: domain.EntityCustomer, ID: header.CustomerID}
	}
	if header.ID == "" {
		header.ID = newID()
	}
	if _, exists := tx.state.sales[header.ID]; exists {
		return Sale{}, fmt.Errorf("sale %q already exists", header.ID)
	}
	header.CreatedAt = tx.now
	header.UpdatedAt = tx.now
	tx.state.sales[header.ID] = header
	tx.recordChange(Change{Entity: domain.EntitySale, Action: domain.ActionCreate, After: header})

	stored := make([]SaleItem, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			item.ID = newID()
		}
		item.SaleID = header.ID
		item.CreatedAt = tx.now
		if item.TotalPrice.IsZero() {
			item.TotalPrice = item.Quantity.Mul(item.UnitPrice)
		}
		if _, err := tx.AdjustStock(item.ProductID, item.Quantity.Neg()); err != nil {
			return Sale{}, err
		}
		stored = append(stored, item)
		tx.recordChange(Change{Entity: domain.EntitySaleItem, Action: domain.ActionCreate, After: item})
	}
	tx.state.saleItems[header.ID] = stored

	storedPayments := make([]SalePayment, 0, len(payments))
	for _, payment := range payments {
		if payment.ID == "" {
			payment.ID = newID()
		}
		payment.SaleID = header.ID
		storedPayments = append(storedPayments, payment)
	}
	tx.state.salePayments[header.ID] = storedPayments
	return header, nil
}

// CreateDebtor stores a new outstanding-balance record.
func (tx *transaction) CreateDebtor(d Debtor) (Debtor, error) {
	if d.ID == "" {
		d.ID = newID()
	}
	if _, exists := tx.state.debtors[d.ID]; exists {
		return Debtor{}, fmt.Errorf("debtor %q already exists", d.ID)
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	tx.state.debtors[d.ID] = d
	tx.recordChange(Change{Entity: domain.EntityDebtor, Action: domain.ActionCreate, After: d})
	return d, nil
}

// UpdateDebtor mutates an existing debtor record.
func (tx *transaction) UpdateDebtor(id string, mutator func(*Debtor) error) (Debtor, error) {
	current, ok := tx.state.debtors[id]
	if !ok {
		return Debtor{}, domain.ErrNotFound{Entity: domain.EntityDebtor, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Debtor{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.debtors[id] = current
	tx.recordChange(Change{Entity: domain.EntityDebtor, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// FindProduct retrieves a product by ID from the transaction state.
func (tx *transaction) FindProduct(id string) (Product, bool) {
	p, ok := tx.state.products[id]
	return p, ok
}

// FindCustomer retrieves a customer by ID from the transaction state.
func (tx *transaction) FindCustomer(id string) (Customer, bool) {
	c, ok := tx.state.customers[id]
	return c, ok
}

// FindOpenDebtor retrieves the unpaid debtor record for a customer, if any.
func (tx *transaction) FindOpenDebtor(customerID string) (Debtor, bool) {
	return txView{state: tx.state}.FindOpenDebtor(customerID)
}

// Read helpers ---------------------------------------------------------------

// GetProduct retrieves a product by ID from committed state.
func (s *Store) GetProduct(id string) (Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.state.products[id]
	return p, ok
}

// ListProducts returns all products from committed state, sorted by name.
func (s *Store) ListProducts() []Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return txView{state: &s.state}.ListProducts()
}

// GetCustomer retrieves a customer by ID.
func (s *Store) GetCustomer(id string) (Customer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.customers[id]
	return c, ok
}

// ListCustomers returns all customers, sorted by name.
func (s *Store) ListCustomers() []Customer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return txView{state: &s.state}.ListCustomers()
}

// GetSale retrieves a sale header by ID.
func (s *Store) GetSale(id string) (Sale, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.state.sales[id]
	return sale, ok
}

// ListSales returns all sale headers, newest first.
func (s *Store) ListSales() []Sale {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return txView{state: &s.state}.ListSales()
}

// ListSaleItems returns the persisted lines of a sale.
func (s *Store) ListSaleItems(saleID string) []SaleItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SaleItem(nil), s.state.saleItems[saleID]...)
}

// ListSalePayments returns the persisted settlement entries of a sale.
func (s *Store) ListSalePayments(saleID string) []SalePayment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SalePayment(nil), s.state.salePayments[saleID]...)
}

// ListDebtors returns all debtor records.
func (s *Store) ListDebtors() []Debtor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return txView{state: &s.state}.ListDebtors()
}
