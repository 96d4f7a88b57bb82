package core

import (
	"context"
	"sort"
	"strings"
	"sync"

	"tillcore/pkg/domain"
)

// Catalog is a read-only in-memory view of products and customers fetched
// once per till session. It backs the product and customer pickers at the
// till; stock levels in the snapshot are the ceilings cart lines capture.
type Catalog struct {
	mu        sync.RWMutex
	products  []Product
	customers []Customer
	byProduct map[string]int
	byCust    map[string]int
}

// LoadCatalog fetches products and customers through the persistence gateway
// and guarantees the walk-in sentinel customer exists.
func LoadCatalog(ctx context.Context, store domain.PersistentStore) (*Catalog, error) {
	if err := store.EnsureWalkInCustomer(ctx); err != nil {
		return nil, domain.PersistenceError{Op: "ensure walk-in customer", Err: err}
	}
	c := &Catalog{}
	err := store.View(ctx, func(view domain.TransactionView) error {
		c.reset(view.ListProducts(), view.ListCustomers())
		return nil
	})
	if err != nil {
		return nil, domain.PersistenceError{Op: "load catalog", Err: err}
	}
	return c, nil
}

func (c *Catalog) reset(products []Product, customers []Customer) {
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	sort.Slice(customers, func(i, j int) bool { return customers[i].Name < customers[j].Name })
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products = products
	c.customers = customers
	c.byProduct = make(map[string]int, len(products))
	for i, p := range products {
		c.byProduct[p.ID] = i
	}
	c.byCust = make(map[string]int, len(customers))
	for i, cust := range customers {
		c.byCust[cust.ID] = i
	}
}

// Products returns the snapshot's products sorted by name.
func (c *Catalog) Products() []Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Product(nil), c.products...)
}

// Customers returns the snapshot's customers sorted by name.
func (c *Catalog) Customers() []Customer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Customer(nil), c.customers...)
}

// Product looks up a product by ID.
func (c *Catalog) Product(id string) (Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byProduct[id]
	if !ok {
		return Product{}, false
	}
	return c.products[i], true
}

// Customer looks up a customer by ID.
func (c *Catalog) Customer(id string) (Customer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byCust[id]
	if !ok {
		return Customer{}, false
	}
	return c.customers[i], true
}

// WalkIn returns the sentinel walk-in customer.
func (c *Catalog) WalkIn() (Customer, bool) {
	return c.Customer(domain.WalkInCustomerID)
}

// SearchProducts returns products whose name, category, or description
// contains the query, case-insensitively.
func (c *Catalog) SearchProducts(query string) []Product {
	q := strings.ToLower(strings.TrimSpace(query))
	c.mu.RLock()
	defer c.mu.RUnlock()
	if q == "" {
		return append([]Product(nil), c.products...)
	}
	var out []Product
	for _, p := range c.products {
		if strings.Contains(strings.ToLower(p.Name), q) ||
			strings.Contains(strings.ToLower(p.Category), q) ||
			strings.Contains(strings.ToLower(p.Description), q) {
			out = append(out, p)
		}
	}
	return out
}

// SearchCustomers returns customers whose name or phone contains the query.
func (c *Catalog) SearchCustomers(query string) []Customer {
	q := strings.ToLower(strings.TrimSpace(query))
	c.mu.RLock()
	defer c.mu.RUnlock()
	if q == "" {
		return append([]Customer(nil), c.customers...)
	}
	var out []Customer
	for _, cust := range c.customers {
		if strings.Contains(strings.ToLower(cust.Name), q) ||
			strings.Contains(cust.Phone, q) {
			out = append(out, cust)
		}
	}
	return out
}

// add inserts a customer created after the snapshot was taken, keeping the
// picker current without a full reload.
func (c *Catalog) add(customer Customer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.customers = append(c.customers, customer)
	sort.Slice(c.customers, func(i, j int) bool { return c.customers[i].Name < c.customers[j].Name })
	c.byCust = make(map[string]int, len(c.customers))
	for i, cust := range c.customers {
		c.byCust[cust.ID] = i
	}
}
