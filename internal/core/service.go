package core

import (
	"context"

	"tillcore/pkg/domain"

	"github.com/shopspring/decimal"
)

// Service exposes the till operations over a persistence gateway: the
// catalog snapshot, the session registry, and the checkout coordinator.
type Service struct {
	store    domain.PersistentStore
	registry *SessionRegistry
	checkout *CheckoutCoordinator
	catalog  *Catalog
	metrics  MetricsRecorder
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, cfg CheckoutConfig) *Service {
	registry := NewSessionRegistry()
	return &Service{
		store:    store,
		registry: registry,
		checkout: NewCheckoutCoordinator(store, registry, cfg),
	}
}

// Store returns the underlying persistence gateway.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Registry returns the session registry.
func (s *Service) Registry() *SessionRegistry { return s.registry }

// Checkout returns the checkout coordinator.
func (s *Service) Checkout() *CheckoutCoordinator { return s.checkout }

// SetMetrics attaches a metrics recorder to the service and its coordinator.
func (s *Service) SetMetrics(rec MetricsRecorder) {
	s.metrics = rec
	s.checkout.SetMetrics(rec)
}

// SetInvoiceSink attaches a post-checkout invoice consumer, typically the
// receipt archiver.
func (s *Service) SetInvoiceSink(sink InvoiceSink) { s.checkout.SetInvoiceSink(sink) }

// LoadCatalog fetches the once-per-session product and customer snapshot.
func (s *Service) LoadCatalog(ctx context.Context) (*Catalog, error) {
	catalog, err := LoadCatalog(ctx, s.store)
	if err != nil {
		return nil, err
	}
	s.catalog = catalog
	return catalog, nil
}

// Catalog returns the loaded snapshot, or nil before LoadCatalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

// CreateCustomer persists a new customer and inserts it into the loaded
// catalog snapshot.
func (s *Service) CreateCustomer(ctx context.Context, name string) (Customer, error) {
	if name == "" {
		return Customer{}, domain.ValidationError{Reason: "customer name required"}
	}
	var created Customer
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateCustomer(Customer{Name: name})
		return err
	})
	if err != nil {
		return Customer{}, domain.PersistenceError{Op: "create customer", Err: err}
	}
	if s.catalog != nil {
		s.catalog.add(created)
	}
	return created, nil
}

// CreateProduct persists a new catalog product.
func (s *Service) CreateProduct(ctx context.Context, product Product) (Product, error) {
	var created Product
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		created, err = tx.CreateProduct(product)
		return err
	})
	if err != nil {
		return Product{}, domain.PersistenceError{Op: "create product", Err: err}
	}
	return created, nil
}

// Restock increments a product's quantity-on-hand.
func (s *Service) Restock(ctx context.Context, productID string, delta decimal.Decimal) (Product, error) {
	var updated Product
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		updated, err = tx.AdjustStock(productID, delta)
		return err
	})
	if err != nil {
		return Product{}, domain.PersistenceError{Op: "adjust stock", Err: err}
	}
	return updated, nil
}
