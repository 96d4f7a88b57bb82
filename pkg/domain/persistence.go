package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateProduct(Product) (Product, error)
	UpdateProduct(id string, mutator func(*Product) error) (Product, error)
	DeleteProduct(id string) error
	AdjustStock(productID string, delta decimal.Decimal) (Product, error)
	CreateCustomer(Customer) (Customer, error)
	UpdateCustomer(id string, mutator func(*Customer) error) (Customer, error)
	CreateSale(header Sale, items []SaleItem, payments []SalePayment) (Sale, error)
	CreateDebtor(Debtor) (Debtor, error)
	UpdateDebtor(id string, mutator func(*Debtor) error) (Debtor, error)
	FindProduct(id string) (Product, bool)
	FindCustomer(id string) (Customer, bool)
	FindOpenDebtor(customerID string) (Debtor, bool)
}

// TransactionView provides read-only access to snapshot data for rules and
// gateway reads.
type TransactionView interface {
	RuleView
	ListSalePayments(saleID string) []SalePayment
}

// PersistentStore is the persistence gateway consumed by the till core. It is
// a minimal abstraction over durable backends; CreateSale-style composite
// writes happen inside RunInTransaction and are all-or-nothing.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	EnsureWalkInCustomer(ctx context.Context) error
	GetProduct(id string) (Product, bool)
	ListProducts() []Product
	GetCustomer(id string) (Customer, bool)
	ListCustomers() []Customer
	GetSale(id string) (Sale, bool)
	ListSales() []Sale
	ListSaleItems(saleID string) []SaleItem
	ListSalePayments(saleID string) []SalePayment
	ListDebtors() []Debtor
}
