// Package sqlite provides the embedded durable backend. It reuses the
// in-memory transactional store and mirrors its committed state into
// relational tables after every successful transaction.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tillcore/internal/infra/persistence/memory"
	"tillcore/pkg/domain"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Store persists the in-memory state to SQLite tables. It snapshots the full
// state after every successful transaction.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore constructs a snapshotting SQLite-backed persistent store.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = "tillcore.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := applySchema(db); err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	s := &Store{Store: mem, db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Monetary and quantity columns are TEXT so decimal values round-trip without
// float drift.
const schema = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	cost_price TEXT NOT NULL DEFAULT '0',
	selling_price TEXT NOT NULL,
	quantity_on_hand TEXT NOT NULL,
	reorder_level TEXT NOT NULL DEFAULT '0',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS customers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	phone TEXT NOT NULL DEFAULT '',
	email TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sales (
	id TEXT PRIMARY KEY,
	customer_id TEXT NOT NULL,
	customer_name TEXT NOT NULL DEFAULT '',
	employee_id TEXT NOT NULL DEFAULT '',
	employee_name TEXT NOT NULL DEFAULT '',
	total_amount TEXT NOT NULL,
	discount TEXT NOT NULL DEFAULT '0',
	payment_method TEXT NOT NULL,
	bank_name TEXT NOT NULL DEFAULT '',
	amount_paid TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sale_items (
	id TEXT PRIMARY KEY,
	sale_id TEXT NOT NULL,
	product_id TEXT NOT NULL,
	product_name TEXT NOT NULL DEFAULT '',
	quantity TEXT NOT NULL,
	unit_price TEXT NOT NULL,
	total_price TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sale_payments (
	id TEXT PRIMARY KEY,
	sale_id TEXT NOT NULL,
	method TEXT NOT NULL,
	bank_name TEXT NOT NULL DEFAULT '',
	amount TEXT NOT NULL,
	reference TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS debtors (
	id TEXT PRIMARY KEY,
	sale_id TEXT NOT NULL DEFAULT '',
	customer_id TEXT NOT NULL,
	amount_owed TEXT NOT NULL,
	due_date TEXT NOT NULL,
	is_paid INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) load() error {
	snap := memory.Snapshot{}

	rows, err := s.db.Query(`SELECT id, name, category, description, cost_price, selling_price, quantity_on_hand, reorder_level, created_at, updated_at FROM products`)
	if err != nil {
		return fmt.Errorf("select products: %w", err)
	}
	for rows.Next() {
		var p domain.Product
		var cost, selling, qty, reorder, createdAt, updatedAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Description, &cost, &selling, &qty, &reorder, &createdAt, &updatedAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan product: %w", err)
		}
		if p.CostPrice, err = decimal.NewFromString(cost); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode product %s cost price: %w", p.ID, err)
		}
		if p.SellingPrice, err = decimal.NewFromString(selling); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode product %s selling price: %w", p.ID, err)
		}
		if p.QuantityOnHand, err = decimal.NewFromString(qty); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode product %s quantity: %w", p.ID, err)
		}
		if p.ReorderLevel, err = decimal.NewFromString(reorder); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode product %s reorder level: %w", p.ID, err)
		}
		if p.CreatedAt, p.UpdatedAt, err = parseTimes(createdAt, updatedAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode product %s timestamps: %w", p.ID, err)
		}
		snap.Products = append(snap.Products, p)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = s.db.Query(`SELECT id, name, phone, email, address, created_at, updated_at FROM customers`)
	if err != nil {
		return fmt.Errorf("select customers: %w", err)
	}
	for rows.Next() {
		var c domain.Customer
		var createdAt, updatedAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &createdAt, &updatedAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan customer: %w", err)
		}
		if c.CreatedAt, c.UpdatedAt, err = parseTimes(createdAt, updatedAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode customer %s timestamps: %w", c.ID, err)
		}
		snap.Customers = append(snap.Customers, c)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = s.db.Query(`SELECT id, customer_id, customer_name, employee_id, employee_name, total_amount, discount, payment_method, bank_name, amount_paid, created_at, updated_at FROM sales`)
	if err != nil {
		return fmt.Errorf("select sales: %w", err)
	}
	for rows.Next() {
		var sale domain.Sale
		var total, discount, paid, method, createdAt, updatedAt string
		if err := rows.Scan(&sale.ID, &sale.CustomerID, &sale.CustomerName, &sale.EmployeeID, &sale.EmployeeName, &total, &discount, &method, &sale.BankName, &paid, &createdAt, &updatedAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan sale: %w", err)
		}
		if sale.TotalAmount, err = decimal.NewFromString(total); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode sale %s total: %w", sale.ID, err)
		}
		if sale.Discount, err = decimal.NewFromString(discount); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode sale %s discount: %w", sale.ID, err)
		}
		if sale.AmountPaid, err = decimal.NewFromString(paid); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode sale %s amount paid: %w", sale.ID, err)
		}
		sale.PaymentMethod = domain.PaymentMethod(method)
		if sale.CreatedAt, sale.UpdatedAt, err = parseTimes(createdAt, updatedAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode sale %s timestamps: %w", sale.ID, err)
		}
		snap.Sales = append(snap.Sales, sale)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = s.db.Query(`SELECT id, sale_id, product_id, product_name, quantity, unit_price, total_price, created_at FROM sale_items`)
	if err != nil {
		return fmt.Errorf("select sale items: %w", err)
	}
	for rows.Next() {
		var item domain.SaleItem
		var qty, unitPrice, total, createdAt string
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.ProductName, &qty, &unitPrice, &total, &createdAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan sale item: %w", err)
		}
		if item.Quantity, err = decimal.NewFromString(qty); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode item %s quantity: %w", item.ID, err)
		}
		if item.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode item %s unit price: %w", item.ID, err)
		}
		if item.TotalPrice, err = decimal.NewFromString(total); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode item %s total: %w", item.ID, err)
		}
		if item.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode item %s timestamp: %w", item.ID, err)
		}
		snap.SaleItems = append(snap.SaleItems, item)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = s.db.Query(`SELECT id, sale_id, method, bank_name, amount, reference FROM sale_payments`)
	if err != nil {
		return fmt.Errorf("select sale payments: %w", err)
	}
	for rows.Next() {
		var payment domain.SalePayment
		var method, amount string
		if err := rows.Scan(&payment.ID, &payment.SaleID, &method, &payment.BankName, &amount, &payment.Reference); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan sale payment: %w", err)
		}
		payment.Method = domain.PaymentMethod(method)
		if payment.Amount, err = decimal.NewFromString(amount); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode payment %s amount: %w", payment.ID, err)
		}
		snap.SalePayments = append(snap.SalePayments, payment)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rows, err = s.db.Query(`SELECT id, sale_id, customer_id, amount_owed, due_date, is_paid, created_at, updated_at FROM debtors`)
	if err != nil {
		return fmt.Errorf("select debtors: %w", err)
	}
	for rows.Next() {
		var d domain.Debtor
		var owed, dueDate, createdAt, updatedAt string
		var isPaid int
		if err := rows.Scan(&d.ID, &d.SaleID, &d.CustomerID, &owed, &dueDate, &isPaid, &createdAt, &updatedAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("scan debtor: %w", err)
		}
		if d.AmountOwed, err = decimal.NewFromString(owed); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode debtor %s amount: %w", d.ID, err)
		}
		if d.DueDate, err = time.Parse(time.RFC3339Nano, dueDate); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode debtor %s due date: %w", d.ID, err)
		}
		d.IsPaid = isPaid != 0
		if d.CreatedAt, d.UpdatedAt, err = parseTimes(createdAt, updatedAt); err != nil {
			_ = rows.Close()
			return fmt.Errorf("decode debtor %s timestamps: %w", d.ID, err)
		}
		snap.Debtors = append(snap.Debtors, d)
	}
	if err := rows.Close(); err != nil {
		return err
	}

	s.ImportState(snap)
	return nil
}

func parseTimes(createdAt, updatedAt string) (time.Time, time.Time, error) {
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	updated, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return created, updated, nil
}

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.ExportState()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	for _, table := range []string{"products", "customers", "sales", "sale_items", "sale_payments", "debtors"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			retErr = fmt.Errorf("clear %s: %w", table, err)
			return retErr
		}
	}

	for _, p := range snap.Products {
		if _, err := tx.Exec(
			`INSERT INTO products(id, name, category, description, cost_price, selling_price, quantity_on_hand, reorder_level, created_at, updated_at) VALUES(?,?,?,?,?,?,?,?,?,?)`,
			p.ID, p.Name, p.Category, p.Description,
			p.CostPrice.String(), p.SellingPrice.String(), p.QuantityOnHand.String(), p.ReorderLevel.String(),
			p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano),
		); err != nil {
			retErr = fmt.Errorf("insert product %s: %w", p.ID, err)
			return retErr
		}
	}
	for _, c := range snap.Customers {
		if _, err := tx.Exec(
			`INSERT INTO customers(id, name, phone, email, address, created_at, updated_at) VALUES(?,?,?,?,?,?,?)`,
			c.ID, c.Name, c.Phone, c.Email, c.Address,
			c.CreatedAt.Format(time.RFC3339Nano), c.UpdatedAt.Format(time.RFC3339Nano),
		); err != nil {
			retErr = fmt.Errorf("insert customer %s: %w", c.ID, err)
			return retErr
		}
	}
	for _, sale := range snap.Sales {
		if _, err := tx.Exec(
			`INSERT INTO sales(id, customer_id, customer_name, employee_id, employee_name, total_amount, discount, payment_method, bank_name, amount_paid, created_at, updated_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
			sale.ID, sale.CustomerID, sale.CustomerName, sale.EmployeeID, sale.EmployeeName,
			sale.TotalAmount.String(), sale.Discount.String(), string(sale.PaymentMethod), sale.BankName, sale.AmountPaid.String(),
			sale.CreatedAt.Format(time.RFC3339Nano), sale.UpdatedAt.Format(time.RFC3339Nano),
		); err != nil {
			retErr = fmt.Errorf("insert sale %s: %w", sale.ID, err)
			return retErr
		}
	}
	for _, item := range snap.SaleItems {
		if _, err := tx.Exec(
			`INSERT INTO sale_items(id, sale_id, product_id, product_name, quantity, unit_price, total_price, created_at) VALUES(?,?,?,?,?,?,?,?)`,
			item.ID, item.SaleID, item.ProductID, item.ProductName,
			item.Quantity.String(), item.UnitPrice.String(), item.TotalPrice.String(),
			item.CreatedAt.Format(time.RFC3339Nano),
		); err != nil {
			retErr = fmt.Errorf("insert sale item %s: %w", item.ID, err)
			return retErr
		}
	}
	for _, payment := range snap.SalePayments {
		if _, err := tx.Exec(
			`INSERT INTO sale_payments(id, sale_id, method, bank_name, amount, reference) VALUES(?,?,?,?,?,?)`,
			payment.ID, payment.SaleID, string(payment.Method), payment.BankName, payment.Amount.String(), payment.Reference,
		); err != nil {
			retErr = fmt.Errorf("insert sale payment %s: %w", payment.ID, err)
			return retErr
		}
	}
	for _, d := range snap.Debtors {
		paid := 0
		if d.IsPaid {
			paid = 1
		}
		if _, err := tx.Exec(
			`INSERT INTO debtors(id, sale_id, customer_id, amount_owed, due_date, is_paid, created_at, updated_at) VALUES(?,?,?,?,?,?,?,?)`,
			d.ID, d.SaleID, d.CustomerID, d.AmountOwed.String(),
			d.DueDate.Format(time.RFC3339Nano), paid,
			d.CreatedAt.Format(time.RFC3339Nano), d.UpdatedAt.Format(time.RFC3339Nano),
		); err != nil {
			retErr = fmt.Errorf("insert debtor %s: %w", d.ID, err)
			return retErr
		}
	}

	return tx.Commit()
}

// RunInTransaction applies the provided function within a transaction, then
// snapshots state to SQLite if successful.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if pErr := s.persist(); pErr != nil {
		return res, domain.PersistenceError{Op: "persist sqlite snapshot", Err: pErr}
	}
	return res, nil
}

// EnsureWalkInCustomer guarantees the sentinel walk-in customer exists and is
// durable.
func (s *Store) EnsureWalkInCustomer(ctx context.Context) error {
	if err := s.Store.EnsureWalkInCustomer(ctx); err != nil {
		return err
	}
	if err := s.persist(); err != nil {
		return domain.PersistenceError{Op: "persist sqlite snapshot", Err: err}
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }
