// Package domain defines the core retail entities, value types, and
// rule evaluation primitives used by tillcore.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityProduct identifies a catalog product record.
	EntityProduct EntityType = "product"
	// EntityCustomer identifies a customer record.
	EntityCustomer EntityType = "customer"
	// EntitySale identifies a persisted sale header record.
	EntitySale EntityType = "sale"
	// EntitySaleItem identifies a persisted sale line record.
	EntitySaleItem EntityType = "sale_item"
	// EntityDebtor identifies an outstanding-balance record.
	EntityDebtor EntityType = "debtor"
	// EntitySession identifies an in-progress sale session (never persisted).
	EntitySession EntityType = "session"
	// EntityCartLine identifies a line within a session cart (never persisted).
	EntityCartLine EntityType = "cart_line"
)

// WalkInCustomerID is the identifier of the sentinel customer used when no
// customer is explicitly selected at the till.
const WalkInCustomerID = "WALK-IN"

// WalkInCustomerName is the display name of the sentinel customer.
const WalkInCustomerName = "Walk-in Customer"

// SessionStatus represents the lifecycle state of an in-progress sale session.
type SessionStatus string

// Session lifecycle states. Completed is terminal.
const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
)

// PaymentMethod enumerates the supported settlement channels.
type PaymentMethod string

// Supported payment methods.
const (
	PaymentCash     PaymentMethod = "cash"
	PaymentPOS      PaymentMethod = "pos"
	PaymentTransfer PaymentMethod = "transfer"
)

// ValidPaymentMethod reports whether m is one of the closed enumeration.
func ValidPaymentMethod(m PaymentMethod) bool {
	switch m {
	case PaymentCash, PaymentPOS, PaymentTransfer:
		return true
	}
	return false
}

// Product is a catalog item with a tracked stock counter.
type Product struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Category       string          `json:"category,omitempty"`
	Description    string          `json:"description,omitempty"`
	CostPrice      decimal.Decimal `json:"cost_price"`
	SellingPrice   decimal.Decimal `json:"selling_price"`
	QuantityOnHand decimal.Decimal `json:"quantity_on_hand"`
	ReorderLevel   decimal.Decimal `json:"reorder_level"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Customer is a buyer known to the store.
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CartLine is one product entry within a session. The product name, price and
// stock level are denormalized snapshots captured when the line was added;
// StockCeiling is the quantity-on-hand recorded at that moment and bounds all
// later quantity edits.
type CartLine struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	ProductName  string          `json:"product_name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	StockCeiling decimal.Decimal `json:"stock_ceiling"`
	Quantity     decimal.Decimal `json:"quantity"`
}

// Total returns quantity x unit price for the line.
func (l CartLine) Total() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// MinQuantity is the smallest quantity a cart line may hold; a line at zero
// must be removed instead.
var MinQuantity = decimal.NewFromFloat(0.5)

// quantityStep is the granularity of cart quantities.
var quantityStep = decimal.NewFromFloat(0.5)

// ValidQuantity reports whether q is at least MinQuantity and a whole
// multiple of the 0.5 step.
func ValidQuantity(q decimal.Decimal) bool {
	if q.LessThan(MinQuantity) {
		return false
	}
	return q.Mod(quantityStep).IsZero()
}

// Session is one in-progress or paused cart plus its associated customer and
// status. Line order is insertion order and is significant for display.
type Session struct {
	ID        string          `json:"id"`
	Customer  *Customer       `json:"customer,omitempty"`
	Lines     []CartLine      `json:"lines"`
	Status    SessionStatus   `json:"status"`
	Total     decimal.Decimal `json:"total"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Sale is a persisted, completed sale header.
type Sale struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	CustomerName  string          `json:"customer_name,omitempty"`
	EmployeeID    string          `json:"employee_id"`
	EmployeeName  string          `json:"employee_name,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Discount      decimal.Decimal `json:"discount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	BankName      string          `json:"bank_name,omitempty"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// SaleItem is one persisted line of a sale.
type SaleItem struct {
	ID          string          `json:"id"`
	SaleID      string          `json:"sale_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SalePayment is one settlement entry attached to a sale. A sale may be
// settled across several methods.
type SalePayment struct {
	ID        string          `json:"id"`
	SaleID    string          `json:"sale_id"`
	Method    PaymentMethod   `json:"payment_method"`
	BankName  string          `json:"bank_name,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference_number,omitempty"`
}

// Debtor tracks an outstanding balance created by an underpaid sale.
type Debtor struct {
	ID         string          `json:"id"`
	SaleID     string          `json:"sale_id"`
	CustomerID string          `json:"customer_id"`
	AmountOwed decimal.Decimal `json:"amount_owed"`
	DueDate    time.Time       `json:"due_date"`
	IsPaid     bool            `json:"is_paid"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// PaymentRecord is the ephemeral payment capture handed to the checkout
// coordinator. Change may be negative, representing a balance still owed.
type PaymentRecord struct {
	ReceivedAmount decimal.Decimal `json:"received_amount"`
	AmountDue      decimal.Decimal `json:"amount_due"`
	Change         decimal.Decimal `json:"change"`
	Method         PaymentMethod   `json:"payment_method"`
	Account        string          `json:"account,omitempty"`
	Reference      string          `json:"reference_number,omitempty"`
	Notes          string          `json:"notes,omitempty"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}
