package core

import (
	"context"
	"errors"
	"time"

	"tillcore/pkg/domain"

	"github.com/shopspring/decimal"
)

// DefaultDebtDue is how long an underpaying customer has to settle the
// outstanding balance.
const DefaultDebtDue = 7 * 24 * time.Hour

// CheckoutConfig carries the operator identity and the underpayment policy.
type CheckoutConfig struct {
	EmployeeID   string
	EmployeeName string
	// RecordDebts allows a sale to complete with receivedAmount below the
	// total; the shortfall is recorded as a debtor row in the same
	// transaction. When false, underpayment is rejected outright.
	RecordDebts bool
	// DebtDueIn is the settlement window for recorded debts. Zero means
	// DefaultDebtDue.
	DebtDueIn time.Duration
}

// InvoiceLine is one printable line of a completed sale.
type InvoiceLine struct {
	ProductName string          `json:"product_name"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Total       decimal.Decimal `json:"total"`
}

// Invoice is the data handed to the receipt renderer after a successful
// checkout. The core's only obligation is to supply it faithfully.
type Invoice struct {
	SaleID       string          `json:"sale_id"`
	SessionID    string          `json:"session_id"`
	CustomerName string          `json:"customer_name"`
	EmployeeName string          `json:"employee_name"`
	Lines        []InvoiceLine   `json:"lines"`
	Total        decimal.Decimal `json:"total"`
	AmountPaid   decimal.Decimal `json:"amount_paid"`
	Change       decimal.Decimal `json:"change"`
	Method       PaymentMethod   `json:"payment_method"`
	Account      string          `json:"account,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	IssuedAt     time.Time       `json:"issued_at"`
}

// CheckoutCoordinator drives a single sale from ready through payment
// capture to persisted-sale creation and stock decrement. Side effects are
// order-guaranteed: the session transitions to completed only after the
// gateway commit succeeds.
type CheckoutCoordinator struct {
	store    domain.PersistentStore
	registry *SessionRegistry
	cfg      CheckoutConfig
	metrics  MetricsRecorder
	sink     InvoiceSink
	nowFn    func() time.Time
}

// InvoiceSink receives each invoice after a successful checkout, e.g. the
// receipt archiver. It must not block.
type InvoiceSink func(Invoice)

// NewCheckoutCoordinator wires a coordinator over the gateway and registry.
func NewCheckoutCoordinator(store domain.PersistentStore, registry *SessionRegistry, cfg CheckoutConfig) *CheckoutCoordinator {
	if cfg.DebtDueIn <= 0 {
		cfg.DebtDueIn = DefaultDebtDue
	}
	return &CheckoutCoordinator{
		store:    store,
		registry: registry,
		cfg:      cfg,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// SetMetrics attaches an optional metrics recorder.
func (c *CheckoutCoordinator) SetMetrics(rec MetricsRecorder) { c.metrics = rec }

// SetInvoiceSink attaches an optional post-checkout invoice consumer.
func (c *CheckoutCoordinator) SetInvoiceSink(sink InvoiceSink) { c.sink = sink }

// Submit validates that the session is ready for payment capture: a selected
// customer and a non-empty cart. The session itself is not mutated.
func (c *CheckoutCoordinator) Submit(sessionID string) error {
	s, ok := c.registry.Get(sessionID)
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntitySession, ID: sessionID}
	}
	return validateReady(s)
}

func validateReady(s Session) error {
	if s.Status == SessionCompleted {
		return CompletedSessionError{ID: s.ID}
	}
	if s.Customer == nil {
		return domain.ValidationError{Reason: "customer required"}
	}
	if len(s.Lines) == 0 {
		return domain.ValidationError{Reason: "empty cart"}
	}
	return nil
}

// ConfirmPayment persists the session as a sale. It re-validates live stock
// inside the gateway transaction immediately before the writes, so a unit
// sold at another till since cart-build time is caught here rather than as a
// blocked commit. On gateway failure the session is untouched and the caller
// may retry; on success the session completes exactly once and a fresh
// active session replaces it as current. If the session was cancelled while
// the gateway call was in flight, the result is dropped as a no-op on the
// registry and the invoice is still returned.
func (c *CheckoutCoordinator) ConfirmPayment(ctx context.Context, sessionID string, payment PaymentRecord) (Invoice, error) {
	started := c.nowFn()
	inv, err := c.confirmPayment(ctx, sessionID, payment)
	c.observe(ctx, "confirm_payment", err == nil, c.nowFn().Sub(started))
	return inv, err
}

func (c *CheckoutCoordinator) confirmPayment(ctx context.Context, sessionID string, payment PaymentRecord) (Invoice, error) {
	s, ok := c.registry.Get(sessionID)
	if !ok {
		return Invoice{}, domain.ErrNotFound{Entity: domain.EntitySession, ID: sessionID}
	}
	if err := validateReady(s); err != nil {
		return Invoice{}, err
	}
	if !domain.ValidPaymentMethod(payment.Method) {
		return Invoice{}, domain.ValidationError{Reason: "unknown payment method"}
	}
	if payment.ReceivedAmount.IsNegative() {
		return Invoice{}, domain.ValidationError{Reason: "received amount cannot be negative"}
	}

	amountDue := s.Total
	change := payment.ReceivedAmount.Sub(amountDue)
	outstanding := amountDue.Sub(payment.ReceivedAmount)
	if outstanding.IsPositive() && !c.cfg.RecordDebts {
		return Invoice{}, domain.ValidationError{Reason: "received amount below total and debt recording is disabled"}
	}

	header := Sale{
		CustomerID:    s.Customer.ID,
		CustomerName:  s.Customer.Name,
		EmployeeID:    c.cfg.EmployeeID,
		EmployeeName:  c.cfg.EmployeeName,
		TotalAmount:   amountDue,
		Discount:      decimal.Zero,
		PaymentMethod: payment.Method,
		BankName:      payment.Account,
		AmountPaid:    payment.ReceivedAmount,
	}
	items := make([]SaleItem, 0, len(s.Lines))
	for _, l := range s.Lines {
		items = append(items, SaleItem{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TotalPrice:  l.Total(),
		})
	}

	var created Sale
	_, err := c.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, l := range s.Lines {
			p, ok := tx.FindProduct(l.ProductID)
			if !ok {
				return domain.ErrNotFound{Entity: domain.EntityProduct, ID: l.ProductID}
			}
			if l.Quantity.GreaterThan(p.QuantityOnHand) {
				return domain.InsufficientStockError{
					ProductID:   p.ID,
					ProductName: p.Name,
					Requested:   l.Quantity,
					Available:   p.QuantityOnHand,
				}
			}
		}
		var err error
		created, err = tx.CreateSale(header, items, []SalePayment{{
			Method:    payment.Method,
			BankName:  payment.Account,
			Amount:    payment.ReceivedAmount,
			Reference: payment.Reference,
		}})
		if err != nil {
			return err
		}
		if outstanding.IsPositive() {
			return c.recordDebt(tx, created, outstanding)
		}
		return nil
	})
	if err != nil {
		return Invoice{}, checkoutError(err)
	}

	if err := c.registry.Complete(sessionID); err != nil {
		// The session was cancelled while the gateway call was in flight;
		// the persisted sale stands and the registry is left untouched.
		var notFound domain.ErrNotFound
		if !errors.As(err, &notFound) {
			return Invoice{}, err
		}
	}

	lines := make([]InvoiceLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, InvoiceLine{
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Total:       it.TotalPrice,
		})
	}
	invoice := Invoice{
		SaleID:       created.ID,
		SessionID:    s.ID,
		CustomerName: s.Customer.Name,
		EmployeeName: c.cfg.EmployeeName,
		Lines:        lines,
		Total:        amountDue,
		AmountPaid:   payment.ReceivedAmount,
		Change:       change,
		Method:       payment.Method,
		Account:      payment.Account,
		Notes:        payment.Notes,
		IssuedAt:     c.nowFn(),
	}
	if c.sink != nil {
		c.sink(invoice)
	}
	return invoice, nil
}

// recordDebt upserts the customer's open debt within the sale transaction,
// extending the due date when the new shortfall pushes it out.
func (c *CheckoutCoordinator) recordDebt(tx domain.Transaction, sale Sale, outstanding decimal.Decimal) error {
	due := c.nowFn().Add(c.cfg.DebtDueIn)
	if existing, ok := tx.FindOpenDebtor(sale.CustomerID); ok {
		_, err := tx.UpdateDebtor(existing.ID, func(d *Debtor) error {
			d.AmountOwed = d.AmountOwed.Add(outstanding)
			if d.DueDate.Before(due) {
				d.DueDate = due
			}
			return nil
		})
		return err
	}
	_, err := tx.CreateDebtor(Debtor{
		SaleID:     sale.ID,
		CustomerID: sale.CustomerID,
		AmountOwed: outstanding,
		DueDate:    due,
	})
	return err
}

// checkoutError passes recoverable domain rejections through unchanged and
// wraps everything else as a gateway failure.
func checkoutError(err error) error {
	var stock domain.InsufficientStockError
	if errors.As(err, &stock) {
		return stock
	}
	var validation domain.ValidationError
	if errors.As(err, &validation) {
		return validation
	}
	var notFound domain.ErrNotFound
	if errors.As(err, &notFound) {
		return notFound
	}
	var violation domain.RuleViolationError
	if errors.As(err, &violation) {
		return violation
	}
	return domain.PersistenceError{Op: "create sale", Err: err}
}

func (c *CheckoutCoordinator) observe(ctx context.Context, op string, success bool, d time.Duration) {
	if c.metrics != nil {
		c.metrics.Observe(ctx, op, success, d)
	}
}
