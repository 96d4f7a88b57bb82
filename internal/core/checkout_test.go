package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"tillcore/internal/infra/persistence/memory"
	"tillcore/pkg/domain"

	"github.com/shopspring/decimal"
)

func newCheckoutFixture(t *testing.T, cfg CheckoutConfig) (*Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore(NewDefaultRulesEngine())
	ctx := context.Background()
	if err := store.EnsureWalkInCustomer(ctx); err != nil {
		t.Fatalf("ensure walk-in: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateProduct(testProduct("P1", "Beans", 10)); err != nil {
			return err
		}
		if _, err := tx.CreateProduct(testProduct("P2", "Rice", 4)); err != nil {
			return err
		}
		_, err := tx.CreateCustomer(testCustomer("C1", "Ada"))
		return err
	}); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	return NewService(store, cfg), store
}

func buildCart(t *testing.T, svc *Service, store *memory.Store, productID string, q decimal.Decimal) string {
	t.Helper()
	r := svc.Registry()
	id := r.CurrentID()
	p, ok := store.GetProduct(productID)
	if !ok {
		t.Fatalf("product %s missing", productID)
	}
	if _, err := r.AddProduct(id, p, q); err != nil {
		t.Fatalf("add product: %v", err)
	}
	c, ok := store.GetCustomer("C1")
	if !ok {
		t.Fatalf("customer missing")
	}
	if err := r.SelectCustomer(id, c); err != nil {
		t.Fatalf("select customer: %v", err)
	}
	return id
}

func TestConfirmPaymentHappyPath(t *testing.T) {
	svc, store := newCheckoutFixture(t, CheckoutConfig{EmployeeID: "E1", EmployeeName: "Kofi"})
	ctx := context.Background()
	id := buildCart(t, svc, store, "P1", qty(2))

	if err := svc.Checkout().Submit(id); err != nil {
		t.Fatalf("submit: %v", err)
	}

	invoice, err := svc.Checkout().ConfirmPayment(ctx, id, PaymentRecord{
		ReceivedAmount: decimal.NewFromInt(250),
		Method:         PaymentCash,
	})
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if invoice.SaleID == "" {
		t.Fatalf("expected persisted sale id on invoice")
	}
	if !invoice.Total.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected invoice total 200, got %s", invoice.Total)
	}
	if !invoice.Change.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected change 50, got %s", invoice.Change)
	}

	// Stock decremented atomically with the sale.
	p, _ := store.GetProduct("P1")
	if !p.QuantityOnHand.Equal(qty(8)) {
		t.Fatalf("expected stock 8 after sale, got %s", p.QuantityOnHand)
	}

	sale, ok := store.GetSale(invoice.SaleID)
	if !ok {
		t.Fatalf("sale not persisted")
	}
	if sale.CustomerID != "C1" || sale.EmployeeID != "E1" {
		t.Fatalf("unexpected sale header: %+v", sale)
	}
	items := store.ListSaleItems(sale.ID)
	if len(items) != 1 || !items[0].TotalPrice.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("unexpected sale items: %+v", items)
	}
	payments := store.ListSalePayments(sale.ID)
	if len(payments) != 1 || payments[0].Method != PaymentCash {
		t.Fatalf("unexpected sale payments: %+v", payments)
	}

	// Session completed exactly once; fresh empty current replaces it.
	done, _ := svc.Registry().Get(id)
	if done.Status != SessionCompleted {
		t.Fatalf("expected completed session, got %s", done.Status)
	}
	current, ok := svc.Registry().Current()
	if !ok || current.ID == id || len(current.Lines) != 0 {
		t.Fatalf("expected fresh empty current, got %+v", current)
	}

	var completed CompletedSessionError
	if _, err := svc.Checkout().ConfirmPayment(ctx, id, PaymentRecord{
		ReceivedAmount: decimal.NewFromInt(250),
		Method:         PaymentCash,
	}); !errors.As(err, &completed) {
		t.Fatalf("expected CompletedSessionError on replay, got %v", err)
	}
	if got := len(store.ListSales()); got != 1 {
		t.Fatalf("expected exactly one persisted sale, got %d", got)
	}
}

func TestConfirmPaymentValidations(t *testing.T) {
	svc, store := newCheckoutFixture(t, CheckoutConfig{})
	ctx := context.Background()
	r := svc.Registry()
	id := r.CurrentID()

	var validation domain.ValidationError
	if err := svc.Checkout().Submit(id); !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for no customer, got %v", err)
	}

	c, _ := store.GetCustomer("C1")
	if err := r.SelectCustomer(id, c); err != nil {
		t.Fatalf("select customer: %v", err)
	}
	if err := svc.Checkout().Submit(id); !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for empty cart, got %v", err)
	}

	p, _ := store.GetProduct("P1")
	if _, err := r.AddProduct(id, p, qty(1)); err != nil {
		t.Fatalf("add product: %v", err)
	}
	if err := svc.Checkout().Submit(id); err != nil {
		t.Fatalf("submit on ready session: %v", err)
	}

	if _, err := svc.Checkout().ConfirmPayment(ctx, id, PaymentRecord{
		ReceivedAmount: decimal.NewFromInt(100),
		Method:         PaymentMethod("barter"),
	}); !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for unknown method, got %v", err)
	}
	if _, err := svc.Checkout().ConfirmPayment(ctx, id, PaymentRecord{
		ReceivedAmount: decimal.NewFromInt(-1),
		Method:         PaymentCash,
	}); !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for negative amount, got %v", err)
	}
	if got := len(store.ListSales()); got != 0 {
		t.Fatalf("expected no persisted sales, got %d", got)
	}
}

func TestConfirmPaymentRevalidatesLiveStock(t *testing.T) {
	svc, store := newCheckoutFixture(t, CheckoutConfig{})
	ctx := context.Background()
	id := buildCart(t, svc, store, "P1", qty(2))

	// Another till sells most of the stock after this cart was built.
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.AdjustStock("P1", decimal.NewFromInt(-9))
		return err
	}); err != nil {
		t.Fatalf("drain stock: %v", err)
	}

	var stock domain.InsufficientStockError
	if _, err := svc.Checkout().ConfirmPayment(ctx, id, PaymentRecord{
		ReceivedAmount: decimal.NewFromInt(200),
		Method:         PaymentCash,
	}); !errors.As(err, &stock) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if !stock.Available.Equal(qty(1)) {
		t.Fatalf("expected available 1, got %s", stock.Available)
	}

	// The failed attempt left session and store untouched.
	s, _ := svc.Registry().Get(id)
	if s.Status != SessionActive || len(s.Lines) != 1 {
		t.Fatalf("expected intact active session, got %+v", s)
	}
	if got := len(store.ListSales()); got != 0 {
		t.Fatalf("expected no persisted sales, got %d", got)
	}

	// Restock and retry: one sale, one decrement.
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.AdjustStock("P1", decimal.NewFromInt(9))
		return err
	}); err != nil {
		t.Fatalf("restock: %v", err)
	}
	if _, err := svc.Checkout().ConfirmPayment(ctx, id, PaymentRecord{
		ReceivedAmount: decimal.NewFromInt(200),
		Method:         PaymentCash,
	}); err != nil {
		t.Fatalf("retry confirm: %v", err)
	}
	p, _ := store.GetProduct("P1")
	if !p.QuantityOnHand.Equal(qty(8)) {
		t.Fatalf("expected stock 8 after retry, got %s", p.QuantityOnHand)
	}
	if got := len(store.ListSales()); got != 1 {
		t.Fatalf("expected one persisted sale, got %d", got)
	}
}

func TestConfirmPaymentUnderpaymentRecordsDebt(t *testing.T) {
	svc, store := newCheckoutFixture(t, CheckoutConfig{RecordDebts: true})
	ctx := context.Background()
	id := buildCart(t, svc, store, "P1", qty(3))

	before := time.Now().UTC()
	invoice, err := svc.Checkout().ConfirmPayment(ctx, id, PaymentRecord{
		ReceivedAmount: decimal.NewFromInt(100),
		Method:         PaymentTransfer,
		Account:        "GTB",
	})
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if !invoice.Change.Equal(decimal.NewFromInt(-200)) {
		t.Fatalf("expected negative change -200, got %s", invoice.Change)
	}

	debtors := store.ListDebtors()
	if len(debtors) != 1 {
		t.Fatalf("expected one debtor, got %d", len(debtors))
	}
	d := debtors[0]
	if d.CustomerID != "C1" || !d.AmountOwed.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("unexpected debtor: %+v", d)
	}
	wantDue := before.Add(DefaultDebtDue)
	if d.DueDate.Before(wantDue.Add(-time.Minute)) || d.DueDate.After(wantDue.Add(time.Minute)) {
		t.Fatalf("expected due ~7 days out, got %s", d.DueDate)
	}

	// A second underpaid sale folds into the same open debtor.
	id2 := buildCart(t, svc, store, "P2", qty(1))
	if _, err := svc.Checkout().ConfirmPayment(ctx, id2, PaymentRecord{
		ReceivedAmount: decimal.NewFromInt(40),
		Method:         PaymentCash,
	}); err != nil {
		t.Fatalf("second confirm: %v", err)
	}
	debtors = store.ListDebtors()
	if len(debtors) != 1 {
		t.Fatalf("expected debts merged into one debtor, got %d", len(debtors))
	}
	if !debtors[0].AmountOwed.Equal(decimal.NewFromInt(260)) {
		t.Fatalf("expected owed 260, got %s", debtors[0].AmountOwed)
	}
}

func TestConfirmPaymentUnderpaymentRejectedWhenDisabled(t *testing.T) {
	svc, store := newCheckoutFixture(t, CheckoutConfig{RecordDebts: false})
	ctx := context.Background()
	id := buildCart(t, svc, store, "P1", qty(1))

	var validation domain.ValidationError
	if _, err := svc.Checkout().ConfirmPayment(ctx, id, PaymentRecord{
		ReceivedAmount: decimal.NewFromInt(50),
		Method:         PaymentCash,
	}); !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if got := len(store.ListSales()); got != 0 {
		t.Fatalf("expected no sale persisted, got %d", got)
	}
	s, _ := svc.Registry().Get(id)
	if s.Status != SessionActive {
		t.Fatalf("expected session untouched, got %s", s.Status)
	}
}

// failingStore wraps the memory store to simulate a gateway outage.
type failingStore struct {
	*memory.Store
	fail bool
}

func (f *failingStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	if f.fail {
		return domain.Result{}, fmt.Errorf("disk full")
	}
	return f.Store.RunInTransaction(ctx, fn)
}

func TestConfirmPaymentGatewayFailureLeavesSessionRetryable(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateProduct(testProduct("P1", "Beans", 10)); err != nil {
			return err
		}
		_, err := tx.CreateCustomer(testCustomer("C1", "Ada"))
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	flaky := &failingStore{Store: store, fail: true}
	svc := NewService(flaky, CheckoutConfig{})

	r := svc.Registry()
	id := r.CurrentID()
	p, _ := store.GetProduct("P1")
	if _, err := r.AddProduct(id, p, qty(2)); err != nil {
		t.Fatalf("add: %v", err)
	}
	c, _ := store.GetCustomer("C1")
	if err := r.SelectCustomer(id, c); err != nil {
		t.Fatalf("select: %v", err)
	}

	_, err := svc.Checkout().ConfirmPayment(ctx, id, PaymentRecord{
		ReceivedAmount: decimal.NewFromInt(200),
		Method:         PaymentCash,
	})
	var persistence domain.PersistenceError
	if !errors.As(err, &persistence) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}

	s, _ := r.Get(id)
	if s.Status != SessionActive || len(s.Lines) != 1 {
		t.Fatalf("expected session intact for retry, got %+v", s)
	}
	p, _ = store.GetProduct("P1")
	if !p.QuantityOnHand.Equal(qty(10)) {
		t.Fatalf("expected stock untouched, got %s", p.QuantityOnHand)
	}

	// Gateway recovers; the same session checks out cleanly.
	flaky.fail = false
	if _, err := svc.Checkout().ConfirmPayment(ctx, id, PaymentRecord{
		ReceivedAmount: decimal.NewFromInt(200),
		Method:         PaymentCash,
	}); err != nil {
		t.Fatalf("retry after recovery: %v", err)
	}
	p, _ = store.GetProduct("P1")
	if !p.QuantityOnHand.Equal(qty(8)) {
		t.Fatalf("expected single decrement to 8, got %s", p.QuantityOnHand)
	}
}

// cancellingStore cancels the session mid-transaction, emulating an operator
// cancel racing the gateway call.
type cancellingStore struct {
	*memory.Store
	before func()
}

func (c *cancellingStore) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	if c.before != nil {
		c.before()
	}
	return c.Store.RunInTransaction(ctx, fn)
}

func TestConfirmPaymentCancelledInFlightIsRegistryNoOp(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine())
	ctx := context.Background()
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateProduct(testProduct("P1", "Beans", 10)); err != nil {
			return err
		}
		_, err := tx.CreateCustomer(testCustomer("C1", "Ada"))
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	racing := &cancellingStore{Store: store}
	svc := NewService(racing, CheckoutConfig{})

	r := svc.Registry()
	id := r.CurrentID()
	p, _ := store.GetProduct("P1")
	if _, err := r.AddProduct(id, p, qty(1)); err != nil {
		t.Fatalf("add: %v", err)
	}
	c, _ := store.GetCustomer("C1")
	if err := r.SelectCustomer(id, c); err != nil {
		t.Fatalf("select: %v", err)
	}
	racing.before = func() {
		if err := r.Cancel(id); err != nil {
			t.Errorf("cancel in flight: %v", err)
		}
	}

	invoice, err := svc.Checkout().ConfirmPayment(ctx, id, PaymentRecord{
		ReceivedAmount: decimal.NewFromInt(100),
		Method:         PaymentCash,
	})
	if err != nil {
		t.Fatalf("expected the persisted sale to stand, got %v", err)
	}
	if invoice.SaleID == "" {
		t.Fatalf("expected invoice for persisted sale")
	}
	if _, ok := r.Get(id); ok {
		t.Fatalf("expected cancelled session to stay removed")
	}
	if got := len(store.ListSales()); got != 1 {
		t.Fatalf("expected persisted sale, got %d", got)
	}
}

func TestConfirmPaymentInvoiceSink(t *testing.T) {
	svc, store := newCheckoutFixture(t, CheckoutConfig{})
	ctx := context.Background()
	id := buildCart(t, svc, store, "P1", qty(1))

	var got []Invoice
	svc.SetInvoiceSink(func(inv Invoice) { got = append(got, inv) })

	if _, err := svc.Checkout().ConfirmPayment(ctx, id, PaymentRecord{
		ReceivedAmount: decimal.NewFromInt(100),
		Method:         PaymentPOS,
	}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(got) != 1 || got[0].SaleID == "" {
		t.Fatalf("expected sink to receive the invoice, got %+v", got)
	}
}
