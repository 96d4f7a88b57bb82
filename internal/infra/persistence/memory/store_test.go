package memory

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"tillcore/pkg/domain"

	"github.com/shopspring/decimal"
)

func seedBasics(t *testing.T, s *Store) {
	t.Helper()
	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.CreateProduct(Product{
			ID:             "P1",
			Name:           "Beans",
			SellingPrice:   decimal.NewFromInt(100),
			QuantityOnHand: decimal.NewFromInt(10),
		}); err != nil {
			return err
		}
		_, err := tx.CreateCustomer(Customer{ID: "C1", Name: "Ada"})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func saleFixture(total int64) (Sale, []SaleItem, []SalePayment) {
	header := Sale{
		CustomerID:    "C1",
		TotalAmount:   decimal.NewFromInt(total),
		AmountPaid:    decimal.NewFromInt(total),
		PaymentMethod: domain.PaymentCash,
	}
	items := []SaleItem{{
		ProductID:  "P1",
		Quantity:   decimal.NewFromInt(2),
		UnitPrice:  decimal.NewFromInt(total / 2),
		TotalPrice: decimal.NewFromInt(total),
	}}
	payments := []SalePayment{{Method: domain.PaymentCash, Amount: decimal.NewFromInt(total)}}
	return header, items, payments
}

func TestRunInTransactionRollsBackOnError(t *testing.T) {
	s := NewStore(nil)
	seedBasics(t, s)

	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.UpdateProduct("P1", func(p *Product) error {
			p.QuantityOnHand = decimal.NewFromInt(1)
			return nil
		}); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	if err == nil {
		t.Fatalf("expected error propagated")
	}
	p, _ := s.GetProduct("P1")
	if !p.QuantityOnHand.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("failed transaction leaked state: %s", p.QuantityOnHand)
	}
}

func TestCreateSaleIsComposite(t *testing.T) {
	s := NewStore(nil)
	seedBasics(t, s)

	var created Sale
	if _, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		header, items, payments := saleFixture(200)
		var err error
		created, err = tx.CreateSale(header, items, payments)
		return err
	}); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	if created.ID == "" {
		t.Fatalf("expected generated sale id")
	}
	p, _ := s.GetProduct("P1")
	if !p.QuantityOnHand.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected stock decremented to 8, got %s", p.QuantityOnHand)
	}
	items := s.ListSaleItems(created.ID)
	if len(items) != 1 || items[0].SaleID != created.ID {
		t.Fatalf("unexpected items: %+v", items)
	}
	payments := s.ListSalePayments(created.ID)
	if len(payments) != 1 || payments[0].SaleID != created.ID {
		t.Fatalf("unexpected payments: %+v", payments)
	}
}

func TestCreateSaleValidations(t *testing.T) {
	s := NewStore(nil)
	seedBasics(t, s)

	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		header, _, payments := saleFixture(200)
		_, err := tx.CreateSale(header, nil, payments)
		return err
	})
	var validation domain.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for empty items, got %v", err)
	}

	_, err = s.RunInTransaction(context.Background(), func(tx Transaction) error {
		header, items, payments := saleFixture(200)
		header.CustomerID = "ghost"
		_, err := tx.CreateSale(header, items, payments)
		return err
	})
	var notFound domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound for missing customer, got %v", err)
	}

	// Nothing committed by the failed attempts.
	if got := len(s.ListSales()); got != 0 {
		t.Fatalf("expected no sales, got %d", got)
	}
	p, _ := s.GetProduct("P1")
	if !p.QuantityOnHand.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected stock untouched, got %s", p.QuantityOnHand)
	}
}

// blockAll is a rule that vetoes every commit.
type blockAll struct{}

func (blockAll) Name() string { return "block_all" }

func (blockAll) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (Result, error) {
	if len(changes) == 0 {
		return Result{}, nil
	}
	return Result{Violations: []domain.Violation{{
		Rule:     "block_all",
		Severity: domain.SeverityBlock,
		Message:  "vetoed",
	}}}, nil
}

func TestBlockingRuleAbortsCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockAll{})
	s := NewStore(engine)

	_, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		_, err := tx.CreateProduct(Product{ID: "P1", Name: "Beans"})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if _, ok := s.GetProduct("P1"); ok {
		t.Fatalf("blocked transaction must not commit")
	}
}

func TestEnsureWalkInCustomerIdempotent(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.EnsureWalkInCustomer(ctx); err != nil {
			t.Fatalf("ensure walk-in: %v", err)
		}
	}
	customers := s.ListCustomers()
	if len(customers) != 1 {
		t.Fatalf("expected single walk-in customer, got %d", len(customers))
	}
	if customers[0].ID != domain.WalkInCustomerID {
		t.Fatalf("unexpected customer: %+v", customers[0])
	}
}

func TestFindOpenDebtorSkipsPaid(t *testing.T) {
	s := NewStore(nil)
	seedBasics(t, s)
	if _, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		if _, err := tx.CreateDebtor(Debtor{ID: "D1", CustomerID: "C1", AmountOwed: decimal.NewFromInt(50), IsPaid: true}); err != nil {
			return err
		}
		if _, err := tx.CreateDebtor(Debtor{ID: "D2", CustomerID: "C1", AmountOwed: decimal.NewFromInt(70)}); err != nil {
			return err
		}
		return nil
	}); err != nil {
		t.Fatalf("seed debtors: %v", err)
	}

	err := s.View(context.Background(), func(view TransactionView) error {
		d, ok := view.FindOpenDebtor("C1")
		if !ok || d.ID != "D2" {
			t.Fatalf("expected open debtor D2, got %+v (ok=%v)", d, ok)
		}
		if _, ok := view.FindOpenDebtor("C2"); ok {
			t.Fatalf("expected no open debtor for C2")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := NewStore(nil)
	seedBasics(t, s)
	if _, err := s.RunInTransaction(context.Background(), func(tx Transaction) error {
		header, items, payments := saleFixture(200)
		_, err := tx.CreateSale(header, items, payments)
		return err
	}); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	snap := s.ExportState()
	restored := NewStore(nil)
	restored.ImportState(snap)

	if got, want := len(restored.ListProducts()), len(s.ListProducts()); got != want {
		t.Fatalf("products: got %d want %d", got, want)
	}
	if got, want := len(restored.ListSales()), 1; got != want {
		t.Fatalf("sales: got %d want %d", got, want)
	}
	sale := restored.ListSales()[0]
	if got := len(restored.ListSaleItems(sale.ID)); got != 1 {
		t.Fatalf("sale items: got %d want 1", got)
	}
	p, ok := restored.GetProduct("P1")
	if !ok || !p.QuantityOnHand.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected restored stock 8, got %+v", p)
	}
}
