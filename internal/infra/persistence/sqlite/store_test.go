package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tillcore/pkg/domain"

	"github.com/shopspring/decimal"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "till.db")
	ctx := context.Background()

	s := openTestStore(t, path)
	if err := s.EnsureWalkInCustomer(ctx); err != nil {
		t.Fatalf("ensure walk-in: %v", err)
	}
	var saleID string
	if _, err := s.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateProduct(domain.Product{
			ID:             "P1",
			Name:           "Beans",
			SellingPrice:   decimal.NewFromFloat(99.5),
			QuantityOnHand: decimal.NewFromInt(10),
		}); err != nil {
			return err
		}
		if _, err := tx.CreateCustomer(domain.Customer{ID: "C1", Name: "Ada"}); err != nil {
			return err
		}
		sale, err := tx.CreateSale(
			domain.Sale{
				CustomerID:    "C1",
				TotalAmount:   decimal.NewFromFloat(199),
				AmountPaid:    decimal.NewFromFloat(150),
				PaymentMethod: domain.PaymentCash,
			},
			[]domain.SaleItem{{
				ProductID:  "P1",
				Quantity:   decimal.NewFromInt(2),
				UnitPrice:  decimal.NewFromFloat(99.5),
				TotalPrice: decimal.NewFromFloat(199),
			}},
			[]domain.SalePayment{{Method: domain.PaymentCash, Amount: decimal.NewFromFloat(150)}},
		)
		if err != nil {
			return err
		}
		saleID = sale.ID
		_, err = tx.CreateDebtor(domain.Debtor{
			SaleID:     sale.ID,
			CustomerID: "C1",
			AmountOwed: decimal.NewFromFloat(49),
			DueDate:    time.Now().UTC().Add(7 * 24 * time.Hour),
		})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTestStore(t, path)

	p, ok := reopened.GetProduct("P1")
	if !ok {
		t.Fatalf("product not hydrated")
	}
	if !p.QuantityOnHand.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected stock 8, got %s", p.QuantityOnHand)
	}
	if !p.SellingPrice.Equal(decimal.NewFromFloat(99.5)) {
		t.Fatalf("decimal price drifted: %s", p.SellingPrice)
	}

	sale, ok := reopened.GetSale(saleID)
	if !ok {
		t.Fatalf("sale not hydrated")
	}
	if sale.PaymentMethod != domain.PaymentCash || !sale.TotalAmount.Equal(decimal.NewFromFloat(199)) {
		t.Fatalf("unexpected sale: %+v", sale)
	}
	if got := len(reopened.ListSaleItems(saleID)); got != 1 {
		t.Fatalf("expected 1 item, got %d", got)
	}
	if got := len(reopened.ListSalePayments(saleID)); got != 1 {
		t.Fatalf("expected 1 payment, got %d", got)
	}

	debtors := reopened.ListDebtors()
	if len(debtors) != 1 || debtors[0].IsPaid {
		t.Fatalf("unexpected debtors: %+v", debtors)
	}
	if !debtors[0].AmountOwed.Equal(decimal.NewFromFloat(49)) {
		t.Fatalf("debtor amount drifted: %s", debtors[0].AmountOwed)
	}

	customers := reopened.ListCustomers()
	if len(customers) != 2 {
		t.Fatalf("expected walk-in plus Ada, got %+v", customers)
	}
}

func TestFailedTransactionNotPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "till.db")
	ctx := context.Background()

	s := openTestStore(t, path)
	if _, err := s.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateProduct(domain.Product{ID: "P1", Name: "Beans"}); err != nil {
			return err
		}
		return context.Canceled
	}); err == nil {
		t.Fatalf("expected error propagated")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened := openTestStore(t, path)
	if _, ok := reopened.GetProduct("P1"); ok {
		t.Fatalf("failed transaction reached disk")
	}
}
