package core

import (
	"context"
	"fmt"

	"tillcore/pkg/domain"

	"github.com/shopspring/decimal"
)

// NewSaleBalanceRule returns the in-transaction rule checking that every
// sale header's total equals the sum of its item totals.
func NewSaleBalanceRule() domain.Rule {
	return saleBalanceRule{}
}

type saleBalanceRule struct{}

func (saleBalanceRule) Name() string { return "sale_balance" }

func (saleBalanceRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntitySale || change.Action != domain.ActionCreate {
			continue
		}
		sale, ok := change.After.(domain.Sale)
		if !ok {
			continue
		}
		sum := decimal.Zero
		for _, item := range view.ListSaleItems(sale.ID) {
			sum = sum.Add(item.TotalPrice)
		}
		if !sum.Equal(sale.TotalAmount) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "sale_balance",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("sale %s total %s does not match item sum %s", sale.ID, sale.TotalAmount, sum),
				Entity:   domain.EntitySale,
				EntityID: sale.ID,
			})
		}
	}
	return res, nil
}
