package core

import (
	"context"
	"fmt"

	"tillcore/pkg/domain"
)

// NewStockFloorRule returns the in-transaction rule enforcing that no
// product's quantity-on-hand goes negative. Any transaction that would
// oversell is blocked at commit.
func NewStockFloorRule() domain.Rule {
	return stockFloorRule{}
}

type stockFloorRule struct{}

func (stockFloorRule) Name() string { return "stock_floor" }

func (stockFloorRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, p := range view.ListProducts() {
		if p.QuantityOnHand.IsNegative() {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "stock_floor",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("product %s (%s) stock would go negative: %s on hand", p.Name, p.ID, p.QuantityOnHand),
				Entity:   domain.EntityProduct,
				EntityID: p.ID,
			})
		}
	}
	return res, nil
}
