package core

import (
	"context"
	"fmt"

	"tillcore/pkg/domain"

	"github.com/shopspring/decimal"
)

// NewDebtCeilingRule returns a rule that warns when a customer's open debt
// exceeds cap. The commit is allowed; the violation surfaces in the result
// so the till can prompt the operator.
func NewDebtCeilingRule(cap decimal.Decimal) domain.Rule {
	return debtCeilingRule{cap: cap}
}

type debtCeilingRule struct {
	cap decimal.Decimal
}

func (debtCeilingRule) Name() string { return "debt_ceiling" }

func (r debtCeilingRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	owed := make(map[string]decimal.Decimal)
	for _, d := range view.ListDebtors() {
		if d.IsPaid {
			continue
		}
		owed[d.CustomerID] = owed[d.CustomerID].Add(d.AmountOwed)
	}
	res := domain.Result{}
	for customerID, total := range owed {
		if total.GreaterThan(r.cap) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "debt_ceiling",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("customer %s owes %s, above the %s ceiling", customerID, total, r.cap),
				Entity:   domain.EntityDebtor,
				EntityID: customerID,
			})
		}
	}
	return res, nil
}
