package core

import "tillcore/pkg/domain"

// Rule is an evaluation executed within a transaction boundary.
type Rule = domain.Rule

// RulesEngine orchestrates rule evaluation.
type RulesEngine = domain.RulesEngine

// NewRulesEngine constructs an empty engine instance.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(NewStockFloorRule())
	engine.Register(NewSaleBalanceRule())
	return engine
}
