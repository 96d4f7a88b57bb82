package core

import "tillcore/pkg/domain"

type (
	EntityType         = domain.EntityType
	SessionStatus      = domain.SessionStatus
	PaymentMethod      = domain.PaymentMethod
	Severity           = domain.Severity
	Product            = domain.Product
	Customer           = domain.Customer
	CartLine           = domain.CartLine
	Session            = domain.Session
	Sale               = domain.Sale
	SaleItem           = domain.SaleItem
	SalePayment        = domain.SalePayment
	Debtor             = domain.Debtor
	PaymentRecord      = domain.PaymentRecord
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
)

const (
	EntityProduct  = domain.EntityProduct
	EntityCustomer = domain.EntityCustomer
	EntitySale     = domain.EntitySale
	EntitySaleItem = domain.EntitySaleItem
	EntityDebtor   = domain.EntityDebtor
)

const (
	SessionActive    = domain.SessionActive
	SessionPaused    = domain.SessionPaused
	SessionCompleted = domain.SessionCompleted
)

const (
	PaymentCash     = domain.PaymentCash
	PaymentPOS      = domain.PaymentPOS
	PaymentTransfer = domain.PaymentTransfer
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
