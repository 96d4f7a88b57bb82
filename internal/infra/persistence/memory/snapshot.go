package memory

import "sort"

// Snapshot is a flattened, serializable copy of the store state. The durable
// backends persist one after each committed transaction and hydrate from one
// on open.
type Snapshot struct {
	Products     []Product     `json:"products"`
	Customers    []Customer    `json:"customers"`
	Sales        []Sale        `json:"sales"`
	SaleItems    []SaleItem    `json:"sale_items"`
	SalePayments []SalePayment `json:"sale_payments"`
	Debtors      []Debtor      `json:"debtors"`
}

// ExportState returns a deterministic snapshot of the committed state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{}
	for _, p := range s.state.products {
		snap.Products = append(snap.Products, p)
	}
	for _, c := range s.state.customers {
		snap.Customers = append(snap.Customers, c)
	}
	for _, sale := range s.state.sales {
		snap.Sales = append(snap.Sales, sale)
	}
	for _, items := range s.state.saleItems {
		snap.SaleItems = append(snap.SaleItems, items...)
	}
	for _, payments := range s.state.salePayments {
		snap.SalePayments = append(snap.SalePayments, payments...)
	}
	for _, d := range s.state.debtors {
		snap.Debtors = append(snap.Debtors, d)
	}

	sort.Slice(snap.Products, func(i, j int) bool { return snap.Products[i].ID < snap.Products[j].ID })
	sort.Slice(snap.Customers, func(i, j int) bool { return snap.Customers[i].ID < snap.Customers[j].ID })
	sort.Slice(snap.Sales, func(i, j int) bool { return snap.Sales[i].ID < snap.Sales[j].ID })
	sort.Slice(snap.SaleItems, func(i, j int) bool {
		if snap.SaleItems[i].SaleID != snap.SaleItems[j].SaleID {
			return snap.SaleItems[i].SaleID < snap.SaleItems[j].SaleID
		}
		return snap.SaleItems[i].ID < snap.SaleItems[j].ID
	})
	sort.Slice(snap.SalePayments, func(i, j int) bool {
		if snap.SalePayments[i].SaleID != snap.SalePayments[j].SaleID {
			return snap.SalePayments[i].SaleID < snap.SalePayments[j].SaleID
		}
		return snap.SalePayments[i].ID < snap.SalePayments[j].ID
	})
	sort.Slice(snap.Debtors, func(i, j int) bool { return snap.Debtors[i].ID < snap.Debtors[j].ID })
	return snap
}

// ImportState replaces the committed state with the snapshot contents.
func (s *Store) ImportState(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := newState()
	for _, p := range snap.Products {
		next.products[p.ID] = p
	}
	for _, c := range snap.Customers {
		next.customers[c.ID] = c
	}
	for _, sale := range snap.Sales {
		next.sales[sale.ID] = sale
	}
	for _, item := range snap.SaleItems {
		next.saleItems[item.SaleID] = append(next.saleItems[item.SaleID], item)
	}
	for _, payment := range snap.SalePayments {
		next.salePayments[payment.SaleID] = append(next.salePayments[payment.SaleID], payment)
	}
	for _, d := range snap.Debtors {
		next.debtors[d.ID] = d
	}
	s.state = next
}
