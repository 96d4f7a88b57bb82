package core

import (
	"crypto/rand"
	"encoding/hex"

	"tillcore/pkg/domain"

	"github.com/shopspring/decimal"
)

// Cart line engine: every mutation below validates fully, then applies, then
// recomputes the owning session's total. Lines are addressed by stable
// generated IDs; positional indices shift on removal and must not be cached.

func newLineID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return "LINE-" + hex.EncodeToString(b[:])
}

// computeTotal is the only writer of Session.Total.
func computeTotal(s *domain.Session) {
	total := decimal.Zero
	for _, l := range s.Lines {
		total = total.Add(l.Total())
	}
	s.Total = total
}

func (r *SessionRegistry) mutableSession(id string) (*domain.Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound{Entity: domain.EntitySession, ID: id}
	}
	if s.Status == SessionCompleted {
		return nil, CompletedSessionError{ID: id}
	}
	return s, nil
}

// AddProduct adds product to the session's cart, merging into an existing
// line for the same product by incrementing its quantity. The committed
// quantity must not exceed the product's quantity-on-hand; violations are
// rejected with InsufficientStockError and the session is left unchanged.
// A zero qty defaults to 1.
func (r *SessionRegistry) AddProduct(sessionID string, product Product, qty decimal.Decimal) (CartLine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.mutableSession(sessionID)
	if err != nil {
		return CartLine{}, err
	}
	if qty.IsZero() {
		qty = decimal.NewFromInt(1)
	}
	if !domain.ValidQuantity(qty) {
		return CartLine{}, domain.ValidationError{Reason: "quantity must be at least 0.5 in steps of 0.5"}
	}
	for i := range s.Lines {
		if s.Lines[i].ProductID != product.ID {
			continue
		}
		merged := s.Lines[i].Quantity.Add(qty)
		if merged.GreaterThan(product.QuantityOnHand) {
			return CartLine{}, domain.InsufficientStockError{
				ProductID:   product.ID,
				ProductName: product.Name,
				Requested:   merged,
				Available:   product.QuantityOnHand,
			}
		}
		s.Lines[i].Quantity = merged
		s.Lines[i].StockCeiling = product.QuantityOnHand
		computeTotal(s)
		s.UpdatedAt = r.nowFn()
		return s.Lines[i], nil
	}
	if qty.GreaterThan(product.QuantityOnHand) {
		return CartLine{}, domain.InsufficientStockError{
			ProductID:   product.ID,
			ProductName: product.Name,
			Requested:   qty,
			Available:   product.QuantityOnHand,
		}
	}
	line := CartLine{
		ID:           newLineID(),
		ProductID:    product.ID,
		ProductName:  product.Name,
		UnitPrice:    product.SellingPrice,
		StockCeiling: product.QuantityOnHand,
		Quantity:     qty,
	}
	s.Lines = append(s.Lines, line)
	computeTotal(s)
	s.UpdatedAt = r.nowFn()
	return line, nil
}

// UpdateQuantity replaces the line's quantity. The new quantity is validated
// against the stock ceiling snapshotted when the line was added; live stock
// is not re-fetched on every edit.
func (r *SessionRegistry) UpdateQuantity(sessionID, lineID string, qty decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.mutableSession(sessionID)
	if err != nil {
		return err
	}
	line := findLine(s, lineID)
	if line == nil {
		return domain.ErrNotFound{Entity: domain.EntityCartLine, ID: lineID}
	}
	if !domain.ValidQuantity(qty) {
		return domain.ValidationError{Reason: "quantity must be at least 0.5 in steps of 0.5"}
	}
	if qty.GreaterThan(line.StockCeiling) {
		return domain.InsufficientStockError{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			Requested:   qty,
			Available:   line.StockCeiling,
		}
	}
	line.Quantity = qty
	computeTotal(s)
	s.UpdatedAt = r.nowFn()
	return nil
}

// UpdatePrice overwrites the line's unit price, allowing manual discounting
// or markup per line. The only floor is zero.
func (r *SessionRegistry) UpdatePrice(sessionID, lineID string, price decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.mutableSession(sessionID)
	if err != nil {
		return err
	}
	line := findLine(s, lineID)
	if line == nil {
		return domain.ErrNotFound{Entity: domain.EntityCartLine, ID: lineID}
	}
	if price.IsNegative() {
		return domain.ValidationError{Reason: "unit price cannot be negative"}
	}
	line.UnitPrice = price
	computeTotal(s)
	s.UpdatedAt = r.nowFn()
	return nil
}

// RemoveLine deletes the line from the session's cart.
func (r *SessionRegistry) RemoveLine(sessionID, lineID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.mutableSession(sessionID)
	if err != nil {
		return err
	}
	for i := range s.Lines {
		if s.Lines[i].ID == lineID {
			s.Lines = append(s.Lines[:i], s.Lines[i+1:]...)
			computeTotal(s)
			s.UpdatedAt = r.nowFn()
			return nil
		}
	}
	return domain.ErrNotFound{Entity: domain.EntityCartLine, ID: lineID}
}

// LineAt returns the line at a display position. Positions shift on removal;
// prefer line IDs for edits.
func (r *SessionRegistry) LineAt(sessionID string, index int) (CartLine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || index < 0 || index >= len(s.Lines) {
		return CartLine{}, false
	}
	return s.Lines[index], true
}

func findLine(s *domain.Session, lineID string) *domain.CartLine {
	for i := range s.Lines {
		if s.Lines[i].ID == lineID {
			return &s.Lines[i]
		}
	}
	return nil
}
