package core

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"tillcore/pkg/domain"
)

// CompletedSessionError is returned when a caller attempts to mutate or
// cancel a session that has already completed. Completed is terminal.
type CompletedSessionError struct {
	ID string
}

func (e CompletedSessionError) Error() string {
	return fmt.Sprintf("session %s is completed and immutable", e.ID)
}

// SessionRegistry owns the collection of concurrent sale sessions and the
// current-session pointer. All mutation is funneled through its methods under
// a single mutex, so handlers may run concurrently.
type SessionRegistry struct {
	mu        sync.Mutex
	sessions  map[string]*domain.Session
	order     []string
	currentID string
	nowFn     func() time.Time
}

// NewSessionRegistry constructs a registry seeded with one empty active
// session, so a current session is always reachable in steady state.
func NewSessionRegistry() *SessionRegistry {
	r := &SessionRegistry{
		sessions: make(map[string]*domain.Session),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	r.mu.Lock()
	r.spawnLocked()
	r.mu.Unlock()
	return r
}

func newSessionID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return "SALE-" + hex.EncodeToString(b[:])
}

// spawnLocked creates a fresh empty active session, repoints current to it,
// and demotes any other active session to paused. Callers hold r.mu.
func (r *SessionRegistry) spawnLocked() *domain.Session {
	now := r.nowFn()
	s := &domain.Session{
		ID:        newSessionID(),
		Status:    SessionActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.sessions[s.ID] = s
	r.order = append(r.order, s.ID)
	r.setCurrentLocked(s.ID)
	return s
}

// setCurrentLocked repoints current to id, marks the target active, and
// demotes every other active session to paused. Callers hold r.mu and have
// verified id exists.
func (r *SessionRegistry) setCurrentLocked(id string) {
	now := r.nowFn()
	for sid, s := range r.sessions {
		if sid == id {
			continue
		}
		if s.Status == SessionActive {
			s.Status = SessionPaused
			s.UpdatedAt = now
		}
	}
	target := r.sessions[id]
	if target.Status != SessionCompleted {
		target.Status = SessionActive
		target.UpdatedAt = now
	}
	r.currentID = id
}

// NewSession allocates a fresh empty active session and makes it current.
// Any previously active session is demoted to paused, keeping session
// exclusivity a registry-enforced rule rather than a UI convention.
func (r *SessionRegistry) NewSession() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneSession(r.spawnLocked())
}

// Current returns the session referenced by the current pointer.
func (r *SessionRegistry) Current() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[r.currentID]
	if !ok {
		return Session{}, false
	}
	return cloneSession(s), true
}

// CurrentID returns the current-session pointer, empty when unset.
func (r *SessionRegistry) CurrentID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentID
}

// Get returns the session with the given id.
func (r *SessionRegistry) Get(id string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	return cloneSession(s), true
}

// SetCurrent repoints current to id, resuming it: the target becomes active
// regardless of prior status and every other active session is demoted to
// paused. Completed sessions cannot be resumed.
func (r *SessionRegistry) SetCurrent(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntitySession, ID: id}
	}
	if s.Status == SessionCompleted {
		return CompletedSessionError{ID: id}
	}
	r.setCurrentLocked(id)
	return nil
}

// Pause parks the current session and replaces it with a fresh empty active
// one. The session must have at least one cart line and a selected customer;
// otherwise a PauseInvariantError is returned and nothing changes.
func (r *SessionRegistry) Pause() (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[r.currentID]
	if !ok {
		return Session{}, domain.ErrNotFound{Entity: domain.EntitySession, ID: r.currentID}
	}
	if len(s.Lines) == 0 {
		return Session{}, domain.PauseInvariantError{Reason: "cannot pause a sale with no items"}
	}
	if s.Customer == nil {
		return Session{}, domain.PauseInvariantError{Reason: "cannot pause a sale without a customer"}
	}
	s.Status = SessionPaused
	s.UpdatedAt = r.nowFn()
	paused := cloneSession(s)
	r.spawnLocked()
	return paused, nil
}

// Cancel removes the session with id from the collection, discarding its
// cart. If the removed session was current, current repoints to any
// remaining active session, else to empty. Completed sessions are immutable
// and cannot be cancelled.
func (r *SessionRegistry) Cancel(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntitySession, ID: id}
	}
	if s.Status == SessionCompleted {
		return CompletedSessionError{ID: id}
	}
	delete(r.sessions, id)
	r.removeFromOrder(id)
	if r.currentID == id {
		r.currentID = ""
		for _, sid := range r.order {
			if r.sessions[sid].Status == SessionActive {
				r.currentID = sid
				break
			}
		}
	}
	return nil
}

// Complete marks the session with id completed. The transition is terminal
// and happens at most once; a second call reports CompletedSessionError. If
// the completed session was current, a fresh empty active session takes its
// place.
func (r *SessionRegistry) Complete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntitySession, ID: id}
	}
	if s.Status == SessionCompleted {
		return CompletedSessionError{ID: id}
	}
	s.Status = SessionCompleted
	s.UpdatedAt = r.nowFn()
	if r.currentID == id {
		r.spawnLocked()
	}
	return nil
}

// ListPaused returns all paused sessions excluding the current one, in
// creation order. Used to render a resume picker.
func (r *SessionRegistry) ListPaused() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0)
	for _, id := range r.order {
		s := r.sessions[id]
		if id == r.currentID || s.Status != SessionPaused {
			continue
		}
		out = append(out, cloneSession(s))
	}
	return out
}

// List returns every session in creation order.
func (r *SessionRegistry) List() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneSession(r.sessions[id]))
	}
	return out
}

// SelectCustomer attaches a customer to the session with id.
func (r *SessionRegistry) SelectCustomer(id string, customer Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntitySession, ID: id}
	}
	if s.Status == SessionCompleted {
		return CompletedSessionError{ID: id}
	}
	c := customer
	s.Customer = &c
	s.UpdatedAt = r.nowFn()
	return nil
}

func (r *SessionRegistry) removeFromOrder(id string) {
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func cloneSession(s *domain.Session) Session {
	cp := *s
	cp.Lines = append([]CartLine(nil), s.Lines...)
	if s.Customer != nil {
		c := *s.Customer
		cp.Customer = &c
	}
	return cp
}
