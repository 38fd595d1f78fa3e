// Package session holds the signed-in customer's application state: token,
// profile, cart and the order being followed. A State is created explicitly
// and handed to whatever needs it.
package session

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"meatmarket/protocol"
)

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role,omitempty"`
}

type CartItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type Cart struct {
	Items []CartItem      `json:"items"`
	Total decimal.Decimal `json:"total"`
}

// Subtotal sums the items, for carts returned without a total.
func (c Cart) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range c.Items {
		sum = sum.Add(it.UnitPrice.Mul(it.Quantity))
	}
	return sum
}

// Snapshot is the persisted form of a State.
type Snapshot struct {
	Token        string           `json:"token,omitempty"`
	User         *User            `json:"user,omitempty"`
	Cart         Cart             `json:"cart"`
	CurrentOrder protocol.OrderID `json:"current_order,omitempty"`
}

// Persister stores a session between runs.
type Persister interface {
	LoadSession(ctx context.Context) (Snapshot, error)
	SaveSession(ctx context.Context, s Snapshot) error
	ClearSession(ctx context.Context) error
}

// State is safe for concurrent use.
type State struct {
	mu   sync.RWMutex
	snap Snapshot
	p    Persister
}

// New returns an empty state. p may be nil for an in-memory session.
func New(p Persister) *State {
	return &State{p: p}
}

// Load replaces the in-memory state with the persisted one.
func (s *State) Load(ctx context.Context) error {
	if s.p == nil {
		return nil
	}
	snap, err := s.p.LoadSession(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// Save persists the current state.
func (s *State) Save(ctx context.Context) error {
	if s.p == nil {
		return nil
	}
	return s.p.SaveSession(ctx, s.Snapshot())
}

// Clear drops everything, in memory and in the persister.
func (s *State) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.snap = Snapshot{}
	s.mu.Unlock()
	if s.p == nil {
		return nil
	}
	return s.p.ClearSession(ctx)
}

// Snapshot returns a copy of the state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	snap.Cart.Items = append([]CartItem(nil), s.snap.Cart.Items...)
	if s.snap.User != nil {
		u := *s.snap.User
		snap.User = &u
	}
	return snap
}

func (s *State) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Token
}

// SignedIn reports whether a token is held.
func (s *State) SignedIn() bool { return s.Token() != "" }

// SetAuth records a successful sign-in.
func (s *State) SetAuth(token string, u User) {
	s.mu.Lock()
	s.snap.Token = token
	s.snap.User = &u
	s.mu.Unlock()
}

func (s *State) User() (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap.User == nil {
		return User{}, false
	}
	return *s.snap.User, true
}

func (s *State) Cart() Cart {
	return s.Snapshot().Cart
}

func (s *State) SetCart(c Cart) {
	s.mu.Lock()
	s.snap.Cart = c
	s.mu.Unlock()
}

func (s *State) CurrentOrder() protocol.OrderID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.CurrentOrder
}

func (s *State) SetCurrentOrder(id protocol.OrderID) {
	s.mu.Lock()
	s.snap.CurrentOrder = id
	s.mu.Unlock()
}
