package shop

import (
	"math/big"
	"sync"

	"nexuspay/internal/catalog"

	"github.com/ethereum/go-ethereum/common"
)

type State string

const (
	StateIdle            State = "Idle"
	StateConnecting      State = "Connecting"
	StateConnected       State = "Connected"
	StateLoading         State = "Loading"
	StateReady           State = "Ready"
	StateOrdering        State = "Ordering"
	StateAwaitingPayment State = "AwaitingPayment"
	StatePaying          State = "Paying"
	StateError           State = "Error"
)

// Order is the client-side record of a confirmed on-chain order. Name and
// price are copied from the availability read made when ordering.
type Order struct {
	OrderID   *big.Int `json:"orderId"`
	ProductID uint64   `json:"productId"`
	Name      string   `json:"name"`
	Price     string   `json:"price"`
	PriceWei  *big.Int `json:"priceWei"`
	Paid      bool     `json:"paid"`
}

// Snapshot is a read-only copy of the session for presentation.
type Snapshot struct {
	State         State             `json:"state"`
	Account       string            `json:"account,omitempty"`
	Catalog       []catalog.Product `json:"catalog"`
	CurrentOrder  *Order            `json:"currentOrder,omitempty"`
	LastPaidOrder *Order            `json:"lastPaidOrder,omitempty"`
	Busy          bool              `json:"busy"`
	Revision      uint64            `json:"revision"`
}

// Session is the single source of truth for the connected account, the
// catalog and the current order. Only the Coordinator mutates it.
type Session struct {
	mu        sync.RWMutex
	state     State
	account   common.Address
	connected bool
	catalog   []catalog.Product
	order     *Order
	lastPaid  *Order
	busy      bool

	// epoch changes when an account switch invalidates the session.
	epoch    uint64
	revision uint64
	// gate identifies the intent holding busy.
	gate uint64
}

// ticket is held by one intent from begin until finish.
type ticket struct {
	epoch uint64
	gate  uint64
	prev  State
}

func NewSession() *Session {
	return &Session{state: StateIdle}
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		State:    s.state,
		Catalog:  make([]catalog.Product, len(s.catalog)),
		Busy:     s.busy,
		Revision: s.revision,
	}
	copy(snap.Catalog, s.catalog)
	if s.connected {
		snap.Account = s.account.Hex()
	}
	if s.order != nil {
		o := *s.order
		snap.CurrentOrder = &o
	}
	if s.lastPaid != nil {
		o := *s.lastPaid
		snap.LastPaidOrder = &o
	}
	return snap
}

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy
}

// begin takes the busy gate when check passes. An empty to keeps the
// current state.
func (s *Session) begin(check func() error, to State) (ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ticket{}, ErrBusy
	}
	if check != nil {
		if err := check(); err != nil {
			return ticket{}, err
		}
	}
	t := ticket{epoch: s.epoch, prev: s.state}
	s.gate++
	t.gate = s.gate
	s.busy = true
	if to != "" {
		s.state = to
	}
	s.revision++
	return t, nil
}

// step applies a mid-flight update. It reports false when the session was
// invalidated since t was issued.
func (s *Session) step(t ticket, apply func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != t.epoch {
		return false
	}
	apply()
	s.revision++
	return true
}

// finish releases the busy gate. apply only runs when the session still
// belongs to t's epoch; otherwise the result is dropped.
func (s *Session) finish(t ticket, apply func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
	s.revision++
	if s.epoch != t.epoch {
		return ErrSessionInvalidated
	}
	if apply != nil {
		apply()
	}
	s.normalize()
	return nil
}

// abandon releases the gate of an intent that never reached finish. It is
// a no-op once the gate has moved on to another intent.
func (s *Session) abandon(t ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.busy || s.gate != t.gate {
		return
	}
	s.busy = false
	s.revision++
	if s.epoch != t.epoch {
		return
	}
	if s.connected {
		s.state = StateError
		if s.order != nil {
			s.state = StateAwaitingPayment
		}
	} else {
		s.state = StateIdle
	}
}

func (s *Session) normalize() {
	if s.state == StateAwaitingPayment && s.order == nil {
		s.state = StateReady
	}
}

// settle picks the resting state after a catalog load.
func (s *Session) settle(products []catalog.Product, loadErr error) {
	if loadErr == nil {
		s.catalog = products
	}
	switch {
	case s.order != nil:
		s.state = StateAwaitingPayment
	case loadErr != nil:
		s.state = StateError
	default:
		s.state = StateReady
	}
}

func (s *Session) invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.state = StateIdle
	s.account = common.Address{}
	s.connected = false
	s.catalog = nil
	s.order = nil
	s.lastPaid = nil
	s.revision++
}

func (s *Session) isConnected() error {
	if !s.connected {
		return ErrInvalidState
	}
	switch s.state {
	case StateReady, StateConnected, StateAwaitingPayment, StateError:
		return nil
	}
	return ErrInvalidState
}
