package risk

import "sync"

// Ledger tracks the capital shared by all symbol workers. Sizing and
// reservation happen under one lock so two concurrent symbols can never
// over-commit the same funds.
type Ledger struct {
	mu        sync.Mutex
	available float64
}

// NewLedger starts the ledger with the configured capital.
func NewLedger(initial float64) *Ledger {
	if initial < 0 {
		initial = 0
	}
	return &Ledger{available: initial}
}

// Reservation is an amount of capital earmarked for an in-flight order. It
// must end in exactly one Commit or Release.
type Reservation struct {
	ledger  *Ledger
	amount  float64
	settled bool
}

// Available reports the currently unreserved capital.
func (l *Ledger) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

// Deposit returns proceeds to the ledger (e.g. after a sell fill).
func (l *Ledger) Deposit(amount float64) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	l.available += amount
	l.mu.Unlock()
}

// Reserve performs an atomic check-and-decrement of the requested amount.
func (l *Ledger) Reserve(amount float64) (*Reservation, bool) {
	if amount <= 0 {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount > l.available {
		return nil, false
	}
	l.available -= amount
	return &Reservation{ledger: l, amount: amount}, true
}

// ReserveWith sizes and reserves under a single lock acquisition. The size
// callback sees the current available capital and returns the amount to
// earmark; returning 0 or less reserves nothing.
func (l *Ledger) ReserveWith(size func(available float64) float64) (*Reservation, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	amount := size(l.available)
	if amount <= 0 || amount > l.available {
		return nil, false
	}
	l.available -= amount
	return &Reservation{ledger: l, amount: amount}, true
}

// Amount reports the reserved capital.
func (r *Reservation) Amount() float64 { return r.amount }

// Commit consumes the reservation; the capital stays out of the ledger.
func (r *Reservation) Commit() {
	r.ledger.mu.Lock()
	r.settled = true
	r.ledger.mu.Unlock()
}

// Release returns the reserved capital to the ledger. No-op after settlement.
func (r *Reservation) Release() {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	if r.settled {
		return
	}
	r.settled = true
	r.ledger.available += r.amount
}
