package engine

import (
	"sync"

	"github.com/nickollio28/algorithmic-trading-bot/internal/execution"
)

// PositionSide reflects the current exposure for a symbol.
type PositionSide string

const (
	Long PositionSide = "long"
	Flat PositionSide = "flat"
)

// Position is the per-symbol exposure, mutated only after a fill is confirmed.
type Position struct {
	Symbol     string
	Side       PositionSide
	EntryPrice float64
	Size       int
}

// Book tracks positions across symbols. Safe for concurrent workers.
type Book struct {
	mu        sync.Mutex
	positions map[string]Position
}

// NewBook returns an empty position book.
func NewBook() *Book {
	return &Book{positions: make(map[string]Position)}
}

// ApplyFill folds a confirmed fill into the book. Buys average the entry
// price; sells reduce size and flatten at zero.
func (b *Book) ApplyFill(symbol string, side execution.Side, qty int, price float64) {
	if qty <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	pos := b.positions[symbol]
	switch side {
	case execution.Buy:
		newSize := pos.Size + qty
		entry := price
		if pos.Size > 0 {
			entry = (pos.EntryPrice*float64(pos.Size) + price*float64(qty)) / float64(newSize)
		}
		b.positions[symbol] = Position{Symbol: symbol, Side: Long, EntryPrice: entry, Size: newSize}
	case execution.Sell:
		newSize := pos.Size - qty
		if newSize <= 0 {
			delete(b.positions, symbol)
			return
		}
		pos.Size = newSize
		b.positions[symbol] = pos
	}
}

// Position returns the current position for a symbol, Flat when none exists.
func (b *Book) Position(symbol string) Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[symbol]
	if !ok {
		return Position{Symbol: symbol, Side: Flat}
	}
	return pos
}

// Snapshot returns a copy of all open positions.
func (b *Book) Snapshot() map[string]Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]Position, len(b.positions))
	for sym, pos := range b.positions {
		out[sym] = pos
	}
	return out
}
