package risk

import (
	"sort"

	"main/internal/schema"
)

// Position is the engine's view of one instrument's holdings.
// Quantity is signed: negative means short.
type Position struct {
	FIGI      string
	Quantity  int64
	AvgPrice  float64
	LastPrice float64
}

// Unrealized returns the position's mark-to-market PnL.
func (p Position) Unrealized() float64 {
	return float64(p.Quantity) * (p.LastPrice - p.AvgPrice)
}

// Notional returns the absolute market value of the position.
func (p Position) Notional() float64 {
	n := float64(p.Quantity) * p.LastPrice
	if n < 0 {
		return -n
	}
	return n
}

// book reduces fills into positions. Positions are derivable by
// replaying the ordered sequence of reconciled fills from session
// start; applyFill is the single mutation path.
type book struct {
	positions map[string]*Position
}

func newBook() *book {
	return &book{positions: make(map[string]*Position)}
}

// applyFill updates the position for a fill and returns the realized
// PnL of any closed quantity along with the cash delta.
func (b *book) applyFill(figi string, side schema.OrderSide, qty int64, price float64) (realized, cashDelta float64) {
	if qty <= 0 {
		return 0, 0
	}
	signed := qty
	if side == schema.OrderSideSell {
		signed = -qty
	}
	cashDelta = -float64(signed) * price

	pos, ok := b.positions[figi]
	if !ok {
		pos = &Position{FIGI: figi}
		b.positions[figi] = pos
	}
	pos.LastPrice = price

	prev := pos.Quantity
	next := prev + signed
	switch {
	case prev == 0 || (prev > 0) == (signed > 0):
		// opening or extending: average in
		total := float64(abs64(prev))*pos.AvgPrice + float64(abs64(signed))*price
		pos.AvgPrice = total / float64(abs64(next))
	case abs64(signed) <= abs64(prev):
		// reducing or flattening: realize on the closed quantity
		closed := abs64(signed)
		if prev > 0 {
			realized = float64(closed) * (price - pos.AvgPrice)
		} else {
			realized = float64(closed) * (pos.AvgPrice - price)
		}
	default:
		// crossing through zero: realize the old side, open the new
		closed := abs64(prev)
		if prev > 0 {
			realized = float64(closed) * (price - pos.AvgPrice)
		} else {
			realized = float64(closed) * (pos.AvgPrice - price)
		}
		pos.AvgPrice = price
	}
	pos.Quantity = next
	if next == 0 {
		delete(b.positions, figi)
	}
	return realized, cashDelta
}

func (b *book) mark(figi string, price float64) {
	if pos, ok := b.positions[figi]; ok {
		pos.LastPrice = price
	}
}

func (b *book) position(figi string) (Position, bool) {
	pos, ok := b.positions[figi]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// grossExposure sums absolute notional across open positions.
func (b *book) grossExposure() float64 {
	total := 0.0
	for _, pos := range b.positions {
		total += pos.Notional()
	}
	return total
}

// marketValue sums signed notional across open positions.
func (b *book) marketValue() float64 {
	total := 0.0
	for _, pos := range b.positions {
		total += float64(pos.Quantity) * pos.LastPrice
	}
	return total
}

func (b *book) classExposure(classOf func(string) schema.AssetClass, class schema.AssetClass) float64 {
	total := 0.0
	for figi, pos := range b.positions {
		if classOf(figi) == class {
			total += pos.Notional()
		}
	}
	return total
}

// snapshot returns copies sorted by FIGI for external readers.
func (b *book) snapshot() []Position {
	out := make([]Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FIGI < out[j].FIGI })
	return out
}

// Replay rebuilds signed position quantities from an ordered sequence
// of reconciled order results. Used to verify the book invariant.
func Replay(results []schema.OrderResult) map[string]int64 {
	b := newBook()
	for _, res := range results {
		if res.FilledQty <= 0 {
			continue
		}
		b.applyFill(res.FIGI, res.Side, res.FilledQty, res.FillPrice)
	}
	out := make(map[string]int64, len(b.positions))
	for figi, pos := range b.positions {
		out[figi] = pos.Quantity
	}
	return out
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
