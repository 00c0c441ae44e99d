package risk

import (
	"math"
	"testing"

	"main/internal/schema"
)

func TestBookFillAccounting(t *testing.T) {
	b := newBook()

	// Open 100 @ 100, extend 100 @ 110: average 105.
	b.applyFill("F", schema.OrderSideBuy, 100, 100)
	b.applyFill("F", schema.OrderSideBuy, 100, 110)
	pos, ok := b.position("F")
	if !ok || pos.Quantity != 200 {
		t.Fatalf("unexpected position %+v", pos)
	}
	if math.Abs(pos.AvgPrice-105) > 1e-9 {
		t.Fatalf("avg price %.4f, want 105", pos.AvgPrice)
	}

	// Reduce 50 @ 120: realize 50 * (120 - 105).
	realized, cashDelta := b.applyFill("F", schema.OrderSideSell, 50, 120)
	if math.Abs(realized-750) > 1e-9 {
		t.Fatalf("realized %.4f, want 750", realized)
	}
	if math.Abs(cashDelta-6000) > 1e-9 {
		t.Fatalf("cash delta %.4f, want 6000", cashDelta)
	}

	// Cross through zero: sell 250 @ 110 closes 150 long, opens 100
	// short at 110.
	realized, _ = b.applyFill("F", schema.OrderSideSell, 250, 110)
	if math.Abs(realized-750) > 1e-9 {
		t.Fatalf("crossing realized %.4f, want 750", realized)
	}
	pos, _ = b.position("F")
	if pos.Quantity != -100 || math.Abs(pos.AvgPrice-110) > 1e-9 {
		t.Fatalf("post-cross position %+v", pos)
	}

	// Flatten the short at 100: realize 100 * (110 - 100).
	realized, _ = b.applyFill("F", schema.OrderSideBuy, 100, 100)
	if math.Abs(realized-1000) > 1e-9 {
		t.Fatalf("short close realized %.4f, want 1000", realized)
	}
	if _, ok := b.position("F"); ok {
		t.Fatal("flat position should be dropped from the book")
	}
}

func TestGrossVsMarketValue(t *testing.T) {
	b := newBook()
	b.applyFill("LONG", schema.OrderSideBuy, 10, 100)
	b.applyFill("SHORT", schema.OrderSideSell, 5, 200)

	if got := b.grossExposure(); math.Abs(got-2000) > 1e-9 {
		t.Fatalf("gross exposure %.2f, want 2000", got)
	}
	if got := b.marketValue(); math.Abs(got-0) > 1e-9 {
		t.Fatalf("market value %.2f, want 0", got)
	}
}
