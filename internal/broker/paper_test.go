package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"main/internal/schema"
)

func testPaper() *Paper {
	return NewPaper(PaperConfig{Seed: 7}, []schema.Instrument{
		{FIGI: "BBG-1", Ticker: "AAA", Class: schema.AssetClassShare, Lot: 1, Tradable: true},
	}, map[string]float64{"BBG-1": 100})
}

func TestSubmitOrderIdempotentByToken(t *testing.T) {
	p := testPaper()
	order := schema.Order{FIGI: "BBG-1", Side: schema.OrderSideBuy, Quantity: 10, Type: schema.OrderTypeMarket, Token: "tok"}

	first, err := p.SubmitOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := p.SubmitOrder(context.Background(), order)
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if first.OrderID != second.OrderID {
		t.Fatalf("token resubmission produced a new execution: %s vs %s", first.OrderID, second.OrderID)
	}
	if first.Status != schema.OrderStatusFilled || first.FilledQty != 10 {
		t.Fatalf("unexpected result %+v", first)
	}
}

func TestSubmitOrderUnknownInstrument(t *testing.T) {
	p := testPaper()
	order := schema.Order{FIGI: "BBG-404", Side: schema.OrderSideBuy, Quantity: 1, Token: "tok"}
	if _, err := p.SubmitOrder(context.Background(), order); !errors.Is(err, ErrNotTradable) {
		t.Fatalf("expected ErrNotTradable, got %v", err)
	}
}

func TestGetHistoryDeterministic(t *testing.T) {
	from := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	to := from.Add(5 * time.Minute)

	a, err := testPaper().GetHistory(context.Background(), "BBG-1", schema.IntervalMinute, from, to)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	b, err := testPaper().GetHistory(context.Background(), "BBG-1", schema.IntervalMinute, from, to)
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(a) != 5 || len(b) != 5 {
		t.Fatalf("bar counts %d/%d, want 5", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced different bars at %d: %+v vs %+v", i, a[i], b[i])
		}
	}
	for i := 1; i < len(a); i++ {
		if !a[i].Time.After(a[i-1].Time) {
			t.Fatal("bars must be time-ordered")
		}
	}
}

func TestFlakyFailFirstThenPassThrough(t *testing.T) {
	flaky, err := NewFlaky(testPaper(), FlakyConfig{FailFirst: 2})
	if err != nil {
		t.Fatalf("NewFlaky: %v", err)
	}
	order := schema.Order{FIGI: "BBG-1", Side: schema.OrderSideBuy, Quantity: 1, Token: "tok"}

	for i := 0; i < 2; i++ {
		if _, err := flaky.SubmitOrder(context.Background(), order); !errors.Is(err, ErrTimeout) {
			t.Fatalf("attempt %d: expected ErrTimeout, got %v", i, err)
		}
	}
	if _, err := flaky.SubmitOrder(context.Background(), order); err != nil {
		t.Fatalf("third attempt should pass through: %v", err)
	}
}

func TestFlakyConfigValidate(t *testing.T) {
	if _, err := NewFlaky(testPaper(), FlakyConfig{TimeoutRate: 1.5}); err == nil {
		t.Fatal("timeoutRate above 1 must be rejected")
	}
	if _, err := NewFlaky(testPaper(), FlakyConfig{FailFirst: -1}); err == nil {
		t.Fatal("negative failFirst must be rejected")
	}
}

func TestIsTransient(t *testing.T) {
	for _, err := range []error{ErrTimeout, ErrRateLimited, ErrDisconnected} {
		if !IsTransient(err) {
			t.Fatalf("%v should be transient", err)
		}
	}
	if IsTransient(ErrNotTradable) || IsTransient(ErrOrderNotFound) {
		t.Fatal("permanent failures must not be retried")
	}
}

func TestStreamQuotesPushesWalk(t *testing.T) {
	p := NewPaper(PaperConfig{Seed: 7, TickEvery: 5 * time.Millisecond}, []schema.Instrument{
		{FIGI: "BBG-1", Ticker: "AAA", Class: schema.AssetClassShare, Lot: 1, Tradable: true},
	}, map[string]float64{"BBG-1": 100})

	received := make(chan schema.Quote, 16)
	unsubscribe, err := p.StreamQuotes(context.Background(), []string{"BBG-1"}, func(q schema.Quote) {
		select {
		case received <- q:
		default:
		}
	})
	if err != nil {
		t.Fatalf("StreamQuotes: %v", err)
	}
	defer unsubscribe()

	select {
	case q := <-received:
		if q.FIGI != "BBG-1" || q.Price <= 0 || q.Tier != schema.TierStream {
			t.Fatalf("unexpected pushed quote %+v", q)
		}
	case <-time.After(time.Second):
		t.Fatal("no quote pushed within a second")
	}
}
