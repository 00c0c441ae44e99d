package instrument

import (
	"context"
	"errors"
	"testing"

	"main/internal/broker"
	"main/internal/schema"
)

func refreshed(t *testing.T) *Directory {
	t.Helper()
	paper := broker.NewPaper(broker.PaperConfig{Seed: 1}, []schema.Instrument{
		{FIGI: "BBG-1", Ticker: "SBER", Class: schema.AssetClassShare, Lot: 10, Tradable: true},
		{FIGI: "BBG-2", Ticker: "GAZP", Class: schema.AssetClassShare, Lot: 10, Tradable: true},
	}, map[string]float64{"BBG-1": 285, "BBG-2": 128})

	d := NewDirectory()
	if err := d.Refresh(context.Background(), paper); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return d
}

func TestResolveCaseInsensitive(t *testing.T) {
	d := refreshed(t)
	for _, ticker := range []string{"SBER", "sber", "Sber"} {
		inst, err := d.Resolve(ticker)
		if err != nil {
			t.Fatalf("Resolve %q: %v", ticker, err)
		}
		if inst.FIGI != "BBG-1" {
			t.Fatalf("Resolve %q returned %s", ticker, inst.FIGI)
		}
	}
}

func TestUnknownInstrument(t *testing.T) {
	d := refreshed(t)
	if _, err := d.Resolve("NOPE"); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("expected ErrUnknownInstrument, got %v", err)
	}
	if _, err := d.ByFIGI("BBG-404"); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("expected ErrUnknownInstrument, got %v", err)
	}
	if _, ok := d.Lookup("BBG-404"); ok {
		t.Fatal("Lookup must miss for unknown figi")
	}
}

func TestRefreshReplacesSnapshot(t *testing.T) {
	d := refreshed(t)
	paper := broker.NewPaper(broker.PaperConfig{Seed: 1}, []schema.Instrument{
		{FIGI: "BBG-3", Ticker: "LKOH", Class: schema.AssetClassShare, Lot: 1, Tradable: true},
	}, map[string]float64{"BBG-3": 7150})
	if err := d.Refresh(context.Background(), paper); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if _, err := d.Resolve("SBER"); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatal("stale entries must not survive refresh")
	}
	if got := d.All(); len(got) != 1 || got[0].FIGI != "BBG-3" {
		t.Fatalf("unexpected snapshot %+v", got)
	}
}
